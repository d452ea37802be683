// Package apperr defines the error taxonomy shared by the allocator, forecaster and API layer.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies which constraint or dependency failed.
type Code string

const (
	CodeBedUnavailable      Code = "BED_UNAVAILABLE"
	CodeEquipmentMismatch   Code = "EQUIPMENT_MISMATCH"
	CodeBedNotFound         Code = "BED_NOT_FOUND"
	CodePatientNotFound     Code = "PATIENT_NOT_FOUND"
	CodeAllocationNotFound  Code = "ALLOCATION_NOT_FOUND"
	CodeAlreadyAllocated    Code = "ALREADY_ALLOCATED"
	CodeBedOccupiedConflict Code = "BED_OCCUPIED_CONFLICT"
	CodeDataUnavailable     Code = "DATA_UNAVAILABLE"
	CodeInvalid             Code = "INVALID"
)

// Error is an engine error carrying a user-facing message and an optional remediation hint.
type Error struct {
	Code    Code
	Message string
	Hint    string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the unwrap interface
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err, apperr.ErrBedUnavailable) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrBedUnavailable      = &Error{Code: CodeBedUnavailable}
	ErrEquipmentMismatch   = &Error{Code: CodeEquipmentMismatch}
	ErrBedNotFound         = &Error{Code: CodeBedNotFound}
	ErrPatientNotFound     = &Error{Code: CodePatientNotFound}
	ErrAllocationNotFound  = &Error{Code: CodeAllocationNotFound}
	ErrAlreadyAllocated    = &Error{Code: CodeAlreadyAllocated}
	ErrBedOccupiedConflict = &Error{Code: CodeBedOccupiedConflict}
	ErrDataUnavailable     = &Error{Code: CodeDataUnavailable}
	ErrInvalid             = &Error{Code: CodeInvalid}
)

// New creates an error with the given code and message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithHint returns a copy of e carrying the hint.
func (e *Error) WithHint(format string, args ...any) *Error {
	c := *e
	c.Hint = fmt.Sprintf(format, args...)
	return &c
}

// DataUnavailable wraps a failed read of a forecast or analytics source.
func DataUnavailable(source string, err error) *Error {
	return &Error{Code: CodeDataUnavailable, Message: source + " is unavailable", Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HintOf returns the hint of the first *Error in err's chain.
func HintOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Hint
	}
	return ""
}
