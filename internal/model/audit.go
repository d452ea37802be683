package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLogEntry is an append-only record of an administrative action.
type AuditLogEntry struct {
	ID        int64             `gorm:"primaryKey" json:"id"`
	Timestamp time.Time         `gorm:"not null;index" json:"timestamp"`
	Action    string            `gorm:"size:512;not null" json:"action"`
	Admin     string            `gorm:"size:128;not null" json:"admin"`
	Details   datatypes.JSONMap `json:"details,omitempty"`
}
