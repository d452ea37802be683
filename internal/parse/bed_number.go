package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	seqRe   = regexp.MustCompile(`-\s*(\d+)\s*$`)
	floorRe = regexp.MustCompile(`(?i)(\d+)\s*F?\s*$`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// ParsedBedNumber holds the structured data parsed from a bed number such as "MICU 3-12".
type ParsedBedNumber struct {
	Ward  string
	Floor int
	Seq   int
}

// ParseBedNumber extracts ward, floor and sequence number from a raw bed number.
// floorHint is used when the number itself carries no floor.
func ParseBedNumber(raw string, floorHint string) (ParsedBedNumber, error) {
	// '#' is a separator, not noise: "SICU#2-3" must not glue ward and floor together.
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "#", " ")
	s = strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))

	seq := 0
	if loc := seqRe.FindStringSubmatchIndex(s); loc != nil {
		if n, err := strconv.Atoi(s[loc[2]:loc[3]]); err == nil {
			seq = n
			s = strings.TrimSpace(s[:loc[0]])
		}
	}

	floor := 0
	ward := s
	if loc := floorRe.FindStringSubmatchIndex(s); loc != nil {
		if n, err := strconv.Atoi(s[loc[2]:loc[3]]); err == nil {
			floor = n
			ward = strings.TrimSpace(s[:loc[0]])
		}
	}

	if floor == 0 && floorHint != "" {
		if f, err := strconv.Atoi(floorHint); err == nil {
			floor = f
			tailRe := regexp.MustCompile(`(?i)\s*` + regexp.QuoteMeta(floorHint) + `\s*F?\s*$`)
			ward = strings.TrimSpace(tailRe.ReplaceAllString(ward, ""))
		}
	}

	ward = strings.TrimRight(ward, "- ")
	if ward == "" {
		return ParsedBedNumber{}, fmt.Errorf("unable to parse ward from bed number: %q", raw)
	}
	if floor == 0 {
		return ParsedBedNumber{}, fmt.Errorf("unable to parse floor from bed number: %q", raw)
	}

	return ParsedBedNumber{Ward: ward, Floor: floor, Seq: seq}, nil
}
