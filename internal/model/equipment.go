package model

import "strings"

// Equipment is a set of specialised bed capabilities.
type Equipment struct {
	Ventilator bool `json:"ventilator"`
	Dialysis   bool `json:"dialysis"`
	ECMO       bool `json:"ecmo"`
}

// Covers reports whether e has every capability in need.
func (e Equipment) Covers(need Equipment) bool {
	return (e.Ventilator || !need.Ventilator) &&
		(e.Dialysis || !need.Dialysis) &&
		(e.ECMO || !need.ECMO)
}

// Count returns the number of capabilities in the set.
func (e Equipment) Count() int {
	n := 0
	for _, has := range []bool{e.Ventilator, e.Dialysis, e.ECMO} {
		if has {
			n++
		}
	}
	return n
}

// Missing lists the capabilities of need that e lacks.
func (e Equipment) Missing(need Equipment) []string {
	var missing []string
	if need.Ventilator && !e.Ventilator {
		missing = append(missing, "ventilator")
	}
	if need.Dialysis && !e.Dialysis {
		missing = append(missing, "dialysis")
	}
	if need.ECMO && !e.ECMO {
		missing = append(missing, "ECMO")
	}
	return missing
}

func (e Equipment) String() string {
	names := Equipment{}.Missing(e)
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "+")
}
