package model

import "strings"

// Confidence is the HIGH/MEDIUM/LOW trust tier of an extracted value.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// ParseConfidence normalizes a model-declared tier. Unknown values map to "".
func ParseConfidence(s string) Confidence {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH", "H":
		return ConfidenceHigh
	case "MEDIUM", "MED", "M":
		return ConfidenceMedium
	case "LOW", "L":
		return ConfidenceLow
	}
	return ""
}

// Rank orders tiers so that HIGH > MEDIUM > LOW > unknown.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}
