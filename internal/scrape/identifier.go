package scrape

import (
	"regexp"
	"strings"

	"github.com/sells-group/enrichment-cli/internal/apperr"
)

// Locale selects a registry market and its source chain.
type Locale string

const (
	// LocaleFI is Finland: business ID (Y-tunnus) NNNNNNN-N.
	LocaleFI Locale = "fi"
	// LocaleSE is Sweden: organisation number NNNNNN-NNNN or NNNNNNNNNN.
	LocaleSE Locale = "se"
)

// Locales lists every supported locale.
var Locales = []Locale{LocaleFI, LocaleSE}

var (
	fiIDRe = regexp.MustCompile(`^\d{7}-\d$`)
	seIDRe = regexp.MustCompile(`^\d{6}-?\d{4}$`)
)

// ParseLocale maps a path or config value to a Locale.
func ParseLocale(s string) (Locale, bool) {
	switch Locale(strings.ToLower(strings.TrimSpace(s))) {
	case LocaleFI:
		return LocaleFI, true
	case LocaleSE:
		return LocaleSE, true
	}
	return "", false
}

// Identifier is a validated registry identifier.
type Identifier struct {
	Locale Locale
	// Canonical is the hyphenated display form.
	Canonical string
	// Compact has separators removed.
	Compact string
}

// ValidateIdentifier checks id against the strict format for locale. Only the
// shape is checked; a well-formed id that does not exist is the registry's
// problem, answered by NotFound.
func ValidateIdentifier(locale Locale, id string) (Identifier, error) {
	trimmed := strings.TrimSpace(id)
	switch locale {
	case LocaleFI:
		if fiIDRe.MatchString(trimmed) {
			return Identifier{Locale: locale, Canonical: trimmed, Compact: strings.ReplaceAll(trimmed, "-", "")}, nil
		}
		return Identifier{}, &apperr.ValidationError{Field: "businessId", Value: id, Reason: "expected NNNNNNN-N"}
	case LocaleSE:
		if seIDRe.MatchString(trimmed) {
			compact := strings.ReplaceAll(trimmed, "-", "")
			return Identifier{Locale: locale, Canonical: compact[:6] + "-" + compact[6:], Compact: compact}, nil
		}
		return Identifier{}, &apperr.ValidationError{Field: "orgNumber", Value: id, Reason: "expected NNNNNN-NNNN or NNNNNNNNNN"}
	}
	return Identifier{}, &apperr.ValidationError{Field: "locale", Value: string(locale), Reason: "unsupported locale"}
}

// InferLocale guesses the locale from the identifier shape.
func InferLocale(id string) (Locale, bool) {
	trimmed := strings.TrimSpace(id)
	switch {
	case fiIDRe.MatchString(trimmed):
		return LocaleFI, true
	case seIDRe.MatchString(trimmed):
		return LocaleSE, true
	}
	return "", false
}
