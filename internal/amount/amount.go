// Package amount normalizes monetary and count quantities scraped from
// third-party pages or returned by language models ("224 thousand",
// "2,5 milj. €", "1 234 tkr") into exact decimal strings.
package amount

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var (
	thousand = decimal.New(1, 3)
	million  = decimal.New(1, 6)
	billion  = decimal.New(1, 9)
)

// unitWords maps lowercase unit annotations to their multiplier. Longer keys
// are matched first, see unitKeys.
var unitWords = map[string]decimal.Decimal{
	"thousands": thousand, "thousand": thousand, "tuhatta": thousand, "tuhat": thousand,
	"tusen": thousand, "teur": thousand, "keur": thousand, "tkr": thousand,
	"ksek": thousand, "tsek": thousand, "t€": thousand, "k€": thousand, "1000": thousand,
	"1000000": million, "1000000000": billion,
	"millions": million, "million": million, "miljoonaa": million, "miljoner": million,
	"miljon": million, "milj": million, "meur": million, "mkr": million, "msek": million,
	"m€": million, "mn": million, "mio": million,
	"billions": billion, "billion": billion, "miljardia": billion, "miljarder": billion,
	"mrd": billion, "bn": billion,
}

var unitKeys = sortedUnitKeys()

func sortedUnitKeys() []string {
	keys := make([]string, 0, len(unitWords))
	for k := range unitWords {
		keys = append(keys, k)
	}
	// insertion sort by length desc; the table is small
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && len(keys[j]) > len(keys[j-1]); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

var numberRe = regexp.MustCompile(`[-−–]?\d[\d \x{00A0}\x{202F}.,']*`)

// Multiplier returns the scale factor for a unit annotation such as
// "thousands", "tkr" or "MEUR". Single-letter "k"/"t"/"m" are accepted only
// as whole words.
func Multiplier(unit string) (decimal.Decimal, bool) {
	u := strings.ToLower(strings.TrimSpace(unit))
	u = strings.Trim(u, ".()[]")
	if u == "" {
		return decimal.Decimal{}, false
	}
	switch u {
	case "k", "t":
		return thousand, true
	case "m":
		return million, true
	}
	if m, ok := unitWords[u]; ok {
		return m, true
	}
	for _, k := range unitKeys {
		if strings.HasPrefix(u, k) {
			return unitWords[k], true
		}
	}
	return decimal.Decimal{}, false
}

// ParseNumber parses a bare number with any common grouping and decimal
// separator convention: "1 234 567", "1.234.567", "1,234,567", "2,5", "2.5".
func ParseNumber(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	neg := false
	if r, size := utf8.DecodeRuneInString(s); r == '-' || r == '−' || r == '–' {
		neg = true
		s = s[size:]
	}
	s = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "'", "").Replace(s)
	s = strings.TrimRight(s, ".,")
	if s == "" {
		return decimal.Decimal{}, false
	}

	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")
	switch {
	case dots > 0 && commas > 0:
		// the later separator is the decimal mark
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case commas > 1:
		s = strings.ReplaceAll(s, ",", "")
	case commas == 1:
		if groupedThousands(s, ",") {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case dots > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if neg {
		d = d.Neg()
	}
	return d, true
}

// groupedThousands reports whether a single separator is followed by exactly
// three digits and preceded by one to three digits ("1,234").
func groupedThousands(s, sep string) bool {
	i := strings.Index(s, sep)
	return len(s)-i-1 == 3 && i >= 1 && i <= 3
}

// Parse extracts the first number in text and applies a unit annotation that
// follows it ("224 thousand", "2.5 million €", "1 234 tkr").
func Parse(text string) (decimal.Decimal, bool) {
	d, _, ok := ParseScaled(text)
	return d, ok
}

// ParseScaled is Parse that also reports whether a unit annotation was found
// and applied, so callers know not to apply a default unit on top.
func ParseScaled(text string) (d decimal.Decimal, scaled, ok bool) {
	loc := numberRe.FindStringIndex(text)
	if loc == nil {
		return decimal.Decimal{}, false, false
	}
	d, ok = ParseNumber(text[loc[0]:loc[1]])
	if !ok {
		return decimal.Decimal{}, false, false
	}
	if m, found := trailingUnit(text[loc[1]:]); found {
		return d.Mul(m), true, true
	}
	return d, false, true
}

// Scale applies a declared unit to an already-parsed value. Unknown units
// leave the value unchanged.
func Scale(d decimal.Decimal, unit string) decimal.Decimal {
	if m, ok := Multiplier(unit); ok {
		return d.Mul(m)
	}
	return d
}

// Normalize parses text and renders the canonical decimal string, e.g.
// "224 thousand" -> "224000".
func Normalize(text string) (string, bool) {
	d, ok := Parse(text)
	if !ok {
		return "", false
	}
	return Format(d), true
}

// Format renders d without exponent or trailing fractional zeros.
func Format(d decimal.Decimal) string {
	return d.String()
}

func trailingUnit(rest string) (decimal.Decimal, bool) {
	rest = strings.TrimLeft(rest, " \u00a0\u202f")
	if rest == "" {
		return decimal.Decimal{}, false
	}
	fields := strings.FieldsFunc(strings.ToLower(rest), func(r rune) bool {
		return r == ' ' || r == '\u00a0' || r == '\n' || r == '\t'
	})
	if len(fields) == 0 {
		return decimal.Decimal{}, false
	}
	word := strings.TrimRight(fields[0], ".,;:)")
	if word == "€" || word == "eur" || word == "sek" || word == "kr" {
		if len(fields) > 1 {
			return Multiplier(strings.TrimRight(fields[1], ".,;:)"))
		}
		return decimal.Decimal{}, false
	}
	return Multiplier(word)
}

// DetectCurrency returns an ISO code for the first currency marker in text.
func DetectCurrency(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "€") || strings.Contains(lower, "eur"):
		return "EUR"
	case strings.Contains(lower, "sek") || strings.Contains(lower, "tkr") ||
		strings.Contains(lower, "mkr") || strings.Contains(lower, " kr"):
		return "SEK"
	case strings.Contains(lower, "usd") || strings.Contains(lower, "$"):
		return "USD"
	}
	return ""
}
