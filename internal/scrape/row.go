package scrape

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/sells-group/enrichment-cli/internal/amount"
)

// maxRowTokens bounds the grouping search on one row.
const maxRowTokens = 24

var (
	// valueSegmentRe reads one run of space-separated digit tokens plus its
	// trailing percent, currency and unit.
	valueSegmentRe = regexp.MustCompile(`(?i)^\s*([-−]?\d[\d.,]*(?:[ \x{00A0}\x{202F}][-−]?\d[\d.,]*)*)\s*%?\s*(?:(?:€|eur|sek|kr)\.?\s*)?(` + unitPattern + `)?`)
	tokenSepRe     = regexp.MustCompile(`[ \x{00A0}\x{202F}]+`)

	leadTokenRe     = regexp.MustCompile(`^[-−]?(?:0|[1-9]\d{0,2})$`)
	groupTokenRe    = regexp.MustCompile(`^\d{3}$`)
	groupEndTokenRe = regexp.MustCompile(`^\d{3}[.,]\d{1,2}$`)

	columnYearRe = regexp.MustCompile(`\b(?:\d{1,2}[./]){0,2}((?:19|20)\d{2})\b`)
	dateRangeRe  = regexp.MustCompile(`\d{1,2}[./]\d{1,2}[./]((?:19|20)\d{2})\s*[-–]\s*\d{1,2}[./]\d{1,2}[./](?:19|20)\d{2}`)
)

type rowValue struct {
	number string
	unit   string
}

type placedValue struct {
	rowValue
	year      int
	estimated bool
}

// columnYears returns the years heading a multi-year table in column order,
// read from the fiscal-year label line. One year is not a table header and
// yields nil. A "01.07.2022 - 30.06.2023" period counts as its start year.
func columnYears(text string, ls labelSet) []int {
	if ls.columns == nil {
		return nil
	}
	m := ls.columns.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	line := dateRangeRe.ReplaceAllString(m[1], "$1")
	var years []int
	seen := make(map[int]bool)
	for _, ym := range columnYearRe.FindAllStringSubmatch(line, -1) {
		y, _ := strconv.Atoi(ym[1])
		if !seen[y] {
			seen[y] = true
			years = append(years, y)
		}
	}
	if len(years) < 2 {
		return nil
	}
	return years
}

// placeRow assigns the values of a matched label row to years. An inline
// year wins for the first value unless a multi-year header lacks it, in
// which case it was a value after all. Under a multi-year header each value
// takes its column's year, counting empty cells between the label and the
// first value. Otherwise the first value takes the page year.
func placeRow(m []string, cols []int, year int, estimated bool) []placedValue {
	gap, tail := m[2], m[5]
	inline := 0
	if m[3] != "" {
		inline, _ = strconv.Atoi(m[3])
		if len(cols) > 1 && !slices.Contains(cols, inline) {
			tail = m[3] + m[4] + tail
			inline = 0
		}
	}
	if inline != 0 || len(cols) < 2 {
		vals := rowValues(tail, 1)
		if len(vals) == 0 || vals[0].number == "" {
			return nil
		}
		if inline != 0 {
			return []placedValue{{rowValue: vals[0], year: inline}}
		}
		return []placedValue{{rowValue: vals[0], year: year, estimated: estimated}}
	}

	col := 0
	if n := strings.Count(gap, "|"); n > 1 {
		col = n - 1
	}
	var out []placedValue
	for _, v := range rowValues(tail, len(cols)-col) {
		if col >= len(cols) {
			break
		}
		if v.number != "" {
			out = append(out, placedValue{rowValue: v, year: cols[col]})
		}
		col++
	}
	return out
}

// rowValues reads the numbers on one row. Cells split by "|" each hold one
// value, and an empty cell keeps its column as a gap. Plain text goes
// through runValues.
func rowValues(tail string, cols int) []rowValue {
	if !strings.Contains(tail, "|") {
		return runValues(tail, cols)
	}
	var out []rowValue
	for _, cell := range strings.Split(tail, "|") {
		if len(out) >= maxRowTokens {
			break
		}
		cell = strings.TrimSpace(cell)
		if cell == "" {
			out = append(out, rowValue{})
			continue
		}
		vals := runValues(cell, 1)
		if len(vals) == 0 {
			break
		}
		out = append(out, vals[0])
	}
	return out
}

// runValues reads numbers from plain text. A lone run of space-grouped
// digits under cols columns is split into cols numbers, but only when
// exactly one grouping fits and the parts share a magnitude; an ambiguous
// run yields nothing.
func runValues(s string, cols int) []rowValue {
	var segs []rowValue
	rest := s
	for len(segs) < maxRowTokens {
		loc := valueSegmentRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		seg := rowValue{number: rest[loc[2]:loc[3]]}
		if loc[4] >= 0 {
			seg.unit = rest[loc[4]:loc[5]]
		}
		segs = append(segs, seg)
		rest = rest[loc[1]:]
	}

	var out []rowValue
	for _, seg := range segs {
		tokens := runTokens(seg.number)
		want := 1
		if len(segs) == 1 && cols > 1 {
			want = cols
		}
		parts, n := splitRun(tokens, want)
		if n == 0 || (n == 1 && !similarMagnitude(parts)) {
			parts, n = smallestSplit(tokens)
		}
		if n != 1 {
			return out
		}
		for _, p := range parts {
			out = append(out, rowValue{number: p, unit: seg.unit})
		}
	}
	return out
}

func runTokens(run string) []string {
	var tokens []string
	for _, t := range tokenSepRe.Split(strings.TrimSpace(run), -1) {
		if t = strings.TrimRight(t, ".,"); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// splitRun partitions tokens into exactly k grouped numbers. It reports how
// many groupings fit, capped at 2, and returns the grouping when it is the
// only one.
func splitRun(tokens []string, k int) ([]string, int) {
	if len(tokens) == 0 || len(tokens) > maxRowTokens || k > len(tokens) {
		return nil, 0
	}
	var found [][]string
	var walk func(i int, acc []string)
	walk = func(i int, acc []string) {
		if len(found) > 1 {
			return
		}
		if i == len(tokens) {
			if len(acc) == k {
				found = append(found, append([]string(nil), acc...))
			}
			return
		}
		if len(acc) == k {
			return
		}
		for _, j := range groupEnds(tokens, i) {
			walk(j, append(acc, strings.Join(tokens[i:j], " ")))
		}
	}
	walk(0, nil)
	if len(found) != 1 {
		return nil, len(found)
	}
	return found[0], 1
}

// similarMagnitude reports whether the integer parts of split values are
// within two digits of each other. "1 400 000" is one figure, not 1 and
// 400 000.
func similarMagnitude(parts []string) bool {
	lo, hi := 0, 0
	for i, p := range parts {
		d, ok := amount.ParseNumber(p)
		if !ok {
			return false
		}
		n := len(d.Abs().Truncate(0).String())
		if i == 0 || n < lo {
			lo = n
		}
		if n > hi {
			hi = n
		}
	}
	return hi-lo <= 2
}

func smallestSplit(tokens []string) ([]string, int) {
	for k := 1; k <= len(tokens) && k <= maxRowTokens; k++ {
		if parts, n := splitRun(tokens, k); n > 0 {
			return parts, n
		}
	}
	return nil, 0
}

// groupEnds lists where a number starting at tokens[i] may end. "1 234 567"
// is a lead of up to three digits followed by three-digit groups; "500000"
// and "45,5" stand alone.
func groupEnds(tokens []string, i int) []int {
	t := tokens[i]
	if !leadTokenRe.MatchString(t) {
		if groupTokenRe.MatchString(t) || groupEndTokenRe.MatchString(t) {
			return nil
		}
		return []int{i + 1}
	}
	ends := []int{i + 1}
	for j := i + 1; j < len(tokens); j++ {
		if groupEndTokenRe.MatchString(tokens[j]) {
			return append(ends, j+1)
		}
		if !groupTokenRe.MatchString(tokens[j]) {
			break
		}
		ends = append(ends, j+1)
	}
	return ends
}
