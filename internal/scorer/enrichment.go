// Package scorer computes the confidence and completeness scores of an
// aggregated enrichment record. Every function here is pure.
package scorer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/enrichment-cli/internal/model"
)

// Band is the coarse classification of a confidence score.
type Band string

const (
	BandHigh   Band = "HIGH"
	BandMedium Band = "MEDIUM"
	BandLow    Band = "LOW"
)

// Weights are the points awarded per signal. Identity and financial weights
// together sum to 100.
type Weights struct {
	Name        int
	Industry    int
	Address     int
	CompanyForm int
	Employees   int
	Description int
	Website     int
	Products    int

	// DescriptionMinLen is the length a description needs to earn points.
	DescriptionMinLen int

	OneYear    int // at least one year of figures
	ThreeYears int // at least three years, on top of OneYear
	FiveYears  int // at least five years, on top of ThreeYears

	PerHighRecord int
	MaxHighRecord int

	HighBand   int
	MediumBand int
}

// DefaultWeights returns the standard 60/40 identity/financial split.
func DefaultWeights() Weights {
	return Weights{
		// Identity (sum = 60).
		Name:        10,
		Industry:    10,
		Address:     10,
		CompanyForm: 5,
		Employees:   10,
		Description: 5,
		Website:     5,
		Products:    5,

		DescriptionMinLen: 100,

		// Financial (sum = 40).
		OneYear:       10,
		ThreeYears:    10,
		FiveYears:     5,
		PerHighRecord: 5,
		MaxHighRecord: 15,

		HighBand:   75,
		MediumBand: 50,
	}
}

// Sum returns the maximum attainable score.
func (w Weights) Sum() int {
	return w.Name + w.Industry + w.Address + w.CompanyForm + w.Employees +
		w.Description + w.Website + w.Products +
		w.OneYear + w.ThreeYears + w.FiveYears + w.MaxHighRecord
}

// Validate checks that the weights are internally consistent.
func (w Weights) Validate() error {
	var errs []string
	if w.Sum() != 100 {
		errs = append(errs, fmt.Sprintf("weights sum to %d, want 100", w.Sum()))
	}
	if w.MediumBand <= 0 || w.HighBand <= w.MediumBand || w.HighBand > 100 {
		errs = append(errs, fmt.Sprintf("bands must satisfy 0 < medium (%d) < high (%d) <= 100", w.MediumBand, w.HighBand))
	}
	if w.PerHighRecord < 0 || w.MaxHighRecord < 0 {
		errs = append(errs, "high record weights must be non-negative")
	}
	if len(errs) > 0 {
		return eris.Errorf("scorer: invalid weights: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Result is the outcome of scoring one record.
type Result struct {
	Confidence   int            `json:"confidenceScore"`
	Completeness int            `json:"completenessScore"`
	Band         Band           `json:"band"`
	Components   map[string]int `json:"components"`
}

// Confidence scores identity presence and financial coverage, capped at 100.
func Confidence(w Weights, info *model.BasicInfo, years []model.YearlyFinancialData) (int, map[string]int) {
	comp := map[string]int{}
	if info != nil {
		award := func(name string, ok bool, pts int) {
			if ok {
				comp[name] = pts
			}
		}
		award("name", strings.TrimSpace(info.Name) != "", w.Name)
		award("industry", strings.TrimSpace(info.Industry) != "", w.Industry)
		award("address", strings.TrimSpace(info.Address) != "", w.Address)
		award("companyForm", strings.TrimSpace(info.CompanyForm) != "", w.CompanyForm)
		award("employees", info.Employees != nil, w.Employees)
		award("description", len([]rune(strings.TrimSpace(info.Description))) >= w.DescriptionMinLen, w.Description)
		award("website", strings.TrimSpace(info.Website) != "", w.Website)
		award("products", len(info.Products) > 0, w.Products)
	}

	covered, high := 0, 0
	for _, y := range years {
		if y.Populated() == 0 {
			continue
		}
		covered++
		if y.Confidence == model.ConfidenceHigh {
			high++
		}
	}
	if covered >= 1 {
		comp["years1"] = w.OneYear
	}
	if covered >= 3 {
		comp["years3"] = w.ThreeYears
	}
	if covered >= 5 {
		comp["years5"] = w.FiveYears
	}
	if high > 0 {
		comp["highRecords"] = min(high*w.PerHighRecord, w.MaxHighRecord)
	}

	total := 0
	for _, v := range comp {
		total += v
	}
	return min(total, 100), comp
}

// Completeness is the percentage of modules whose output is non-empty.
func Completeness(modules map[model.ModuleName]json.RawMessage) int {
	if len(modules) == 0 {
		return 0
	}
	filled := 0
	for _, raw := range modules {
		if !IsEmptyOutput(raw) {
			filled++
		}
	}
	return filled * 100 / len(modules)
}

// IsEmptyOutput reports whether a module output carries no information: it
// is absent, null, or made only of empty strings, empty collections, false
// and nulls.
func IsEmptyOutput(raw json.RawMessage) bool {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return true
	}
	return emptyValue(gjson.ParseBytes(raw))
}

func emptyValue(v gjson.Result) bool {
	switch v.Type {
	case gjson.Null, gjson.False:
		return true
	case gjson.String:
		return strings.TrimSpace(v.Str) == ""
	case gjson.JSON:
		empty := true
		v.ForEach(func(_, child gjson.Result) bool {
			if !emptyValue(child) {
				empty = false
				return false
			}
			return true
		})
		return empty
	}
	return false
}

// BandOf classifies a confidence score.
func BandOf(w Weights, score int) Band {
	switch {
	case score >= w.HighBand:
		return BandHigh
	case score >= w.MediumBand:
		return BandMedium
	}
	return BandLow
}

// Score computes both scores for an aggregated record.
func Score(w Weights, info *model.BasicInfo, years []model.YearlyFinancialData, modules map[model.ModuleName]json.RawMessage) Result {
	conf, comp := Confidence(w, info, years)
	return Result{
		Confidence:   conf,
		Completeness: Completeness(modules),
		Band:         BandOf(w, conf),
		Components:   comp,
	}
}
