package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DataQuality describes how trustworthy an identity record is.
type DataQuality struct {
	Verified          bool       `json:"verified"`
	AIGenerated       bool       `json:"aiGenerated"`
	NeedsVerification bool       `json:"needsVerification"`
	Confidence        Confidence `json:"confidence"`
	MissingFields     []string   `json:"missingFields"`
}

// BasicInfo holds company identity fields.
type BasicInfo struct {
	Name             string            `json:"name,omitempty"`
	Industry         string            `json:"industry,omitempty"`
	CompanyForm      string            `json:"companyForm,omitempty"`
	RegistrationDate string            `json:"registrationDate,omitempty"`
	Address          string            `json:"address,omitempty"`
	Website          string            `json:"website,omitempty"`
	Employees        *int              `json:"employees,omitempty"`
	Description      string            `json:"description,omitempty"`
	Products         []string          `json:"products,omitempty"`
	MarketPosition   string            `json:"marketPosition,omitempty"`
	Sources          map[string]string `json:"sources,omitempty"`
	DataQuality      DataQuality       `json:"dataQuality"`
}

// YearlyFinancialData is one fiscal year of key figures. Unique per
// (company, year).
type YearlyFinancialData struct {
	Year             int              `json:"year"`
	YearEstimated    bool             `json:"yearEstimated,omitempty"`
	Revenue          *decimal.Decimal `json:"revenue,omitempty"`
	OperatingProfit  *decimal.Decimal `json:"operatingProfit,omitempty"`
	NetProfit        *decimal.Decimal `json:"netProfit,omitempty"`
	TotalAssets      *decimal.Decimal `json:"totalAssets,omitempty"`
	Equity           *decimal.Decimal `json:"equity,omitempty"`
	TotalLiabilities *decimal.Decimal `json:"totalLiabilities,omitempty"`
	Source           string           `json:"source,omitempty"`
	Confidence       Confidence       `json:"confidence,omitempty"`
}

// Populated counts the non-nil figures.
func (y YearlyFinancialData) Populated() int {
	n := 0
	for _, v := range y.values() {
		if v != nil {
			n++
		}
	}
	return n
}

func (y *YearlyFinancialData) values() []*decimal.Decimal {
	return []*decimal.Decimal{y.Revenue, y.OperatingProfit, y.NetProfit, y.TotalAssets, y.Equity, y.TotalLiabilities}
}

// MergeYearly folds src into dst field by field. When both carry a value the
// higher-confidence record wins; ties keep dst. The merged source and
// confidence follow whichever side contributed the revenue figure, or the
// stronger side otherwise.
func MergeYearly(dst, src YearlyFinancialData) YearlyFinancialData {
	out := dst
	srcWins := src.Confidence.Rank() > dst.Confidence.Rank()
	pick := func(a, b *decimal.Decimal) *decimal.Decimal {
		switch {
		case a == nil:
			return b
		case b == nil:
			return a
		case srcWins:
			return b
		}
		return a
	}
	out.Revenue = pick(dst.Revenue, src.Revenue)
	out.OperatingProfit = pick(dst.OperatingProfit, src.OperatingProfit)
	out.NetProfit = pick(dst.NetProfit, src.NetProfit)
	out.TotalAssets = pick(dst.TotalAssets, src.TotalAssets)
	out.Equity = pick(dst.Equity, src.Equity)
	out.TotalLiabilities = pick(dst.TotalLiabilities, src.TotalLiabilities)
	if srcWins || dst.Source == "" {
		out.Source = src.Source
		out.Confidence = src.Confidence
	}
	out.YearEstimated = dst.YearEstimated && src.YearEstimated
	return out
}

// FinancialData is the output of the financial extraction module.
type FinancialData struct {
	Currency        string                `json:"currency,omitempty"`
	YearlyData      []YearlyFinancialData `json:"yearlyData"`
	Confidence      Confidence            `json:"confidence"`
	FieldConfidence map[string]Confidence `json:"fieldConfidence,omitempty"`
	MissingFields   []string              `json:"missingFields"`
}

// CompanyEnrichedData is the aggregate enrichment record, one row per company.
type CompanyEnrichedData struct {
	CompanyID         string                         `json:"companyId"`
	Modules           map[ModuleName]json.RawMessage `json:"modules"`
	ConfidenceScore   int                            `json:"confidenceScore"`
	CompletenessScore int                            `json:"completenessScore"`
	SourcesUsed       []string                       `json:"sourcesUsed"`
	LastEnrichedAt    time.Time                      `json:"lastEnrichedAt"`
}
