package aiextract

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/enrichment-cli/internal/model"
)

type yearAnswer struct {
	Year             sourced `json:"year"`
	Revenue          sourced `json:"revenue"`
	OperatingProfit  sourced `json:"operatingProfit"`
	NetProfit        sourced `json:"netProfit"`
	TotalAssets      sourced `json:"totalAssets"`
	Equity           sourced `json:"equity"`
	TotalLiabilities sourced `json:"totalLiabilities"`
	Unit             string  `json:"unit"`
	Source           string  `json:"source"`
	Confidence       string  `json:"confidence"`
}

type financialAnswer struct {
	Currency   string       `json:"currency"`
	Unit       string       `json:"unit"`
	YearlyData []yearAnswer `json:"yearlyData"`
	Confidence string       `json:"confidence"`
}

// financialFields names the per-year figures in output order.
var financialFields = []string{"revenue", "operatingProfit", "netProfit", "totalAssets", "equity", "totalLiabilities"}

// coreFinancialFields are counted for confidence classification.
var coreFinancialFields = []string{"revenue", "operatingProfit", "netProfit", "totalAssets", "equity"}

func (y *yearAnswer) figures() []sourced {
	return []sourced{y.Revenue, y.OperatingProfit, y.NetProfit, y.TotalAssets, y.Equity, y.TotalLiabilities}
}

// ExtractFinancials asks the grounded model for yearly key figures. Records
// for the same year are merged, and years without any figure are dropped.
func (e *Engine) ExtractFinancials(ctx context.Context, req Request) (*model.FinancialData, []string, error) {
	const what = "financial_data"

	text, cited, err := e.generate(ctx, what, financialPrompt(req), req)
	if err != nil {
		return nil, nil, err
	}

	var ans financialAnswer
	if err := e.parse(ctx, what, financialSchema, text, &ans); err != nil {
		return nil, nil, err
	}

	declared := model.ParseConfidence(ans.Confidence)
	out := &model.FinancialData{
		Currency:        strings.ToUpper(strings.TrimSpace(ans.Currency)),
		FieldConfidence: map[string]model.Confidence{},
	}
	sources := []string{}
	byYear := map[int]model.YearlyFinancialData{}

	for _, ya := range ans.YearlyData {
		year := ya.Year.Year()
		if year == 0 {
			continue
		}
		unit := ya.Unit
		if unit == "" {
			unit = ans.Unit
		}

		conf := model.ParseConfidence(ya.Confidence)
		if conf == "" {
			conf = declared
		}
		rec := model.YearlyFinancialData{
			Year:       year,
			Source:     ya.Source,
			Confidence: conf,
		}
		vals := make([]*decimal.Decimal, len(financialFields))
		for i, f := range ya.figures() {
			vals[i] = f.Amount(unit)
			if vals[i] == nil {
				continue
			}
			if f.Confidence != "" {
				out.FieldConfidence[fmt.Sprintf("%d.%s", year, financialFields[i])] = f.Confidence
			}
			if rec.Source == "" {
				rec.Source = f.Source
			}
			sources = appendUnique(sources, f.Source)
		}
		rec.Revenue, rec.OperatingProfit, rec.NetProfit = vals[0], vals[1], vals[2]
		rec.TotalAssets, rec.Equity, rec.TotalLiabilities = vals[3], vals[4], vals[5]
		if rec.Populated() == 0 {
			continue
		}
		sources = appendUnique(sources, ya.Source)

		if prev, ok := byYear[year]; ok {
			rec = model.MergeYearly(prev, rec)
		}
		byYear[year] = rec
	}

	for _, rec := range byYear {
		out.YearlyData = append(out.YearlyData, rec)
	}
	sort.Slice(out.YearlyData, func(i, j int) bool { return out.YearlyData[i].Year > out.YearlyData[j].Year })

	out.MissingFields = missingFinancial(out.YearlyData)
	missingCore := 0
	for _, f := range out.MissingFields {
		for _, c := range coreFinancialFields {
			if f == c {
				missingCore++
			}
		}
	}
	out.Confidence = Classify(declared, missingCore)
	return out, appendUnique(sources, cited...), nil
}

// missingFinancial lists figures absent from every year, plus "yearlyData"
// when no year was found at all.
func missingFinancial(years []model.YearlyFinancialData) []string {
	missing := []string{}
	if len(years) == 0 {
		missing = append(missing, "yearlyData")
	}
	for _, f := range financialFields {
		found := false
		for _, y := range years {
			if figureByName(y, f) != nil {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, f)
		}
	}
	return missing
}

func figureByName(y model.YearlyFinancialData, name string) *decimal.Decimal {
	switch name {
	case "revenue":
		return y.Revenue
	case "operatingProfit":
		return y.OperatingProfit
	case "netProfit":
		return y.NetProfit
	case "totalAssets":
		return y.TotalAssets
	case "equity":
		return y.Equity
	case "totalLiabilities":
		return y.TotalLiabilities
	}
	return nil
}
