package scrape

import (
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/enrichment-cli/internal/apperr"
)

// Tier ranks where a value came from. Higher wins on merge.
type Tier int

const (
	TierNone Tier = iota
	// TierRegex is a value matched by the label battery over visible text.
	TierRegex
	// TierStructured is a value read from an embedded JSON payload.
	TierStructured
)

// Figure names, in response order.
const (
	FigRevenue            = "revenue"
	FigOperatingProfit    = "operating_profit"
	FigEBITDA             = "ebitda"
	FigProfit             = "profit"
	FigNetResult          = "net_result"
	FigEquity             = "equity"
	FigTotalAssets        = "total_assets"
	FigCurrentAssets      = "current_assets"
	FigCurrentLiabilities = "current_liabilities"
	FigSolidityRatio      = "solidity_ratio"
	FigLiquidityRatio     = "liquidity_ratio"
	FigProfitMargin       = "profit_margin"
)

// Figures lists every financial figure name.
var Figures = []string{
	FigRevenue, FigOperatingProfit, FigEBITDA, FigProfit, FigNetResult, FigEquity,
	FigTotalAssets, FigCurrentAssets, FigCurrentLiabilities,
	FigSolidityRatio, FigLiquidityRatio, FigProfitMargin,
}

// ratioFigures are percentages or plain ratios; unit multipliers never apply.
var ratioFigures = map[string]bool{
	FigSolidityRatio:  true,
	FigLiquidityRatio: true,
	FigProfitMargin:   true,
}

// YearFigures is one fiscal year scraped from a registry page.
type YearFigures struct {
	Year               int              `json:"year"`
	YearEstimated      bool             `json:"year_estimated,omitempty"`
	Revenue            *decimal.Decimal `json:"revenue"`
	OperatingProfit    *decimal.Decimal `json:"operating_profit"`
	EBITDA             *decimal.Decimal `json:"ebitda"`
	Profit             *decimal.Decimal `json:"profit"`
	NetResult          *decimal.Decimal `json:"net_result"`
	Equity             *decimal.Decimal `json:"equity"`
	TotalAssets        *decimal.Decimal `json:"total_assets"`
	CurrentAssets      *decimal.Decimal `json:"current_assets"`
	CurrentLiabilities *decimal.Decimal `json:"current_liabilities"`
	SolidityRatio      *decimal.Decimal `json:"solidity_ratio"`
	LiquidityRatio     *decimal.Decimal `json:"liquidity_ratio"`
	ProfitMargin       *decimal.Decimal `json:"profit_margin"`
	Currency           string           `json:"currency,omitempty"`
	Source             string           `json:"source,omitempty"`
}

func (y *YearFigures) slot(name string) **decimal.Decimal {
	switch name {
	case FigRevenue:
		return &y.Revenue
	case FigOperatingProfit:
		return &y.OperatingProfit
	case FigEBITDA:
		return &y.EBITDA
	case FigProfit:
		return &y.Profit
	case FigNetResult:
		return &y.NetResult
	case FigEquity:
		return &y.Equity
	case FigTotalAssets:
		return &y.TotalAssets
	case FigCurrentAssets:
		return &y.CurrentAssets
	case FigCurrentLiabilities:
		return &y.CurrentLiabilities
	case FigSolidityRatio:
		return &y.SolidityRatio
	case FigLiquidityRatio:
		return &y.LiquidityRatio
	case FigProfitMargin:
		return &y.ProfitMargin
	}
	return nil
}

// Get returns the named figure or nil.
func (y *YearFigures) Get(name string) *decimal.Decimal {
	if s := y.slot(name); s != nil {
		return *s
	}
	return nil
}

// Personnel is the employee count and where it was read.
type Personnel struct {
	Count  int    `json:"count"`
	Source string `json:"source,omitempty"`
}

// Fields is the merged extraction for one company. Each populated value
// remembers the tier it came from so later merges can prefer structured data.
type Fields struct {
	Financials  []YearFigures `json:"financials"`
	Personnel   *Personnel    `json:"personnel,omitempty"`
	Industry    string        `json:"industry,omitempty"`
	Address     string        `json:"address,omitempty"`
	Website     string        `json:"website,omitempty"`
	Currency    string        `json:"currency,omitempty"`
	LastUpdated string        `json:"lastUpdated"`

	tiers map[string]Tier
}

// identity keys tracked in tiers
const (
	keyPersonnel = "personnel"
	keyIndustry  = "industry"
	keyAddress   = "address"
	keyWebsite   = "website"
)

func figureKey(year int, name string) string {
	return "fin/" + strconv.Itoa(year) + "/" + name
}

// TierOf reports the tier of a populated key, TierNone when absent.
func (f *Fields) TierOf(key string) Tier {
	return f.tiers[key]
}

// FigureTier reports the tier of a financial figure for year.
func (f *Fields) FigureTier(year int, name string) Tier {
	return f.tiers[figureKey(year, name)]
}

func (f *Fields) accept(key string, tier Tier) bool {
	if f.tiers == nil {
		f.tiers = make(map[string]Tier)
	}
	if cur, ok := f.tiers[key]; ok && cur >= tier {
		return false
	}
	f.tiers[key] = tier
	return true
}

func (f *Fields) year(y int) (*YearFigures, bool) {
	for i := range f.Financials {
		if f.Financials[i].Year == y {
			return &f.Financials[i], false
		}
	}
	f.Financials = append(f.Financials, YearFigures{Year: y})
	return &f.Financials[len(f.Financials)-1], true
}

// SetFigure stores a figure unless an equal or higher tier already holds it.
func (f *Fields) SetFigure(year int, estimated bool, name string, v decimal.Decimal, tier Tier, source string) bool {
	if !f.accept(figureKey(year, name), tier) {
		return false
	}
	yf, created := f.year(year)
	if s := yf.slot(name); s != nil {
		val := v
		*s = &val
	}
	if yf.Source == "" || tier == TierStructured {
		yf.Source = source
	}
	// a year stays estimated only while nothing has asserted it
	if created {
		yf.YearEstimated = estimated
	} else if !estimated {
		yf.YearEstimated = false
	}
	return true
}

// SetPersonnel stores the employee count.
func (f *Fields) SetPersonnel(count int, tier Tier, source string) bool {
	if !f.accept(keyPersonnel, tier) {
		return false
	}
	f.Personnel = &Personnel{Count: count, Source: source}
	return true
}

// SetText stores one of the identity text fields.
func (f *Fields) SetText(key, value string, tier Tier) bool {
	if value == "" || !f.accept(key, tier) {
		return false
	}
	switch key {
	case keyIndustry:
		f.Industry = value
	case keyAddress:
		f.Address = value
	case keyWebsite:
		f.Website = value
	}
	return true
}

// Merge folds o into f. Per field the higher tier wins; on a tie f keeps
// its value.
func (f *Fields) Merge(o Fields) {
	for _, yf := range o.Financials {
		for _, n := range Figures {
			if v := yf.Get(n); v != nil {
				f.SetFigure(yf.Year, yf.YearEstimated, n, *v, o.tiers[figureKey(yf.Year, n)], yf.Source)
			}
		}
		if yf.Currency != "" {
			if dst, _ := f.year(yf.Year); dst.Currency == "" {
				dst.Currency = yf.Currency
			}
		}
	}
	if o.Personnel != nil {
		f.SetPersonnel(o.Personnel.Count, o.tiers[keyPersonnel], o.Personnel.Source)
	}
	f.SetText(keyIndustry, o.Industry, o.tiers[keyIndustry])
	f.SetText(keyAddress, o.Address, o.tiers[keyAddress])
	f.SetText(keyWebsite, o.Website, o.tiers[keyWebsite])
	if f.Currency == "" {
		f.Currency = o.Currency
	}
	if o.LastUpdated > f.LastUpdated {
		f.LastUpdated = o.LastUpdated
	}
	f.sortYears()
}

func (f *Fields) sortYears() {
	sort.Slice(f.Financials, func(i, j int) bool { return f.Financials[i].Year > f.Financials[j].Year })
}

// Populated counts populated fields: every financial figure of every year,
// the employee count and each identity text field.
func (f *Fields) Populated() int {
	return len(f.tiers)
}

// Missing lists the core fields still absent.
func (f *Fields) Missing() []string {
	var missing []string
	latest := f.Latest()
	for _, n := range []string{FigRevenue, FigOperatingProfit, FigNetResult, FigEquity, FigTotalAssets} {
		if latest == nil || latest.Get(n) == nil {
			missing = append(missing, n)
		}
	}
	if f.Personnel == nil {
		missing = append(missing, keyPersonnel)
	}
	if f.Industry == "" {
		missing = append(missing, keyIndustry)
	}
	if f.Address == "" {
		missing = append(missing, keyAddress)
	}
	return missing
}

// Latest returns the most recent fiscal year or nil.
func (f *Fields) Latest() *YearFigures {
	if len(f.Financials) == 0 {
		return nil
	}
	f.sortYears()
	return &f.Financials[0]
}

// finalize fills per-year currency and stamps LastUpdated.
func (f *Fields) finalize(now time.Time) {
	for i := range f.Financials {
		if f.Financials[i].Currency == "" {
			f.Financials[i].Currency = f.Currency
		}
	}
	if f.LastUpdated == "" {
		f.LastUpdated = now.UTC().Format(time.RFC3339)
	}
	f.sortYears()
}

// Outcome is the tagged result of a fallback-chain lookup. It is one of
// Found, PartialFound, NotFound or TransportError.
type Outcome interface {
	outcome()
}

// Found means a source produced enough populated fields.
type Found struct {
	Fields  Fields
	Sources []string
}

// PartialFound means some fields were found but no single pass was
// sufficient.
type PartialFound struct {
	Fields  Fields
	Missing []string
	Sources []string
}

// NotFound means no source had data, or the identifier was rejected before
// any request. Err carries the validation error in the latter case.
type NotFound struct {
	Reason string
	Err    error
}

// TransportError means every candidate failed at the network level.
type TransportError struct {
	Kind apperr.Kind
	Err  error
}

func (Found) outcome()          {}
func (PartialFound) outcome()   {}
func (NotFound) outcome()       {}
func (TransportError) outcome() {}
