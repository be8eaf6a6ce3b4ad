package orchestrator

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/enrichment-cli/internal/aiextract"
	"github.com/sells-group/enrichment-cli/internal/model"
	"github.com/sells-group/enrichment-cli/internal/scrape"
)

// Extractor is the AI extraction engine as seen by the orchestrator.
type Extractor interface {
	ExtractBasicInfo(ctx context.Context, req aiextract.Request) (*model.BasicInfo, []string, error)
	ExtractFinancials(ctx context.Context, req aiextract.Request) (*model.FinancialData, []string, error)
	Analyze(ctx context.Context, module model.ModuleName, req aiextract.Request) (json.RawMessage, []string, error)
}

// Registry runs the scrape fallback chain.
type Registry interface {
	Lookup(ctx context.Context, req scrape.Request) (scrape.Outcome, error)
}

// RegistryResult is the output of the registry_financials module.
type RegistryResult struct {
	YearlyData    []model.YearlyFinancialData `json:"yearlyData"`
	Fields        *scrape.Fields              `json:"fields,omitempty"`
	Partial       bool                        `json:"partial,omitempty"`
	MissingFields []string                    `json:"missingFields,omitempty"`
	Sources       []string                    `json:"sources"`
}

// moduleResult is what a module checkpoint stores.
type moduleResult struct {
	Output  json.RawMessage `json:"output"`
	Sources []string        `json:"sources,omitempty"`
}

// emptyOutput is the typed default stored for a failed non-mandatory module.
func emptyOutput(m model.ModuleName) json.RawMessage {
	var v any
	switch m {
	case model.ModuleRegistryFinancials:
		v = RegistryResult{YearlyData: []model.YearlyFinancialData{}, Sources: []string{}}
	default:
		v = aiextract.Analysis{Points: []aiextract.AnalysisPoint{}, Sources: []string{}}
	}
	raw, _ := json.Marshal(v)
	return raw
}

func (o *Orchestrator) locale(job *model.EnrichmentJob) (scrape.Locale, bool) {
	if l, ok := scrape.ParseLocale(job.Config.Locale); ok {
		return l, true
	}
	return scrape.InferLocale(job.BusinessID)
}

func (o *Orchestrator) aiRequest(job *model.EnrichmentJob) aiextract.Request {
	return aiextract.Request{
		BusinessID:  job.BusinessID,
		CompanyName: job.CompanyName,
		DomainHint:  job.Config.DomainHint,
	}
}

// invoke runs one module and returns its output.
func (o *Orchestrator) invoke(ctx context.Context, job *model.EnrichmentJob, m model.ModuleName) (moduleResult, error) {
	req := o.aiRequest(job)

	var (
		v       any
		sources []string
		err     error
	)
	switch m {
	case model.ModuleBasicInfo:
		v, sources, err = o.ai.ExtractBasicInfo(ctx, req)
	case model.ModuleFinancialData:
		if l, ok := o.locale(job); ok && o.catalog != nil {
			req.SearchDomains = o.catalog.Domains(l)
		}
		v, sources, err = o.ai.ExtractFinancials(ctx, req)
	case model.ModuleRegistryFinancials:
		var res RegistryResult
		res, err = o.lookupRegistry(ctx, job)
		v, sources = res, res.Sources
	default:
		var raw json.RawMessage
		raw, sources, err = o.ai.Analyze(ctx, m, req)
		v = raw
	}
	if err != nil {
		return moduleResult{}, err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return moduleResult{}, eris.Wrapf(err, "orchestrator: marshal %s", m)
	}
	return moduleResult{Output: raw, Sources: sources}, nil
}

func (o *Orchestrator) lookupRegistry(ctx context.Context, job *model.EnrichmentJob) (RegistryResult, error) {
	empty := RegistryResult{YearlyData: []model.YearlyFinancialData{}, Sources: []string{}}
	locale, ok := o.locale(job)
	if !ok || o.registry == nil {
		return empty, nil
	}

	out, err := o.registry.Lookup(ctx, scrape.Request{
		Locale:      locale,
		BusinessID:  job.BusinessID,
		CompanyName: job.CompanyName,
	})
	if err != nil {
		return empty, eris.Wrap(err, "orchestrator: registry lookup")
	}

	switch r := out.(type) {
	case scrape.Found:
		return RegistryResult{
			YearlyData: registryYears(&r.Fields),
			Fields:     &r.Fields,
			Sources:    r.Sources,
		}, nil
	case scrape.PartialFound:
		return RegistryResult{
			YearlyData:    registryYears(&r.Fields),
			Fields:        &r.Fields,
			Partial:       true,
			MissingFields: r.Missing,
			Sources:       r.Sources,
		}, nil
	case scrape.TransportError:
		if r.Err == nil {
			return empty, eris.Errorf("orchestrator: registry unreachable (%s)", r.Kind)
		}
		return empty, eris.Wrap(r.Err, "orchestrator: registry unreachable")
	}
	return empty, nil
}

// registryYears converts scraped years into yearly records. Embedded-payload
// figures are HIGH confidence, text matches MEDIUM and estimated years LOW.
func registryYears(f *scrape.Fields) []model.YearlyFinancialData {
	out := make([]model.YearlyFinancialData, 0, len(f.Financials))
	for _, yf := range f.Financials {
		net := yf.NetResult
		if net == nil {
			net = yf.Profit
		}
		y := model.YearlyFinancialData{
			Year:            yf.Year,
			YearEstimated:   yf.YearEstimated,
			Revenue:         copyDec(yf.Revenue),
			OperatingProfit: copyDec(yf.OperatingProfit),
			NetProfit:       copyDec(net),
			TotalAssets:     copyDec(yf.TotalAssets),
			Equity:          copyDec(yf.Equity),
			Source:          yf.Source,
		}
		if y.Populated() == 0 {
			continue
		}

		best := scrape.TierNone
		for _, n := range scrape.Figures {
			if t := f.FigureTier(yf.Year, n); t > best {
				best = t
			}
		}
		switch {
		case yf.YearEstimated:
			y.Confidence = model.ConfidenceLow
		case best == scrape.TierStructured:
			y.Confidence = model.ConfidenceHigh
		default:
			y.Confidence = model.ConfidenceMedium
		}
		out = append(out, y)
	}
	return out
}

func copyDec(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

// MergeYears folds registry records into AI records by year. Field-level
// conflicts go to the higher-confidence record. The result is sorted by year,
// newest first.
func MergeYears(ai, registry []model.YearlyFinancialData) []model.YearlyFinancialData {
	byYear := make(map[int]model.YearlyFinancialData, len(ai)+len(registry))
	for _, set := range [][]model.YearlyFinancialData{ai, registry} {
		for _, y := range set {
			if cur, ok := byYear[y.Year]; ok {
				byYear[y.Year] = model.MergeYearly(cur, y)
				continue
			}
			byYear[y.Year] = y
		}
	}
	out := make([]model.YearlyFinancialData, 0, len(byYear))
	for _, y := range byYear {
		out = append(out, y)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year > out[j].Year })
	return out
}
