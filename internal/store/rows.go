package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/enrichment-cli/internal/db"
	"github.com/sells-group/enrichment-cli/internal/model"
)

const defaultListLimit = 100

// moduleColumns are the per-module JSON columns of company_enriched_data.
var moduleColumns = func() []string {
	cols := make([]string, len(model.AllModules))
	for i, m := range model.AllModules {
		cols[i] = string(m)
	}
	return cols
}()

var figureColumns = []string{"revenue", "operating_profit", "net_profit", "total_assets", "equity", "total_liabilities"}

const jobColumns = `id, company_id, business_id, company_name, user_id, config, status, module_status,
	completed_module_count, pause_done, attempts, started_at, completed_at, duration_ms,
	error_message, created_at, updated_at`

const checkpointColumns = `job_id, module, status, started_at, completed_at, error, output`

var (
	companyUpsert = db.UpsertConfig{
		Table:        "companies",
		Columns:      []string{"id", "name", "business_id"},
		ConflictKeys: []string{"id"},
	}
	companyStatusUpsert = db.UpsertConfig{
		Table:        "companies",
		Columns:      []string{"id", "enrichment_status", "last_enriched_at"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"enrichment_status"},
		MergeCols:    []string{"last_enriched_at"},
	}
	checkpointUpsert = db.UpsertConfig{
		Table:        "job_module_checkpoints",
		Columns:      strings.Split(strings.ReplaceAll(checkpointColumns, " ", ""), ","),
		ConflictKeys: []string{"job_id", "module"},
	}
	enrichedUpsert = db.UpsertConfig{
		Table:        "company_enriched_data",
		Columns:      concat([]string{"company_id"}, moduleColumns, []string{"confidence_score", "completeness_score", "sources_used", "last_enriched_at"}),
		ConflictKeys: []string{"company_id"},
		MergeCols:    moduleColumns,
	}
	yearlyUpsert = db.UpsertConfig{
		Table:        "yearly_financial_data",
		Columns:      concat([]string{"company_id", "year"}, figureColumns, []string{"year_estimated", "source", "confidence", "updated_at"}),
		ConflictKeys: []string{"company_id", "year"},
		MergeCols:    concat(figureColumns, []string{"source", "confidence"}),
	}
)

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func mustUpsertSQL(cfg db.UpsertConfig, ph db.Placeholder) string {
	sql, err := db.UpsertSQL(cfg, ph)
	if err != nil {
		panic(err)
	}
	return sql
}

// jsonArg adapts a JSON document to the driver's parameter type.
type jsonArg func([]byte) any

func jsonBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

func jsonText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseDecimal(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &d
}

func enrichedArgs(d *model.CompanyEnrichedData, enc jsonArg) ([]any, error) {
	sources := d.SourcesUsed
	if sources == nil {
		sources = []string{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return nil, eris.Wrap(err, "marshal sources")
	}

	args := []any{d.CompanyID}
	for _, m := range model.AllModules {
		raw := d.Modules[m]
		if len(raw) == 0 {
			args = append(args, nil)
			continue
		}
		args = append(args, enc(raw))
	}
	return append(args, d.ConfidenceScore, d.CompletenessScore, enc(sourcesJSON), d.LastEnrichedAt.UTC()), nil
}

func yearlyArgs(companyID string, y model.YearlyFinancialData, now time.Time) []any {
	return []any{
		companyID, y.Year,
		nullDecimal(y.Revenue), nullDecimal(y.OperatingProfit), nullDecimal(y.NetProfit),
		nullDecimal(y.TotalAssets), nullDecimal(y.Equity), nullDecimal(y.TotalLiabilities),
		y.YearEstimated, nullString(y.Source), nullString(string(y.Confidence)), now,
	}
}

func checkpointArgs(cp model.ModuleCheckpoint, enc jsonArg) []any {
	return []any{
		cp.JobID, string(cp.Module), string(cp.State.Status),
		nullTime(cp.State.StartedAt), nullTime(cp.State.CompletedAt), cp.State.Error, enc(cp.Output),
	}
}

// jobJSON marshals the JSON columns of a job.
func jobJSON(j *model.EnrichmentJob) (cfg, status []byte, err error) {
	cfg, err = json.Marshal(j.Config)
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal job config")
	}
	ms := j.ModuleStatus
	if ms == nil {
		ms = map[model.ModuleName]model.ModuleState{}
	}
	status, err = json.Marshal(ms)
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal module status")
	}
	return cfg, status, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.EnrichmentJob, error) {
	var (
		j                 model.EnrichmentJob
		cfgJSON, msJSON   []byte
		status            string
		startedAt, doneAt *time.Time
	)
	err := row.Scan(&j.ID, &j.CompanyID, &j.BusinessID, &j.CompanyName, &j.UserID, &cfgJSON, &status, &msJSON,
		&j.CompletedModuleCount, &j.PauseDone, &j.Attempts, &startedAt, &doneAt, &j.DurationMs,
		&j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	j.StartedAt, j.CompletedAt = startedAt, doneAt
	if len(cfgJSON) > 0 {
		if err := json.Unmarshal(cfgJSON, &j.Config); err != nil {
			return nil, eris.Wrap(err, "unmarshal job config")
		}
	}
	j.ModuleStatus = map[model.ModuleName]model.ModuleState{}
	if len(msJSON) > 0 {
		if err := json.Unmarshal(msJSON, &j.ModuleStatus); err != nil {
			return nil, eris.Wrap(err, "unmarshal module status")
		}
	}
	return &j, nil
}

func scanCheckpoint(row scannable) (model.ModuleCheckpoint, error) {
	var (
		cp             model.ModuleCheckpoint
		module, status string
	)
	if err := row.Scan(&cp.JobID, &module, &status, &cp.State.StartedAt, &cp.State.CompletedAt, &cp.State.Error, &cp.Output); err != nil {
		return cp, err
	}
	cp.Module = model.ModuleName(module)
	cp.State.Status = model.JobStatus(status)
	return cp, nil
}

func scanYearly(row scannable) (model.YearlyFinancialData, error) {
	var (
		y         model.YearlyFinancialData
		figs      [6]*string
		src, conf *string
	)
	if err := row.Scan(&y.Year, &figs[0], &figs[1], &figs[2], &figs[3], &figs[4], &figs[5], &y.YearEstimated, &src, &conf); err != nil {
		return y, err
	}
	y.Revenue, y.OperatingProfit, y.NetProfit = parseDecimal(figs[0]), parseDecimal(figs[1]), parseDecimal(figs[2])
	y.TotalAssets, y.Equity, y.TotalLiabilities = parseDecimal(figs[3]), parseDecimal(figs[4]), parseDecimal(figs[5])
	if src != nil {
		y.Source = *src
	}
	if conf != nil {
		y.Confidence = model.Confidence(*conf)
	}
	return y, nil
}

// scanEnriched reads company_id, the module columns, the scores, sources
// and last_enriched_at in that order.
func scanEnriched(row scannable) (*model.CompanyEnrichedData, error) {
	d := &model.CompanyEnrichedData{Modules: map[model.ModuleName]json.RawMessage{}}
	raws := make([][]byte, len(moduleColumns))
	var sourcesJSON []byte

	dest := []any{&d.CompanyID}
	for i := range raws {
		dest = append(dest, &raws[i])
	}
	dest = append(dest, &d.ConfidenceScore, &d.CompletenessScore, &sourcesJSON, &d.LastEnrichedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	for i, m := range model.AllModules {
		if len(raws[i]) > 0 {
			d.Modules[m] = json.RawMessage(raws[i])
		}
	}
	d.SourcesUsed = []string{}
	if len(sourcesJSON) > 0 {
		if err := json.Unmarshal(sourcesJSON, &d.SourcesUsed); err != nil {
			return nil, eris.Wrap(err, "unmarshal sources")
		}
	}
	return d, nil
}

func enrichedSelect() string {
	return "SELECT company_id, " + strings.Join(moduleColumns, ", ") +
		", confidence_score, completeness_score, sources_used, last_enriched_at FROM company_enriched_data WHERE company_id = "
}
