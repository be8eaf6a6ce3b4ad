package orchestrator

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrichment-cli/internal/aiextract"
	"github.com/sells-group/enrichment-cli/internal/apperr"
	"github.com/sells-group/enrichment-cli/internal/model"
	"github.com/sells-group/enrichment-cli/internal/scrape"
	"github.com/sells-group/enrichment-cli/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "enrich.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func dec(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

// recorder keeps the order of module calls and pauses.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(e string) int {
	n := 0
	for _, v := range r.snapshot() {
		if v == e {
			n++
		}
	}
	return n
}

// fakeAI answers every module. failures holds how many leading calls of a
// module fail.
type fakeAI struct {
	rec *recorder

	mu       sync.Mutex
	failures map[model.ModuleName]int

	// gate, when set, blocks each call until it is closed.
	gate   chan struct{}
	active map[string]int
	peak   map[string]int
}

func newFakeAI(rec *recorder) *fakeAI {
	return &fakeAI{
		rec:      rec,
		failures: map[model.ModuleName]int{},
		active:   map[string]int{},
		peak:     map[string]int{},
	}
}

func (f *fakeAI) failFirst(m model.ModuleName, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[m] = n
}

func (f *fakeAI) enter(ctx context.Context, m model.ModuleName, company string) error {
	f.rec.add(string(m))
	f.mu.Lock()
	f.active[company]++
	if f.active[company] > f.peak[company] {
		f.peak[company] = f.active[company]
	}
	fail := f.failures[m] > 0
	if fail {
		f.failures[m]--
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active[company]--
		f.mu.Unlock()
	}()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return &apperr.UpstreamHTTPError{Source: "perplexity", Status: 503}
	}
	return nil
}

func (f *fakeAI) peakFor(company string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak[company]
}

func (f *fakeAI) ExtractBasicInfo(ctx context.Context, req aiextract.Request) (*model.BasicInfo, []string, error) {
	if err := f.enter(ctx, model.ModuleBasicInfo, req.CompanyName); err != nil {
		return nil, nil, err
	}
	employees := 42
	return &model.BasicInfo{
		Name:        req.CompanyName,
		Industry:    "Software",
		CompanyForm: "Oy",
		Address:     "Mannerheimintie 1, Helsinki",
		Website:     "https://acme.fi",
		Employees:   &employees,
		Products:    []string{"Widgets"},
		Sources:     map[string]string{"name": "https://acme.fi/about"},
		DataQuality: model.DataQuality{AIGenerated: true, Confidence: model.ConfidenceHigh},
	}, []string{"https://acme.fi/about"}, nil
}

func (f *fakeAI) ExtractFinancials(ctx context.Context, req aiextract.Request) (*model.FinancialData, []string, error) {
	if err := f.enter(ctx, model.ModuleFinancialData, req.CompanyName); err != nil {
		return nil, nil, err
	}
	return &model.FinancialData{
		Currency: "EUR",
		YearlyData: []model.YearlyFinancialData{
			{Year: 2024, Revenue: dec(480000), NetProfit: dec(20000), Source: "https://finder.fi/acme", Confidence: model.ConfidenceMedium},
			{Year: 2023, Revenue: dec(450000), Source: "https://finder.fi/acme", Confidence: model.ConfidenceHigh},
			{Year: 2022, Revenue: dec(400000), Source: "https://finder.fi/acme", Confidence: model.ConfidenceHigh},
		},
		Confidence:    model.ConfidenceMedium,
		MissingFields: []string{},
	}, []string{"https://finder.fi/acme"}, nil
}

func (f *fakeAI) Analyze(ctx context.Context, m model.ModuleName, req aiextract.Request) (json.RawMessage, []string, error) {
	if err := f.enter(ctx, m, req.CompanyName); err != nil {
		return nil, nil, err
	}
	raw, _ := json.Marshal(aiextract.Analysis{
		Summary:    string(m) + " summary",
		Points:     []aiextract.AnalysisPoint{{Text: "point", Source: "https://news.example/" + string(m)}},
		Confidence: model.ConfidenceMedium,
		Sources:    []string{"https://news.example/" + string(m)},
	})
	return raw, []string{"https://news.example/" + string(m)}, nil
}

// fakeRegistry returns a fixed outcome.
type fakeRegistry struct {
	rec *recorder
	out scrape.Outcome
	err error
}

func (f *fakeRegistry) Lookup(_ context.Context, req scrape.Request) (scrape.Outcome, error) {
	if f.rec != nil {
		f.rec.add(string(model.ModuleRegistryFinancials))
	}
	return f.out, f.err
}

func registryFound() scrape.Found {
	var fields scrape.Fields
	fields.SetFigure(2024, false, scrape.FigRevenue, decimal.NewFromInt(500000), scrape.TierStructured, "finder")
	fields.SetFigure(2024, false, scrape.FigEquity, decimal.NewFromInt(120000), scrape.TierStructured, "finder")
	fields.SetFigure(2021, false, scrape.FigRevenue, decimal.NewFromInt(350000), scrape.TierRegex, "kauppalehti")
	return scrape.Found{Fields: fields, Sources: []string{"finder", "kauppalehti"}}
}

// pauseRecorder is a sleeper that logs each pause and never waits.
func pauseRecorder(rec *recorder) func(context.Context, time.Duration) error {
	return func(ctx context.Context, _ time.Duration) error {
		rec.add("pause")
		return ctx.Err()
	}
}

func testTrigger(jobID, companyID string) model.Trigger {
	return model.Trigger{
		CompanyID:   companyID,
		JobID:       jobID,
		BusinessID:  "1234567-8",
		CompanyName: "Acme Oy",
		UserID:      "u-1",
	}
}

// createClaimed stores a job for tr and claims it, ready for Execute.
func createClaimed(t *testing.T, st store.Store, tr model.Trigger) *model.EnrichmentJob {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertCompany(ctx, model.Company{ID: tr.CompanyID, Name: tr.CompanyName, BusinessID: tr.BusinessID}))
	require.NoError(t, st.CreateJob(ctx, model.NewJob(tr, time.Now().UTC())))
	ok, err := st.ClaimJob(ctx, tr.JobID, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	job, err := st.GetJob(ctx, tr.JobID)
	require.NoError(t, err)
	return job
}
