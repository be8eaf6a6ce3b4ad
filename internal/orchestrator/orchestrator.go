// Package orchestrator runs enrichment jobs. A job runs its modules in two
// rate-limit sized batches separated by one scheduled pause, checkpoints
// every module so a replay skips finished work, and persists the aggregate
// record once at the end.
package orchestrator

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/enrichment-cli/internal/cost"
	"github.com/sells-group/enrichment-cli/internal/model"
	"github.com/sells-group/enrichment-cli/internal/resilience"
	"github.com/sells-group/enrichment-cli/internal/scorer"
	"github.com/sells-group/enrichment-cli/internal/scrape"
	"github.com/sells-group/enrichment-cli/internal/store"
)

// Config tunes job execution.
type Config struct {
	// InterBatchDelay is the pause between batch one and batch two.
	InterBatchDelay time.Duration
	// CallsPerWindow is the AI call budget of batch one.
	CallsPerWindow int
	// CallCost is the worst-case call count of one AI module.
	CallCost int
	// ModuleConcurrency bounds parallel modules within a batch.
	ModuleConcurrency int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		InterBatchDelay:   70 * time.Second,
		CallsPerWindow:    10,
		CallCost:          2,
		ModuleConcurrency: 4,
	}
}

// Orchestrator executes claimed jobs.
type Orchestrator struct {
	cfg      Config
	store    store.Store
	ai       Extractor
	registry Registry
	catalog  scrape.Catalog
	weights  scorer.Weights
	pricing  *cost.Calculator

	// now and sleep allow test injection.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCatalog narrows financial prompts to the locale's registry domains.
func WithCatalog(c scrape.Catalog) Option {
	return func(o *Orchestrator) { o.catalog = c }
}

// WithWeights overrides the scoring weights.
func WithWeights(w scorer.Weights) Option {
	return func(o *Orchestrator) { o.weights = w }
}

// WithPricing sets the rates used to estimate each job's model spend.
func WithPricing(c *cost.Calculator) Option {
	return func(o *Orchestrator) { o.pricing = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleeper overrides the inter-batch sleep.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// New creates an Orchestrator. registry may be nil, in which case the
// registry module always yields an empty result.
func New(cfg Config, st store.Store, ai Extractor, registry Registry, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.CallsPerWindow <= 0 {
		cfg.CallsPerWindow = def.CallsPerWindow
	}
	if cfg.CallCost <= 0 {
		cfg.CallCost = def.CallCost
	}
	if cfg.ModuleConcurrency <= 0 {
		cfg.ModuleConcurrency = def.ModuleConcurrency
	}
	if cfg.InterBatchDelay < 0 {
		cfg.InterBatchDelay = 0
	}
	o := &Orchestrator{
		cfg:      cfg,
		store:    st,
		ai:       ai,
		registry: registry,
		weights:  scorer.DefaultWeights(),
		now:      time.Now,
		sleep:    resilience.SleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// jobRun is the mutable state of one execution.
type jobRun struct {
	mu      sync.Mutex
	job     *model.EnrichmentJob
	results map[model.ModuleName]moduleResult
	log     *zap.Logger
	meter   *cost.Meter
}

func (r *jobRun) done(m model.ModuleName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.results[m]
	return ok
}

// Execute runs a claimed job to completion. On error the job is marked
// failed with the causal message before the error is returned.
func (o *Orchestrator) Execute(ctx context.Context, job *model.EnrichmentJob) error {
	log := zap.L().With(zap.String("job_id", job.ID), zap.String("company_id", job.CompanyID))

	now := o.now()
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.Status = model.JobStatusProcessing
	job.ErrorMessage = ""
	job.CompletedAt = nil
	if job.ModuleStatus == nil {
		job.ModuleStatus = map[model.ModuleName]model.ModuleState{}
	}

	run := &jobRun{job: job, results: map[model.ModuleName]moduleResult{}, log: log, meter: cost.NewMeter(o.pricing)}
	ctx = cost.WithMeter(ctx, run.meter)
	if err := o.execute(ctx, run); err != nil {
		o.fail(ctx, run, err)
		return err
	}
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, run *jobRun) error {
	job := run.job
	modules := SelectModules(job.Config.Modules)

	if err := o.restore(ctx, run, modules); err != nil {
		return err
	}

	batches := Plan(modules, o.cfg.CallsPerWindow, o.cfg.CallCost)
	run.log.Info("orchestrator: job started",
		zap.Int("attempt", job.Attempts),
		zap.Int("batch1", len(batches[0])),
		zap.Int("batch2", len(batches[1])),
		zap.Int("restored", len(run.results)),
	)

	if err := o.runBatch(ctx, run, 1, batches[0]); err != nil {
		return err
	}
	if len(batches[1]) > 0 {
		if err := o.pause(ctx, run); err != nil {
			return err
		}
		if err := o.runBatch(ctx, run, 2, batches[1]); err != nil {
			return err
		}
	}
	return o.finalize(ctx, run)
}

// restore loads checkpoints and marks finished modules so they are skipped.
func (o *Orchestrator) restore(ctx context.Context, run *jobRun, modules []model.ModuleName) error {
	job := run.job
	cps, err := o.store.LoadCheckpoints(ctx, job.ID)
	if err != nil {
		return eris.Wrap(err, "orchestrator: load checkpoints")
	}

	for _, m := range modules {
		cp, ok := cps[m]
		if ok && cp.State.Done(m.Mandatory()) && len(cp.Output) > 0 {
			var res moduleResult
			if err := json.Unmarshal(cp.Output, &res); err == nil {
				run.results[m] = res
				job.ModuleStatus[m] = cp.State
				continue
			}
			run.log.Warn("orchestrator: unreadable checkpoint, rerunning module", zap.String("module", string(m)))
		}
		job.ModuleStatus[m] = model.ModuleState{Status: model.JobStatusPending}
	}
	job.CompletedModuleCount = len(run.results)
	return o.saveJob(ctx, job)
}

func (o *Orchestrator) saveJob(ctx context.Context, job *model.EnrichmentJob) error {
	job.UpdatedAt = o.now()
	return eris.Wrap(o.store.UpdateJob(ctx, job), "orchestrator: update job")
}

// record stores a module state change durably. res is nil while the module
// is still running.
func (o *Orchestrator) record(ctx context.Context, run *jobRun, m model.ModuleName, state model.ModuleState, res *moduleResult) error {
	cp := model.ModuleCheckpoint{JobID: run.job.ID, Module: m, State: state}
	if res != nil {
		raw, err := json.Marshal(res)
		if err != nil {
			return eris.Wrapf(err, "orchestrator: marshal checkpoint %s", m)
		}
		cp.Output = raw
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	if err := o.store.SaveCheckpoint(ctx, cp); err != nil {
		return eris.Wrapf(err, "orchestrator: checkpoint %s", m)
	}
	run.job.ModuleStatus[m] = state
	if res != nil {
		run.results[m] = *res
	}
	run.job.CompletedModuleCount = len(run.results)
	return o.saveJob(ctx, run.job)
}

func (o *Orchestrator) runBatch(ctx context.Context, run *jobRun, n int, batch []model.ModuleName) error {
	pending := make([]model.ModuleName, 0, len(batch))
	for _, m := range batch {
		if !run.done(m) {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		run.log.Debug("orchestrator: batch already complete", zap.Int("batch", n))
		return nil
	}

	start := o.now()
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ModuleConcurrency)
	for _, m := range pending {
		g.Go(func() error {
			return o.runModule(gCtx, run, m)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	run.log.Info("orchestrator: batch complete",
		zap.Int("batch", n),
		zap.Int("modules", len(pending)),
		zap.Int64("duration_ms", o.now().Sub(start).Milliseconds()),
	)
	return nil
}

func (o *Orchestrator) runModule(ctx context.Context, run *jobRun, m model.ModuleName) error {
	log := run.log.With(zap.String("module", string(m)))
	started := o.now()
	if err := o.record(ctx, run, m, model.ModuleState{Status: model.JobStatusProcessing, StartedAt: &started}, nil); err != nil {
		return err
	}

	res, err := o.invoke(ctx, run.job, m)
	finished := o.now()
	state := model.ModuleState{Status: model.JobStatusCompleted, StartedAt: &started, CompletedAt: &finished}

	if err != nil {
		if ctx.Err() != nil {
			// Cancelled modules stay unfinished so a replay reruns them.
			return eris.Wrapf(ctx.Err(), "orchestrator: module %s", m)
		}
		state.Status = model.JobStatusFailed
		state.Error = err.Error()
		if m.Mandatory() {
			if recErr := o.record(context.WithoutCancel(ctx), run, m, state, nil); recErr != nil {
				log.Warn("orchestrator: failed to record module failure", zap.Error(recErr))
			}
			return eris.Wrapf(err, "orchestrator: mandatory module %s", m)
		}
		log.Warn("orchestrator: module failed, storing empty result", zap.Error(err))
		res = moduleResult{Output: emptyOutput(m)}
	} else {
		log.Debug("orchestrator: module complete",
			zap.Int64("duration_ms", finished.Sub(started).Milliseconds()),
			zap.Int("sources", len(res.Sources)),
		)
	}
	return o.record(ctx, run, m, state, &res)
}

// pause sleeps between the batches once per job. The flag is persisted so
// a replay after the pause does not sleep again.
func (o *Orchestrator) pause(ctx context.Context, run *jobRun) error {
	if run.job.PauseDone {
		return nil
	}
	run.log.Info("orchestrator: pausing between batches", zap.Duration("delay", o.cfg.InterBatchDelay))
	if err := o.sleep(ctx, o.cfg.InterBatchDelay); err != nil {
		return eris.Wrap(err, "orchestrator: inter-batch pause")
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	run.job.PauseDone = true
	return o.saveJob(ctx, run.job)
}

// finalize aggregates module outputs, scores them and persists the record.
func (o *Orchestrator) finalize(ctx context.Context, run *jobRun) error {
	job := run.job
	data, years, result, err := o.aggregate(job.CompanyID, run.results)
	if err != nil {
		return err
	}

	if err := o.store.PersistEnrichment(ctx, data, years); err != nil {
		return err
	}

	now := o.now()
	job.Status = model.JobStatusCompleted
	job.CompletedAt = &now
	job.DurationMs = now.Sub(*job.StartedAt).Milliseconds()
	if err := o.saveJob(ctx, job); err != nil {
		return err
	}
	if err := o.store.UpdateCompanyEnrichment(ctx, job.CompanyID, model.JobStatusCompleted, &now); err != nil {
		run.log.Error("orchestrator: failed to update company status", zap.Error(err))
	}

	usd, calls := run.meter.Total()
	run.log.Info("orchestrator: job completed",
		zap.Int("confidence", result.Confidence),
		zap.Int("completeness", result.Completeness),
		zap.String("band", string(result.Band)),
		zap.Int("years", len(years)),
		zap.Int64("duration_ms", job.DurationMs),
		zap.Int("ai_calls", calls),
		zap.Float64("ai_cost_usd", usd),
	)
	return nil
}

func (o *Orchestrator) aggregate(companyID string, results map[model.ModuleName]moduleResult) (*model.CompanyEnrichedData, []model.YearlyFinancialData, scorer.Result, error) {
	modules := make(map[model.ModuleName]json.RawMessage, len(results))
	seen := map[string]bool{}
	sources := []string{}
	for m, res := range results {
		modules[m] = res.Output
		for _, s := range res.Sources {
			if s != "" && !seen[s] {
				seen[s] = true
				sources = append(sources, s)
			}
		}
	}
	sort.Strings(sources)

	var info *model.BasicInfo
	if raw, ok := modules[model.ModuleBasicInfo]; ok {
		info = &model.BasicInfo{}
		if err := json.Unmarshal(raw, info); err != nil {
			return nil, nil, scorer.Result{}, eris.Wrap(err, "orchestrator: decode basic info")
		}
	}
	var fin model.FinancialData
	if raw, ok := modules[model.ModuleFinancialData]; ok {
		if err := json.Unmarshal(raw, &fin); err != nil {
			return nil, nil, scorer.Result{}, eris.Wrap(err, "orchestrator: decode financial data")
		}
	}
	var reg RegistryResult
	if raw, ok := modules[model.ModuleRegistryFinancials]; ok {
		if err := json.Unmarshal(raw, &reg); err != nil {
			return nil, nil, scorer.Result{}, eris.Wrap(err, "orchestrator: decode registry result")
		}
	}

	years := MergeYears(fin.YearlyData, reg.YearlyData)
	result := scorer.Score(o.weights, info, years, modules)
	data := &model.CompanyEnrichedData{
		CompanyID:         companyID,
		Modules:           modules,
		ConfidenceScore:   result.Confidence,
		CompletenessScore: result.Completeness,
		SourcesUsed:       sources,
		LastEnrichedAt:    o.now(),
	}
	return data, years, result, nil
}

// fail marks the job failed. It runs even when ctx is cancelled.
func (o *Orchestrator) fail(ctx context.Context, run *jobRun, cause error) {
	ctx = context.WithoutCancel(ctx)
	job := run.job

	run.mu.Lock()
	now := o.now()
	job.Status = model.JobStatusFailed
	job.ErrorMessage = cause.Error()
	job.CompletedAt = &now
	if job.StartedAt != nil {
		job.DurationMs = now.Sub(*job.StartedAt).Milliseconds()
	}
	err := o.saveJob(ctx, job)
	run.mu.Unlock()

	if err != nil {
		run.log.Warn("orchestrator: failed to record job failure", zap.Error(err))
	}
	if err := o.store.UpdateCompanyEnrichment(ctx, job.CompanyID, model.JobStatusFailed, nil); err != nil {
		run.log.Warn("orchestrator: failed to update company status", zap.Error(err))
	}
	usd, calls := run.meter.Total()
	run.log.Error("orchestrator: job failed",
		zap.Error(cause),
		zap.Int("ai_calls", calls),
		zap.Float64("ai_cost_usd", usd),
	)
}
