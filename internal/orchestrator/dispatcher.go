package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/enrichment-cli/internal/apperr"
	"github.com/sells-group/enrichment-cli/internal/lock"
	"github.com/sells-group/enrichment-cli/internal/model"
	"github.com/sells-group/enrichment-cli/internal/resilience"
	"github.com/sells-group/enrichment-cli/internal/scrape"
	"github.com/sells-group/enrichment-cli/internal/store"
)

// ErrCompanyBusy means another job of the same company is marked
// processing. A background job stays pending and parks until a job of that
// company finishes here, or until the next resume.
var ErrCompanyBusy = eris.New("orchestrator: company has a job in progress")

// errAlreadyCompleted stops the retry loop for a replayed finished job.
var errAlreadyCompleted = eris.New("orchestrator: job already completed")

// DispatcherConfig bounds job execution.
type DispatcherConfig struct {
	// MaxConcurrentJobs caps jobs running at once across companies.
	MaxConcurrentJobs int
	// HostRetries is how many times a failed job is re-run.
	HostRetries int
	// RetryBackoff is the delay before the first re-run.
	RetryBackoff time.Duration
}

// Dispatcher accepts triggers and runs jobs in the background with a global
// bound and a per-company concurrency key.
type Dispatcher struct {
	orch     *Orchestrator
	store    store.Store
	locker   lock.Locker
	jobs     *semaphore.Weighted
	cfg      DispatcherConfig
	validate *validator.Validate

	baseMu sync.RWMutex
	base   context.Context
	wg     sync.WaitGroup

	parkedMu sync.Mutex
	parked   map[string][]string // company ID -> busy job IDs

	// now, newID and sleep allow test injection.
	now   func() time.Time
	newID func() string
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher wires a Dispatcher. locker may be nil, in which case an
// in-process keyed semaphore is used.
func NewDispatcher(orch *Orchestrator, st store.Store, locker lock.Locker, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 5
	}
	if cfg.HostRetries < 0 {
		cfg.HostRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 5 * time.Second
	}
	if locker == nil {
		locker = lock.NewKeyed()
	}
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Dispatcher{
		orch:     orch,
		store:    st,
		locker:   locker,
		jobs:     semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		cfg:      cfg,
		validate: validate,
		base:     context.Background(),
		parked:   make(map[string][]string),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		sleep:    resilience.SleepContext,
	}
}

// Start sets the context background jobs run under and resubmits every
// unfinished job. It returns how many jobs were resumed.
func (d *Dispatcher) Start(ctx context.Context) (int, error) {
	d.baseMu.Lock()
	d.base = ctx
	d.baseMu.Unlock()
	return d.ResumeUnfinished(ctx)
}

// Wait blocks until every background job has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Create validates a trigger and stores a pending job for it.
func (d *Dispatcher) Create(ctx context.Context, tr model.Trigger) (*model.EnrichmentJob, error) {
	if err := d.validateTrigger(tr); err != nil {
		return nil, err
	}
	if tr.JobID == "" {
		tr.JobID = d.newID()
	}

	if err := d.store.UpsertCompany(ctx, model.Company{ID: tr.CompanyID, Name: tr.CompanyName, BusinessID: tr.BusinessID}); err != nil {
		return nil, eris.Wrap(err, "orchestrator: upsert company")
	}
	job := model.NewJob(tr, d.now().UTC())
	if err := d.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "orchestrator: create job")
	}
	zap.L().Info("orchestrator: job created",
		zap.String("job_id", job.ID),
		zap.String("company_id", job.CompanyID),
		zap.String("user_id", job.UserID),
	)
	return job, nil
}

func (d *Dispatcher) validateTrigger(tr model.Trigger) error {
	if err := d.validate.Struct(tr); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &apperr.ValidationError{Field: fe.Field(), Value: fmt.Sprint(fe.Value()), Reason: "failed " + fe.Tag()}
		}
		return eris.Wrap(err, "orchestrator: validate trigger")
	}
	for _, m := range tr.Config.Modules {
		if !m.Valid() {
			return &apperr.ValidationError{Field: "modules", Value: string(m), Reason: "unknown module"}
		}
	}
	if tr.Config.Locale != "" {
		if _, ok := scrape.ParseLocale(tr.Config.Locale); !ok {
			return &apperr.ValidationError{Field: "locale", Value: tr.Config.Locale, Reason: "unsupported locale"}
		}
	}
	return nil
}

// Submit creates a job and runs it in the background.
func (d *Dispatcher) Submit(ctx context.Context, tr model.Trigger) (*model.EnrichmentJob, error) {
	job, err := d.Create(ctx, tr)
	if err != nil {
		return nil, err
	}
	d.spawn(job.ID)
	return job, nil
}

// RunSync creates a job and runs it on the caller's goroutine.
func (d *Dispatcher) RunSync(ctx context.Context, tr model.Trigger) (*model.EnrichmentJob, error) {
	job, err := d.Create(ctx, tr)
	if err != nil {
		return nil, err
	}
	runErr := d.Process(ctx, job.ID)
	final, err := d.store.GetJob(context.WithoutCancel(ctx), job.ID)
	if err != nil {
		return job, eris.Wrap(err, "orchestrator: reload job")
	}
	return final, runErr
}

// ResumeUnfinished resubmits pending and processing jobs. Processing jobs
// go first: a pending job of the same company cannot be claimed before them.
func (d *Dispatcher) ResumeUnfinished(ctx context.Context) (int, error) {
	jobs, err := d.store.ListUnfinishedJobs(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "orchestrator: list unfinished jobs")
	}
	slices.SortStableFunc(jobs, func(a, b model.EnrichmentJob) int {
		return resumeRank(a.Status) - resumeRank(b.Status)
	})
	for _, j := range jobs {
		zap.L().Info("orchestrator: resuming job",
			zap.String("job_id", j.ID),
			zap.String("company_id", j.CompanyID),
			zap.String("status", string(j.Status)),
		)
		d.spawn(j.ID)
	}
	return len(jobs), nil
}

func resumeRank(s model.JobStatus) int {
	if s == model.JobStatusProcessing {
		return 0
	}
	return 1
}

func (d *Dispatcher) spawn(jobID string) {
	d.baseMu.RLock()
	ctx := d.base
	d.baseMu.RUnlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.process(ctx, jobID, true); err != nil {
			if errors.Is(err, ErrCompanyBusy) {
				zap.L().Info("orchestrator: job parked behind a processing job", zap.String("job_id", jobID))
				return
			}
			zap.L().Warn("orchestrator: job did not complete", zap.String("job_id", jobID), zap.Error(err))
		}
	}()
}

// Process runs one stored job under the company key and the global bound,
// re-running it up to HostRetries times after a failure. The company key is
// taken first so a job queued behind its company holds no global slot.
func (d *Dispatcher) Process(ctx context.Context, jobID string) error {
	return d.process(ctx, jobID, false)
}

func (d *Dispatcher) process(ctx context.Context, jobID string, park bool) error {
	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "orchestrator: load job %s", jobID)
	}
	release, err := d.locker.Acquire(ctx, job.CompanyID)
	if err != nil {
		return eris.Wrapf(err, "orchestrator: company key %s", job.CompanyID)
	}
	busy := false
	defer func() {
		release()
		if !busy {
			d.wakeParked(job.CompanyID)
		}
	}()

	if err := d.jobs.Acquire(ctx, 1); err != nil {
		return eris.Wrap(err, "orchestrator: acquire job slot")
	}
	defer d.jobs.Release(1)

	retry := resilience.RetryConfig{
		MaxAttempts:    1 + d.cfg.HostRetries,
		InitialBackoff: d.cfg.RetryBackoff,
		Multiplier:     2,
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, ErrCompanyBusy) && !errors.Is(err, errAlreadyCompleted)
		},
		OnRetry: resilience.RetryLogger("orchestrator", "job "+jobID),
		Sleep:   d.sleep,
	}
	err = resilience.Do(ctx, retry, func(ctx context.Context) error {
		return d.attempt(ctx, jobID)
	})
	if errors.Is(err, errAlreadyCompleted) {
		return nil
	}
	if errors.Is(err, ErrCompanyBusy) {
		busy = true
		if park {
			// Parked while the key is held, so the finishing job cannot miss it.
			d.parkedMu.Lock()
			d.parked[job.CompanyID] = append(d.parked[job.CompanyID], jobID)
			d.parkedMu.Unlock()
		}
	}
	return err
}

// wakeParked re-spawns the jobs that found their company busy.
func (d *Dispatcher) wakeParked(companyID string) {
	d.parkedMu.Lock()
	ids := d.parked[companyID]
	delete(d.parked, companyID)
	d.parkedMu.Unlock()
	for _, id := range ids {
		d.spawn(id)
	}
}

func (d *Dispatcher) attempt(ctx context.Context, jobID string) error {
	claimed, err := d.store.ClaimJob(ctx, jobID, d.now().UTC())
	if err != nil {
		return eris.Wrapf(err, "orchestrator: claim job %s", jobID)
	}
	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "orchestrator: load job %s", jobID)
	}
	if !claimed {
		if job.Status == model.JobStatusCompleted {
			return errAlreadyCompleted
		}
		return eris.Wrapf(ErrCompanyBusy, "orchestrator: job %s", jobID)
	}
	return d.orch.Execute(ctx, job)
}
