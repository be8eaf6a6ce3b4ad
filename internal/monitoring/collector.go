// Package monitoring watches enrichment job health and scrape source
// circuits, and raises webhook alerts when thresholds are breached.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrichment-cli/internal/model"
	"github.com/sells-group/enrichment-cli/internal/resilience"
	"github.com/sells-group/enrichment-cli/internal/store"
)

const pageSize = 500

// JobLister is the slice of store.Store the collector reads.
type JobLister interface {
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.EnrichmentJob, error)
}

// BreakerStates reports the circuit state of each scrape source.
type BreakerStates interface {
	States() map[string]resilience.CircuitState
}

// MetricsSnapshot holds job and source health over a lookback window.
type MetricsSnapshot struct {
	JobsTotal      int                      `json:"jobs_total"`
	JobsCompleted  int                      `json:"jobs_completed"`
	JobsFailed     int                      `json:"jobs_failed"`
	JobsPending    int                      `json:"jobs_pending"`
	JobsProcessing int                      `json:"jobs_processing"`
	FailRate       float64                  `json:"fail_rate"`
	AvgDurationMs  int64                    `json:"avg_duration_ms"`
	ModuleFailures map[model.ModuleName]int `json:"module_failures"`
	StuckJobs      []string                 `json:"stuck_jobs"`
	OpenSources    []string                 `json:"open_sources"`
	LookbackWindow time.Duration            `json:"lookback_window"`
	CollectedAt    time.Time                `json:"collected_at"`
}

// Collector gathers a MetricsSnapshot from the job store and the scrape
// source breakers.
type Collector struct {
	jobs     JobLister
	breakers BreakerStates
	now      func() time.Time
}

// NewCollector creates a Collector. breakers may be nil.
func NewCollector(jobs JobLister, breakers BreakerStates) *Collector {
	return &Collector{jobs: jobs, breakers: breakers, now: time.Now}
}

// Collect builds a snapshot of jobs created within lookback. Processing
// jobs not updated for stuckAfter are reported as stuck regardless of age.
func (c *Collector) Collect(ctx context.Context, lookback, stuckAfter time.Duration) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		ModuleFailures: map[model.ModuleName]int{},
		LookbackWindow: lookback,
		CollectedAt:    now,
	}

	jobs, err := c.listAll(ctx, store.JobFilter{CreatedAfter: now.Add(-lookback)})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list recent jobs")
	}

	var durationSum int64
	var durationCount int64
	for _, j := range jobs {
		snap.JobsTotal++
		switch j.Status {
		case model.JobStatusCompleted:
			snap.JobsCompleted++
			if j.DurationMs > 0 {
				durationSum += j.DurationMs
				durationCount++
			}
		case model.JobStatusFailed:
			snap.JobsFailed++
		case model.JobStatusPending:
			snap.JobsPending++
		case model.JobStatusProcessing:
			snap.JobsProcessing++
		}
		for name, st := range j.ModuleStatus {
			if st.Status == model.JobStatusFailed {
				snap.ModuleFailures[name]++
			}
		}
	}
	if finished := snap.JobsCompleted + snap.JobsFailed; finished > 0 {
		snap.FailRate = float64(snap.JobsFailed) / float64(finished)
	}
	if durationCount > 0 {
		snap.AvgDurationMs = durationSum / durationCount
	}

	if stuckAfter > 0 {
		processing, err := c.listAll(ctx, store.JobFilter{Status: model.JobStatusProcessing})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list processing jobs")
		}
		cutoff := now.Add(-stuckAfter)
		for _, j := range processing {
			if j.UpdatedAt.Before(cutoff) {
				snap.StuckJobs = append(snap.StuckJobs, j.ID)
			}
		}
	}

	if c.breakers != nil {
		for name, state := range c.breakers.States() {
			if state == resilience.CircuitOpen {
				snap.OpenSources = append(snap.OpenSources, name)
			}
		}
		sort.Strings(snap.OpenSources)
	}

	return snap, nil
}

func (c *Collector) listAll(ctx context.Context, filter store.JobFilter) ([]model.EnrichmentJob, error) {
	var all []model.EnrichmentJob
	filter.Limit = pageSize
	for {
		page, err := c.jobs.ListJobs(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
		filter.Offset += len(page)
	}
}
