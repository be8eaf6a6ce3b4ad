// Package store persists enrichment jobs, per-module checkpoints and the
// aggregated enrichment record. Every write is an upsert keyed by the
// record's natural identity so that replays never duplicate rows.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrichment-cli/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status    model.JobStatus `json:"status,omitempty"`
	CompanyID string          `json:"company_id,omitempty"`
	// CreatedAfter keeps jobs created at or after the instant. Zero means
	// no lower bound.
	CreatedAfter time.Time `json:"created_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// Store defines the persistence interface for enrichment.
type Store interface {
	// Companies
	UpsertCompany(ctx context.Context, c model.Company) error
	GetCompany(ctx context.Context, id string) (*model.Company, error)
	UpdateCompanyEnrichment(ctx context.Context, companyID string, status model.JobStatus, at *time.Time) error

	// Jobs
	CreateJob(ctx context.Context, job *model.EnrichmentJob) error
	GetJob(ctx context.Context, id string) (*model.EnrichmentJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.EnrichmentJob, error)
	ListUnfinishedJobs(ctx context.Context) ([]model.EnrichmentJob, error)
	// ClaimJob moves a job to processing unless another job of the same
	// company is processing or the job already completed. It reports
	// whether the claim succeeded.
	ClaimJob(ctx context.Context, jobID string, now time.Time) (bool, error)
	UpdateJob(ctx context.Context, job *model.EnrichmentJob) error

	// Checkpoints
	SaveCheckpoint(ctx context.Context, cp model.ModuleCheckpoint) error
	LoadCheckpoints(ctx context.Context, jobID string) (map[model.ModuleName]model.ModuleCheckpoint, error)

	// Enriched data
	// PersistEnrichment upserts the aggregated record and its yearly
	// figures in one transaction. Failures are *apperr.PersistenceError.
	PersistEnrichment(ctx context.Context, data *model.CompanyEnrichedData, years []model.YearlyFinancialData) error
	GetEnrichedData(ctx context.Context, companyID string) (*model.CompanyEnrichedData, error)
	ListYearlyFinancials(ctx context.Context, companyID string) ([]model.YearlyFinancialData, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
