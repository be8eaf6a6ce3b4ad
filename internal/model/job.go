package model

import (
	"time"
)

// JobStatus is the lifecycle state of an enrichment job or of one module
// within it.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are expected without a retry.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether a job may move from s to next. A failed job may
// re-enter processing when its host retries it, and a processing job may be
// re-claimed by the same job after a crash.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusProcessing || next == JobStatusCompleted || next == JobStatusFailed
	case JobStatusFailed:
		return next == JobStatusProcessing
	}
	return false
}

// ModuleState tracks one module inside a job.
type ModuleState struct {
	Status      JobStatus  `json:"status"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Done reports whether the module has a durable result that a replay may
// reuse. Failed non-mandatory modules are done: their empty result is final.
func (m ModuleState) Done(mandatory bool) bool {
	switch m.Status {
	case JobStatusCompleted:
		return true
	case JobStatusFailed:
		return !mandatory
	}
	return false
}

// EnrichmentJob is the durable record of one enrichment run for a company.
type EnrichmentJob struct {
	ID                   string                     `json:"id"`
	CompanyID            string                     `json:"companyId"`
	BusinessID           string                     `json:"businessId"`
	CompanyName          string                     `json:"companyName"`
	UserID               string                     `json:"userId,omitempty"`
	Config               JobConfig                  `json:"config"`
	Status               JobStatus                  `json:"status"`
	ModuleStatus         map[ModuleName]ModuleState `json:"moduleStatus"`
	CompletedModuleCount int                        `json:"completedModuleCount"`
	PauseDone            bool                       `json:"pauseDone"`
	Attempts             int                        `json:"attempts"`
	StartedAt            *time.Time                 `json:"startedAt,omitempty"`
	CompletedAt          *time.Time                 `json:"completedAt,omitempty"`
	DurationMs           int64                      `json:"durationMs"`
	ErrorMessage         string                     `json:"errorMessage,omitempty"`
	CreatedAt            time.Time                  `json:"createdAt"`
	UpdatedAt            time.Time                  `json:"updatedAt"`
}

// Trigger is the event that starts an enrichment job.
type Trigger struct {
	CompanyID   string    `json:"companyId" validate:"required"`
	JobID       string    `json:"jobId"`
	BusinessID  string    `json:"businessId" validate:"required"`
	CompanyName string    `json:"companyName" validate:"required"`
	UserID      string    `json:"userId"`
	Config      JobConfig `json:"config"`
}

// JobConfig tunes a single job.
type JobConfig struct {
	// Modules restricts the run to a subset; empty means every module.
	// Mandatory modules always run.
	Modules []ModuleName `json:"modules,omitempty"`
	// Locale selects the registry source chain ("fi", "se"). Empty infers it
	// from the business ID shape.
	Locale string `json:"locale,omitempty"`
	// DomainHint is the company website or domain, passed to the AI prompts.
	DomainHint string `json:"domainHint,omitempty"`
}

// NewJob builds a pending job from a trigger.
func NewJob(tr Trigger, now time.Time) *EnrichmentJob {
	return &EnrichmentJob{
		ID:           tr.JobID,
		CompanyID:    tr.CompanyID,
		BusinessID:   tr.BusinessID,
		CompanyName:  tr.CompanyName,
		UserID:       tr.UserID,
		Config:       tr.Config,
		Status:       JobStatusPending,
		ModuleStatus: map[ModuleName]ModuleState{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Trigger reconstructs the trigger event for a stored job, used on resume.
func (j *EnrichmentJob) Trigger() Trigger {
	return Trigger{
		CompanyID:   j.CompanyID,
		JobID:       j.ID,
		BusinessID:  j.BusinessID,
		CompanyName: j.CompanyName,
		UserID:      j.UserID,
		Config:      j.Config,
	}
}

// ModuleCheckpoint is the durable result of one module within one job.
type ModuleCheckpoint struct {
	JobID  string      `json:"jobId"`
	Module ModuleName  `json:"module"`
	State  ModuleState `json:"state"`
	Output []byte      `json:"output,omitempty"`
}

// Company is the owning company record, updated at the end of each job.
type Company struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	BusinessID       string     `json:"businessId"`
	EnrichmentStatus JobStatus  `json:"enrichmentStatus,omitempty"`
	LastEnrichedAt   *time.Time `json:"lastEnrichedAt,omitempty"`
}
