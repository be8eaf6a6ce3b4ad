package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/enrichment-cli/internal/model"
	"github.com/sells-group/enrichment-cli/internal/store"
)

type triggerRequest struct {
	CompanyID   string             `json:"companyId" validate:"required,max=64"`
	BusinessID  string             `json:"businessId" validate:"required,max=32"`
	CompanyName string             `json:"companyName" validate:"required,max=200"`
	Modules     []model.ModuleName `json:"modules" validate:"omitempty,dive,required"`
	Locale      string             `json:"locale" validate:"omitempty,oneof=fi se"`
	DomainHint  string             `json:"domainHint" validate:"omitempty,max=253"`
}

type triggerResponse struct {
	JobID  string               `json:"jobId"`
	Status model.JobStatus      `json:"status"`
	Job    *model.EnrichmentJob `json:"job"`
}

type enrichmentResponse struct {
	*model.CompanyEnrichedData
	YearlyFinancials []model.YearlyFinancialData `json:"yearlyFinancials"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeValidation(w, err)
		return
	}

	job, err := s.jobs.Submit(r.Context(), model.Trigger{
		CompanyID:   req.CompanyID,
		BusinessID:  req.BusinessID,
		CompanyName: req.CompanyName,
		UserID:      caller.UserID,
		Config: model.JobConfig{
			Modules:    req.Modules,
			Locale:     req.Locale,
			DomainHint: req.DomainHint,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, triggerResponse{JobID: job.ID, Status: job.Status, Job: job})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{
		CompanyID: q.Get("companyId"),
		Status:    model.JobStatus(q.Get("status")),
		Limit:     50,
	}
	switch filter.Status {
	case "", model.JobStatusPending, model.JobStatusProcessing, model.JobStatusCompleted, model.JobStatusFailed:
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid status " + strconv.Quote(string(filter.Status))})
		return
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit " + strconv.Quote(raw)})
			return
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid offset " + strconv.Quote(raw)})
			return
		}
		filter.Offset = n
	}

	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []model.EnrichmentJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetEnrichment(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	data, err := s.store.GetEnrichedData(r.Context(), companyID)
	if err != nil {
		writeError(w, err)
		return
	}
	years, err := s.store.ListYearlyFinancials(r.Context(), companyID)
	if err != nil {
		writeError(w, err)
		return
	}
	if years == nil {
		years = []model.YearlyFinancialData{}
	}
	writeJSON(w, http.StatusOK, enrichmentResponse{CompanyEnrichedData: data, YearlyFinancials: years})
}
