package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/enrichment-cli/internal/apperr"
	"github.com/sells-group/enrichment-cli/internal/store"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

// writeError maps err to a status by its kind.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case apperr.KindOf(err) == apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindOf(err) == apperr.KindRateLimit:
		writeRateLimited(w, err)
		return
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// validationFields flattens validator errors to field → failed tag.
func validationFields(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

func writeValidation(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request", Fields: validationFields(err)})
}
