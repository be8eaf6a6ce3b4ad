package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrichment-cli/internal/apperr"
	"github.com/sells-group/enrichment-cli/internal/scrape"
)

// scrapeRequest accepts either identifier spelling.
type scrapeRequest struct {
	BusinessID  string `json:"businessId" validate:"required_without=OrgNumber"`
	OrgNumber   string `json:"orgNumber"`
	CompanyName string `json:"companyName" validate:"max=200"`
}

func (r scrapeRequest) identifier() string {
	if r.BusinessID != "" {
		return r.BusinessID
	}
	return r.OrgNumber
}

type scrapeResponse struct {
	Success       bool           `json:"success"`
	Data          *scrape.Fields `json:"data,omitempty"`
	Partial       bool           `json:"partial,omitempty"`
	MissingFields []string       `json:"missingFields,omitempty"`
	Sources       []string       `json:"sources,omitempty"`
	Message       string         `json:"message,omitempty"`
}

type rateLimitResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

type availabilityResponse struct {
	Available bool     `json:"available"`
	Sources   []string `json:"sources"`
}

func (s *Server) locale(w http.ResponseWriter, r *http.Request) (scrape.Locale, bool) {
	l, ok := scrape.ParseLocale(chi.URLParam(r, "locale"))
	if !ok {
		writeJSON(w, http.StatusNotFound, scrapeResponse{Message: "unsupported locale " + strconv.Quote(chi.URLParam(r, "locale"))})
	}
	return l, ok
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	l, ok := s.locale(w, r)
	if !ok {
		return
	}
	available, sources := s.scraper.Available(l)
	if sources == nil {
		sources = []string{}
	}
	writeJSON(w, http.StatusOK, availabilityResponse{Available: available, Sources: sources})
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	l, ok := s.locale(w, r)
	if !ok {
		return
	}

	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, scrapeResponse{Message: "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, scrapeResponse{Message: "businessId or orgNumber is required"})
		return
	}

	out, err := s.scraper.Lookup(r.Context(), scrape.Request{
		Locale:      l,
		BusinessID:  req.identifier(),
		CompanyName: req.CompanyName,
		CallerKey:   throttleKey(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	switch o := out.(type) {
	case scrape.Found:
		writeJSON(w, http.StatusOK, scrapeResponse{Success: true, Data: &o.Fields, Sources: o.Sources})
	case scrape.PartialFound:
		writeJSON(w, http.StatusOK, scrapeResponse{
			Success:       true,
			Data:          &o.Fields,
			Partial:       true,
			MissingFields: o.Missing,
			Sources:       o.Sources,
		})
	case scrape.NotFound:
		msg := o.Reason
		if msg == "" {
			msg = "no financial data found"
		}
		writeJSON(w, http.StatusOK, scrapeResponse{Message: msg})
	case scrape.TransportError:
		zap.L().Warn("api: every source unreachable",
			zap.String("locale", string(l)),
			zap.String("kind", string(o.Kind)),
			zap.Error(o.Err),
		)
		writeJSON(w, http.StatusBadGateway, scrapeResponse{Message: "financial sources unreachable"})
	default:
		writeError(w, eris.Errorf("api: unknown scrape outcome %T", out))
	}
}

// writeRateLimited answers 429 with the retry delay in whole seconds.
func writeRateLimited(w http.ResponseWriter, err error) {
	secs := 1
	var rl *apperr.RateLimitExceeded
	if errors.As(err, &rl) {
		secs = max(1, int(math.Ceil(rl.RetryAfter.Seconds())))
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSON(w, http.StatusTooManyRequests, rateLimitResponse{Error: "too many requests", RetryAfter: secs})
}
