// Package api exposes the scrape endpoints and the enrichment job API over
// HTTP.
package api

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/sells-group/enrichment-cli/internal/model"
	"github.com/sells-group/enrichment-cli/internal/scrape"
	"github.com/sells-group/enrichment-cli/internal/store"
)

// Scraper runs fallback-chain lookups.
type Scraper interface {
	Lookup(ctx context.Context, req scrape.Request) (scrape.Outcome, error)
	Available(locale scrape.Locale) (bool, []string)
}

// Jobs accepts enrichment triggers.
type Jobs interface {
	Submit(ctx context.Context, tr model.Trigger) (*model.EnrichmentJob, error)
}

// Config tunes the HTTP surface.
type Config struct {
	// AllowedOrigins lists CORS origins. Empty allows every origin.
	AllowedOrigins []string
	// RequestTimeout bounds each request. Zero disables it.
	RequestTimeout time.Duration
}

// Server holds the handlers' collaborators.
type Server struct {
	cfg      Config
	scraper  Scraper
	jobs     Jobs
	store    store.Store
	validate *validator.Validate
}

// New creates a Server.
func New(cfg Config, scraper Scraper, jobs Jobs, st store.Store) *Server {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Server{
		cfg:      cfg,
		scraper:  scraper,
		jobs:     jobs,
		store:    st,
		validate: validate,
	}
}

// Router builds the chi router with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(cors.Handler(s.corsOptions()))
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}
	r.Use(identity)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/scrape/{locale}", func(r chi.Router) {
			r.Get("/", s.handleAvailability)
			r.Post("/", s.handleScrape)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireIdentity)
			r.Post("/enrichment", s.handleTrigger)
		})
		r.Get("/enrichment/jobs", s.handleListJobs)
		r.Get("/enrichment/jobs/{jobID}", s.handleGetJob)
		r.Get("/companies/{companyID}/enrichment", s.handleGetEnrichment)
	})

	return r
}

func (s *Server) corsOptions() cors.Options {
	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Content-Type", "Authorization", headerUserID, headerUserRole},
		ExposedHeaders: []string{"Content-Length", "Retry-After"},
		MaxAge:         300,
	}
	if len(s.cfg.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowedOrigins = s.cfg.AllowedOrigins
		opts.AllowCredentials = true
	}
	return opts
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
