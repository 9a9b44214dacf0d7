// Package api provides the HTTP surface for the recommendation and
// supervision operations. Routing and request validation live here; all
// business rules stay behind the orchestrator.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vansales/stockadvisor/internal/database"
	"github.com/vansales/stockadvisor/internal/datamanager"
	"github.com/vansales/stockadvisor/internal/logging"
	"github.com/vansales/stockadvisor/internal/orchestrator"
	"github.com/vansales/stockadvisor/pkg/types"
)

// Server is the stockadvisor HTTP API server.
type Server struct {
	orch           *orchestrator.Orchestrator
	db             *database.Manager
	data           *datamanager.Manager
	logger         logging.AdvisorLogger
	metricsEnabled bool
	requestTimeout time.Duration
}

// NewServer creates a new API server.
func NewServer(orch *orchestrator.Orchestrator, db *database.Manager, data *datamanager.Manager, cfg *types.Config, logger logging.AdvisorLogger) *Server {
	timeout := 2 * time.Minute
	if cfg.Server.RequestTimeout != "" {
		if d, err := time.ParseDuration(cfg.Server.RequestTimeout); err == nil {
			timeout = d
		}
	}
	return &Server{
		orch:           orch,
		db:             db,
		data:           data,
		logger:         logger,
		metricsEnabled: cfg.Server.EnableMetrics,
		requestTimeout: timeout,
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))

	r.Get("/health", s.handleHealth)
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/recommendations", s.handleGetRecommendations)
		r.Get("/recommendations/filters", s.handleFilterOptions)
		r.Post("/recommendations/pregenerate", s.handlePreGenerate)

		r.Get("/supervision", s.handleLoadSupervision)
		r.Post("/supervision/visit", s.handleProcessVisit)
		r.Post("/supervision/save", s.handleSaveSession)
		r.Post("/supervision/abandon", s.handleAbandonSession)

		r.Post("/narrative/customer", s.handleAnalyzeCustomer)
		r.Post("/narrative/route", s.handleAnalyzeRoute)

		r.Post("/data/refresh", s.handleRefreshData)
	})

	return r
}

// handleHealth combines pool health with the data manager loading status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"status":       "ok",
		"pool":         s.db.Health(),
		"data_manager": s.data.Status(),
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleRefreshData re-runs the snapshot loads out of band.
func (s *Server) handleRefreshData(w http.ResponseWriter, r *http.Request) {
	if err := s.data.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.data.Status())
}
