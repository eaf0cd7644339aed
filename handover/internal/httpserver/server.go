package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"

	"github.com/ILLUVRSE/leo-handover/handover/internal/auth"
	"github.com/ILLUVRSE/leo-handover/handover/internal/config"
	"github.com/ILLUVRSE/leo-handover/handover/internal/executor"
	"github.com/ILLUVRSE/leo-handover/handover/internal/logging"
	"github.com/ILLUVRSE/leo-handover/handover/internal/metrics"
	"github.com/ILLUVRSE/leo-handover/handover/internal/orchestrator"
	"github.com/ILLUVRSE/leo-handover/handover/internal/selector"
	"github.com/ILLUVRSE/leo-handover/handover/internal/session"
	"github.com/ILLUVRSE/leo-handover/handover/internal/state"
	"github.com/ILLUVRSE/leo-handover/handover/internal/store"
)

const (
	requestTimeout = 60 * time.Second
	maxBodyBytes   = 4 << 20
)

type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Executor     *executor.Executor
	Selector     *selector.Selector
	State        *state.Manager
	Sessions     *session.Guard
	// Repository receives simulation experiment records; nil disables them.
	Repository store.Repository
	Auth       *auth.Verifier
}

type Server struct {
	cfg    config.Config
	deps   Deps
	logger logr.Logger
}

func New(cfg config.Config, deps Deps, logger logr.Logger) *Server {
	if deps.Auth == nil {
		deps.Auth = auth.NewVerifier(cfg)
	}
	return &Server{cfg: cfg, deps: deps, logger: logger.WithName("http")}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/executions", s.handleListExecutions)
		r.Get("/executions/{id}", s.handleGetExecution)
		r.Get("/handovers", s.handleHandoverHistory)
		r.Get("/selector/metrics", s.handleSelectorMetrics)
		r.Get("/scoring/stats", s.handleScoringStats)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)

		r.Group(func(r chi.Router) {
			r.Use(s.deps.Auth.Middleware)
			r.Post("/decisions", s.handleDecision)
			r.Post("/executions/{id}/rollback", s.handleRollback)
			r.Post("/executions/{id}/cancel", s.handleCancel)
			r.Put("/satellites", s.handleSetSatellites)
			r.Put("/network-conditions", s.handleNetworkConditions)
			r.Delete("/selector/metrics", s.handleResetSelectorMetrics)
			r.Post("/sessions", s.handleStartSession)
			r.Post("/sessions/{id}/stop", s.handleStopSession)
			r.Post("/sessions/{id}/pause", s.handlePauseSession)
			r.Post("/sessions/{id}/resume", s.handleResumeSession)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		log := s.logger.WithValues("requestId", middleware.GetReqID(r.Context()))
		next.ServeHTTP(ww, r.WithContext(logging.IntoContext(r.Context(), log)))
		log.V(logging.DEBUG).Info("request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "elapsed", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	h := s.deps.Orchestrator.HealthCheck(ctx)
	status := map[string]interface{}{
		"ok":      h.OverallHealth,
		"time":    time.Now().UTC(),
		"running": s.deps.Orchestrator.IsRunning(),
		"health":  h,
	}
	if !h.OverallHealth || !s.deps.Orchestrator.IsRunning() {
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.State.Snapshot()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":           s.deps.Orchestrator.ServiceStatus(),
		"performance":       s.deps.Orchestrator.PerformanceMetrics(),
		"executor":          s.deps.Executor.ResourceUsage(),
		"currentSatellite":  snap.CurrentSatellite,
		"satelliteCount":    len(snap.Satellites),
		"networkConditions": snap.NetworkConditions,
		"totalHandovers":    snap.TotalHandovers,
		"successfulCount":   snap.SuccessfulCount,
	})
}

func (s *Server) handleSelectorMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Selector.PerformanceMetrics())
}

func (s *Server) handleResetSelectorMetrics(w http.ResponseWriter, r *http.Request) {
	s.deps.Selector.ResetMetrics()
	s.deps.Selector.Engine().ResetStats()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleScoringStats(w http.ResponseWriter, r *http.Request) {
	engine := s.deps.Selector.Engine()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"stats":      engine.Stats(),
		"strategies": engine.Strategies(),
		"config":     engine.Config(),
	})
}

func queryLimit(r *http.Request, fallback int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
