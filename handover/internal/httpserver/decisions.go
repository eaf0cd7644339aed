package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ILLUVRSE/leo-handover/handover/internal/executor"
	"github.com/ILLUVRSE/leo-handover/handover/internal/logging"
	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

const defaultHistoryLimit = 50

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var raw models.RawEvent
	if err := decodeJSON(w, r, &raw); err != nil {
		respondError(w, http.StatusBadRequest, "invalid event: "+err.Error())
		return
	}
	if !s.deps.Orchestrator.IsRunning() {
		respondError(w, http.StatusServiceUnavailable, "orchestrator is not running")
		return
	}
	res := s.deps.Orchestrator.MakeHandoverDecision(r.Context(), raw)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	respondJSON(w, status, res)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	history := s.deps.Executor.ExecutionHistory(queryLimit(r, defaultHistoryLimit))
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"executions": history,
		"usage":      s.deps.Executor.ResourceUsage(),
	})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	p, ok := s.deps.Executor.MonitorExecution(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "execution not found")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.deps.Executor.RollbackDecision(r.Context(), id)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"executionId":      id,
			"rolledBack":       true,
			"currentSatellite": s.deps.Executor.CurrentSatellite(),
		})
	case errors.Is(err, executor.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, executor.ErrStillRunning), errors.Is(err, executor.ErrRollbackDisabled):
		respondError(w, http.StatusConflict, err.Error())
	default:
		logging.FromContext(r.Context(), s.logger).Error(err, "rollback failed", "executionId", id)
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.deps.Executor.CancelExecution(id) {
		respondError(w, http.StatusNotFound, "no active execution "+id)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{"executionId": id, "cancelled": true})
}

func (s *Server) handleHandoverHistory(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"currentSatellite": s.deps.State.CurrentSatellite(),
		"history":          s.deps.State.History(queryLimit(r, defaultHistoryLimit)),
	})
}

func (s *Server) handleSetSatellites(w http.ResponseWriter, r *http.Request) {
	var pool []models.RawSatellite
	if err := decodeJSON(w, r, &pool); err != nil {
		respondError(w, http.StatusBadRequest, "invalid satellite pool: "+err.Error())
		return
	}
	for i, sat := range pool {
		if id, _ := sat["satellite_id"].(string); id == "" {
			respondError(w, http.StatusBadRequest, "satellite "+strconv.Itoa(i)+" has no satellite_id")
			return
		}
	}
	s.deps.State.SetSatellitePool(pool)
	respondJSON(w, http.StatusOK, map[string]interface{}{"count": len(pool)})
}

func (s *Server) handleNetworkConditions(w http.ResponseWriter, r *http.Request) {
	var m map[string]float64
	if err := decodeJSON(w, r, &m); err != nil {
		respondError(w, http.StatusBadRequest, "invalid network conditions: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.deps.State.UpdateNetworkConditions(m))
}
