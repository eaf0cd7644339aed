package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
	"github.com/ILLUVRSE/leo-handover/handover/internal/session"
)

const defaultSessionKey = "simulation"

type startSessionRequest struct {
	Key        string            `json:"key"`
	Name       string            `json:"name"`
	Events     []models.RawEvent `json:"events"`
	Steps      int               `json:"steps"`
	IntervalMS int               `json:"intervalMs"`
}

type sessionResponse struct {
	models.Session
	Progress float64 `json:"progress"`
}

func withProgress(s models.Session) sessionResponse {
	return sessionResponse{Session: s, Progress: s.Progress()}
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Key == "" {
		req.Key = defaultSessionKey
	}
	sim := session.Simulation{
		Name:     req.Name,
		Events:   req.Events,
		Steps:    req.Steps,
		Interval: time.Duration(req.IntervalMS) * time.Millisecond,
	}
	if err := sim.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.deps.Sessions.Start(r.Context(), req.Key, sim.TotalSteps(), sim.Work(s.deps.Orchestrator, s.deps.Repository))
	if err != nil {
		s.respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, withProgress(sess))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list := s.deps.Sessions.List()
	out := make([]sessionResponse, 0, len(list))
	for _, sess := range list {
		out = append(out, withProgress(sess))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, withProgress(sess))
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Stop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, withProgress(sess))
}

func (s *Server) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Pause(chi.URLParam(r, "id"))
	if err != nil {
		s.respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, withProgress(sess))
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Resume(chi.URLParam(r, "id"))
	if err != nil {
		s.respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, withProgress(sess))
}

func (s *Server) respondSessionError(w http.ResponseWriter, err error) {
	var conflict *session.ConflictError
	switch {
	case errors.As(err, &conflict):
		respondJSON(w, http.StatusConflict, map[string]string{"error": err.Error(), "sessionId": conflict.SessionID})
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrInvalid):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(err, "session request failed")
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
