package models

import (
	"encoding/json"
	"time"
)

type SessionStatus string

const (
	SessionIdle      SessionStatus = "IDLE"
	SessionQueued    SessionStatus = "QUEUED"
	SessionActive    SessionStatus = "ACTIVE"
	SessionPaused    SessionStatus = "PAUSED"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionStopped   SessionStatus = "STOPPED"
	SessionError     SessionStatus = "ERROR"
)

func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionStopped || s == SessionError
}

// Session is a single-flight background unit of work bound to a key.
type Session struct {
	ID           string                 `json:"id"`
	Key          string                 `json:"key"`
	Status       SessionStatus          `json:"status"`
	CurrentStep  int                    `json:"currentStep"`
	TotalSteps   int                    `json:"totalSteps"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
	FinishedAt   *time.Time             `json:"finishedAt,omitempty"`
}

// Progress is the completed fraction in [0,1].
func (s Session) Progress() float64 {
	if s.TotalSteps <= 0 {
		return 0
	}
	p := float64(s.CurrentStep) / float64(s.TotalSteps)
	if p > 1 {
		return 1
	}
	return p
}

// ExperimentRecord stores the parameters and outcome of one session run.
type ExperimentRecord struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"sessionId"`
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
	Results    json.RawMessage `json:"results"`
	CreatedAt  time.Time       `json:"createdAt"`
}
