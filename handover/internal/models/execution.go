package models

import "time"

type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "PENDING"
	StatusRunning   ExecutionStatus = "RUNNING"
	StatusSuccess   ExecutionStatus = "SUCCESS"
	StatusFailed    ExecutionStatus = "FAILED"
	StatusCancelled ExecutionStatus = "CANCELLED"
	StatusTimeout   ExecutionStatus = "TIMEOUT"
)

// Terminal reports whether no further transition is possible.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// FailureKind tells failed results apart without parsing ErrorMessage.
type FailureKind string

const (
	FailureValidation   FailureKind = "validation"
	FailureCapacity     FailureKind = "capacity"
	FailureExecution    FailureKind = "execution"
	FailureVerification FailureKind = "verification"
	FailureTimeout      FailureKind = "timeout"
	FailureCancelled    FailureKind = "cancelled"
)

// ExecutionContext lets callers pin the execution id and timeout.
type ExecutionContext struct {
	ExecutionID string                 `json:"executionId"`
	Timestamp   time.Time              `json:"timestamp"`
	Timeout     time.Duration          `json:"timeout"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// RollbackPlan is captured before any state-changing step so an execution can
// always be undone.
type RollbackPlan struct {
	ExecutionID       string                 `json:"executionId"`
	PreviousSatellite string                 `json:"previousSatellite"`
	TargetSatellite   string                 `json:"targetSatellite"`
	Snapshot          map[string]interface{} `json:"snapshot"`
	Steps             []string               `json:"steps"`
	CreatedAt         time.Time              `json:"createdAt"`
}

// ExecutionResult is the outcome handed back to every caller of the
// orchestrator and executor. ExecutionTime is in seconds.
type ExecutionResult struct {
	Success            bool               `json:"success"`
	Status             ExecutionStatus    `json:"status"`
	ExecutionTime      float64            `json:"executionTime"`
	PerformanceMetrics map[string]float64 `json:"performanceMetrics"`
	ErrorMessage       string             `json:"errorMessage,omitempty"`
	FailureKind        FailureKind        `json:"failureKind,omitempty"`
	FailedPhase        string             `json:"failedPhase,omitempty"`
	ExecutionID        string             `json:"executionId"`
	Decision           *Decision          `json:"decision,omitempty"`
	RollbackData       *RollbackPlan      `json:"rollbackData,omitempty"`
	CompletedAt        time.Time          `json:"completedAt"`
}

// Failed builds a failed result with a human-readable message.
func Failed(executionID string, status ExecutionStatus, msg string, elapsed time.Duration) ExecutionResult {
	return ExecutionResult{
		Success:            false,
		Status:             status,
		ExecutionTime:      elapsed.Seconds(),
		PerformanceMetrics: map[string]float64{},
		ErrorMessage:       msg,
		ExecutionID:        executionID,
		CompletedAt:        time.Now().UTC(),
	}
}

// Clone copies the maps and pointers so the history ring never shares state
// with callers.
func (r ExecutionResult) Clone() ExecutionResult {
	out := r
	out.PerformanceMetrics = make(map[string]float64, len(r.PerformanceMetrics))
	for k, v := range r.PerformanceMetrics {
		out.PerformanceMetrics[k] = v
	}
	if r.Decision != nil {
		d := *r.Decision
		d.AlternativeOptions = append([]string(nil), r.Decision.AlternativeOptions...)
		out.Decision = &d
	}
	if r.RollbackData != nil {
		rb := *r.RollbackData
		rb.Steps = append([]string(nil), r.RollbackData.Steps...)
		out.RollbackData = &rb
	}
	return out
}

// HandoverRecord is one entry of the state manager's handover history.
type HandoverRecord struct {
	DecisionID      string          `json:"decisionId"`
	SourceSatellite string          `json:"sourceSatellite,omitempty"`
	TargetSatellite string          `json:"targetSatellite"`
	Algorithm       string          `json:"algorithm"`
	Confidence      float64         `json:"confidence"`
	Success         bool            `json:"success"`
	Status          ExecutionStatus `json:"status"`
	ExecutionTime   float64         `json:"executionTime"`
	Rollback        bool            `json:"rollback,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}
