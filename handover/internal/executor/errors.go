package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

var (
	ErrVerificationFailed = errors.New("handover verification failed")
	ErrCapacity           = errors.New("maximum concurrent executions reached")
	ErrNotFound           = errors.New("execution not found")
	ErrStillRunning       = errors.New("execution still running")
	ErrRollbackDisabled   = errors.New("rollback disabled")
)

// ExecutionError is a failure inside one execution phase.
type ExecutionError struct {
	ExecutionID string
	Phase       Phase
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution %s failed during %s: %v", e.ExecutionID, e.Phase, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

type ExecutionTimeoutError struct {
	ExecutionID string
	Phase       Phase
	Timeout     time.Duration
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("execution %s timed out after %s during %s", e.ExecutionID, e.Timeout, e.Phase)
}

func (e *ExecutionTimeoutError) Unwrap() error { return context.DeadlineExceeded }

// ExecutionValidationError lists every reason a decision was refused.
type ExecutionValidationError struct {
	Reasons []string
}

func (e *ExecutionValidationError) Error() string {
	return "decision failed validation: " + strings.Join(e.Reasons, "; ")
}

func (e *ExecutionValidationError) Is(target error) bool {
	return target == models.ErrInvalid
}
