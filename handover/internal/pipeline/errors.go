package pipeline

import (
	"context"
	"fmt"
	"time"
)

// StageError is a stage attempt that returned an error or panicked.
type StageError struct {
	Stage   string
	Attempt int
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s attempt %d: %v", e.Stage, e.Attempt, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// TimeoutError is a stage attempt that overran its own timeout.
type TimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stage %s timed out after %s", e.Stage, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// DataError is a stage that succeeded without producing data.
type DataError struct {
	Stage string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("stage %s returned no data", e.Stage)
}

// PipelineError is returned by Process when a stage fails after its retries
// and has no recovery handler, or the handler also failed.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed at stage %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
