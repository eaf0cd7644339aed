// Package pipeline runs data through an ordered list of named stages with
// per-stage timeouts, bounded retries and optional recovery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/ILLUVRSE/leo-handover/handover/internal/logging"
	"github.com/ILLUVRSE/leo-handover/handover/internal/metrics"
)

const maxHistory = 100

// ProcessFunc transforms data. Returning nil data with a nil error is a
// DataError.
type ProcessFunc func(ctx context.Context, data interface{}, pc *Context) (interface{}, error)

// RecoverFunc may substitute data for a stage that exhausted its retries.
type RecoverFunc func(ctx context.Context, err error, data interface{}, pc *Context) (interface{}, error)

type Stage struct {
	Name    string
	Process ProcessFunc
	// Timeout bounds each attempt. Zero means no stage timeout.
	Timeout time.Duration
	Recover RecoverFunc
	// Retryable reports whether a failed attempt may be retried. Nil retries
	// every failure.
	Retryable func(err error) bool
}

type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

type RetryPolicy struct {
	MaxRetries int
	Backoff    Backoff
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		Backoff:    BackoffExponential,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   2 * time.Second,
	}
}

// Delay returns the wait before retry number n (1-based).
func (r RetryPolicy) Delay(n int) time.Duration {
	d := r.BaseDelay
	if r.Backoff == BackoffExponential {
		for i := 1; i < n; i++ {
			d *= 2
			if r.MaxDelay > 0 && d >= r.MaxDelay {
				break
			}
		}
	}
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	return d
}

// StageMetrics aggregates every attempt of one stage across runs.
type StageMetrics struct {
	Executions    int           `json:"executions"`
	Errors        int           `json:"errors"`
	TotalDuration time.Duration `json:"totalDuration"`
	AvgDuration   time.Duration `json:"avgDuration"`
	SuccessRate   float64       `json:"successRate"`
	LastError     string        `json:"lastError,omitempty"`
}

// RunRecord is one Process call kept in the bounded history.
type RunRecord struct {
	ExecutionID string        `json:"executionId"`
	StartedAt   time.Time     `json:"startedAt"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	Stages      []StageRecord `json:"stages"`
	Error       string        `json:"error,omitempty"`
}

type Stats struct {
	Name           string                  `json:"name"`
	Stages         []string                `json:"stages"`
	TotalRuns      int                     `json:"totalRuns"`
	SuccessfulRuns int                     `json:"successfulRuns"`
	SuccessRate    float64                 `json:"successRate"`
	AvgDuration    time.Duration           `json:"avgDuration"`
	StageMetrics   map[string]StageMetrics `json:"stageMetrics"`
	Recent         []RunRecord             `json:"recent"`
}

type Pipeline struct {
	name   string
	logger logr.Logger
	policy RetryPolicy

	mu     sync.RWMutex
	stages []Stage

	statsMu       sync.Mutex
	stageMetrics  map[string]StageMetrics
	history       []RunRecord
	totalRuns     int
	successRuns   int
	totalDuration time.Duration
}

func New(name string, policy RetryPolicy, logger logr.Logger) *Pipeline {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	return &Pipeline{
		name:         name,
		logger:       logger.WithName("pipeline").WithValues("pipeline", name),
		policy:       policy,
		stageMetrics: map[string]StageMetrics{},
	}
}

func (p *Pipeline) AddStage(s Stage) error {
	if s.Name == "" {
		return errors.New("pipeline: stage name is required")
	}
	if s.Process == nil {
		return fmt.Errorf("pipeline: stage %s has no process function", s.Name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.stages {
		if existing.Name == s.Name {
			return fmt.Errorf("pipeline: duplicate stage %s", s.Name)
		}
	}
	p.stages = append(p.stages, s)
	return nil
}

// Stages lists stage names in execution order.
func (p *Pipeline) Stages() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Process runs initial through every stage in order. pc may be nil; an
// execution id is generated when pc carries none.
func (p *Pipeline) Process(ctx context.Context, initial interface{}, pc *Context) (interface{}, error) {
	if pc == nil {
		pc = NewContext()
	}
	if pc.ExecutionID == "" {
		pc.ExecutionID = uuid.NewString()
	}
	pc.StartedAt = time.Now()

	p.mu.RLock()
	stages := append([]Stage(nil), p.stages...)
	p.mu.RUnlock()

	data := initial
	var runErr error
	for i, stage := range stages {
		pc.StageIndex = i
		pc.StageName = stage.Name
		out, err := p.runStage(ctx, stage, data, pc)
		if err != nil {
			runErr = &PipelineError{Stage: stage.Name, Err: err}
			break
		}
		data = out
	}

	p.finishRun(pc, runErr)
	if runErr != nil {
		p.logger.Error(runErr, "Pipeline run failed", "executionID", pc.ExecutionID)
		return nil, runErr
	}
	p.logger.V(logging.DEBUG).Info("Pipeline run finished", "executionID", pc.ExecutionID, "stages", len(stages))
	return data, nil
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, data interface{}, pc *Context) (interface{}, error) {
	start := time.Now()
	rec := StageRecord{Stage: stage.Name}
	var lastErr error
	for attempt := 1; attempt <= p.policy.MaxRetries+1; attempt++ {
		if attempt > 1 {
			delay := p.policy.Delay(attempt - 1)
			p.logger.V(logging.VERBOSE).Info("Retrying stage", "stage", stage.Name, "attempt", attempt, "delay", delay)
			if err := sleep(ctx, delay); err != nil {
				lastErr = &StageError{Stage: stage.Name, Attempt: attempt, Err: err}
				break
			}
		}
		rec.Attempts++
		t0 := time.Now()
		out, err := p.attempt(ctx, stage, attempt, data, pc)
		p.recordAttempt(stage.Name, err, time.Since(t0))
		if err == nil {
			rec.Success = true
			rec.Duration = time.Since(start)
			pc.appendRecord(rec)
			return out, nil
		}
		lastErr = err
		p.logger.V(logging.DEBUG).Info("Stage attempt failed", "stage", stage.Name, "attempt", attempt, "error", err.Error())
		if ctx.Err() != nil {
			break
		}
		if stage.Retryable != nil && !stage.Retryable(err) {
			break
		}
	}

	rec.Error = lastErr.Error()
	if stage.Recover != nil && ctx.Err() == nil {
		out, err := stage.Recover(ctx, lastErr, data, pc)
		if err == nil && out != nil {
			rec.Recovered = true
			rec.Duration = time.Since(start)
			pc.appendRecord(rec)
			p.logger.Info("Stage recovered after failure", "stage", stage.Name, "error", lastErr.Error())
			return out, nil
		}
		if err == nil {
			err = &DataError{Stage: stage.Name}
		}
		lastErr = fmt.Errorf("recovery failed: %w (after %v)", err, lastErr)
	}
	rec.Duration = time.Since(start)
	pc.appendRecord(rec)
	return nil, lastErr
}

// attempt runs a single try under the stage timeout. A panic inside Process
// is reported as a StageError.
func (p *Pipeline) attempt(ctx context.Context, stage Stage, n int, data interface{}, pc *Context) (interface{}, error) {
	sctx := ctx
	if stage.Timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, stage.Timeout)
		defer cancel()
	}

	type outcome struct {
		data interface{}
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := stage.Process(sctx, data, pc)
		done <- outcome{data: out, err: err}
	}()

	select {
	case res := <-done:
		switch {
		case res.err != nil && sctx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
			return nil, &TimeoutError{Stage: stage.Name, Timeout: stage.Timeout}
		case res.err != nil:
			return nil, &StageError{Stage: stage.Name, Attempt: n, Err: res.err}
		case res.data == nil:
			return nil, &DataError{Stage: stage.Name}
		}
		return res.data, nil
	case <-sctx.Done():
		if ctx.Err() == nil {
			return nil, &TimeoutError{Stage: stage.Name, Timeout: stage.Timeout}
		}
		return nil, &StageError{Stage: stage.Name, Attempt: n, Err: ctx.Err()}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (p *Pipeline) recordAttempt(stage string, err error, elapsed time.Duration) {
	metrics.RecordStage(stage, err == nil, elapsed)
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	m := p.stageMetrics[stage]
	m.Executions++
	m.TotalDuration += elapsed
	if err != nil {
		m.Errors++
		m.LastError = err.Error()
	}
	m.AvgDuration = m.TotalDuration / time.Duration(m.Executions)
	m.SuccessRate = float64(m.Executions-m.Errors) / float64(m.Executions)
	p.stageMetrics[stage] = m
}

func (p *Pipeline) finishRun(pc *Context, err error) {
	elapsed := time.Since(pc.StartedAt)
	run := RunRecord{
		ExecutionID: pc.ExecutionID,
		StartedAt:   pc.StartedAt,
		Duration:    elapsed,
		Success:     err == nil,
		Stages:      pc.History(),
	}
	if err != nil {
		run.Error = err.Error()
	}
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.totalRuns++
	p.totalDuration += elapsed
	if err == nil {
		p.successRuns++
	}
	p.history = append(p.history, run)
	if len(p.history) > maxHistory {
		p.history = append([]RunRecord(nil), p.history[len(p.history)-maxHistory:]...)
	}
}

// Stats returns a snapshot of run counters, per-stage metrics and the most
// recent runs.
func (p *Pipeline) Stats() Stats {
	names := p.Stages()
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	s := Stats{
		Name:           p.name,
		Stages:         names,
		TotalRuns:      p.totalRuns,
		SuccessfulRuns: p.successRuns,
		StageMetrics:   make(map[string]StageMetrics, len(p.stageMetrics)),
		Recent:         append([]RunRecord(nil), p.history...),
	}
	if p.totalRuns > 0 {
		s.SuccessRate = float64(p.successRuns) / float64(p.totalRuns)
		s.AvgDuration = p.totalDuration / time.Duration(p.totalRuns)
	}
	for k, v := range p.stageMetrics {
		s.StageMetrics[k] = v
	}
	return s
}
