// Package orchestrator runs one handover decision end to end: event
// normalization, candidate selection and scoring, the decision, its
// execution and the bookkeeping around it.
package orchestrator

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
	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
	"github.com/ILLUVRSE/leo-handover/handover/internal/pipeline"
)

// Stage names, in execution order.
const (
	StageEventProcessing    = "event_processing"
	StageCandidateSelection = "candidate_selection"
	StageDecision           = "decision"
	StageVisualization      = "visualization_trigger"
	StageExecution          = "decision_execution"
	StageResultProcessing   = "result_processing"
)

const (
	defaultEventType = "A4"
	latencyWindow    = 100
	keyDecision      = "decision"
)

var (
	ErrNotRunning   = errors.New("orchestrator is not running")
	ErrNoCandidates = errors.New("no viable handover candidates")
)

type Config struct {
	Retry         pipeline.RetryPolicy
	StageTimeouts map[string]time.Duration
	NotifyTimeout time.Duration
}

func DefaultStageTimeouts() map[string]time.Duration {
	return map[string]time.Duration{
		StageEventProcessing:    10 * time.Second,
		StageCandidateSelection: 15 * time.Second,
		StageDecision:           20 * time.Second,
		StageVisualization:      5 * time.Second,
		StageExecution:          30 * time.Second,
		StageResultProcessing:   5 * time.Second,
	}
}

func DefaultConfig() Config {
	return Config{
		Retry:         pipeline.DefaultRetryPolicy(),
		StageTimeouts: DefaultStageTimeouts(),
		NotifyTimeout: 2 * time.Second,
	}
}

type activeDecision struct {
	EventType string
	StartedAt time.Time
	cancel    context.CancelFunc
}

type Orchestrator struct {
	cfg      Config
	deps     Deps
	logger   logr.Logger
	pipeline *pipeline.Pipeline
	started  time.Time

	mu      sync.Mutex
	running bool
	active  map[string]*activeDecision

	statsMu   sync.Mutex
	summary   Summary
	latencies []float64
}

func New(cfg Config, deps Deps, logger logr.Logger) (*Orchestrator, error) {
	switch {
	case deps.Events == nil:
		return nil, errors.New("orchestrator: event processor required")
	case deps.Selector == nil:
		return nil, errors.New("orchestrator: candidate selector required")
	case deps.Provider == nil:
		return nil, errors.New("orchestrator: decision provider required")
	case deps.Executor == nil:
		return nil, errors.New("orchestrator: executor required")
	case deps.State == nil:
		return nil, errors.New("orchestrator: state store required")
	}
	if deps.Sink == nil {
		deps.Sink = noopSink{}
	}
	def := DefaultConfig()
	if cfg.StageTimeouts == nil {
		cfg.StageTimeouts = def.StageTimeouts
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = def.NotifyTimeout
	}

	o := &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.WithName("orchestrator"),
		started: time.Now(),
		active:  map[string]*activeDecision{},
		summary: Summary{ErrorsByEventType: map[string]int{}},
	}
	p, err := o.buildPipeline(logger)
	if err != nil {
		return nil, err
	}
	o.pipeline = p
	return o, nil
}

func (o *Orchestrator) buildPipeline(logger logr.Logger) (*pipeline.Pipeline, error) {
	never := func(error) bool { return false }
	keepData := func(name string) pipeline.RecoverFunc {
		return func(_ context.Context, err error, data interface{}, _ *pipeline.Context) (interface{}, error) {
			o.logger.Info("Stage failed, continuing", "stage", name, "error", err.Error())
			return data, nil
		}
	}
	stages := []pipeline.Stage{
		{
			Name:    StageEventProcessing,
			Process: o.processEvent,
			Retryable: func(err error) bool {
				return !errors.Is(err, models.ErrInvalid)
			},
		},
		{
			Name:    StageCandidateSelection,
			Process: o.selectCandidates,
			Retryable: func(err error) bool {
				return !errors.Is(err, ErrNoCandidates)
			},
		},
		{Name: StageDecision, Process: o.decide},
		{Name: StageVisualization, Process: o.triggerVisualization, Recover: keepData(StageVisualization), Retryable: never},
		{Name: StageExecution, Process: o.execute, Retryable: never},
		{Name: StageResultProcessing, Process: o.processResult, Recover: keepData(StageResultProcessing), Retryable: never},
	}
	p := pipeline.New("handover_decision", o.cfg.Retry, logger)
	for _, s := range stages {
		s.Timeout = o.cfg.StageTimeouts[s.Name]
		if err := p.AddStage(s); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Start marks the orchestrator as accepting decisions.
func (o *Orchestrator) Start(_ context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = true
	o.logger.Info("Orchestrator started", "stages", o.pipeline.Stages())
	return nil
}

// Stop rejects new decisions, cancels in-flight ones and waits for them to
// return or for ctx to expire.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	o.running = false
	for id, a := range o.active {
		o.logger.V(logging.VERBOSE).Info("Cancelling active decision", "decisionId", id)
		a.cancel()
	}
	o.mu.Unlock()

	for {
		if o.activeCount() == 0 {
			o.logger.Info("Orchestrator stopped")
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("stop orchestrator: %w", ctx.Err())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) activeCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

func (o *Orchestrator) admit(ctx context.Context, id, eventType string) (context.Context, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return ctx, false
	}
	dctx, cancel := context.WithCancel(ctx)
	o.active[id] = &activeDecision{EventType: eventType, StartedAt: time.Now(), cancel: cancel}
	return dctx, true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if a, ok := o.active[id]; ok {
		a.cancel()
		delete(o.active, id)
	}
}

// MakeHandoverDecision runs the full decision pipeline for raw. It never
// returns an error: every failure, including a panic, comes back as a FAILED
// result whose ExecutionID is the decision id.
func (o *Orchestrator) MakeHandoverDecision(ctx context.Context, raw models.RawEvent) (result models.ExecutionResult) {
	start := time.Now()
	decisionID := uuid.NewString()
	eventType := eventTypeOf(raw)
	log := o.logger.WithValues("decisionId", decisionID, "eventType", eventType)
	var pc *pipeline.Context

	defer func() {
		if r := recover(); r != nil {
			result = o.fail(ctx, log, decisionID, eventType, pc, fmt.Errorf("panic: %v", r), start)
		}
	}()

	dctx, ok := o.admit(ctx, decisionID, eventType)
	if !ok {
		return o.fail(ctx, log, decisionID, eventType, nil, ErrNotRunning, start)
	}
	defer o.release(decisionID)
	dctx = logging.IntoContext(dctx, log)

	log.Info("Starting handover decision")
	o.notify(dctx, models.Notification{
		Type:       models.NotifyStart,
		DecisionID: decisionID,
		Payload:    map[string]interface{}{"event_type": eventType, "event_data": map[string]interface{}(raw)},
	})

	pc = pipeline.NewContext()
	pc.ExecutionID = decisionID
	out, err := o.pipeline.Process(dctx, &run{id: decisionID, eventType: eventType, raw: raw}, pc)
	if err != nil {
		return o.fail(ctx, log, decisionID, eventType, pc, err, start)
	}
	res := out.(*run).result
	elapsed := time.Since(start)

	metrics.RecordDecision(res.Success, elapsed)
	o.record(eventType, res.Success, elapsed, false)
	o.notify(dctx, models.Notification{
		Type:       models.NotifyComplete,
		DecisionID: decisionID,
		Payload: map[string]interface{}{
			"success":             res.Success,
			"status":              string(res.Status),
			"execution_time":      res.ExecutionTime,
			"performance_metrics": res.PerformanceMetrics,
		},
	})
	log.Info("Handover decision completed", "success", res.Success, "status", string(res.Status), "elapsed", elapsed)
	return res
}

func (o *Orchestrator) fail(ctx context.Context, log logr.Logger, id, eventType string, pc *pipeline.Context, err error, start time.Time) models.ExecutionResult {
	elapsed := time.Since(start)
	metrics.RecordDecision(false, elapsed)
	metrics.RecordDecisionError(eventType)
	o.record(eventType, false, elapsed, true)

	res := models.Failed(id, models.StatusFailed, err.Error(), elapsed)
	if pc != nil {
		if v, ok := pc.Get(keyDecision); ok {
			if d, ok := v.(models.Decision); ok {
				res.Decision = &d
			}
		}
	}
	o.notify(ctx, models.Notification{
		Type:       models.NotifyError,
		DecisionID: id,
		Payload:    map[string]interface{}{"error": err.Error(), "event_type": eventType},
	})
	log.Error(err, "Handover decision failed", "elapsed", elapsed)
	return res
}

// notify delivers n best effort. Sink errors are logged and dropped.
func (o *Orchestrator) notify(ctx context.Context, n models.Notification) {
	if err := o.send(ctx, n); err != nil {
		o.logger.V(logging.VERBOSE).Info("Notification failed", "type", string(n.Type), "decisionId", n.DecisionID, "error", err.Error())
	}
}

func (o *Orchestrator) send(ctx context.Context, n models.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.NotifyTimeout)
	defer cancel()
	return o.deps.Sink.Notify(nctx, n)
}

func eventTypeOf(raw models.RawEvent) string {
	if t, ok := raw["event_type"].(string); ok && t != "" {
		return t
	}
	return defaultEventType
}
