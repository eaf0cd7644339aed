// Package executor carries out handover decisions in prepare, execute and
// verify phases under a concurrency ceiling, keeping a rollback plan for each
// execution.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/ILLUVRSE/leo-handover/handover/internal/logging"
	"github.com/ILLUVRSE/leo-handover/handover/internal/metrics"
	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

const maxHistory = 1000

type Config struct {
	DefaultTimeout   time.Duration
	MaxConcurrent    int
	RetryEnabled     bool
	RollbackEnabled  bool
	MinConfidence    float64
	MinSignalQuality float64
	SupportedTypes   []string
	// PhaseTimeScale is handed to the simulated actuator.
	PhaseTimeScale float64
}

func DefaultConfig() Config {
	return Config{
		DefaultTimeout:   30 * time.Second,
		MaxConcurrent:    10,
		RetryEnabled:     true,
		RollbackEnabled:  true,
		MinConfidence:    0.1,
		MinSignalQuality: 0.7,
		SupportedTypes:   []string{"A3", "A4", "A5", "D1", "D2", "T1"},
		PhaseTimeScale:   0.01,
	}
}

type execution struct {
	id        string
	decision  models.Decision
	phase     Phase
	startedAt time.Time
	cancel    context.CancelFunc
	cancelled bool
	hooks     []func()
}

// Progress is the view MonitorExecution returns.
type Progress struct {
	ExecutionID string                  `json:"executionId"`
	Status      models.ExecutionStatus  `json:"status"`
	Phase       Phase                   `json:"phase"`
	Elapsed     time.Duration           `json:"elapsed"`
	Completed   bool                    `json:"completed"`
	Success     bool                    `json:"success"`
	Cancelled   bool                    `json:"cancelled"`
	Result      *models.ExecutionResult `json:"result,omitempty"`
}

type ResourceUsage struct {
	ActiveExecutions int     `json:"activeExecutions"`
	MaxConcurrent    int     `json:"maxConcurrent"`
	TotalExecutions  int     `json:"totalExecutions"`
	SuccessRate      float64 `json:"successRate"`
	AvgExecutionTime float64 `json:"avgExecutionTime"`
	RollbackPlans    int     `json:"rollbackPlans"`
}

type Executor struct {
	logger   logr.Logger
	cfg      Config
	actuator HandoverActuator
	types    map[string]bool

	mu        sync.Mutex
	active    map[string]*execution
	rollbacks map[string]models.RollbackPlan
	history   []models.ExecutionResult
	current   string
	total     int
	successes int
	totalTime float64

	onRollback func(models.RollbackPlan)
}

// New returns an executor. A nil actuator selects SimulatedActuator scaled by
// cfg.PhaseTimeScale.
func New(cfg Config, actuator HandoverActuator, logger logr.Logger) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if len(cfg.SupportedTypes) == 0 {
		cfg.SupportedTypes = DefaultConfig().SupportedTypes
	}
	if actuator == nil {
		actuator = SimulatedActuator{Scale: cfg.PhaseTimeScale}
	}
	types := make(map[string]bool, len(cfg.SupportedTypes))
	for _, t := range cfg.SupportedTypes {
		types[t] = true
	}
	return &Executor{
		logger:    logger.WithName("executor"),
		cfg:       cfg,
		actuator:  actuator,
		types:     types,
		active:    map[string]*execution{},
		rollbacks: map[string]models.RollbackPlan{},
	}
}

func (e *Executor) validate(d models.Decision) []string {
	var reasons []string
	if d.SelectedSatellite == "" {
		reasons = append(reasons, "no target satellite")
	}
	if math.IsNaN(d.Confidence) || d.Confidence < e.cfg.MinConfidence || d.Confidence > 1 {
		reasons = append(reasons, fmt.Sprintf("confidence %.3f outside [%.2f,1]", d.Confidence, e.cfg.MinConfidence))
	}
	plan := d.ExecutionPlan
	switch {
	case plan.Empty():
		reasons = append(reasons, "missing execution plan")
	case !e.types[plan.HandoverType]:
		reasons = append(reasons, fmt.Sprintf("unsupported handover type %q", plan.HandoverType))
	}
	if plan.PreparationTime < 0 || plan.ExecutionTime < 0 || plan.VerificationTime < 0 {
		reasons = append(reasons, "negative phase time")
	}
	return reasons
}

// ValidateDecision reports whether d can be executed. Reasons for refusal are
// logged.
func (e *Executor) ValidateDecision(d models.Decision) bool {
	reasons := e.validate(d)
	if len(reasons) > 0 {
		e.logger.V(logging.VERBOSE).Info("Decision rejected", "satellite", d.SelectedSatellite, "reasons", reasons)
		return false
	}
	return true
}

// ExecuteDecision runs d to completion and always returns a result. ec may be
// nil; its ExecutionID and Timeout override the defaults when set.
func (e *Executor) ExecuteDecision(ctx context.Context, d models.Decision, ec *models.ExecutionContext) models.ExecutionResult {
	start := time.Now()
	id := uuid.NewString()
	timeout := e.cfg.DefaultTimeout
	if ec != nil {
		if ec.ExecutionID != "" {
			id = ec.ExecutionID
		}
		if ec.Timeout > 0 {
			timeout = ec.Timeout
		}
	}

	if e.atCapacity() {
		return e.reject(id, start, d, ErrCapacity)
	}
	if reasons := e.validate(d); len(reasons) > 0 {
		return e.reject(id, start, d, &ExecutionValidationError{Reasons: reasons})
	}

	ectx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	exec := &execution{id: id, decision: d, phase: PhaseQueued, startedAt: start, cancel: cancel}
	plan, err := e.register(exec)
	if err != nil {
		return e.reject(id, start, d, err)
	}
	defer e.release(id)

	e.logger.V(logging.DEBUG).Info("Executing handover", "executionID", id,
		"satellite", d.SelectedSatellite, "type", d.ExecutionPlan.HandoverType)

	verification, phase, err := e.runPhases(ectx, exec)
	result := models.ExecutionResult{
		ExecutionID:        id,
		ExecutionTime:      time.Since(start).Seconds(),
		PerformanceMetrics: map[string]float64{},
		Decision:           &d,
		RollbackData:       plan,
		CompletedAt:        time.Now().UTC(),
	}
	switch {
	case err == nil:
		result.Success = true
		result.Status = models.StatusSuccess
		result.PerformanceMetrics = map[string]float64{
			"handover_success_rate": 1,
			"signal_quality":        verification.SignalQuality,
			"latency":               verification.Latency,
			"packet_loss":           verification.PacketLoss,
			"throughput":            verification.Throughput,
		}
		e.mu.Lock()
		e.current = d.SelectedSatellite
		e.mu.Unlock()
	case e.wasCancelled(id) || errors.Is(err, context.Canceled):
		result.Status = models.StatusCancelled
		result.FailureKind = models.FailureCancelled
		result.ErrorMessage = fmt.Sprintf("execution %s cancelled during %s", id, phase)
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = models.StatusTimeout
		result.FailureKind = models.FailureTimeout
		result.ErrorMessage = (&ExecutionTimeoutError{ExecutionID: id, Phase: phase, Timeout: timeout}).Error()
	case errors.Is(err, ErrVerificationFailed):
		result.Status = models.StatusFailed
		result.FailureKind = models.FailureVerification
		result.ErrorMessage = (&ExecutionError{ExecutionID: id, Phase: phase, Err: err}).Error()
	default:
		result.Status = models.StatusFailed
		result.FailureKind = models.FailureExecution
		result.ErrorMessage = (&ExecutionError{ExecutionID: id, Phase: phase, Err: err}).Error()
	}
	if !result.Success {
		result.FailedPhase = string(phase)
		result.PerformanceMetrics["handover_success_rate"] = 0
		e.logger.Info("Handover execution did not succeed", "executionID", id,
			"status", result.Status, "error", result.ErrorMessage)
	}
	e.finish(result)
	return result.Clone()
}

func (e *Executor) runPhases(ctx context.Context, exec *execution) (Verification, Phase, error) {
	d := exec.decision
	e.setPhase(exec.id, PhasePrepare)
	if err := e.actuator.Prepare(ctx, d); err != nil {
		return Verification{}, PhasePrepare, err
	}

	e.setPhase(exec.id, PhaseExecute)
	attempts := 1
	if e.cfg.RetryEnabled {
		attempts = 2
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = e.actuator.Execute(ctx, d); err == nil || ctx.Err() != nil {
			break
		}
		e.logger.V(logging.VERBOSE).Info("Retrying execute phase", "executionID", exec.id, "error", err.Error())
	}
	if err != nil {
		return Verification{}, PhaseExecute, err
	}

	e.setPhase(exec.id, PhaseVerify)
	v, err := e.actuator.Verify(ctx, d)
	if err != nil {
		return Verification{}, PhaseVerify, err
	}
	if v.SignalQuality < e.cfg.MinSignalQuality {
		return v, PhaseVerify, fmt.Errorf("%w: signal quality %.3f below %.3f",
			ErrVerificationFailed, v.SignalQuality, e.cfg.MinSignalQuality)
	}
	e.setPhase(exec.id, PhaseComplete)
	return v, PhaseComplete, nil
}

func (e *Executor) atCapacity() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active) >= e.cfg.MaxConcurrent
}

// register admits exec and captures its rollback plan in one critical
// section.
func (e *Executor) register(exec *execution) (*models.RollbackPlan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.active) >= e.cfg.MaxConcurrent {
		return nil, ErrCapacity
	}
	if _, ok := e.active[exec.id]; ok {
		return nil, fmt.Errorf("execution %s already running", exec.id)
	}
	e.active[exec.id] = exec
	metrics.SetActiveExecutions(len(e.active))

	plan := models.RollbackPlan{
		ExecutionID:       exec.id,
		PreviousSatellite: e.current,
		TargetSatellite:   exec.decision.SelectedSatellite,
		Snapshot: map[string]interface{}{
			"previous_satellite": e.current,
			"handover_type":      exec.decision.ExecutionPlan.HandoverType,
			"active_executions":  len(e.active),
		},
		Steps:     []string{"release_target_resources", "restore_previous_link", "notify_core_network"},
		CreatedAt: time.Now().UTC(),
	}
	if e.cfg.RollbackEnabled {
		e.rollbacks[exec.id] = plan
	}
	return &plan, nil
}

func (e *Executor) release(id string) {
	e.mu.Lock()
	exec, ok := e.active[id]
	delete(e.active, id)
	n := len(e.active)
	e.mu.Unlock()
	if ok {
		exec.cancel()
	}
	metrics.SetActiveExecutions(n)
}

func (e *Executor) setPhase(id string, p Phase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if exec, ok := e.active[id]; ok {
		exec.phase = p
	}
}

func (e *Executor) wasCancelled(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.active[id]
	return ok && exec.cancelled
}

func (e *Executor) reject(id string, start time.Time, d models.Decision, err error) models.ExecutionResult {
	e.logger.Info("Handover execution rejected", "executionID", id, "error", err.Error())
	result := models.Failed(id, models.StatusFailed, err.Error(), time.Since(start))
	result.Decision = &d
	switch {
	case errors.Is(err, ErrCapacity):
		result.FailureKind = models.FailureCapacity
	case errors.Is(err, models.ErrInvalid):
		result.FailureKind = models.FailureValidation
	default:
		result.FailureKind = models.FailureExecution
	}
	e.finish(result)
	return result.Clone()
}

func (e *Executor) finish(result models.ExecutionResult) {
	metrics.RecordExecution(string(result.Status))
	e.mu.Lock()
	defer e.mu.Unlock()
	e.total++
	e.totalTime += result.ExecutionTime
	if result.Success {
		e.successes++
	}
	e.history = append(e.history, result.Clone())
	if len(e.history) > maxHistory {
		evicted := e.history[:len(e.history)-maxHistory]
		e.history = append([]models.ExecutionResult(nil), e.history[len(e.history)-maxHistory:]...)
		for _, r := range evicted {
			if !e.inHistoryLocked(r.ExecutionID) {
				delete(e.rollbacks, r.ExecutionID)
			}
		}
	}
}

func (e *Executor) inHistoryLocked(id string) bool {
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].ExecutionID == id {
			return true
		}
	}
	return false
}

// MonitorExecution reports an active execution or the latest recorded result
// for id.
func (e *Executor) MonitorExecution(id string) (Progress, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if exec, ok := e.active[id]; ok {
		return Progress{
			ExecutionID: id,
			Status:      models.StatusRunning,
			Phase:       exec.phase,
			Elapsed:     time.Since(exec.startedAt),
			Cancelled:   exec.cancelled,
		}, true
	}
	for i := len(e.history) - 1; i >= 0; i-- {
		r := e.history[i]
		if r.ExecutionID != id {
			continue
		}
		res := r.Clone()
		return Progress{
			ExecutionID: id,
			Status:      r.Status,
			Phase:       PhaseComplete,
			Elapsed:     time.Duration(r.ExecutionTime * float64(time.Second)),
			Completed:   true,
			Success:     r.Success,
			Cancelled:   r.Status == models.StatusCancelled,
			Result:      &res,
		}, true
	}
	return Progress{}, false
}

// RollbackDecision undoes a finished execution. A plan is consumed by the
// first successful rollback.
func (e *Executor) RollbackDecision(ctx context.Context, id string) error {
	if !e.cfg.RollbackEnabled {
		return ErrRollbackDisabled
	}
	e.mu.Lock()
	if _, running := e.active[id]; running {
		e.mu.Unlock()
		return fmt.Errorf("rollback %s: %w", id, ErrStillRunning)
	}
	plan, ok := e.rollbacks[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("rollback %s: %w", id, ErrNotFound)
	}
	delete(e.rollbacks, id)
	e.mu.Unlock()

	if err := e.actuator.Rollback(ctx, plan); err != nil {
		e.mu.Lock()
		e.rollbacks[id] = plan
		e.mu.Unlock()
		return &ExecutionError{ExecutionID: id, Phase: "rollback", Err: err}
	}
	e.mu.Lock()
	if e.current == plan.TargetSatellite {
		e.current = plan.PreviousSatellite
	}
	hook := e.onRollback
	e.mu.Unlock()
	e.logger.Info("Handover rolled back", "executionID", id,
		"from", plan.TargetSatellite, "to", plan.PreviousSatellite)
	if hook != nil {
		hook(plan)
	}
	return nil
}

// OnRollback registers fn to run after every successful rollback.
func (e *Executor) OnRollback(fn func(models.RollbackPlan)) {
	e.mu.Lock()
	e.onRollback = fn
	e.mu.Unlock()
}

// CancelExecution marks an active execution cancelled, cancels its context
// and runs its hooks. It reports false for unknown or finished ids.
func (e *Executor) CancelExecution(id string) bool {
	e.mu.Lock()
	exec, ok := e.active[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	exec.cancelled = true
	hooks := append([]func(){}, exec.hooks...)
	e.mu.Unlock()

	exec.cancel()
	for _, fn := range hooks {
		fn()
	}
	e.logger.Info("Handover execution cancelled", "executionID", id)
	return true
}

// RegisterCancelHook attaches fn to an active execution.
func (e *Executor) RegisterCancelHook(id string, fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.active[id]
	if !ok {
		return false
	}
	exec.hooks = append(exec.hooks, fn)
	return true
}

// typeMultipliers scale the preparation and act phases per handover type.
var typeMultipliers = map[string]float64{
	"A3": 1.0,
	"A4": 1.0,
	"A5": 1.2,
	"D1": 0.9,
	"D2": 1.3,
	"T1": 0.8,
}

// EstimateExecutionTime returns the expected seconds for d. The planned
// preparation and act time is scaled by the handover type, verification
// grows as confidence drops, and the mean of past successful executions of
// the same type is weighted at 70% once available.
func (e *Executor) EstimateExecutionTime(d models.Decision) float64 {
	plan := d.ExecutionPlan
	act := (plan.PreparationTime + plan.ExecutionTime) / 1000
	verify := plan.VerificationTime / 1000
	if act+verify <= 0 {
		act, verify = 2.5, 0.5
	}
	mult, ok := typeMultipliers[plan.HandoverType]
	if !ok {
		mult = 1.0
	}
	conf := d.Confidence
	if math.IsNaN(conf) {
		conf = 0
	}
	conf = math.Max(0, math.Min(1, conf))
	estimate := act*mult + verify*(2-conf)

	e.mu.Lock()
	defer e.mu.Unlock()
	var sum float64
	var n int
	for _, r := range e.history {
		if !r.Success || r.Decision == nil || r.Decision.ExecutionPlan.HandoverType != plan.HandoverType {
			continue
		}
		sum += r.ExecutionTime
		n++
	}
	if n == 0 {
		return estimate
	}
	return 0.3*estimate + 0.7*(sum/float64(n))
}

// ExecutionHistory returns up to limit most recent results, oldest first. A
// non-positive limit returns everything.
func (e *Executor) ExecutionHistory(limit int) []models.ExecutionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	from := 0
	if limit > 0 && len(e.history) > limit {
		from = len(e.history) - limit
	}
	out := make([]models.ExecutionResult, 0, len(e.history)-from)
	for _, r := range e.history[from:] {
		out = append(out, r.Clone())
	}
	return out
}

func (e *Executor) ResourceUsage() ResourceUsage {
	e.mu.Lock()
	defer e.mu.Unlock()
	u := ResourceUsage{
		ActiveExecutions: len(e.active),
		MaxConcurrent:    e.cfg.MaxConcurrent,
		TotalExecutions:  e.total,
		RollbackPlans:    len(e.rollbacks),
	}
	if e.total > 0 {
		u.SuccessRate = float64(e.successes) / float64(e.total)
		u.AvgExecutionTime = e.totalTime / float64(e.total)
	}
	return u
}

// CurrentSatellite is the target of the last successful, not rolled back,
// handover.
func (e *Executor) CurrentSatellite() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}
