package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

// MockActuator
type MockActuator struct {
	mock.Mock
}

func (m *MockActuator) Prepare(ctx context.Context, d models.Decision) error {
	return m.Called(ctx, d).Error(0)
}
func (m *MockActuator) Execute(ctx context.Context, d models.Decision) error {
	return m.Called(ctx, d).Error(0)
}
func (m *MockActuator) Verify(ctx context.Context, d models.Decision) (Verification, error) {
	args := m.Called(ctx, d)
	return args.Get(0).(Verification), args.Error(1)
}
func (m *MockActuator) Rollback(ctx context.Context, plan models.RollbackPlan) error {
	return m.Called(ctx, plan).Error(0)
}

// blockingActuator parks in Prepare until release is closed or ctx ends.
type blockingActuator struct {
	SimulatedActuator
	started chan struct{}
	release chan struct{}
}

func (b *blockingActuator) Prepare(ctx context.Context, _ models.Decision) error {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PhaseTimeScale = 0
	return cfg
}

func decision() models.Decision {
	return models.Decision{
		SelectedSatellite:  "SAT_001",
		Confidence:         0.85,
		Reasoning:          map[string]interface{}{"algorithm": "heuristic"},
		AlternativeOptions: []string{"SAT_002", "SAT_003"},
		ExecutionPlan: models.ExecutionPlan{
			HandoverType:     "A4",
			PreparationTime:  500,
			ExecutionTime:    2000,
			VerificationTime: 500,
		},
		AlgorithmUsed:       "heuristic",
		DecisionTime:        150,
		ExpectedPerformance: map[string]float64{"latency_improvement": 15},
	}
}

func TestValidateDecision(t *testing.T) {
	e := New(testConfig(), nil, logr.Discard())
	assert.True(t, e.ValidateDecision(decision()))

	d := decision()
	d.SelectedSatellite = ""
	assert.False(t, e.ValidateDecision(d))

	d = decision()
	d.Confidence = 0.05
	assert.False(t, e.ValidateDecision(d))

	d = decision()
	d.ExecutionPlan = models.ExecutionPlan{}
	assert.False(t, e.ValidateDecision(d))

	d = decision()
	d.ExecutionPlan.HandoverType = "INVALID"
	assert.False(t, e.ValidateDecision(d))

	d = decision()
	d.ExecutionPlan.ExecutionTime = -1
	assert.False(t, e.ValidateDecision(d))
}

func TestExecuteDecisionSuccess(t *testing.T) {
	e := New(testConfig(), nil, logr.Discard())
	res := e.ExecuteDecision(context.Background(), decision(), nil)

	assert.True(t, res.Success)
	assert.Equal(t, models.StatusSuccess, res.Status)
	assert.NotEmpty(t, res.ExecutionID)
	assert.Equal(t, 1.0, res.PerformanceMetrics["handover_success_rate"])
	assert.InDelta(t, 0.94, res.PerformanceMetrics["signal_quality"], 1e-9)
	require.NotNil(t, res.Decision)
	assert.Equal(t, "SAT_001", res.Decision.SelectedSatellite)
	require.NotNil(t, res.RollbackData)
	assert.Equal(t, "SAT_001", res.RollbackData.TargetSatellite)
	assert.Equal(t, "", res.RollbackData.PreviousSatellite)
	assert.Equal(t, "SAT_001", e.CurrentSatellite())

	usage := e.ResourceUsage()
	assert.Equal(t, 0, usage.ActiveExecutions)
	assert.Equal(t, 1, usage.TotalExecutions)
	assert.Equal(t, 1.0, usage.SuccessRate)
	assert.Equal(t, 1, usage.RollbackPlans)
}

func TestExecuteDecisionWithContext(t *testing.T) {
	e := New(testConfig(), nil, logr.Discard())
	res := e.ExecuteDecision(context.Background(), decision(), &models.ExecutionContext{ExecutionID: "test_exec_001"})
	assert.Equal(t, "test_exec_001", res.ExecutionID)
	assert.True(t, res.Success)
}

func TestExecuteRejectsInvalidDecision(t *testing.T) {
	act := new(MockActuator)
	e := New(testConfig(), act, logr.Discard())
	d := decision()
	d.Confidence = 0.01

	res := e.ExecuteDecision(context.Background(), d, nil)
	assert.False(t, res.Success)
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Contains(t, res.ErrorMessage, "decision failed validation")
	assert.Equal(t, models.FailureValidation, res.FailureKind)
	assert.Nil(t, res.RollbackData)
	act.AssertNotCalled(t, "Prepare", mock.Anything, mock.Anything)
}

func TestConcurrencyCeilingRejectsImmediately(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	act := &blockingActuator{started: make(chan struct{}, 1), release: make(chan struct{})}
	e := New(cfg, act, logr.Discard())

	done := make(chan models.ExecutionResult, 1)
	go func() {
		done <- e.ExecuteDecision(context.Background(), decision(), &models.ExecutionContext{ExecutionID: "first"})
	}()
	<-act.started

	start := time.Now()
	res := e.ExecuteDecision(context.Background(), decision(), &models.ExecutionContext{ExecutionID: "second"})
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Contains(t, res.ErrorMessage, ErrCapacity.Error())
	assert.Equal(t, models.FailureCapacity, res.FailureKind)

	progress, ok := e.MonitorExecution("first")
	require.True(t, ok)
	assert.Equal(t, models.StatusRunning, progress.Status)
	assert.Equal(t, PhasePrepare, progress.Phase)

	close(act.release)
	first := <-done
	assert.True(t, first.Success)
	assert.Equal(t, 0, e.ResourceUsage().ActiveExecutions)
}

func TestVerificationBelowThresholdFails(t *testing.T) {
	e := New(testConfig(), nil, logr.Discard())
	d := decision()
	d.ExpectedPerformance["signal_quality"] = 0.5

	res := e.ExecuteDecision(context.Background(), d, nil)
	assert.False(t, res.Success)
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Contains(t, res.ErrorMessage, ErrVerificationFailed.Error())
	assert.Contains(t, res.ErrorMessage, "verify")
	assert.Equal(t, models.FailureVerification, res.FailureKind)
	assert.Equal(t, string(PhaseVerify), res.FailedPhase)
	assert.Equal(t, 0.0, res.PerformanceMetrics["handover_success_rate"])
	assert.Equal(t, "", e.CurrentSatellite())
}

func TestActFailureIsNotVerificationFailure(t *testing.T) {
	act := new(MockActuator)
	d := decision()
	act.On("Prepare", mock.Anything, d).Return(nil)
	act.On("Execute", mock.Anything, d).Return(errors.New("radio busy"))

	e := New(testConfig(), act, logr.Discard())
	res := e.ExecuteDecision(context.Background(), d, nil)
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Equal(t, models.FailureExecution, res.FailureKind)
	assert.Equal(t, string(PhaseExecute), res.FailedPhase)
	act.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestRollbackPlansFollowHistory(t *testing.T) {
	e := New(testConfig(), nil, logr.Discard())
	var first, last string
	for i := 0; i < maxHistory+200; i++ {
		res := e.ExecuteDecision(context.Background(), decision(), nil)
		require.True(t, res.Success)
		if i == 0 {
			first = res.ExecutionID
		}
		last = res.ExecutionID
	}

	usage := e.ResourceUsage()
	assert.Equal(t, maxHistory, len(e.ExecutionHistory(0)))
	assert.Equal(t, maxHistory, usage.RollbackPlans)
	assert.ErrorIs(t, e.RollbackDecision(context.Background(), first), ErrNotFound)
	assert.NoError(t, e.RollbackDecision(context.Background(), last))
}

func TestExecutePhaseRetriedOnce(t *testing.T) {
	act := new(MockActuator)
	d := decision()
	act.On("Prepare", mock.Anything, d).Return(nil)
	act.On("Execute", mock.Anything, d).Return(errors.New("radio busy")).Once()
	act.On("Execute", mock.Anything, d).Return(nil).Once()
	act.On("Verify", mock.Anything, d).Return(Verification{SignalQuality: 0.9}, nil)

	e := New(testConfig(), act, logr.Discard())
	res := e.ExecuteDecision(context.Background(), d, nil)
	assert.True(t, res.Success)
	act.AssertNumberOfCalls(t, "Execute", 2)
	act.AssertExpectations(t)
}

func TestActuatorFailureIsFailed(t *testing.T) {
	act := new(MockActuator)
	d := decision()
	act.On("Prepare", mock.Anything, d).Return(errors.New("no resources"))

	cfg := testConfig()
	cfg.RetryEnabled = false
	e := New(cfg, act, logr.Discard())
	res := e.ExecuteDecision(context.Background(), d, nil)
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Contains(t, res.ErrorMessage, "prepare")
	assert.Contains(t, res.ErrorMessage, "no resources")
	act.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestExecutionTimeout(t *testing.T) {
	act := &blockingActuator{started: make(chan struct{}, 1), release: make(chan struct{})}
	e := New(testConfig(), act, logr.Discard())

	res := e.ExecuteDecision(context.Background(), decision(), &models.ExecutionContext{Timeout: 20 * time.Millisecond})
	assert.Equal(t, models.StatusTimeout, res.Status)
	assert.Contains(t, res.ErrorMessage, "timed out")
	assert.Equal(t, 0, e.ResourceUsage().ActiveExecutions)
}

func TestCancelExecution(t *testing.T) {
	act := &blockingActuator{started: make(chan struct{}, 1), release: make(chan struct{})}
	e := New(testConfig(), act, logr.Discard())

	done := make(chan models.ExecutionResult, 1)
	go func() {
		done <- e.ExecuteDecision(context.Background(), decision(), &models.ExecutionContext{ExecutionID: "test_cancel_001"})
	}()
	<-act.started

	hookRan := make(chan struct{})
	require.True(t, e.RegisterCancelHook("test_cancel_001", func() { close(hookRan) }))
	assert.True(t, e.CancelExecution("test_cancel_001"))
	<-hookRan

	res := <-done
	assert.Equal(t, models.StatusCancelled, res.Status)
	assert.False(t, res.Success)

	assert.False(t, e.CancelExecution("test_cancel_001"))
	assert.False(t, e.RegisterCancelHook("test_cancel_001", func() {}))

	progress, ok := e.MonitorExecution("test_cancel_001")
	require.True(t, ok)
	assert.True(t, progress.Completed)
	assert.True(t, progress.Cancelled)
}

func TestMonitorExecution(t *testing.T) {
	e := New(testConfig(), nil, logr.Discard())
	res := e.ExecuteDecision(context.Background(), decision(), nil)

	progress, ok := e.MonitorExecution(res.ExecutionID)
	require.True(t, ok)
	assert.Equal(t, res.ExecutionID, progress.ExecutionID)
	assert.True(t, progress.Completed)
	assert.True(t, progress.Success)
	require.NotNil(t, progress.Result)

	_, ok = e.MonitorExecution("missing")
	assert.False(t, ok)
}

func TestRollbackSucceedsOnce(t *testing.T) {
	e := New(testConfig(), nil, logr.Discard())
	first := e.ExecuteDecision(context.Background(), decision(), nil)
	d := decision()
	d.SelectedSatellite = "SAT_002"
	second := e.ExecuteDecision(context.Background(), d, nil)
	require.True(t, second.Success)
	assert.Equal(t, "SAT_001", second.RollbackData.PreviousSatellite)
	assert.Equal(t, "SAT_002", e.CurrentSatellite())

	require.NoError(t, e.RollbackDecision(context.Background(), second.ExecutionID))
	assert.Equal(t, "SAT_001", e.CurrentSatellite())
	assert.ErrorIs(t, e.RollbackDecision(context.Background(), second.ExecutionID), ErrNotFound)

	assert.Equal(t, 1, e.ResourceUsage().RollbackPlans)
	require.NoError(t, e.RollbackDecision(context.Background(), first.ExecutionID))
	assert.Equal(t, 0, e.ResourceUsage().RollbackPlans)
}

func TestFailedRollbackKeepsPlan(t *testing.T) {
	act := new(MockActuator)
	d := decision()
	act.On("Prepare", mock.Anything, d).Return(nil)
	act.On("Execute", mock.Anything, d).Return(nil)
	act.On("Verify", mock.Anything, d).Return(Verification{SignalQuality: 0.95}, nil)
	act.On("Rollback", mock.Anything, mock.AnythingOfType("models.RollbackPlan")).Return(errors.New("link lost")).Once()
	act.On("Rollback", mock.Anything, mock.AnythingOfType("models.RollbackPlan")).Return(nil).Once()

	e := New(testConfig(), act, logr.Discard())
	res := e.ExecuteDecision(context.Background(), d, nil)
	require.True(t, res.Success)

	err := e.RollbackDecision(context.Background(), res.ExecutionID)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 1, e.ResourceUsage().RollbackPlans)
	require.NoError(t, e.RollbackDecision(context.Background(), res.ExecutionID))
	act.AssertExpectations(t)
}

func TestRollbackHookSeesPlan(t *testing.T) {
	e := New(testConfig(), nil, logr.Discard())
	var got []models.RollbackPlan
	e.OnRollback(func(p models.RollbackPlan) { got = append(got, p) })

	res := e.ExecuteDecision(context.Background(), decision(), nil)
	require.True(t, res.Success)
	require.NoError(t, e.RollbackDecision(context.Background(), res.ExecutionID))
	require.Len(t, got, 1)
	assert.Equal(t, res.ExecutionID, got[0].ExecutionID)
	assert.Equal(t, "SAT_001", got[0].TargetSatellite)
	assert.Equal(t, "", got[0].PreviousSatellite)

	assert.ErrorIs(t, e.RollbackDecision(context.Background(), res.ExecutionID), ErrNotFound)
	assert.Len(t, got, 1)
}

func TestRollbackDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.RollbackEnabled = false
	e := New(cfg, nil, logr.Discard())
	res := e.ExecuteDecision(context.Background(), decision(), nil)
	assert.ErrorIs(t, e.RollbackDecision(context.Background(), res.ExecutionID), ErrRollbackDisabled)
	assert.Equal(t, 0, e.ResourceUsage().RollbackPlans)
}

func TestEstimateExecutionTime(t *testing.T) {
	e := New(testConfig(), nil, logr.Discard())
	// A4 at confidence 0.85: 2.5s planned act plus 0.5s verification scaled by 1.15.
	base := 2.5 + 0.5*1.15
	assert.InDelta(t, base, e.EstimateExecutionTime(decision()), 1e-9)

	d := decision()
	d.ExecutionPlan = models.ExecutionPlan{}
	assert.InDelta(t, base, e.EstimateExecutionTime(d), 1e-9)

	res := e.ExecuteDecision(context.Background(), decision(), nil)
	require.True(t, res.Success)
	want := 0.3*base + 0.7*res.ExecutionTime
	assert.InDelta(t, want, e.EstimateExecutionTime(decision()), 1e-9)
}

func TestEstimateDependsOnTypeAndConfidence(t *testing.T) {
	e := New(testConfig(), nil, logr.Discard())

	fast := decision()
	fast.ExecutionPlan.HandoverType = "A3"
	fast.Confidence = 0.95
	slow := decision()
	slow.ExecutionPlan.HandoverType = "D2"
	slow.Confidence = 0.15

	assert.InDelta(t, 2.5*1.0+0.5*1.05, e.EstimateExecutionTime(fast), 1e-9)
	assert.InDelta(t, 2.5*1.3+0.5*1.85, e.EstimateExecutionTime(slow), 1e-9)
	assert.Greater(t, e.EstimateExecutionTime(slow), e.EstimateExecutionTime(fast))

	lowConf := fast
	lowConf.Confidence = 0.2
	assert.Greater(t, e.EstimateExecutionTime(lowConf), e.EstimateExecutionTime(fast))
}

func TestHistoryIsBoundedAndCopied(t *testing.T) {
	e := New(testConfig(), nil, logr.Discard())
	d := decision()
	d.Confidence = 0
	for i := 0; i < maxHistory+3; i++ {
		e.ExecuteDecision(context.Background(), d, nil)
	}
	assert.Len(t, e.ExecutionHistory(0), maxHistory)
	recent := e.ExecutionHistory(2)
	require.Len(t, recent, 2)

	recent[0].PerformanceMetrics["tampered"] = 1
	again := e.ExecutionHistory(2)
	_, tampered := again[0].PerformanceMetrics["tampered"]
	assert.False(t, tampered)
	assert.Equal(t, maxHistory+3, e.ResourceUsage().TotalExecutions)
}
