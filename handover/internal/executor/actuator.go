package executor

import (
	"context"
	"time"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

type Phase string

const (
	PhaseQueued   Phase = "queued"
	PhasePrepare  Phase = "prepare"
	PhaseExecute  Phase = "execute"
	PhaseVerify   Phase = "verify"
	PhaseComplete Phase = "complete"
)

// Verification is what the verify phase measured on the new link.
type Verification struct {
	SignalQuality float64
	Latency       float64
	PacketLoss    float64
	Throughput    float64
}

// HandoverActuator performs the radio-side work of a handover.
type HandoverActuator interface {
	Prepare(ctx context.Context, d models.Decision) error
	Execute(ctx context.Context, d models.Decision) error
	Verify(ctx context.Context, d models.Decision) (Verification, error)
	Rollback(ctx context.Context, plan models.RollbackPlan) error
}

// SimulatedActuator waits out the planned phase times, multiplied by Scale,
// and derives link quality from the decision itself. A zero Scale never
// sleeps.
type SimulatedActuator struct {
	Scale float64
}

func (a SimulatedActuator) Prepare(ctx context.Context, d models.Decision) error {
	return a.wait(ctx, d.ExecutionPlan.PreparationTime)
}

func (a SimulatedActuator) Execute(ctx context.Context, d models.Decision) error {
	return a.wait(ctx, d.ExecutionPlan.ExecutionTime)
}

// Verify reports signal_quality from ExpectedPerformance when present,
// otherwise 0.6 + 0.4 x confidence.
func (a SimulatedActuator) Verify(ctx context.Context, d models.Decision) (Verification, error) {
	if err := a.wait(ctx, d.ExecutionPlan.VerificationTime); err != nil {
		return Verification{}, err
	}
	quality, ok := d.ExpectedPerformance["signal_quality"]
	if !ok {
		quality = 0.6 + 0.4*d.Confidence
	}
	return Verification{
		SignalQuality: quality,
		Latency:       20 + 30*(1-d.Confidence),
		PacketLoss:    0.01 * (1 - d.Confidence),
		Throughput:    100 + 100*d.Confidence,
	}, nil
}

func (a SimulatedActuator) Rollback(ctx context.Context, _ models.RollbackPlan) error {
	return a.wait(ctx, 100)
}

func (a SimulatedActuator) wait(ctx context.Context, plannedMillis float64) error {
	d := time.Duration(plannedMillis * a.Scale * float64(time.Millisecond))
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
