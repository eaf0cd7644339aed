package strategy

import (
	"context"
	"math"
	"strings"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

// predictedLoadBump is the extra load a handover event type is expected to
// push onto the target satellite.
var predictedLoadBump = map[string]float64{
	"A4": 0.05,
	"A5": 0.05,
	"D2": 0.03,
}

// LoadStrategy prefers lightly loaded satellites.
type LoadStrategy struct {
	OptimalLoad  float64
	MaxLoad      float64
	CriticalLoad float64
	QoSThreshold float64
	MinSignal    float64
	SignalSpan   float64
}

func NewLoad() *LoadStrategy {
	return &LoadStrategy{
		OptimalLoad:  0.3,
		MaxLoad:      0.8,
		CriticalLoad: 0.95,
		QoSThreshold: 0.7,
		MinSignal:    -120,
		SignalSpan:   50,
	}
}

func (s *LoadStrategy) Name() string { return Load }

func (s *LoadStrategy) Evaluate(c models.Candidate, ev models.ProcessedEvent, p Params) (float64, error) {
	optimal := p.Get("optimal_load", s.OptimalLoad)
	maxLoad := p.Get("max_load", s.MaxLoad)
	critical := p.Get("critical_load", s.CriticalLoad)
	qos := p.Get("qos_threshold", s.QoSThreshold)

	l := c.LoadFactor
	if l >= critical {
		return 0, nil
	}
	base := 1.0
	if l > optimal {
		base = 1 - ramp(l, optimal, maxLoad)
	}
	if l > qos && qos < 1 {
		base *= 1 - 0.5*(l-qos)/(1-qos)
	}

	// Signal-per-load ratio peaks at 10 (full signal, load floored at 0.1).
	sigNorm := clamp01((c.SignalStrength - s.MinSignal) / s.SignalSpan)
	efficiency := math.Min(1, sigNorm/math.Max(l, 0.1)/10)

	bump := predictedLoadBump[strings.ToUpper(ev.EventType)]
	score := 0.8*base + 0.2*efficiency - bump
	return finish(s.Name(), score)
}

func (s *LoadStrategy) Filter(ctx context.Context, cands []models.Candidate, ev models.ProcessedEvent, p Params) (FilterResult, error) {
	return runFilter(ctx, s, cands, ev, p)
}
