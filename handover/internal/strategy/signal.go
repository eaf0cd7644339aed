package strategy

import (
	"context"
	"math"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

// SignalStrategy scores received signal strength, blended with a link
// stability estimate and an elevation-derived SNR factor, then discounted for
// interference under load.
type SignalStrategy struct {
	MinSignal     float64
	OptimalSignal float64
	MaxDistance   float64
}

func NewSignal() *SignalStrategy {
	return &SignalStrategy{MinSignal: -120, OptimalSignal: -70, MaxDistance: 2000}
}

func (s *SignalStrategy) Name() string { return Signal }

func (s *SignalStrategy) Evaluate(c models.Candidate, _ models.ProcessedEvent, p Params) (float64, error) {
	minSig := p.Get("min_signal", s.MinSignal)
	optSig := p.Get("optimal_signal", s.OptimalSignal)
	maxDist := p.Get("max_distance", s.MaxDistance)

	if c.SignalStrength < minSig {
		return 0, nil
	}
	base := ramp(c.SignalStrength, minSig, optSig)

	distTerm := 0.0
	if maxDist > 0 {
		distTerm = clamp01(1 - c.Distance/maxDist)
	}
	stability := (c.Elevation/90 + distTerm) / 2
	snr := 0.5 + 0.5*math.Sin(radians(c.Elevation))

	score := 0.6*base + 0.2*stability + 0.2*snr
	score *= 1 - 0.2*c.LoadFactor
	return finish(s.Name(), score)
}

func (s *SignalStrategy) Filter(ctx context.Context, cands []models.Candidate, ev models.ProcessedEvent, p Params) (FilterResult, error) {
	return runFilter(ctx, s, cands, ev, p)
}
