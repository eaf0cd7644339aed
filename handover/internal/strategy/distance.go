package strategy

import (
	"context"
	"math"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

// lightKmPerMs is the propagation speed used for the latency term.
const lightKmPerMs = 299.792458

// DistanceStrategy scores slant range through banding, propagation latency and
// free-space attenuation terms, with an optional Doppler penalty.
type DistanceStrategy struct {
	MaxDistance     float64
	OptimalDistance float64
	MaxLatencyMs    float64
	DopplerPenalty  bool
	MaxDoppler      float64
}

func NewDistance() *DistanceStrategy {
	return &DistanceStrategy{
		MaxDistance:     2000,
		OptimalDistance: 550,
		MaxLatencyMs:    20,
		DopplerPenalty:  true,
		MaxDoppler:      50000,
	}
}

func (s *DistanceStrategy) Name() string { return Distance }

func (s *DistanceStrategy) Evaluate(c models.Candidate, _ models.ProcessedEvent, p Params) (float64, error) {
	maxDist := p.Get("max_distance", s.MaxDistance)
	optDist := p.Get("optimal_distance", s.OptimalDistance)
	maxLatency := p.Get("max_latency_ms", s.MaxLatencyMs)

	d := c.Distance
	if d > maxDist {
		return 0, nil
	}
	band := 1.0
	if d > optDist {
		band = 1 - ramp(d, optDist, maxDist)
	}
	latency := 1.0
	if maxLatency > 0 {
		latency = clamp01(1 - (d/lightKmPerMs)/maxLatency)
	}
	atten := 1.0
	if d > 0 && optDist > 0 {
		atten = math.Min(1, optDist/d)
	}
	score := 0.4*band + 0.3*latency + 0.3*atten
	if p.Flag("doppler_penalty", s.DopplerPenalty) && s.MaxDoppler > 0 {
		score *= 1 - 0.2*math.Min(math.Abs(c.DopplerShift)/s.MaxDoppler, 1)
	}
	return finish(s.Name(), score)
}

func (s *DistanceStrategy) Filter(ctx context.Context, cands []models.Candidate, ev models.ProcessedEvent, p Params) (FilterResult, error) {
	return runFilter(ctx, s, cands, ev, p)
}
