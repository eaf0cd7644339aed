package strategy

import (
	"context"
	"math"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

// ElevationStrategy favours satellites high above the horizon. Parameters:
// min_elevation, optimal_elevation, sin_weighting (0/1),
// atmospheric_compensation.
type ElevationStrategy struct {
	MinElevation            float64
	OptimalElevation        float64
	SinWeighting            bool
	AtmosphericCompensation float64
}

func NewElevation() *ElevationStrategy {
	return &ElevationStrategy{
		MinElevation:            10,
		OptimalElevation:        60,
		SinWeighting:            true,
		AtmosphericCompensation: 0.1,
	}
}

func (s *ElevationStrategy) Name() string { return Elevation }

func (s *ElevationStrategy) Evaluate(c models.Candidate, _ models.ProcessedEvent, p Params) (float64, error) {
	minElev := p.Get("min_elevation", s.MinElevation)
	optElev := p.Get("optimal_elevation", s.OptimalElevation)
	comp := p.Get("atmospheric_compensation", s.AtmosphericCompensation)

	e := c.Elevation
	if e < minElev {
		return 0, nil
	}
	score := ramp(e, minElev, optElev)
	if p.Flag("sin_weighting", s.SinWeighting) {
		// Received power tracks sin(elevation) through the slant path length.
		score = 0.7*score + 0.3*math.Sin(radians(e))
	}
	score *= 1 - comp*(1-e/90)
	return finish(s.Name(), score)
}

func (s *ElevationStrategy) Filter(ctx context.Context, cands []models.Candidate, ev models.ProcessedEvent, p Params) (FilterResult, error) {
	return runFilter(ctx, s, cands, ev, p)
}
