package strategy

import (
	"context"
	"math"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

// VisibilityStrategy prefers satellites that stay in view long enough to make
// the handover worthwhile.
type VisibilityStrategy struct {
	MinVisibility     float64
	OptimalVisibility float64
	PrepTime          float64
	OptimalDistance   float64
	ContinuityBonus   float64
}

func NewVisibility() *VisibilityStrategy {
	return &VisibilityStrategy{
		MinVisibility:     300,
		OptimalVisibility: 1200,
		PrepTime:          60,
		OptimalDistance:   800,
		ContinuityBonus:   0.1,
	}
}

func (s *VisibilityStrategy) Name() string { return Visibility }

func (s *VisibilityStrategy) Evaluate(c models.Candidate, _ models.ProcessedEvent, p Params) (float64, error) {
	minVis := p.Get("min_visibility", s.MinVisibility)
	optVis := p.Get("optimal_visibility", s.OptimalVisibility)
	prep := p.Get("prep_time", s.PrepTime)
	optDist := p.Get("optimal_distance", s.OptimalDistance)

	v := c.VisibilityTime
	if v < minVis {
		return 0, nil
	}
	base := ramp(v, minVis, optVis)

	distStab := 0.0
	if optDist > 0 {
		distStab = clamp01(1 - math.Abs(c.Distance-optDist)/optDist)
	}
	orbit := (c.Elevation/90 + distStab) / 2

	score := 0.7*base + 0.3*orbit
	if v > 1.5*optVis {
		score += s.ContinuityBonus
	}
	if v-prep < 0.8*minVis {
		score *= 0.5
	}
	return finish(s.Name(), score)
}

func (s *VisibilityStrategy) Filter(ctx context.Context, cands []models.Candidate, ev models.ProcessedEvent, p Params) (FilterResult, error) {
	return runFilter(ctx, s, cands, ev, p)
}
