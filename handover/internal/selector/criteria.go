package selector

import "github.com/ILLUVRSE/leo-handover/handover/internal/models"

// Criteria narrows an already selected candidate list. Nil bounds are not
// applied.
type Criteria struct {
	MinElevation        *float64 `json:"min_elevation,omitempty"`
	MaxElevation        *float64 `json:"max_elevation,omitempty"`
	MinSignalStrength   *float64 `json:"min_signal_strength,omitempty"`
	MaxLoadFactor       *float64 `json:"max_load_factor,omitempty"`
	MinVisibilityTime   *float64 `json:"min_visibility_time,omitempty"`
	ExcludedSatellites  []string `json:"excluded_satellites,omitempty"`
	PreferredSatellites []string `json:"preferred_satellites,omitempty"`
}

// Bound is a convenience for building Criteria literals.
func Bound(v float64) *float64 { return &v }

// FilterCandidates keeps the candidates matching every set bound and moves
// preferred satellites to the front, preserving relative order otherwise.
func (s *Selector) FilterCandidates(cands []models.Candidate, criteria Criteria) []models.Candidate {
	excluded := toSet(criteria.ExcludedSatellites)
	preferred := toSet(criteria.PreferredSatellites)

	var first, rest []models.Candidate
	for _, c := range cands {
		if !criteria.matches(c, excluded) {
			continue
		}
		if _, ok := preferred[c.SatelliteID]; ok {
			first = append(first, c)
		} else {
			rest = append(rest, c)
		}
	}
	out := append(first, rest...)
	if out == nil {
		out = []models.Candidate{}
	}
	return out
}

func (cr Criteria) matches(c models.Candidate, excluded map[string]struct{}) bool {
	if cr.MinElevation != nil && c.Elevation < *cr.MinElevation {
		return false
	}
	if cr.MaxElevation != nil && c.Elevation > *cr.MaxElevation {
		return false
	}
	if cr.MinSignalStrength != nil && c.SignalStrength < *cr.MinSignalStrength {
		return false
	}
	if cr.MaxLoadFactor != nil && c.LoadFactor > *cr.MaxLoadFactor {
		return false
	}
	if cr.MinVisibilityTime != nil && c.VisibilityTime < *cr.MinVisibilityTime {
		return false
	}
	_, skip := excluded[c.SatelliteID]
	return !skip
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
