package models

import (
	"math"
	"sort"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Velocity struct {
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
	VZ float64 `json:"vz"`
}

// Candidate is a satellite considered as a handover target.
type Candidate struct {
	SatelliteID    string   `json:"satelliteId"`
	Elevation      float64  `json:"elevation"`
	SignalStrength float64  `json:"signalStrength"`
	LoadFactor     float64  `json:"loadFactor"`
	Distance       float64  `json:"distance"`
	Azimuth        float64  `json:"azimuth"`
	DopplerShift   float64  `json:"dopplerShift"`
	Position       Position `json:"position"`
	Velocity       Velocity `json:"velocity"`
	VisibilityTime float64  `json:"visibilityTime"`
}

// NewCandidate returns c unchanged when every field is inside its documented
// range. Out-of-range values are rejected, never clamped.
func NewCandidate(c Candidate) (Candidate, error) {
	if err := c.Validate(); err != nil {
		return Candidate{}, err
	}
	return c, nil
}

func (c Candidate) Validate() error {
	if c.SatelliteID == "" {
		return invalid("satelliteId", "required")
	}
	for name, v := range map[string]float64{
		"elevation":      c.Elevation,
		"signalStrength": c.SignalStrength,
		"loadFactor":     c.LoadFactor,
		"distance":       c.Distance,
		"azimuth":        c.Azimuth,
		"dopplerShift":   c.DopplerShift,
		"visibilityTime": c.VisibilityTime,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return invalid(name, "must be a finite number")
		}
	}
	if c.Elevation < 0 || c.Elevation > 90 {
		return invalid("elevation", "%.2f outside [0,90]", c.Elevation)
	}
	if c.LoadFactor < 0 || c.LoadFactor > 1 {
		return invalid("loadFactor", "%.3f outside [0,1]", c.LoadFactor)
	}
	if c.Distance < 0 {
		return invalid("distance", "must be non-negative")
	}
	if c.VisibilityTime < 0 {
		return invalid("visibilityTime", "must be non-negative")
	}
	return nil
}

// Metric returns a named candidate field for rule evaluation. The boolean is
// false for unknown names.
func (c Candidate) Metric(name string) (float64, bool) {
	switch name {
	case "elevation":
		return c.Elevation, true
	case "signal", "signal_strength", "signalStrength":
		return c.SignalStrength, true
	case "load", "load_factor", "loadFactor":
		return c.LoadFactor, true
	case "distance":
		return c.Distance, true
	case "visibility", "visibility_time", "visibilityTime":
		return c.VisibilityTime, true
	case "doppler", "doppler_shift", "dopplerShift":
		return c.DopplerShift, true
	case "azimuth":
		return c.Azimuth, true
	}
	return 0, false
}

// ScoredCandidate wraps a Candidate with its fused score. Values are built
// fresh for each selection call.
type ScoredCandidate struct {
	Candidate  Candidate              `json:"candidate"`
	Score      float64                `json:"score"`
	Confidence float64                `json:"confidence"`
	Ranking    int                    `json:"ranking"`
	SubScores  map[string]float64     `json:"subScores"`
	Reasoning  map[string]interface{} `json:"reasoning"`
}

// Clone returns a deep copy so post-processing steps never alias each other.
func (s ScoredCandidate) Clone() ScoredCandidate {
	out := s
	out.SubScores = make(map[string]float64, len(s.SubScores))
	for k, v := range s.SubScores {
		out.SubScores[k] = v
	}
	out.Reasoning = make(map[string]interface{}, len(s.Reasoning))
	for k, v := range s.Reasoning {
		out.Reasoning[k] = v
	}
	return out
}

// SatelliteIDs lists candidate ids in their current order.
func SatelliteIDs(scored []ScoredCandidate) []string {
	ids := make([]string, 0, len(scored))
	for _, s := range scored {
		ids = append(ids, s.Candidate.SatelliteID)
	}
	return ids
}

// SortCandidatesByID orders candidates by satellite id in place.
func SortCandidatesByID(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool { return cands[i].SatelliteID < cands[j].SatelliteID })
}
