package scoring

import (
	"sort"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

// Every step below returns a fresh slice of cloned candidates.

func clampOutliers(in []models.ScoredCandidate) ([]models.ScoredCandidate, int) {
	out := cloneAll(in)
	if len(out) < 3 {
		return out, 0
	}
	values := make([]float64, len(out))
	for i, c := range out {
		values[i] = c.Score
	}
	mean, std := meanStd(values)
	lower, upper := mean-2*std, mean+2*std
	adjusted := 0
	for i := range out {
		s := out[i].Score
		if s >= lower && s <= upper {
			continue
		}
		out[i].Reasoning["pre_outlier_score"] = s
		out[i].Reasoning["outlier_adjusted"] = true
		if s < lower {
			out[i].Score = clamp01(lower)
		} else {
			out[i].Score = clamp01(upper)
		}
		adjusted++
	}
	return out, adjusted
}

func normalizeScores(in []models.ScoredCandidate) []models.ScoredCandidate {
	out := cloneAll(in)
	if len(out) == 0 {
		return out
	}
	lo, hi := out[0].Score, out[0].Score
	for _, c := range out[1:] {
		if c.Score < lo {
			lo = c.Score
		}
		if c.Score > hi {
			hi = c.Score
		}
	}
	if hi-lo <= 0 {
		return out
	}
	for i := range out {
		out[i].Reasoning["original_score"] = out[i].Score
		out[i].Score = (out[i].Score - lo) / (hi - lo)
	}
	return out
}

func sortCandidates(in []models.ScoredCandidate, method Ranking) []models.ScoredCandidate {
	out := cloneAll(in)
	key := func(c models.ScoredCandidate) float64 {
		switch method {
		case ConfidenceDesc:
			return c.Confidence
		case Hybrid:
			return c.Score * c.Confidence
		default:
			return c.Score
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := key(out[i]), key(out[j])
		if ki != kj {
			return ki > kj
		}
		return out[i].Candidate.SatelliteID < out[j].Candidate.SatelliteID
	})
	return out
}

func assignRanks(in []models.ScoredCandidate) []models.ScoredCandidate {
	out := cloneAll(in)
	for i := range out {
		out[i].Ranking = i + 1
	}
	return out
}

func applyThreshold(in []models.ScoredCandidate, threshold float64) []models.ScoredCandidate {
	if threshold <= 0 {
		return cloneAll(in)
	}
	kept := make([]models.ScoredCandidate, 0, len(in))
	for _, c := range in {
		if c.Score >= threshold {
			kept = append(kept, c.Clone())
		}
	}
	return assignRanks(kept)
}

func cloneAll(in []models.ScoredCandidate) []models.ScoredCandidate {
	out := make([]models.ScoredCandidate, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}
