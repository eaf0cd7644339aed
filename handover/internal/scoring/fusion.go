package scoring

import (
	"math"
	"sort"
)

// strategyScore is one strategy's contribution to a candidate.
type strategyScore struct {
	name   string
	score  float64
	weight float64
}

func fuse(method Method, scores []strategyScore) float64 {
	switch method {
	case Multiplicative:
		return fuseMultiplicative(scores)
	case MinMaxNormalized:
		return fuseMinMax(scores)
	case RankBased:
		return fuseRank(scores)
	case Fuzzy:
		return fuseFuzzy(scores)
	default:
		return fuseWeighted(scores)
	}
}

func fuseWeighted(scores []strategyScore) float64 {
	var sum float64
	for _, s := range scores {
		sum += s.score * s.weight
	}
	return sum
}

// fuseMultiplicative is the weighted geometric mean: prod(score^weight).
func fuseMultiplicative(scores []strategyScore) float64 {
	var total float64
	for _, s := range scores {
		total += s.weight
	}
	if total == 0 {
		return 0
	}
	product := 1.0
	for _, s := range scores {
		product *= math.Pow(s.score, s.weight)
	}
	return product
}

func fuseMinMax(scores []strategyScore) float64 {
	if len(scores) == 1 {
		return scores[0].score
	}
	lo, hi := scores[0].score, scores[0].score
	for _, s := range scores[1:] {
		lo = math.Min(lo, s.score)
		hi = math.Max(hi, s.score)
	}
	if hi == lo {
		return lo
	}
	var sum float64
	for _, s := range scores {
		sum += (s.score - lo) / (hi - lo) * s.weight
	}
	return sum
}

// fuseRank replaces each score with a rank weight 1 - i/n within the
// candidate's own strategy scores.
func fuseRank(scores []strategyScore) float64 {
	ordered := append([]strategyScore(nil), scores...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].score == ordered[j].score {
			return ordered[i].name < ordered[j].name
		}
		return ordered[i].score > ordered[j].score
	})
	n := float64(len(ordered))
	var sum float64
	for i, s := range ordered {
		sum += (1 - float64(i)/n) * s.weight
	}
	return sum
}

// fuseFuzzy aggregates only the highest non-empty band: high (> 0.7),
// medium [0.3, 0.7] or low (< 0.3).
func fuseFuzzy(scores []strategyScore) float64 {
	var high, medium, low []float64
	for _, s := range scores {
		switch {
		case s.score > 0.7:
			high = append(high, s.score)
		case s.score >= 0.3:
			medium = append(medium, s.score)
		default:
			low = append(low, s.score)
		}
	}
	switch {
	case len(high) > 0:
		hi := high[0]
		for _, v := range high[1:] {
			hi = math.Max(hi, v)
		}
		return hi*0.8 + bandMean(high)*0.2
	case len(medium) > 0:
		return bandMean(medium) * 0.6
	default:
		return bandMean(low) * 0.3
	}
}

func bandMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// confidence blends consistency, coverage and the weight share used.
func confidence(scores []strategyScore, registered int, weighted bool) float64 {
	values := make([]float64, len(scores))
	var weightUsed float64
	for i, s := range scores {
		values[i] = s.score
		weightUsed += s.weight
	}
	_, std := meanStd(values)
	consistency := math.Max(0, 1-2*std)
	if !weighted {
		return clamp01(consistency)
	}
	coverage := 0.0
	if registered > 0 {
		coverage = float64(len(scores)) / float64(registered)
	}
	return clamp01(0.4*consistency + 0.3*coverage + 0.3*weightUsed)
}

// meanStd returns the mean and population standard deviation.
func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
