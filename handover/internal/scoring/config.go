package scoring

import "fmt"

// Method selects how per-strategy scores fuse into one score.
type Method string

const (
	WeightedAverage  Method = "weighted_average"
	Multiplicative   Method = "multiplicative"
	MinMaxNormalized Method = "minmax_normalized"
	RankBased        Method = "rank_based"
	Fuzzy            Method = "fuzzy"
)

// Ranking selects the sort key applied before ranks are assigned.
type Ranking string

const (
	ScoreDesc      Ranking = "score_desc"
	ConfidenceDesc Ranking = "confidence_desc"
	Hybrid         Ranking = "hybrid"
)

type Config struct {
	Method                Method
	Normalization         bool
	ConfidenceWeighting   bool
	OutlierHandling       bool
	MinStrategiesRequired int
	ScoreThreshold        float64
	RankingMethod         Ranking
	// CustomWeights multiplies the fused score of specific satellites.
	CustomWeights map[string]float64
	// BoostFactors maps "field>threshold" / "field<threshold" rules to a
	// multiplier.
	BoostFactors map[string]float64
}

func DefaultConfig() Config {
	return Config{
		Method:                WeightedAverage,
		Normalization:         true,
		ConfidenceWeighting:   true,
		OutlierHandling:       true,
		MinStrategiesRequired: 2,
		ScoreThreshold:        0,
		RankingMethod:         ScoreDesc,
		CustomWeights:         map[string]float64{},
		BoostFactors:          map[string]float64{},
	}
}

func (c Config) validate() error {
	switch c.Method {
	case WeightedAverage, Multiplicative, MinMaxNormalized, RankBased, Fuzzy:
	default:
		return fmt.Errorf("unknown fusion method %q", c.Method)
	}
	switch c.RankingMethod {
	case ScoreDesc, ConfidenceDesc, Hybrid:
	default:
		return fmt.Errorf("unknown ranking method %q", c.RankingMethod)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("score threshold %.3f outside [0,1]", c.ScoreThreshold)
	}
	for id, w := range c.CustomWeights {
		if w < 0 {
			return fmt.Errorf("custom weight for %s must not be negative", id)
		}
	}
	return nil
}

func (c Config) clone() Config {
	out := c
	out.CustomWeights = make(map[string]float64, len(c.CustomWeights))
	for k, v := range c.CustomWeights {
		out.CustomWeights[k] = v
	}
	out.BoostFactors = make(map[string]float64, len(c.BoostFactors))
	for k, v := range c.BoostFactors {
		out.BoostFactors[k] = v
	}
	return out
}
