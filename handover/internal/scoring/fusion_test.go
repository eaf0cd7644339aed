package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

func ss(pairs ...float64) []strategyScore {
	out := make([]strategyScore, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, strategyScore{name: string(rune('a' + i/2)), score: pairs[i], weight: pairs[i+1]})
	}
	return out
}

func TestFusionMethods(t *testing.T) {
	scores := ss(0.8, 0.5, 0.4, 0.5)

	assert.InDelta(t, 0.6, fuse(WeightedAverage, scores), 1e-9)
	assert.InDelta(t, math.Sqrt(0.8)*math.Sqrt(0.4), fuse(Multiplicative, scores), 1e-9)
	assert.InDelta(t, 0.5, fuse(MinMaxNormalized, scores), 1e-9)
	assert.InDelta(t, 1*0.5+0.5*0.5, fuse(RankBased, scores), 1e-9)
	assert.InDelta(t, 0.8, fuse(Fuzzy, scores), 1e-9)
}

func TestFusionEdgeCases(t *testing.T) {
	assert.Equal(t, 0.0, fuse(Multiplicative, ss(0.5, 0)))
	assert.Equal(t, 0.7, fuse(MinMaxNormalized, ss(0.7, 1)))
	assert.Equal(t, 0.3, fuse(MinMaxNormalized, ss(0.3, 0.5, 0.3, 0.5)))
	assert.InDelta(t, 0.5*0.6, fuse(Fuzzy, ss(0.4, 0.5, 0.6, 0.5)), 1e-9)
	assert.InDelta(t, 0.15*0.3, fuse(Fuzzy, ss(0.1, 0.5, 0.2, 0.5)), 1e-9)
}

func TestFuzzyAveragesWithinBand(t *testing.T) {
	assert.InDelta(t, 0.9, fuse(Fuzzy, ss(0.9, 0.3, 0.1, 0.3, 0.1, 0.3)), 1e-9)
	assert.InDelta(t, 0.3, fuse(Fuzzy, ss(0.5, 0.5, 0.1, 0.5)), 1e-9)
	assert.InDelta(t, 0.8*0.9+0.2*0.85, fuse(Fuzzy, ss(0.9, 0.3, 0.8, 0.3, 0.5, 0.4)), 1e-9)
}

func TestConfidenceBlend(t *testing.T) {
	assert.InDelta(t, 1.0, confidence(ss(0.5, 0.5, 0.5, 0.5), 2, true), 1e-9)
	assert.InDelta(t, 0.4*0.4+0.3+0.3, confidence(ss(0.2, 0.5, 0.8, 0.5), 2, true), 1e-9)
	assert.InDelta(t, 0.4, confidence(ss(0.2, 0.5, 0.8, 0.5), 2, false), 1e-9)
	// Half coverage, half weight.
	assert.InDelta(t, 0.4+0.15+0.15, confidence(ss(0.6, 0.5), 2, true), 1e-9)
}

func TestParseBoost(t *testing.T) {
	rule, err := parseBoost("elevation>45", 1.2)
	require.NoError(t, err)
	assert.True(t, rule.matches(models.Candidate{Elevation: 50}))
	assert.False(t, rule.matches(models.Candidate{Elevation: 45}))

	rule, err = parseBoost(" load < 0.3 ", 1.1)
	require.NoError(t, err)
	assert.True(t, rule.matches(models.Candidate{LoadFactor: 0.2}))

	rule, err = parseBoost("signal>-90", 1.1)
	require.NoError(t, err)
	assert.True(t, rule.matches(models.Candidate{SignalStrength: -80}))

	for _, bad := range []string{"elevation", ">45", "elevation>", "orbit>3", "elevation>high", "elevation=4"} {
		_, err := parseBoost(bad, 1)
		assert.Error(t, err, bad)
	}
	_, err = parseBoost("elevation>10", -1)
	assert.Error(t, err)
}

func scored(values ...float64) []models.ScoredCandidate {
	out := make([]models.ScoredCandidate, len(values))
	for i, v := range values {
		out[i] = models.ScoredCandidate{
			Candidate: models.Candidate{SatelliteID: string(rune('A' + i))},
			Score:     v,
			Reasoning: map[string]interface{}{},
			SubScores: map[string]float64{},
		}
	}
	return out
}

func TestClampOutliers(t *testing.T) {
	in := scored(0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 1.0)
	out, n := clampOutliers(in)
	assert.Equal(t, 1, n)
	assert.InDelta(t, 0.85, out[9].Score, 1e-9)
	assert.Equal(t, true, out[9].Reasoning["outlier_adjusted"])
	assert.Equal(t, 1.0, in[9].Score, "input slice is not mutated")
	_, ok := in[9].Reasoning["outlier_adjusted"]
	assert.False(t, ok)

	small, n := clampOutliers(scored(0, 1))
	assert.Equal(t, 0, n)
	assert.Equal(t, 1.0, small[1].Score)
}

func TestNormalizeScores(t *testing.T) {
	out := normalizeScores(scored(0.2, 0.6, 0.4))
	assert.InDelta(t, 0.0, out[0].Score, 1e-9)
	assert.InDelta(t, 1.0, out[1].Score, 1e-9)
	assert.InDelta(t, 0.5, out[2].Score, 1e-9)

	flat := normalizeScores(scored(0.4, 0.4))
	assert.Equal(t, 0.4, flat[0].Score)
	_, ok := flat[0].Reasoning["original_score"]
	assert.False(t, ok)
}

func TestSortTieBreaksByID(t *testing.T) {
	in := scored(0.5, 0.5, 0.9)
	in[0].Candidate.SatelliteID = "Z"
	out := assignRanks(sortCandidates(in, ScoreDesc))
	assert.Equal(t, []string{"C", "B", "Z"}, models.SatelliteIDs(out))
	assert.Equal(t, []int{1, 2, 3}, []int{out[0].Ranking, out[1].Ranking, out[2].Ranking})
}
