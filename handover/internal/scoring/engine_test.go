package scoring

import (
	"context"
	"errors"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
	"github.com/ILLUVRSE/leo-handover/handover/internal/strategy"
)

type stubStrategy struct {
	name   string
	scores map[string]float64
	err    error
}

func (s stubStrategy) Name() string { return s.name }

func (s stubStrategy) Evaluate(c models.Candidate, _ models.ProcessedEvent, _ strategy.Params) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.scores[c.SatelliteID], nil
}

func (s stubStrategy) Filter(_ context.Context, cands []models.Candidate, _ models.ProcessedEvent, _ strategy.Params) (strategy.FilterResult, error) {
	if s.err != nil {
		return strategy.FilterResult{}, &strategy.StrategyError{Strategy: s.name, Err: s.err}
	}
	res := strategy.FilterResult{Strategy: s.name, Scores: map[string]float64{}}
	for _, c := range cands {
		if v, ok := s.scores[c.SatelliteID]; ok {
			res.Scores[c.SatelliteID] = v
			res.Filtered = append(res.Filtered, c)
		}
	}
	return res, nil
}

func cands(ids ...string) []models.Candidate {
	out := make([]models.Candidate, 0, len(ids))
	for i, id := range ids {
		out = append(out, models.Candidate{
			SatelliteID:    id,
			Elevation:      20 + float64(i)*10,
			SignalStrength: -100 + float64(i)*5,
			LoadFactor:     0.5,
			Distance:       800,
			VisibilityTime: 900,
		})
	}
	return out
}

func rawConfig() Config {
	cfg := DefaultConfig()
	cfg.Normalization = false
	cfg.OutlierHandling = false
	return cfg
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg, logr.Discard())
	require.NoError(t, err)
	return e
}

func TestScoreWithoutStrategiesFails(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	res, err := e.ScoreCandidates(context.Background(), cands("X"), models.NeutralEvent("A4"), nil)
	assert.ErrorIs(t, err, ErrNoStrategies)
	assert.Empty(t, res.Candidates)
}

func TestScoreEmptyCandidates(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	require.NoError(t, e.RegisterStrategy(strategy.NewElevation(), 1))
	res, err := e.ScoreCandidates(context.Background(), nil, models.NeutralEvent("A4"), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
}

func TestRegistrationRules(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	assert.ErrorIs(t, e.RegisterStrategy(strategy.NewSignal(), 0), ErrInvalidWeight)
	require.NoError(t, e.RegisterStrategy(strategy.NewSignal(), 0.5))
	assert.ErrorIs(t, e.RegisterStrategy(strategy.NewSignal(), 0.5), ErrStrategyConflict)
	assert.ErrorIs(t, e.UpdateStrategyWeight("signal", -1), ErrInvalidWeight)
	assert.ErrorIs(t, e.UpdateStrategyWeight("orbit", 1), ErrUnknownStrategy)
	require.NoError(t, e.UpdateStrategyWeight("signal", 2))
	assert.Equal(t, map[string]float64{"signal": 2}, e.Strategies())
	require.NoError(t, e.UnregisterStrategy("signal"))
	assert.ErrorIs(t, e.UnregisterStrategy("signal"), ErrUnknownStrategy)
}

func TestWeightedFusionAndConfidence(t *testing.T) {
	e := newEngine(t, rawConfig())
	require.NoError(t, e.RegisterStrategy(stubStrategy{name: "a", scores: map[string]float64{"X": 0.8, "Y": 0.2}}, 3))
	require.NoError(t, e.RegisterStrategy(stubStrategy{name: "b", scores: map[string]float64{"X": 0.4, "Y": 0.6}}, 1))

	res, err := e.ScoreCandidates(context.Background(), cands("X", "Y"), models.NeutralEvent("A4"), nil)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 2)

	x, y := res.Candidates[0], res.Candidates[1]
	assert.Equal(t, "X", x.Candidate.SatelliteID)
	assert.InDelta(t, 0.7, x.Score, 1e-9)
	assert.InDelta(t, 0.3, y.Score, 1e-9)
	assert.InDelta(t, 0.84, x.Confidence, 1e-9)
	assert.Equal(t, 1, x.Ranking)
	assert.Equal(t, 2, y.Ranking)
	assert.Equal(t, map[string]float64{"a": 0.8, "b": 0.4}, x.SubScores)
	assert.InDelta(t, 0.75, res.Metadata.Strategies.Weights["a"], 1e-9)
}

func TestNormalizationRecordsOriginalScore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutlierHandling = false
	e := newEngine(t, cfg)
	require.NoError(t, e.RegisterStrategy(stubStrategy{name: "a", scores: map[string]float64{"X": 0.8, "Y": 0.2}}, 3))
	require.NoError(t, e.RegisterStrategy(stubStrategy{name: "b", scores: map[string]float64{"X": 0.4, "Y": 0.6}}, 1))

	res, err := e.ScoreCandidates(context.Background(), cands("X", "Y"), models.NeutralEvent("A4"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Candidates[0].Score)
	assert.Equal(t, 0.0, res.Candidates[1].Score)
	assert.InDelta(t, 0.7, res.Candidates[0].Reasoning["original_score"], 1e-9)
}

func TestFailedStrategyIsExcluded(t *testing.T) {
	e := newEngine(t, rawConfig())
	require.NoError(t, e.RegisterStrategy(stubStrategy{name: "good", scores: map[string]float64{"X": 0.6}}, 1))
	require.NoError(t, e.RegisterStrategy(stubStrategy{name: "bad", err: errors.New("boom")}, 1))

	res, err := e.ScoreCandidates(context.Background(), cands("X"), models.NeutralEvent("A4"), nil)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.InDelta(t, 0.6, res.Candidates[0].Score, 1e-9)
	assert.Equal(t, []string{"good"}, res.Metadata.Strategies.Succeeded)
	assert.Contains(t, res.Metadata.Strategies.Failed, "bad")
	assert.Equal(t, 1.0, res.Metadata.Strategies.Weights["good"])

	stats := e.Stats()
	assert.Equal(t, 1, stats.StrategyFailures["bad"])
	assert.Equal(t, 1, stats.StrategyUsage["good"])
}

func TestMinimumStrategiesOnlyWarns(t *testing.T) {
	cfg := rawConfig()
	cfg.MinStrategiesRequired = 3
	e := newEngine(t, cfg)
	require.NoError(t, e.RegisterStrategy(strategy.NewElevation(), 1))
	res, err := e.ScoreCandidates(context.Background(), cands("X", "Y"), models.NeutralEvent("A4"), nil)
	require.NoError(t, err)
	assert.Len(t, res.Candidates, 2)
}

func TestCandidateWithoutScoresIsDropped(t *testing.T) {
	e := newEngine(t, rawConfig())
	require.NoError(t, e.RegisterStrategy(stubStrategy{name: "a", scores: map[string]float64{"X": 0.5}}, 1))
	res, err := e.ScoreCandidates(context.Background(), cands("X", "Y"), models.NeutralEvent("A4"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"X"}, models.SatelliteIDs(res.Candidates))
	assert.Equal(t, 1, res.Metadata.Quality.Dropped)
}

func TestCustomWeightsAndBoosts(t *testing.T) {
	cfg := rawConfig()
	cfg.CustomWeights = map[string]float64{"Y": 0.5}
	cfg.BoostFactors = map[string]float64{"elevation>25": 1.5, "bogus": 9, "orbit>1": 2}
	e := newEngine(t, cfg)
	require.NoError(t, e.RegisterStrategy(stubStrategy{name: "a", scores: map[string]float64{"X": 0.4, "Y": 0.4}}, 1))

	res, err := e.ScoreCandidates(context.Background(), cands("X", "Y"), models.NeutralEvent("A4"), nil)
	require.NoError(t, err)
	byID := map[string]models.ScoredCandidate{}
	for _, c := range res.Candidates {
		byID[c.Candidate.SatelliteID] = c
	}
	// X has elevation 20, Y has 30.
	assert.InDelta(t, 0.4, byID["X"].Score, 1e-9)
	assert.InDelta(t, 0.4*0.5*1.5, byID["Y"].Score, 1e-9)
	assert.Equal(t, []string{"elevation>25"}, byID["Y"].Reasoning["boosts_applied"])
}

func TestScoreThresholdReranks(t *testing.T) {
	cfg := rawConfig()
	cfg.ScoreThreshold = 0.5
	e := newEngine(t, cfg)
	require.NoError(t, e.RegisterStrategy(stubStrategy{name: "a", scores: map[string]float64{"X": 0.9, "Y": 0.2, "Z": 0.6}}, 1))
	res, err := e.ScoreCandidates(context.Background(), cands("X", "Y", "Z"), models.NeutralEvent("A4"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "Z"}, models.SatelliteIDs(res.Candidates))
	assert.Equal(t, 2, res.Candidates[1].Ranking)
}

func TestRankingByConfidence(t *testing.T) {
	cfg := rawConfig()
	cfg.RankingMethod = ConfidenceDesc
	e := newEngine(t, cfg)
	// X: high score but inconsistent strategies; Y: lower but consistent.
	require.NoError(t, e.RegisterStrategy(stubStrategy{name: "a", scores: map[string]float64{"X": 1.0, "Y": 0.5}}, 1))
	require.NoError(t, e.RegisterStrategy(stubStrategy{name: "b", scores: map[string]float64{"X": 0.2, "Y": 0.5}}, 1))
	res, err := e.ScoreCandidates(context.Background(), cands("X", "Y"), models.NeutralEvent("A4"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Y", "X"}, models.SatelliteIDs(res.Candidates))
}

func TestBuiltinScoringInvariants(t *testing.T) {
	for _, method := range []Method{WeightedAverage, Multiplicative, MinMaxNormalized, RankBased, Fuzzy} {
		cfg := DefaultConfig()
		cfg.Method = method
		e := newEngine(t, cfg)
		for _, s := range strategy.Builtins() {
			require.NoError(t, e.RegisterStrategy(s, 0.2))
		}
		input := cands("S1", "S2", "S3", "S4", "S5", "S6", "S7")
		first, err := e.ScoreCandidates(context.Background(), input, models.NeutralEvent("A4"), nil)
		require.NoError(t, err)
		second, err := e.ScoreCandidates(context.Background(), input, models.NeutralEvent("A4"), nil)
		require.NoError(t, err)
		assert.Equal(t, first.Candidates, second.Candidates, string(method))

		for i, c := range first.Candidates {
			assert.Equal(t, i+1, c.Ranking, string(method))
			assert.GreaterOrEqual(t, c.Score, 0.0)
			assert.LessOrEqual(t, c.Score, 1.0)
			assert.GreaterOrEqual(t, c.Confidence, 0.0)
			assert.LessOrEqual(t, c.Confidence, 1.0)
			if i > 0 {
				assert.GreaterOrEqual(t, first.Candidates[i-1].Score, c.Score, string(method))
			}
		}
	}
}

func TestNewRejectsUnknownMethod(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Method = "median"
	_, err := New(cfg, logr.Discard())
	assert.Error(t, err)

	e := newEngine(t, DefaultConfig())
	cfg = DefaultConfig()
	cfg.RankingMethod = "random"
	assert.Error(t, e.UpdateConfig(cfg))
}

func TestStatsAccumulateAndReset(t *testing.T) {
	e := newEngine(t, rawConfig())
	require.NoError(t, e.RegisterStrategy(stubStrategy{name: "a", scores: map[string]float64{"X": 0.5, "Y": 0.4}}, 1))
	for i := 0; i < 3; i++ {
		_, err := e.ScoreCandidates(context.Background(), cands("X", "Y"), models.NeutralEvent("A4"), nil)
		require.NoError(t, err)
	}
	stats := e.Stats()
	assert.Equal(t, 3, stats.TotalScorings)
	assert.Equal(t, 6, stats.TotalCandidatesScored)
	assert.Equal(t, 3, stats.StrategyUsage["a"])

	e.ResetStats()
	assert.Equal(t, 0, e.Stats().TotalScorings)
}
