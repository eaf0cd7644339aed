// Package scoring fuses per-strategy candidate scores into a single ranked
// list with a confidence value per candidate.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/ILLUVRSE/leo-handover/handover/internal/logging"
	"github.com/ILLUVRSE/leo-handover/handover/internal/metrics"
	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
	"github.com/ILLUVRSE/leo-handover/handover/internal/strategy"
)

var (
	ErrNoStrategies     = errors.New("scoring: no strategies registered")
	ErrInvalidWeight    = errors.New("scoring: strategy weight must be positive")
	ErrUnknownStrategy  = errors.New("scoring: strategy not registered")
	ErrStrategyConflict = errors.New("scoring: strategy already registered")
)

type registration struct {
	strategy strategy.Strategy
	weight   float64
}

// Engine runs registered strategies and fuses their scores. It is safe for
// concurrent use.
type Engine struct {
	logger logr.Logger

	mu         sync.RWMutex
	cfg        Config
	boosts     []boostRule
	strategies map[string]registration

	statsMu sync.Mutex
	stats   Stats
}

// Result is the outcome of one ScoreCandidates call.
type Result struct {
	Candidates []models.ScoredCandidate `json:"candidates"`
	Metadata   Metadata                 `json:"metadata"`
	Duration   time.Duration            `json:"duration"`
}

type Metadata struct {
	Distribution Distribution    `json:"distribution"`
	Strategies   StrategySummary `json:"strategies"`
	Quality      Quality         `json:"quality"`
}

type Distribution struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
}

type StrategySummary struct {
	Succeeded []string           `json:"succeeded"`
	Failed    map[string]string  `json:"failed"`
	Weights   map[string]float64 `json:"weights"`
}

type Quality struct {
	MeanConfidence  float64 `json:"meanConfidence"`
	MeanCoverage    float64 `json:"meanCoverage"`
	Dropped         int     `json:"dropped"`
	OutliersClamped int     `json:"outliersClamped"`
}

// New returns an engine with no strategies registered.
func New(cfg Config, logger logr.Logger) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		logger:     logger.WithName("scoring"),
		strategies: map[string]registration{},
		stats:      newStats(),
	}
	e.setConfig(cfg)
	return e, nil
}

func (e *Engine) setConfig(cfg Config) {
	rules, errs := parseBoosts(cfg.BoostFactors)
	for _, err := range errs {
		e.logger.V(logging.DEBUG).Info("Ignoring boost factor", "error", err.Error())
	}
	e.cfg = cfg.clone()
	e.boosts = rules
}

// UpdateConfig swaps the fusion configuration for subsequent calls.
func (e *Engine) UpdateConfig(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setConfig(cfg)
	return nil
}

func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.clone()
}

func (e *Engine) RegisterStrategy(s strategy.Strategy, weight float64) error {
	if weight <= 0 {
		return fmt.Errorf("%w: %s=%v", ErrInvalidWeight, s.Name(), weight)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.strategies[s.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrStrategyConflict, s.Name())
	}
	e.strategies[s.Name()] = registration{strategy: s, weight: weight}
	e.logger.V(logging.VERBOSE).Info("Registered strategy", "strategy", s.Name(), "weight", weight)
	return nil
}

func (e *Engine) UpdateStrategyWeight(name string, weight float64) error {
	if weight <= 0 {
		return fmt.Errorf("%w: %s=%v", ErrInvalidWeight, name, weight)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	reg, ok := e.strategies[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	reg.weight = weight
	e.strategies[name] = reg
	return nil
}

func (e *Engine) UnregisterStrategy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.strategies[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	delete(e.strategies, name)
	return nil
}

// Strategies returns the registered strategy weights.
func (e *Engine) Strategies() map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]float64, len(e.strategies))
	for name, reg := range e.strategies {
		out[name] = reg.weight
	}
	return out
}

type strategyRun struct {
	name   string
	weight float64
	result strategy.FilterResult
	err    error
}

// ScoreCandidates runs every registered strategy over cands and returns the
// fused, ranked result. A strategy failure is logged and excluded; having no
// strategies registered at all is an error.
func (e *Engine) ScoreCandidates(ctx context.Context, cands []models.Candidate, ev models.ProcessedEvent, params strategy.Params) (Result, error) {
	start := time.Now()

	e.mu.RLock()
	cfg := e.cfg.clone()
	boosts := append([]boostRule(nil), e.boosts...)
	names := make([]string, 0, len(e.strategies))
	regs := make(map[string]registration, len(e.strategies))
	for name, reg := range e.strategies {
		names = append(names, name)
		regs[name] = reg
	}
	e.mu.RUnlock()

	if len(names) == 0 {
		return Result{}, ErrNoStrategies
	}
	if len(cands) == 0 {
		return Result{Candidates: []models.ScoredCandidate{}, Duration: time.Since(start)}, nil
	}
	sort.Strings(names)

	runs := make([]strategyRun, len(names))
	var g errgroup.Group
	for i, name := range names {
		reg := regs[name]
		g.Go(func() error {
			t0 := time.Now()
			res, err := reg.strategy.Filter(ctx, cands, ev, params)
			metrics.RecordStrategy(name, err == nil, time.Since(t0))
			runs[i] = strategyRun{name: name, weight: reg.weight, result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	summary := StrategySummary{Failed: map[string]string{}, Weights: map[string]float64{}}
	var succeeded []strategyRun
	var totalWeight float64
	for _, run := range runs {
		if run.err != nil {
			e.logger.Error(run.err, "Strategy failed, excluding from fusion", "strategy", run.name)
			summary.Failed[run.name] = run.err.Error()
			continue
		}
		succeeded = append(succeeded, run)
		summary.Succeeded = append(summary.Succeeded, run.name)
		totalWeight += run.weight
	}
	if len(succeeded) < cfg.MinStrategiesRequired {
		e.logger.Info("Fewer strategies succeeded than required, continuing",
			"succeeded", len(succeeded), "required", cfg.MinStrategiesRequired)
	}
	for i := range succeeded {
		if totalWeight > 0 {
			succeeded[i].weight /= totalWeight
		} else {
			succeeded[i].weight = 1 / float64(len(succeeded))
		}
		summary.Weights[succeeded[i].name] = succeeded[i].weight
	}

	fused := make([]models.ScoredCandidate, 0, len(cands))
	var coverageSum float64
	dropped := 0
	for _, c := range cands {
		var scores []strategyScore
		sub := map[string]float64{}
		for _, run := range succeeded {
			s, ok := run.result.Scores[c.SatelliteID]
			if !ok {
				continue
			}
			scores = append(scores, strategyScore{name: run.name, score: s, weight: run.weight})
			sub[run.name] = s
		}
		if len(scores) == 0 {
			dropped++
			continue
		}
		coverageSum += float64(len(scores)) / float64(len(names))
		fused = append(fused, e.scoreOne(cfg, boosts, c, scores, sub, len(names)))
	}

	out := fused
	clamped := 0
	if cfg.OutlierHandling {
		out, clamped = clampOutliers(out)
	}
	if cfg.Normalization {
		out = normalizeScores(out)
	}
	out = sortCandidates(out, cfg.RankingMethod)
	out = assignRanks(out)
	out = applyThreshold(out, cfg.ScoreThreshold)

	meta := Metadata{
		Distribution: distribution(out),
		Strategies:   summary,
		Quality: Quality{
			MeanConfidence:  meanConfidence(out),
			Dropped:         dropped,
			OutliersClamped: clamped,
		},
	}
	if len(fused) > 0 {
		meta.Quality.MeanCoverage = coverageSum / float64(len(fused))
	}

	elapsed := time.Since(start)
	e.recordStats(len(out), elapsed, summary)
	e.logger.V(logging.DEBUG).Info("Scored candidates",
		"candidates", len(cands), "ranked", len(out), "strategies", len(succeeded), "duration", elapsed)
	return Result{Candidates: out, Metadata: meta, Duration: elapsed}, nil
}

func (e *Engine) scoreOne(cfg Config, boosts []boostRule, c models.Candidate, scores []strategyScore, sub map[string]float64, registered int) models.ScoredCandidate {
	score := fuse(cfg.Method, scores)
	conf := confidence(scores, registered, cfg.ConfidenceWeighting)
	reasoning := map[string]interface{}{
		"fusion_method":   string(cfg.Method),
		"strategies_used": len(scores),
	}
	if w, ok := cfg.CustomWeights[c.SatelliteID]; ok {
		score *= w
		reasoning["custom_weight"] = w
	}
	var applied []string
	for _, rule := range boosts {
		if rule.matches(c) {
			score *= rule.factor
			applied = append(applied, rule.condition)
		}
	}
	if len(applied) > 0 {
		reasoning["boosts_applied"] = applied
	}
	return models.ScoredCandidate{
		Candidate:  c,
		Score:      clamp01(score),
		Confidence: conf,
		SubScores:  sub,
		Reasoning:  reasoning,
	}
}

func distribution(cands []models.ScoredCandidate) Distribution {
	if len(cands) == 0 {
		return Distribution{}
	}
	values := make([]float64, len(cands))
	d := Distribution{Count: len(cands), Min: cands[0].Score, Max: cands[0].Score}
	for i, c := range cands {
		values[i] = c.Score
		if c.Score < d.Min {
			d.Min = c.Score
		}
		if c.Score > d.Max {
			d.Max = c.Score
		}
	}
	d.Mean, d.StdDev = meanStd(values)
	return d
}

func meanConfidence(cands []models.ScoredCandidate) float64 {
	if len(cands) == 0 {
		return 0
	}
	var sum float64
	for _, c := range cands {
		sum += c.Confidence
	}
	return sum / float64(len(cands))
}
