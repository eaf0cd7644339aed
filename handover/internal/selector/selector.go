// Package selector narrows a raw satellite pool to handover candidates and
// hands them to the scoring engine.
package selector

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
	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
	"github.com/ILLUVRSE/leo-handover/handover/internal/scoring"
	"github.com/ILLUVRSE/leo-handover/handover/internal/strategy"
)

var ErrUnknownStrategy = errors.New("selector: unknown strategy")

// SelectionError wraps any failure that escapes candidate selection.
type SelectionError struct {
	EventType string
	Err       error
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("candidate selection for %s event: %v", e.EventType, e.Err)
}

func (e *SelectionError) Unwrap() error { return e.Err }

type Config struct {
	MaxCandidates   int
	MinElevation    float64
	MinSignal       float64
	MaxLoad         float64
	MinVisibility   float64
	Parallel        bool
	StrategyTimeout time.Duration
	MaxPoolSize     int
	// Weights are the scoring-engine weights per strategy name.
	Weights map[string]float64
}

func DefaultConfig() Config {
	return Config{
		MaxCandidates:   10,
		MinElevation:    10,
		MinSignal:       -120,
		MaxLoad:         0.9,
		MinVisibility:   300,
		Parallel:        true,
		StrategyTimeout: 5 * time.Second,
		MaxPoolSize:     defaultPoolSize,
		Weights: map[string]float64{
			strategy.Elevation:  0.25,
			strategy.Signal:     0.25,
			strategy.Load:       0.20,
			strategy.Distance:   0.15,
			strategy.Visibility: 0.15,
		},
	}
}

func (c Config) validate() error {
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("max candidates must be positive, got %d", c.MaxCandidates)
	}
	if c.StrategyTimeout <= 0 {
		return fmt.Errorf("strategy timeout must be positive, got %s", c.StrategyTimeout)
	}
	for name, w := range c.Weights {
		if w <= 0 {
			return fmt.Errorf("weight for %s must be positive", name)
		}
	}
	return nil
}

func (c Config) weight(name string) float64 {
	if w, ok := c.Weights[name]; ok {
		return w
	}
	return 1
}

// Metrics summarizes selector activity since the last reset.
type Metrics struct {
	SelectionCount      int                    `json:"selectionCount"`
	LastSelection       time.Duration          `json:"lastSelection"`
	StrategyPerformance map[string]Performance `json:"strategyPerformance"`
	ActiveStrategies    []string               `json:"activeStrategies"`
	CandidatePoolSize   int                    `json:"candidatePoolSize"`
}

// Selector owns its strategy manager, candidate pool and scoring engine.
type Selector struct {
	logger  logr.Logger
	manager *StrategyManager
	engine  *scoring.Engine

	mu  sync.RWMutex
	cfg Config

	poolMu sync.Mutex
	pool   *CandidatePool

	statsMu       sync.Mutex
	selections    int
	lastSelection time.Duration
}

// New builds a selector with the built-in strategies registered in both the
// strategy manager and a fresh scoring engine.
func New(cfg Config, scoringCfg scoring.Config, logger logr.Logger) (*Selector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	engine, err := scoring.New(scoringCfg, logger)
	if err != nil {
		return nil, err
	}
	s := &Selector{
		logger:  logger.WithName("selector"),
		manager: NewStrategyManager(),
		engine:  engine,
		cfg:     cfg,
		pool:    NewCandidatePool(cfg.MaxPoolSize),
	}
	for _, name := range s.manager.Names() {
		st, _ := s.manager.Get(name)
		if err := engine.RegisterStrategy(st, cfg.weight(name)); err != nil {
			return nil, err
		}
	}
	s.logger.V(logging.VERBOSE).Info("Candidate selector ready", "strategies", s.manager.Names())
	return s, nil
}

// RegisterStrategy adds a strategy beyond the built-ins.
func (s *Selector) RegisterStrategy(st strategy.Strategy, weight float64) error {
	if err := s.engine.RegisterStrategy(st, weight); err != nil {
		return err
	}
	if err := s.manager.Register(st); err != nil {
		_ = s.engine.UnregisterStrategy(st.Name())
		return err
	}
	return nil
}

func (s *Selector) Engine() *scoring.Engine { return s.engine }

func (s *Selector) Manager() *StrategyManager { return s.manager }

// SelectionStrategies lists every known strategy name.
func (s *Selector) SelectionStrategies() []string { return s.manager.Names() }

func (s *Selector) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SelectCandidates converts raw, runs every active strategy and returns the
// de-duplicated candidates passing the basic criteria, capped at
// MaxCandidates by quick score.
func (s *Selector) SelectCandidates(ctx context.Context, ev models.ProcessedEvent, raw []models.RawSatellite) ([]models.Candidate, error) {
	start := time.Now()
	cfg := s.Config()

	converted := make([]models.Candidate, 0, len(raw))
	for i, r := range raw {
		c, err := ConvertRaw(r)
		if err != nil {
			s.logger.V(logging.DEBUG).Info("Skipping invalid satellite record", "index", i, "error", err.Error())
			continue
		}
		converted = append(converted, c)
	}

	active := s.manager.Active()
	results := make([][]models.Candidate, len(active))
	if cfg.Parallel {
		var g errgroup.Group
		for i, st := range active {
			g.Go(func() error {
				results[i] = s.runStrategy(ctx, st, converted, ev, cfg.StrategyTimeout)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, st := range active {
			results[i] = s.runStrategy(ctx, st, converted, ev, cfg.StrategyTimeout)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, &SelectionError{EventType: ev.EventType, Err: err}
	}

	var merged []models.Candidate
	for _, r := range results {
		merged = append(merged, r...)
	}
	unique := s.dedupeAndFilter(cfg, merged)

	s.poolMu.Lock()
	s.pool.Clear()
	s.pool.AddAll(unique)
	selected := s.pool.Candidates()
	s.poolMu.Unlock()

	if len(selected) > cfg.MaxCandidates {
		sort.SliceStable(selected, func(i, j int) bool {
			qi, qj := quickScore(selected[i]), quickScore(selected[j])
			if qi != qj {
				return qi > qj
			}
			return selected[i].SatelliteID < selected[j].SatelliteID
		})
		selected = selected[:cfg.MaxCandidates]
	}

	elapsed := time.Since(start)
	s.statsMu.Lock()
	s.selections++
	s.lastSelection = elapsed
	s.statsMu.Unlock()

	s.logger.V(logging.DEBUG).Info("Candidate selection finished",
		"eventType", ev.EventType, "pool", len(raw), "candidates", len(selected), "duration", elapsed)
	return selected, nil
}

// runStrategy returns the strategy's filtered candidates, or nothing when it
// fails or overruns timeout. A strategy that ignores its context is abandoned
// rather than waited for.
func (s *Selector) runStrategy(ctx context.Context, st strategy.Strategy, cands []models.Candidate, ev models.ProcessedEvent, timeout time.Duration) []models.Candidate {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res strategy.FilterResult
		err error
	}
	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		res, err := st.Filter(sctx, cands, ev, nil)
		done <- outcome{res: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-sctx.Done():
		out.err = &strategy.StrategyError{Strategy: st.Name(), Err: sctx.Err()}
	}
	elapsed := time.Since(start)
	if out.err != nil {
		s.manager.record(st.Name(), false, elapsed)
		s.logger.Info("Strategy produced no candidates", "strategy", st.Name(), "error", out.err.Error())
		return nil
	}
	s.manager.record(st.Name(), true, elapsed)
	return out.res.Filtered
}

func (s *Selector) dedupeAndFilter(cfg Config, cands []models.Candidate) []models.Candidate {
	seen := make(map[string]struct{}, len(cands))
	out := make([]models.Candidate, 0, len(cands))
	for _, c := range cands {
		if _, ok := seen[c.SatelliteID]; ok {
			continue
		}
		seen[c.SatelliteID] = struct{}{}
		if meetsBasicCriteria(cfg, c) {
			out = append(out, c)
		}
	}
	return out
}

func meetsBasicCriteria(cfg Config, c models.Candidate) bool {
	return c.Elevation >= cfg.MinElevation &&
		c.SignalStrength >= cfg.MinSignal &&
		c.LoadFactor <= cfg.MaxLoad &&
		c.VisibilityTime >= cfg.MinVisibility
}

// ScoreCandidates delegates to the scoring engine. A nil event is replaced by
// a neutral "scoring" event.
func (s *Selector) ScoreCandidates(ctx context.Context, cands []models.Candidate, ev *models.ProcessedEvent) (scoring.Result, error) {
	event := models.NeutralEvent("scoring")
	if ev != nil {
		event = *ev
	}
	res, err := s.engine.ScoreCandidates(ctx, cands, event, nil)
	if err != nil {
		return scoring.Result{}, &SelectionError{EventType: event.EventType, Err: err}
	}
	return res, nil
}

// ApplyStrategy runs a single named strategy over cands.
func (s *Selector) ApplyStrategy(ctx context.Context, name string, cands []models.Candidate, params strategy.Params) (strategy.FilterResult, error) {
	st, ok := s.manager.Get(name)
	if !ok {
		return strategy.FilterResult{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	res, err := st.Filter(ctx, cands, models.NeutralEvent("strategy"), params)
	if err != nil {
		return strategy.FilterResult{}, &SelectionError{EventType: "strategy", Err: err}
	}
	return res, nil
}

func (s *Selector) EnableStrategy(name string) bool  { return s.manager.Enable(name) }
func (s *Selector) DisableStrategy(name string) bool { return s.manager.Disable(name) }

// UpdateConfig replaces the configuration and pushes any changed weights to
// the scoring engine.
func (s *Selector) UpdateConfig(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	for name, w := range cfg.Weights {
		if _, ok := s.manager.Get(name); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
		}
		if err := s.engine.UpdateStrategyWeight(name, w); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.logger.Info("Selector configuration updated",
		"maxCandidates", cfg.MaxCandidates, "parallel", cfg.Parallel, "strategyTimeout", cfg.StrategyTimeout)
	return nil
}

func (s *Selector) PerformanceMetrics() Metrics {
	s.statsMu.Lock()
	m := Metrics{SelectionCount: s.selections, LastSelection: s.lastSelection}
	s.statsMu.Unlock()
	m.StrategyPerformance = s.manager.Performance()
	m.ActiveStrategies = s.manager.ActiveNames()
	s.poolMu.Lock()
	m.CandidatePoolSize = s.pool.Len()
	s.poolMu.Unlock()
	return m
}

func (s *Selector) ResetMetrics() {
	s.statsMu.Lock()
	s.selections = 0
	s.lastSelection = 0
	s.statsMu.Unlock()
	s.manager.Reset()
}
