// Package strategy holds the per-dimension candidate scoring functions used by
// the selector and the scoring engine.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

// Built-in strategy names.
const (
	Elevation  = "elevation"
	Signal     = "signal"
	Load       = "load"
	Distance   = "distance"
	Visibility = "visibility"
)

var (
	ErrNonFinite     = errors.New("strategy produced a non-finite score")
	ErrDuplicateName = errors.New("strategy already registered")
)

// StrategyError isolates one strategy's failure. Callers absorb it and carry
// on with the remaining strategies.
type StrategyError struct {
	Strategy string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy %s: %v", e.Strategy, e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }

// Params overrides a strategy's tunables by name.
type Params map[string]float64

// Get returns the named parameter or fallback.
func (p Params) Get(key string, fallback float64) float64 {
	if p == nil {
		return fallback
	}
	if v, ok := p[key]; ok {
		return v
	}
	return fallback
}

// Flag reads a 0/1 parameter as a bool.
func (p Params) Flag(key string, fallback bool) bool {
	def := 0.0
	if fallback {
		def = 1
	}
	return p.Get(key, def) != 0
}

// FilterResult is the outcome of running one strategy over a candidate batch.
// Scores holds every evaluated candidate, Filtered only those scoring above
// zero.
type FilterResult struct {
	Strategy string                 `json:"strategy"`
	Filtered []models.Candidate     `json:"filtered"`
	Scores   map[string]float64     `json:"scores"`
	Metadata map[string]interface{} `json:"metadata"`
	Duration time.Duration          `json:"duration"`
}

// Strategy is the capability set every scoring dimension implements.
type Strategy interface {
	Name() string
	Evaluate(c models.Candidate, ev models.ProcessedEvent, p Params) (float64, error)
	Filter(ctx context.Context, cands []models.Candidate, ev models.ProcessedEvent, p Params) (FilterResult, error)
}

// evaluator is the single method each built-in supplies; runFilter does the rest.
type evaluator interface {
	Name() string
	Evaluate(c models.Candidate, ev models.ProcessedEvent, p Params) (float64, error)
}

func runFilter(ctx context.Context, s evaluator, cands []models.Candidate, ev models.ProcessedEvent, p Params) (FilterResult, error) {
	start := time.Now()
	res := FilterResult{
		Strategy: s.Name(),
		Filtered: make([]models.Candidate, 0, len(cands)),
		Scores:   make(map[string]float64, len(cands)),
	}
	minScore := p.Get("min_score", 0)
	var sum float64
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return FilterResult{}, &StrategyError{Strategy: s.Name(), Err: err}
		}
		score, err := s.Evaluate(c, ev, p)
		if err != nil {
			return FilterResult{}, err
		}
		res.Scores[c.SatelliteID] = score
		sum += score
		if score > minScore {
			res.Filtered = append(res.Filtered, c)
		}
	}
	mean := 0.0
	if len(cands) > 0 {
		mean = sum / float64(len(cands))
	}
	res.Duration = time.Since(start)
	res.Metadata = map[string]interface{}{
		"evaluated":  len(cands),
		"passed":     len(res.Filtered),
		"mean_score": mean,
	}
	return res, nil
}

func finish(name string, score float64) (float64, error) {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, &StrategyError{Strategy: name, Err: ErrNonFinite}
	}
	return clamp01(score), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ramp maps v linearly from [lo, hi] onto [0, 1], saturating at both ends.
func ramp(v, lo, hi float64) float64 {
	if hi <= lo {
		if v >= hi {
			return 1
		}
		return 0
	}
	return clamp01((v - lo) / (hi - lo))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Registry keeps strategies by name in registration order.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]Strategy
	order []string
}

func NewRegistry() *Registry {
	return &Registry{byKey: map[string]Strategy{}}
}

// Builtins returns the five standard strategies with default tunables.
func Builtins() []Strategy {
	return []Strategy{
		NewElevation(),
		NewSignal(),
		NewLoad(),
		NewDistance(),
		NewVisibility(),
	}
}

// NewBuiltinRegistry returns a registry preloaded with Builtins.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	for _, s := range Builtins() {
		_ = r.Register(s)
	}
	return r
}

func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[s.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, s.Name())
	}
	r.byKey[s.Name()] = s
	r.order = append(r.order, s.Name())
	return nil
}

func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byKey[name]
	return s, ok
}

// Names lists registered strategies in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// SortedNames lists registered strategies alphabetically.
func (r *Registry) SortedNames() []string {
	names := r.Names()
	sort.Strings(names)
	return names
}
