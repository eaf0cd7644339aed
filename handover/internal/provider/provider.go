// Package provider contains decision providers: the local heuristic that picks
// the top-ranked candidate and an HTTP client for a remote decision service.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/ILLUVRSE/leo-handover/handover/internal/logging"
	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

// ErrNoCandidates is returned when there is nothing to decide between.
var ErrNoCandidates = errors.New("no scored candidates")

// DecisionProvider turns ranked candidates into one handover decision.
type DecisionProvider interface {
	MakeDecision(ctx context.Context, scored []models.ScoredCandidate, dc models.DecisionContext) (models.Decision, error)
}

// Plan timings in milliseconds.
const (
	DefaultPreparationMillis  = 500
	DefaultExecutionMillis    = 2000
	DefaultVerificationMillis = 500
	maxAlternatives           = 3
)

// Heuristic picks the top-ranked candidate.
type Heuristic struct {
	Name           string
	DefaultType    string
	SupportedTypes []string
	logger         logr.Logger
}

func NewHeuristic(logger logr.Logger) *Heuristic {
	return &Heuristic{
		Name:           "heuristic",
		DefaultType:    "A4",
		SupportedTypes: []string{"A3", "A4", "A5", "D1", "D2", "T1"},
		logger:         logger.WithName("provider"),
	}
}

func (h *Heuristic) MakeDecision(ctx context.Context, scored []models.ScoredCandidate, dc models.DecisionContext) (models.Decision, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return models.Decision{}, err
	}
	if len(scored) == 0 {
		return models.Decision{}, ErrNoCandidates
	}
	best := scored[0]
	for _, s := range scored[1:] {
		if s.Ranking > 0 && (best.Ranking == 0 || s.Ranking < best.Ranking) {
			best = s
		}
	}
	id := best.Candidate.SatelliteID

	alternatives := make([]string, 0, maxAlternatives)
	for _, s := range scored {
		if len(alternatives) == maxAlternatives {
			break
		}
		if s.Candidate.SatelliteID != id {
			alternatives = append(alternatives, s.Candidate.SatelliteID)
		}
	}

	confidence := clamp01(0.5*best.Score + 0.5*best.Confidence)
	if dc.Event.Confidence > 0 {
		confidence = clamp01(confidence * (0.5 + 0.5*dc.Event.Confidence))
	}

	d := models.Decision{
		SelectedSatellite: id,
		Confidence:        confidence,
		Reasoning: map[string]interface{}{
			"algorithm":         h.Name,
			"selection_basis":   "highest_rank",
			"candidate_ranking": best.Ranking,
			"candidate_score":   best.Score,
			"event_confidence":  dc.Event.Confidence,
		},
		AlternativeOptions: alternatives,
		ExecutionPlan: models.ExecutionPlan{
			HandoverType:     h.handoverType(dc.Event.EventType),
			PreparationTime:  DefaultPreparationMillis,
			ExecutionTime:    DefaultExecutionMillis,
			VerificationTime: DefaultVerificationMillis,
		},
		AlgorithmUsed: h.Name,
		Context: map[string]interface{}{
			"decision_id": dc.DecisionID,
			"event_id":    dc.Event.EventID,
		},
		ExpectedPerformance: map[string]float64{
			"signal_quality":         0.7 + 0.3*best.Score,
			"latency_improvement":    10 * best.Score,
			"throughput_improvement": 15 * best.Score,
		},
		VisualizationData: map[string]interface{}{
			"selected":     id,
			"alternatives": alternatives,
		},
	}
	d.DecisionTime = time.Since(start).Seconds()
	h.logger.V(logging.DEBUG).Info("Decision made", "decisionId", dc.DecisionID, "satellite", id, "confidence", confidence)
	return d, nil
}

func (h *Heuristic) handoverType(eventType string) string {
	for _, t := range h.SupportedTypes {
		if t == eventType {
			return t
		}
	}
	return h.DefaultType
}

// Fallback tries each provider in order and returns the first decision.
type Fallback struct {
	providers []DecisionProvider
	logger    logr.Logger
}

func NewFallback(logger logr.Logger, providers ...DecisionProvider) *Fallback {
	return &Fallback{providers: providers, logger: logger.WithName("provider")}
}

func (f *Fallback) MakeDecision(ctx context.Context, scored []models.ScoredCandidate, dc models.DecisionContext) (models.Decision, error) {
	if len(f.providers) == 0 {
		return models.Decision{}, fmt.Errorf("no decision providers configured")
	}
	var errs []error
	for i, p := range f.providers {
		d, err := p.MakeDecision(ctx, scored, dc)
		if err == nil {
			return d, nil
		}
		if ctx.Err() != nil {
			return models.Decision{}, ctx.Err()
		}
		f.logger.Error(err, "Decision provider failed", "index", i, "decisionId", dc.DecisionID)
		errs = append(errs, err)
	}
	return models.Decision{}, fmt.Errorf("all decision providers failed: %w", errors.Join(errs...))
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
