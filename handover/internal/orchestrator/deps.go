package orchestrator

import (
	"context"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
	"github.com/ILLUVRSE/leo-handover/handover/internal/scoring"
)

type EventProcessor interface {
	ProcessEvent(ctx context.Context, eventType string, raw models.RawEvent) (models.ProcessedEvent, error)
}

type CandidateSelector interface {
	SelectCandidates(ctx context.Context, ev models.ProcessedEvent, raw []models.RawSatellite) ([]models.Candidate, error)
	ScoreCandidates(ctx context.Context, cands []models.Candidate, ev *models.ProcessedEvent) (scoring.Result, error)
}

type DecisionProvider interface {
	MakeDecision(ctx context.Context, scored []models.ScoredCandidate, dc models.DecisionContext) (models.Decision, error)
}

type DecisionExecutor interface {
	ExecuteDecision(ctx context.Context, d models.Decision, ec *models.ExecutionContext) models.ExecutionResult
}

// StateStore is the shared satellite pool, network conditions and handover
// history.
type StateStore interface {
	SatellitePool() []models.RawSatellite
	NetworkConditions() models.NetworkConditions
	UpdateHandoverState(decisionID string, d *models.Decision, r models.ExecutionResult) models.HandoverRecord
}

// VisualizationSink receives fire-and-forget notifications.
type VisualizationSink interface {
	Notify(ctx context.Context, n models.Notification) error
}

// ResultArchiver stores finished results. Optional.
type ResultArchiver interface {
	ArchiveResult(ctx context.Context, r models.ExecutionResult) (string, error)
}

// Pinger reports repository health. Optional.
type Pinger interface {
	Ping(ctx context.Context) error
}

// healthChecker is implemented by components that can report their own
// health.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Deps struct {
	Events     EventProcessor
	Selector   CandidateSelector
	Provider   DecisionProvider
	Executor   DecisionExecutor
	State      StateStore
	Sink       VisualizationSink
	Archiver   ResultArchiver
	Repository Pinger
}

type noopSink struct{}

func (noopSink) Notify(context.Context, models.Notification) error { return nil }
