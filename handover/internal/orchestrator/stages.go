package orchestrator

import (
	"context"
	"time"

	"github.com/ILLUVRSE/leo-handover/handover/internal/logging"
	"github.com/ILLUVRSE/leo-handover/handover/internal/metrics"
	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
	"github.com/ILLUVRSE/leo-handover/handover/internal/pipeline"
)

// run is the data handed from stage to stage. Stages copy it before
// changing it, so an attempt abandoned on timeout never writes into the
// value the next stage sees.
type run struct {
	id        string
	eventType string
	raw       models.RawEvent
	event     models.ProcessedEvent
	scored    []models.ScoredCandidate
	decision  *models.Decision
	result    models.ExecutionResult
}

func (o *Orchestrator) processEvent(ctx context.Context, data interface{}, _ *pipeline.Context) (interface{}, error) {
	r := *data.(*run)
	ev, err := o.deps.Events.ProcessEvent(ctx, r.eventType, r.raw)
	if err != nil {
		return nil, err
	}
	r.event = ev
	o.notify(ctx, models.Notification{
		Type:       models.NotifyStageUpdate,
		DecisionID: r.id,
		Stage:      "event_processed",
		Payload: map[string]interface{}{
			"event_id":   ev.EventID,
			"event_type": ev.EventType,
			"confidence": ev.Confidence,
		},
	})
	logging.FromContext(ctx, o.logger).V(logging.DEBUG).Info("Event processed", "confidence", ev.Confidence)
	return &r, nil
}

func (o *Orchestrator) selectCandidates(ctx context.Context, data interface{}, _ *pipeline.Context) (interface{}, error) {
	r := *data.(*run)
	cands, err := o.deps.Selector.SelectCandidates(ctx, r.event, o.deps.State.SatellitePool())
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, ErrNoCandidates
	}
	res, err := o.deps.Selector.ScoreCandidates(ctx, cands, &r.event)
	if err != nil {
		return nil, err
	}
	if len(res.Candidates) == 0 {
		return nil, ErrNoCandidates
	}
	r.scored = res.Candidates
	o.notify(ctx, models.Notification{
		Type:       models.NotifyStageUpdate,
		DecisionID: r.id,
		Stage:      "candidates_selected",
		Payload: map[string]interface{}{
			"count":      len(res.Candidates),
			"candidates": models.SatelliteIDs(res.Candidates),
			"top_score":  res.Candidates[0].Score,
		},
	})
	logging.FromContext(ctx, o.logger).V(logging.DEBUG).Info("Candidates selected", "selected", len(cands), "scored", len(res.Candidates))
	return &r, nil
}

func (o *Orchestrator) decide(ctx context.Context, data interface{}, pc *pipeline.Context) (interface{}, error) {
	r := *data.(*run)
	dc := models.DecisionContext{
		DecisionID:        r.id,
		Event:             r.event,
		NetworkConditions: o.deps.State.NetworkConditions(),
		Timestamp:         time.Now().UTC(),
	}
	start := time.Now()
	d, err := o.deps.Provider.MakeDecision(ctx, r.scored, dc)
	if err != nil {
		return nil, err
	}
	if d.DecisionTime == 0 {
		d.DecisionTime = time.Since(start).Seconds()
	}
	r.decision = &d
	pc.Set(keyDecision, d)
	o.notify(ctx, models.Notification{
		Type:       models.NotifyStageUpdate,
		DecisionID: r.id,
		Stage:      "decision_made",
		Payload: map[string]interface{}{
			"selected_satellite": d.SelectedSatellite,
			"confidence":         d.Confidence,
			"algorithm":          d.AlgorithmUsed,
		},
	})
	return &r, nil
}

// triggerVisualization is the only stage whose failure does not fail the
// decision; its Recover hands the data through unchanged.
func (o *Orchestrator) triggerVisualization(ctx context.Context, data interface{}, _ *pipeline.Context) (interface{}, error) {
	r := data.(*run)
	err := o.send(ctx, models.Notification{
		Type:       models.NotifyDecisionMade,
		DecisionID: r.id,
		Payload: map[string]interface{}{
			"selected_satellite": r.decision.SelectedSatellite,
			"candidates":         models.SatelliteIDs(r.scored),
			"confidence":         r.decision.Confidence,
			"visualization":      r.decision.VisualizationData,
		},
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (o *Orchestrator) execute(ctx context.Context, data interface{}, _ *pipeline.Context) (interface{}, error) {
	r := *data.(*run)
	ec := &models.ExecutionContext{
		ExecutionID: r.id,
		Timestamp:   time.Now().UTC(),
		Metadata:    map[string]interface{}{"event_type": r.event.EventType},
	}
	res := o.deps.Executor.ExecuteDecision(ctx, *r.decision, ec)
	res.ExecutionID = r.id
	if res.Decision == nil {
		d := *r.decision
		res.Decision = &d
	}
	o.deps.State.UpdateHandoverState(r.id, r.decision, res)
	r.result = res
	logging.FromContext(ctx, o.logger).V(logging.DEBUG).Info("Decision executed", "success", res.Success, "status", string(res.Status))
	return &r, nil
}

func (o *Orchestrator) processResult(ctx context.Context, data interface{}, _ *pipeline.Context) (interface{}, error) {
	r := data.(*run)
	if r.decision.AlgorithmUsed != "" {
		metrics.RecordAlgorithmLatency(r.decision.AlgorithmUsed, r.result.ExecutionTime)
	}
	if r.result.Success {
		o.notify(ctx, models.Notification{
			Type:       models.NotifyExecutionDone,
			DecisionID: r.id,
			Payload: map[string]interface{}{
				"selected_satellite":  r.decision.SelectedSatellite,
				"success":             true,
				"performance_metrics": r.result.PerformanceMetrics,
			},
		})
	}
	if o.deps.Archiver != nil {
		key, err := o.deps.Archiver.ArchiveResult(ctx, r.result)
		if err != nil {
			o.logger.Error(err, "Archiving result failed", "decisionId", r.id)
		} else {
			o.logger.V(logging.DEBUG).Info("Result archived", "decisionId", r.id, "key", key)
		}
	}
	return r, nil
}
