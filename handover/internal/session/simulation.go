package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ILLUVRSE/leo-handover/handover/internal/logging"
	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
	"github.com/ILLUVRSE/leo-handover/handover/internal/store"
)

// Decider is the slice of the orchestrator a simulation drives.
type Decider interface {
	MakeHandoverDecision(ctx context.Context, raw models.RawEvent) models.ExecutionResult
}

// Simulation replays Events through a Decider, one event per step, and
// records the aggregate as an experiment when it finishes.
type Simulation struct {
	Name     string
	Events   []models.RawEvent
	Interval time.Duration
	// Steps is the number of decisions to make, cycling through Events.
	// Zero means one pass.
	Steps int
}

// SimulationResults summarises a simulation run.
type SimulationResults struct {
	Decisions        int            `json:"decisions"`
	Successes        int            `json:"successes"`
	SuccessRate      float64        `json:"successRate"`
	AvgExecutionTime float64        `json:"avgExecutionTime"`
	Algorithms       map[string]int `json:"algorithms"`
	Targets          map[string]int `json:"targets"`
}

func (s Simulation) TotalSteps() int {
	if s.Steps > 0 {
		return s.Steps
	}
	return len(s.Events)
}

func (s Simulation) Validate() error {
	if len(s.Events) == 0 {
		return &models.ValidationError{Field: "events", Reason: "at least one event is required"}
	}
	if s.Interval < 0 {
		return &models.ValidationError{Field: "interval", Reason: "must not be negative"}
	}
	return nil
}

// Work returns the session body. repo may be nil.
func (s Simulation) Work(d Decider, repo store.Repository) Work {
	return func(ctx context.Context, c *Control) error {
		logger := logging.FromContext(ctx, c.g.logger)
		res := SimulationResults{Algorithms: map[string]int{}, Targets: map[string]int{}}
		var execTotal float64

		err := StepLoop(ctx, c, s.Interval, func(ctx context.Context, i int) error {
			raw := make(models.RawEvent, len(s.Events[i%len(s.Events)]))
			for k, v := range s.Events[i%len(s.Events)] {
				raw[k] = v
			}
			r := d.MakeHandoverDecision(ctx, raw)
			res.Decisions++
			execTotal += r.ExecutionTime
			if r.Success {
				res.Successes++
			}
			if r.Decision != nil {
				res.Algorithms[r.Decision.AlgorithmUsed]++
				res.Targets[r.Decision.SelectedSatellite]++
			}
			logger.V(logging.DEBUG).Info("simulation step", "step", i, "executionId", r.ExecutionID, "status", r.Status)
			return nil
		})

		if res.Decisions > 0 {
			res.SuccessRate = float64(res.Successes) / float64(res.Decisions)
			res.AvgExecutionTime = execTotal / float64(res.Decisions)
		}
		c.SetMetadata("results", res)
		s.record(c, repo, res)
		return err
	}
}

func (s Simulation) record(c *Control, repo store.Repository, res SimulationResults) {
	if repo == nil {
		return
	}
	params, err := json.Marshal(map[string]interface{}{
		"events":   len(s.Events),
		"steps":    s.TotalSteps(),
		"interval": s.Interval.String(),
	})
	if err != nil {
		return
	}
	results, err := json.Marshal(res)
	if err != nil {
		return
	}
	name := s.Name
	if name == "" {
		name = fmt.Sprintf("simulation-%s", c.ID())
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.g.persistTimeout)
	defer cancel()
	if _, err := repo.CreateExperiment(ctx, models.ExperimentRecord{
		SessionID:  c.ID(),
		Name:       name,
		Parameters: params,
		Results:    results,
	}); err != nil {
		c.g.logger.Error(err, "record experiment", "session", c.ID())
	}
}
