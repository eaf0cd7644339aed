package orchestrator

import (
	"context"
	"time"

	"github.com/ILLUVRSE/leo-handover/handover/internal/pipeline"
)

// Summary aggregates decisions seen by this orchestrator.
type Summary struct {
	TotalDecisions    int            `json:"totalDecisions"`
	SuccessfulCount   int            `json:"successfulCount"`
	FailedCount       int            `json:"failedCount"`
	ErrorCount        int            `json:"errorCount"`
	SuccessRate       float64        `json:"successRate"`
	AvgLatencySeconds float64        `json:"avgLatencySeconds"`
	ErrorsByEventType map[string]int `json:"errorsByEventType"`
	totalLatency      float64
}

type ServiceStatus struct {
	Status          string            `json:"status"`
	IsRunning       bool              `json:"isRunning"`
	ActiveDecisions int               `json:"activeDecisions"`
	Metrics         Summary           `json:"metrics"`
	PipelineStats   pipeline.Stats    `json:"pipelineStats"`
	Components      map[string]string `json:"components"`
}

type Health struct {
	OverallHealth bool              `json:"overallHealth"`
	Components    map[string]bool   `json:"components"`
	Errors        map[string]string `json:"errors,omitempty"`
	PipelineStats pipeline.Stats    `json:"pipelineStatus"`
	UptimeSeconds float64           `json:"uptimeSeconds"`
}

type PerformanceMetrics struct {
	Orchestrator    Summary        `json:"orchestrator"`
	Pipeline        pipeline.Stats `json:"pipeline"`
	RecentLatencies []float64      `json:"recentLatencies"`
}

func (o *Orchestrator) record(eventType string, success bool, elapsed time.Duration, errored bool) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	s := &o.summary
	s.TotalDecisions++
	if success {
		s.SuccessfulCount++
	} else {
		s.FailedCount++
	}
	if errored {
		s.ErrorCount++
		s.ErrorsByEventType[eventType]++
	}
	s.totalLatency += elapsed.Seconds()
	s.AvgLatencySeconds = s.totalLatency / float64(s.TotalDecisions)
	s.SuccessRate = float64(s.SuccessfulCount) / float64(s.TotalDecisions)

	o.latencies = append(o.latencies, elapsed.Seconds())
	if len(o.latencies) > latencyWindow {
		o.latencies = o.latencies[len(o.latencies)-latencyWindow:]
	}
}

func (o *Orchestrator) snapshotSummary() (Summary, []float64) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	s := o.summary
	s.ErrorsByEventType = make(map[string]int, len(o.summary.ErrorsByEventType))
	for k, v := range o.summary.ErrorsByEventType {
		s.ErrorsByEventType[k] = v
	}
	return s, append([]float64(nil), o.latencies...)
}

func (o *Orchestrator) components() map[string]interface{} {
	return map[string]interface{}{
		"event_processor":    o.deps.Events,
		"candidate_selector": o.deps.Selector,
		"decision_provider":  o.deps.Provider,
		"executor":           o.deps.Executor,
		"state_manager":      o.deps.State,
		"visualization":      o.deps.Sink,
	}
}

func (o *Orchestrator) ServiceStatus() ServiceStatus {
	running := o.IsRunning()
	status := "stopped"
	if running {
		status = "healthy"
	}
	comps := map[string]string{}
	for name := range o.components() {
		comps[name] = "healthy"
	}
	for name, present := range map[string]bool{
		"archiver":   o.deps.Archiver != nil,
		"repository": o.deps.Repository != nil,
	} {
		if present {
			comps[name] = "healthy"
		} else {
			comps[name] = "disabled"
		}
	}
	summary, _ := o.snapshotSummary()
	return ServiceStatus{
		Status:          status,
		IsRunning:       running,
		ActiveDecisions: o.activeCount(),
		Metrics:         summary,
		PipelineStats:   o.pipeline.Stats(),
		Components:      comps,
	}
}

// HealthCheck asks every component that can report health, plus the
// repository when one is configured.
func (o *Orchestrator) HealthCheck(ctx context.Context) Health {
	h := Health{
		OverallHealth: true,
		Components:    map[string]bool{},
		Errors:        map[string]string{},
		PipelineStats: o.pipeline.Stats(),
		UptimeSeconds: time.Since(o.started).Seconds(),
	}
	check := func(name string, err error) {
		h.Components[name] = err == nil
		if err != nil {
			h.OverallHealth = false
			h.Errors[name] = err.Error()
		}
	}
	for name, c := range o.components() {
		if hc, ok := c.(healthChecker); ok {
			check(name, hc.HealthCheck(ctx))
			continue
		}
		h.Components[name] = true
	}
	if o.deps.Repository != nil {
		check("repository", o.deps.Repository.Ping(ctx))
	}
	return h
}

func (o *Orchestrator) PerformanceMetrics() PerformanceMetrics {
	summary, lat := o.snapshotSummary()
	return PerformanceMetrics{
		Orchestrator:    summary,
		Pipeline:        o.pipeline.Stats(),
		RecentLatencies: lat,
	}
}
