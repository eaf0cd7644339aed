package models

import "time"

// RawEvent is an inbound measurement event before normalization.
type RawEvent map[string]interface{}

// RawSatellite is one record from the satellite pool source.
type RawSatellite map[string]interface{}

// ProcessedEvent is the normalized form of a measurement event.
type ProcessedEvent struct {
	EventID      string                 `json:"eventId"`
	EventType    string                 `json:"eventType"`
	UEID         string                 `json:"ueId"`
	SourceCell   string                 `json:"sourceCell"`
	TargetCells  []string               `json:"targetCells"`
	TriggerData  map[string]interface{} `json:"triggerData"`
	Measurements map[string]float64     `json:"measurements"`
	Confidence   float64                `json:"confidence"`
	Timestamp    time.Time              `json:"timestamp"`
}

// NeutralEvent is used when a caller scores candidates without an event.
func NeutralEvent(eventType string) ProcessedEvent {
	return ProcessedEvent{
		EventType:    eventType,
		TriggerData:  map[string]interface{}{},
		Measurements: map[string]float64{},
		Confidence:   1,
		Timestamp:    time.Now().UTC(),
	}
}

// NetworkConditions is a snapshot of named network-wide metrics.
type NetworkConditions struct {
	Metrics   map[string]float64 `json:"metrics"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

func (n NetworkConditions) Clone() NetworkConditions {
	out := NetworkConditions{Metrics: make(map[string]float64, len(n.Metrics)), UpdatedAt: n.UpdatedAt}
	for k, v := range n.Metrics {
		out.Metrics[k] = v
	}
	return out
}

// NotificationType enumerates the visualization notifications.
type NotificationType string

const (
	NotifyStart         NotificationType = "handover_started"
	NotifyStageUpdate   NotificationType = "stage_update"
	NotifyDecisionMade  NotificationType = "decision_made"
	NotifyComplete      NotificationType = "handover_completed"
	NotifyError         NotificationType = "handover_error"
	NotifyExecutionDone NotificationType = "execution_complete"
)

// Notification is a fire-and-forget message for the visualization sink.
type Notification struct {
	Type       NotificationType       `json:"type"`
	DecisionID string                 `json:"decisionId"`
	Stage      string                 `json:"stage,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}
