package models

import "time"

// ExecutionPlan carries the handover type and the planned phase timings in
// milliseconds.
type ExecutionPlan struct {
	HandoverType     string  `json:"handoverType"`
	PreparationTime  float64 `json:"preparationTime"`
	ExecutionTime    float64 `json:"executionTime"`
	VerificationTime float64 `json:"verificationTime"`
}

// Empty reports whether no plan was supplied.
func (p ExecutionPlan) Empty() bool {
	return p == ExecutionPlan{}
}

// TotalMillis is the planned wall time of all phases.
func (p ExecutionPlan) TotalMillis() float64 {
	return p.PreparationTime + p.ExecutionTime + p.VerificationTime
}

// Decision is produced once by a decision provider and consumed once by the
// executor.
type Decision struct {
	SelectedSatellite   string                 `json:"selectedSatellite"`
	Confidence          float64                `json:"confidence"`
	Reasoning           map[string]interface{} `json:"reasoning"`
	AlternativeOptions  []string               `json:"alternativeOptions"`
	ExecutionPlan       ExecutionPlan          `json:"executionPlan"`
	AlgorithmUsed       string                 `json:"algorithmUsed"`
	DecisionTime        float64                `json:"decisionTime"`
	Context             map[string]interface{} `json:"context,omitempty"`
	ExpectedPerformance map[string]float64     `json:"expectedPerformance"`
	VisualizationData   map[string]interface{} `json:"visualizationData,omitempty"`
}

// DecisionContext is handed to the decision provider alongside the ranked
// candidates.
type DecisionContext struct {
	DecisionID        string             `json:"decisionId"`
	Event             ProcessedEvent     `json:"event"`
	NetworkConditions NetworkConditions  `json:"networkConditions"`
	Timestamp         time.Time          `json:"timestamp"`
	Hints             map[string]float64 `json:"hints,omitempty"`
}
