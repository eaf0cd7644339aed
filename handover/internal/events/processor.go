// Package events normalizes raw 3GPP measurement events into
// models.ProcessedEvent values.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/ILLUVRSE/leo-handover/handover/internal/logging"
	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

// Supported event types.
const (
	A3 = "A3"
	A4 = "A4"
	A5 = "A5"
	D1 = "D1"
	D2 = "D2"
	T1 = "T1"
)

// Thresholds used to derive event confidence. Signal values are dBm,
// distances are km.
type Thresholds struct {
	A3OffsetDB        float64
	A4NeighborDBm     float64
	A5ServingDBm      float64
	A5NeighborDBm     float64
	D1DistanceKm      float64
	D2ServingKm       float64
	D2NeighborKm      float64
	T1DurationSeconds float64
	HysteresisDB      float64
	DefaultConfidence float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		A3OffsetDB:        3,
		A4NeighborDBm:     -115,
		A5ServingDBm:      -125,
		A5NeighborDBm:     -115,
		D1DistanceKm:      1500,
		D2ServingKm:       2000,
		D2NeighborKm:      1000,
		T1DurationSeconds: 60,
		HysteresisDB:      2,
		DefaultConfidence: 0.5,
	}
}

type Processor struct {
	thresholds Thresholds
	logger     logr.Logger
}

func NewProcessor(t Thresholds, logger logr.Logger) *Processor {
	return &Processor{thresholds: t, logger: logger.WithName("events")}
}

// SupportedTypes lists the event types ProcessEvent accepts.
func SupportedTypes() []string {
	return []string{A3, A4, A5, D1, D2, T1}
}

func supported(t string) bool {
	for _, s := range SupportedTypes() {
		if s == t {
			return true
		}
	}
	return false
}

// ProcessEvent validates raw and returns its normalized form. eventType may be
// empty, in which case raw["event_type"] is used.
func (p *Processor) ProcessEvent(ctx context.Context, eventType string, raw models.RawEvent) (models.ProcessedEvent, error) {
	if err := ctx.Err(); err != nil {
		return models.ProcessedEvent{}, err
	}
	if raw == nil {
		return models.ProcessedEvent{}, &models.ValidationError{Field: "event", Reason: "missing event body"}
	}
	if eventType == "" {
		eventType, _ = raw["event_type"].(string)
	}
	eventType = strings.ToUpper(strings.TrimSpace(eventType))
	if !supported(eventType) {
		return models.ProcessedEvent{}, &models.ValidationError{Field: "event_type", Reason: fmt.Sprintf("unsupported event type %q", eventType)}
	}

	ueID, _ := raw["ue_id"].(string)
	if strings.TrimSpace(ueID) == "" {
		return models.ProcessedEvent{}, &models.ValidationError{Field: "ue_id", Reason: "required"}
	}
	sourceCell, _ := raw["source_cell"].(string)

	targets, err := stringList(raw["target_cells"])
	if err != nil {
		return models.ProcessedEvent{}, err
	}
	measurements, err := numberMap("measurements", raw["measurements"])
	if err != nil {
		return models.ProcessedEvent{}, err
	}
	for _, k := range []string{"serving_distance", "neighbor_distance", "distance"} {
		if v, ok := measurements[k]; ok && v < 0 {
			return models.ProcessedEvent{}, &models.ValidationError{Field: "measurements." + k, Reason: "must not be negative"}
		}
	}
	trigger := map[string]interface{}{}
	if td, ok := raw["trigger_data"].(map[string]interface{}); ok {
		for k, v := range td {
			trigger[k] = v
		}
	}
	ts, err := timestamp(raw["timestamp"])
	if err != nil {
		return models.ProcessedEvent{}, err
	}
	id, _ := raw["event_id"].(string)
	if id == "" {
		id = uuid.NewString()
	}

	ev := models.ProcessedEvent{
		EventID:      id,
		EventType:    eventType,
		UEID:         ueID,
		SourceCell:   sourceCell,
		TargetCells:  targets,
		TriggerData:  trigger,
		Measurements: measurements,
		Confidence:   p.confidence(eventType, measurements),
		Timestamp:    ts,
	}
	p.logger.V(logging.DEBUG).Info("Event processed", "eventId", ev.EventID, "type", eventType, "confidence", ev.Confidence)
	return ev, nil
}

// confidence scores how clearly the measurements satisfy the trigger
// condition. Missing measurements yield the default confidence.
func (p *Processor) confidence(eventType string, m map[string]float64) float64 {
	t := p.thresholds
	switch eventType {
	case A3:
		serving, ok1 := m["serving_rsrp"]
		neighbor, ok2 := m["neighbor_rsrp"]
		if ok1 && ok2 {
			return clamp01((neighbor - serving - t.A3OffsetDB) / 15)
		}
	case A4:
		if neighbor, ok := m["neighbor_rsrp"]; ok {
			return clamp01((neighbor - (t.A4NeighborDBm + t.HysteresisDB)) / 15)
		}
	case A5:
		serving, ok1 := m["serving_rsrp"]
		neighbor, ok2 := m["neighbor_rsrp"]
		if ok1 && ok2 {
			if serving >= t.A5ServingDBm-t.HysteresisDB || neighbor <= t.A5NeighborDBm+t.HysteresisDB {
				return 0
			}
			return clamp01((neighbor - serving) / 25)
		}
	case D1:
		if d, ok := m["distance"]; ok && t.D1DistanceKm > 0 {
			return clamp01((d - t.D1DistanceKm) / t.D1DistanceKm)
		}
	case D2:
		serving, ok1 := m["serving_distance"]
		neighbor, ok2 := m["neighbor_distance"]
		if ok1 && ok2 {
			if serving <= t.D2ServingKm || neighbor >= t.D2NeighborKm {
				return 0
			}
			return clamp01((serving - neighbor) / t.D2ServingKm)
		}
	case T1:
		if d, ok := m["elapsed"]; ok && t.T1DurationSeconds > 0 {
			return clamp01(d / t.T1DurationSeconds)
		}
	}
	return t.DefaultConfidence
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func stringList(v interface{}) ([]string, error) {
	switch list := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return append([]string(nil), list...), nil
	case []interface{}:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, &models.ValidationError{Field: fmt.Sprintf("target_cells[%d]", i), Reason: "must be a string"}
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, &models.ValidationError{Field: "target_cells", Reason: "must be a list"}
}

func numberMap(field string, v interface{}) (map[string]float64, error) {
	out := map[string]float64{}
	if v == nil {
		return out, nil
	}
	switch m := v.(type) {
	case map[string]float64:
		for k, f := range m {
			out[k] = f
		}
		return out, nil
	case map[string]interface{}:
		for k, raw := range m {
			f, ok := number(raw)
			if !ok {
				return nil, &models.ValidationError{Field: field + "." + k, Reason: "must be numeric"}
			}
			out[k] = f
		}
		return out, nil
	}
	return nil, &models.ValidationError{Field: field, Reason: "must be an object"}
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func timestamp(v interface{}) (time.Time, error) {
	switch ts := v.(type) {
	case nil:
		return time.Now().UTC(), nil
	case time.Time:
		return ts.UTC(), nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return time.Time{}, &models.ValidationError{Field: "timestamp", Reason: "must be RFC3339"}
		}
		return t.UTC(), nil
	}
	if f, ok := number(v); ok {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	}
	return time.Time{}, &models.ValidationError{Field: "timestamp", Reason: "unsupported type"}
}
