// Package state holds the shared satellite pool, network conditions and
// handover history behind one read/write lock.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/ILLUVRSE/leo-handover/handover/internal/logging"
	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

const defaultHistory = 1000

// Snapshot is a consistent copy of everything the manager holds.
type Snapshot struct {
	Satellites        []models.RawSatellite    `json:"satellites"`
	NetworkConditions models.NetworkConditions `json:"networkConditions"`
	CurrentSatellite  string                   `json:"currentSatellite"`
	History           []models.HandoverRecord  `json:"history"`
	TotalHandovers    int                      `json:"totalHandovers"`
	SuccessfulCount   int                      `json:"successfulCount"`
	TakenAt           time.Time                `json:"takenAt"`
}

type Manager struct {
	logger     logr.Logger
	maxHistory int

	mu         sync.RWMutex
	satellites []models.RawSatellite
	conditions models.NetworkConditions
	current    string
	history    []models.HandoverRecord
	total      int
	successes  int
}

func NewManager(logger logr.Logger) *Manager {
	return &Manager{
		logger:     logger.WithName("state"),
		maxHistory: defaultHistory,
		conditions: models.NetworkConditions{Metrics: map[string]float64{}},
	}
}

// SatellitePool returns a copy of the current pool.
func (m *Manager) SatellitePool() []models.RawSatellite {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyPool(m.satellites)
}

func (m *Manager) SetSatellitePool(pool []models.RawSatellite) {
	cp := copyPool(pool)
	m.mu.Lock()
	m.satellites = cp
	m.mu.Unlock()
	m.logger.V(logging.VERBOSE).Info("Satellite pool replaced", "satellites", len(cp))
}

func (m *Manager) NetworkConditions() models.NetworkConditions {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditions.Clone()
}

// UpdateNetworkConditions merges metrics into the current conditions.
func (m *Manager) UpdateNetworkConditions(metrics map[string]float64) models.NetworkConditions {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range metrics {
		m.conditions.Metrics[k] = v
	}
	m.conditions.UpdatedAt = time.Now().UTC()
	return m.conditions.Clone()
}

// UpdateHandoverState records the outcome of an execution. d may be nil when
// the execution failed before a decision existed.
func (m *Manager) UpdateHandoverState(decisionID string, d *models.Decision, r models.ExecutionResult) models.HandoverRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := models.HandoverRecord{
		DecisionID:      decisionID,
		SourceSatellite: m.current,
		Success:         r.Success,
		Status:          r.Status,
		ExecutionTime:   r.ExecutionTime,
		Timestamp:       time.Now().UTC(),
	}
	if d != nil {
		rec.TargetSatellite = d.SelectedSatellite
		rec.Algorithm = d.AlgorithmUsed
		rec.Confidence = d.Confidence
	}
	if r.Success && d != nil {
		m.current = d.SelectedSatellite
		m.successes++
	}
	m.total++
	m.history = append(m.history, rec)
	if len(m.history) > m.maxHistory {
		m.history = append([]models.HandoverRecord(nil), m.history[len(m.history)-m.maxHistory:]...)
	}
	return rec
}

// RecordRollback appends a rollback record and restores the previous
// satellite when the rolled-back target is still current.
func (m *Manager) RecordRollback(plan models.RollbackPlan) models.HandoverRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := models.HandoverRecord{
		DecisionID:      plan.ExecutionID,
		SourceSatellite: plan.TargetSatellite,
		TargetSatellite: plan.PreviousSatellite,
		Algorithm:       "rollback",
		Success:         true,
		Status:          models.StatusSuccess,
		Rollback:        true,
		Timestamp:       time.Now().UTC(),
	}
	if m.current == plan.TargetSatellite {
		m.current = plan.PreviousSatellite
	}
	m.history = append(m.history, rec)
	if len(m.history) > m.maxHistory {
		m.history = append([]models.HandoverRecord(nil), m.history[len(m.history)-m.maxHistory:]...)
	}
	m.logger.V(logging.VERBOSE).Info("Handover rolled back", "executionID", plan.ExecutionID,
		"current", m.current)
	return rec
}

func (m *Manager) CurrentSatellite() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// History returns up to limit most recent records, oldest first.
func (m *Manager) History(limit int) []models.HandoverRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	from := 0
	if limit > 0 && len(m.history) > limit {
		from = len(m.history) - limit
	}
	return append([]models.HandoverRecord(nil), m.history[from:]...)
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		Satellites:        copyPool(m.satellites),
		NetworkConditions: m.conditions.Clone(),
		CurrentSatellite:  m.current,
		History:           append([]models.HandoverRecord(nil), m.history...),
		TotalHandovers:    m.total,
		SuccessfulCount:   m.successes,
		TakenAt:           time.Now().UTC(),
	}
}

// LoadSatelliteFile replaces the pool with the JSON array of records in path.
func (m *Manager) LoadSatelliteFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read satellite file: %w", err)
	}
	var pool []models.RawSatellite
	if err := json.Unmarshal(b, &pool); err != nil {
		return 0, fmt.Errorf("decode satellite file %s: %w", path, err)
	}
	m.SetSatellitePool(pool)
	return len(pool), nil
}

func copyPool(pool []models.RawSatellite) []models.RawSatellite {
	out := make([]models.RawSatellite, len(pool))
	for i, rec := range pool {
		cp := make(models.RawSatellite, len(rec))
		for k, v := range rec {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}
