package state

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

func TestSatellitePoolIsCopied(t *testing.T) {
	m := NewManager(logr.Discard())
	pool := []models.RawSatellite{{"satellite_id": "a", "elevation": 40.0}}
	m.SetSatellitePool(pool)
	pool[0]["elevation"] = 1.0

	got := m.SatellitePool()
	require.Len(t, got, 1)
	assert.Equal(t, 40.0, got[0]["elevation"])
	got[0]["elevation"] = 2.0
	assert.Equal(t, 40.0, m.SatellitePool()[0]["elevation"])
}

func TestNetworkConditionsMerge(t *testing.T) {
	m := NewManager(logr.Discard())
	m.UpdateNetworkConditions(map[string]float64{"traffic_load": 0.4})
	nc := m.UpdateNetworkConditions(map[string]float64{"interference_level": 0.1})
	assert.Equal(t, map[string]float64{"traffic_load": 0.4, "interference_level": 0.1}, nc.Metrics)
	assert.False(t, nc.UpdatedAt.IsZero())
}

func TestUpdateHandoverState(t *testing.T) {
	m := NewManager(logr.Discard())
	d := &models.Decision{SelectedSatellite: "SAT_1", AlgorithmUsed: "heuristic", Confidence: 0.8}
	rec := m.UpdateHandoverState("d1", d, models.ExecutionResult{Success: true, Status: models.StatusSuccess, ExecutionTime: 0.2})
	assert.Equal(t, "SAT_1", rec.TargetSatellite)
	assert.Equal(t, "", rec.SourceSatellite)
	assert.Equal(t, "SAT_1", m.CurrentSatellite())

	d2 := &models.Decision{SelectedSatellite: "SAT_2"}
	rec = m.UpdateHandoverState("d2", d2, models.ExecutionResult{Status: models.StatusFailed})
	assert.Equal(t, "SAT_1", rec.SourceSatellite)
	assert.Equal(t, "SAT_1", m.CurrentSatellite())

	rec = m.UpdateHandoverState("d3", nil, models.ExecutionResult{Status: models.StatusFailed})
	assert.Equal(t, "", rec.TargetSatellite)

	snap := m.Snapshot()
	assert.Equal(t, 3, snap.TotalHandovers)
	assert.Equal(t, 1, snap.SuccessfulCount)
	assert.Len(t, m.History(2), 2)
	assert.Equal(t, "d3", m.History(1)[0].DecisionID)
}

func TestRecordRollback(t *testing.T) {
	m := NewManager(logr.Discard())
	m.UpdateHandoverState("d1", &models.Decision{SelectedSatellite: "SAT_1"}, models.ExecutionResult{Success: true, Status: models.StatusSuccess})
	m.UpdateHandoverState("d2", &models.Decision{SelectedSatellite: "SAT_2"}, models.ExecutionResult{Success: true, Status: models.StatusSuccess})

	rec := m.RecordRollback(models.RollbackPlan{ExecutionID: "d2", PreviousSatellite: "SAT_1", TargetSatellite: "SAT_2"})
	assert.True(t, rec.Rollback)
	assert.Equal(t, "SAT_2", rec.SourceSatellite)
	assert.Equal(t, "SAT_1", rec.TargetSatellite)
	assert.Equal(t, "SAT_1", m.CurrentSatellite())
	assert.Equal(t, "d2", m.History(1)[0].DecisionID)
	assert.Len(t, m.History(0), 3)

	// A stale plan does not move the current satellite.
	m.RecordRollback(models.RollbackPlan{ExecutionID: "d0", PreviousSatellite: "SAT_9", TargetSatellite: "SAT_7"})
	assert.Equal(t, "SAT_1", m.CurrentSatellite())
}

func TestHistoryBounded(t *testing.T) {
	m := NewManager(logr.Discard())
	m.maxHistory = 5
	for i := 0; i < 8; i++ {
		m.UpdateHandoverState("d", nil, models.ExecutionResult{})
	}
	assert.Len(t, m.History(0), 5)
	assert.Equal(t, 8, m.Snapshot().TotalHandovers)
}

func TestConcurrentAccess(t *testing.T) {
	m := NewManager(logr.Discard())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.SetSatellitePool([]models.RawSatellite{{"satellite_id": "a"}})
			m.UpdateNetworkConditions(map[string]float64{"traffic_load": 0.5})
		}()
		go func() {
			defer wg.Done()
			_ = m.Snapshot()
			_ = m.SatellitePool()
		}()
	}
	wg.Wait()
	assert.Len(t, m.SatellitePool(), 1)
}

func TestLoadSatelliteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"satellite_id":"a","elevation":45},{"norad_id":44713}]`), 0o600))

	m := NewManager(logr.Discard())
	n, err := m.LoadSatelliteFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 45.0, m.SatellitePool()[0]["elevation"])

	_, err = m.LoadSatelliteFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))
	_, err = m.LoadSatelliteFile(path)
	assert.Error(t, err)
}
