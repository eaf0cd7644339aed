package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/leo-handover/handover/internal/config"
	"github.com/ILLUVRSE/leo-handover/handover/internal/events"
	"github.com/ILLUVRSE/leo-handover/handover/internal/executor"
	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
	"github.com/ILLUVRSE/leo-handover/handover/internal/orchestrator"
	"github.com/ILLUVRSE/leo-handover/handover/internal/pipeline"
	"github.com/ILLUVRSE/leo-handover/handover/internal/provider"
	"github.com/ILLUVRSE/leo-handover/handover/internal/scoring"
	"github.com/ILLUVRSE/leo-handover/handover/internal/selector"
	"github.com/ILLUVRSE/leo-handover/handover/internal/session"
	"github.com/ILLUVRSE/leo-handover/handover/internal/state"
	"github.com/ILLUVRSE/leo-handover/handover/internal/store"
)

type testServer struct {
	srv   *httptest.Server
	orch  *orchestrator.Orchestrator
	exec  *executor.Executor
	state *state.Manager
	repo  *store.MemoryStore
}

func satellitePool() []models.RawSatellite {
	return []models.RawSatellite{
		{"satellite_id": "sat-1", "elevation": 80.0, "signal_strength": -70.0, "load_factor": 0.1, "distance": 600.0, "visibility_time": 1200.0},
		{"satellite_id": "sat-2", "elevation": 45.0, "signal_strength": -90.0, "load_factor": 0.4, "distance": 900.0, "visibility_time": 800.0},
	}
}

func newTestServer(t *testing.T, cfg config.Config) testServer {
	t.Helper()
	st := state.NewManager(logr.Discard())
	st.SetSatellitePool(satellitePool())
	sel, err := selector.New(selector.DefaultConfig(), scoring.DefaultConfig(), logr.Discard())
	require.NoError(t, err)
	exCfg := executor.DefaultConfig()
	exCfg.PhaseTimeScale = 0
	ex := executor.New(exCfg, nil, logr.Discard())
	ex.OnRollback(func(plan models.RollbackPlan) { st.RecordRollback(plan) })
	repo := store.NewMemoryStore()

	ocfg := orchestrator.DefaultConfig()
	ocfg.Retry = pipeline.RetryPolicy{MaxRetries: 1, Backoff: pipeline.BackoffFixed, BaseDelay: time.Millisecond}
	orch, err := orchestrator.New(ocfg, orchestrator.Deps{
		Events:     events.NewProcessor(events.DefaultThresholds(), logr.Discard()),
		Selector:   sel,
		Provider:   provider.NewHeuristic(logr.Discard()),
		Executor:   ex,
		State:      st,
		Repository: repo,
	}, logr.Discard())
	require.NoError(t, err)
	require.NoError(t, orch.Start(context.Background()))

	guard := session.NewGuard(repo, logr.Discard())
	s := New(cfg, Deps{
		Orchestrator: orch,
		Executor:     ex,
		Selector:     sel,
		State:        st,
		Sessions:     guard,
		Repository:   repo,
	}, logr.Discard())
	srv := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		srv.Close()
		guard.StopAll(context.Background())
	})
	return testServer{srv: srv, orch: orch, exec: ex, state: st, repo: repo}
}

func (ts testServer) do(t *testing.T, method, path string, body interface{}, header http.Header) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]interface{}{}
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func a4Event() map[string]interface{} {
	return map[string]interface{}{
		"event_type":   "A4",
		"ue_id":        "UE-7",
		"measurements": map[string]interface{}{"neighbor_rsrp": -100.0},
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	resp, body := ts.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	ts.repo.SetUnavailable(assert.AnError)
	resp, body = ts.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, false, body["ok"])
}

func TestDecisionLifecycle(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	resp, body := ts.do(t, http.MethodPost, "/v1/decisions", a4Event(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["success"])
	id, _ := body["executionId"].(string)
	require.NotEmpty(t, id)

	resp, body = ts.do(t, http.MethodGet, "/v1/executions/"+id, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["completed"])

	resp, body = ts.do(t, http.MethodGet, "/v1/executions?limit=5", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["executions"], 1)

	resp, body = ts.do(t, http.MethodGet, "/v1/handovers", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sat-1", body["currentSatellite"])

	resp, _ = ts.do(t, http.MethodPost, "/v1/executions/"+id+"/rollback", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/v1/executions/"+id+"/rollback", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/v1/handovers", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "", body["currentSatellite"])
	history, _ := body["history"].([]interface{})
	require.Len(t, history, 2)
	last, _ := history[1].(map[string]interface{})
	assert.Equal(t, true, last["rollback"])
	assert.Equal(t, "sat-1", last["sourceSatellite"])

	resp, _ = ts.do(t, http.MethodPost, "/v1/executions/"+id+"/cancel", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/v1/executions/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDecisionFailures(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	ev := a4Event()
	delete(ev, "ue_id")
	resp, body := ts.do(t, http.MethodPost, "/v1/decisions", ev, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "FAILED", body["status"])

	req, _ := http.NewRequest(http.MethodPost, ts.srv.URL+"/v1/decisions", bytes.NewBufferString("{not json"))
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)

	require.NoError(t, ts.orch.Stop(context.Background()))
	resp, _ = ts.do(t, http.MethodPost, "/v1/decisions", a4Event(), nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStateUpdates(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	pool := []map[string]interface{}{{"satellite_id": "sat-9", "elevation": 60.0, "signal_strength": -80.0}}
	resp, body := ts.do(t, http.MethodPut, "/v1/satellites", pool, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])
	assert.Len(t, ts.state.SatellitePool(), 1)

	resp, _ = ts.do(t, http.MethodPut, "/v1/satellites", []map[string]interface{}{{"elevation": 1.0}}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPut, "/v1/network-conditions", map[string]float64{"latency_ms": 42}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 42.0, ts.state.NetworkConditions().Metrics["latency_ms"])

	resp, body = ts.do(t, http.MethodGet, "/v1/status", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["satelliteCount"])
}

func TestSelectorAndScoringEndpoints(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.do(t, http.MethodPost, "/v1/decisions", a4Event(), nil)

	resp, body := ts.do(t, http.MethodGet, "/v1/selector/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["selectionCount"])

	resp, body = ts.do(t, http.MethodGet, "/v1/scoring/stats", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats, _ := body["stats"].(map[string]interface{})
	assert.EqualValues(t, 1, stats["totalScorings"])

	resp, _ = ts.do(t, http.MethodDelete, "/v1/selector/metrics", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, body = ts.do(t, http.MethodGet, "/v1/selector/metrics", nil, nil)
	assert.EqualValues(t, 0, body["selectionCount"])
}

func TestSessionEndpoints(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	req := map[string]interface{}{
		"key":        "replay",
		"name":       "nightly",
		"events":     []interface{}{a4Event()},
		"steps":      1000,
		"intervalMs": 10,
	}
	resp, body := ts.do(t, http.MethodPost, "/v1/sessions", req, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	resp, body = ts.do(t, http.MethodPost, "/v1/sessions", req, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, id, body["sessionId"])

	resp, body = ts.do(t, http.MethodGet, "/v1/sessions/"+id, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "replay", body["key"])

	resp, body = ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/stop", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "STOPPED", body["status"])

	resp, _ = ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/pause", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/v1/sessions/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/v1/sessions", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["sessions"], 1)

	resp, _ = ts.do(t, http.MethodPost, "/v1/sessions", map[string]interface{}{"key": "empty"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMutatingRoutesRequireToken(t *testing.T) {
	cfg := config.Config{JWTSecret: "s3cret", WriteScope: "handover:write"}
	ts := newTestServer(t, cfg)

	resp, _ := ts.do(t, http.MethodPost, "/v1/decisions", a4Event(), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "noc",
		"scope": "handover:write",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	resp, _ = ts.do(t, http.MethodPost, "/v1/decisions", a4Event(), http.Header{"Authorization": {"Bearer " + tok}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/v1/status", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	resp, err := http.Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
