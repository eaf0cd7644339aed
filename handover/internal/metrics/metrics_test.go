package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDecision(t *testing.T) {
	Register()
	before := testutil.ToFloat64(decisionsTotal.WithLabelValues("failure"))
	RecordDecision(false, 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(decisionsTotal.WithLabelValues("failure")))
}

func TestRecordDecisionErrorDefaultsEventType(t *testing.T) {
	Register()
	before := testutil.ToFloat64(decisionErrors.WithLabelValues("unknown"))
	RecordDecisionError("")
	assert.Equal(t, before+1, testutil.ToFloat64(decisionErrors.WithLabelValues("unknown")))
}

func TestSessionGauge(t *testing.T) {
	Register()
	SessionStarted("dqn")
	SessionStarted("dqn")
	SessionFinished("dqn")
	assert.Equal(t, 1.0, testutil.ToFloat64(sessionsActive.WithLabelValues("dqn")))
	SessionFinished("dqn")
}

func TestHandlerExposesCollectors(t *testing.T) {
	Register()
	Register()
	RecordExecution("SUCCESS")
	SetActiveExecutions(2)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "handover_executions_total"))
	assert.True(t, strings.Contains(body, "handover_executions_active 2"))
}
