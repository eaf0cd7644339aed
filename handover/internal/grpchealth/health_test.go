package grpchealth

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	healthPb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/ILLUVRSE/leo-handover/handover/internal/orchestrator"
)

type fakeChecker struct {
	running bool
	healthy bool
}

func (f fakeChecker) IsRunning() bool { return f.running }

func (f fakeChecker) HealthCheck(context.Context) orchestrator.Health {
	h := orchestrator.Health{OverallHealth: f.healthy}
	if !f.healthy {
		h.Errors = map[string]string{"repository": "connection refused"}
	}
	return h
}

func check(t *testing.T, s *Server, svc string) healthPb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := s.Check(context.Background(), &healthPb.HealthCheckRequest{Service: svc})
	require.NoError(t, err)
	return resp.Status
}

func TestCheck(t *testing.T) {
	healthy := NewServer(fakeChecker{running: true, healthy: true}, logr.Discard())
	assert.Equal(t, healthPb.HealthCheckResponse_SERVING, check(t, healthy, ""))
	assert.Equal(t, healthPb.HealthCheckResponse_SERVING, check(t, healthy, ReadinessService))
	assert.Equal(t, healthPb.HealthCheckResponse_SERVING, check(t, healthy, OrchestratorService))
	assert.Equal(t, healthPb.HealthCheckResponse_SERVICE_UNKNOWN, check(t, healthy, "other"))

	degraded := NewServer(fakeChecker{running: true, healthy: false}, logr.Discard())
	assert.Equal(t, healthPb.HealthCheckResponse_NOT_SERVING, check(t, degraded, ""))
	assert.Equal(t, healthPb.HealthCheckResponse_SERVING, check(t, degraded, LivenessService))

	stopped := NewServer(fakeChecker{running: false, healthy: true}, logr.Discard())
	assert.Equal(t, healthPb.HealthCheckResponse_NOT_SERVING, check(t, stopped, ReadinessService))
}

func TestList(t *testing.T) {
	s := NewServer(fakeChecker{running: true, healthy: false}, logr.Discard())
	resp, err := s.List(context.Background(), &healthPb.HealthListRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Statuses, 3)
	assert.Equal(t, healthPb.HealthCheckResponse_SERVING, resp.Statuses[LivenessService].Status)
	assert.Equal(t, healthPb.HealthCheckResponse_NOT_SERVING, resp.Statuses[ReadinessService].Status)
}

func TestWatchUnimplemented(t *testing.T) {
	s := NewServer(fakeChecker{}, logr.Discard())
	err := s.Watch(&healthPb.HealthCheckRequest{}, nil)
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}
