// Package grpchealth exposes orchestrator health over the standard gRPC
// health protocol.
package grpchealth

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthPb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/ILLUVRSE/leo-handover/handover/internal/logging"
	"github.com/ILLUVRSE/leo-handover/handover/internal/orchestrator"
)

const (
	LivenessService     = "liveness"
	ReadinessService    = "readiness"
	OrchestratorService = "handover.Orchestrator"

	checkTimeout = 2 * time.Second
)

// Checker is satisfied by *orchestrator.Orchestrator.
type Checker interface {
	IsRunning() bool
	HealthCheck(ctx context.Context) orchestrator.Health
}

type Server struct {
	healthPb.UnimplementedHealthServer
	logger  logr.Logger
	checker Checker
}

func NewServer(checker Checker, logger logr.Logger) *Server {
	return &Server{checker: checker, logger: logger.WithName("grpc-health")}
}

// Register attaches the health service to s.
func (s *Server) Register(g *grpc.Server) {
	healthPb.RegisterHealthServer(g, s)
}

func (s *Server) ready(ctx context.Context) bool {
	if !s.checker.IsRunning() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	h := s.checker.HealthCheck(ctx)
	if !h.OverallHealth {
		s.logger.V(logging.VERBOSE).Info("unhealthy components", "errors", h.Errors)
	}
	return h.OverallHealth
}

func (s *Server) Check(ctx context.Context, in *healthPb.HealthCheckRequest) (*healthPb.HealthCheckResponse, error) {
	var passing bool
	switch in.Service {
	case LivenessService:
		passing = true
	case "", ReadinessService, OrchestratorService:
		passing = s.ready(ctx)
	default:
		s.logger.V(logging.DEFAULT).Info("gRPC health check requested unknown service", "requested-service", in.Service)
		return &healthPb.HealthCheckResponse{Status: healthPb.HealthCheckResponse_SERVICE_UNKNOWN}, nil
	}
	if !passing {
		s.logger.V(logging.DEFAULT).Info("gRPC health check not serving", "service", in.Service)
		return &healthPb.HealthCheckResponse{Status: healthPb.HealthCheckResponse_NOT_SERVING}, nil
	}
	s.logger.V(logging.TRACE).Info("gRPC health check serving", "service", in.Service)
	return &healthPb.HealthCheckResponse{Status: healthPb.HealthCheckResponse_SERVING}, nil
}

func (s *Server) List(ctx context.Context, _ *healthPb.HealthListRequest) (*healthPb.HealthListResponse, error) {
	statuses := make(map[string]*healthPb.HealthCheckResponse)
	for _, svc := range []string{LivenessService, ReadinessService, OrchestratorService} {
		resp, err := s.Check(ctx, &healthPb.HealthCheckRequest{Service: svc})
		if err != nil {
			return nil, err
		}
		statuses[svc] = resp
	}
	return &healthPb.HealthListResponse{Statuses: statuses}, nil
}

func (s *Server) Watch(in *healthPb.HealthCheckRequest, srv healthPb.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "Watch is not implemented")
}
