package httpapi

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"launchpad.org/internal/obs"
)

// GRPCServer exposes the standard gRPC health service. Both the overall
// status ("") and serviceName track the readiness probe.
type GRPCServer struct {
	health    *health.Server
	readiness readinessChecker
	version   string

	mu      sync.Mutex
	serving bool
}

// NewGRPCServer creates the health service wrapper. It reports SERVING until
// the first Refresh.
func NewGRPCServer(r readinessChecker, version string) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	s := &GRPCServer{
		health:    health.NewServer(),
		readiness: r,
		version:   version,
		serving:   true,
	}
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Register installs the health service on srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Refresh evaluates readiness once and publishes the result.
func (s *GRPCServer) Refresh(ctx context.Context) error {
	err := s.readiness.Check(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(serviceName, status)

	s.mu.Lock()
	changed := s.serving != (err == nil)
	s.serving = err == nil
	s.mu.Unlock()
	if changed {
		obs.Logger().Info("grpc health changed",
			zap.String("status", status.String()),
			zap.String("version", s.version),
			zap.Error(err))
	}
	return err
}

// Watch refreshes every interval until ctx ends, then marks the service as
// shutting down so clients drain.
func (s *GRPCServer) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	_ = s.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			_ = s.Refresh(ctx)
		}
	}
}
