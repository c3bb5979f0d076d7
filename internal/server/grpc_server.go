// internal/server/grpc_server.go
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-check name reported for the whole service.
const ServiceName = "contract-service"

// Check reports whether one dependency (postgres, redis) is reachable.
type Check func(ctx context.Context) error

// GRPCServer exposes grpc.health.v1 for orchestrators; health follows the dependency checks.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	checks   map[string]Check
	interval time.Duration
	addr     string
	logger   *zap.Logger
}

func NewGRPCServer(addr string, checks map[string]Check, interval time.Duration, logger *zap.Logger) *GRPCServer {
	s := &GRPCServer{
		server:   grpc.NewServer(),
		health:   health.NewServer(),
		checks:   checks,
		interval: interval,
		addr:     addr,
		logger:   logger,
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)
	return s
}

// Start serves until Stop is called. Dependency checks run every interval while ctx is live.
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.Probe(ctx)
	go s.watch(ctx)

	s.logger.Info("Starting gRPC server", zap.String("addr", s.addr))
	if err := s.server.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

func (s *GRPCServer) watch(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// Probe runs every check once and updates the per-dependency and overall serving status.
func (s *GRPCServer) Probe(ctx context.Context) bool {
	healthy := true
	for name, check := range s.checks {
		cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := check(cctx)
		cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			healthy = false
			status = healthpb.HealthCheckResponse_NOT_SERVING
			s.logger.Warn("dependency unhealthy", zap.String("dependency", name), zap.Error(err))
		}
		s.health.SetServingStatus(ServiceName+"."+name, status)
	}

	overall := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", overall)
	s.health.SetServingStatus(ServiceName, overall)
	return healthy
}

// Health returns the underlying health server.
func (s *GRPCServer) Health() healthpb.HealthServer { return s.health }

// Stop marks the service as shutting down and drains in-flight RPCs.
func (s *GRPCServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
	s.logger.Info("gRPC server stopped")
}
