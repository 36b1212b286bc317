// Package grpchealth serves the standard gRPC health service, mirroring the
// HTTP /health check for orchestrators that probe over gRPC.
package grpchealth

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported alongside the overall "".
const ServiceName = "agentdesk"

// Check returns nil while the server is healthy.
type Check func(ctx context.Context) error

// Server is a gRPC server exposing only health and reflection.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	check  Check
}

// New creates a health server. A nil check always reports serving.
func New(check Check) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		check:  check,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.set(healthpb.HealthCheckResponse_SERVING)
	return s
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Watch re-runs the check every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Update(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Update runs the check once and publishes the result.
func (s *Server) Update(ctx context.Context) {
	if s.check == nil {
		return
	}
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.check(checkCtx); err != nil {
		slog.Warn("Health check failed", "error", err)
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	s.set(healthpb.HealthCheckResponse_SERVING)
}

func (s *Server) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Stop marks the server not serving and drains it.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
