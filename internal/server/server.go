// Package server exposes the recognizer over gRPC: the standard health
// service and a server stream of recognized commands.
package server

import (
	"errors"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
)

// DefaultStopTimeout bounds the graceful drain on shutdown.
const DefaultStopTimeout = 5 * time.Second

// Server owns the gRPC server, its health status and the event broadcaster.
// The health status starts NOT_SERVING.
type Server struct {
	grpc        *grpc.Server
	health      *health.Server
	broadcaster *Broadcaster
	log         *slog.Logger
}

// New registers the health and CommandEvents services.
func New(broadcaster *Broadcaster, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthgrpc.RegisterHealthServer(grpcServer, healthServer)
	grpcServer.RegisterService(&ServiceDesc, broadcaster)

	s := &Server{
		grpc:        grpcServer,
		health:      healthServer,
		broadcaster: broadcaster,
		log:         logger.With("component", "server"),
	}
	s.SetServing(false)
	return s
}

// Serve accepts connections on lis until Stop. It returns nil after Stop.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// SetServing flips the health status of the server and of the
// CommandEvents service. Serving also opens the broadcaster to subscribers.
func (s *Server) SetServing(serving bool) {
	st := healthgrpc.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthgrpc.HealthCheckResponse_SERVING
		s.broadcaster.MarkReady()
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Stop marks the server NOT_SERVING, ends subscriptions and drains
// in-flight RPCs, forcing a stop after timeout.
func (s *Server) Stop(timeout time.Duration) {
	s.SetServing(false)
	s.broadcaster.Close()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(timeout):
		s.log.Warn("graceful stop timed out, forcing stop")
		s.grpc.Stop()
	}
}
