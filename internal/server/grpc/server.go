package grpcserver

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rzbill/spotsync/internal/relay/wire"
	relaysvc "github.com/rzbill/spotsync/internal/services/relay"
	logpkg "github.com/rzbill/spotsync/pkg/log"
)

// Server owns the gRPC server instance and the relay service.
type Server struct {
	svc    *relaysvc.Service
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
	logger logpkg.Logger
}

// New constructs a gRPC server and registers services.
func New(svc *relaysvc.Service, logger logpkg.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	logger = logger.With(logpkg.Component("grpc"))
	s := &Server{svc: svc, grpc: grpc.NewServer(opts...), health: health.NewServer(), logger: logger}
	wire.RegisterRelayServer(s.grpc, &relayRPC{svc: svc, logger: logger})
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(wire.ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Serve runs on an existing listener until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.lis = l
	hctx, stop := context.WithCancel(ctx)
	defer stop()
	go watchHealth(hctx, s.svc, s.health)

	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("grpc relay listening", logpkg.Str("addr", l.Addr().String()))
	return s.Serve(ctx, l)
}

// Addr returns the bound address once serving.
func (s *Server) Addr() net.Addr {
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Close stops the server and closes the listener.
func (s *Server) Close() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	if s.lis != nil {
		_ = s.lis.Close()
	}
}
