// Package grpc runs the gRPC endpoint. It serves the standard health service
// and guards every other method with bearer-token authorization, so services
// registered on it only see authorized calls.
package grpc

import (
	"context"
	"errors"
	"net"

	"github.com/dmitrijs2005/contactkeeper/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Authorizer resolves a raw access token to an identity.
type Authorizer interface {
	Authorize(ctx context.Context, raw string) (string, error)
}

// ServiceRegistrar attaches additional services to the server.
type ServiceRegistrar func(*grpc.Server)

type GRPCServer struct {
	address    string
	authorizer Authorizer
	logger     logging.Logger
	health     *health.Server
	registrars []ServiceRegistrar
}

func NewGRPCServer(a string, l logging.Logger, authz Authorizer, registrars ...ServiceRegistrar) *GRPCServer {
	return &GRPCServer{
		address:    a,
		logger:     l.With("module", "grpc_server"),
		authorizer: authz,
		health:     health.NewServer(),
		registrars: registrars,
	}
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.accessTokenInterceptor),
		grpc.ChainStreamInterceptor(s.streamAccessTokenInterceptor),
	)

	healthpb.RegisterHealthServer(srv, s.health)
	for _, r := range s.registrars {
		r(srv)
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gPRC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}

	return nil
}
