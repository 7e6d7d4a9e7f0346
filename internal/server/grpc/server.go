// Package grpc exposes the internal auth-check API used by other storefront
// services: session validation, permission checks and a health ping. Callers
// authenticate with a service JWT.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/storeauth/internal/logging"
	"github.com/dmitrijs2005/storeauth/internal/server/rbac"
	"google.golang.org/grpc"
)

// SessionValidator is satisfied by services.SessionManager.
type SessionValidator interface {
	Validate(ctx context.Context, ownerID int64, token string) bool
}

type GRPCServer struct {
	address   string
	sessions  SessionValidator
	guard     *rbac.Guard
	logger    logging.Logger
	jwtSecret []byte
}

func NewGRPCServer(a string, l logging.Logger, sessions SessionValidator, guard *rbac.Guard, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		sessions:  sessions,
		guard:     guard,
		jwtSecret: []byte(secretKey),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.requestIDInterceptor, s.serviceTokenInterceptor))
	srv.RegisterService(&AuthCheckServiceDesc, s)
	return srv
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on listen until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, listen net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil {
		return err
	}
	return nil
}
