package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/brollyhub/screenrec/internal/config"
	"github.com/brollyhub/screenrec/internal/session"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// Recorder is the session the control service drives.
type Recorder interface {
	Pause() error
	Resume() error
	Stop() error
	Snapshot() session.Snapshot
}

// Server implements the gRPC control service
type Server struct {
	config     config.ControlConfig
	grpcServer *grpc.Server
	logger     *zap.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Config   config.ControlConfig
	Recorder Recorder
	Logger   *zap.Logger
}

// NewServer creates a new gRPC control server
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Config.KeepaliveTime <= 0 {
		cfg.Config.KeepaliveTime = 30 * time.Second
	}
	if cfg.Config.KeepaliveTimeout <= 0 {
		cfg.Config.KeepaliveTimeout = 10 * time.Second
	}

	s := &Server{
		config: cfg.Config,
		logger: cfg.Logger,
	}

	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    cfg.Config.KeepaliveTime,
			Timeout: cfg.Config.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(s.logCalls),
	}
	s.grpcServer = grpc.NewServer(opts...)
	s.grpcServer.RegisterService(&serviceDesc, &service{recorder: cfg.Recorder})
	return s
}

// Start listens on the configured address and serves until stopped.
func (s *Server) Start() error {
	address := s.config.Address()
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.logger.Info("Control server starting", zap.String("address", listener.Addr().String()))
	return s.Serve(listener)
}

// Serve accepts connections on lis.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop gracefully stops the gRPC server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping control server")

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info("Control server stopped gracefully")
	case <-ctx.Done():
		s.grpcServer.Stop()
		s.logger.Warn("Control server forced to stop")
	}

	return nil
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Warn("Control call failed", zap.String("method", info.FullMethod), zap.Error(err))
	} else {
		s.logger.Debug("Control call", zap.String("method", info.FullMethod))
	}
	return resp, err
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, session.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
