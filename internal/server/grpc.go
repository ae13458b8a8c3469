package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// GRPCServer wraps the gRPC server, the HTTP gateway and the admin listener.
type GRPCServer struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	gateway      http.Handler
	admin        http.Handler
	grpcAddr     string
	httpAddr     string
	adminAddr    string
	logger       zerolog.Logger
}

// ServerDeps holds everything the transports need.
type ServerDeps struct {
	Bridge    Bridge
	Auth      *Authenticator
	Admin     http.Handler
	GRPCAddr  string
	HTTPAddr  string
	AdminAddr string
	Logger    zerolog.Logger
}

// NewGRPCServer registers the bridge, health and reflection services.
func NewGRPCServer(deps ServerDeps) (*GRPCServer, error) {
	svc := NewBridgeService(deps.Bridge)

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		loggingInterceptor(deps.Logger),
		deps.Auth.UnaryInterceptor,
	))
	grpcServer.RegisterService(&BridgeServiceDesc, svc)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	reflection.Register(grpcServer)

	gw, err := NewGatewayMux(svc, deps.Auth)
	if err != nil {
		return nil, err
	}

	return &GRPCServer{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		gateway:      gw,
		admin:        deps.Admin,
		grpcAddr:     deps.GRPCAddr,
		httpAddr:     deps.HTTPAddr,
		adminAddr:    deps.AdminAddr,
		logger:       deps.Logger,
	}, nil
}

// SetServing flips the gRPC health status.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", st)
	s.healthServer.SetServingStatus(serviceName, st)
}

// Gateway returns the HTTP/JSON handler.
func (s *GRPCServer) Gateway() http.Handler {
	return s.gateway
}

// StartGRPC serves gRPC until ctx is cancelled.
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeGRPC(ctx, lis)
}

// ServeGRPC serves gRPC on lis until ctx is cancelled.
func (s *GRPCServer) ServeGRPC(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves the HTTP/JSON gateway until ctx is cancelled.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	return s.serveHTTP(ctx, "HTTP gateway", s.httpAddr, s.gateway)
}

// StartAdmin serves /healthz, /readyz and /metrics until ctx is cancelled.
func (s *GRPCServer) StartAdmin(ctx context.Context) error {
	if s.admin == nil {
		return nil
	}
	return s.serveHTTP(ctx, "admin", s.adminAddr, s.admin)
}

func (s *GRPCServer) serveHTTP(ctx context.Context, name, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Str("server", name).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("server", name).Str("addr", addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("elapsed", time.Since(start)).
			Msg("rpc")
		return resp, err
	}
}
