package health

import (
	"errors"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServer exposes the standard gRPC health service.
type GRPCServer struct {
	server *grpc.Server
	health *grpchealth.Server
	logger *zap.Logger
}

// NewGRPCServer creates a gRPC server with the health service registered.
func NewGRPCServer(logger *zap.Logger) *GRPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	return &GRPCServer{server: s, health: hs, logger: logger}
}

// Health returns the status registry, for WithGRPCHealth.
func (g *GRPCServer) Health() *grpchealth.Server { return g.health }

// Serve serves on ln until Stop.
func (g *GRPCServer) Serve(ln net.Listener) error {
	g.logger.Info("grpc health listening", zap.String("address", ln.Addr().String()))
	if err := g.server.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks every service as not serving and stops gracefully.
func (g *GRPCServer) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}
