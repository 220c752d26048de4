package observability

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cory-johannsen/gamelobby/internal/config"
)

// HealthServiceName is the service name reported alongside the overall status.
const HealthServiceName = "gamelobby.Lobby"

// HealthService exposes the standard gRPC health protocol so orchestrators
// can probe the game server.
type HealthService struct {
	cfg    config.HealthConfig
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewHealthService creates a health service reporting NOT_SERVING until
// SetServing(true).
func NewHealthService(cfg config.HealthConfig, logger *zap.Logger) *HealthService {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthService{cfg: cfg, grpc: srv, health: hs, logger: logger}
}

// SetServing flips the reported status.
func (h *HealthService) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(HealthServiceName, status)
	h.logger.Info("health status changed", zap.String("status", status.String()))
}

// Listen binds the configured address.
func (h *HealthService) Listen() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", h.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.cfg.Addr(), err)
	}
	h.listener = ln
	h.logger.Info("grpc health listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Start listens if needed and serves until Stop.
func (h *HealthService) Start() error {
	if err := h.Listen(); err != nil {
		return err
	}
	h.mu.Lock()
	ln := h.listener
	h.mu.Unlock()
	return h.grpc.Serve(ln)
}

// Stop marks every service NOT_SERVING and stops the gRPC server.
func (h *HealthService) Stop() {
	h.health.Shutdown()
	h.grpc.GracefulStop()
}

// Addr returns the bound address, or nil before Listen.
func (h *HealthService) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}
