package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamelobby/internal/config"
)

// StatusFunc returns a JSON-serializable snapshot of server state.
type StatusFunc func() any

// NewAdminRouter builds the admin HTTP routes:
//
//	GET /healthz  liveness
//	GET /status   JSON from status
//	GET /metrics  Prometheus exposition of m
func NewAdminRouter(m *Metrics, status StatusFunc, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status()); err != nil {
			logger.Warn("encoding status", zap.Error(err))
		}
	})
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	return r
}

// AdminServer serves the admin router. It implements the lifecycle Service
// contract: Start blocks until Stop.
type AdminServer struct {
	cfg    config.AdminConfig
	srv    *http.Server
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewAdminServer creates an admin HTTP server for handler.
//
// Precondition: handler and logger must be non-nil.
func NewAdminServer(cfg config.AdminConfig, handler http.Handler, logger *zap.Logger) *AdminServer {
	return &AdminServer{
		cfg: cfg,
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Listen binds the configured address.
func (a *AdminServer) Listen() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}
	a.listener = ln
	a.logger.Info("admin http listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Start listens if needed and serves until Stop.
func (a *AdminServer) Start() error {
	if err := a.Listen(); err != nil {
		return err
	}
	a.mu.Lock()
	ln := a.listener
	a.mu.Unlock()
	if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin http: %w", err)
	}
	return nil
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (a *AdminServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(ctx); err != nil {
		a.logger.Warn("admin http shutdown", zap.Error(err))
	}
}

// Addr returns the bound address, or nil before Listen.
func (a *AdminServer) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}
