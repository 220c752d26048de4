package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamelobby/internal/config"
)

// ConnHandler takes ownership of a freshly accepted connection.
// The handler is responsible for eventually closing conn.
type ConnHandler interface {
	HandleConn(ctx context.Context, conn *Conn)
}

// ConnHandlerFunc adapts a function to ConnHandler.
type ConnHandlerFunc func(ctx context.Context, conn *Conn)

// HandleConn calls f.
func (f ConnHandlerFunc) HandleConn(ctx context.Context, conn *Conn) { f(ctx, conn) }

// Acceptor listens for TCP connections and dispatches each one to a ConnHandler
// on its own goroutine.
type Acceptor struct {
	cfg     config.ServerConfig
	opts    Options
	handler ConnHandler
	logger  *zap.Logger

	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	served   chan struct{}
	mu       sync.Mutex
	running  bool
	serving  bool
	closed   bool
}

// NewAcceptor creates an acceptor with the given configuration.
//
// Precondition: handler and logger must be non-nil.
// Postcondition: Returns an Acceptor ready for Listen and Serve.
func NewAcceptor(cfg config.ServerConfig, handler ConnHandler, logger *zap.Logger) *Acceptor {
	return &Acceptor{
		cfg:     cfg,
		opts:    OptionsFromConfig(cfg),
		handler: handler,
		logger:  logger,
		quit:    make(chan struct{}),
		served:  make(chan struct{}),
	}
}

// Listen binds the TCP listener.
//
// Precondition: Listen has not been called before.
// Postcondition: Addr returns the bound address.
func (a *Acceptor) Listen() error {
	start := time.Now()
	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		listener.Close()
		return fmt.Errorf("acceptor closed")
	}
	a.listener = listener
	a.running = true

	a.logger.Info("game acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)
	return nil
}

// Serve accepts connections until Close is called.
//
// Precondition: Listen has succeeded.
func (a *Acceptor) Serve() error {
	a.mu.Lock()
	listener := a.listener
	if listener == nil || a.serving {
		a.mu.Unlock()
		return fmt.Errorf("acceptor is not listening")
	}
	a.serving = true
	a.mu.Unlock()
	defer close(a.served)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-a.quit
		cancel()
	}()

	for {
		raw, err := listener.Accept()
		if err != nil {
			select {
			case <-a.quit:
				return nil
			default:
				a.logger.Error("accepting connection", zap.Error(err))
				continue
			}
		}

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			conn := NewConn(raw, a.opts)
			a.logger.Info("client connected",
				zap.String("remote_addr", conn.RemoteAddr()),
				zap.String("conn_id", conn.ID()),
			)
			a.handler.HandleConn(ctx, conn)
		}()
	}
}

// ListenAndServe binds the listener and accepts until Close is called.
func (a *Acceptor) ListenAndServe() error {
	if err := a.Listen(); err != nil {
		return err
	}
	return a.Serve()
}

// Close stops accepting new connections without waiting for handlers.
// Safe to call more than once.
func (a *Acceptor) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	a.running = false
	close(a.quit)
	if a.listener != nil {
		a.listener.Close()
	}
	a.logger.Info("game acceptor closed")
}

// Wait blocks until every dispatched handler has returned.
func (a *Acceptor) Wait() {
	a.mu.Lock()
	serving := a.serving
	a.mu.Unlock()
	if serving {
		<-a.served
	}
	a.wg.Wait()
}

// Stop closes the acceptor and waits for handlers.
//
// Postcondition: No handler goroutines remain.
func (a *Acceptor) Stop() {
	a.Close()
	a.Wait()
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
