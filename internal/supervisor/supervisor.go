// Package supervisor runs game sessions concurrently under one shared
// cancellation context.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamelobby/internal/game"
)

var (
	// ErrStopped is returned by Launch after CancelAll.
	ErrStopped = errors.New("supervisor: stopped")
	// ErrPanicked wraps a panic recovered from a session's Run.
	ErrPanicked = errors.New("supervisor: session panicked")
)

// Session outcomes, as reported to Recorder.SessionFinished.
const (
	OutcomeCompleted = "completed"
	OutcomeAbandoned = "abandoned"
	OutcomeCancelled = "cancelled"
	OutcomePanicked  = "panicked"
	OutcomeFailed    = "failed"
)

// Outcome classifies the error returned by a session's Run.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, game.ErrAbandoned):
		return OutcomeAbandoned
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	case errors.Is(err, ErrPanicked):
		return OutcomePanicked
	default:
		return OutcomeFailed
	}
}

// Recorder receives session lifecycle counts.
type Recorder interface {
	SessionStarted(game string)
	SessionFinished(game, outcome string, elapsed time.Duration)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithOnDone registers fn to be called from the session goroutine once Run returns.
func WithOnDone(fn func(s game.Session, err error)) Option {
	return func(sv *Supervisor) { sv.onDone = fn }
}

// WithMetrics reports launches and completions to r.
func WithMetrics(r Recorder) Option {
	return func(sv *Supervisor) { sv.metrics = r }
}

// Supervisor launches sessions and tracks them until they finish.
// All methods are safe for concurrent use.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	onDone  func(game.Session, error)
	metrics Recorder

	mu      sync.Mutex
	running map[string]game.Session
	idle    chan struct{}
	stopped bool
}

// New creates a Supervisor with a fresh shared context.
//
// Precondition: logger must be non-nil.
func New(logger *zap.Logger, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	sv := &Supervisor{
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		running: make(map[string]game.Session),
	}
	for _, opt := range opts {
		opt(sv)
	}
	return sv
}

// Launch starts s.Run in its own goroutine bound to the shared context.
//
// Precondition: s must be fully populated and not already launched.
// Postcondition: s is listed by Running until its Run returns, or ErrStopped is returned.
func (sv *Supervisor) Launch(s game.Session) error {
	sv.mu.Lock()
	if sv.stopped {
		sv.mu.Unlock()
		return ErrStopped
	}
	if _, dup := sv.running[s.ID()]; dup {
		sv.mu.Unlock()
		return fmt.Errorf("supervisor: session %s already running", s.ID())
	}
	if len(sv.running) == 0 {
		sv.idle = make(chan struct{})
	}
	sv.running[s.ID()] = s
	sv.mu.Unlock()

	if sv.metrics != nil {
		sv.metrics.SessionStarted(s.Name())
	}
	sv.logger.Info("session launched",
		zap.String("game", s.Name()),
		zap.String("session_id", s.ID()),
		zap.Int("players", len(s.Players())),
	)
	go sv.run(s)
	return nil
}

func (sv *Supervisor) run(s game.Session) {
	start := time.Now()
	err := sv.runSafely(s)
	elapsed := time.Since(start)
	outcome := Outcome(err)

	fields := []zap.Field{
		zap.String("game", s.Name()),
		zap.String("session_id", s.ID()),
		zap.String("outcome", outcome),
		zap.Duration("elapsed", elapsed),
	}
	switch outcome {
	case OutcomeFailed, OutcomePanicked:
		sv.logger.Error("session failed", append(fields, zap.Error(err))...)
	default:
		sv.logger.Info("session finished", fields...)
	}

	if sv.metrics != nil {
		sv.metrics.SessionFinished(s.Name(), outcome, elapsed)
	}
	if sv.onDone != nil {
		sv.onDone(s, err)
	}

	sv.mu.Lock()
	delete(sv.running, s.ID())
	if len(sv.running) == 0 {
		close(sv.idle)
	}
	sv.mu.Unlock()
}

func (sv *Supervisor) runSafely(s game.Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			sv.logger.Error("recovered session panic",
				zap.String("session_id", s.ID()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
	}()
	return s.Run(sv.ctx)
}

// CancelAll cancels the shared context and refuses further launches.
// Calling it more than once is harmless.
func (sv *Supervisor) CancelAll() {
	sv.mu.Lock()
	first := !sv.stopped
	sv.stopped = true
	n := len(sv.running)
	sv.mu.Unlock()

	if first {
		sv.logger.Info("cancelling sessions", zap.Int("running", n))
	}
	sv.cancel()
}

// AwaitDrain waits until no session is running or timeout elapses.
//
// Postcondition: Returns true when every launched session finished in time.
func (sv *Supervisor) AwaitDrain(timeout time.Duration) bool {
	sv.mu.Lock()
	if len(sv.running) == 0 {
		sv.mu.Unlock()
		return true
	}
	idle := sv.idle
	sv.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-idle:
		return true
	case <-timer.C:
		sv.logger.Warn("drain timed out; abandoning sessions",
			zap.Strings("sessions", sv.Running()),
			zap.Duration("timeout", timeout),
		)
		return false
	}
}

// Running returns the IDs of sessions whose Run has not yet returned, sorted.
func (sv *Supervisor) Running() []string {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	out := make([]string, 0, len(sv.running))
	for id := range sv.running {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Sessions returns the sessions currently running.
func (sv *Supervisor) Sessions() []game.Session {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	out := make([]game.Session, 0, len(sv.running))
	for _, s := range sv.running {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
