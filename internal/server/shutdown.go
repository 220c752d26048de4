package server

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Shutdown stops accepting clients, cancels every session and disconnects
// every registered client. Only the first call does anything; later calls
// return immediately.
//
// Postcondition: When the first call returns the server is StateStopped, all
// collections are empty and no owner or handshake goroutine remains. Sessions
// that outlive the drain timeout are abandoned.
func (s *Server) Shutdown() {
	s.startMu.Lock()
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateShuttingDown)) {
		s.startMu.Unlock()
		return
	}
	if s.health != nil {
		s.health.SetServing(false)
	}
	s.startMu.Unlock()
	start := time.Now()
	s.logger.Info("shutting down game server")

	s.acceptor.Close()
	close(s.quit)

	conns := s.connections()
	var g errgroup.Group
	g.Go(func() error {
		s.sup.CancelAll()
		if !s.sup.AwaitDrain(s.cfg.DrainTimeout) {
			s.logger.Warn("sessions did not drain", zap.Strings("abandoned", s.sup.Running()))
		}
		return nil
	})
	g.Go(func() error {
		var dg errgroup.Group
		for _, conn := range conns {
			dg.Go(func() error {
				s.disconnect(conn, ReasonShuttingDown)
				return nil
			})
		}
		return dg.Wait()
	})
	_ = g.Wait()

	if s.loopStarted.Load() {
		<-s.loopDone
	}
	s.acceptor.Wait()

	s.lobbies.Clear()
	s.mu.Lock()
	clear(s.registry)
	clear(s.names)
	clear(s.sessionOf)
	s.mu.Unlock()

	s.state.Store(int32(StateStopped))
	s.recordGauges()
	s.logger.Info("game server stopped",
		zap.Int("disconnected", len(conns)),
		zap.Duration("elapsed", time.Since(start)),
	)
}
