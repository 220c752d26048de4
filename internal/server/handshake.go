package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamelobby/internal/observability"
	"github.com/cory-johannsen/gamelobby/internal/protocol"
	"github.com/cory-johannsen/gamelobby/internal/transport"
)

// HandleConn registers conn, runs the handshake and hands the client to the
// owner loop. It runs on the acceptor's per-connection goroutine.
func (s *Server) HandleConn(ctx context.Context, conn *transport.Conn) {
	if !s.register(conn) {
		_ = conn.Send(protocol.New(protocol.CommandBye, ReasonShuttingDown))
		_ = conn.Close()
		return
	}
	s.recordGauges()

	start := time.Now()
	lobbyName, result, reason := s.handshake(conn)
	s.metrics.HandshakeFinished(result)
	s.logger.Debug("handshake finished",
		zap.String("conn", conn.String()),
		zap.String("result", result),
		zap.Duration("elapsed", time.Since(start)),
	)
	if result != observability.HandshakeJoined {
		s.disconnect(conn, reason)
		return
	}

	select {
	case s.joins <- join{conn: conn, lobby: lobbyName}:
	case <-s.quit:
		// Shutdown owns the registered connection from here.
	case <-ctx.Done():
	}
}

// welcome lists the lobbies and the selection format.
func (s *Server) welcome() string {
	lobbies := s.lobbies.Lobbies()
	return fmt.Sprintf("Welcome to %s Game Server. Available games: %s. Send a game selection packet (e.g., 'game:%s').",
		s.cfg.Name, strings.Join(lobbies, ", "), lobbies[0])
}

// handshake greets conn and waits for an optional name packet followed by a
// game selection.
//
// Postcondition: result is one of the observability.Handshake* values; for
// HandshakeJoined lobbyName is a registered lobby, otherwise reason is the bye message.
func (s *Server) handshake(conn *transport.Conn) (lobbyName, result, reason string) {
	if err := conn.Send(protocol.New(protocol.CommandWelcome, s.welcome())); err != nil {
		return "", observability.HandshakeInvalid, ReasonInvalidGame
	}

	named := false
	for {
		pkt, ok, err := conn.ReceiveWithin(s.cfg.HandshakeTimeout)
		if err != nil {
			s.logger.Debug("handshake receive failed", zap.String("conn", conn.String()), zap.Error(err))
			return "", observability.HandshakeInvalid, ReasonInvalidGame
		}
		if !ok {
			s.logger.Info("handshake timed out",
				zap.String("conn", conn.String()),
				zap.Duration("timeout", s.cfg.HandshakeTimeout),
			)
			return "", observability.HandshakeTimeout, ReasonInvalidGame
		}

		switch {
		case pkt.Command == protocol.CommandName && !named:
			name := strings.TrimSpace(pkt.Message)
			if name == "" {
				return "", observability.HandshakeNameRejected, ReasonInvalidName
			}
			if !s.claimName(conn, name) {
				s.logger.Info("name rejected", zap.String("conn", conn.String()), zap.String("name", name))
				return "", observability.HandshakeNameRejected, ReasonNameTaken
			}
			named = true
		case pkt.Command == protocol.CommandGame && pkt.Message != "":
			if !s.lobbies.Has(pkt.Message) {
				s.logger.Info("unknown game selected",
					zap.String("conn", conn.String()),
					zap.String("game", pkt.Message),
				)
				return "", observability.HandshakeUnknownGame, unknownGame(pkt.Message)
			}
			return pkt.Message, observability.HandshakeJoined, ""
		default:
			s.logger.Info("invalid game selection", zap.String("conn", conn.String()), zap.Stringer("packet", pkt))
			return "", observability.HandshakeInvalid, ReasonInvalidGame
		}
	}
}
