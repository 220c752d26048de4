package server

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamelobby/internal/config"
	"github.com/cory-johannsen/gamelobby/internal/game"
	"github.com/cory-johannsen/gamelobby/internal/lobby"
	"github.com/cory-johannsen/gamelobby/internal/observability"
	"github.com/cory-johannsen/gamelobby/internal/protocol"
	"github.com/cory-johannsen/gamelobby/internal/supervisor"
	"github.com/cory-johannsen/gamelobby/internal/transport"
)

// ErrNotRunning is returned by Start once Shutdown has begun.
var ErrNotRunning = errors.New("server: not running")

// Disconnect reasons sent in bye packets.
const (
	ReasonShuttingDown = "Server is shutting down."
	ReasonGameOver     = "Game over."
	ReasonInvalidGame  = "Invalid game selection."
	ReasonInvalidName  = "Invalid name."
	ReasonNameTaken    = "Name already taken."
)

// State is the server's position in its shutdown state machine.
type State int32

const (
	StateRunning State = iota
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// HealthReporter is told when the server starts and stops serving.
type HealthReporter interface {
	SetServing(serving bool)
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records server activity in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth reports serving status to h.
func WithHealth(h HealthReporter) Option {
	return func(s *Server) { s.health = h }
}

// join hands a client that completed its handshake to the owner loop.
type join struct {
	conn  *transport.Conn
	lobby string
}

// Server accepts clients, queues them in lobbies and launches game sessions.
//
// Lobby placement, disconnect polling, fills and launches happen on a single
// owner goroutine. The registry, name table and player to session map are
// guarded by mu, which is only held for single map operations.
type Server struct {
	cfg      config.ServerConfig
	logger   *zap.Logger
	acceptor *transport.Acceptor
	lobbies  *lobby.Manager
	sup      *supervisor.Supervisor
	metrics  *observability.Metrics
	health   HealthReporter

	state atomic.Int32
	// startMu orders Start's loop launch and SERVING report against Shutdown's
	// state change, so a stopped server never reports SERVING.
	startMu sync.Mutex

	mu        sync.Mutex
	registry  map[string]*transport.Conn
	names     map[string]string
	sessionOf map[string]game.Session

	joins       chan join
	quit        chan struct{}
	loopDone    chan struct{}
	loopOnce    sync.Once
	loopStarted atomic.Bool
	listenOnce  sync.Once
	listenErr   error
}

// New builds a server with one lobby per catalog definition.
//
// Precondition: defs must be validated and non-empty; logger must be non-nil.
// Postcondition: Returns a Running server that is not yet listening, or an error.
func New(cfg config.ServerConfig, defs []game.Definition, logger *zap.Logger, opts ...Option) (*Server, error) {
	if len(defs) == 0 {
		return nil, errors.New("server: no games configured")
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		registry:  make(map[string]*transport.Conn),
		names:     make(map[string]string),
		sessionOf: make(map[string]game.Session),
		joins:     make(chan join),
		quit:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.lobbies = lobby.NewManager(lobby.ProbeFunc(s.departed), logger)
	for _, d := range defs {
		factory, err := d.Factory(logger)
		if err != nil {
			return nil, err
		}
		if err := s.lobbies.Register(d.Name, factory); err != nil {
			return nil, err
		}
	}

	s.sup = supervisor.New(logger,
		supervisor.WithOnDone(s.sessionDone),
		supervisor.WithMetrics(s.metrics),
	)
	s.acceptor = transport.NewAcceptor(cfg, s, logger)
	return s, nil
}

// State returns the current lifecycle state.
func (s *Server) State() State { return State(s.state.Load()) }

// Listen binds the game listener. Calling it again returns the first result.
func (s *Server) Listen() error {
	s.listenOnce.Do(func() { s.listenErr = s.acceptor.Listen() })
	return s.listenErr
}

// Addr returns the bound game listener address.
func (s *Server) Addr() string { return s.acceptor.Addr() }

// Start listens if needed, starts the owner loop and accepts clients until
// Shutdown. It satisfies the lifecycle Service contract.
func (s *Server) Start() error {
	if s.State() != StateRunning {
		return ErrNotRunning
	}
	if err := s.Listen(); err != nil {
		return err
	}

	s.startMu.Lock()
	if s.State() != StateRunning {
		s.startMu.Unlock()
		return ErrNotRunning
	}
	s.loopOnce.Do(func() {
		s.loopStarted.Store(true)
		go s.loop()
	})
	if s.health != nil {
		s.health.SetServing(true)
	}
	s.startMu.Unlock()

	s.logger.Info("game server running",
		zap.String("name", s.cfg.Name),
		zap.String("addr", s.Addr()),
		zap.Strings("lobbies", s.lobbies.Lobbies()),
	)
	return s.acceptor.Serve()
}

// Stop runs Shutdown. It satisfies the lifecycle Service contract.
func (s *Server) Stop() { s.Shutdown() }

// loop is the owner goroutine.
func (s *Server) loop() {
	defer close(s.loopDone)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case j := <-s.joins:
			s.place(j)
		case <-ticker.C:
			s.tick()
		}
	}
}

// place queues a client that completed its handshake.
func (s *Server) place(j join) {
	if err := s.lobbies.Add(j.lobby, j.conn); err != nil {
		s.logger.Warn("placing client", zap.String("conn", j.conn.String()), zap.Error(err))
		s.disconnect(j.conn, unknownGame(j.lobby))
		return
	}
	s.logger.Info("client joined lobby",
		zap.String("conn", j.conn.String()),
		zap.String("lobby", j.lobby),
	)
	s.fill(j.lobby)
}

// tick polls every lobby and running session for departures, then fills.
func (s *Server) tick() {
	for _, name := range s.lobbies.Lobbies() {
		departed, err := s.lobbies.PollDisconnects(name)
		if err != nil {
			s.logger.Error("polling lobby", zap.String("lobby", name), zap.Error(err))
			continue
		}
		for _, p := range departed {
			if conn, ok := p.(*transport.Conn); ok {
				s.drop(conn)
			}
		}
	}

	s.pollSessions()

	for _, name := range s.lobbies.Lobbies() {
		s.fill(name)
	}
	s.recordGauges()
}

// pollSessions removes in-session players that left.
func (s *Server) pollSessions() {
	type member struct {
		conn    *transport.Conn
		session game.Session
	}
	s.mu.Lock()
	members := make([]member, 0, len(s.sessionOf))
	for id, sess := range s.sessionOf {
		if conn, ok := s.registry[id]; ok {
			members = append(members, member{conn: conn, session: sess})
		}
	}
	s.mu.Unlock()

	for _, m := range members {
		if s.departed(m.conn) {
			s.logger.Info("player left session",
				zap.String("conn", m.conn.String()),
				zap.String("session_id", m.session.ID()),
			)
			s.drop(m.conn)
		}
	}
}

// fill launches every session the lobby can fill.
func (s *Server) fill(name string) {
	for {
		sess, err := s.lobbies.TryFill(name)
		if err != nil {
			s.logger.Error("filling lobby", zap.String("lobby", name), zap.Error(err))
			return
		}
		if sess == nil {
			return
		}
		s.launch(sess)
	}
}

func (s *Server) launch(sess game.Session) {
	players := sess.Players()
	s.mu.Lock()
	for _, p := range players {
		s.sessionOf[p.ID()] = sess
	}
	s.mu.Unlock()

	if err := s.sup.Launch(sess); err != nil {
		s.logger.Warn("launch refused",
			zap.String("session_id", sess.ID()),
			zap.Error(err),
		)
		for _, p := range players {
			if conn, ok := p.(*transport.Conn); ok {
				s.disconnect(conn, ReasonShuttingDown)
			}
		}
	}
}

// sessionDone runs on the session goroutine once Run returns.
func (s *Server) sessionDone(sess game.Session, _ error) {
	if s.State() != StateRunning {
		// Shutdown disconnects every client itself.
		return
	}
	for _, p := range sess.Players() {
		conn, ok := s.lookup(p.ID())
		if !ok {
			continue
		}
		s.disconnect(conn, ReasonGameOver)
	}
	s.recordGauges()
}

// departed is the combined bye and liveness probe. It consumes at most one
// pending packet from conn.
func (s *Server) departed(p game.Player) bool {
	conn, ok := p.(*transport.Conn)
	if !ok {
		return false
	}
	pkt, ok, err := conn.Receive()
	if err != nil {
		s.logger.Debug("receive failed", zap.String("conn", conn.String()), zap.Error(err))
		return true
	}
	if !ok {
		// No complete frame yet and no EOF; a frame that stays unfinished
		// surfaces as a Receive error on a later poll.
		return false
	}
	if pkt.Command == protocol.CommandBye {
		s.logger.Info("client said bye", zap.String("conn", conn.String()), zap.String("message", pkt.Message))
		return true
	}
	s.logger.Debug("ignoring packet", zap.String("conn", conn.String()), zap.Stringer("packet", pkt))
	return !conn.Alive()
}

// register adds conn to the registry unless shutdown has begun.
func (s *Server) register(conn *transport.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateRunning {
		return false
	}
	s.registry[conn.ID()] = conn
	return true
}

// claimName binds name to conn if no other registered client holds it.
func (s *Server) claimName(conn *transport.Conn, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, taken := s.names[name]; taken && owner != conn.ID() {
		return false
	}
	s.names[name] = conn.ID()
	conn.SetName(name)
	return true
}

func (s *Server) lookup(id string) (*transport.Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.registry[id]
	return conn, ok
}

// unregister removes conn from every server collection and returns the
// session it was bound to, if any.
func (s *Server) unregister(conn *transport.Conn) game.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registry, conn.ID())
	if name := conn.Name(); name != "" && s.names[name] == conn.ID() {
		delete(s.names, name)
	}
	sess := s.sessionOf[conn.ID()]
	delete(s.sessionOf, conn.ID())
	return sess
}

// disconnect sends bye best-effort, then drops conn.
func (s *Server) disconnect(conn *transport.Conn, reason string) {
	if err := conn.Send(protocol.New(protocol.CommandBye, reason)); err != nil {
		s.logger.Debug("sending bye", zap.String("conn", conn.String()), zap.Error(err))
	}
	s.logger.Info("disconnecting client",
		zap.String("conn", conn.String()),
		zap.String("reason", reason),
	)
	s.drop(conn)
}

// drop removes conn from its lobby, notifies its session and closes it.
func (s *Server) drop(conn *transport.Conn) {
	s.lobbies.Remove(conn)
	if sess := s.unregister(conn); sess != nil {
		sess.RemovePlayer(conn)
	}
	_ = conn.Close()
}

// connections snapshots the registry.
func (s *Server) connections() []*transport.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*transport.Conn, 0, len(s.registry))
	for _, c := range s.registry {
		out = append(out, c)
	}
	return out
}

func (s *Server) recordGauges() {
	if s.metrics == nil {
		return
	}
	s.mu.Lock()
	n := len(s.registry)
	s.mu.Unlock()
	s.metrics.SetConnected(n)
	for _, st := range s.lobbies.Snapshot() {
		s.metrics.SetLobbyWaiting(st.Name, st.Waiting)
	}
}

// SessionStatus describes one running session.
type SessionStatus struct {
	ID      string   `json:"id"`
	Game    string   `json:"game"`
	Players []string `json:"players"`
}

// Status is the admin view of the server.
type Status struct {
	Name     string          `json:"name"`
	State    string          `json:"state"`
	Clients  int             `json:"clients"`
	Lobbies  []lobby.Status  `json:"lobbies"`
	Sessions []SessionStatus `json:"sessions"`
}

// Status returns a snapshot for the admin endpoint.
func (s *Server) Status() Status {
	s.mu.Lock()
	clients := len(s.registry)
	s.mu.Unlock()

	sessions := make([]SessionStatus, 0)
	for _, sess := range s.sup.Sessions() {
		st := SessionStatus{ID: sess.ID(), Game: sess.Name()}
		for _, p := range sess.Players() {
			if p.Name() != "" {
				st.Players = append(st.Players, p.Name())
			} else {
				st.Players = append(st.Players, p.ID())
			}
		}
		sort.Strings(st.Players)
		sessions = append(sessions, st)
	}
	return Status{
		Name:     s.cfg.Name,
		State:    s.State().String(),
		Clients:  clients,
		Lobbies:  s.lobbies.Snapshot(),
		Sessions: sessions,
	}
}

func unknownGame(name string) string {
	return fmt.Sprintf("Unknown game selected: %s", name)
}
