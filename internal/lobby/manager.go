// Package lobby queues waiting players by game kind and fills pending
// sessions first-come-first-served.
package lobby

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamelobby/internal/game"
)

var (
	// ErrUnknownLobby is returned for a lobby name that was never registered.
	ErrUnknownLobby = errors.New("lobby: unknown lobby")
	// ErrDuplicateLobby is returned when a lobby name is registered twice.
	ErrDuplicateLobby = errors.New("lobby: already registered")
)

// Probe reports whether a queued player has gone away, either by sending
// bye or by closing its connection.
type Probe interface {
	Departed(p game.Player) bool
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(p game.Player) bool

// Departed calls f(p).
func (f ProbeFunc) Departed(p game.Player) bool { return f(p) }

// Status is a point-in-time view of one lobby.
type Status struct {
	Name     string `json:"name"`
	Required int    `json:"required"`
	Waiting  int    `json:"waiting"`
}

// Lobby is a named FIFO queue feeding one pending session.
type Lobby struct {
	name     string
	factory  game.Factory
	required int
	queue    []game.Player
	pending  game.Session
}

// Manager owns every lobby. All methods are safe for concurrent use; the
// lock is never held while probing a player.
type Manager struct {
	mu      sync.Mutex
	lobbies map[string]*Lobby
	order   []string
	probe   Probe
	logger  *zap.Logger
}

// NewManager creates an empty Manager.
//
// Precondition: probe and logger must be non-nil.
func NewManager(probe Probe, logger *zap.Logger) *Manager {
	return &Manager{
		lobbies: make(map[string]*Lobby),
		probe:   probe,
		logger:  logger,
	}
}

// Register creates the lobby name backed by factory and builds its first
// pending session.
//
// Precondition: factory must produce sessions requiring at least one player.
// Postcondition: The lobby exists with an empty queue, or an error is returned.
func (m *Manager) Register(name string, factory game.Factory) error {
	if name == "" {
		return errors.New("lobby: name must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("lobby %q: factory must not be nil", name)
	}
	pending := factory()
	if pending.RequiredPlayers() < 1 {
		return fmt.Errorf("lobby %q: required players must be >= 1, got %d", name, pending.RequiredPlayers())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.lobbies[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateLobby, name)
	}
	m.lobbies[name] = &Lobby{
		name:     name,
		factory:  factory,
		required: pending.RequiredPlayers(),
		pending:  pending,
	}
	m.order = append(m.order, name)
	m.logger.Info("lobby registered",
		zap.String("lobby", name),
		zap.Int("required", pending.RequiredPlayers()),
	)
	return nil
}

// Lobbies returns lobby names in registration order.
func (m *Manager) Lobbies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Has reports whether name is a registered lobby.
func (m *Manager) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lobbies[name]
	return ok
}

// Add appends p to the back of the named lobby's queue.
//
// Postcondition: Returns ErrUnknownLobby if name is not registered.
func (m *Manager) Add(name string, p game.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lobbies[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLobby, name)
	}
	l.queue = append(l.queue, p)
	m.logger.Debug("player queued",
		zap.String("lobby", name),
		zap.String("player", p.ID()),
		zap.Int("waiting", len(l.queue)),
	)
	return nil
}

// Remove drops p from whichever queue holds it.
func (m *Manager) Remove(p game.Player) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lobbies {
		if l.remove(p.ID()) {
			return true
		}
	}
	return false
}

// PollDisconnects probes every player queued in the named lobby and removes
// those that departed.
//
// Postcondition: Departed players are no longer queued and are returned in
// queue order. Players still queued keep their relative order.
func (m *Manager) PollDisconnects(name string) ([]game.Player, error) {
	m.mu.Lock()
	l, ok := m.lobbies[name]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownLobby, name)
	}
	snapshot := make([]game.Player, len(l.queue))
	copy(snapshot, l.queue)
	m.mu.Unlock()

	var departed []game.Player
	for _, p := range snapshot {
		if m.probe.Departed(p) {
			departed = append(departed, p)
		}
	}
	if len(departed) == 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range departed {
		l.remove(p.ID())
		m.logger.Info("queued player departed",
			zap.String("lobby", name),
			zap.String("player", p.ID()),
		)
	}
	return departed, nil
}

// TryFill attempts to bind RequiredPlayers queued players to the lobby's
// pending session. At most len(queue) players are examined, in FIFO order.
// A player the session refuses is moved to the back of the queue.
//
// Postcondition: On success the filled session is returned, its players are
// no longer queued, and a fresh pending session replaces it. Otherwise
// (nil, nil) is returned, the pending session holds no newly bound players,
// and the queue is exactly as it was before the call.
func (m *Manager) TryFill(name string) (game.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lobbies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLobby, name)
	}
	if len(l.queue) < l.required {
		return nil, nil
	}

	original := l.queue
	examined := 0
	var bound, refused []game.Player
	for _, p := range original {
		if len(bound) == l.required {
			break
		}
		examined++
		if l.pending.AddPlayer(p) {
			bound = append(bound, p)
		} else {
			refused = append(refused, p)
		}
	}

	if len(bound) < l.required {
		unbind := l.pending.RemovePlayer
		if u, ok := l.pending.(game.Unbinder); ok {
			unbind = u.Unbind
		}
		for _, p := range bound {
			unbind(p)
		}
		m.logger.Debug("lobby fill rolled back",
			zap.String("lobby", name),
			zap.Int("bound", len(bound)),
			zap.Int("refused", len(refused)),
		)
		return nil, nil
	}

	rest := make([]game.Player, 0, len(original)-examined+len(refused))
	rest = append(rest, original[examined:]...)
	rest = append(rest, refused...)
	l.queue = rest

	filled := l.pending
	l.pending = l.factory()
	m.logger.Info("lobby filled",
		zap.String("lobby", name),
		zap.String("session_id", filled.ID()),
		zap.Int("waiting", len(l.queue)),
	)
	return filled, nil
}

// Snapshot returns the status of every lobby, sorted by name.
func (m *Manager) Snapshot() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.lobbies))
	for _, l := range m.lobbies {
		out = append(out, Status{Name: l.name, Required: l.required, Waiting: len(l.queue)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Queued returns the players waiting in the named lobby, front first.
func (m *Manager) Queued(name string) []game.Player {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lobbies[name]
	if !ok {
		return nil
	}
	out := make([]game.Player, len(l.queue))
	copy(out, l.queue)
	return out
}

// Clear empties every queue and returns the players that were waiting.
func (m *Manager) Clear() []game.Player {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []game.Player
	for _, name := range m.order {
		l := m.lobbies[name]
		out = append(out, l.queue...)
		l.queue = nil
	}
	return out
}

func (l *Lobby) remove(id string) bool {
	for i, p := range l.queue {
		if p.ID() == id {
			l.queue = append(l.queue[:i:i], l.queue[i+1:]...)
			return true
		}
	}
	return false
}
