// Package testutil provides helpers shared by package tests.
package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/cory-johannsen/gamelobby/internal/game"
	"github.com/cory-johannsen/gamelobby/internal/protocol"
)

// FakePlayer is an in-memory game.Player that records what it is sent.
type FakePlayer struct {
	id   string
	name string

	mu      sync.Mutex
	sent    []protocol.Packet
	sendErr error
}

// NewFakePlayer creates a FakePlayer with the given identifier.
func NewFakePlayer(id string) *FakePlayer {
	return &FakePlayer{id: id}
}

// Named sets the display name and returns p.
func (p *FakePlayer) Named(name string) *FakePlayer {
	p.name = name
	return p
}

func (p *FakePlayer) ID() string   { return p.id }
func (p *FakePlayer) Name() string { return p.name }

// Send records pkt, or returns the configured error.
func (p *FakePlayer) Send(pkt protocol.Packet) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, pkt)
	return nil
}

// FailSends makes every later Send return err.
func (p *FakePlayer) FailSends(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendErr = err
}

// Sent returns a copy of every packet recorded so far.
func (p *FakePlayer) Sent() []protocol.Packet {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.Packet, len(p.sent))
	copy(out, p.sent)
	return out
}

// FakeSession is a scriptable game.Session.
// Refuse, when set, decides which players AddPlayer turns away.
// RunFn, when set, replaces the default Run, which blocks until ctx is done.
type FakeSession struct {
	GameName string
	Required int
	Refuse   func(p game.Player) bool
	RunFn    func(ctx context.Context, s *FakeSession) error

	id      string
	mu      sync.Mutex
	players []game.Player
	removed []string
	unbound []string
}

// NewFakeSession creates a FakeSession requiring required players.
func NewFakeSession(name string, required int) *FakeSession {
	return &FakeSession{GameName: name, Required: required, id: uuid.NewString()}
}

func (s *FakeSession) ID() string           { return s.id }
func (s *FakeSession) Name() string         { return s.GameName }
func (s *FakeSession) RequiredPlayers() int { return s.Required }

// AddPlayer binds p unless it is refused, already bound, or the session is full.
func (s *FakeSession) AddPlayer(p game.Player) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Refuse != nil && s.Refuse(p) {
		return false
	}
	if len(s.players) >= s.Required {
		return false
	}
	for _, existing := range s.players {
		if existing.ID() == p.ID() {
			return false
		}
	}
	s.players = append(s.players, p)
	return true
}

// RemovePlayer unbinds p and records the removal.
func (s *FakeSession) RemovePlayer(p game.Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, p.ID())
	for i, existing := range s.players {
		if existing.ID() == p.ID() {
			s.players = append(s.players[:i], s.players[i+1:]...)
			return
		}
	}
}

// Unbind releases p without recording a removal.
func (s *FakeSession) Unbind(p game.Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unbound = append(s.unbound, p.ID())
	for i, existing := range s.players {
		if existing.ID() == p.ID() {
			s.players = append(s.players[:i], s.players[i+1:]...)
			return
		}
	}
}

// Unbound returns the IDs passed to Unbind, in call order.
func (s *FakeSession) Unbound() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.unbound))
	copy(out, s.unbound)
	return out
}

// Players returns the bound players.
func (s *FakeSession) Players() []game.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]game.Player, len(s.players))
	copy(out, s.players)
	return out
}

// Removed returns the IDs passed to RemovePlayer, in call order.
func (s *FakeSession) Removed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.removed))
	copy(out, s.removed)
	return out
}

// Run calls RunFn or waits for ctx.
func (s *FakeSession) Run(ctx context.Context) error {
	if s.RunFn != nil {
		return s.RunFn(ctx, s)
	}
	<-ctx.Done()
	return ctx.Err()
}

// FakeFactory returns a game.Factory that records every session it builds.
func FakeFactory(name string, required int, configure func(*FakeSession)) (game.Factory, func() []*FakeSession) {
	var mu sync.Mutex
	var built []*FakeSession
	factory := func() game.Session {
		s := NewFakeSession(name, required)
		if configure != nil {
			configure(s)
		}
		mu.Lock()
		built = append(built, s)
		mu.Unlock()
		return s
	}
	return factory, func() []*FakeSession {
		mu.Lock()
		defer mu.Unlock()
		out := make([]*FakeSession, len(built))
		copy(out, built)
		return out
	}
}
