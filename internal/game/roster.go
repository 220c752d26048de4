package game

import (
	"sync"

	"github.com/cory-johannsen/gamelobby/internal/protocol"
)

// roster is a bounded, mutex-guarded player set shared by the built-in variants.
type roster struct {
	mu       sync.Mutex
	capacity int
	players  []Player
}

func newRoster(capacity int) *roster {
	return &roster{capacity: capacity, players: make([]Player, 0, capacity)}
}

// add binds p unless the roster is full or already holds p.
func (r *roster) add(p Player) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.players) >= r.capacity {
		return false
	}
	for _, existing := range r.players {
		if existing.ID() == p.ID() {
			return false
		}
	}
	r.players = append(r.players, p)
	return true
}

// remove drops p and reports whether it was present.
func (r *roster) remove(p Player) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.players {
		if existing.ID() == p.ID() {
			r.players = append(r.players[:i], r.players[i+1:]...)
			return true
		}
	}
	return false
}

func (r *roster) snapshot() []Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Player, len(r.players))
	copy(out, r.players)
	return out
}

func (r *roster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// names returns display names, falling back to IDs for anonymous players.
func (r *roster) names() []string {
	players := r.snapshot()
	out := make([]string, 0, len(players))
	for _, p := range players {
		if n := p.Name(); n != "" {
			out = append(out, n)
		} else {
			out = append(out, p.ID())
		}
	}
	return out
}

// broadcast sends pkt to every player, ignoring individual send failures.
// Disconnects are detected and cleaned up by the server's poll loop.
func (r *roster) broadcast(pkt protocol.Packet) {
	for _, p := range r.snapshot() {
		_ = p.Send(pkt)
	}
}
