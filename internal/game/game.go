// Package game defines the pluggable game session capability and its
// built-in variants.
package game

import (
	"context"
	"errors"

	"github.com/cory-johannsen/gamelobby/internal/protocol"
)

// ErrAbandoned is returned by Run when every player left before the game ended.
var ErrAbandoned = errors.New("game: all players disconnected")

// Player is a connected client that can be bound to a session.
type Player interface {
	// ID returns the connection's unique identifier.
	ID() string
	// Name returns the display name claimed at handshake, or "".
	Name() string
	// Send delivers one packet to the client.
	Send(p protocol.Packet) error
}

// Session is one instance of a game kind. New kinds are added by
// implementing this interface and registering a catalog kind.
type Session interface {
	// ID uniquely identifies the session instance.
	ID() string
	// Name is the game kind's display name, equal to its lobby name.
	Name() string
	// RequiredPlayers is the exact number of players the session starts with.
	RequiredPlayers() int
	// AddPlayer binds p to the session. It returns false when the session
	// refuses p, for example because p is already bound or the session is full.
	AddPlayer(p Player) bool
	// RemovePlayer notifies the session that p disconnected.
	RemovePlayer(p Player)
	// Players returns the currently bound players.
	Players() []Player
	// Run plays the game until it completes, ctx is cancelled, or all players leave.
	// It must observe ctx at every round boundary.
	Run(ctx context.Context) error
}

// Unbinder is implemented by sessions that can release a player bound by
// AddPlayer before Run starts without treating it as a disconnect. Lobbies use
// it to roll back a partial fill; sessions without it get RemovePlayer.
type Unbinder interface {
	Unbind(p Player)
}

// Factory builds the next pending session for a lobby.
type Factory func() Session
