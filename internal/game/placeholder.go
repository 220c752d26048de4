package game

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Placeholder defaults.
const (
	DefaultRounds        = 10
	DefaultRoundDuration = time.Second
)

// PlaceholderConfig configures a Placeholder game kind.
type PlaceholderConfig struct {
	Name            string
	RequiredPlayers int
	Rounds          int
	RoundDuration   time.Duration
}

// Placeholder is the reference game: a fixed number of timed rounds with no
// rules. Each round is logged and announced to the players.
type Placeholder struct {
	id     string
	cfg    PlaceholderConfig
	logger *zap.Logger
	roster *roster
}

// NewPlaceholder creates a pending Placeholder session.
//
// Precondition: cfg.RequiredPlayers >= 1; logger must be non-nil.
// Postcondition: Zero Rounds or RoundDuration take the package defaults.
func NewPlaceholder(cfg PlaceholderConfig, logger *zap.Logger) *Placeholder {
	if cfg.Rounds <= 0 {
		cfg.Rounds = DefaultRounds
	}
	if cfg.RoundDuration <= 0 {
		cfg.RoundDuration = DefaultRoundDuration
	}
	id := uuid.NewString()
	return &Placeholder{
		id:  id,
		cfg: cfg,
		logger: logger.With(
			zap.String("game", cfg.Name),
			zap.String("session_id", id),
		),
		roster: newRoster(cfg.RequiredPlayers),
	}
}

// PlaceholderFactory returns a Factory producing Placeholder sessions.
func PlaceholderFactory(cfg PlaceholderConfig, logger *zap.Logger) Factory {
	return func() Session { return NewPlaceholder(cfg, logger) }
}

func (g *Placeholder) ID() string           { return g.id }
func (g *Placeholder) Name() string         { return g.cfg.Name }
func (g *Placeholder) RequiredPlayers() int { return g.cfg.RequiredPlayers }
func (g *Placeholder) Players() []Player    { return g.roster.snapshot() }

// AddPlayer binds p while seats remain.
func (g *Placeholder) AddPlayer(p Player) bool {
	if !g.roster.add(p) {
		return false
	}
	g.logger.Debug("player added",
		zap.String("player", p.ID()),
		zap.Int("players", g.roster.count()),
	)
	return true
}

// RemovePlayer drops p from the game.
func (g *Placeholder) RemovePlayer(p Player) {
	if g.roster.remove(p) {
		g.logger.Info("player left game",
			zap.String("player", p.ID()),
			zap.Int("remaining", g.roster.count()),
		)
	}
}

// Unbind releases p from a pending game without announcing a departure.
func (g *Placeholder) Unbind(p Player) { g.roster.remove(p) }

// Run plays the configured rounds.
func (g *Placeholder) Run(ctx context.Context) error {
	g.logger.Info("running game",
		zap.Strings("players", g.roster.names()),
		zap.Duration("round_duration", g.cfg.RoundDuration),
	)
	return playRounds(ctx, g.logger, g.roster, g.cfg.Rounds, g.cfg.RoundDuration,
		func(_ context.Context, n int) (string, error) {
			return fmt.Sprintf("Round %d of %d in %s.", n, g.cfg.Rounds, g.cfg.Name), nil
		})
}
