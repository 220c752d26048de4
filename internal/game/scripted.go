package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamelobby/internal/scripting"
)

// ScriptedConfig configures a Lua-driven game kind.
type ScriptedConfig struct {
	Name             string
	RequiredPlayers  int
	Rounds           int
	RoundDuration    time.Duration
	Script           *scripting.Script
	InstructionLimit int
}

// Scripted is a game whose rounds are narrated by a Lua script. The script
// may define on_start(players), on_round(round, players) and on_finish(reason);
// a string returned by on_round is announced to the players.
type Scripted struct {
	id     string
	cfg    ScriptedConfig
	logger *zap.Logger
	roster *roster
}

// NewScripted creates a pending Scripted session.
//
// Precondition: cfg.Script must be non-nil; cfg.RequiredPlayers >= 1.
func NewScripted(cfg ScriptedConfig, logger *zap.Logger) *Scripted {
	if cfg.Rounds <= 0 {
		cfg.Rounds = DefaultRounds
	}
	if cfg.RoundDuration <= 0 {
		cfg.RoundDuration = DefaultRoundDuration
	}
	id := uuid.NewString()
	return &Scripted{
		id:  id,
		cfg: cfg,
		logger: logger.With(
			zap.String("game", cfg.Name),
			zap.String("session_id", id),
		),
		roster: newRoster(cfg.RequiredPlayers),
	}
}

// ScriptedFactory returns a Factory producing Scripted sessions.
func ScriptedFactory(cfg ScriptedConfig, logger *zap.Logger) Factory {
	return func() Session { return NewScripted(cfg, logger) }
}

func (g *Scripted) ID() string             { return g.id }
func (g *Scripted) Name() string           { return g.cfg.Name }
func (g *Scripted) RequiredPlayers() int   { return g.cfg.RequiredPlayers }
func (g *Scripted) Players() []Player      { return g.roster.snapshot() }
func (g *Scripted) AddPlayer(p Player) bool { return g.roster.add(p) }

// RemovePlayer drops p from the game.
func (g *Scripted) RemovePlayer(p Player) {
	if g.roster.remove(p) {
		g.logger.Info("player left game",
			zap.String("player", p.ID()),
			zap.Int("remaining", g.roster.count()),
		)
	}
}

// Unbind releases p from a pending game without announcing a departure.
func (g *Scripted) Unbind(p Player) { g.roster.remove(p) }

// Run instantiates a private VM for this session and plays the rounds.
func (g *Scripted) Run(ctx context.Context) (err error) {
	vm, err := g.cfg.Script.NewVM(g.cfg.InstructionLimit, g.logger)
	if err != nil {
		return fmt.Errorf("starting %s: %w", g.cfg.Name, err)
	}
	defer vm.Close()

	g.logger.Info("running scripted game",
		zap.String("script", g.cfg.Script.Path()),
		zap.Strings("players", g.roster.names()),
	)

	defer func() {
		reason := "completed"
		switch {
		case errors.Is(err, ErrAbandoned):
			reason = "abandoned"
		case ctx.Err() != nil:
			reason = "cancelled"
		case err != nil:
			reason = "failed"
		}
		// ctx may already be cancelled; the hook gets a fresh budget.
		if _, hookErr := vm.Call(context.Background(), "on_finish", lua.LString(reason)); hookErr != nil {
			g.logger.Warn("on_finish failed", zap.Error(hookErr))
		}
	}()

	if _, err := vm.Call(ctx, "on_start", vm.StringList(g.roster.names())); err != nil {
		return err
	}

	return playRounds(ctx, g.logger, g.roster, g.cfg.Rounds, g.cfg.RoundDuration,
		func(ctx context.Context, n int) (string, error) {
			ret, err := vm.Call(ctx, "on_round", lua.LNumber(n), vm.StringList(g.roster.names()))
			if err != nil {
				return "", err
			}
			if s, ok := ret.(lua.LString); ok {
				return string(s), nil
			}
			return "", nil
		})
}
