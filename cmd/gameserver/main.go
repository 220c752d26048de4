// Package main provides the game lobby server binary: it accepts TCP clients,
// queues them in lobbies and runs game sessions until SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamelobby/internal/config"
	"github.com/cory-johannsen/gamelobby/internal/game"
	"github.com/cory-johannsen/gamelobby/internal/observability"
	"github.com/cory-johannsen/gamelobby/internal/server"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath, gamesPath string

	cmd := &cobra.Command{
		Use:           "gameserver",
		Short:         "Run the game lobby server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(context.Background(), configPath, gamesPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "configs/dev.yaml", "path to configuration file; empty uses defaults and environment")
	cmd.Flags().StringVar(&gamesPath, "games", "", "path to game catalog YAML; overrides server.games_file")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gameserver %s (%s)\n", version, commit)
		},
	})
	return cmd
}

func run(ctx context.Context, configPath, gamesPath string) error {
	start := time.Now()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if gamesPath != "" {
		cfg.Server.GamesFile = gamesPath
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server.Name)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	defs := game.DefaultCatalog()
	if cfg.Server.GamesFile != "" {
		defs, err = game.LoadCatalog(cfg.Server.GamesFile)
		if err != nil {
			return fmt.Errorf("loading games: %w", err)
		}
	}
	logger.Info("loaded game catalog",
		zap.Int("count", len(defs)),
		zap.String("source", cfg.Server.GamesFile),
	)

	metrics := observability.NewMetrics()
	opts := []server.Option{server.WithMetrics(metrics)}

	lifecycle := server.NewLifecycle(logger)

	if cfg.Health.Enabled {
		health := observability.NewHealthService(cfg.Health, logger)
		opts = append(opts, server.WithHealth(health))
		lifecycle.Add("health", health)
	}

	srv, err := server.New(cfg.Server, defs, logger, opts...)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	if cfg.Admin.Enabled {
		router := observability.NewAdminRouter(metrics, func() any { return srv.Status() }, logger)
		lifecycle.Add("admin", observability.NewAdminServer(cfg.Admin, router, logger))
	}

	// Added last so it stops first, while health and admin still answer.
	lifecycle.Add("game", srv)

	logger.Info("game server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("version", version),
	)
	return lifecycle.Run(ctx)
}
