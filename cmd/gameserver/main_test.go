package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_MissingConfig(t *testing.T) {
	err := run(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestRun_InvalidCatalog(t *testing.T) {
	games := filepath.Join(t.TempDir(), "games.yaml")
	require.NoError(t, os.WriteFile(games, []byte("games:\n  - name: A\n    required_players: 0\n"), 0644))

	err := run(context.Background(), "", games)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading games")
}

func TestRun_StopsWhenContextCancelled(t *testing.T) {
	t.Setenv("GAMELOBBY_SERVER_HOST", "127.0.0.1")
	t.Setenv("GAMELOBBY_SERVER_PORT", "0")
	t.Setenv("GAMELOBBY_LOGGING_LEVEL", "error")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, run(ctx, "", ""))
}

func TestRootCmd_Flags(t *testing.T) {
	cmd := rootCmd()
	assert.NotNil(t, cmd.Flags().Lookup("config"))
	assert.NotNil(t, cmd.Flags().Lookup("games"))
}
