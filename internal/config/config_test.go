package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:             "TestServer",
			Host:             "0.0.0.0",
			Port:             6000,
			PollInterval:     100 * time.Millisecond,
			HandshakeTimeout: 30 * time.Second,
			ReadTimeout:      5 * time.Second,
			WriteTimeout:     5 * time.Second,
			LivenessTimeout:  10 * time.Millisecond,
			DrainTimeout:     5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Admin: AdminConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    9090,
		},
		Health: HealthConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    6001,
		},
	}
}

func TestValidConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestAddrs(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "0.0.0.0:6000", cfg.Server.Addr())
	assert.Equal(t, "127.0.0.1:9090", cfg.Admin.Addr())
	assert.Equal(t, "127.0.0.1:6001", cfg.Health.Addr())
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "DefaultGameServer", cfg.Server.Name)
	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.DrainTimeout)
	assert.Equal(t, 10*time.Millisecond, cfg.Server.LivenessTimeout)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	err := os.WriteFile(path, []byte(`
server:
  name: Arena Hall
  host: 127.0.0.1
  port: 6100
  poll_interval: 50ms
  handshake_timeout: 10s
  drain_timeout: 2s
  games_file: content/games.yaml
logging:
  level: debug
  format: console
admin:
  enabled: true
  port: 9191
`), 0644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Arena Hall", cfg.Server.Name)
	assert.Equal(t, 6100, cfg.Server.Port)
	assert.Equal(t, 50*time.Millisecond, cfg.Server.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Server.HandshakeTimeout)
	assert.Equal(t, 2*time.Second, cfg.Server.DrainTimeout)
	assert.Equal(t, 5*time.Second, cfg.Server.WriteTimeout, "unset keys keep defaults")
	assert.Equal(t, "content/games.yaml", cfg.Server.GamesFile)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Admin.Enabled)
	assert.Equal(t, 9191, cfg.Admin.Port)
	assert.False(t, cfg.Health.Enabled)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GAMELOBBY_SERVER_PORT", "7001")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Server.Port)
}

func TestLoadInvalidPath(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 70000\n  name: \"\"\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "server.name")
}

func TestValidateServerNameEmpty(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Name = "  "
	assert.Error(t, cfg.Validate())
}

func TestValidateServerDurations(t *testing.T) {
	cases := map[string]func(*Config){
		"poll_interval":     func(c *Config) { c.Server.PollInterval = 0 },
		"handshake_timeout": func(c *Config) { c.Server.HandshakeTimeout = -time.Second },
		"read_timeout":      func(c *Config) { c.Server.ReadTimeout = -time.Second },
		"write_timeout":     func(c *Config) { c.Server.WriteTimeout = -time.Second },
		"liveness_timeout":  func(c *Config) { c.Server.LivenessTimeout = 0 },
		"drain_timeout":     func(c *Config) { c.Server.DrainTimeout = 0 },
	}
	for key, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		err := cfg.Validate()
		require.Error(t, err, key)
		assert.Contains(t, err.Error(), key)
	}
}

func TestValidateHandshakeTimeoutZeroAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.Server.HandshakeTimeout = 0
	assert.NoError(t, cfg.Validate())
}

func TestValidateLoggingLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		cfg := validConfig()
		cfg.Logging.Level = level
		assert.NoError(t, cfg.Validate(), "level %q should be valid", level)
	}
	cfg := validConfig()
	cfg.Logging.Level = "trace"
	assert.Error(t, cfg.Validate())
}

func TestValidateLoggingFormat(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		cfg := validConfig()
		cfg.Logging.Format = format
		assert.NoError(t, cfg.Validate(), "format %q should be valid", format)
	}
	cfg := validConfig()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestValidateDisabledAdminIgnoresPort(t *testing.T) {
	cfg := validConfig()
	cfg.Admin.Enabled = false
	cfg.Admin.Port = -1
	assert.NoError(t, cfg.Validate())

	cfg.Admin.Enabled = true
	assert.Error(t, cfg.Validate())
}

// Property-based tests

func TestPropertyValidPortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.IntRange(0, 65535).Draw(t, "port")
		cfg := validConfig()
		cfg.Server.Port = port
		err := cfg.Validate()
		if err != nil {
			t.Fatalf("valid port %d rejected: %v", port, err)
		}
	})
}

func TestPropertyInvalidPortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.OneOf(
			rapid.IntRange(-1000, -1),
			rapid.IntRange(65536, 100000),
		).Draw(t, "port")
		cfg := validConfig()
		cfg.Server.Port = port
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("invalid port %d accepted", port)
		}
	})
}
