// Package config provides Viper-based configuration loading for the game lobby server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the matchmaking server settings.
type ServerConfig struct {
	// Name is the server display name announced in the welcome packet.
	Name string `mapstructure:"name"`
	// Host is the bind address for the game listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the game listener. 0 picks a free port.
	Port int `mapstructure:"port"`
	// PollInterval is how often the owner loop polls lobbies for disconnects and fills.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// HandshakeTimeout bounds the wait for a client's game selection. 0 waits forever.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// ReadTimeout bounds reading one frame once its first byte has arrived.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout bounds writing one frame.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// LivenessTimeout bounds a single disconnect probe.
	LivenessTimeout time.Duration `mapstructure:"liveness_timeout"`
	// DrainTimeout bounds the wait for running sessions at shutdown.
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	// GamesFile is the optional YAML catalog of game kinds. Empty uses the built-in catalog.
	GamesFile string `mapstructure:"games_file"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// AdminConfig holds the HTTP status and metrics endpoint settings.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Addr returns the "host:port" admin HTTP address.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// HealthConfig holds the gRPC health service settings.
type HealthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Addr returns the "host:port" gRPC health address.
func (h HealthConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Health  HealthConfig  `mapstructure:"health"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Admin.Enabled {
		if err := validatePort("admin.port", c.Admin.Port); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if c.Health.Enabled {
		if err := validatePort("health.port", c.Health.Port); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validatePort(key string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s must be 0-65535, got %d", key, port)
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, "server.name must not be empty")
	}
	if err := validatePort("server.port", s.Port); err != nil {
		errs = append(errs, err.Error())
	}
	if s.PollInterval <= 0 {
		errs = append(errs, fmt.Sprintf("server.poll_interval must be positive, got %s", s.PollInterval))
	}
	if s.HandshakeTimeout < 0 {
		errs = append(errs, "server.handshake_timeout must not be negative")
	}
	if s.ReadTimeout < 0 {
		errs = append(errs, "server.read_timeout must not be negative")
	}
	if s.WriteTimeout < 0 {
		errs = append(errs, "server.write_timeout must not be negative")
	}
	if s.LivenessTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("server.liveness_timeout must be positive, got %s", s.LivenessTimeout))
	}
	if s.DrainTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("server.drain_timeout must be positive, got %s", s.DrainTimeout))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path uses defaults and environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()

	// Environment variable overrides with GAMELOBBY_ prefix
	v.SetEnvPrefix("GAMELOBBY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a Config populated with default values only.
func Defaults() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "DefaultGameServer")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 6000)
	v.SetDefault("server.poll_interval", "100ms")
	v.SetDefault("server.handshake_timeout", "30s")
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "5s")
	v.SetDefault("server.liveness_timeout", "10ms")
	v.SetDefault("server.drain_timeout", "5s")
	v.SetDefault("server.games_file", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.host", "127.0.0.1")
	v.SetDefault("admin.port", 9090)

	v.SetDefault("health.enabled", false)
	v.SetDefault("health.host", "127.0.0.1")
	v.SetDefault("health.port", 6001)
}
