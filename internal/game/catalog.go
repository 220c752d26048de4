package game

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/gamelobby/internal/scripting"
)

// Game kinds understood by Definition.Factory.
const (
	KindPlaceholder = "placeholder"
	KindScripted    = "scripted"
)

// Definition describes one game kind and the lobby that feeds it.
type Definition struct {
	Name             string        `yaml:"name"`
	Kind             string        `yaml:"kind"`
	RequiredPlayers  int           `yaml:"required_players"`
	Rounds           int           `yaml:"rounds"`
	RoundDuration    time.Duration `yaml:"round_duration"`
	Script           string        `yaml:"script"`
	InstructionLimit int           `yaml:"instruction_limit"`
}

// yamlCatalogFile is the top-level YAML structure for catalog files.
type yamlCatalogFile struct {
	Games []Definition `yaml:"games"`
}

// DefaultCatalog is used when no catalog file is configured.
func DefaultCatalog() []Definition {
	return []Definition{{
		Name:            "Placeholder Game",
		Kind:            KindPlaceholder,
		RequiredPlayers: 2,
		Rounds:          DefaultRounds,
		RoundDuration:   DefaultRoundDuration,
	}}
}

// Validate checks a single definition.
func (d Definition) Validate() error {
	var errs []string
	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, "name must not be empty")
	}
	if d.RequiredPlayers < 1 {
		errs = append(errs, fmt.Sprintf("required_players must be >= 1, got %d", d.RequiredPlayers))
	}
	if d.Rounds < 0 {
		errs = append(errs, fmt.Sprintf("rounds must not be negative, got %d", d.Rounds))
	}
	if d.RoundDuration < 0 {
		errs = append(errs, "round_duration must not be negative")
	}
	switch d.Kind {
	case KindPlaceholder:
	case KindScripted:
		if d.Script == "" {
			errs = append(errs, "scripted games require a script")
		}
	default:
		errs = append(errs, fmt.Sprintf("kind must be one of [placeholder, scripted], got %q", d.Kind))
	}
	if len(errs) > 0 {
		return fmt.Errorf("game %q: %s", d.Name, strings.Join(errs, "; "))
	}
	return nil
}

// Factory builds the session factory for this definition, compiling its script if any.
//
// Precondition: d must be valid.
// Postcondition: Returns a Factory or an error for an unloadable script.
func (d Definition) Factory(logger *zap.Logger) (Factory, error) {
	switch d.Kind {
	case KindPlaceholder:
		return PlaceholderFactory(PlaceholderConfig{
			Name:            d.Name,
			RequiredPlayers: d.RequiredPlayers,
			Rounds:          d.Rounds,
			RoundDuration:   d.RoundDuration,
		}, logger), nil
	case KindScripted:
		script, err := scripting.Compile(d.Script)
		if err != nil {
			return nil, fmt.Errorf("game %q: %w", d.Name, err)
		}
		return ScriptedFactory(ScriptedConfig{
			Name:             d.Name,
			RequiredPlayers:  d.RequiredPlayers,
			Rounds:           d.Rounds,
			RoundDuration:    d.RoundDuration,
			Script:           script,
			InstructionLimit: d.InstructionLimit,
		}, logger), nil
	default:
		return nil, fmt.Errorf("game %q: unknown kind %q", d.Name, d.Kind)
	}
}

// LoadCatalog reads and validates a YAML catalog file. Relative script paths
// are resolved against the catalog's directory.
//
// Precondition: path must point to a readable YAML file.
// Postcondition: Returns at least one validated definition or a non-nil error.
func LoadCatalog(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading game catalog %s: %w", path, err)
	}
	return LoadCatalogFromBytes(data, filepath.Dir(path))
}

// LoadCatalogFromBytes parses and validates a catalog from YAML bytes.
func LoadCatalogFromBytes(data []byte, baseDir string) ([]Definition, error) {
	var file yamlCatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing game catalog YAML: %w", err)
	}
	if len(file.Games) == 0 {
		return nil, errors.New("game catalog defines no games")
	}

	seen := make(map[string]bool, len(file.Games))
	var errs []string
	for i := range file.Games {
		d := &file.Games[i]
		if d.Kind == "" {
			d.Kind = KindPlaceholder
		}
		if d.Script != "" && !filepath.IsAbs(d.Script) {
			d.Script = filepath.Join(baseDir, d.Script)
		}
		if err := d.Validate(); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Sprintf("game %q defined more than once", d.Name))
		}
		seen[d.Name] = true
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("validating game catalog: %s", strings.Join(errs, "; "))
	}
	return file.Games, nil
}
