package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/ritzau/hardy-cross/pkg/hardycross"
	"github.com/ritzau/hardy-cross/pkg/logging"
	"github.com/ritzau/hardy-cross/pkg/solver"
)

// DefaultFile is read from the working directory when present
const DefaultFile = "hardy-cross.toml"

// EnvPrefix prefixes environment overrides, e.g. HARDY_CROSS_PORT=9090
const EnvPrefix = "HARDY_CROSS_"

// Config holds all configuration for the application
type Config struct {
	WebMode       bool     `koanf:"web"`
	Port          int      `koanf:"port"`
	Watch         bool     `koanf:"watch"`
	Method        string   `koanf:"method"`
	MaxIterations int      `koanf:"max_iterations"`
	Tolerance     float64  `koanf:"tolerance"`
	JSON          bool     `koanf:"json"`
	LogFormat     string   `koanf:"log_format"`
	Verbosity     string   `koanf:"verbosity"`
	VerboseCnt    int      `koanf:"verbose"`
	CORSOrigins   []string `koanf:"cors_origins"`
	File          string   `koanf:"config"`
}

// Defaults returns the built-in configuration values
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"web":            false,
		"port":           8000,
		"watch":          false,
		"method":         string(solver.MethodDarcy),
		"max_iterations": hardycross.DefaultMaxIterations,
		"tolerance":      hardycross.DefaultTolerance,
		"json":           false,
		"log_format":     logging.FormatCompact,
		"verbosity":      "",
		"verbose":        0,
		"cors_origins":   []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		"config":         DefaultFile,
	}
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	// Env and flags are read first so that either can name the config file
	overrides, err := loadOverrides(f)
	if err != nil {
		return nil, err
	}

	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(makeMapProvider(Defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file. An explicitly named file must exist; the default is optional.
	path, explicit := DefaultFile, overrides.String("config") != ""
	if explicit {
		path = overrides.String("config")
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	// 3. Environment variables and flags
	if err := k.Merge(overrides); err != nil {
		return nil, fmt.Errorf("failed to merge overrides: %w", err)
	}

	// Unmarshal into struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadOverrides reads the environment and the flags the user actually set
func loadOverrides(f *pflag.FlagSet) (*koanf.Koanf, error) {
	o := koanf.New(".")

	// Keys are flat, so HARDY_CROSS_MAX_ITERATIONS maps to max_iterations
	if err := o.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// Without a koanf instance posflag skips flags left at their default
	if f != nil {
		if err := o.Load(posflag.Provider(f, ".", nil), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}
	return o, nil
}

// Validate rejects settings the solver cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch solver.Method(c.Method) {
	case solver.MethodDarcy, solver.MethodPuzzle:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", solver.ErrUnknownMethod, c.Method))
	}
	if c.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations))
	}
	if !(c.Tolerance > 0) || math.IsInf(c.Tolerance, 0) {
		errs = append(errs, fmt.Errorf("tolerance must be a positive number, got %g", c.Tolerance))
	}
	switch c.LogFormat {
	case logging.FormatCompact, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// SolverOptions returns the convergence settings for the engine
func (c *Config) SolverOptions() hardycross.Options {
	return hardycross.Options{
		MaxIterations: c.MaxIterations,
		Tolerance:     c.Tolerance,
	}
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
