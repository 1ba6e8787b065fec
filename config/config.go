/*
Package config loads server configuration.

PURPOSE:
  One YAML file plus defaults. Command-line flags and environment
  variables (cmd/server) are applied on top after Load.

YAML SCHEMA:
  listen: ":8080"
  db_path: "recurrence.db"      # ":memory:" for an in-memory database
  timezone: "America/New_York"  # IANA name; "Local" for the host zone
  max_occurrences: 10000
  log:
    level: info
    file: ""                     # empty logs to stdout
  cors:
    allowed_origins:
      - http://localhost:5173

SEE ALSO:
  - cmd/server/main.go: Flag overrides
  - recurrence/config.go: EngineConfig built from this
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/warp/recurrence-engine/calendar"
	"github.com/warp/recurrence-engine/recurrence"
)

type Config struct {
	Listen         string     `yaml:"listen"`
	DBPath         string     `yaml:"db_path"`
	Timezone       string     `yaml:"timezone"`
	MaxOccurrences int        `yaml:"max_occurrences"`
	Log            LogConfig  `yaml:"log"`
	CORS           CORSConfig `yaml:"cors"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Listen:         ":8080",
		DBPath:         "recurrence.db",
		Timezone:       "Local",
		MaxOccurrences: recurrence.DefaultMaxOccurrences,
		Log: LogConfig{
			Level: "info",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
	}
}

// Load reads configuration from path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// defaults
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Listen == "" {
		c.Listen = defaults.Listen
	}
	if c.DBPath == "" {
		c.DBPath = defaults.DBPath
	}
	if c.Timezone == "" {
		c.Timezone = defaults.Timezone
	}
	if c.MaxOccurrences == 0 {
		c.MaxOccurrences = defaults.MaxOccurrences
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
}

// Validate checks every field and reports all failures at once.
func (c *Config) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("listen", c.Listen, notEmpty),
		criterio.Run("db_path", c.DBPath, notEmpty),
		criterio.Run("timezone", c.Timezone, validTimezone),
		c.validateLimits(),
		criterio.Run("log.level", c.Log.Level, validLevel),
	)
}

// Location resolves Timezone. Call after Validate.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// EngineConfig builds the recurrence engine settings.
func (c *Config) EngineConfig() (recurrence.EngineConfig, error) {
	loc, err := c.Location()
	if err != nil {
		return recurrence.EngineConfig{}, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return recurrence.EngineConfig{
		Location:       loc,
		Clock:          calendar.SystemClock,
		MaxOccurrences: c.MaxOccurrences,
	}, nil
}

func notEmpty(s string) error {
	if s == "" {
		return errors.New("cannot be empty")
	}
	return nil
}

func (c *Config) validateLimits() error {
	if c.MaxOccurrences < 1 {
		return criterio.NewFieldErrors("max_occurrences", fmt.Errorf("must be at least 1, got %d", c.MaxOccurrences))
	}
	return nil
}

func validTimezone(name string) error {
	if _, err := time.LoadLocation(name); err != nil {
		return fmt.Errorf("unknown timezone %q", name)
	}
	return nil
}

func validLevel(level string) error {
	if _, err := zerolog.ParseLevel(level); err != nil {
		return fmt.Errorf("unknown log level %q", level)
	}
	return nil
}
