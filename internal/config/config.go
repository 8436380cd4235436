package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTickInterval = 50 * time.Millisecond
	DefaultGraceTicks   = 2
	DefaultStoreDSN     = "memory://"
)

type ProjectConfig struct {
	Project     string        `yaml:"project"`
	Version     int           `yaml:"version"`
	Participant string        `yaml:"participant" env:"STAGESYNC_PARTICIPANT"`
	Room        string        `yaml:"room" env:"STAGESYNC_ROOM"`
	Catalog     string        `yaml:"catalog"`
	Scenario    string        `yaml:"scenario"`
	Relay       RelayConfig   `yaml:"relay"`
	Store       StoreConfig   `yaml:"store"`
	Network     NetworkConfig `yaml:"network"`
	Log         LogConfig     `yaml:"log"`
	Metrics     MetricsConfig `yaml:"metrics"`

	dir string
}

type RelayConfig struct {
	URL    string `yaml:"url" env:"STAGESYNC_RELAY_URL"`
	Listen string `yaml:"listen"`
}

type StoreConfig struct {
	DSN string `yaml:"dsn" env:"STAGESYNC_STORE_DSN"`
}

type NetworkConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	GraceTicks   int           `yaml:"grace_ticks"`
	// FailClosed rejects local writes the authority policy forbids instead
	// of leaving them proposed.
	FailClosed *bool `yaml:"fail_closed"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"STAGESYNC_LOG_LEVEL"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

func LoadProjectConfig(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}
	cfg.dir = filepath.Dir(path)
	applyDefaults(&cfg)

	if err := ParseEnv(&cfg); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	if err := validateProjectConfig(&cfg); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	return &cfg, nil
}

// ParseEnv overlays environment variables on target. Only variables that are
// set replace existing values.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func applyDefaults(cfg *ProjectConfig) {
	if cfg.Catalog == "" {
		cfg.Catalog = "catalog.yaml"
	}
	if cfg.Scenario == "" {
		cfg.Scenario = "scenario.yaml"
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = DefaultStoreDSN
	}
	if cfg.Network.TickInterval == 0 {
		cfg.Network.TickInterval = DefaultTickInterval
	}
	if cfg.Network.GraceTicks == 0 {
		cfg.Network.GraceTicks = DefaultGraceTicks
	}
	if cfg.Network.FailClosed == nil {
		failClosed := true
		cfg.Network.FailClosed = &failClosed
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func validateProjectConfig(cfg *ProjectConfig) error {
	if strings.TrimSpace(cfg.Project) == "" {
		return fmt.Errorf("project name is required")
	}
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported version: %d", cfg.Version)
	}
	if strings.TrimSpace(cfg.Room) == "" {
		return fmt.Errorf("room is required")
	}
	if cfg.Network.TickInterval < 0 {
		return fmt.Errorf("network tick_interval must be positive")
	}
	if cfg.Network.GraceTicks < 0 {
		return fmt.Errorf("network grace_ticks must not be negative")
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %s", cfg.Log.Format)
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", cfg.Log.Level)
	}
	return nil
}

// GraceWindow is how long outbound replication of interpolated properties
// stays suppressed after ownership arrives by transfer.
func (c *ProjectConfig) GraceWindow() time.Duration {
	return time.Duration(c.Network.GraceTicks) * c.Network.TickInterval
}

func (c *ProjectConfig) FailClosed() bool {
	return c.Network.FailClosed == nil || *c.Network.FailClosed
}

func (c *ProjectConfig) CatalogPath() string {
	return c.resolve(c.Catalog)
}

func (c *ProjectConfig) ScenarioPath() string {
	return c.resolve(c.Scenario)
}

func (c *ProjectConfig) resolve(path string) string {
	if filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}
