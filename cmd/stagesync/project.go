package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"stagesync/internal/components"
	"stagesync/internal/config"
	"stagesync/internal/registry"
)

// loadProject reads the project config and builds the process logger from
// it. Logs go to stderr; stdout belongs to command output and MCP.
func loadProject() (*config.ProjectConfig, *slog.Logger, error) {
	cfg, err := config.LoadProjectConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

// loadRegistry registers the built-in components and every asset type of
// the project's catalog.
func loadRegistry(cfg *config.ProjectConfig) (*registry.Registry, error) {
	catalog, err := config.LoadCatalog(cfg.CatalogPath())
	if err != nil {
		return nil, err
	}
	reg := registry.New()
	if err := components.Register(reg); err != nil {
		return nil, err
	}
	if err := reg.LoadCatalog(catalog); err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	return reg, nil
}
