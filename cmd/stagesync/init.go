package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

const catalogTemplate = `version: 1
asset_types:
  - name: door
    components: [transform, visibility]
    properties:
      - name: locked
        type: bool
        default: true
        editable: true
  - name: sign
    components: [transform, label]
`

const scenarioTemplate = `version: 1
stages:
  - id: intro
    title: Introduction
  - id: outro
    title: Wrap-up
assets:
  - id: front-door
    type: door
    authority:
      policy: open
    values:
      position: { x: 0, y: 0, z: 2 }
    overrides:
      outro:
        locked: false
  - id: welcome
    type: sign
    authority:
      policy: session_owner_only
    values:
      text: Welcome
`

func initCmd() *cobra.Command {
	var projectName string
	var room string
	var dir string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a new stagesync project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(projectName) == "" {
				return fmt.Errorf("--name is required")
			}
			if strings.TrimSpace(room) == "" {
				room = projectName
			}
			return runInit(dir, projectName, room)
		},
	}
	cmd.Flags().StringVar(&projectName, "name", "", "Project name")
	cmd.Flags().StringVar(&room, "room", "", "Room to join (defaults to the project name)")
	cmd.Flags().StringVar(&dir, "dir", ".", "Directory to write the project into")
	return cmd
}

func runInit(dir, projectName, room string) error {
	files := []struct {
		name     string
		contents string
	}{
		{"stagesync.yaml", fmt.Sprintf("project: %s\nversion: 1\nroom: %s\n\nrelay:\n  url: ws://localhost:7400/room\n  listen: \":7400\"\n\nstore:\n  dsn: sqlite://stagesync.db\n\nnetwork:\n  tick_interval: 50ms\n  grace_ticks: 2\n  fail_closed: true\n\nlog:\n  level: info\n  format: text\n", projectName, room)},
		{"catalog.yaml", catalogTemplate},
		{"scenario.yaml", scenarioTemplate},
	}
	for _, file := range files {
		path := filepath.Join(dir, file.name)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	for _, file := range files {
		path := filepath.Join(dir, file.name)
		if err := os.WriteFile(path, []byte(file.contents), 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}
