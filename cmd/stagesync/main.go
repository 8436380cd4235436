package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:          "stagesync",
		Short:        "Shared mixed-reality rooms with staged, networked assets",
		SilenceUsage: true,
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVar(&configPath, "config", "stagesync.yaml", "Project config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
	root.AddCommand(initCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(relayCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(roomCmd())
	root.AddCommand(versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
