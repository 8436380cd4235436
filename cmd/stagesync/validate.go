package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"stagesync/internal/config"
	"stagesync/internal/store"
	"stagesync/internal/validate"
)

func validateCmd() *cobra.Command {
	var checkRoom bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the scenario against the asset catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, checkRoom)
		},
	}
	cmd.Flags().BoolVar(&checkRoom, "check-room", false, "Also report room handles no scenario asset claims")
	return cmd
}

func runValidate(cmd *cobra.Command, checkRoom bool) error {
	ctx := context.Background()

	cfg, _, err := loadProject()
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	scenario, err := config.LoadScenario(cfg.ScenarioPath())
	if err != nil {
		return err
	}

	var room validate.RoomLister
	if checkRoom {
		db, err := openStore(ctx, cfg.Store.DSN)
		if err != nil {
			return err
		}
		defer db.Close(ctx)
		room = store.Room(db, cfg.Room)
	}

	report, err := validate.Run(ctx, reg, scenario, room)
	if err != nil {
		return err
	}

	var errorIssues []validate.Issue
	var warnIssues []validate.Issue
	for _, issue := range report.Issues {
		switch issue.Severity {
		case validate.SeverityError:
			errorIssues = append(errorIssues, issue)
		case validate.SeverityWarn:
			warnIssues = append(warnIssues, issue)
		}
	}

	if len(errorIssues) == 0 && len(warnIssues) == 0 {
		fmt.Fprintln(os.Stdout, "No issues found.")
		return nil
	}

	if len(errorIssues) > 0 {
		fmt.Fprintf(os.Stdout, "Errors (%d):\n", len(errorIssues))
		printIssues(os.Stdout, errorIssues)
	}
	if len(warnIssues) > 0 {
		if len(errorIssues) > 0 {
			fmt.Fprintln(os.Stdout, "")
		}
		fmt.Fprintf(os.Stdout, "Warnings (%d):\n", len(warnIssues))
		printIssues(os.Stdout, warnIssues)
	}

	if report.HasErrors() {
		return fmt.Errorf("validation found errors")
	}
	return nil
}

func printIssues(out io.Writer, issues []validate.Issue) {
	for _, issue := range issues {
		location := issue.Asset
		if issue.Stage != "" {
			location = fmt.Sprintf("%s [%s]", location, issue.Stage)
		}
		if issue.Property != "" {
			location = fmt.Sprintf("%s.%s", location, issue.Property)
		}
		fmt.Fprintf(out, "  - %s: %s (%s)\n", location, issue.Message, issue.Code)
	}
}
