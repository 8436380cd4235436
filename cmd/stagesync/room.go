package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"stagesync/internal/roomstate"
)

func roomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Inspect the room object map",
	}
	cmd.AddCommand(roomHandlesCmd())
	cmd.AddCommand(roomClearCmd())
	return cmd
}

func roomHandlesCmd() *cobra.Command {
	var room string
	cmd := &cobra.Command{
		Use:   "handles",
		Short: "List the object handles assigned in a room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoomHandles(room)
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "Room to inspect (defaults to the configured room)")
	return cmd
}

func runRoomHandles(room string) error {
	ctx := context.Background()

	cfg, _, err := loadProject()
	if err != nil {
		return err
	}
	if room == "" {
		room = cfg.Room
	}

	db, err := openStore(ctx, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer db.Close(ctx)

	entries, err := db.List(ctx, room)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stdout, "No handles found.")
		return nil
	}
	for _, entry := range entries {
		assetID, ok := roomstate.AssetFromKey(entry.Key)
		if !ok {
			continue
		}
		fmt.Fprintf(os.Stdout, "%s -> %s (%s)\n", assetID, entry.Value, entry.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func roomClearCmd() *cobra.Command {
	var room string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget every handle assigned in a room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoomClear(room)
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "Room to clear (defaults to the configured room)")
	return cmd
}

func runRoomClear(room string) error {
	ctx := context.Background()

	cfg, logger, err := loadProject()
	if err != nil {
		return err
	}
	if room == "" {
		room = cfg.Room
	}

	db, err := openStore(ctx, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer db.Close(ctx)

	removed, err := db.ClearRoom(ctx, room)
	if err != nil {
		return err
	}
	logger.Info("room cleared", "room", room, "removed", removed)
	fmt.Fprintf(os.Stdout, "Removed %d entries from %s.\n", removed, room)
	return nil
}
