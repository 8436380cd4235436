package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"stagesync/internal/config"
	"stagesync/internal/mcp"
	"stagesync/internal/netid"
	"stagesync/internal/network"
	"stagesync/internal/relay"
	"stagesync/internal/scenario"
	"stagesync/internal/session"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Join the room, load the scenario and serve MCP over stdio",
		RunE:  runServe,
	}
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadProject()
	if err != nil {
		return err
	}
	if cfg.Relay.URL == "" {
		return fmt.Errorf("relay.url is required to join a room")
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	sc, err := config.LoadScenario(cfg.ScenarioPath())
	if err != nil {
		return err
	}

	participant := netid.Participant(cfg.Participant)
	if participant == "" {
		participant = netid.NewParticipant()
	}
	client, err := relay.Dial(ctx, cfg.Relay.URL, cfg.Room, participant, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	sess := session.New(client, reg, session.Options{
		Network: network.Options{
			GraceWindow: cfg.GraceWindow(),
			FailClosed:  cfg.FailClosed(),
		},
		Stages: sc.StageIDs(),
		Logger: logger,
	})

	result, err := scenario.Load(ctx, sc, sess)
	if err != nil {
		return err
	}
	for _, loadErr := range result.Errors {
		logger.Warn("scenario asset skipped", "err", loadErr)
	}
	logger.Info("scenario loaded",
		"assets", result.AssetsLoaded,
		"skipped", result.AssetsSkipped,
		"values", result.ValuesApplied,
		"overrides", result.OverridesApplied,
	)

	loop := session.NewLoop(sess, cfg.Network.TickInterval)
	server := mcp.NewServer(loop, version)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, runCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return loop.Run(runCtx)
	})
	group.Go(func() error {
		defer cancel()
		if err := server.Run(runCtx, &sdk.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if cfg.Metrics.Listen != "" {
		srv := metricsServer(cfg.Metrics.Listen)
		group.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	err = group.Wait()

	if leaveErr := sess.Leave(); leaveErr != nil {
		logger.Warn("leave room", "err", leaveErr)
	}
	return err
}
