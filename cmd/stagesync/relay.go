package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"stagesync/internal/relay"
	"stagesync/internal/telemetry"
)

const defaultRelayListen = ":7400"

func relayCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the room relay over websockets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Address to listen on (defaults to relay.listen or :7400)")
	return cmd
}

func runRelay(listen string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadProject()
	if err != nil {
		return err
	}
	if listen == "" {
		listen = cfg.Relay.Listen
	}
	if listen == "" {
		listen = defaultRelayListen
	}

	db, err := openStore(ctx, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer db.Close(context.Background())

	mux := http.NewServeMux()
	mux.Handle("/room", relay.NewServer(db, logger))
	if cfg.Metrics.Listen == "" {
		mux.Handle("/metrics", telemetry.Handler())
	}

	servers := []*http.Server{{Addr: listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}}
	if cfg.Metrics.Listen != "" {
		servers = append(servers, metricsServer(cfg.Metrics.Listen))
	}

	group, ctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		group.Go(func() error {
			logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	return group.Wait()
}

func metricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
}
