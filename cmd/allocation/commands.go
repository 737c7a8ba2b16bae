package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/next-trace/scg-allocation/allocation"
	"github.com/next-trace/scg-allocation/bridge"
	"github.com/next-trace/scg-allocation/httpapi"
	"github.com/next-trace/scg-allocation/store/sqlstore"
	"github.com/spf13/cobra"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func apiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, err := setup(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			server, err := httpapi.New(logger, rt.dispatch, rt.store.NewUnitOfWork, httpapi.WithGatherer(rt.registry))
			if err != nil {
				return err
			}

			errc := make(chan error, 1)

			go func() { errc <- server.Start(cfg.HTTPAddr) }()

			logger.Info("server started", "addr", cfg.HTTPAddr, "broker", cfg.Broker)

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}

				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			return server.Shutdown(shutdownCtx)
		},
	}
}

func listenerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listener",
		Short: "Consume inbound channels and dispatch their commands",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, err := setup(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			l, err := bridge.NewListener(rt.channel, rt.dispatch, logger, []bridge.Route{
				{Channel: cfg.Channels.ChangeBatchQuantity, Decode: bridge.JSONDecoder[allocation.ChangeBatchQuantity]()},
			}, bridge.WithPollTimeout(cfg.PollTimeout), bridge.WithListenerMetrics(rt.bridge))
			if err != nil {
				return err
			}

			return l.Run(ctx)
		},
	}
}

func migrateCmd() *cobra.Command {
	var down int

	c := &cobra.Command{
		Use:   "migrate",
		Short: "Apply (or with --down, revert) database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}

			db, err := sqlstore.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer db.Close()

			if down > 0 {
				n, err := sqlstore.MigrateDown(db, down)
				logger.Info("migrations reverted", "count", n)

				return err
			}

			n, err := sqlstore.Migrate(db)
			logger.Info("migrations applied", "count", n)

			return err
		},
	}

	c.Flags().IntVar(&down, "down", 0, "revert this many migrations")

	return c
}
