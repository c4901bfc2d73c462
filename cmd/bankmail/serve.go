package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/bankmail/internal/daemon"
	"github.com/ArionMiles/bankmail/internal/httpapi"
	"github.com/ArionMiles/bankmail/pkg/api"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	var origins []string
	var noAutoSync bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background auto-sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, origins, !noAutoSync)
		},
	}

	cmd.Flags().StringSliceVar(&origins, "allowed-origin", nil, "CORS origin allowed to call the API (repeatable)")
	cmd.Flags().BoolVar(&noAutoSync, "no-auto-sync", false, "disable the periodic background sync")
	return cmd
}

func runServe(ctx context.Context, origins []string, autoSync bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.openStore(ctx); err != nil {
		return err
	}
	defer a.close()

	// The API still serves configs and expenses without a source; syncs that
	// need one report the source as unavailable.
	var src api.EmailSource
	if s, err := a.source(ctx, ""); err != nil {
		a.logger.Error("email source unavailable", "source", a.cfg.Source, "error", err)
	} else {
		src = s
	}

	orch, err := a.syncer(src)
	if err != nil {
		return fmt.Errorf("creating syncer: %w", err)
	}

	server := httpapi.NewServer(httpapi.Config{
		Addr:           a.cfg.HTTPAddr,
		AllowedOrigins: origins,
		Location:       a.cfg.Location(),
	}, httpapi.Deps{
		Configs:  a.store,
		Expenses: a.store,
		Engine:   a.engine,
		Syncer:   orch,
	}, a.logger)

	errCh := make(chan error, 2)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	if autoSync && src != nil {
		runner := daemon.New(orch, a.store, daemon.Config{
			Interval: a.cfg.AutoSyncInterval,
			Location: a.cfg.Location(),
		}, a.logger)
		go func() {
			if err := runner.Run(ctx); err != nil {
				errCh <- fmt.Errorf("auto-sync: %w", err)
			}
		}()
	}

	a.logger.Info("bankmail started", "addr", a.cfg.HTTPAddr, "store", a.cfg.Store, "source", a.cfg.Source)

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case runErr = <-errCh:
		a.logger.Error("stopping after failure", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}
	return runErr
}
