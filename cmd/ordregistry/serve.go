package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/itsneelabh/ordregistry/core"
	"github.com/itsneelabh/ordregistry/scheduler"
	"github.com/itsneelabh/ordregistry/server"
)

func newServeCmd(c *cli) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the registry HTTP API and its scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx, verbose)
		},
	}
	cmd.Flags().BoolVar(&verbose, "verbose-http", false, "log every HTTP request")
	return cmd
}

func (c *cli) serve(ctx context.Context, verbose bool) error {
	a, err := c.newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.close(context.Background()) }()

	// A failed first build leaves the server up and reporting "starting";
	// the discovery task retries on its own interval.
	if _, err := a.engine.Rebuild(ctx); err != nil {
		a.logger.Warn("Initial registry build failed", map[string]interface{}{
			"operation": "initial_build",
			"error":     err.Error(),
		})
	}

	opts := []server.Option{server.WithLogger(a.logger.With(map[string]interface{}{"component": "http"}))}
	if verbose {
		opts = append(opts, server.WithVerboseLogging())
	}
	if a.telemetry != nil {
		opts = append(opts, server.WithProviders(a.telemetry.TracerProvider(), a.telemetry.MeterProvider()))
	}

	if a.cfg.Schedule.Enabled {
		schedOpts := []scheduler.Option{scheduler.WithLogger(a.logger.With(map[string]interface{}{"component": "scheduler"}))}
		if a.telemetry != nil {
			schedOpts = append(schedOpts, scheduler.WithTelemetry(a.telemetry))
		}
		sch, err := scheduler.ForRegistry(a.engine, a.cfg.Schedule, schedOpts...)
		if err != nil {
			return err
		}
		if err := sch.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = sch.Stop() }()
		opts = append(opts, server.WithScheduler(sch))
	}

	srv := server.New(a.engine, a.cfg.HTTP, opts...)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down", map[string]interface{}{"operation": "shutdown"})
	if err := srv.Shutdown(context.Background()); err != nil {
		if errors.Is(err, core.ErrNotStarted) {
			return nil
		}
		return err
	}
	return <-errCh
}
