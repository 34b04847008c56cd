package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/garnizeh/mockprep/api"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var withWorkers bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, optionally with in-process workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts, withWorkers)
		},
	}
	cmd.Flags().BoolVar(&withWorkers, "workers", true, "also run the processing workers in this process")
	return cmd
}

func serve(parent context.Context, opts *rootOptions, withWorkers bool) error {
	cfg, logger := opts.cfg, opts.logger
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("starting mockprep", slog.String("version", version), slog.String("build_time", buildTime))

	workersDone := make(chan error, 1)
	if withWorkers {
		go func() { workersDone <- a.runWorkers(ctx) }()
	} else {
		close(workersDone)
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.SetupRoutes(cfg, version, buildTime, a.svc, a.repo, a.db),
		ReadHeaderTimeout: 10 * time.Second,
		// uploads stream for longer than ordinary requests
		ReadTimeout:  cfg.APITimeout + 10*time.Minute,
		WriteTimeout: cfg.APITimeout + 10*time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			stop()
			<-workersDone
			return err
		}
	}
	logger.Info("shutting down server")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", slog.Any("err", err))
	}

	if err := <-workersDone; err != nil {
		logger.Error("workers stopped", slog.Any("err", err))
	}
	logger.Info("server exited")
	return nil
}
