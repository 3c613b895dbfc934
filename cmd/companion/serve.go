package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-companion/pkg/config"
	"github.com/polisai/polis-companion/pkg/server"
	"github.com/polisai/polis-companion/pkg/storage"
	"github.com/polisai/polis-companion/pkg/telemetry"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API and web page",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "Listen address, overrides server.addr")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	cfg, logger := rt.cfg, rt.logger

	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if cfg.Provider.APIKey == "" {
		logger.Warn("No provider API key configured; chat requests will fail until one is set")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, cfg.TelemetryOptions())
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Error("Telemetry shutdown failed", "error", err)
		}
	}()

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics := telemetry.NewMetrics()
	gov, err := buildGovernor(cfg, logger, metrics)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Governor:     gov,
		Store:        store,
		Metrics:      metrics,
		Logger:       logger,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})
	if err != nil {
		return err
	}

	if rt.loader.Path() != "" {
		err := rt.loader.Watch(func(next *config.Config) {
			if err := gov.Configure(next.Policy()); err != nil {
				logger.Error("Rejected reloaded governor policy", "error", err)
			}
		})
		if err != nil {
			logger.Warn("Config hot reload disabled", "error", err)
		}
		defer rt.loader.Close()
	}

	if err := srv.Start(cfg.Server.Addr); err != nil {
		return err
	}
	logger.Info("Starting companion",
		"addr", srv.Addr(),
		"model", cfg.Provider.Model,
		"storage", cfg.Storage.Driver,
		"rate_limit", cfg.Governor.RateLimit,
		"rate_window", cfg.Governor.RateWindow,
	)

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
		return err
	}
	return nil
}
