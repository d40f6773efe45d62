package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quyetvm183/Encybara/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the operator API and the scheduled bulk refresh",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	a, err := newApp(initCtx, appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	slog.Info("starting encybara",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"refresh_interval", cfg.Refresh.Interval,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start bulk refresh worker
	a.scheduler.Start(ctx)

	server := api.NewServer(cfg.Server, api.Deps{
		Scheduler:    a.scheduler,
		Orchestrator: a.orchestrator,
		Profiles:     a.repo,
		Enrollments:  a.repo,
		Catalog:      a.catalog,
		Health:       a.health,
		Clients:      a.apiClients(),
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("HTTP server error: %w", err)
	}

	slog.Info("shutting down gracefully...")

	// Cancel context to stop background workers
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("encybara stopped")
	return nil
}
