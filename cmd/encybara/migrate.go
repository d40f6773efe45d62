package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/quyetvm183/Encybara/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE:  runMigrate,
}

var seedCmd = &cobra.Command{
	Use:   "seed-catalog",
	Short: "Load catalog and learner seed files into the store",
	RunE:  runSeed,
}

var seedDir string

func init() {
	seedCmd.Flags().StringVarP(&seedDir, "dir", "d", "", "Seed directory (default: CATALOG_SEED_DIR)")
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}

func runMigrate(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg := appConfig

	// Opening the store applies its schema
	repo, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer repo.Close()

	slog.Info("migrations applied", "driver", cfg.Database.Driver)
	return nil
}

func runSeed(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	a, err := newApp(ctx, appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Database.Driver == config.DriverMemory {
		return fmt.Errorf("seed-catalog needs a persistent store, the memory driver is seeded at startup")
	}

	if seedDir != "" {
		a.cfg.Catalog.SeedDir = seedDir
	}

	if err := a.seed(ctx); err != nil {
		return err
	}

	// Cached catalog entries are stale after a reseed
	if a.cache != nil {
		if err := a.cache.BeginCycle(ctx); err != nil {
			slog.Warn("failed to invalidate catalog cache", "error", err)
		}
	}

	return nil
}
