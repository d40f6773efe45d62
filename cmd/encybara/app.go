package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/quyetvm183/Encybara/internal/cache"
	"github.com/quyetvm183/Encybara/internal/catalog"
	"github.com/quyetvm183/Encybara/internal/config"
	"github.com/quyetvm183/Encybara/internal/enrollment"
	"github.com/quyetvm183/Encybara/internal/health"
	"github.com/quyetvm183/Encybara/internal/models"
	"github.com/quyetvm183/Encybara/internal/recommend"
	"github.com/quyetvm183/Encybara/internal/refresh"
	"github.com/quyetvm183/Encybara/internal/storage"
)

// app is the wired recommendation pipeline shared by every command
type app struct {
	cfg          *config.Config
	repo         storage.Repository
	catalog      storage.CatalogStore
	cache        *cache.CatalogCache
	health       *health.Registry
	orchestrator *recommend.Orchestrator
	materializer *enrollment.Materializer
	scheduler    *refresh.Scheduler
}

// setupLogging installs the default slog handler for the configured level and format
func setupLogging(cfg config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// openStore connects to the configured backend
func openStore(ctx context.Context, cfg config.DatabaseConfig) (storage.Repository, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		slog.Info("running database migrations")
		if err := storage.MigrateFromDSN(ctx, cfg.DSN); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:          cfg.DSN,
			MaxOpenConns: int32(cfg.MaxOpenConns),
			MaxIdleConns: int32(cfg.MaxIdleConns),
			MaxLifetime:  cfg.MaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create database repository: %w", err)
		}
		return repo, nil

	case config.DriverSQLite:
		repo, err := storage.NewSQLiteRepository(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return repo, nil

	case config.DriverMemory:
		return storage.NewMemoryRepository(), nil
	}

	return nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
}

// newApp wires the pipeline from a loaded configuration
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	repo, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	slog.Info("store connected", "driver", cfg.Database.Driver)

	a := &app{cfg: cfg, repo: repo, catalog: repo, health: health.NewRegistry()}
	a.health.Register("store", health.CheckFunc(repo.Ping))

	if cfg.Database.Driver == config.DriverMemory {
		if err := a.seed(ctx); err != nil {
			slog.Warn("failed to seed in-memory store", "dir", cfg.Catalog.SeedDir, "error", err)
		}
	}

	var schedulerOpts []refresh.Option
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			// The cache is optional; reads fall through to the store
			slog.Warn("catalog cache disabled", "address", cfg.Redis.Address, "error", err)
		} else {
			a.cache = cache.NewCatalogCache(repo, client, cfg.Redis.TTL)
			a.catalog = a.cache
			schedulerOpts = append(schedulerOpts, refresh.WithCycleHook(a.cache))
			a.health.RegisterOptional("catalog_cache", a.cache)
			slog.Info("catalog cache enabled", "address", cfg.Redis.Address)
		}
	}

	a.orchestrator = recommend.NewOrchestrator(a.catalog, repo,
		recommend.WithCompletionWindow(cfg.Refresh.CompletionWindow),
	)

	a.materializer = enrollment.NewMaterializer(repo,
		enrollment.WithLimit(cfg.Refresh.ProgressiveLimit),
		enrollment.WithRetryPolicy(enrollment.RetryPolicy{
			MaxAttempts: cfg.Refresh.RetryAttempts,
			Backoff:     enrollment.LinearBackoff(cfg.Refresh.RetryBackoff),
		}),
	)

	schedulerOpts = append(schedulerOpts,
		refresh.WithInterval(cfg.Refresh.Interval),
		refresh.WithRunOnStart(cfg.Refresh.RunOnStart),
	)
	a.scheduler = refresh.NewScheduler(repo, repo, a.orchestrator, a.materializer, schedulerOpts...)

	return a, nil
}

// seed loads the catalog seed directory into the store
func (a *app) seed(ctx context.Context) error {
	loader := catalog.NewLoader()
	if err := loader.LoadFromDir(a.cfg.Catalog.SeedDir); err != nil {
		return err
	}

	courses, learners, err := loader.Apply(ctx, a.repo, a.repo)
	if err != nil {
		return fmt.Errorf("failed to apply seed: %w", err)
	}

	slog.Info("catalog seeded", "courses", courses, "learners", learners)
	return nil
}

// apiClients builds operator credentials from configuration
func (a *app) apiClients() []*models.ApiClient {
	return []*models.ApiClient{
		{Name: "admin", ApiKey: a.cfg.Admin.APIKey, Permissions: []string{"*"}},
		{
			Name:        "readonly",
			ApiKey:      a.cfg.Admin.ReadOnlyAPIKey,
			Permissions: []string{models.PermRecommendationsRead, models.PermCoursesRead},
		},
	}
}

func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Error("cache close error", "error", err)
		}
	}
	if err := a.repo.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}
}
