package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/sydlexius/contentguard/internal/api"
	"github.com/sydlexius/contentguard/internal/config"
	"github.com/sydlexius/contentguard/internal/ratelimit"
	"github.com/sydlexius/contentguard/internal/scheduler"
	"github.com/sydlexius/contentguard/internal/version"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a, flags.configPath)
		},
	}
}

func serve(ctx context.Context, a *app, configPath string) error {
	cfg, logger := a.cfg, a.logger
	logger.Info("starting contentguard",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
	)

	// Logging changes apply live; everything else needs a restart.
	watcher := config.NewWatcher(configPath, func(next *config.Config) {
		a.logManager.Reconfigure(next.Logging)
		logger.Info("configuration reloaded", slog.String("logging", next.Logging.String()))
	}, logger)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Warn("config watcher stopped", slog.String("error", err.Error()))
		}
	}()

	bus, stopEvents, err := a.startEvents()
	if err != nil {
		return err
	}
	defer stopEvents()

	orchestrator, err := a.newOrchestrator(ctx, bus)
	if err != nil {
		return err
	}

	limiter, limiterSweep, err := newLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(scheduler.Deps{
			Scanner:      orchestrator,
			Content:      a.contents,
			Cache:        a.cache,
			Maintenance:  a.maintenance,
			Backups:      a.backups,
			LimiterSweep: limiterSweep,
			Events:       bus,
			Logger:       logger,
			BatchSize:    cfg.Scheduler.ScanBatchSize,
		})
		err := sched.Start(ctx, scheduler.Specs{
			Scans:       cfg.Scheduler.ScanSpec,
			CacheSweep:  cfg.Scheduler.CacheSpec,
			Maintenance: cfg.Scheduler.MaintenanceSpec,
			Limiter:     cfg.Scheduler.LimiterSpec,
			Backup:      cfg.Scheduler.BackupSpec,
		})
		if err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		defer sched.Stop()
	} else if mem, ok := limiter.(*ratelimit.MemoryLimiter); ok {
		mem.StartSweeper(ctx, cfg.RateLimit.SweepInterval, logger)
	}

	router := api.NewRouter(api.RouterDeps{
		Scanner:       orchestrator,
		Contents:      a.contents,
		Infringements: a.infringements,
		Jobs:          a.jobs,
		Cache:         a.cache,
		Maintenance:   a.maintenance,
		Limiter:       limiter,
		Metrics:       a.metrics,
		Logger:        logger,
		CronSecret:    cfg.Server.CronSecret,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newLimiter builds the configured rate limiter. The returned sweep function
// is nil for the redis backend, where keys expire on their own.
func newLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ratelimit.Limiter, func() int, error) {
	overrides := cfg.RateLimit.CategoryLimits()
	if cfg.RateLimit.Backend != config.BackendRedis {
		mem := ratelimit.NewMemoryLimiter(overrides)
		return mem, mem.Sweep, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Address, err)
	}
	context.AfterFunc(ctx, func() { _ = client.Close() })
	logger.Info("using redis rate limiter", slog.String("addr", cfg.Redis.Address))
	return ratelimit.NewRedisLimiter(client, cfg.Redis.Prefix, overrides), nil, nil
}
