package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/playperu/stamprally/internal/app"
	"github.com/playperu/stamprally/internal/catalog"
	"github.com/playperu/stamprally/internal/config"
	"github.com/playperu/stamprally/internal/database"
	"github.com/playperu/stamprally/internal/handler/health"
	"github.com/playperu/stamprally/internal/migrations"
	"github.com/playperu/stamprally/internal/sampler"
	"github.com/playperu/stamprally/internal/server"
	"github.com/playperu/stamprally/internal/stamps"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	logger.Info("loaded catalog", "path", cfg.CatalogPath, "spots", cat.Len())

	checks := make(map[string]health.Checker)
	var backend stamps.Backend

	switch cfg.StoreBackend {
	case config.BackendRedis:
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		logger.Info("connected to redis")

		backend = stamps.NewRedisBackend(rdb)
		checks["redis"] = health.CheckerFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})

	default:
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := database.Open(ctx, cfg.DBPath)
		if err != nil {
			return fmt.Errorf("connecting to sqlite: %w", err)
		}
		defer db.Close()

		applied, err := migrations.Run(ctx, db)
		if err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("connected to sqlite", "path", cfg.DBPath, "migrations_applied", applied)

		backend = stamps.NewSQLiteBackend(db)
		checks["sqlite"] = health.Ping(db)
	}

	opts := app.DefaultOptions()
	opts.SampleCount = cfg.SampleCount
	opts.SampleInterval = cfg.SampleInterval
	opts.Sampler = sampler.Options{
		Timeout:          cfg.AttemptTimeout,
		Grace:            cfg.AttemptGrace,
		StrictPermission: cfg.StrictPermission,
	}

	broker := server.NewBroker()
	players := server.NewRegistry(cat, backend, opts, broker, logger)
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		Catalog: cat,
		Players: players,
		Broker:  broker,
		Checks:  checks,
		SPADir:  cfg.SPADir,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr, "store", cfg.StoreBackend)
		return srv.Run(gctx)
	})

	if cfg.PlayerIdleTTL > 0 {
		g.Go(func() error {
			return players.Run(gctx, min(cfg.PlayerIdleTTL, time.Minute), cfg.PlayerIdleTTL)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}
