package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/stockbook/stockbook/internal/app"
	"github.com/stockbook/stockbook/internal/cli"
	"github.com/stockbook/stockbook/internal/platform/cache"
	"github.com/stockbook/stockbook/internal/platform/db"
	"github.com/stockbook/stockbook/jobs"
	"github.com/stockbook/stockbook/migrations"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cli.NewRootCommand(open).ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stockctl: %v\n", err)
	}
	stop()
	os.Exit(cli.ExitCode(err))
}

func open(ctx context.Context) (*cli.Runtime, func(), error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := app.NewLogger(cfg).With(slog.String("component", "stockctl"))

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	services, err := app.NewServices(app.Deps{Config: cfg, Logger: logger, Pool: pool, Redis: redisClient})
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, nil, err
	}
	queue := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})

	release := func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
		pool.Close()
	}
	return &cli.Runtime{
		Backup:      services.Backup,
		Maintenance: services.Backfill,
		Jobs:        queue,
		Migrate: func(ctx context.Context) ([]string, error) {
			return db.Migrate(ctx, pool, migrations.Files)
		},
	}, release, nil
}
