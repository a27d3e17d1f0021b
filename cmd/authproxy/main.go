package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrymomot/authproxy/app/authproxy"
	"github.com/dmitrymomot/authproxy/core/config"
	"github.com/dmitrymomot/authproxy/core/logger"
	redisdb "github.com/dmitrymomot/authproxy/integration/database/redis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg authproxy.Config
	config.MustLoad(&cfg)

	mode := logger.WithDevelopment(cfg.AppName)
	if cfg.IsProduction() {
		mode = logger.WithProduction(cfg.AppName)
	}
	log := logger.New(mode, logger.WithLevel(logger.ParseLevel(cfg.LogLevel)))

	if err := run(ctx, cfg, log); err != nil {
		log.Error("authproxy stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg authproxy.Config, log *slog.Logger) error {
	opts := []authproxy.Option{authproxy.WithLogger(log)}

	if cfg.Redis.Enabled() {
		client, err := redisdb.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		opts = append(opts, authproxy.WithRedis(client))
	}

	app, err := authproxy.New(cfg, opts...)
	if err != nil {
		return err
	}

	log.Info("starting authproxy",
		slog.String("addr", cfg.Server.Addr),
		logger.Upstream(cfg.Upstream.BaseURL),
		slog.Bool("redis", cfg.Redis.Enabled()),
	)
	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
