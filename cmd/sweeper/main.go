// The sweeper service drains the retry queue, returning jobs whose backoff
// has elapsed to the global inbox.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/taskmesh/taskmesh/config"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/queue"
	"github.com/taskmesh/taskmesh/recovery"
	"github.com/taskmesh/taskmesh/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.NewLogger(logging.DefaultConfig()).Error("config load failed", "error", err)
		os.Exit(1)
	}

	log := logging.NewLogger(logging.Config{
		Level:     logging.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: "sweeper",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	s := recovery.NewSweeper(store.NewPostgres(pool), queue.NewRedis(rdb),
		func(o *recovery.SweeperOptions) {
			o.PollInterval = cfg.SweeperPollInterval
			o.Logger = log
		})

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("sweeper exited", "error", err)
		os.Exit(1)
	}
}
