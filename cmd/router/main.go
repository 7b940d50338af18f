// The router service drains the global job inbox and dispatches jobs to
// per-agent queues.
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
	"github.com/taskmesh/taskmesh/metrics"
	"github.com/taskmesh/taskmesh/queue"
	"github.com/taskmesh/taskmesh/router"
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
		Component: "router",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Migrate(cfg.PostgresDSN); err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}

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

	var recorder metrics.Recorder = metrics.NoOpRecorder{}
	if cfg.MetricsAddr != "" {
		recorder = metrics.NewPrometheusRecorder()
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				log.Error("metrics listener failed", "error", err)
			}
		}()
	}

	r := router.New(store.NewPostgres(pool), queue.NewRedis(rdb),
		func(o *router.Options) {
			o.PollTimeout = cfg.RouterPollTimeout
			o.Logger = log
			o.Metrics = recorder
		})

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("router exited", "error", err)
		os.Exit(1)
	}
}
