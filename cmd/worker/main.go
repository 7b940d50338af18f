// The worker service executes jobs for one agent identity: it drains the
// agent's private queue, runs each job through the bounded execution loop and
// reports outcomes back to the record store.
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
	"github.com/taskmesh/taskmesh/recovery"
	"github.com/taskmesh/taskmesh/sandbox"
	"github.com/taskmesh/taskmesh/store"
	"github.com/taskmesh/taskmesh/worker"
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
		Component: "worker",
	})

	if cfg.AgentID == 0 {
		log.Error("AGENT_ID is required for workers")
		os.Exit(1)
	}

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

	var recorder metrics.Recorder = metrics.NoOpRecorder{}
	if cfg.MetricsAddr != "" {
		recorder = metrics.NewPrometheusRecorder()
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				log.Error("metrics listener failed", "error", err)
			}
		}()
	}

	st := store.NewPostgres(pool)
	q := queue.NewRedis(rdb)

	breaker := recovery.NewBreaker(recovery.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Timeout:          cfg.BreakerTimeout,
		OnStateChange: func(_, to recovery.BreakerState) {
			recorder.SetBreakerState("backend", int(to))
		},
	})

	rm := recovery.NewManager(st, q, func(o *recovery.ManagerOptions) {
		o.Policy = recovery.NewPolicy(cfg.BaseRetryDelay)
		o.Logger = logging.WithComponent(log, "recovery")
		o.Metrics = recorder
	})

	w := worker.New(cfg.AgentID, st, q, rm, sandbox.NewLocal(cfg.SandboxWorkdir),
		func(o *worker.Options) {
			o.PollTimeout = cfg.PollInterval
			o.HeartbeatInterval = cfg.HeartbeatInterval
			o.MaxIterations = cfg.MaxIterations
			o.TruncateLength = cfg.OutputTruncateLength
			o.Workdir = cfg.SandboxWorkdir
			o.Breaker = breaker
			o.Logger = log
			o.Metrics = recorder
		})

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker exited", "error", err)
		os.Exit(1)
	}
}
