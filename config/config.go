// Package config loads service configuration from the environment. All three
// services (router, worker, sweeper) share one schema; each reads the subset
// it needs.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the environment-driven service configuration.
type Config struct {
	// Shared infrastructure.
	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Observability.
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
	MetricsAddr string `env:"METRICS_ADDR"`

	// Router.
	RouterPollTimeout time.Duration `env:"ROUTER_POLL_TIMEOUT" envDefault:"1s"`

	// Worker identity. AgentID is required for workers only.
	AgentID       int64  `env:"AGENT_ID"`
	AgentName     string `env:"AGENT_NAME"`
	AgentProvider string `env:"AGENT_PROVIDER" envDefault:"anthropic"`
	AgentModel    string `env:"AGENT_MODEL"`

	// Worker execution.
	PollInterval         time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	MaxIterations        int           `env:"MAX_ITERATIONS" envDefault:"20"`
	OutputTruncateLength int           `env:"OUTPUT_TRUNCATE_LENGTH" envDefault:"5000"`
	SandboxWorkdir       string        `env:"SANDBOX_WORKDIR" envDefault:"/tmp/taskmesh-workspace"`

	// Failure recovery.
	BaseRetryDelay          time.Duration `env:"BASE_RETRY_DELAY" envDefault:"60s"`
	SweeperPollInterval     time.Duration `env:"SWEEPER_POLL_INTERVAL" envDefault:"5s"`
	BreakerFailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	BreakerTimeout          time.Duration `env:"BREAKER_TIMEOUT" envDefault:"60s"`
}

// Load parses the configuration from the environment.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}
