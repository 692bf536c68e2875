// Package conf loads runtime configuration from environment variables.
package conf

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Environment carries every tunable the orchestrator reads at startup.
type Environment struct {
	InstanceName string `env:"INSTANCE_NAME" envDefault:"orchestrator"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty    bool   `env:"LOG_PRETTY" envDefault:"false"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	RetryQueueName string        `env:"RETRY_QUEUE_NAME" envDefault:"payments:queue:retry"`
	RetryWorkers   int           `env:"RETRY_WORKERS" envDefault:"4"`
	RetryDelay     time.Duration `env:"RETRY_DELAY" envDefault:"15s"`

	MetricsCapacity  int           `env:"METRICS_CAPACITY" envDefault:"1000"`
	FailureThreshold int           `env:"FAILURE_THRESHOLD" envDefault:"5"`
	RecoveryTimeout  time.Duration `env:"RECOVERY_TIMEOUT" envDefault:"60s"`
}

func Load() (*Environment, error) {
	cfg := &Environment{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}
