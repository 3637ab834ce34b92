package config

import (
	"time"

	"github.com/vietddude/lambdakit/internal/handlers"
	"github.com/vietddude/lambdakit/internal/infra/awsinfra"
	redisclient "github.com/vietddude/lambdakit/internal/infra/redis"
	"github.com/vietddude/lambdakit/internal/infra/storage/postgres"
	"github.com/vietddude/lambdakit/internal/reliability/batch"
	"github.com/vietddude/lambdakit/internal/reliability/retry"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Logging  LoggingConfig         `yaml:"logging"`
	Server   ServerConfig          `yaml:"server"`
	Trigger  TriggerConfig         `yaml:"trigger"`
	Retry    retry.Config          `yaml:"retry"`
	Batch    batch.Config          `yaml:"batch"`
	AWS      awsinfra.Config       `yaml:"aws"`
	Queue    QueueConfig           `yaml:"queue"`
	Athena   awsinfra.AthenaConfig `yaml:"athena"`
	Relay    handlers.RelayConfig  `yaml:"relay"`
	Redis    redisclient.Config    `yaml:"redis"`
	Database postgres.Config       `yaml:"database"`
}

// ServerConfig holds local HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TriggerType selects the event shape the runtime handler accepts.
type TriggerType string

const (
	TriggerSQS     TriggerType = "sqs"
	TriggerKinesis TriggerType = "kinesis"
)

// TriggerConfig holds invocation settings.
type TriggerConfig struct {
	Type TriggerType `yaml:"type"`
	// Idempotent skips items already completed within IdempotencyTTL (needs redis)
	Idempotent bool `yaml:"idempotent"`
	// RetryHandler retries handler errors marked retryable inside the invocation
	RetryHandler bool `yaml:"retry_handler"`
	// Sources are the event source names reported by health checks
	Sources []string `yaml:"sources"`
}

// QueueConfig holds the output queue settings.
type QueueConfig struct {
	OutputURL string `yaml:"output_url"`
}

// Default idempotency marker lifetime.
const defaultIdempotencyTTL = 24 * time.Hour
