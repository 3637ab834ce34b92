package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/lambdakit/internal/reliability/retry"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expands ${ENV} references and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	var cfg AppConfig
	cfg.applyDefaults()
	return &cfg
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Trigger.Type == "" {
		c.Trigger.Type = TriggerSQS
	}
	if c.AWS.Region == "" {
		c.AWS.Region = os.Getenv("AWS_REGION")
	}
	if c.Redis.IdempotencyTTL == 0 {
		c.Redis.IdempotencyTTL = defaultIdempotencyTTL
	}

	// Present sections are defaulted per field while decoding
	if c.Retry == (retry.Config{}) {
		c.Retry = retry.DefaultConfig
	}
	c.Retry = c.Retry.WithDefaults()
	c.Batch = c.Batch.WithDefaults()
	c.Athena = c.Athena.WithDefaults()
}

// Validate reports settings that cannot work together.
func (c *AppConfig) Validate() error {
	switch c.Trigger.Type {
	case TriggerSQS, TriggerKinesis:
	default:
		return fmt.Errorf("unknown trigger type %q", c.Trigger.Type)
	}
	if c.Trigger.Idempotent && c.Redis.URL == "" {
		return fmt.Errorf("trigger.idempotent requires redis.url")
	}
	if c.Relay.QueryTemplate != "" && c.Athena.OutputLocation == "" && c.Athena.Workgroup == "" {
		return fmt.Errorf("relay.query_template requires athena.output_location or athena.workgroup")
	}
	return nil
}
