package awsinfra

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

const defaultEdgePort = "4566"

// Config holds AWS client settings.
type Config struct {
	Region string `yaml:"region"`
	// Endpoint overrides every service endpoint. Empty means the SDK default,
	// or LocalStack when LOCALSTACK_HOSTNAME is set.
	Endpoint string `yaml:"endpoint"`
}

// Clients groups the service clients shared by every invocation of one process.
type Clients struct {
	S3     *s3.Client
	SQS    *sqs.Client
	Athena *athena.Client

	Endpoint string
}

// NewClients loads the shared AWS configuration and builds the service clients.
// SDK retries are disabled, retries are owned by the retry executor.
func NewClients(ctx context.Context, cfg Config) (*Clients, error) {
	endpoint, err := ResolveEndpoint(cfg.Endpoint, os.Getenv)
	if err != nil {
		return nil, err
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRetryMaxAttempts(1),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	if endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(endpoint)
	}

	return &Clients{
		S3: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			// LocalStack does not serve virtual-hosted buckets
			o.UsePathStyle = endpoint != ""
		}),
		SQS:      sqs.NewFromConfig(awsCfg),
		Athena:   athena.NewFromConfig(awsCfg),
		Endpoint: endpoint,
	}, nil
}

// ResolveEndpoint returns the endpoint override to use, if any.
func ResolveEndpoint(configured string, getenv func(string) string) (string, error) {
	endpoint := configured
	if endpoint == "" {
		host := getenv("LOCALSTACK_HOSTNAME")
		if host == "" {
			return "", nil
		}
		port := getenv("EDGE_PORT")
		if port == "" {
			port = defaultEdgePort
		}
		endpoint = fmt.Sprintf("http://%s:%s", host, port)
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid aws endpoint %q: %w", endpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid aws endpoint %q: missing scheme or host", endpoint)
	}
	return endpoint, nil
}
