package awsinfra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/google/uuid"

	"github.com/vietddude/lambdakit/internal/reliability/retry"
)

var (
	errQueryRunning = errors.New("query still running")
	// ErrQueryFailed is returned when the query reaches FAILED or CANCELLED.
	ErrQueryFailed = errors.New("athena query did not succeed")
)

// AthenaAPI is the subset of the Athena client used by QueryRunner.
type AthenaAPI interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
}

// AthenaConfig holds query execution settings.
type AthenaConfig struct {
	Workgroup       string        `yaml:"workgroup"`
	Database        string        `yaml:"database"`
	OutputLocation  string        `yaml:"output_location"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollInterval time.Duration `yaml:"max_poll_interval"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// WithDefaults fills unset polling fields.
func (c AthenaConfig) WithDefaults() AthenaConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.MaxPollInterval <= 0 {
		c.MaxPollInterval = 5 * time.Second
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 2 * time.Minute
	}
	return c
}

// QueryResult is the terminal state of a query.
type QueryResult struct {
	ExecutionID    string
	State          athenatypes.QueryExecutionState
	OutputLocation string
}

// QueryRunner starts Athena queries and waits for them to finish.
type QueryRunner struct {
	api    AthenaAPI
	exec   *retry.Executor
	poller *retry.Executor
	cfg    AthenaConfig
}

// NewQueryRunner creates a QueryRunner. Calls use exec; polling uses its own executor
// bounded by QueryTimeout and sharing exec's classifier. opts apply to the poller.
func NewQueryRunner(api AthenaAPI, exec *retry.Executor, cfg AthenaConfig, log *slog.Logger, opts ...retry.ExecutorOption) *QueryRunner {
	cfg = cfg.WithDefaults()
	pollPolicy := retry.NewPolicy(retry.Config{
		MaxAttempts:      math.MaxInt32,
		BaseDelay:        cfg.PollInterval,
		CapDelay:         cfg.MaxPollInterval,
		MaxTotalDuration: cfg.QueryTimeout,
	}, retry.WithClassifier(exec.Policy().Classify))

	return &QueryRunner{
		api:    api,
		exec:   exec,
		poller: retry.NewExecutor(pollPolicy, append([]retry.ExecutorOption{retry.WithLogger(log)}, opts...)...),
		cfg:    cfg,
	}
}

// Run starts query and blocks until it reaches a terminal state.
func (r *QueryRunner) Run(ctx context.Context, query string) (*QueryResult, error) {
	id, err := r.Start(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.Wait(ctx, id)
}

// Start submits query and returns its execution id.
func (r *QueryRunner) Start(ctx context.Context, query string) (string, error) {
	input := &athena.StartQueryExecutionInput{
		QueryString: aws.String(query),
		// Same token on every attempt so a retried start never runs the query twice
		ClientRequestToken: aws.String(uuid.NewString()),
	}
	if r.cfg.Workgroup != "" {
		input.WorkGroup = aws.String(r.cfg.Workgroup)
	}
	if r.cfg.Database != "" {
		input.QueryExecutionContext = &athenatypes.QueryExecutionContext{Database: aws.String(r.cfg.Database)}
	}
	if r.cfg.OutputLocation != "" {
		input.ResultConfiguration = &athenatypes.ResultConfiguration{OutputLocation: aws.String(r.cfg.OutputLocation)}
	}

	out, err := retry.Execute(ctx, r.exec, "athena.StartQueryExecution", retry.OperationFunc[*athena.StartQueryExecutionOutput](
		func(ctx context.Context) (*athena.StartQueryExecutionOutput, error) {
			return r.api.StartQueryExecution(ctx, input)
		}))
	if err != nil {
		return "", fmt.Errorf("start query: %w", err)
	}
	return aws.ToString(out.QueryExecutionId), nil
}

// Wait polls the execution until it succeeds, fails or QueryTimeout elapses.
func (r *QueryRunner) Wait(ctx context.Context, executionID string) (*QueryResult, error) {
	res, err := retry.Execute(ctx, r.poller, "athena.GetQueryExecution", retry.OperationFunc[*QueryResult](
		func(ctx context.Context) (*QueryResult, error) {
			out, err := r.api.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
				QueryExecutionId: aws.String(executionID),
			})
			if err != nil {
				return nil, err
			}
			return r.checkState(executionID, out.QueryExecution)
		}))
	if err != nil {
		return nil, fmt.Errorf("wait for query %s: %w", executionID, err)
	}
	return res, nil
}

func (r *QueryRunner) checkState(executionID string, qe *athenatypes.QueryExecution) (*QueryResult, error) {
	if qe == nil || qe.Status == nil {
		return nil, retry.Transient(errQueryRunning)
	}

	res := &QueryResult{ExecutionID: executionID, State: qe.Status.State}
	if qe.ResultConfiguration != nil {
		res.OutputLocation = aws.ToString(qe.ResultConfiguration.OutputLocation)
	}

	switch qe.Status.State {
	case athenatypes.QueryExecutionStateSucceeded:
		return res, nil
	case athenatypes.QueryExecutionStateFailed, athenatypes.QueryExecutionStateCancelled:
		return nil, retry.Permanent(fmt.Errorf("%w: %s %s", ErrQueryFailed,
			qe.Status.State, aws.ToString(qe.Status.StateChangeReason)))
	default:
		return nil, retry.Transient(errQueryRunning)
	}
}
