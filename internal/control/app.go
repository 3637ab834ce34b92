package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/vietddude/lambdakit/internal/core/config"
	"github.com/vietddude/lambdakit/internal/core/domain"
	"github.com/vietddude/lambdakit/internal/handlers"
	"github.com/vietddude/lambdakit/internal/health"
	"github.com/vietddude/lambdakit/internal/infra/awsinfra"
	redisclient "github.com/vietddude/lambdakit/internal/infra/redis"
	"github.com/vietddude/lambdakit/internal/infra/storage"
	"github.com/vietddude/lambdakit/internal/infra/storage/memory"
	"github.com/vietddude/lambdakit/internal/infra/storage/postgres"
	"github.com/vietddude/lambdakit/internal/infra/trigger"
	"github.com/vietddude/lambdakit/internal/reliability/batch"
	"github.com/vietddude/lambdakit/internal/reliability/retry"
)

// App holds everything built once per process and shared by every invocation.
type App struct {
	cfg         *config.AppConfig
	exec        *retry.Executor
	clients     *awsinfra.Clients
	objects     *awsinfra.ObjectStore
	queue       *awsinfra.Queue
	queries     *awsinfra.QueryRunner
	ledger      storage.FailedItemRepository
	done        batch.DoneStore
	db          *postgres.DB
	redisClient *redisclient.Client
	backends    map[string]health.Pinger
	log         *slog.Logger
}

// New builds the AWS clients, the retry executor and the configured stores.
func New(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	a := &App{
		cfg:      cfg,
		backends: make(map[string]health.Pinger),
		log:      slog.Default(),
	}

	// 1. Retry executor, AWS errors first then the generic classifier
	policy := retry.NewPolicy(cfg.Retry, retry.WithClassifier(retry.Chain(awsinfra.Classify, retry.DefaultClassifier)))
	a.exec = retry.NewExecutor(policy, retry.WithLogger(a.log))

	// 2. AWS clients
	clients, err := awsinfra.NewClients(ctx, cfg.AWS)
	if err != nil {
		return nil, fmt.Errorf("failed to init aws clients: %w", err)
	}
	a.clients = clients
	a.objects = awsinfra.NewObjectStore(clients.S3, a.exec)
	if cfg.Queue.OutputURL != "" {
		a.queue = awsinfra.NewQueue(clients.SQS, a.exec, cfg.Queue.OutputURL)
	}
	if cfg.Athena.OutputLocation != "" || cfg.Athena.Workgroup != "" {
		a.queries = awsinfra.NewQueryRunner(clients.Athena, a.exec, cfg.Athena, a.log)
	}
	if clients.Endpoint != "" {
		a.log.Info("Using custom AWS endpoint", "endpoint", clients.Endpoint)
	}

	// 3. Redis: idempotency markers, and the ledger when no database is set
	if cfg.Redis.URL != "" {
		a.redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		a.done = a.redisClient
		a.backends["redis"] = a.redisClient.Ping
	}

	// 4. Failure ledger
	switch {
	case cfg.Database.URL != "":
		a.db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := a.db.Migrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		a.ledger = postgres.NewFailedItemRepo(a.db)
		a.backends["postgres"] = a.db.Health
		a.log.Info("Using PostgreSQL failure ledger")
	case a.redisClient != nil:
		a.ledger = redisclient.NewFailedItemRepo(a.redisClient, cfg.Redis.LedgerTTL)
		a.log.Info("Using Redis failure ledger")
	default:
		a.ledger = memory.NewFailedItemRepo()
		a.log.Info("Using in-memory failure ledger")
	}

	return a, nil
}

// Executor returns the shared retry executor.
func (a *App) Executor() *retry.Executor {
	return a.exec
}

// Ledger returns the failure ledger.
func (a *App) Ledger() storage.FailedItemRepository {
	return a.ledger
}

// Objects returns the S3 object store.
func (a *App) Objects() *awsinfra.ObjectStore {
	return a.objects
}

// Relay builds the S3 notification relay handler.
func (a *App) Relay() (*handlers.Relay, error) {
	if a.queue == nil {
		return nil, errors.New("relay requires queue.output_url")
	}
	var queries handlers.QueryRunner
	if a.queries != nil {
		queries = a.queries
	}
	return handlers.NewRelay(a.cfg.Relay, a.objects, a.queue, queries)
}

// Wrap applies the configured middlewares to h for items of source.
func (a *App) Wrap(source string, h batch.Handler) batch.Handler {
	var mws []func(batch.Handler) batch.Handler
	if a.cfg.Trigger.Idempotent && a.done != nil {
		mws = append(mws, func(next batch.Handler) batch.Handler {
			return batch.Idempotent(a.done, source, a.cfg.Redis.IdempotencyTTL, a.log, next)
		})
	}
	if a.cfg.Trigger.RetryHandler {
		mws = append(mws, func(next batch.Handler) batch.Handler {
			return batch.Retrying(a.exec, "handler", next)
		})
	}
	return batch.Chain(h, mws...)
}

// processor binds a fresh coordinator to the middlewares of its source.
type processor struct {
	coord *batch.Coordinator
	wrap  func(batch.Handler) batch.Handler
}

func (p *processor) Process(ctx context.Context, items []domain.BatchItem, h batch.Handler) domain.BatchResponse {
	return p.coord.Process(ctx, items, p.wrap(h))
}

// NewProcessor returns the processor for one invocation from source.
func (a *App) NewProcessor(source string) trigger.Processor {
	return &processor{
		coord: batch.NewCoordinator(a.cfg.Batch, source, a.ledger, a.log),
		wrap: func(h batch.Handler) batch.Handler {
			return a.Wrap(source, h)
		},
	}
}

// SQSHandler returns the Lambda handler for SQS triggers.
func (a *App) SQSHandler(h batch.Handler) func(context.Context, events.SQSEvent) (events.SQSEventResponse, error) {
	return trigger.SQSHandler(a.NewProcessor, h)
}

// KinesisHandler returns the Lambda handler for Kinesis triggers.
func (a *App) KinesisHandler(h batch.Handler) func(context.Context, events.KinesisEvent) (events.KinesisEventResponse, error) {
	return trigger.KinesisHandler(a.NewProcessor, h)
}

// LambdaHandler returns the handler matching the configured trigger type.
func (a *App) LambdaHandler(h batch.Handler) any {
	if a.cfg.Trigger.Type == config.TriggerKinesis {
		return a.KinesisHandler(h)
	}
	return a.SQSHandler(h)
}

// Server returns the local HTTP server invoking h.
func (a *App) Server(h batch.Handler) *health.Server {
	monitor := health.NewMonitor(a.cfg.Trigger.Sources, a.ledger, a.backends)
	return health.NewServer(monitor, a.cfg.Server.Port, a.SQSHandler(h), a.KinesisHandler(h))
}

// Start runs background collectors until ctx is done.
func (a *App) Start(ctx context.Context) {
	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}
}

// Close releases the database and redis connections.
func (a *App) Close() error {
	var errs []error
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}
	return errors.Join(errs...)
}
