// Package batch runs a handler over every item of an inbound batch and reports
// only the failed items back to the trigger, so successes are never redelivered.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/lambdakit/internal/core/domain"
	"github.com/vietddude/lambdakit/internal/metrics"
)

// Handler processes one batch item. A nil error acknowledges the item.
type Handler func(ctx context.Context, item domain.BatchItem) error

// Ledger keeps track of items that are currently failing.
type Ledger interface {
	// Record adds or bumps a failure entry
	Record(ctx context.Context, item *domain.FailedItem) error

	// Resolve clears the entry of an item that succeeded
	Resolve(ctx context.Context, source, itemID string) error
}

// Config controls fan-out and deadline handling.
type Config struct {
	// MaxConcurrency bounds concurrently running handlers
	MaxConcurrency int `yaml:"max_concurrency"`
	// Timeout bounds one batch, 0 = only the context deadline applies
	Timeout time.Duration `yaml:"timeout"`
	// DeadlineMargin is reserved before the context deadline for reporting,
	// 0 = DefaultConfig.DeadlineMargin, negative = no margin
	DeadlineMargin time.Duration `yaml:"deadline_margin"`
	// LedgerTimeout bounds each ledger write
	LedgerTimeout time.Duration `yaml:"ledger_timeout"`
}

// DefaultConfig provides sensible defaults for a Lambda invocation.
var DefaultConfig = Config{
	MaxConcurrency: 10,
	DeadlineMargin: 2 * time.Second,
	LedgerTimeout:  500 * time.Millisecond,
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultConfig.MaxConcurrency
	}
	// Negative means no margin and is kept as is
	if c.DeadlineMargin == 0 {
		c.DeadlineMargin = DefaultConfig.DeadlineMargin
	}
	if c.LedgerTimeout <= 0 {
		c.LedgerTimeout = DefaultConfig.LedgerTimeout
	}
	return c
}

// Coordinator processes one batch. Build a fresh one per invocation.
type Coordinator struct {
	cfg    Config
	source string
	ledger Ledger
	log    *slog.Logger
}

// NewCoordinator creates a coordinator for items coming from source.
// ledger may be nil.
func NewCoordinator(cfg Config, source string, ledger Ledger, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		cfg:    cfg.WithDefaults(),
		source: source,
		ledger: ledger,
		log:    log.With("source", source),
	}
}

// Process runs handler over items and returns the identifiers to redeliver.
func (c *Coordinator) Process(
	ctx context.Context,
	items []domain.BatchItem,
	handler Handler,
) domain.BatchResponse {
	return Response(c.ProcessDetailed(ctx, items, handler))
}

// ProcessDetailed runs handler over items and returns one result per item, in batch order.
func (c *Coordinator) ProcessDetailed(
	ctx context.Context,
	items []domain.BatchItem,
	handler Handler,
) []domain.BatchItemResult {
	if len(items) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		metrics.BatchDuration.WithLabelValues(c.source).Observe(time.Since(start).Seconds())
	}()

	runCtx, cancel := c.deadlineContext(ctx)
	defer cancel()

	// Buffered so abandoned handlers never block on send
	done := make(chan domain.BatchItemResult, len(items))

	var g errgroup.Group
	g.SetLimit(c.cfg.MaxConcurrency)

	go func() {
		for i := range items {
			if runCtx.Err() != nil {
				return
			}
			g.Go(func() error {
				// A slot may free up only after the deadline, the item stays abandoned
				if runCtx.Err() != nil {
					return nil
				}
				done <- c.runItem(runCtx, i, items[i], handler)
				return nil
			})
		}
	}()

	results := make([]domain.BatchItemResult, len(items))
	received := make([]bool, len(items))
	remaining := len(items)

collect:
	for remaining > 0 {
		select {
		case res := <-done:
			results[res.Index] = res
			received[res.Index] = true
			remaining--
		case <-runCtx.Done():
			// Keep whatever finished in time
			for {
				select {
				case res := <-done:
					results[res.Index] = res
					received[res.Index] = true
					remaining--
				default:
					break collect
				}
			}
		}
	}

	if remaining > 0 {
		cause := context.Cause(runCtx)
		elapsed := time.Since(start)
		for i, ok := range received {
			if ok {
				continue
			}
			results[i] = domain.Failed(i, items[i].ID, fmt.Errorf("%w: %v", ErrItemAbandoned, cause), elapsed)
		}
		metrics.BatchAbandoned.WithLabelValues(c.source).Add(float64(remaining))
		c.log.Warn("Batch deadline elapsed with items pending",
			"pending", remaining,
			"total", len(items),
			"cause", cause,
		)
	}

	c.report(ctx, results)
	return results
}

// Response builds the trigger-facing response from item results, in batch order.
// Duplicated identifiers are reported once per failed occurrence.
func Response(results []domain.BatchItemResult) domain.BatchResponse {
	resp := domain.BatchResponse{FailedItemIDs: []string{}}
	for _, r := range results {
		if r.IsFailure() {
			resp.FailedItemIDs = append(resp.FailedItemIDs, r.ItemID)
		}
	}
	return resp
}

func (c *Coordinator) runItem(
	ctx context.Context,
	index int,
	item domain.BatchItem,
	handler Handler,
) (res domain.BatchItemResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = domain.Failed(index, item.ID, &PanicError{Value: r, Stack: debug.Stack()}, time.Since(start))
		}
	}()

	if err := handler(ctx, item); err != nil {
		return domain.Failed(index, item.ID, err, time.Since(start))
	}
	return domain.Succeeded(index, item.ID, time.Since(start))
}

// deadlineContext derives the batch context: the earliest of the caller's deadline
// minus the reporting margin and the configured timeout.
func (c *Coordinator) deadlineContext(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if ok && c.cfg.DeadlineMargin > 0 {
		deadline = deadline.Add(-c.cfg.DeadlineMargin)
	}
	if c.cfg.Timeout > 0 {
		t := time.Now().Add(c.cfg.Timeout)
		if !ok || t.Before(deadline) {
			deadline = t
			ok = true
		}
	}
	if !ok {
		return context.WithCancel(ctx)
	}
	return context.WithDeadlineCause(ctx, deadline, ErrBatchDeadline)
}

func (c *Coordinator) report(ctx context.Context, results []domain.BatchItemResult) {
	failed := 0
	for _, r := range results {
		if !r.IsFailure() {
			metrics.BatchItems.WithLabelValues(c.source, string(domain.OutcomeSuccess)).Inc()
			c.resolve(ctx, r)
			continue
		}

		failed++
		metrics.BatchItems.WithLabelValues(c.source, string(domain.OutcomeFailure)).Inc()
		attrs := []any{"item_id", r.ItemID, "index", r.Index, "duration", r.Duration, "error", r.Err}
		if pe, ok := r.Err.(*PanicError); ok {
			attrs = append(attrs, "stack", string(pe.Stack))
		}
		c.log.Error("Batch item failed", attrs...)
		c.record(ctx, r)
	}

	if failed > 0 {
		c.log.Info("Batch processed with partial failure", "failed", failed, "total", len(results))
	} else {
		c.log.Debug("Batch processed", "total", len(results))
	}
}

func (c *Coordinator) record(ctx context.Context, r domain.BatchItemResult) {
	if c.ledger == nil || ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.LedgerTimeout)
	defer cancel()

	now := time.Now()
	item := &domain.FailedItem{
		ID:            uuid.New().String(),
		Source:        c.source,
		ItemID:        r.ItemID,
		Error:         r.Err.Error(),
		FailureCount:  1,
		Status:        domain.FailedItemStatusPending,
		FirstFailedAt: now,
		LastFailedAt:  now,
	}
	if err := c.ledger.Record(ctx, item); err != nil {
		c.log.Warn("Failed to record item failure", "item_id", r.ItemID, "error", err)
	}
}

func (c *Coordinator) resolve(ctx context.Context, r domain.BatchItemResult) {
	if c.ledger == nil || ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.LedgerTimeout)
	defer cancel()

	if err := c.ledger.Resolve(ctx, c.source, r.ItemID); err != nil {
		c.log.Warn("Failed to resolve item in ledger", "item_id", r.ItemID, "error", err)
	}
}
