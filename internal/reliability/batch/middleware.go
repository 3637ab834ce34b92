package batch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vietddude/lambdakit/internal/core/domain"
	"github.com/vietddude/lambdakit/internal/reliability/retry"
)

// DoneStore remembers items that were already processed successfully.
type DoneStore interface {
	IsDone(ctx context.Context, source, itemID string) (bool, error)
	MarkDone(ctx context.Context, source, itemID string, ttl time.Duration) error
}

// Idempotent skips items that store reports as done and marks items done after
// next succeeds. Store failures never fail the item: delivery is at-least-once anyway.
// log may be nil.
func Idempotent(store DoneStore, source string, ttl time.Duration, log *slog.Logger, next Handler) Handler {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("source", source)
	return func(ctx context.Context, item domain.BatchItem) error {
		done, err := store.IsDone(ctx, source, item.ID)
		if err != nil {
			log.Warn("Idempotency lookup failed, processing item", "item_id", item.ID, "error", err)
		}
		if done {
			log.Debug("Skipping already processed item", "item_id", item.ID)
			return nil
		}

		if err := next(ctx, item); err != nil {
			return err
		}

		if err := store.MarkDone(ctx, source, item.ID, ttl); err != nil {
			log.Warn("Failed to mark item done", "item_id", item.ID, "error", err)
		}
		return nil
	}
}

// Retrying runs next through exec, so handler errors marked retryable are retried
// inside the invocation before the item is reported failed. Any other error fails
// the item at once.
func Retrying(exec *retry.Executor, name string, next Handler) Handler {
	return func(ctx context.Context, item domain.BatchItem) error {
		return exec.Run(ctx, name, func(ctx context.Context) error {
			err := next(ctx, item)
			var he *retry.HandlerError
			if err != nil && !(errors.As(err, &he) && he.Retryable) {
				return retry.Permanent(err)
			}
			return err
		})
	}
}

// Chain applies middlewares so that the first one is the outermost.
func Chain(h Handler, middlewares ...func(Handler) Handler) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
