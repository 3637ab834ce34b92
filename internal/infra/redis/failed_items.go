package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/lambdakit/internal/core/domain"
	"github.com/vietddude/lambdakit/internal/infra/storage"
)

const defaultLedgerTTL = 7 * 24 * time.Hour

// FailedItemRepo implements FailedItemRepository using Redis.
type FailedItemRepo struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewFailedItemRepo creates a new Redis-backed failure ledger.
func NewFailedItemRepo(client *Client, ttl time.Duration) *FailedItemRepo {
	if ttl <= 0 {
		ttl = defaultLedgerTTL
	}
	return &FailedItemRepo{
		rdb: client.rdb,
		ttl: ttl,
		now: time.Now,
	}
}

// Key helpers
func pendingKey(source string) string {
	return fmt.Sprintf("failed_items:%s", source)
}

func itemKey(source, itemID string) string {
	return fmt.Sprintf("failed_item:%s:%s", source, itemID)
}

// Record stores the failure and indexes it in the pending set (score = last failure time).
func (r *FailedItemRepo) Record(ctx context.Context, item *domain.FailedItem) error {
	now := r.now()

	entry, err := r.Get(ctx, item.Source, item.ItemID)
	switch {
	case errors.Is(err, storage.ErrFailedItemNotFound):
		cp := *item
		cp.FailureCount = 1
		if cp.FirstFailedAt.IsZero() {
			cp.FirstFailedAt = now
		}
		entry = &cp
	case err != nil:
		return err
	default:
		entry.FailureCount++
		entry.Error = item.Error
	}
	entry.Status = domain.FailedItemStatusPending
	entry.LastFailedAt = now

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal failed item: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, itemKey(item.Source, item.ItemID), data, r.ttl)
		pipe.ZAdd(ctx, pendingKey(item.Source), redis.Z{
			Score:  float64(now.Unix()),
			Member: item.ItemID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record failed item: %w", err)
	}
	return nil
}

// Resolve removes the item from the pending set and flags its entry resolved.
func (r *FailedItemRepo) Resolve(ctx context.Context, source, itemID string) error {
	removed, err := r.rdb.ZRem(ctx, pendingKey(source), itemID).Result()
	if err != nil {
		return fmt.Errorf("failed to remove from pending set: %w", err)
	}
	if removed == 0 {
		return nil
	}

	entry, err := r.Get(ctx, source, itemID)
	if errors.Is(err, storage.ErrFailedItemNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	entry.Status = domain.FailedItemStatusResolved

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal failed item: %w", err)
	}
	if err := r.rdb.Set(ctx, itemKey(source, itemID), data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("failed to update failed item: %w", err)
	}
	return nil
}

// Get retrieves one entry.
func (r *FailedItemRepo) Get(ctx context.Context, source, itemID string) (*domain.FailedItem, error) {
	data, err := r.rdb.Get(ctx, itemKey(source, itemID)).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrFailedItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed item: %w", err)
	}

	var item domain.FailedItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed item: %w", err)
	}
	return &item, nil
}

// GetAll retrieves all pending entries, oldest failure first.
func (r *FailedItemRepo) GetAll(ctx context.Context, source string) ([]*domain.FailedItem, error) {
	ids, err := r.rdb.ZRange(ctx, pendingKey(source), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	items := make([]*domain.FailedItem, 0, len(ids))
	for _, id := range ids {
		item, err := r.Get(ctx, source, id)
		if errors.Is(err, storage.ErrFailedItemNotFound) {
			// Data expired but ID still in the set, remove it
			r.rdb.ZRem(ctx, pendingKey(source), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Count returns the number of pending entries.
func (r *FailedItemRepo) Count(ctx context.Context, source string) (int, error) {
	count, err := r.rdb.ZCard(ctx, pendingKey(source)).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}
