package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/lambdakit/internal/core/domain"
	"github.com/vietddude/lambdakit/internal/infra/storage"
)

// FailedItemRepo is an in-process failure ledger.
type FailedItemRepo struct {
	mu    sync.RWMutex
	items map[string]map[string]*domain.FailedItem
	now   func() time.Time
}

func NewFailedItemRepo() *FailedItemRepo {
	return &FailedItemRepo{
		items: make(map[string]map[string]*domain.FailedItem),
		now:   time.Now,
	}
}

func (r *FailedItemRepo) Record(ctx context.Context, item *domain.FailedItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bySource, ok := r.items[item.Source]
	if !ok {
		bySource = make(map[string]*domain.FailedItem)
		r.items[item.Source] = bySource
	}

	now := r.now()
	existing, ok := bySource[item.ItemID]
	if !ok {
		cp := *item
		if cp.FailureCount <= 0 {
			cp.FailureCount = 1
		}
		cp.Status = domain.FailedItemStatusPending
		if cp.FirstFailedAt.IsZero() {
			cp.FirstFailedAt = now
		}
		cp.LastFailedAt = now
		bySource[item.ItemID] = &cp
		return nil
	}

	existing.FailureCount++
	existing.Error = item.Error
	existing.Status = domain.FailedItemStatusPending
	existing.LastFailedAt = now
	return nil
}

func (r *FailedItemRepo) Resolve(ctx context.Context, source, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item, ok := r.items[source][itemID]; ok {
		item.Status = domain.FailedItemStatusResolved
	}
	return nil
}

func (r *FailedItemRepo) Get(ctx context.Context, source, itemID string) (*domain.FailedItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[source][itemID]
	if !ok {
		return nil, storage.ErrFailedItemNotFound
	}
	cp := *item
	return &cp, nil
}

func (r *FailedItemRepo) GetAll(ctx context.Context, source string) ([]*domain.FailedItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []*domain.FailedItem
	for _, item := range r.items[source] {
		if item.Status != domain.FailedItemStatusPending {
			continue
		}
		cp := *item
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].LastFailedAt.Before(res[j].LastFailedAt)
	})
	return res, nil
}

func (r *FailedItemRepo) Count(ctx context.Context, source string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, item := range r.items[source] {
		if item.Status == domain.FailedItemStatusPending {
			count++
		}
	}
	return count, nil
}
