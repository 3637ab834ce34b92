package storage

import (
	"context"
	"errors"

	"github.com/vietddude/lambdakit/internal/core/domain"
)

var (
	// ErrFailedItemNotFound is returned when a ledger entry doesn't exist
	ErrFailedItemNotFound = errors.New("failed item not found")
)

// FailedItemRepository is the failure ledger: items whose latest processing failed.
type FailedItemRepository interface {
	// Record adds a failure, or bumps the failure count of an existing entry
	Record(ctx context.Context, item *domain.FailedItem) error

	// Resolve marks an item as resolved after a successful redelivery
	Resolve(ctx context.Context, source, itemID string) error

	// Get retrieves the entry of one item
	Get(ctx context.Context, source, itemID string) (*domain.FailedItem, error)

	// GetAll retrieves all pending entries of a source
	GetAll(ctx context.Context, source string) ([]*domain.FailedItem, error)

	// Count returns the number of pending entries of a source
	Count(ctx context.Context, source string) (int, error)
}
