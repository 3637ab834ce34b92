package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/lambdakit/internal/core/domain"
	"github.com/vietddude/lambdakit/internal/infra/storage"
)

// An entry is unique per (source, item_id); a repeated failure bumps the
// count and reopens a resolved entry.
const recordFailedItemQuery = `
	INSERT INTO failed_items (id, source, item_id, error_msg, failure_count, status, first_failed_at, last_failed_at)
	VALUES ($1, $2, $3, $4, 1, 'pending', NOW(), NOW())
	ON CONFLICT (source, item_id) DO UPDATE
	SET failure_count  = failed_items.failure_count + 1,
	    error_msg      = EXCLUDED.error_msg,
	    status         = 'pending',
	    last_failed_at = NOW()
`

const resolveFailedItemQuery = `
	UPDATE failed_items
	SET status = 'resolved'
	WHERE source = $1 AND item_id = $2 AND status = 'pending'
`

// FailedItemRepo implements storage.FailedItemRepository using PostgreSQL.
type FailedItemRepo struct {
	db *DB
}

// NewFailedItemRepo creates a new PostgreSQL failure ledger.
func NewFailedItemRepo(db *DB) *FailedItemRepo {
	return &FailedItemRepo{db: db}
}

type failedItemRow struct {
	ID            string    `db:"id"`
	Source        string    `db:"source"`
	ItemID        string    `db:"item_id"`
	ErrorMsg      string    `db:"error_msg"`
	FailureCount  int       `db:"failure_count"`
	Status        string    `db:"status"`
	FirstFailedAt time.Time `db:"first_failed_at"`
	LastFailedAt  time.Time `db:"last_failed_at"`
}

func (row failedItemRow) toDomain() *domain.FailedItem {
	return &domain.FailedItem{
		ID:            row.ID,
		Source:        row.Source,
		ItemID:        row.ItemID,
		Error:         row.ErrorMsg,
		FailureCount:  row.FailureCount,
		Status:        domain.FailedItemStatus(row.Status),
		FirstFailedAt: row.FirstFailedAt,
		LastFailedAt:  row.LastFailedAt,
	}
}

// Record inserts a failure or bumps the count of an existing entry.
func (r *FailedItemRepo) Record(ctx context.Context, item *domain.FailedItem) error {
	id := item.ID
	if id == "" {
		id = uuid.New().String()
	}

	if _, err := r.db.ExecContext(ctx, recordFailedItemQuery, id, item.Source, item.ItemID, item.Error); err != nil {
		return fmt.Errorf("failed to record failed item: %w", err)
	}
	return nil
}

// Resolve marks an item as resolved.
func (r *FailedItemRepo) Resolve(ctx context.Context, source, itemID string) error {
	if _, err := r.db.ExecContext(ctx, resolveFailedItemQuery, source, itemID); err != nil {
		return fmt.Errorf("failed to resolve failed item: %w", err)
	}
	return nil
}

// Get returns the entry of one item.
func (r *FailedItemRepo) Get(ctx context.Context, source, itemID string) (*domain.FailedItem, error) {
	query := `
		SELECT id, source, item_id, error_msg, failure_count, status, first_failed_at, last_failed_at
		FROM failed_items
		WHERE source = $1 AND item_id = $2
	`
	var row failedItemRow
	err := r.db.GetContext(ctx, &row, query, source, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrFailedItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed item: %w", err)
	}
	return row.toDomain(), nil
}

// GetAll returns all pending entries of a source, oldest failure first.
func (r *FailedItemRepo) GetAll(ctx context.Context, source string) ([]*domain.FailedItem, error) {
	query := `
		SELECT id, source, item_id, error_msg, failure_count, status, first_failed_at, last_failed_at
		FROM failed_items
		WHERE source = $1 AND status = 'pending'
		ORDER BY last_failed_at ASC
	`
	var rows []failedItemRow
	if err := r.db.SelectContext(ctx, &rows, query, source); err != nil {
		return nil, fmt.Errorf("failed to get all failed items: %w", err)
	}

	items := make([]*domain.FailedItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

// Count returns the number of pending entries of a source.
func (r *FailedItemRepo) Count(ctx context.Context, source string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM failed_items
		WHERE source = $1 AND status = 'pending'
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, source); err != nil {
		return 0, fmt.Errorf("failed to count failed items: %w", err)
	}
	return count, nil
}
