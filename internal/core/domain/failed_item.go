package domain

import "time"

// FailedItem is a ledger entry for a batch item whose last processing failed.
type FailedItem struct {
	ID            string           `json:"id"`
	Source        string           `json:"source"`
	ItemID        string           `json:"item_id"`
	Error         string           `json:"error_msg"`
	FailureCount  int              `json:"failure_count"`
	Status        FailedItemStatus `json:"status"`
	FirstFailedAt time.Time        `json:"first_failed_at"`
	LastFailedAt  time.Time        `json:"last_failed_at"`
}

type FailedItemStatus string

const (
	FailedItemStatusPending  FailedItemStatus = "pending"
	FailedItemStatusResolved FailedItemStatus = "resolved"
)
