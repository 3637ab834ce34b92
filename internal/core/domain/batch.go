package domain

import "time"

// BatchItem is one unit of an inbound batch delivered by the trigger.
// ID must reach the failure report byte for byte.
type BatchItem struct {
	ID         string
	Payload    []byte
	Attributes map[string]string
}

// ItemOutcome is the processing outcome of a single batch item.
type ItemOutcome string

const (
	OutcomeSuccess ItemOutcome = "success"
	OutcomeFailure ItemOutcome = "failure"
)

// BatchItemResult is the outcome of processing one item in a batch.
type BatchItemResult struct {
	ItemID   string
	Index    int
	Outcome  ItemOutcome
	Err      error
	Duration time.Duration
}

// Succeeded creates a successful item result.
func Succeeded(index int, itemID string, d time.Duration) BatchItemResult {
	return BatchItemResult{ItemID: itemID, Index: index, Outcome: OutcomeSuccess, Duration: d}
}

// Failed creates a failed item result.
func Failed(index int, itemID string, err error, d time.Duration) BatchItemResult {
	return BatchItemResult{
		ItemID:   itemID,
		Index:    index,
		Outcome:  OutcomeFailure,
		Err:      err,
		Duration: d,
	}
}

// IsFailure reports whether the item must be redelivered.
func (r BatchItemResult) IsFailure() bool {
	return r.Outcome == OutcomeFailure
}

// BatchResponse lists the identifiers the trigger should redeliver.
// An empty list acknowledges the whole batch.
type BatchResponse struct {
	FailedItemIDs []string
}

// Empty reports whether every item of the batch was acknowledged.
func (r BatchResponse) Empty() bool {
	return len(r.FailedItemIDs) == 0
}
