package batch

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/lambdakit/internal/core/domain"
)

// =============================================================================
// Mock Ledger
// =============================================================================

type mockLedger struct {
	mu       sync.Mutex
	failed   []*domain.FailedItem
	resolved []string
}

func (l *mockLedger) Record(ctx context.Context, item *domain.FailedItem) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = append(l.failed, item)
	return nil
}

func (l *mockLedger) Resolve(ctx context.Context, source, itemID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resolved = append(l.resolved, itemID)
	return nil
}

func items(ids ...string) []domain.BatchItem {
	out := make([]domain.BatchItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.BatchItem{ID: id, Payload: []byte("payload-" + id)})
	}
	return out
}

func newTestCoordinator(cfg Config, ledger Ledger) *Coordinator {
	return NewCoordinator(cfg, "test-queue", ledger, nil)
}

// =============================================================================
// Coordinator Tests
// =============================================================================

func TestProcess_EmptyBatch(t *testing.T) {
	c := newTestCoordinator(Config{}, nil)
	called := false

	resp := c.Process(context.Background(), nil, func(ctx context.Context, item domain.BatchItem) error {
		called = true
		return nil
	})

	if !resp.Empty() {
		t.Errorf("expected empty response, got %v", resp.FailedItemIDs)
	}
	if called {
		t.Error("handler must not be invoked for an empty batch")
	}
}

func TestProcess_AllSucceed(t *testing.T) {
	c := newTestCoordinator(Config{}, nil)

	resp := c.Process(context.Background(), items("a", "b", "c", "d"), func(ctx context.Context, item domain.BatchItem) error {
		return nil
	})

	if !resp.Empty() {
		t.Errorf("expected empty response, got %v", resp.FailedItemIDs)
	}
}

func TestProcess_AllFailReportsEveryOccurrence(t *testing.T) {
	c := newTestCoordinator(Config{MaxConcurrency: 2}, nil)

	resp := c.Process(context.Background(), items("a", "b", "a", "c"), func(ctx context.Context, item domain.BatchItem) error {
		return errors.New("boom")
	})

	want := []string{"a", "b", "a", "c"}
	if !reflect.DeepEqual(resp.FailedItemIDs, want) {
		t.Errorf("expected %v, got %v", want, resp.FailedItemIDs)
	}
}

func TestProcess_PartialFailureIsolated(t *testing.T) {
	c := newTestCoordinator(Config{}, nil)

	var mu sync.Mutex
	handled := map[string]int{}
	resp := c.Process(context.Background(), items("a", "b", "c"), func(ctx context.Context, item domain.BatchItem) error {
		mu.Lock()
		handled[item.ID]++
		mu.Unlock()
		if item.ID == "b" {
			return errors.New("invalid payload")
		}
		return nil
	})

	if !reflect.DeepEqual(resp.FailedItemIDs, []string{"b"}) {
		t.Errorf("expected [b], got %v", resp.FailedItemIDs)
	}
	for _, id := range []string{"a", "b", "c"} {
		if handled[id] != 1 {
			t.Errorf("expected %s handled once, got %d", id, handled[id])
		}
	}
}

func TestProcess_DuplicateIdentifiersKeepOwnOutcome(t *testing.T) {
	c := newTestCoordinator(Config{}, nil)

	batch := []domain.BatchItem{
		{ID: "dup", Payload: []byte("ok")},
		{ID: "dup", Payload: []byte("fail")},
	}
	results := c.ProcessDetailed(context.Background(), batch, func(ctx context.Context, item domain.BatchItem) error {
		if string(item.Payload) == "fail" {
			return errors.New("bad")
		}
		return nil
	})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].IsFailure() || !results[1].IsFailure() {
		t.Errorf("unexpected outcomes: %+v", results)
	}
	if resp := Response(results); !reflect.DeepEqual(resp.FailedItemIDs, []string{"dup"}) {
		t.Errorf("expected [dup], got %v", resp.FailedItemIDs)
	}
}

func TestProcess_PanicBecomesItemFailure(t *testing.T) {
	c := newTestCoordinator(Config{}, nil)

	results := c.ProcessDetailed(context.Background(), items("a", "b"), func(ctx context.Context, item domain.BatchItem) error {
		if item.ID == "a" {
			panic("nil map write")
		}
		return nil
	})

	var pe *PanicError
	if !errors.As(results[0].Err, &pe) {
		t.Fatalf("expected *PanicError, got %v", results[0].Err)
	}
	if pe.Value != "nil map write" || len(pe.Stack) == 0 {
		t.Errorf("unexpected panic error: %+v", pe)
	}
	if results[1].IsFailure() {
		t.Error("sibling item must not be affected by a panic")
	}
}

func TestProcess_DeadlineReportsPendingItems(t *testing.T) {
	c := newTestCoordinator(Config{Timeout: 50 * time.Millisecond}, nil)

	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	results := c.ProcessDetailed(context.Background(), items("a", "d", "c"), func(ctx context.Context, item domain.BatchItem) error {
		if item.ID == "d" {
			// Ignores cancellation on purpose
			<-release
		}
		return nil
	})

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("stuck item blocked the batch for %v", elapsed)
	}
	if resp := Response(results); !reflect.DeepEqual(resp.FailedItemIDs, []string{"d"}) {
		t.Errorf("expected [d], got %v", resp.FailedItemIDs)
	}
	if !errors.Is(results[1].Err, ErrItemAbandoned) {
		t.Errorf("expected ErrItemAbandoned, got %v", results[1].Err)
	}
}

func TestProcess_ContextDeadlineMinusMargin(t *testing.T) {
	c := newTestCoordinator(Config{DeadlineMargin: time.Second}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second+50*time.Millisecond)
	defer cancel()

	var cause atomic.Value
	start := time.Now()
	resp := c.Process(ctx, items("slow"), func(ctx context.Context, item domain.BatchItem) error {
		<-ctx.Done()
		cause.Store(context.Cause(ctx))
		return ctx.Err()
	})

	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("expected the margin to be reserved, batch took %v", elapsed)
	}
	if !reflect.DeepEqual(resp.FailedItemIDs, []string{"slow"}) {
		t.Errorf("expected [slow], got %v", resp.FailedItemIDs)
	}
	if got, _ := cause.Load().(error); got != nil && !errors.Is(got, ErrBatchDeadline) {
		t.Errorf("expected ErrBatchDeadline as cancellation cause, got %v", got)
	}
}

func TestProcess_RespectsConcurrencyLimit(t *testing.T) {
	c := newTestCoordinator(Config{MaxConcurrency: 3}, nil)

	var inFlight, peak atomic.Int32
	resp := c.Process(context.Background(), items("1", "2", "3", "4", "5", "6", "7", "8", "9", "10"), func(ctx context.Context, item domain.BatchItem) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	if !resp.Empty() {
		t.Errorf("expected empty response, got %v", resp.FailedItemIDs)
	}
	if p := peak.Load(); p > 3 {
		t.Errorf("expected at most 3 concurrent handlers, saw %d", p)
	}
}

func TestProcess_RepeatableForPureHandler(t *testing.T) {
	handler := func(ctx context.Context, item domain.BatchItem) error {
		if item.ID == "b" || item.ID == "e" {
			return errors.New("rejected")
		}
		return nil
	}
	batch := items("a", "b", "c", "d", "e")

	first := newTestCoordinator(Config{}, nil).Process(context.Background(), batch, handler)
	second := newTestCoordinator(Config{}, nil).Process(context.Background(), batch, handler)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("expected identical responses, got %v and %v", first, second)
	}
	if !reflect.DeepEqual(first.FailedItemIDs, []string{"b", "e"}) {
		t.Errorf("expected [b e], got %v", first.FailedItemIDs)
	}
}

func TestProcess_LedgerRecordsAndResolves(t *testing.T) {
	ledger := &mockLedger{}
	c := newTestCoordinator(Config{}, ledger)

	c.Process(context.Background(), items("a", "b"), func(ctx context.Context, item domain.BatchItem) error {
		if item.ID == "b" {
			return errors.New("downstream rejected")
		}
		return nil
	})

	if len(ledger.failed) != 1 || ledger.failed[0].ItemID != "b" {
		t.Fatalf("expected one failure for b, got %+v", ledger.failed)
	}
	if ledger.failed[0].Source != "test-queue" || ledger.failed[0].Error != "downstream rejected" {
		t.Errorf("unexpected ledger entry: %+v", ledger.failed[0])
	}
	if !reflect.DeepEqual(ledger.resolved, []string{"a"}) {
		t.Errorf("expected a resolved, got %v", ledger.resolved)
	}
}

func TestConfig_WithDefaultsDeadlineMargin(t *testing.T) {
	tests := []struct {
		name   string
		margin time.Duration
		want   time.Duration
	}{
		{"unset", 0, DefaultConfig.DeadlineMargin},
		{"explicit", 300 * time.Millisecond, 300 * time.Millisecond},
		{"disabled", -1, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := (Config{DeadlineMargin: tt.margin}).WithDefaults()
			if cfg.DeadlineMargin != tt.want {
				t.Errorf("expected margin %v, got %v", tt.want, cfg.DeadlineMargin)
			}
			if again := cfg.WithDefaults(); again != cfg {
				t.Errorf("expected defaults to be stable, got %+v then %+v", cfg, again)
			}
		})
	}
}

func TestProcess_DefaultMarginAnswersBeforeInvocationDeadline(t *testing.T) {
	ledger := &mockLedger{}
	c := newTestCoordinator(Config{}, ledger)

	ctx, cancel := context.WithTimeout(context.Background(), DefaultConfig.DeadlineMargin+200*time.Millisecond)
	defer cancel()

	resp := c.Process(ctx, items("stuck"), func(ctx context.Context, item domain.BatchItem) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if ctx.Err() != nil {
		t.Fatal("response produced after the invocation deadline")
	}
	if !reflect.DeepEqual(resp.FailedItemIDs, []string{"stuck"}) {
		t.Errorf("expected [stuck], got %v", resp.FailedItemIDs)
	}
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if len(ledger.failed) != 1 {
		t.Errorf("expected the failure to reach the ledger, got %+v", ledger.failed)
	}
}

func TestProcess_NegativeMarginUsesFullDeadline(t *testing.T) {
	c := newTestCoordinator(Config{DeadlineMargin: -1}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	resp := c.Process(ctx, items("a"), func(ctx context.Context, item domain.BatchItem) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})

	if !resp.Empty() {
		t.Errorf("expected the item to finish within the deadline, got %v", resp.FailedItemIDs)
	}
}

func TestProcess_NoDispatchAfterDeadline(t *testing.T) {
	c := newTestCoordinator(Config{MaxConcurrency: 1, Timeout: 50 * time.Millisecond}, nil)

	var late atomic.Int32
	resp := c.Process(context.Background(), items("slow", "b", "c"), func(ctx context.Context, item domain.BatchItem) error {
		if item.ID != "slow" {
			late.Add(1)
			return nil
		}
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		return ctx.Err()
	})

	if !reflect.DeepEqual(resp.FailedItemIDs, []string{"slow", "b", "c"}) {
		t.Errorf("expected [slow b c], got %v", resp.FailedItemIDs)
	}

	// Let the slow handler release its slot
	time.Sleep(100 * time.Millisecond)
	if n := late.Load(); n != 0 {
		t.Errorf("expected abandoned items not to run, %d handlers started after the deadline", n)
	}
}
