package postgres

import (
	"context"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/lambdakit/internal/core/domain"
)

func TestRecordQuery_MatchesUniqueConstraint(t *testing.T) {
	schema, err := migrations.ReadFile("migrations/00001_failed_items.sql")
	if err != nil {
		t.Fatalf("failed to read migration: %v", err)
	}
	if !strings.Contains(string(schema), "UNIQUE (source, item_id)") {
		t.Fatal("migration must keep the (source, item_id) unique constraint")
	}
	if !strings.Contains(recordFailedItemQuery, "ON CONFLICT (source, item_id) DO UPDATE") {
		t.Error("record must upsert on (source, item_id)")
	}
	if !strings.Contains(recordFailedItemQuery, "failure_count  = failed_items.failure_count + 1") {
		t.Error("record must bump the failure count of an existing entry")
	}
	if !strings.Contains(recordFailedItemQuery, "status         = 'pending'") {
		t.Error("record must reopen a resolved entry")
	}
}

func TestQueries_PlaceholderCount(t *testing.T) {
	placeholder := regexp.MustCompile(`\$(\d+)`)
	tests := map[string]struct {
		query string
		args  int
	}{
		"record":  {recordFailedItemQuery, 4},
		"resolve": {resolveFailedItemQuery, 2},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			seen := map[string]bool{}
			for _, m := range placeholder.FindAllStringSubmatch(tt.query, -1) {
				seen[m[1]] = true
			}
			if len(seen) != tt.args {
				t.Errorf("expected %d placeholders, got %v", tt.args, seen)
			}
		})
	}
}

func TestResolveQuery_OnlyPending(t *testing.T) {
	if !strings.Contains(resolveFailedItemQuery, "status = 'pending'") {
		t.Error("resolve must only touch pending entries")
	}
}

func TestFailedItemRepo_Live(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Skipping live ledger test. Set TEST_DATABASE_URL to run.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := NewDB(ctx, Config{URL: url})
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	repo := NewFailedItemRepo(db)
	source := "test-" + uuid.New().String()
	record := func(msg string) {
		t.Helper()
		if err := repo.Record(ctx, &domain.FailedItem{Source: source, ItemID: "m-1", Error: msg}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	record("first")
	record("second")

	item, err := repo.Get(ctx, source, "m-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if item.FailureCount != 2 || item.Error != "second" || item.Status != domain.FailedItemStatusPending {
		t.Errorf("unexpected entry after upsert: %+v", item)
	}

	if err := repo.Resolve(ctx, source, "m-1"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if n, err := repo.Count(ctx, source); err != nil || n != 0 {
		t.Errorf("expected no pending entries, got %d (%v)", n, err)
	}

	record("third")
	item, err = repo.Get(ctx, source, "m-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if item.FailureCount != 3 || item.Status != domain.FailedItemStatusPending {
		t.Errorf("expected reopened entry with count 3, got %+v", item)
	}
}
