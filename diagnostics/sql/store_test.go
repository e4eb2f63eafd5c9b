package sql

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	coordinator "github.com/flowmod/coordinator"
	"github.com/flowmod/coordinator/diagnostics"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory sqlite db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := New(Config{DB: db, Dialect: SQLiteDialect{}})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return s
}

func TestSQLiteRecordCompletedThenGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := diagnostics.Record{
		ModID:         11,
		JobID:         coordinator.NewJobID(),
		Description:   "migrateAllFrom(tm-1)",
		Action:        coordinator.ActionStopping,
		TerminalState: "COMPLETED",
		CreatedAt:     time.Now().Truncate(time.Second),
		Duration:      2500 * time.Millisecond,
	}
	if err := s.RecordCompleted(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.Get(ctx, 11)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Description != rec.Description || got.Action != rec.Action {
		t.Fatalf("expected round-tripped record to match, got %+v", got)
	}
	if got.Duration != rec.Duration {
		t.Fatalf("expected duration %v, got %v", rec.Duration, got.Duration)
	}
}

func TestSQLiteUpsertOverwritesOnConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := diagnostics.Record{ModID: 3, TerminalState: "OPEN"}
	if err := s.RecordCompleted(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec.TerminalState = "COMPLETED"
	if err := s.RecordCompleted(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.Get(ctx, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TerminalState != "COMPLETED" {
		t.Fatalf("expected upsert to overwrite terminal state, got %q", got.TerminalState)
	}
}

func TestSQLiteGetUnknownReturnsErrNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), 999); err != diagnostics.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteRecordLeakedSlots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordCompleted(ctx, diagnostics.Record{ModID: 4, TerminalState: "DISCARDED"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.RecordLeakedSlots(ctx, 4, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
