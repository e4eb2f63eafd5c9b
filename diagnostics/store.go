// Package diagnostics persists completed and failed modifications for
// late-message diagnostics (spec §3: "retained for late-message
// diagnostics and never pruned by this spec"). This is the durable
// counterpart of Registry's in-memory completed/failed maps, grounded on
// the teacher's store.GenerationStore interface split with
// memory/postgres-backed implementations.
package diagnostics

import (
	"context"
	"errors"
	"time"

	coordinator "github.com/flowmod/coordinator"
)

// ErrNotFound is returned when a ModificationID has no diagnostics record.
var ErrNotFound = errors.New("diagnostics: modification not found")

// Record is a durable diagnostics entry for one modification, terminal or
// completed.
type Record struct {
	ModID         coordinator.ModificationID
	JobID         coordinator.JobID
	Description   string
	Action        coordinator.ModificationAction
	TerminalState string
	CreatedAt     time.Time
	RecordedAt    time.Time
	Duration      time.Duration
}

// Store persists diagnostics Records. Implementations must be safe for
// concurrent access.
type Store interface {
	// RecordCompleted stores a successfully completed modification.
	RecordCompleted(ctx context.Context, rec Record) error

	// RecordFailed stores a modification that reached a non-completed
	// terminal state (DECLINED, EXPIRED, ERROR, DISCARDED).
	RecordFailed(ctx context.Context, rec Record) error

	// Get retrieves a record by ModificationID. Returns ErrNotFound if
	// absent.
	Get(ctx context.Context, modID coordinator.ModificationID) (Record, error)

	// RecordLeakedSlots notes that a declined/discarded/expired migration left
	// slotCount pre-allocated slots unconsumed (SPEC_FULL.md supplemented
	// feature #3: surfaced via diagnostics rather than released).
	RecordLeakedSlots(ctx context.Context, modID coordinator.ModificationID, slotCount int) error
}
