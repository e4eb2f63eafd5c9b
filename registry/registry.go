// Package registry holds the coordinator's in-memory bookkeeping (spec
// §4.C): the pending/completed/failed modification maps, the storedState
// map, and the vertexToRestart map, all guarded by one mutex. This is the
// Go-domain counterpart of the teacher's store/memory.Store map+RWMutex
// shape, generalized from generation/worker bookkeeping to modification
// bookkeeping.
package registry

import (
	"context"
	"sync"
	"time"

	coordinator "github.com/flowmod/coordinator"
	"github.com/flowmod/coordinator/diagnostics"
	"github.com/flowmod/coordinator/modification"
)

// StoredSubtaskState is the opaque snapshot output of a paused subtask's
// checkpoint, consumed exactly once by the restart engine.
type StoredSubtaskState struct {
	AttemptID coordinator.ExecutionAttemptID
	Blob      []byte
}

// restartEntry pairs a vertex awaiting restart with the slot it should be
// redeployed to: the vertex's own slot if it never moved (pause/resume in
// place), or a freshly pre-allocated replacement slot if it did (migration).
type restartEntry struct {
	vertex coordinator.ExecutionVertex
	slot   coordinator.Slot
}

// Registry owns the pending/completed/failed maps (keyed by
// ModificationID), the storedState map (keyed by ExecutionAttemptID), and
// the vertexToRestart map. A single mutex (`lock`) serializes all mutations
// across these maps; callers needing to order trigger invocations take
// their own `triggerLock` before calling into Registry (spec §5).
type Registry struct {
	lock sync.Mutex

	pending   map[coordinator.ModificationID]*modification.Pending
	completed map[coordinator.ModificationID]*modification.CompletedModification
	failed    map[coordinator.ModificationID]modification.TerminalState

	storedState     map[coordinator.ExecutionAttemptID]StoredSubtaskState
	vertexToRestart map[coordinator.ExecutionAttemptID]restartEntry

	diagnostics diagnostics.Store
}

// New creates an empty Registry. diagStore may be nil, in which case
// completed/failed transitions are kept in memory only and never persisted
// (diagStore is normally the durable store a real deployment keeps behind
// this in-memory registry, spec §3).
func New(diagStore diagnostics.Store) *Registry {
	return &Registry{
		pending:         make(map[coordinator.ModificationID]*modification.Pending),
		completed:       make(map[coordinator.ModificationID]*modification.CompletedModification),
		failed:          make(map[coordinator.ModificationID]modification.TerminalState),
		storedState:     make(map[coordinator.ExecutionAttemptID]StoredSubtaskState),
		vertexToRestart: make(map[coordinator.ExecutionAttemptID]restartEntry),
		diagnostics:     diagStore,
	}
}

// Insert adds a freshly created PendingModification to the pending map.
func (r *Registry) Insert(p *modification.Pending) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.pending[p.ModID] = p
}

// Lookup classifies an inbound reply's target: returns the live Pending
// record if still pending, or a nil record with inCompleted/inFailed set to
// say where it was found instead (or neither, if truly unknown).
func (r *Registry) Lookup(modID coordinator.ModificationID) (p *modification.Pending, inCompleted, inFailed bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if p, ok := r.pending[modID]; ok {
		return p, false, false
	}
	if _, ok := r.completed[modID]; ok {
		return nil, true, false
	}
	if _, ok := r.failed[modID]; ok {
		return nil, false, true
	}
	return nil, false, false
}

// MoveToCompleted removes modID from pending, records its completion
// snapshot, and persists it to the diagnostics store (spec §3). No-op on
// the maps if modID was not pending; the diagnostics write is attempted
// regardless, since snapshot is self-contained.
func (r *Registry) MoveToCompleted(ctx context.Context, modID coordinator.ModificationID, snapshot *modification.CompletedModification) {
	r.lock.Lock()
	if _, ok := r.pending[modID]; ok {
		delete(r.pending, modID)
		r.completed[modID] = snapshot
	}
	r.lock.Unlock()

	if r.diagnostics == nil {
		return
	}
	// Best effort: a diagnostics write failure never unwinds the state
	// transition that already happened above.
	_ = r.diagnostics.RecordCompleted(ctx, diagnostics.Record{
		ModID:         snapshot.ModID,
		JobID:         snapshot.JobID,
		Description:   snapshot.Description,
		Action:        snapshot.Action,
		TerminalState: string(modification.Completed),
		CreatedAt:     snapshot.CreatedAt,
		Duration:      snapshot.Duration,
	})
}

// MoveToFailed removes pend from pending and records its terminal state,
// persisting it to the diagnostics store. Used for DECLINED, ERROR,
// DISCARDED, and (per the resolved open question in SPEC_FULL.md §9)
// EXPIRED as well.
func (r *Registry) MoveToFailed(ctx context.Context, pend *modification.Pending, terminal modification.TerminalState) {
	r.lock.Lock()
	delete(r.pending, pend.ModID)
	r.failed[pend.ModID] = terminal
	r.lock.Unlock()

	if r.diagnostics == nil {
		return
	}
	_ = r.diagnostics.RecordFailed(ctx, diagnostics.Record{
		ModID:         pend.ModID,
		JobID:         pend.JobID,
		Description:   pend.Description,
		Action:        pend.Action,
		TerminalState: string(terminal),
		CreatedAt:     pend.CreatedAt,
		Duration:      time.Since(pend.CreatedAt),
	})
}

// PendingCount returns the current size of the pending map, for the
// PendingModifications gauge.
func (r *Registry) PendingCount() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.pending)
}

// StoreState inserts a StateMigration snapshot. Duplicate inserts overwrite
// and the caller is told so it can log at debug level (spec §3: "idempotent
// insert logs a duplicate").
func (r *Registry) StoreState(state StoredSubtaskState) (overwritten bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	_, overwritten = r.storedState[state.AttemptID]
	r.storedState[state.AttemptID] = state
	return overwritten
}

// MarkForRestart records that v was paused/stopped in place and is awaiting
// a matching StoredSubtaskState before it can be redeployed to its own,
// unchanged slot.
func (r *Registry) MarkForRestart(v coordinator.ExecutionVertex) {
	r.MarkForRestartWithSlot(v, v.Slot)
}

// MarkForRestartWithSlot records that v is awaiting a matching
// StoredSubtaskState before it can be redeployed to slot — a freshly
// pre-allocated replacement slot when v is migrating, or v's own current
// slot when it is merely pausing in place.
func (r *Registry) MarkForRestartWithSlot(v coordinator.ExecutionVertex, slot coordinator.Slot) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.vertexToRestart[v.AttemptID] = restartEntry{vertex: v, slot: slot}
}

// TryConsumeForRestart atomically checks the three-condition restart guard
// (spec §4.F) against currentState and, if all three hold, removes both map
// entries and returns them, along with the slot to redeploy to, for the
// restart engine to act on.
func (r *Registry) TryConsumeForRestart(attemptID coordinator.ExecutionAttemptID, currentState coordinator.ExecutionState) (v coordinator.ExecutionVertex, slot coordinator.Slot, state StoredSubtaskState, ok bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	entry, hasVertex := r.vertexToRestart[attemptID]
	state, hasState := r.storedState[attemptID]
	if !hasVertex || !hasState || currentState != coordinator.StatePaused {
		return coordinator.ExecutionVertex{}, coordinator.Slot{}, StoredSubtaskState{}, false
	}
	delete(r.vertexToRestart, attemptID)
	delete(r.storedState, attemptID)
	return entry.vertex, entry.slot, state, true
}

// IsAwaitingRestart reports whether attemptID is registered for restart,
// used by intake to decide whether to call into the restart engine at all.
func (r *Registry) IsAwaitingRestart(attemptID coordinator.ExecutionAttemptID) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	_, ok := r.vertexToRestart[attemptID]
	return ok
}

// ReleaseRestartSlots removes every attempt in attempts still awaiting
// restart and reports how many were actually found and removed. Used when
// a modification is declined, discarded, or expires mid-flight: the
// attempts it covered never get to acknowledge, so any slot pre-allocated
// for them leaks rather than being consumed by a redeploy (SPEC_FULL.md
// supplemented feature #3). Reporting the real count, rather than trusting
// the caller's own tally of affected attempts, is what lets the
// leaked-slots metric and diagnostics record reflect slots that were
// genuinely outstanding. modID identifies the modification responsible,
// for the diagnostics write; the write is best-effort like MoveToFailed's.
func (r *Registry) ReleaseRestartSlots(ctx context.Context, modID coordinator.ModificationID, attempts map[coordinator.ExecutionAttemptID]struct{}) int {
	r.lock.Lock()
	n := 0
	for id := range attempts {
		if _, ok := r.vertexToRestart[id]; ok {
			delete(r.vertexToRestart, id)
			n++
		}
	}
	r.lock.Unlock()

	if n > 0 && r.diagnostics != nil {
		_ = r.diagnostics.RecordLeakedSlots(ctx, modID, n)
	}
	return n
}
