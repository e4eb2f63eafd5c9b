package registry

import (
	"context"
	"testing"
	"time"

	coordinator "github.com/flowmod/coordinator"
	"github.com/flowmod/coordinator/modification"
)

func newTestVertex() coordinator.ExecutionVertex {
	return coordinator.ExecutionVertex{
		VertexID:             coordinator.NewVertexID(),
		Name:                 "op",
		ParallelSubtaskIndex: 0,
		AttemptID:            coordinator.NewExecutionAttemptID(),
		State:                coordinator.StatePaused,
	}
}

func TestInsertAndLookupPending(t *testing.T) {
	r := New(nil)
	a1 := coordinator.NewExecutionAttemptID()
	p := modification.New(1, coordinator.NewJobID(), "t", coordinator.ActionPausing, map[coordinator.ExecutionAttemptID]struct{}{a1: {}}, time.Hour, nil)
	r.Insert(p)

	got, inCompleted, inFailed := r.Lookup(1)
	if got != p || inCompleted || inFailed {
		t.Fatalf("expected lookup to return the inserted pending record")
	}
}

func TestMoveToCompletedRemovesFromPending(t *testing.T) {
	r := New(nil)
	a1 := coordinator.NewExecutionAttemptID()
	p := modification.New(2, coordinator.NewJobID(), "t", coordinator.ActionPausing, map[coordinator.ExecutionAttemptID]struct{}{a1: {}}, time.Hour, nil)
	r.Insert(p)

	r.MoveToCompleted(context.Background(), 2, &modification.CompletedModification{ModID: 2})

	got, inCompleted, inFailed := r.Lookup(2)
	if got != nil || !inCompleted || inFailed {
		t.Fatalf("expected modification 2 to be in completed only")
	}
}

func TestMoveToFailedRemovesFromPending(t *testing.T) {
	r := New(nil)
	a1 := coordinator.NewExecutionAttemptID()
	p := modification.New(3, coordinator.NewJobID(), "t", coordinator.ActionPausing, map[coordinator.ExecutionAttemptID]struct{}{a1: {}}, time.Hour, nil)
	r.Insert(p)

	r.MoveToFailed(context.Background(), p, modification.Declined)

	got, inCompleted, inFailed := r.Lookup(3)
	if got != nil || inCompleted || !inFailed {
		t.Fatalf("expected modification 3 to be in failed only")
	}
}

func TestLookupUnknownModification(t *testing.T) {
	r := New(nil)
	got, inCompleted, inFailed := r.Lookup(999)
	if got != nil || inCompleted || inFailed {
		t.Fatal("expected unknown modification to be absent from every map")
	}
}

func TestStoreStateReportsOverwrite(t *testing.T) {
	r := New(nil)
	attempt := coordinator.NewExecutionAttemptID()

	if overwritten := r.StoreState(StoredSubtaskState{AttemptID: attempt, Blob: []byte("a")}); overwritten {
		t.Fatal("expected first insert to report overwritten=false")
	}
	if overwritten := r.StoreState(StoredSubtaskState{AttemptID: attempt, Blob: []byte("b")}); !overwritten {
		t.Fatal("expected second insert to report overwritten=true")
	}
}

func TestTryConsumeForRestartRequiresAllThreeConditions(t *testing.T) {
	r := New(nil)
	v := newTestVertex()

	// Neither vertex nor state registered yet.
	if _, _, _, ok := r.TryConsumeForRestart(v.AttemptID, coordinator.StatePaused); ok {
		t.Fatal("expected failure with no vertex and no state registered")
	}

	r.MarkForRestart(v)
	if _, _, _, ok := r.TryConsumeForRestart(v.AttemptID, coordinator.StatePaused); ok {
		t.Fatal("expected failure with vertex but no state registered")
	}

	r.StoreState(StoredSubtaskState{AttemptID: v.AttemptID, Blob: []byte("snapshot")})
	if _, _, _, ok := r.TryConsumeForRestart(v.AttemptID, coordinator.StateRunning); ok {
		t.Fatal("expected failure when currentState is not PAUSED")
	}

	gotV, gotSlot, gotState, ok := r.TryConsumeForRestart(v.AttemptID, coordinator.StatePaused)
	if !ok {
		t.Fatal("expected success once all three conditions hold")
	}
	if gotV.AttemptID != v.AttemptID || string(gotState.Blob) != "snapshot" {
		t.Fatal("expected returned vertex/state to match what was registered")
	}
	if gotSlot != v.Slot {
		t.Fatal("expected returned slot to default to the vertex's own slot")
	}

	// Consuming again must fail: both entries were deleted.
	if _, _, _, ok := r.TryConsumeForRestart(v.AttemptID, coordinator.StatePaused); ok {
		t.Fatal("expected second consume to fail, entries should be deleted")
	}
}

func TestMarkForRestartWithSlotUsesReplacementSlot(t *testing.T) {
	r := New(nil)
	v := newTestVertex()
	replacement := coordinator.Slot{TaskManagerID: coordinator.TaskManagerID(coordinator.NewVertexID())}
	r.MarkForRestartWithSlot(v, replacement)
	r.StoreState(StoredSubtaskState{AttemptID: v.AttemptID, Blob: []byte("snapshot")})

	_, gotSlot, _, ok := r.TryConsumeForRestart(v.AttemptID, coordinator.StatePaused)
	if !ok {
		t.Fatal("expected success")
	}
	if gotSlot != replacement {
		t.Fatalf("expected the explicitly registered replacement slot, got %+v", gotSlot)
	}
}

func TestIsAwaitingRestart(t *testing.T) {
	r := New(nil)
	v := newTestVertex()

	if r.IsAwaitingRestart(v.AttemptID) {
		t.Fatal("expected false before MarkForRestart")
	}
	r.MarkForRestart(v)
	if !r.IsAwaitingRestart(v.AttemptID) {
		t.Fatal("expected true after MarkForRestart")
	}
}

func TestPendingCount(t *testing.T) {
	r := New(nil)
	if r.PendingCount() != 0 {
		t.Fatal("expected 0 pending at start")
	}
	a1 := coordinator.NewExecutionAttemptID()
	r.Insert(modification.New(1, coordinator.NewJobID(), "t", coordinator.ActionPausing, map[coordinator.ExecutionAttemptID]struct{}{a1: {}}, time.Hour, nil))
	if r.PendingCount() != 1 {
		t.Fatalf("expected 1 pending, got %d", r.PendingCount())
	}
}

func TestReleaseRestartSlotsCountsOnlyEntriesStillAwaitingRestart(t *testing.T) {
	r := New(nil)
	v1 := newTestVertex()
	v2 := newTestVertex()
	r.MarkForRestart(v1)

	n := r.ReleaseRestartSlots(context.Background(), 1, map[coordinator.ExecutionAttemptID]struct{}{v1.AttemptID: {}, v2.AttemptID: {}})
	if n != 1 {
		t.Fatalf("expected 1 entry actually released, got %d", n)
	}
	if r.IsAwaitingRestart(v1.AttemptID) {
		t.Fatal("expected v1 removed from vertexToRestart after release")
	}
}
