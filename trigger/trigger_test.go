package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	coordinator "github.com/flowmod/coordinator"
	"github.com/flowmod/coordinator/external"
	"github.com/flowmod/coordinator/markers"
	"github.com/flowmod/coordinator/registry"
)

// fakeGraph models a three-stage chain: source -> middle -> sink, with one
// subtask each, so computeSpillAndStopMaps has an upstream and a downstream
// to exercise.
type fakeGraph struct {
	sourceID, middleID, sinkID coordinator.VertexID
	source, middle, sink       external.ExecutionJobVertex
	tm                         coordinator.TaskManagerID
}

func newFakeGraph(tm coordinator.TaskManagerID) *fakeGraph {
	g := &fakeGraph{
		sourceID: coordinator.NewVertexID(),
		middleID: coordinator.NewVertexID(),
		sinkID:   coordinator.NewVertexID(),
		tm:       tm,
	}
	g.source = external.ExecutionJobVertex{
		VertexID: g.sourceID, Name: "source",
		Subtasks: []coordinator.ExecutionVertex{{VertexID: g.sourceID, Name: "source", ParallelSubtaskIndex: 0, AttemptID: coordinator.NewExecutionAttemptID()}},
	}
	g.middle = external.ExecutionJobVertex{
		VertexID: g.middleID, Name: "middle-operator",
		Subtasks: []coordinator.ExecutionVertex{{
			VertexID: g.middleID, Name: "middle-operator", ParallelSubtaskIndex: 0,
			AttemptID: coordinator.NewExecutionAttemptID(),
			Slot:      coordinator.Slot{TaskManagerID: tm},
		}},
	}
	g.sink = external.ExecutionJobVertex{
		VertexID: g.sinkID, Name: "sink",
		Subtasks: []coordinator.ExecutionVertex{{VertexID: g.sinkID, Name: "sink", ParallelSubtaskIndex: 0, AttemptID: coordinator.NewExecutionAttemptID()}},
	}
	return g
}

func (g *fakeGraph) AllVertices() map[coordinator.VertexID]external.ExecutionJobVertex {
	return map[coordinator.VertexID]external.ExecutionJobVertex{g.sourceID: g.source, g.middleID: g.middle, g.sinkID: g.sink}
}
func (g *fakeGraph) VerticesInCreationOrder() []external.ExecutionJobVertex { return nil }

func (g *fakeGraph) UpstreamOf(v coordinator.VertexID) *external.ExecutionJobVertex {
	if v == g.middleID {
		return &g.source
	}
	if v == g.sinkID {
		return &g.middle
	}
	return nil
}

func (g *fakeGraph) DownstreamOf(v coordinator.VertexID) *external.ExecutionJobVertex {
	if v == g.sourceID {
		return &g.middle
	}
	if v == g.middleID {
		return &g.sink
	}
	return nil
}

func (g *fakeGraph) Sources() []external.ExecutionJobVertex { return []external.ExecutionJobVertex{g.source} }
func (g *fakeGraph) GlobalModVersion() int64                { return 0 }
func (g *fakeGraph) ResetForNewExecutionMigration(coordinator.ExecutionVertex, time.Time, int64) (coordinator.ExecutionAttemptID, error) {
	return coordinator.NewExecutionAttemptID(), nil
}
func (g *fakeGraph) FailGlobal(error) {}
func (g *fakeGraph) InsertVertex(context.Context, string, int, coordinator.VertexID, coordinator.VertexID) ([]coordinator.ExecutionVertex, error) {
	return nil, nil
}

type fakeSlots struct{}

func (fakeSlots) AllocateSlotExceptOnTaskManager(context.Context, coordinator.TaskManagerID) (coordinator.Slot, error) {
	return coordinator.Slot{}, nil
}

type fakeCheckpoint struct{ current int64 }

func (c fakeCheckpoint) GetCurrent() int64 { return c.current }

type fakeGateway struct {
	mu    sync.Mutex
	calls int
}

func (g *fakeGateway) ResumeTask(context.Context, coordinator.ExecutionAttemptID, coordinator.Slot, time.Duration) error {
	return nil
}
func (g *fakeGateway) TriggerMigration(context.Context, coordinator.ModificationID, time.Time, map[coordinator.ExecutionAttemptID]map[int]struct{}, map[coordinator.ExecutionAttemptID][]coordinator.InputChannelDescriptor, int64) error {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return nil
}
func (g *fakeGateway) TriggerResumeWithDifferentInputs(context.Context, coordinator.ExecutionAttemptID, []coordinator.InputChannelDescriptor) error {
	return nil
}
func (g *fakeGateway) TriggerResumeWithNewInput(context.Context, coordinator.ExecutionAttemptID, coordinator.InputChannelDescriptor, int) error {
	return nil
}
func (g *fakeGateway) ConsumeNewProducer(context.Context, coordinator.ExecutionAttemptID, coordinator.ExecutionAttemptID, coordinator.ResultPartitionID, coordinator.TaskManagerLocation, int, int) error {
	return nil
}

type fakeSink struct {
	mu                   sync.Mutex
	startModifications   int
	startMigrations      int
	cancelModifications  int
}

func (s *fakeSink) BroadcastStartModification(coordinator.VertexID, markers.StartModificationMarker) error {
	s.mu.Lock()
	s.startModifications++
	s.mu.Unlock()
	return nil
}
func (s *fakeSink) BroadcastStartMigration(coordinator.VertexID, markers.StartMigrationMarker) error {
	s.mu.Lock()
	s.startMigrations++
	s.mu.Unlock()
	return nil
}
func (s *fakeSink) BroadcastCancelModification(coordinator.VertexID, markers.CancelModificationMarker) error {
	s.mu.Lock()
	s.cancelModifications++
	s.mu.Unlock()
	return nil
}

func newTestEngine(t *testing.T, graph *fakeGraph, gw *fakeGateway, sink *fakeSink) *Engine {
	t.Helper()
	e, err := New(Config{
		JobID:      coordinator.NewJobID(),
		Graph:      graph,
		Slots:      fakeSlots{},
		Checkpoint: fakeCheckpoint{current: 10},
		Gateway:    gw,
		Sink:       sink,
		Registry:   registry.New(nil),
		Deadline:   time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestPauseAllMatchesByNameSubstring(t *testing.T) {
	tm := coordinator.TaskManagerID{}
	graph := newFakeGraph(tm)
	sink := &fakeSink{}
	e := newTestEngine(t, graph, &fakeGateway{}, sink)

	modID, err := e.PauseAll(context.Background(), "middle")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if modID != 1 {
		t.Fatalf("expected first modification id to be 1, got %d", modID)
	}
	if sink.startModifications != 1 {
		t.Fatalf("expected one broadcast, got %d", sink.startModifications)
	}
}

func TestPauseAllNoMatchReturnsError(t *testing.T) {
	graph := newFakeGraph(coordinator.TaskManagerID{})
	e := newTestEngine(t, graph, &fakeGateway{}, &fakeSink{})

	if _, err := e.PauseAll(context.Background(), "nonexistent-operator"); err == nil {
		t.Fatal("expected an error when no vertex matches")
	}
}

func TestPauseSingleMarksForRestart(t *testing.T) {
	graph := newFakeGraph(coordinator.TaskManagerID{})
	reg := registry.New(nil)
	e, err := New(Config{
		JobID: coordinator.NewJobID(), Graph: graph, Slots: fakeSlots{}, Checkpoint: fakeCheckpoint{},
		Gateway: &fakeGateway{}, Sink: &fakeSink{}, Registry: reg, Deadline: time.Hour,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer e.Close()

	attempt := graph.middle.Subtasks[0].AttemptID
	if _, err := e.PauseSingle(context.Background(), attempt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reg.IsAwaitingRestart(attempt) {
		t.Fatal("expected attempt to be marked for restart")
	}
}

func TestPauseSingleUnknownAttemptErrors(t *testing.T) {
	graph := newFakeGraph(coordinator.TaskManagerID{})
	e := newTestEngine(t, graph, &fakeGateway{}, &fakeSink{})

	if _, err := e.PauseSingle(context.Background(), coordinator.NewExecutionAttemptID()); err == nil {
		t.Fatal("expected an error for an attempt outside the graph")
	}
}

func TestMigrateAllFromComputesSpillAndStopMapsAndNotifiesGateway(t *testing.T) {
	tm := coordinator.TaskManagerID{0x1}
	graph := newFakeGraph(tm)
	gw := &fakeGateway{}
	sink := &fakeSink{}
	e := newTestEngine(t, graph, gw, sink)

	modID, err := e.MigrateAllFrom(context.Background(), tm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if modID == 0 {
		t.Fatal("expected a nonzero modification id")
	}
	if sink.startMigrations != 1 {
		t.Fatalf("expected one migration marker broadcast, got %d", sink.startMigrations)
	}

	gw.mu.Lock()
	calls := gw.calls
	gw.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected gateway TriggerMigration called once, got %d", calls)
	}
}

func TestMigrateAllFromNoSubtasksOnTaskManagerErrors(t *testing.T) {
	graph := newFakeGraph(coordinator.TaskManagerID{0x9})
	e := newTestEngine(t, graph, &fakeGateway{}, &fakeSink{})

	emptyTM := coordinator.TaskManagerID{0xff}
	if _, err := e.MigrateAllFrom(context.Background(), emptyTM); err == nil {
		t.Fatal("expected an error when no subtasks are hosted on the task manager")
	}
}

func TestUpcomingCheckpointIDAnchorsTwoAhead(t *testing.T) {
	graph := newFakeGraph(coordinator.TaskManagerID{})
	e, err := New(Config{
		JobID: coordinator.NewJobID(), Graph: graph, Slots: fakeSlots{}, Checkpoint: fakeCheckpoint{current: 5},
		Gateway: &fakeGateway{}, Sink: &fakeSink{}, Registry: registry.New(nil), Deadline: time.Hour,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer e.Close()

	if got := e.upcomingCheckpointID(); got != 7 {
		t.Fatalf("expected current+2=7, got %d", got)
	}
}

func TestUpcomingCheckpointIDNoAnchorBeforeSecondCheckpoint(t *testing.T) {
	graph := newFakeGraph(coordinator.TaskManagerID{})
	e, err := New(Config{
		JobID: coordinator.NewJobID(), Graph: graph, Slots: fakeSlots{}, Checkpoint: fakeCheckpoint{current: 0},
		Gateway: &fakeGateway{}, Sink: &fakeSink{}, Registry: registry.New(nil), Deadline: time.Hour,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer e.Close()

	if got := e.upcomingCheckpointID(); got != -1 {
		t.Fatalf("expected -1 when no checkpoint has completed twice yet, got %d", got)
	}
}

func TestCancelModificationBroadcastsAndDiscards(t *testing.T) {
	graph := newFakeGraph(coordinator.TaskManagerID{})
	sink := &fakeSink{}
	e := newTestEngine(t, graph, &fakeGateway{}, sink)

	modID, err := e.PauseAll(context.Background(), "middle")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := e.CancelModification(context.Background(), modID, map[coordinator.ExecutionAttemptID]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sink.cancelModifications != 1 {
		t.Fatalf("expected one cancel broadcast, got %d", sink.cancelModifications)
	}
}

func TestComputeSpillAndStopMapsKeyedByConsumerWithRealLocation(t *testing.T) {
	tm := coordinator.TaskManagerID{0x1}
	graph := newFakeGraph(tm)
	migrating := graph.middle.Subtasks

	local := coordinator.Slot{TaskManagerID: graph.sink.Subtasks[0].Slot.TaskManagerID}
	newSlots := map[coordinator.ExecutionAttemptID]coordinator.Slot{
		migrating[0].AttemptID: local,
	}

	spill, stop := computeSpillAndStopMaps(graph, migrating, newSlots)

	consumerID := graph.sink.Subtasks[0].AttemptID
	descs, ok := stop[consumerID]
	if !ok || len(descs) != 1 {
		t.Fatalf("expected stop map keyed by the downstream consumer's attempt id, got %+v", stop)
	}
	if descs[0].Location != coordinator.LocationLocal {
		t.Fatalf("expected local location when replacement slot shares the consumer's task manager, got %v", descs[0].Location)
	}

	if _, ok := spill[migrating[0].AttemptID]; ok {
		t.Fatal("expected the migrating vertex itself to be removed from the spill map")
	}
	sourceAttempt := graph.source.Subtasks[0].AttemptID
	if _, ok := spill[sourceAttempt]; !ok {
		t.Fatal("expected the upstream producer to still be present in the spill map")
	}
}

func TestCancelModificationReleasesActualLeakedSlotsOnly(t *testing.T) {
	graph := newFakeGraph(coordinator.TaskManagerID{})
	reg := registry.New(nil)
	e, err := New(Config{
		JobID: coordinator.NewJobID(), Graph: graph, Slots: fakeSlots{}, Checkpoint: fakeCheckpoint{},
		Gateway: &fakeGateway{}, Sink: &fakeSink{}, Registry: reg, Deadline: time.Hour,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer e.Close()

	tracked := coordinator.NewExecutionAttemptID()
	untracked := coordinator.NewExecutionAttemptID()
	reg.MarkForRestart(coordinator.ExecutionVertex{AttemptID: tracked})

	modID, err := e.PauseAll(context.Background(), "middle")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vertexIDs := map[coordinator.ExecutionAttemptID]struct{}{tracked: {}, untracked: {}}
	if err := e.CancelModification(context.Background(), modID, vertexIDs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.IsAwaitingRestart(tracked) {
		t.Fatal("expected the tracked attempt's pre-allocated slot to be released")
	}
}

func TestCancelModificationUnknownIDErrors(t *testing.T) {
	graph := newFakeGraph(coordinator.TaskManagerID{})
	e := newTestEngine(t, graph, &fakeGateway{}, &fakeSink{})

	if err := e.CancelModification(context.Background(), 999, nil); err == nil {
		t.Fatal("expected an error for an unknown modification id")
	}
}
