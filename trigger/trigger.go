// Package trigger implements the coordinator's trigger engine (spec §4.D):
// it turns an abstract intent (pause an operator, migrate everything off a
// worker) into a pending modification, pre-allocates replacement slots,
// computes the spilling-upstream and pausing-target sets, and emits the
// marker that starts it all through the job's source vertices.
//
// computeSpillAndStopMaps does no sorting: the order of descriptors in a
// stop-map list follows the order in which the graph's vertex map is
// iterated. The call sequence
// around slot allocation and marker emission follows the intent described,
// but not implemented, by the teacher's recreate/orchestrator.go (it calls
// coordinator.IsLeader/AssignPartitionsIfLeader/TriggerReconfiguration,
// none of which the retrieved teacher snapshot defines) — that calling
// convention is adapted here into PauseAll/PauseSingle/MigrateAllFrom.
package trigger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	ants "github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"

	coordinator "github.com/flowmod/coordinator"
	"github.com/flowmod/coordinator/coordinatorerrors"
	"github.com/flowmod/coordinator/external"
	"github.com/flowmod/coordinator/internal/logging"
	"github.com/flowmod/coordinator/markers"
	"github.com/flowmod/coordinator/metrics"
	"github.com/flowmod/coordinator/modification"
	"github.com/flowmod/coordinator/registry"
)

// Config wires the trigger engine's collaborators.
type Config struct {
	JobID      coordinator.JobID
	Graph      external.ExecutionGraph
	Slots      external.SlotProvider
	Checkpoint external.CheckpointIDCounter
	Gateway    external.TaskManagerGateway
	Sink       external.MarkerSink
	Registry   *registry.Registry
	Logger     logging.Logger
	Collector  *metrics.Collector

	// Deadline is how long a triggered modification waits for full
	// acknowledgement (default: 90s, spec §4.B).
	Deadline time.Duration

	// RPCPoolSize bounds the goroutine pool used to fan out gateway RPCs
	// (default: 64).
	RPCPoolSize int
}

// Engine is the trigger engine. It owns triggerLock, acquired before any
// call into Registry's own lock, to order trigger invocations relative to
// each other (spec §5).
type Engine struct {
	cfg Config

	triggerLock sync.Mutex
	nextModID   coordinator.ModificationID // next id to hand out; starts at 1

	pool *ants.Pool
}

// New creates a trigger Engine. If cfg.Deadline or cfg.RPCPoolSize are
// zero they default to 90s / 64.
func New(cfg Config) (*Engine, error) {
	if cfg.Deadline == 0 {
		cfg.Deadline = 90 * time.Second
	}
	if cfg.RPCPoolSize == 0 {
		cfg.RPCPoolSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger{}
	}

	pool, err := ants.NewPool(cfg.RPCPoolSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create rpc pool")
	}

	return &Engine{cfg: cfg, nextModID: 1, pool: pool}, nil
}

// Close releases the RPC goroutine pool.
func (e *Engine) Close() { e.pool.Release() }

func (e *Engine) allocateModID() coordinator.ModificationID {
	id := e.nextModID
	e.nextModID++
	return id
}

// onExpire is called by a Pending's deadline timer. Per the resolved open
// question (SPEC_FULL.md §9), EXPIRED modifications are also filed into
// the failed map. Attempts that never acknowledged in time leak any slot
// pre-allocated for them, same as an explicit decline.
func (e *Engine) onExpire(pend *modification.Pending) {
	ctx := context.Background()
	e.cfg.Registry.MoveToFailed(ctx, pend, modification.Expired)
	leaked := e.cfg.Registry.ReleaseRestartSlots(ctx, pend.ModID, pend.AllAttempts())
	if e.cfg.Collector != nil {
		e.cfg.Collector.IncModificationsFailed(string(modification.Expired))
		if leaked > 0 {
			e.cfg.Collector.IncLeakedSlots(leaked)
		}
	}
	e.cfg.Logger.Info(ctx, "modification expired", "modId", pend.ModID, "leakedSlots", leaked)
}

// resolveVertexByName is the case-insensitive substring-match resolver
// PauseAll uses to find its target vertices. It is the only way PauseAll
// selects vertices; the engine has no VertexId-keyed pause entry point.
func resolveVertexByName(graph external.ExecutionGraph, nameSubstring string) []external.ExecutionJobVertex {
	needle := strings.ToLower(nameSubstring)
	var out []external.ExecutionJobVertex
	for _, v := range graph.AllVertices() {
		if strings.Contains(strings.ToLower(v.Name), needle) {
			out = append(out, v)
		}
	}
	return out
}

// PauseAll pauses every subtask of every vertex whose name contains
// operatorName (case-insensitive). Action = PAUSING.
func (e *Engine) PauseAll(ctx context.Context, operatorName string) (coordinator.ModificationID, error) {
	e.triggerLock.Lock()
	defer e.triggerLock.Unlock()

	vertices := resolveVertexByName(e.cfg.Graph, operatorName)
	if len(vertices) == 0 {
		return 0, errors.Wrapf(coordinatorerrors.ErrLocalPolicyViolation, "no vertex matches %q", operatorName)
	}

	initial := make(map[coordinator.ExecutionAttemptID]struct{})
	subtaskIdx := make(map[int]struct{})
	for _, v := range vertices {
		for _, st := range v.Subtasks {
			initial[st.AttemptID] = struct{}{}
			subtaskIdx[st.ParallelSubtaskIndex] = struct{}{}
		}
	}

	modID := e.allocateModID()
	pend := modification.New(modID, e.cfg.JobID, fmt.Sprintf("pauseAll(%s)", operatorName), coordinator.ActionPausing, initial, e.cfg.Deadline, e.onExpire)
	e.cfg.Registry.Insert(pend)

	marker := markers.StartModificationMarker{
		Envelope:        markers.Envelope{ModID: modID, Timestamp: time.Now()},
		Acks:            initial,
		SubtasksToPause: subtaskIdx,
		Action:          coordinator.ActionPausing,
	}
	if err := e.broadcastToSources(marker); err != nil {
		pend.AbortError(err)
		e.cfg.Registry.MoveToFailed(ctx, pend, modification.Error)
		return 0, errors.Wrap(err, "broadcasting start modification marker")
	}

	if e.cfg.Collector != nil {
		e.cfg.Collector.IncModificationsTriggered(string(coordinator.ActionPausing))
		e.cfg.Collector.SetPendingModifications(e.cfg.Registry.PendingCount())
	}
	return modID, nil
}

// PauseSingle pauses one subtask. Action = STOPPING; the subtask is
// registered for later restart via Registry.MarkForRestart, which this
// method performs itself using the vertex looked up from the graph.
func (e *Engine) PauseSingle(ctx context.Context, attemptID coordinator.ExecutionAttemptID) (coordinator.ModificationID, error) {
	e.triggerLock.Lock()
	defer e.triggerLock.Unlock()

	vertex, idx, found := findVertexByAttempt(e.cfg.Graph, attemptID)
	if !found {
		return 0, errors.Wrapf(coordinatorerrors.ErrUnknownModification, "attempt %s not found in graph", attemptID)
	}

	initial := map[coordinator.ExecutionAttemptID]struct{}{attemptID: {}}
	modID := e.allocateModID()
	pend := modification.New(modID, e.cfg.JobID, fmt.Sprintf("pauseSingle(%s)", attemptID), coordinator.ActionStopping, initial, e.cfg.Deadline, e.onExpire)
	e.cfg.Registry.Insert(pend)
	e.cfg.Registry.MarkForRestart(vertex)

	marker := markers.StartModificationMarker{
		Envelope:        markers.Envelope{ModID: modID, Timestamp: time.Now()},
		Acks:            initial,
		SubtasksToPause: map[int]struct{}{idx: {}},
		Action:          coordinator.ActionStopping,
	}
	if err := e.broadcastToSources(marker); err != nil {
		pend.AbortError(err)
		e.cfg.Registry.MoveToFailed(ctx, pend, modification.Error)
		return 0, errors.Wrap(err, "broadcasting start modification marker")
	}

	if e.cfg.Collector != nil {
		e.cfg.Collector.IncModificationsTriggered(string(coordinator.ActionStopping))
		e.cfg.Collector.SetPendingModifications(e.cfg.Registry.PendingCount())
	}
	return modID, nil
}

func findVertexByAttempt(graph external.ExecutionGraph, attemptID coordinator.ExecutionAttemptID) (coordinator.ExecutionVertex, int, bool) {
	for _, jv := range graph.AllVertices() {
		for _, st := range jv.Subtasks {
			if st.AttemptID == attemptID {
				return st, st.ParallelSubtaskIndex, true
			}
		}
	}
	return coordinator.ExecutionVertex{}, 0, false
}

// MigrateAllFrom migrates every subtask currently hosted on tm: each gets
// a pre-allocated slot elsewhere, the spilling-upstream and
// downstream-input-channel-descriptor maps are computed per the
// algorithmic contract in spec §4.D, and a StartMigration marker is issued
// through the sources.
func (e *Engine) MigrateAllFrom(ctx context.Context, tm coordinator.TaskManagerID) (coordinator.ModificationID, error) {
	e.triggerLock.Lock()
	defer e.triggerLock.Unlock()

	migrating := verticesOnTaskManager(e.cfg.Graph, tm)
	if len(migrating) == 0 {
		return 0, errors.Wrapf(coordinatorerrors.ErrLocalPolicyViolation, "no subtasks hosted on %v", tm)
	}

	newSlots := make(map[coordinator.ExecutionAttemptID]coordinator.Slot, len(migrating))
	for _, v := range migrating {
		slot, err := e.cfg.Slots.AllocateSlotExceptOnTaskManager(ctx, tm)
		if err != nil {
			return 0, errors.Wrapf(err, "allocating replacement slot for %s", v.AttemptID)
		}
		newSlots[v.AttemptID] = slot
	}

	spillMap, stopMap := computeSpillAndStopMaps(e.cfg.Graph, migrating, newSlots)

	initial := make(map[coordinator.ExecutionAttemptID]struct{}, len(migrating))
	for _, v := range migrating {
		initial[v.AttemptID] = struct{}{}
		e.cfg.Registry.MarkForRestartWithSlot(v, newSlots[v.AttemptID])
	}

	upcoming := e.upcomingCheckpointID()

	modID := e.allocateModID()
	pend := modification.New(modID, e.cfg.JobID, fmt.Sprintf("migrateAllFrom(%v)", tm), coordinator.ActionStopping, initial, e.cfg.Deadline, e.onExpire)
	e.cfg.Registry.Insert(pend)

	marker := markers.StartMigrationMarker{
		Envelope:             markers.Envelope{ModID: modID, Timestamp: time.Now()},
		SpillingVertices:     spillMap,
		StoppingVertices:     stopMap,
		UpcomingCheckpointID: upcoming,
	}
	if err := e.broadcastMigrationToSources(marker); err != nil {
		pend.AbortError(err)
		e.cfg.Registry.MoveToFailed(ctx, pend, modification.Error)
		return 0, errors.Wrap(err, "broadcasting start migration marker")
	}

	if err := e.notifyGatewayOfMigration(ctx, modID, spillMap, stopMap, upcoming); err != nil {
		pend.AbortError(err)
		e.cfg.Registry.MoveToFailed(ctx, pend, modification.Error)
		return 0, errors.Wrap(err, "notifying gateway of migration")
	}

	if e.cfg.Collector != nil {
		e.cfg.Collector.IncModificationsTriggered(string(coordinator.ActionStopping))
		e.cfg.Collector.SetPendingModifications(e.cfg.Registry.PendingCount())
	}
	return modID, nil
}

// notifyGatewayOfMigration dispatches the gateway's TriggerMigration RPC
// through the bounded ants pool and waits for its result, retrying
// transient failures with backoff since the RPC is idempotent by attempt id
// (spec §6).
func (e *Engine) notifyGatewayOfMigration(ctx context.Context, modID coordinator.ModificationID, spillMap map[coordinator.ExecutionAttemptID]map[int]struct{}, stopMap map[coordinator.ExecutionAttemptID][]coordinator.InputChannelDescriptor, upcoming int64) error {
	if e.cfg.Gateway == nil {
		return nil
	}

	errCh := make(chan error, 1)
	task := func() {
		b := &backoff.Backoff{Min: 50 * time.Millisecond, Max: 2 * time.Second, Factor: 2}
		errCh <- dispatchRPC(ctx, b, func(ctx context.Context) error {
			return e.cfg.Gateway.TriggerMigration(ctx, modID, time.Now(), spillMap, stopMap, upcoming)
		})
	}
	if err := e.pool.Submit(task); err != nil {
		return errors.Wrap(err, "submitting migration RPC to pool")
	}
	return <-errCh
}

// upcomingCheckpointID pins a migration to a future checkpoint boundary, or
// signals "modify immediately" with -1 (spec §4.D checkpoint coupling).
func (e *Engine) upcomingCheckpointID() int64 {
	current := e.cfg.Checkpoint.GetCurrent()
	if current >= 2 {
		return current + 2
	}
	return -1
}

func verticesOnTaskManager(graph external.ExecutionGraph, tm coordinator.TaskManagerID) []coordinator.ExecutionVertex {
	var out []coordinator.ExecutionVertex
	for _, jv := range graph.AllVertices() {
		for _, st := range jv.Subtasks {
			if st.Slot.TaskManagerID == tm {
				out = append(out, st)
			}
		}
	}
	return out
}

// computeSpillAndStopMaps implements the algorithmic contract of spec
// §4.D(iii): for each migrating vertex, the upstream operator's subtasks
// are told which of the migrating vertex's output subtask indices to
// spill, and each downstream consumer receives a synthesized
// InputChannelDescriptor pointing at the migrating vertex's replacement
// partition and slot, with Location computed per consumer rather than
// shared across the whole operator (a consumer can land on the same
// TaskManager as the new slot while a sibling consumer does not). The
// stop map is keyed by the consumer's own AttemptID, since that is whose
// input gate is being re-plumbed; a vertex that is itself migrating is
// then removed from the spill map via an explicit migratingSet, not by
// reusing stop's keys (which no longer coincide with migrating attempts).
func computeSpillAndStopMaps(graph external.ExecutionGraph, migrating []coordinator.ExecutionVertex, newSlots map[coordinator.ExecutionAttemptID]coordinator.Slot) (map[coordinator.ExecutionAttemptID]map[int]struct{}, map[coordinator.ExecutionAttemptID][]coordinator.InputChannelDescriptor) {
	spill := make(map[coordinator.ExecutionAttemptID]map[int]struct{})
	stop := make(map[coordinator.ExecutionAttemptID][]coordinator.InputChannelDescriptor)
	migratingSet := make(map[coordinator.ExecutionAttemptID]struct{}, len(migrating))
	for _, v := range migrating {
		migratingSet[v.AttemptID] = struct{}{}
	}

	for _, v := range migrating {
		if up := graph.UpstreamOf(v.VertexID); up != nil {
			for _, producer := range up.Subtasks {
				if spill[producer.AttemptID] == nil {
					spill[producer.AttemptID] = make(map[int]struct{})
				}
				spill[producer.AttemptID][v.ParallelSubtaskIndex] = struct{}{}
			}
		}

		if down := graph.DownstreamOf(v.VertexID); down != nil {
			replacement := newSlots[v.AttemptID]
			for _, consumer := range down.Subtasks {
				desc := coordinator.InputChannelDescriptor{
					ResultPartitionID: coordinator.ResultPartitionID(v.AttemptID),
					Location:          coordinator.ChannelLocationFor(replacement, consumer.Slot),
				}
				stop[consumer.AttemptID] = append(stop[consumer.AttemptID], desc)
			}
		}
	}

	for key := range migratingSet {
		delete(spill, key)
	}
	return spill, stop
}

func (e *Engine) broadcastToSources(m markers.StartModificationMarker) error {
	sources := e.cfg.Graph.Sources()
	if len(sources) == 0 {
		return errors.Wrap(coordinatorerrors.ErrIOOnBroadcast, "no source vertices to emit marker to")
	}
	for _, src := range sources {
		if err := e.cfg.Sink.BroadcastStartModification(src.VertexID, m); err != nil {
			return errors.Wrapf(coordinatorerrors.ErrIOOnBroadcast, "source %s: %v", src.VertexID, err)
		}
	}
	return nil
}

func (e *Engine) broadcastMigrationToSources(m markers.StartMigrationMarker) error {
	sources := e.cfg.Graph.Sources()
	if len(sources) == 0 {
		return errors.Wrap(coordinatorerrors.ErrIOOnBroadcast, "no source vertices to emit marker to")
	}
	for _, src := range sources {
		if err := e.cfg.Sink.BroadcastStartMigration(src.VertexID, m); err != nil {
			return errors.Wrapf(coordinatorerrors.ErrIOOnBroadcast, "source %s: %v", src.VertexID, err)
		}
	}
	return nil
}

// CancelModification rescinds an in-flight modification: emits a cancel
// marker and transitions the record to DISCARDED.
func (e *Engine) CancelModification(ctx context.Context, modID coordinator.ModificationID, vertexIDs map[coordinator.ExecutionAttemptID]struct{}) error {
	pend, inCompleted, inFailed := e.cfg.Registry.Lookup(modID)
	if pend == nil {
		if inCompleted || inFailed {
			return nil
		}
		return errors.Wrapf(coordinatorerrors.ErrUnknownModification, "modId %d", modID)
	}

	marker := markers.CancelModificationMarker{
		Envelope:  markers.Envelope{ModID: modID, Timestamp: time.Now()},
		VertexIDs: vertexIDs,
	}
	for _, src := range e.cfg.Graph.Sources() {
		if err := e.cfg.Sink.BroadcastCancelModification(src.VertexID, marker); err != nil {
			return errors.Wrapf(coordinatorerrors.ErrIOOnBroadcast, "source %s: %v", src.VertexID, err)
		}
	}

	pend.AbortDiscarded()
	e.cfg.Registry.MoveToFailed(ctx, pend, modification.Discarded)
	leaked := e.cfg.Registry.ReleaseRestartSlots(ctx, modID, vertexIDs)
	if e.cfg.Collector != nil {
		e.cfg.Collector.IncModificationsFailed(string(modification.Discarded))
		if leaked > 0 {
			e.cfg.Collector.IncLeakedSlots(leaked)
		}
	}
	return nil
}

// dispatchRPC retries a single TaskManagerGateway call with exponential
// backoff, relying on the RPC's idempotency-by-attemptId (spec §6) to make
// retries safe. Callers use this through the engine's bounded pool rather
// than one goroutine per call.
func dispatchRPC(ctx context.Context, b *backoff.Backoff, call func(context.Context) error) error {
	for {
		err := call(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
		if b.Attempt() > 5 {
			return errors.Wrap(err, "rpc exhausted retries")
		}
	}
}
