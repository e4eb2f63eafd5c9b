// Package external declares the contracts the coordinator consumes but
// does not implement (spec §6): the execution graph, the slot allocator,
// the checkpoint id counter, and the per-task RPC gateway. Production
// wiring supplies real implementations from the surrounding engine; this
// package only carries the interfaces and lightweight value types needed
// to call them.
package external

import (
	"context"
	"time"

	coordinator "github.com/flowmod/coordinator"
	"github.com/flowmod/coordinator/markers"
)

// ExecutionJobVertex is the logical, not per-subtask, view of a vertex:
// its name and the set of currently-deployed ExecutionVertex instances.
type ExecutionJobVertex struct {
	VertexID  coordinator.VertexID
	Name      string
	Subtasks  []coordinator.ExecutionVertex
}

// ExecutionGraph is the topology and scheduling state the coordinator reads
// and occasionally instructs, but never mutates directly outside these
// methods.
type ExecutionGraph interface {
	// AllVertices returns every logical vertex in the topology.
	AllVertices() map[coordinator.VertexID]ExecutionJobVertex

	// VerticesInCreationOrder returns vertices in topological order.
	VerticesInCreationOrder() []ExecutionJobVertex

	// UpstreamOf returns the single upstream operator of v, or nil if v is
	// a source. A faithful rewrite models the topology as a DAG with at
	// most one producer per consumer input (spec §9).
	UpstreamOf(v coordinator.VertexID) *ExecutionJobVertex

	// DownstreamOf returns the single downstream operator of v, or nil if
	// v is a sink.
	DownstreamOf(v coordinator.VertexID) *ExecutionJobVertex

	// Sources returns the source vertices of the job. Markers are emitted
	// only to these (spec §4.D: "single source assumption").
	Sources() []ExecutionJobVertex

	// GlobalModVersion returns the monotonic counter incremented by the
	// graph itself on every topology mutation, read (not written) by the
	// restart engine (SPEC_FULL.md supplemented feature #2).
	GlobalModVersion() int64

	// ResetForNewExecutionMigration replaces vertex's current Execution
	// with a new one for a migration at the given timestamp and expected
	// global mod version, returning the new ExecutionAttemptID.
	ResetForNewExecutionMigration(vertex coordinator.ExecutionVertex, at time.Time, expectedModVersion int64) (coordinator.ExecutionAttemptID, error)

	// FailGlobal escalates an unrecoverable error to the engine's own
	// recovery path (full job restart). The coordinator never attempts to
	// recover partial state itself after calling this.
	FailGlobal(cause error)

	// InsertVertex inserts a new logical vertex of the given parallelism
	// between upstream and downstream, schedules its subtasks, and returns
	// them. The caller is responsible for re-plumbing downstream's input
	// channels to the returned subtasks' result partitions (spec §4.F,
	// increaseDOPOfFilter).
	InsertVertex(ctx context.Context, name string, parallelism int, upstream, downstream coordinator.VertexID) ([]coordinator.ExecutionVertex, error)
}

// SlotProvider allocates worker capacity.
type SlotProvider interface {
	// AllocateSlotExceptOnTaskManager synchronously allocates a slot that
	// must not be located on excludeTM.
	AllocateSlotExceptOnTaskManager(ctx context.Context, excludeTM coordinator.TaskManagerID) (coordinator.Slot, error)
}

// CheckpointIDCounter reports the checkpoint-coordinator's current id.
type CheckpointIDCounter interface {
	GetCurrent() int64
}

// TaskManagerGateway is the RPC surface used to drive a task's in-process
// behavior remotely. Every call is idempotent at the task side by
// attemptId (spec §6), which is what makes retrying them with backoff safe.
type TaskManagerGateway interface {
	ResumeTask(ctx context.Context, attemptID coordinator.ExecutionAttemptID, slot coordinator.Slot, timeout time.Duration) error

	TriggerMigration(ctx context.Context, modID coordinator.ModificationID, ts time.Time, spillMap map[coordinator.ExecutionAttemptID]map[int]struct{}, stopMap map[coordinator.ExecutionAttemptID][]coordinator.InputChannelDescriptor, upcomingCheckpointID int64) error

	TriggerResumeWithDifferentInputs(ctx context.Context, attemptID coordinator.ExecutionAttemptID, descriptors []coordinator.InputChannelDescriptor) error

	TriggerResumeWithNewInput(ctx context.Context, attemptID coordinator.ExecutionAttemptID, descriptor coordinator.InputChannelDescriptor, index int) error

	ConsumeNewProducer(ctx context.Context, consumerAttempt, newProducerAttempt coordinator.ExecutionAttemptID, newPartitionID coordinator.ResultPartitionID, location coordinator.TaskManagerLocation, connectionIdx, index int) error
}

// MarkerSink is the narrow slice of the operator chain's broadcast surface
// (spec §4.G) the trigger engine needs: emitting markers at the job's
// source vertices, from which normal data-plane broadcast takes over.
type MarkerSink interface {
	BroadcastStartModification(vertex coordinator.VertexID, m markers.StartModificationMarker) error
	BroadcastStartMigration(vertex coordinator.VertexID, m markers.StartMigrationMarker) error
	BroadcastCancelModification(vertex coordinator.VertexID, m markers.CancelModificationMarker) error
}
