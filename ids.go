// Package coordinator implements the live modification coordinator of a
// distributed streaming-dataflow engine: rescale, migrate, and pause/resume
// of running operator instances without a full job restart.
package coordinator

import "github.com/google/uuid"

// JobID identifies the running job a coordinator instance owns. Fixed at
// coordinator construction.
type JobID uuid.UUID

// String renders the JobID in canonical UUID form.
func (id JobID) String() string { return uuid.UUID(id).String() }

// VertexID identifies a logical operator in the topology.
type VertexID uuid.UUID

// String renders the VertexID in canonical UUID form.
func (id VertexID) String() string { return uuid.UUID(id).String() }

// ExecutionAttemptID identifies one incarnation of a parallel subtask:
// vertex x subtaskIndex x attempt.
type ExecutionAttemptID uuid.UUID

// String renders the ExecutionAttemptID in canonical UUID form.
func (id ExecutionAttemptID) String() string { return uuid.UUID(id).String() }

// NewJobID generates a fresh opaque JobID.
func NewJobID() JobID { return JobID(uuid.New()) }

// NewVertexID generates a fresh opaque VertexID.
func NewVertexID() VertexID { return VertexID(uuid.New()) }

// NewExecutionAttemptID generates a fresh opaque ExecutionAttemptID.
func NewExecutionAttemptID() ExecutionAttemptID { return ExecutionAttemptID(uuid.New()) }

// ModificationID is a monotonically increasing 64-bit integer, globally
// unique within one coordinator instance. The first issued id is 1.
type ModificationID int64

// ModificationAction selects whether a modification suspends subtasks in
// place or migrates their state to new slots.
type ModificationAction string

const (
	// ActionPausing suspends target subtasks in place.
	ActionPausing ModificationAction = "PAUSING"
	// ActionStopping migrates target subtasks' state to new slots.
	ActionStopping ModificationAction = "STOPPING"
)
