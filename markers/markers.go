// Package markers defines the in-band control markers that travel
// interleaved with data records on the same channels, in FIFO order per
// channel (spec §4.A). Every marker carries an Envelope of {modId,
// timestamp}, except the two checkpoint markers which are reused from the
// checkpointing subsystem and carry only a checkpoint id.
package markers

import (
	"time"

	coordinator "github.com/flowmod/coordinator"
)

// Envelope is the common header every modification-related marker carries.
type Envelope struct {
	ModID     coordinator.ModificationID
	Timestamp time.Time
}

// CheckpointBarrier delimits a checkpoint epoch. Reused from the
// checkpointing subsystem; also serves as the synchronization point for
// pause-on-checkpoint.
type CheckpointBarrier struct {
	ID      int64
	Ts      time.Time
	Options CheckpointOptions
}

// CheckpointOptions is an opaque bag of checkpoint-subsystem options the
// coordinator passes through without interpreting.
type CheckpointOptions map[string]string

// CancelCheckpointMarker aborts the checkpoint carrying ID.
type CancelCheckpointMarker struct {
	ID int64
}

// StartModificationMarker commands the indicated downstream subtasks, named
// by parallel subtask index, to pause or stop at the next checkpoint.
type StartModificationMarker struct {
	Envelope
	Acks            map[coordinator.ExecutionAttemptID]struct{}
	SubtasksToPause map[int]struct{}
	Action          coordinator.ModificationAction
}

// StartMigrationMarker is the richer variant used for migration: spillers
// are told which output subtask indices to spill to disk, stoppers carry
// the new input-channel descriptors to hand to their downstream peers.
type StartMigrationMarker struct {
	Envelope
	SpillingVertices     map[coordinator.ExecutionAttemptID]map[int]struct{}
	StoppingVertices     map[coordinator.ExecutionAttemptID][]coordinator.InputChannelDescriptor
	UpcomingCheckpointID int64 // -1 means "no checkpoint anchor, modify immediately"
}

// CancelModificationMarker rescinds an earlier in-flight modification.
type CancelModificationMarker struct {
	Envelope
	VertexIDs map[coordinator.ExecutionAttemptID]struct{}
}

// PausingOperatorMarker is emitted downstream by a paused operator; it
// carries the replacement input-channel descriptor for each downstream
// subtask, positionally (the i-th descriptor goes to the i-th outgoing
// channel, not broadcast).
type PausingOperatorMarker struct {
	Descriptors []coordinator.InputChannelDescriptor
}
