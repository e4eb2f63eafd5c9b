// Package chain implements the operator chain's control path (spec §4.G):
// a single-threaded cooperative pipeline of operators sharing one mailbox
// thread, which broadcasts control markers to every outgoing network
// channel in the order they were submitted relative to queued records.
//
// No component in the retrieval pack models a single-threaded cooperative
// mailbox chain; this package is designed directly from the spec's
// description, using only channels and a dedicated goroutine per chain, in
// the idiom the rest of this repo uses for single-owner-goroutine state
// (the pending-gauge refresher in service, the heartbeat loop the teacher
// itself uses in pkg/orchestrator/worker.go).
package chain

import (
	"math/rand"

	coordinator "github.com/flowmod/coordinator"
	"github.com/flowmod/coordinator/coordinatorerrors"
	"github.com/flowmod/coordinator/markers"
)

// StreamStatus reflects whether a channel is actively producing records.
// While IDLE, watermarks are suppressed on outgoing channels.
type StreamStatus int

const (
	StatusActive StreamStatus = iota
	StatusIdle
)

// OutputTag gates a chaining output to a side operator. The zero value
// means "main output, no tag".
type OutputTag string

// Record is a value flowing through the chain, optionally tagged for a
// side output.
type Record struct {
	Tag     OutputTag
	Value   interface{}
	IsWatermark    bool
	IsLatencyMark  bool
}

// NetworkChannel is one outgoing network channel a chain can write records
// and markers to, in FIFO order relative to each other.
type NetworkChannel interface {
	// WriteRecord enqueues a data record.
	WriteRecord(r Record) error
	// WriteMarker enqueues a control marker, interleaved in submission
	// order with records already queued on this channel.
	WriteMarker(m interface{}) error
}

// Output is a chaining output: either a ChainingOutput (no copy, used in
// object-reuse mode) or a CopyingChainingOutput (deep copy via a
// serializer function before emission).
type Output struct {
	Tag     OutputTag
	Copy    func(interface{}) interface{} // nil for ChainingOutput; set for CopyingChainingOutput
	Emit    func(Record) error            // delivers to the main operator or the side operator this output feeds
}

// IsCopying reports whether this is a CopyingChainingOutput.
func (o Output) IsCopying() bool { return o.Copy != nil }

// deliver routes r to this output iff the tag matches: untagged outputs
// take untagged records (main operator), tagged outputs take records whose
// Tag equals theirs (side outputs).
func (o Output) deliver(r Record) error {
	if o.Tag != r.Tag {
		return nil
	}
	if o.Copy != nil {
		r.Value = o.Copy(r.Value)
	}
	return o.Emit(r)
}

// Chain is one task's operator chain: a single mailbox goroutine advances
// it, so no internal locking is needed and StreamStatus changes propagate
// synchronously to downstream outputs from that same goroutine.
type Chain struct {
	outputs  []Output
	channels []NetworkChannel // outgoing network channels, index-aligned with PausingOperatorMarker fanout
	status   StreamStatus

	mailbox chan func()
	done    chan struct{}
}

// New creates a Chain with the given outputs (main plus any side outputs)
// and outgoing network channels, and starts its mailbox goroutine.
func New(outputs []Output, channels []NetworkChannel) *Chain {
	c := &Chain{
		outputs:  outputs,
		channels: channels,
		status:   StatusActive,
		mailbox:  make(chan func()),
		done:     make(chan struct{}),
	}
	go c.run()
	return c
}

// Close stops the mailbox goroutine.
func (c *Chain) Close() { close(c.done) }

func (c *Chain) run() {
	for {
		select {
		case fn := <-c.mailbox:
			fn()
		case <-c.done:
			return
		}
	}
}

// submit schedules fn on the mailbox thread and waits for it to complete,
// so callers observe a synchronous call while the chain itself stays
// single-threaded.
func (c *Chain) submit(fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case c.mailbox <- func() { errCh <- fn() }:
	case <-c.done:
		return coordinatorerrors.ErrIOOnBroadcast
	}
	select {
	case err := <-errCh:
		return err
	case <-c.done:
		return coordinatorerrors.ErrIOOnBroadcast
	}
}

// EmitRecord routes r to the matching output(s) — main iff untagged, the
// side operator iff its tag matches — from the mailbox thread.
func (c *Chain) EmitRecord(r Record) error {
	return c.submit(func() error {
		return c.emitToOutputsLocked(r)
	})
}

func (c *Chain) emitToOutputsLocked(r Record) error {
	if r.IsWatermark && c.status == StatusIdle {
		return nil // watermarks suppressed while idle
	}
	if r.IsLatencyMark {
		if len(c.outputs) == 0 {
			return nil
		}
		return c.outputs[rand.Intn(len(c.outputs))].deliver(r)
	}
	for _, out := range c.outputs {
		if err := out.deliver(r); err != nil {
			return err
		}
	}
	return nil
}

// SetStreamStatus updates the chain's status from the mailbox thread; the
// change is synchronous, matching the spec's description of StreamStatus
// propagation.
func (c *Chain) SetStreamStatus(s StreamStatus) error {
	return c.submit(func() error {
		c.status = s
		return nil
	})
}

// broadcastAll writes m to every outgoing channel, in FIFO order relative
// to already-queued records. Failure classifies as IOOnBroadcast per spec
// §4.A; the caller is expected to escalate to the task's failure handler.
func (c *Chain) broadcastAll(m interface{}) error {
	return c.submit(func() error {
		for _, ch := range c.channels {
			if err := ch.WriteMarker(m); err != nil {
				return coordinatorerrors.ErrIOOnBroadcast
			}
		}
		return nil
	})
}

func (c *Chain) BroadcastCheckpointBarrier(m markers.CheckpointBarrier) error {
	return c.broadcastAll(m)
}

func (c *Chain) BroadcastCheckpointCancelMarker(m markers.CancelCheckpointMarker) error {
	return c.broadcastAll(m)
}

func (c *Chain) BroadcastStartModificationEvent(m markers.StartModificationMarker) error {
	return c.broadcastAll(m)
}

func (c *Chain) BroadcastStartMigrationEvent(m markers.StartMigrationMarker) error {
	return c.broadcastAll(m)
}

func (c *Chain) BroadcastCancelModificationEvent(m markers.CancelModificationMarker) error {
	return c.broadcastAll(m)
}

// BroadcastOperatorPausedEvent fans descriptors out positionally: the i-th
// descriptor goes to the i-th outgoing channel, not broadcast. Fails with
// an invariant error, emitting nothing, if the lengths differ (spec §4.G,
// §8 boundary behavior).
func (c *Chain) BroadcastOperatorPausedEvent(descriptors []coordinator.InputChannelDescriptor) error {
	return c.submit(func() error {
		if len(descriptors) != len(c.channels) {
			return coordinatorerrors.ErrLocalPolicyViolation
		}
		for i, ch := range c.channels {
			marker := markers.PausingOperatorMarker{Descriptors: []coordinator.InputChannelDescriptor{descriptors[i]}}
			if err := ch.WriteMarker(marker); err != nil {
				return coordinatorerrors.ErrIOOnBroadcast
			}
		}
		return nil
	})
}

// NewBroadcastEmit builds an Emit function implementing the N>1 output
// broadcast-copy optimization: outputs 0..N-2 get a shallow copy, the
// original record is passed to output N-1 unmodified.
func NewBroadcastEmit(deliverToOutput func(index int, r Record) error, outputCount int) func(Record) error {
	return func(r Record) error {
		for i := 0; i < outputCount; i++ {
			rr := r
			if i < outputCount-1 {
				rr.Value = shallowCopy(r.Value)
			}
			if err := deliverToOutput(i, rr); err != nil {
				return err
			}
		}
		return nil
	}
}

func shallowCopy(v interface{}) interface{} { return v }
