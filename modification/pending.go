// Package modification implements the per-modification acknowledgement
// state machine (spec §4.B): a PendingModification tracks which subtasks
// must reply before the coordinator can consider a rescale/migrate/pause
// operation complete, with a deadline and one-shot terminal transitions.
//
// This mirrors the phase-guard discipline of the teacher's RecreatePhase
// state machine (idle/draining/assigning/running, each transition checked
// against the current phase before being applied) and the rollback-on-error
// pattern of its Worker.TransitionTo.
package modification

import (
	"sync"
	"time"

	coordinator "github.com/flowmod/coordinator"
)

// AckResult is the outcome of acknowledging one attempt against a
// PendingModification.
type AckResult int

const (
	AckSuccess AckResult = iota
	AckDuplicate
	AckUnknown
	AckDiscarded
)

// TerminalState is the terminal outcome of a PendingModification. Terminal
// transitions are one-shot and irreversible once set away from Open.
type TerminalState string

const (
	Open       TerminalState = "OPEN"
	Completed  TerminalState = "COMPLETED"
	Expired    TerminalState = "EXPIRED"
	Declined   TerminalState = "DECLINED"
	Error      TerminalState = "ERROR"
	Discarded  TerminalState = "DISCARDED"
)

// CompletedModification is the snapshot of a modification once fully
// acknowledged.
type CompletedModification struct {
	ModID       coordinator.ModificationID
	JobID       coordinator.JobID
	Description string
	Action      coordinator.ModificationAction
	CreatedAt   time.Time
	Duration    time.Duration
}

// Pending is one live modification: its initial pending set is fixed at
// creation (spec §3 invariant: `pending ∪ acknowledged` immutable after
// creation), and every mutating method is guarded by its own mutex so the
// registry (§4.C) never needs to reach inside.
type Pending struct {
	mu sync.Mutex

	ModID       coordinator.ModificationID
	JobID       coordinator.JobID
	Description string
	Action      coordinator.ModificationAction
	CreatedAt   time.Time

	initialPending map[coordinator.ExecutionAttemptID]struct{}
	acknowledged   map[coordinator.ExecutionAttemptID]struct{}

	terminal TerminalState
	timer    *time.Timer
	onExpire func(*Pending)
}

// New creates a PendingModification in the OPEN state with the given
// initial pending set, and arms a deadline timer that calls onExpire if it
// fires while the modification is still OPEN. Neither New nor
// Registry.Insert rejects an empty initial pending set, so callers that
// intentionally want a vacuous completion (tests) still can; the trigger
// engine refuses to trigger when PauseAll matches no vertex or
// MigrateAllFrom finds no subtask on the task manager.
func New(modID coordinator.ModificationID, jobID coordinator.JobID, description string, action coordinator.ModificationAction, initial map[coordinator.ExecutionAttemptID]struct{}, deadline time.Duration, onExpire func(*Pending)) *Pending {
	cp := make(map[coordinator.ExecutionAttemptID]struct{}, len(initial))
	for id := range initial {
		cp[id] = struct{}{}
	}
	p := &Pending{
		ModID:          modID,
		JobID:          jobID,
		Description:    description,
		Action:         action,
		CreatedAt:      time.Now(),
		initialPending: cp,
		acknowledged:   make(map[coordinator.ExecutionAttemptID]struct{}, len(cp)),
		terminal:       Open,
		onExpire:       onExpire,
	}
	p.timer = time.AfterFunc(deadline, func() {
		p.expire()
	})
	return p
}

func (p *Pending) expire() {
	p.mu.Lock()
	fire := p.terminal == Open
	if fire {
		p.terminal = Expired
	}
	p.mu.Unlock()
	if fire && p.onExpire != nil {
		p.onExpire(p)
	}
}

// TerminalState returns the current terminal state (Open if still live).
func (p *Pending) TerminalState() TerminalState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminal
}

// AcknowledgeTask records a single attempt's acknowledgement.
func (p *Pending) AcknowledgeTask(attemptID coordinator.ExecutionAttemptID) AckResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.terminal != Open {
		return AckDiscarded
	}
	if _, ok := p.initialPending[attemptID]; !ok {
		return AckUnknown
	}
	if _, ok := p.acknowledged[attemptID]; ok {
		return AckDuplicate
	}
	p.acknowledged[attemptID] = struct{}{}
	return AckSuccess
}

// IsFullyAcknowledged reports whether acknowledged equals the initial
// pending set.
func (p *Pending) IsFullyAcknowledged() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.acknowledged) == len(p.initialPending)
}

// Pending returns the set of attempts that have not yet acknowledged.
func (p *Pending) Pending() map[coordinator.ExecutionAttemptID]struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[coordinator.ExecutionAttemptID]struct{})
	for id := range p.initialPending {
		if _, acked := p.acknowledged[id]; !acked {
			out[id] = struct{}{}
		}
	}
	return out
}

// AllAttempts returns a copy of the full initial pending set, independent
// of acknowledgement status. Callers that must act on every attempt a
// modification ever covered — e.g. releasing slots pre-allocated for
// attempts that never got the chance to acknowledge — use this instead of
// Pending(), which only reports the still-outstanding subset.
func (p *Pending) AllAttempts() map[coordinator.ExecutionAttemptID]struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[coordinator.ExecutionAttemptID]struct{}, len(p.initialPending))
	for id := range p.initialPending {
		out[id] = struct{}{}
	}
	return out
}

// abortTo performs a one-shot transition away from Open, stopping the
// deadline timer. Returns false if the modification was already terminal.
func (p *Pending) abortTo(state TerminalState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminal != Open {
		return false
	}
	p.terminal = state
	if p.timer != nil {
		p.timer.Stop()
	}
	return true
}

// AbortExpired transitions OPEN to EXPIRED. Idempotent after the first
// call: returns false if the modification was already terminal (including
// the case where the deadline timer itself already fired this transition).
func (p *Pending) AbortExpired() bool { return p.abortTo(Expired) }

// AbortDeclined transitions OPEN to DECLINED.
func (p *Pending) AbortDeclined() bool { return p.abortTo(Declined) }

// AbortError transitions OPEN to ERROR. The cause is not stored on the
// record itself; the trigger engine returns it, wrapped, to its own caller.
func (p *Pending) AbortError(cause error) bool { return p.abortTo(Error) }

// AbortDiscarded transitions OPEN to DISCARDED, for external cancellation.
func (p *Pending) AbortDiscarded() bool { return p.abortTo(Discarded) }

// FinalizeCheckpoint transitions OPEN to COMPLETED if fully acknowledged,
// returning the completion snapshot. Returns nil if not fully acknowledged
// or already terminal.
func (p *Pending) FinalizeCheckpoint() *CompletedModification {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.terminal != Open {
		return nil
	}
	if len(p.acknowledged) != len(p.initialPending) {
		return nil
	}
	p.terminal = Completed
	if p.timer != nil {
		p.timer.Stop()
	}
	return &CompletedModification{
		ModID:       p.ModID,
		JobID:       p.JobID,
		Description: p.Description,
		Action:      p.Action,
		CreatedAt:   p.CreatedAt,
		Duration:    time.Since(p.CreatedAt),
	}
}
