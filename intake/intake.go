// Package intake routes the four inbound reply kinds — Acknowledge,
// Decline, Ignore, StateMigration — to the matching PendingModification and
// drives completion (spec §4.E). This is the coordinator-side counterpart
// of the teacher's WatchGeneration supersede-detection loop
// (coordinator/coordinator.go), generalized from "generation changed" to
// "modification reply arrived".
package intake

import (
	"context"

	coordinator "github.com/flowmod/coordinator"
	"github.com/flowmod/coordinator/internal/logging"
	"github.com/flowmod/coordinator/metrics"
	"github.com/flowmod/coordinator/modification"
	"github.com/flowmod/coordinator/registry"
	"github.com/flowmod/coordinator/restart"
)

// Config wires the intake router's collaborators.
type Config struct {
	Registry  *registry.Registry
	Restart   *restart.Engine
	Logger    logging.Logger
	Collector *metrics.Collector
}

// Router dispatches inbound replies.
type Router struct {
	cfg Config
}

// New creates a Router.
func New(cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger{}
	}
	return &Router{cfg: cfg}
}

// Acknowledge handles an Acknowledge reply. If it completes the
// modification, moves it to completed and attempts a restart for
// attemptID. Returns true if the modID was recognized (pending, already
// completed, or already failed) — the "late acknowledge" cross-check from
// spec §4.E.
func (r *Router) Acknowledge(ctx context.Context, modID coordinator.ModificationID, attemptID coordinator.ExecutionAttemptID, currentState coordinator.ExecutionState) bool {
	if r.cfg.Collector != nil {
		r.cfg.Collector.IncAcknowledgements("acknowledge")
	}

	pend, inCompleted, inFailed := r.cfg.Registry.Lookup(modID)
	if pend == nil {
		if inCompleted {
			r.cfg.Logger.Info(ctx, "late acknowledge for completed modification", "modId", modID, "attemptId", attemptID.String())
			return true
		}
		if inFailed {
			r.cfg.Logger.Info(ctx, "late acknowledge for failed modification", "modId", modID, "attemptId", attemptID.String())
			return true
		}
		r.cfg.Logger.Debug(ctx, "acknowledge for unknown modification", "modId", modID)
		return false
	}

	switch pend.AcknowledgeTask(attemptID) {
	case modification.AckSuccess:
		if pend.IsFullyAcknowledged() {
			if snapshot := pend.FinalizeCheckpoint(); snapshot != nil {
				r.cfg.Registry.MoveToCompleted(ctx, modID, snapshot)
				if r.cfg.Collector != nil {
					r.cfg.Collector.IncModificationsCompleted()
					r.cfg.Collector.ObserveModificationDuration(string(snapshot.Action), snapshot.Duration.Seconds())
					r.cfg.Collector.SetPendingModifications(r.cfg.Registry.PendingCount())
				}
			}
		}
	case modification.AckDuplicate:
		r.cfg.Logger.Debug(ctx, "duplicate acknowledge", "modId", modID, "attemptId", attemptID.String())
	case modification.AckUnknown:
		r.cfg.Logger.Debug(ctx, "acknowledge from attempt outside initial pending set", "modId", modID, "attemptId", attemptID.String())
	case modification.AckDiscarded:
		r.cfg.Logger.Debug(ctx, "acknowledge for already-terminal modification", "modId", modID, "attemptId", attemptID.String())
	}

	if r.cfg.Registry.IsAwaitingRestart(attemptID) {
		if err := r.cfg.Restart.RestartIfStoppedAndStateReceived(ctx, attemptID, currentState); err != nil {
			r.cfg.Logger.Error(ctx, "restart attempt failed", "attemptId", attemptID.String(), "error", err.Error())
		}
	}
	return true
}

// Decline handles a Decline reply: transitions OPEN to DECLINED and moves
// the record to failed. Silently ignored if already terminal.
func (r *Router) Decline(ctx context.Context, modID coordinator.ModificationID, attemptID coordinator.ExecutionAttemptID, reason string) {
	if r.cfg.Collector != nil {
		r.cfg.Collector.IncAcknowledgements("decline")
	}

	pend, _, _ := r.cfg.Registry.Lookup(modID)
	if pend == nil {
		return
	}
	if pend.AbortDeclined() {
		r.cfg.Registry.MoveToFailed(ctx, pend, modification.Declined)
		leaked := r.cfg.Registry.ReleaseRestartSlots(ctx, modID, pend.AllAttempts())
		if r.cfg.Collector != nil {
			r.cfg.Collector.IncModificationsFailed(string(modification.Declined))
			if leaked > 0 {
				r.cfg.Collector.IncLeakedSlots(leaked)
			}
		}
		r.cfg.Logger.Info(ctx, "modification declined", "modId", modID, "attemptId", attemptID.String(), "reason", reason, "leakedSlots", leaked)
	}
}

// Ignore logs the reply and does not alter any state: a task sends this
// when it did not participate meaningfully in the modification.
func (r *Router) Ignore(ctx context.Context, modID coordinator.ModificationID, attemptID coordinator.ExecutionAttemptID) {
	if r.cfg.Collector != nil {
		r.cfg.Collector.IncAcknowledgements("ignore")
	}
	r.cfg.Logger.Debug(ctx, "task ignored modification", "modId", modID, "attemptId", attemptID.String())
}

// StateMigration stores the subtask state snapshot and attempts a restart.
// Duplicates overwrite, with a debug-level log entry.
func (r *Router) StateMigration(ctx context.Context, attemptID coordinator.ExecutionAttemptID, currentState coordinator.ExecutionState, blob []byte) {
	if r.cfg.Collector != nil {
		r.cfg.Collector.IncAcknowledgements("state_migration")
	}

	overwritten := r.cfg.Registry.StoreState(registry.StoredSubtaskState{AttemptID: attemptID, Blob: blob})
	if overwritten {
		r.cfg.Logger.Debug(ctx, "duplicate state migration overwritten", "attemptId", attemptID.String())
	}

	if err := r.cfg.Restart.RestartIfStoppedAndStateReceived(ctx, attemptID, currentState); err != nil {
		r.cfg.Logger.Error(ctx, "restart attempt failed", "attemptId", attemptID.String(), "error", err.Error())
	}
}
