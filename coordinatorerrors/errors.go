// Package coordinatorerrors holds the error taxonomy of the coordinator
// (spec §7): typed sentinels for classification by callers, wrapped with
// github.com/pkg/errors at the point they cross a component boundary so the
// causal chain survives into a failGlobal call.
package coordinatorerrors

import "errors"

var (
	// ErrLocalPolicyViolation marks an invariant or precondition broken
	// inside the coordinator itself (e.g. nil stored state at restart time).
	// The restart engine escalates it to failGlobal when it arises after the
	// graph has been touched; the trigger engine's "nothing to act on"
	// checks, the restart engine's parallelism check, and the chain's
	// descriptor-count check return it to their caller without escalating.
	ErrLocalPolicyViolation = errors.New("local policy violation")

	// ErrRemoteParticipantDeclined marks a task reporting Decline.
	ErrRemoteParticipantDeclined = errors.New("remote participant declined")

	// ErrExpired marks a modification that made no progress within its
	// deadline.
	ErrExpired = errors.New("modification expired")

	// ErrIOOnBroadcast marks a marker emission interrupted mid-write.
	ErrIOOnBroadcast = errors.New("io error on marker broadcast")

	// ErrSchedulingFailure marks a restart-path failure such as a global
	// modification-version mismatch. Always escalates to failGlobal.
	ErrSchedulingFailure = errors.New("scheduling failure")

	// ErrUnknownModification marks a reply for a modification the
	// coordinator has no record of, in any map.
	ErrUnknownModification = errors.New("unknown modification")

	// ErrAlreadyTerminal marks an operation attempted against a
	// PendingModification whose terminal state is no longer OPEN.
	ErrAlreadyTerminal = errors.New("modification already terminal")
)

// Is reports whether err is, or wraps, target. Exposed so that callers in
// other packages do not need to import stdlib errors alongside this
// package just to classify a coordinator error.
func Is(err, target error) bool { return errors.Is(err, target) }
