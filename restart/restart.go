// Package restart implements the coordinator's restart engine (spec §4.F):
// once a paused subtask's state has arrived, it resets the execution graph
// slot for that vertex, injects the restored state, and redeploys to the
// pre-allocated slot. Any failure here escalates to failGlobal, since a
// partial restart corrupts the topology.
//
// The three-condition guard and atomic double-delete follow the teacher's
// Worker.TransitionTo rollback-on-error discipline (pkg/orchestrator/worker.go):
// state only ever moves forward once every precondition has been checked
// under one critical section.
package restart

import (
	"context"
	"time"

	"github.com/pkg/errors"

	coordinator "github.com/flowmod/coordinator"
	"github.com/flowmod/coordinator/coordinatorerrors"
	"github.com/flowmod/coordinator/external"
	"github.com/flowmod/coordinator/internal/logging"
	"github.com/flowmod/coordinator/metrics"
	"github.com/flowmod/coordinator/registry"
)

// Config wires the restart engine's collaborators.
type Config struct {
	Graph     external.ExecutionGraph
	Gateway   external.TaskManagerGateway
	Registry  *registry.Registry
	Logger    logging.Logger
	Collector *metrics.Collector
}

// Engine is the restart engine.
type Engine struct {
	cfg Config
}

// New creates a restart Engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger{}
	}
	return &Engine{cfg: cfg}
}

// RestartIfStoppedAndStateReceived fires exactly when all three conditions
// hold: attemptID is registered for restart, its state has been received,
// and its current execution state is PAUSED (spec §4.F). It is safe to
// call speculatively on every acknowledge/state-migration reply; it is a
// no-op unless all three conditions are met.
func (e *Engine) RestartIfStoppedAndStateReceived(ctx context.Context, attemptID coordinator.ExecutionAttemptID, currentState coordinator.ExecutionState) error {
	vertex, slot, state, ok := e.cfg.Registry.TryConsumeForRestart(attemptID, currentState)
	if !ok {
		return nil
	}

	newAttempt, err := e.cfg.Graph.ResetForNewExecutionMigration(vertex, time.Now(), e.cfg.Graph.GlobalModVersion())
	if err != nil {
		e.cfg.Graph.FailGlobal(errors.Wrap(err, "resetForNewExecutionMigration"))
		return errors.Wrap(coordinatorerrors.ErrSchedulingFailure, err.Error())
	}

	if state.Blob == nil {
		invariantErr := errors.Wrapf(coordinatorerrors.ErrLocalPolicyViolation, "stored state for %s is nil at restart time", attemptID)
		e.cfg.Graph.FailGlobal(invariantErr)
		return invariantErr
	}

	if err := e.scheduleForMigration(ctx, newAttempt, slot); err != nil {
		e.cfg.Graph.FailGlobal(errors.Wrap(err, "scheduleForMigration"))
		return errors.Wrap(coordinatorerrors.ErrSchedulingFailure, err.Error())
	}

	if err := e.replumbDownstream(ctx, vertex, newAttempt, slot); err != nil {
		e.cfg.Graph.FailGlobal(errors.Wrap(err, "replumbDownstream"))
		return errors.Wrap(coordinatorerrors.ErrSchedulingFailure, err.Error())
	}

	if e.cfg.Collector != nil {
		e.cfg.Collector.IncRestartsCompleted()
	}
	e.cfg.Logger.Info(ctx, "restarted vertex with migrated state", "attemptId", attemptID.String(), "newAttemptId", newAttempt.String())
	return nil
}

// scheduleForMigration deploys the reset execution to its pre-allocated
// slot via the gateway.
func (e *Engine) scheduleForMigration(ctx context.Context, attemptID coordinator.ExecutionAttemptID, slot coordinator.Slot) error {
	return e.cfg.Gateway.ResumeTask(ctx, attemptID, slot, 30*time.Second)
}

// replumbDownstream re-plumbs the restarted vertex's downstream consumers to
// its new partition and slot, without a full redeploy (spec §2: "re-plumb
// input channels of affected downstream tasks"). A consumer fed by a single
// subtask of this operator gets the single-input resume path; a consumer
// fed by more than one (ALL_TO_ALL) gets the multi-input path, mirroring
// the Java source's modifySinkInstance vs. modifyMapInstanceForFilter split.
func (e *Engine) replumbDownstream(ctx context.Context, vertex coordinator.ExecutionVertex, newAttempt coordinator.ExecutionAttemptID, slot coordinator.Slot) error {
	down := e.cfg.Graph.DownstreamOf(vertex.VertexID)
	if down == nil {
		return nil
	}
	up := e.cfg.Graph.AllVertices()[vertex.VertexID]
	singleProducer := len(up.Subtasks) <= 1

	for _, consumer := range down.Subtasks {
		descriptor := coordinator.InputChannelDescriptor{
			ResultPartitionID: coordinator.ResultPartitionID(newAttempt),
			Location:          coordinator.ChannelLocationFor(slot, consumer.Slot),
		}
		if singleProducer {
			if err := e.cfg.Gateway.TriggerResumeWithNewInput(ctx, consumer.AttemptID, descriptor, vertex.ParallelSubtaskIndex); err != nil {
				return errors.Wrapf(err, "triggerResumeWithNewInput: consumer %s", consumer.AttemptID)
			}
			continue
		}
		if err := e.cfg.Gateway.TriggerResumeWithDifferentInputs(ctx, consumer.AttemptID, []coordinator.InputChannelDescriptor{descriptor}); err != nil {
			return errors.Wrapf(err, "triggerResumeWithDifferentInputs: consumer %s", consumer.AttemptID)
		}
	}
	return nil
}

// CreateAndInsertOperator allocates a new logical vertex for a rescale
// (e.g. growing filter parallelism), inserts it between upstream and
// downstream, re-wires downstream's input set to the new vertex's
// partitions, and returns the new VertexID (spec §4.F).
func (e *Engine) CreateAndInsertOperator(ctx context.Context, name string, parallelism int, upstream, downstream coordinator.VertexID) (coordinator.VertexID, error) {
	if parallelism <= 0 {
		return coordinator.VertexID{}, errors.Wrapf(coordinatorerrors.ErrLocalPolicyViolation, "parallelism must be positive, got %d", parallelism)
	}

	subtasks, err := e.cfg.Graph.InsertVertex(ctx, name, parallelism, upstream, downstream)
	if err != nil {
		e.cfg.Graph.FailGlobal(errors.Wrap(err, "insertVertex"))
		return coordinator.VertexID{}, errors.Wrap(coordinatorerrors.ErrSchedulingFailure, err.Error())
	}
	if len(subtasks) == 0 {
		invariantErr := errors.Wrapf(coordinatorerrors.ErrLocalPolicyViolation, "insertVertex for %q returned no subtasks", name)
		e.cfg.Graph.FailGlobal(invariantErr)
		return coordinator.VertexID{}, invariantErr
	}
	newVertexID := subtasks[0].VertexID

	descriptors := make([]coordinator.InputChannelDescriptor, 0, len(subtasks))
	for _, st := range subtasks {
		descriptors = append(descriptors, coordinator.InputChannelDescriptor{
			ResultPartitionID: coordinator.ResultPartitionID(st.AttemptID),
			Location:          coordinator.ChannelLocationFor(st.Slot, st.Slot),
		})
	}

	down := e.cfg.Graph.DownstreamOf(newVertexID)
	if down != nil {
		for _, consumer := range down.Subtasks {
			// Each downstream consumer reads from every new subtask under
			// ALL_TO_ALL, so the location is recomputed per consumer rather
			// than reused from the loop above.
			perConsumer := make([]coordinator.InputChannelDescriptor, len(descriptors))
			for i, st := range subtasks {
				perConsumer[i] = coordinator.InputChannelDescriptor{
					ResultPartitionID: coordinator.ResultPartitionID(st.AttemptID),
					Location:          coordinator.ChannelLocationFor(st.Slot, consumer.Slot),
				}
			}
			if err := e.cfg.Gateway.TriggerResumeWithDifferentInputs(ctx, consumer.AttemptID, perConsumer); err != nil {
				e.cfg.Graph.FailGlobal(errors.Wrap(err, "triggerResumeWithDifferentInputs"))
				return coordinator.VertexID{}, errors.Wrap(coordinatorerrors.ErrSchedulingFailure, err.Error())
			}
		}
	}

	e.cfg.Logger.Info(ctx, "inserted operator and re-wired downstream inputs", "name", name, "vertexId", newVertexID.String(), "parallelism", parallelism, "subtasks", len(subtasks))
	return newVertexID, nil
}

// ConsumeNewProducer rewires one input channel of a consumer subtask to a
// new upstream partition without a full redeploy (spec §4.F).
func (e *Engine) ConsumeNewProducer(ctx context.Context, consumerAttempt, newProducerAttempt coordinator.ExecutionAttemptID, newPartitionID coordinator.ResultPartitionID, location coordinator.TaskManagerLocation, connectionIdx, index int) error {
	if err := e.cfg.Gateway.ConsumeNewProducer(ctx, consumerAttempt, newProducerAttempt, newPartitionID, location, connectionIdx, index); err != nil {
		e.cfg.Graph.FailGlobal(errors.Wrap(err, "consumeNewProducer"))
		return errors.Wrapf(coordinatorerrors.ErrSchedulingFailure, "consumeNewProducer: %v", err)
	}
	return nil
}
