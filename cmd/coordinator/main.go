// Command coordinator is a minimal demonstration host for the live
// modification coordinator, adapted from the teacher's cmd/orchestrator/main.go:
// load config, build collaborators, run until SIGTERM/SIGINT, shut down.
//
// A real deployment supplies its own ExecutionGraph, SlotProvider,
// CheckpointIDCounter, TaskManagerGateway, and MarkerSink backed by the
// surrounding streaming engine. The stand-ins here exist only so this
// binary links and runs end to end against a single-vertex, single-source
// topology.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	coordinator "github.com/flowmod/coordinator"
	"github.com/flowmod/coordinator/external"
	"github.com/flowmod/coordinator/internal/config"
	"github.com/flowmod/coordinator/markers"
	"github.com/flowmod/coordinator/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "coordinator:", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := os.Getenv("COORDINATOR_CONFIG")
	var cfg config.Config
	var err error
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	jobID := coordinator.NewJobID()
	graph := newDemoGraph()

	co, err := service.New(jobID, cfg, service.Collaborators{
		Graph:      graph,
		Slots:      &demoSlotProvider{},
		Checkpoint: &demoCheckpointCounter{},
		Gateway:    &demoGateway{},
		Sink:       &demoMarkerSink{},
	}, nil)
	if err != nil {
		return fmt.Errorf("building coordinator: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- co.Run(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			co.Stop()
			return err
		}
	}

	co.Stop()
	return nil
}

// --- demonstration-only collaborators ---

type demoGraph struct {
	vertices map[coordinator.VertexID]external.ExecutionJobVertex
	source   coordinator.VertexID
	modVersion int64
}

func newDemoGraph() *demoGraph {
	source := coordinator.NewVertexID()
	return &demoGraph{
		vertices: map[coordinator.VertexID]external.ExecutionJobVertex{
			source: {
				VertexID: source,
				Name:     "source",
				Subtasks: []coordinator.ExecutionVertex{{
					VertexID:             source,
					Name:                 "source",
					ParallelSubtaskIndex: 0,
					AttemptID:            coordinator.NewExecutionAttemptID(),
					State:                coordinator.StateRunning,
				}},
			},
		},
		source: source,
	}
}

func (g *demoGraph) AllVertices() map[coordinator.VertexID]external.ExecutionJobVertex { return g.vertices }

func (g *demoGraph) VerticesInCreationOrder() []external.ExecutionJobVertex {
	out := make([]external.ExecutionJobVertex, 0, len(g.vertices))
	for _, v := range g.vertices {
		out = append(out, v)
	}
	return out
}

func (g *demoGraph) UpstreamOf(coordinator.VertexID) *external.ExecutionJobVertex   { return nil }
func (g *demoGraph) DownstreamOf(coordinator.VertexID) *external.ExecutionJobVertex { return nil }

func (g *demoGraph) Sources() []external.ExecutionJobVertex {
	return []external.ExecutionJobVertex{g.vertices[g.source]}
}

func (g *demoGraph) GlobalModVersion() int64 { return g.modVersion }

func (g *demoGraph) ResetForNewExecutionMigration(v coordinator.ExecutionVertex, _ time.Time, _ int64) (coordinator.ExecutionAttemptID, error) {
	g.modVersion++
	return coordinator.NewExecutionAttemptID(), nil
}

func (g *demoGraph) FailGlobal(cause error) {
	fmt.Fprintln(os.Stderr, "coordinator: failGlobal:", cause)
}

// InsertVertex is unsupported on this single-vertex demo topology; a real
// ExecutionGraph backed by the surrounding streaming engine implements
// this for rescale operations.
func (g *demoGraph) InsertVertex(context.Context, string, int, coordinator.VertexID, coordinator.VertexID) ([]coordinator.ExecutionVertex, error) {
	return nil, fmt.Errorf("demoGraph: InsertVertex not supported")
}

type demoSlotProvider struct{}

func (*demoSlotProvider) AllocateSlotExceptOnTaskManager(context.Context, coordinator.TaskManagerID) (coordinator.Slot, error) {
	return coordinator.Slot{}, nil
}

type demoCheckpointCounter struct{ current int64 }

func (c *demoCheckpointCounter) GetCurrent() int64 { return c.current }

type demoGateway struct{}

func (*demoGateway) ResumeTask(context.Context, coordinator.ExecutionAttemptID, coordinator.Slot, time.Duration) error {
	return nil
}

func (*demoGateway) TriggerMigration(context.Context, coordinator.ModificationID, time.Time, map[coordinator.ExecutionAttemptID]map[int]struct{}, map[coordinator.ExecutionAttemptID][]coordinator.InputChannelDescriptor, int64) error {
	return nil
}

func (*demoGateway) TriggerResumeWithDifferentInputs(context.Context, coordinator.ExecutionAttemptID, []coordinator.InputChannelDescriptor) error {
	return nil
}

func (*demoGateway) TriggerResumeWithNewInput(context.Context, coordinator.ExecutionAttemptID, coordinator.InputChannelDescriptor, int) error {
	return nil
}

func (*demoGateway) ConsumeNewProducer(context.Context, coordinator.ExecutionAttemptID, coordinator.ExecutionAttemptID, coordinator.ResultPartitionID, coordinator.TaskManagerLocation, int, int) error {
	return nil
}

type demoMarkerSink struct{}

func (*demoMarkerSink) BroadcastStartModification(coordinator.VertexID, markers.StartModificationMarker) error {
	return nil
}

func (*demoMarkerSink) BroadcastStartMigration(coordinator.VertexID, markers.StartMigrationMarker) error {
	return nil
}

func (*demoMarkerSink) BroadcastCancelModification(coordinator.VertexID, markers.CancelModificationMarker) error {
	return nil
}
