// Package service is the top-level wiring point: it has no root-package
// counterpart in the teacher (whose orchestrator.go lived at module root)
// because here the module root package already holds the shared domain
// types (JobID, VertexID, ...) that every other package imports — a facade
// living there too would import its own importers. service sits one level
// up instead, importing the domain-types package and every subpackage it
// wires together.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/run"

	coordinator "github.com/flowmod/coordinator"
	"github.com/flowmod/coordinator/diagnostics"
	"github.com/flowmod/coordinator/diagnostics/memory"
	"github.com/flowmod/coordinator/external"
	"github.com/flowmod/coordinator/internal/config"
	"github.com/flowmod/coordinator/internal/logging"
	"github.com/flowmod/coordinator/intake"
	"github.com/flowmod/coordinator/metrics"
	"github.com/flowmod/coordinator/registry"
	"github.com/flowmod/coordinator/restart"
	"github.com/flowmod/coordinator/trigger"
)

// Collaborators wires in the caller's implementations of the coordinator's
// external interfaces (spec §6): the surrounding engine supplies these,
// this module never implements them itself.
type Collaborators struct {
	Graph      external.ExecutionGraph
	Slots      external.SlotProvider
	Checkpoint external.CheckpointIDCounter
	Gateway    external.TaskManagerGateway
	Sink       external.MarkerSink
}

// Coordinator is the top-level facade wiring the trigger engine, intake
// router, restart engine, registry, diagnostics store, metrics, and logger
// into one object with a single public API surface, the Go-domain
// counterpart of the teacher's root-level Orchestrator (orchestrator.go) and
// its recreate/orchestrator.go reconfiguration path.
type Coordinator struct {
	JobID coordinator.JobID

	Trigger *trigger.Engine
	Intake  *intake.Router
	Restart *restart.Engine
	Registry *registry.Registry

	diagnostics diagnostics.Store
	collector   *metrics.Collector
	logger      logging.Logger
	metricsSrv  *metrics.Server

	cfg config.Config

	cancel context.CancelFunc
}

// New builds a Coordinator for jobID from cfg and the supplied
// collaborators. diagStore is used as the diagnostics store; when it is
// nil an in-memory store is used. cfg.Store is not read.
func New(jobID coordinator.JobID, cfg config.Config, collab Collaborators, diagStore diagnostics.Store) (*Coordinator, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	if diagStore == nil {
		diagStore = memory.New()
	}

	collector := metrics.NewCollector(jobID.String())
	reg := registry.New(diagStore)

	triggerEngine, err := trigger.New(trigger.Config{
		JobID:      jobID,
		Graph:      collab.Graph,
		Slots:      collab.Slots,
		Checkpoint: collab.Checkpoint,
		Gateway:    collab.Gateway,
		Sink:       collab.Sink,
		Registry:   reg,
		Logger:     logger,
		Collector:  collector,
		Deadline:   cfg.Deadline,
	})
	if err != nil {
		return nil, fmt.Errorf("building trigger engine: %w", err)
	}

	restartEngine := restart.New(restart.Config{
		Graph:     collab.Graph,
		Gateway:   collab.Gateway,
		Registry:  reg,
		Logger:    logger,
		Collector: collector,
	})

	intakeRouter := intake.New(intake.Config{
		Registry:  reg,
		Restart:   restartEngine,
		Logger:    logger,
		Collector: collector,
	})

	var metricsSrv *metrics.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = metrics.NewServer(cfg.MetricsAddr, diagStore)
	}

	return &Coordinator{
		JobID:       jobID,
		Trigger:     triggerEngine,
		Intake:      intakeRouter,
		Restart:     restartEngine,
		Registry:    reg,
		diagnostics: diagStore,
		collector:   collector,
		logger:      logger,
		metricsSrv:  metricsSrv,
		cfg:         cfg,
	}, nil
}

// Run starts the Coordinator's background actors (metrics server, pending
// gauge refresher) and blocks until ctx is canceled or one actor fails,
// following the teacher's run.Group-free heartbeat-loop pattern generalized
// into an oklog/run actor group (pkg/orchestrator/worker.go's heartbeat loop
// adapted to a supervised group rather than one bare goroutine).
func (c *Coordinator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer cancel()

	var g run.Group

	g.Add(func() error {
		<-ctx.Done()
		return ctx.Err()
	}, func(error) {
		cancel()
	})

	if c.metricsSrv != nil {
		g.Add(func() error {
			c.metricsSrv.Start()
			<-ctx.Done()
			if err := c.metricsSrv.Err(); err != nil {
				return err
			}
			return ctx.Err()
		}, func(error) {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = c.metricsSrv.Shutdown(shutdownCtx)
		})
	}

	pollInterval := c.cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = time.Second
	}
	stopGauge := make(chan struct{})
	g.Add(func() error {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collector.SetPendingModifications(c.Registry.PendingCount())
			case <-stopGauge:
				return nil
			}
		}
	}, func(error) {
		close(stopGauge)
	})

	c.logger.Info(ctx, "coordinator starting", "jobId", c.JobID.String())
	return g.Run()
}

// Stop cancels the Coordinator's background actors and releases the
// trigger engine's RPC pool.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.Trigger.Close()
}

// Diagnostics returns the wired diagnostics store, for callers that need
// direct Get access (e.g. an admin endpoint).
func (c *Coordinator) Diagnostics() diagnostics.Store { return c.diagnostics }
