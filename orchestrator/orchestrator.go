// Package orchestrator implements the scheduler's top-level loop: it
// claims build jobs, spawns one Build Runner per claim up to a concurrency
// ceiling, runs the Tier-2 Queue Worker in the background, and periodically
// logs the in-flight build and task counts read from the activity tracker.
// The periodic log carries neither the concurrency ceilings nor per-build
// task progress.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"actionforge.dev/activity"
	"actionforge.dev/build"
	"actionforge.dev/common"
	"actionforge.dev/eventbus"
	"actionforge.dev/metrics"
	"actionforge.dev/store"
	"actionforge.dev/worker"
)

// Store is the subset of store.Store the Orchestrator depends on directly,
// plus everything the Build Runner needs (Orchestrator constructs Runners
// internally). Narrow enough to fake in unit tests.
type Store interface {
	build.Store
	ClaimBuild(ctx context.Context, staleTimeout time.Duration) (*store.BuildJob, error)
}

// Config controls the Orchestrator's claim loop.
type Config struct {
	MaxConcurrentBuilds    int
	BuildPollInterval      time.Duration
	BuildStaleTimeout      time.Duration
	MetricsInterval        time.Duration
	QueueWorkerShutdown    time.Duration
}

// DefaultConfig mirrors the scheduler's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentBuilds: 5,
		BuildPollInterval:   5 * time.Second,
		BuildStaleTimeout:   15 * time.Minute,
		MetricsInterval:     30 * time.Second,
		QueueWorkerShutdown: 30 * time.Second,
	}
}

// Orchestrator runs the Tier-1 build claim loop alongside the Tier-2 Queue
// Worker.
type Orchestrator struct {
	cfg     Config
	store   Store
	worker  *worker.Pool
	tracker *activity.Tracker
	logger  *common.ContextLogger
	events  *eventbus.Bus
	runnerCfg build.Config

	mu        sync.Mutex
	inFlight  map[string]struct{}
	wg        sync.WaitGroup
}

// New builds an Orchestrator. events may be nil; a nil *eventbus.Bus is a
// safe no-op publisher passed through to every spawned Build Runner.
func New(cfg Config, runnerCfg build.Config, st Store, wp *worker.Pool, tracker *activity.Tracker, logger *common.ContextLogger, events *eventbus.Bus) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     st,
		worker:    wp,
		tracker:   tracker,
		logger:    logger,
		events:    events,
		runnerCfg: runnerCfg,
		inFlight:  make(map[string]struct{}),
	}
}

// Run starts the Queue Worker and metrics emitter in the background, then
// drives the build claim loop until ctx is cancelled. It blocks until all
// spawned Build Runners have returned and the Queue Worker has shut down.
func (o *Orchestrator) Run(ctx context.Context) {
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		o.worker.Run(workerCtx)
		close(workerDone)
	}()

	metricsDone := make(chan struct{})
	go func() {
		o.runMetricsEmitter(ctx)
		close(metricsDone)
	}()

	o.claimLoop(ctx)

	o.wg.Wait() // all spawned Build Runners finished

	cancelWorker()
	o.worker.Shutdown(o.cfg.QueueWorkerShutdown)
	<-workerDone
	<-metricsDone
}

func (o *Orchestrator) claimLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		for o.inFlightCount() < o.cfg.MaxConcurrentBuilds {
			b, err := o.store.ClaimBuild(ctx, o.cfg.BuildStaleTimeout)
			if err != nil {
				if err != store.ErrNoWork {
					o.logger.WithError(err).Error("claim build")
				}
				metrics.BuildClaimsTotal.WithLabelValues(claimOutcome(err)).Inc()
				break
			}
			metrics.BuildClaimsTotal.WithLabelValues("claimed").Inc()
			o.spawnRunner(ctx, b)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(o.cfg.BuildPollInterval):
		}
	}
}

func claimOutcome(err error) string {
	if err == store.ErrNoWork {
		return "no_work"
	}
	return "error"
}

func (o *Orchestrator) inFlightCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inFlight)
}

func (o *Orchestrator) spawnRunner(parentCtx context.Context, b *store.BuildJob) {
	o.mu.Lock()
	o.inFlight[b.BuildID] = struct{}{}
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.inFlight, b.BuildID)
			o.mu.Unlock()
		}()

		runner := build.New(o.runnerCfg, o.store, o.tracker, o.logger, o.events)
		// Build Runners use a fresh background context so a cancelled
		// claim-loop context (shutdown signal) doesn't abort in-flight
		// builds mid-transaction; shutdown instead waits on o.wg.
		runner.Run(context.Background(), b)
	}()
}

func (o *Orchestrator) runMetricsEmitter(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := o.tracker.Snapshot()
			o.logger.WithFields(map[string]interface{}{
				"builds_in_flight": snap.BuildsInFlight,
				"tasks_in_flight":  snap.TasksInFlight,
			}).Info("scheduler progress")
		}
	}
}
