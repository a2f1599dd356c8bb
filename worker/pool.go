// Package worker implements the Tier-2 Recording Queue Worker: a
// concurrency-limited pool that claims pending recording tasks from the
// Store, runs them through the Recording Executor, and heartbeats each
// in-flight task until it completes.
package worker

import (
	"context"
	"sync"
	"time"

	"actionforge.dev/activity"
	"actionforge.dev/common"
	"actionforge.dev/eventbus"
	"actionforge.dev/executor"
	"actionforge.dev/metrics"
	"actionforge.dev/store"
)

// Store is the subset of store.Store the Queue Worker depends on, narrow
// enough to fake in unit tests without a real PostgreSQL instance.
type Store interface {
	ClaimRecordingTask(ctx context.Context) (*store.RecordingTask, error)
	Heartbeat(ctx context.Context, taskID string) error
	GetExpandedChunk(ctx context.Context, chunkID string) (*store.ExpandedChunk, error)
	CompleteRecordingTask(ctx context.Context, taskID string, capability string, partialNote string, durationMs int64) error
	FailRecordingTask(ctx context.Context, taskID string, message string, durationMs int64) error
	RecoverStaleRecordingTasks(ctx context.Context, staleTimeout time.Duration, maxAttempts int) (int64, int64, error)
}

// Config controls the Queue Worker's claim loop.
type Config struct {
	Concurrency       int
	IdleWait          time.Duration
	HeartbeatInterval time.Duration
	StaleTimeout      time.Duration
	MaxAttempts       int
}

// DefaultConfig mirrors the scheduler's documented defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       3,
		IdleWait:          time.Second,
		HeartbeatInterval: 5 * time.Second,
		StaleTimeout:      15 * time.Minute,
		MaxAttempts:       3,
	}
}

// Pool is the Tier-2 Recording Queue Worker.
type Pool struct {
	cfg      Config
	store    Store
	registry *executor.Registry
	tracker  *activity.Tracker
	logger   *common.ContextLogger
	events   *eventbus.Bus

	mu       sync.Mutex
	inFlight map[string]struct{}
	done     chan string
}

// New builds a Queue Worker. events may be nil; a nil *eventbus.Bus is a
// safe no-op publisher.
func New(cfg Config, st Store, registry *executor.Registry, tracker *activity.Tracker, logger *common.ContextLogger, events *eventbus.Bus) *Pool {
	return &Pool{
		cfg:      cfg,
		store:    st,
		registry: registry,
		tracker:  tracker,
		logger:   logger,
		events:   events,
		inFlight: make(map[string]struct{}),
		done:     make(chan string, 64),
	}
}

// Run drives the claim loop until ctx is cancelled. It runs a stale
// recovery pass at startup and before each round of claims, then loops:
// claim up to Concurrency tasks, run each asynchronously, and wait for
// either more capacity or the idle wait before trying again.
func (p *Pool) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		p.recoverStale(ctx)

		claimedAny := false
		for p.inFlightCount() < p.cfg.Concurrency {
			task, err := p.store.ClaimRecordingTask(ctx)
			if err != nil {
				if err != store.ErrNoWork {
					p.logger.WithError(err).Error("claim recording task")
				}
				metrics.TaskClaimsTotal.WithLabelValues(outcomeOf(err)).Inc()
				break
			}
			metrics.TaskClaimsTotal.WithLabelValues("claimed").Inc()
			claimedAny = true
			p.spawn(task)
		}

		if p.inFlightCount() == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.IdleWait):
			}
			continue
		}

		if !claimedAny {
			select {
			case <-ctx.Done():
				return
			case id := <-p.done:
				p.removeInFlight(id)
			case <-time.After(p.cfg.IdleWait):
			}
		}
	}
}

func outcomeOf(err error) string {
	if err == store.ErrNoWork {
		return "no_work"
	}
	return "error"
}

func (p *Pool) inFlightCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

func (p *Pool) removeInFlight(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, taskID)
}

func (p *Pool) spawn(task *store.RecordingTask) {
	p.mu.Lock()
	p.inFlight[task.TaskID] = struct{}{}
	p.mu.Unlock()

	metrics.TasksInFlight.Inc()
	p.tracker.StartTask(task.TaskID, map[string]interface{}{"build_id": task.BuildID, "chunk_id": task.ChunkID})

	taskCtx, cancel := context.WithCancel(context.Background())

	go func() {
		defer cancel()
		defer func() {
			metrics.TasksInFlight.Dec()
			select {
			case p.done <- task.TaskID:
			default:
			}
		}()

		stopHeartbeat := p.startHeartbeat(taskCtx, task.TaskID)
		defer stopHeartbeat()

		p.execute(taskCtx, task)
	}()
}

func (p *Pool) startHeartbeat(ctx context.Context, taskID string) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(p.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.store.Heartbeat(context.Background(), taskID); err != nil {
					p.logger.WithError(err).WithField("task_id", taskID).Warn("heartbeat failed")
				}
			}
		}
	}()
	return func() { close(stop) }
}

func (p *Pool) execute(ctx context.Context, task *store.RecordingTask) {
	start := time.Now()

	chunk, err := p.store.GetExpandedChunk(ctx, task.ChunkID)
	if err != nil {
		p.fail(task, "failed to load chunk: "+err.Error(), start)
		return
	}

	result, err := p.registry.Execute(ctx, task, chunk)
	if err != nil {
		p.fail(task, err.Error(), start)
		return
	}

	metrics.RecorderCallDurationSeconds.Observe(time.Since(start).Seconds())
	durationMs := time.Since(start).Milliseconds()

	if result.Success {
		if err := p.store.CompleteRecordingTask(context.Background(), task.TaskID, result.SiteCapability, result.PartialMessage, durationMs); err != nil {
			p.logger.WithError(err).WithField("task_id", task.TaskID).Error("persist completed task")
		}
		metrics.TaskDurationSeconds.WithLabelValues("completed").Observe(time.Since(start).Seconds())
		p.tracker.FinishTask(task.TaskID, false, "")
		p.events.Publish(eventbus.TaskCompleted(task.TaskID, task.BuildID, durationMs))
		return
	}

	msg := ""
	if result.Error != nil {
		msg = result.Error.Message
	}
	p.fail(task, msg, start)
}

func (p *Pool) fail(task *store.RecordingTask, message string, start time.Time) {
	durationMs := time.Since(start).Milliseconds()
	if err := p.store.FailRecordingTask(context.Background(), task.TaskID, message, durationMs); err != nil {
		p.logger.WithError(err).WithField("task_id", task.TaskID).Error("persist failed task")
	}
	metrics.TaskDurationSeconds.WithLabelValues("failed").Observe(time.Since(start).Seconds())
	p.tracker.FinishTask(task.TaskID, true, message)
	p.events.Publish(eventbus.TaskFailed(task.TaskID, task.BuildID, message, durationMs))
}

func (p *Pool) recoverStale(ctx context.Context) {
	requeued, failed, err := p.store.RecoverStaleRecordingTasks(ctx, p.cfg.StaleTimeout, p.cfg.MaxAttempts)
	if err != nil {
		p.logger.WithError(err).Error("stale task recovery")
		return
	}
	if requeued > 0 {
		metrics.TaskStaleRecoveredTotal.WithLabelValues("requeued").Add(float64(requeued))
		p.events.Publish(eventbus.TaskStaleRecovered("requeued", requeued))
	}
	if failed > 0 {
		metrics.TaskStaleRecoveredTotal.WithLabelValues("failed").Add(float64(failed))
		p.events.Publish(eventbus.TaskStaleRecovered("failed", failed))
	}
}

// Shutdown stops claiming new work (the caller must have already cancelled
// Run's context) and waits for in-flight tasks to finish, up to timeout.
// Tasks still running past the deadline are abandoned; Shutdown does not
// stop their heartbeats, which keep running until the task finishes or the
// process exits. After that, the tasks self-heal via stale recovery.
func (p *Pool) Shutdown(timeout time.Duration) {
	deadline := time.After(timeout)
	for p.inFlightCount() > 0 {
		select {
		case id := <-p.done:
			p.removeInFlight(id)
		case <-deadline:
			return
		}
	}
}
