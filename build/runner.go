// Package build implements the Tier-1 Build Runner: it drives a single
// claimed build job through recording-task generation, polling for task
// completion, bounded retry, blue-green publish, and final completion.
package build

import (
	"context"
	"time"

	"actionforge.dev/activity"
	"actionforge.dev/common"
	"actionforge.dev/eventbus"
	"actionforge.dev/metrics"
	"actionforge.dev/store"
	"github.com/google/uuid"
)

// Config controls a Build Runner's poll loop.
type Config struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	MaxAttempts       int
}

// DefaultConfig mirrors the scheduler's documented defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:      5 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		MaxAttempts:       3,
	}
}

// Store is the subset of store.Store the Build Runner depends on, narrow
// enough to fake in unit tests without a real PostgreSQL instance.
type Store interface {
	GenerateRecordingTasks(ctx context.Context, buildID, siteID string, newTaskID func() string) (int, error)
	CountTasksByStatus(ctx context.Context, buildID string) (store.StatusCounts, error)
	RetryFailedTasks(ctx context.Context, buildID string, maxAttempts int) (int64, error)
	TouchBuild(ctx context.Context, buildID string) error
	PublishSiteVersion(ctx context.Context, siteID, buildID string, newVersionID func() string) (*store.SiteVersion, error)
	CompleteBuild(ctx context.Context, buildID string) error
	FailBuild(ctx context.Context, buildID string, message string) error
}

// Runner drives one claimed build job through its action_build stage.
type Runner struct {
	cfg     Config
	store   Store
	tracker *activity.Tracker
	logger  *common.ContextLogger
	events  *eventbus.Bus
}

// New builds a Build Runner. events may be nil; a nil *eventbus.Bus is a
// safe no-op publisher.
func New(cfg Config, st Store, tracker *activity.Tracker, logger *common.ContextLogger, events *eventbus.Bus) *Runner {
	return &Runner{cfg: cfg, store: st, tracker: tracker, logger: logger, events: events}
}

// Run executes all five phases for one claimed build. It never returns an
// error: Phase 1-3 failures are recorded against the build and logged;
// Phase 4 (publish) failures are logged but never fail the build.
func (r *Runner) Run(ctx context.Context, build *store.BuildJob) {
	start := time.Now()
	r.tracker.StartBuild(build.BuildID, map[string]interface{}{"site_id": build.SiteID})
	metrics.BuildsInFlight.Inc()
	defer metrics.BuildsInFlight.Dec()

	log := r.logger.WithField("build_id", build.BuildID).WithField("site_id", build.SiteID)
	r.events.Publish(eventbus.BuildPhaseChanged(build.BuildID, build.SiteID, string(build.Stage), "running"))

	if err := r.runPhases(ctx, build, log); err != nil {
		log.WithError(err).Error("build failed")
		if failErr := r.store.FailBuild(context.Background(), build.BuildID, err.Error()); failErr != nil {
			log.WithError(failErr).Error("record build failure")
		}
		metrics.BuildDurationSeconds.Observe(time.Since(start).Seconds())
		r.tracker.FinishBuild(build.BuildID, true, err.Error())
		r.events.Publish(eventbus.BuildPhaseChanged(build.BuildID, build.SiteID, string(build.Stage), "error"))
		return
	}

	metrics.BuildDurationSeconds.Observe(time.Since(start).Seconds())
	r.tracker.FinishBuild(build.BuildID, false, "")
	r.events.Publish(eventbus.BuildPhaseChanged(build.BuildID, build.SiteID, string(build.Stage), "completed"))
}

func (r *Runner) runPhases(ctx context.Context, build *store.BuildJob, log *common.ContextLogger) error {
	// Phase 1: idempotent recording-task generation. Re-entrant: a build
	// resumed after a crash regenerates the same task set without
	// duplicating in-progress or terminal work.
	created, err := r.store.GenerateRecordingTasks(ctx, build.BuildID, build.SiteID, newID)
	if err != nil {
		return err
	}
	if created == 0 {
		log.Info("no chunks to record, completing immediately")
		return r.finish(ctx, build, log)
	}

	// Phase 2: poll until no pending/running tasks remain and the most
	// recent retry pass requeued nothing.
	pollTicker := time.NewTicker(r.cfg.PollInterval)
	defer pollTicker.Stop()
	heartbeatTicker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeatTicker.C:
			if err := r.store.TouchBuild(context.Background(), build.BuildID); err != nil {
				log.WithError(err).Warn("build heartbeat failed")
			}
		case <-pollTicker.C:
			counts, err := r.store.CountTasksByStatus(ctx, build.BuildID)
			if err != nil {
				return err
			}

			// Phase 3: retry pass.
			requeued, err := r.store.RetryFailedTasks(ctx, build.BuildID, r.cfg.MaxAttempts)
			if err != nil {
				return err
			}
			if requeued > 0 {
				metrics.TaskRetriesTotal.Add(float64(requeued))
			}

			if counts.Pending == 0 && counts.Running == 0 && requeued == 0 {
				return r.finish(ctx, build, log)
			}
		}
	}
}

// finish runs Phase 4 (publish, best-effort) and Phase 5 (complete).
func (r *Runner) finish(ctx context.Context, build *store.BuildJob, log *common.ContextLogger) error {
	if version, err := r.store.PublishSiteVersion(context.Background(), build.SiteID, build.BuildID, newID); err != nil {
		log.WithError(err).Error("publish site version failed, continuing to complete build")
	} else {
		metrics.SiteVersionsPublishedTotal.Inc()
		r.events.Publish(eventbus.SiteVersionPublished(build.SiteID, version.VersionID, version.VersionNumber))
	}

	return r.store.CompleteBuild(context.Background(), build.BuildID)
}

func newID() string { return uuid.NewString() }
