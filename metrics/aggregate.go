package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"actionforge.dev/db"
)

var (
	GlobalPendingTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_global_pending_tasks",
		Help: "Recording tasks currently pending across all builds, read directly from PostgreSQL.",
	})

	GlobalRunningBuilds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_global_running_builds",
		Help: "Builds currently in the action_build stage, read directly from PostgreSQL.",
	})
)

// AggregateEmitter periodically queries PostgreSQL directly via pgx for
// fleet-wide counts that would otherwise require loading and counting rows
// through GORM. A nil pg pool makes Run a no-op, so callers can construct
// one unconditionally even when the fast path isn't configured.
type AggregateEmitter struct {
	pg *db.PostgresDB
}

// NewAggregateEmitter builds an emitter backed by pg. pg may be nil.
func NewAggregateEmitter(pg *db.PostgresDB) *AggregateEmitter {
	return &AggregateEmitter{pg: pg}
}

// Run emits aggregate gauges every interval until ctx is cancelled.
func (e *AggregateEmitter) Run(ctx context.Context, interval time.Duration) {
	if e == nil || e.pg == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.emit(ctx)
		}
	}
}

func (e *AggregateEmitter) emit(ctx context.Context) {
	var pending int64
	if err := e.pg.QueryRow(ctx, `SELECT count(*) FROM recording_task WHERE status = 'pending'`).Scan(&pending); err == nil {
		GlobalPendingTasks.Set(float64(pending))
	}

	var running int64
	if err := e.pg.QueryRow(ctx, `SELECT count(*) FROM build_task WHERE stage = 'action_build' AND stage_status = 'running'`).Scan(&running); err == nil {
		GlobalRunningBuilds.Set(float64(running))
	}
}
