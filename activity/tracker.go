// Package activity provides a bounded, in-memory record of builds and
// recording tasks currently in flight, used by the metrics emitter and the
// /healthz endpoint to report scheduler progress without round-tripping to
// PostgreSQL on every request.
package activity

import (
	"sync"
	"time"
)

// Kind distinguishes the two activity record types.
type Kind string

const (
	KindBuild Kind = "build"
	KindTask  Kind = "task"
)

// Status mirrors the subset of build/task lifecycle states the tracker
// cares about.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record is one tracked build or task.
type Record struct {
	ID          string                 `json:"id"`
	Kind        Kind                   `json:"kind"`
	Status      Status                 `json:"status"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Duration    time.Duration          `json:"duration,omitempty"`
	Progress    int                    `json:"progress,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Stats aggregates tracked records.
type Stats struct {
	TotalBuilds     int           `json:"total_builds"`
	TotalTasks      int           `json:"total_tasks"`
	BuildsByStatus  map[Status]int `json:"builds_by_status"`
	TasksByStatus   map[Status]int `json:"tasks_by_status"`
	AvgBuildDuration time.Duration `json:"avg_build_duration"`
	AvgTaskDuration  time.Duration `json:"avg_task_duration"`
}

// Snapshot is the point-in-time view reported by /healthz and consumed by
// the metrics emitter.
type Snapshot struct {
	BuildsInFlight int     `json:"builds_in_flight"`
	TasksInFlight  int     `json:"tasks_in_flight"`
	Stats          Stats   `json:"stats"`
	Records        []Record `json:"records,omitempty"`
}

// Config configures a Tracker.
type Config struct {
	// MaxRecords bounds memory by evicting the oldest completed/failed
	// record once the tracker holds this many entries of a given kind
	// (the oldest running record when none has finished).
	MaxRecords int
}

// DefaultConfig returns the scheduler's default tracker bounds.
func DefaultConfig() Config {
	return Config{MaxRecords: 1000}
}

// Tracker is a bounded, in-memory tracker of in-flight builds and tasks.
// It exists purely for observability; it is never consulted for
// scheduling decisions, which always go through the Store.
type Tracker struct {
	mu         sync.RWMutex
	max        int
	builds     map[string]*Record
	tasks      map[string]*Record
}

// New creates a Tracker.
func New(cfg Config) *Tracker {
	max := cfg.MaxRecords
	if max <= 0 {
		max = 1000
	}
	return &Tracker{
		max:    max,
		builds: make(map[string]*Record),
		tasks:  make(map[string]*Record),
	}
}

// StartBuild records a build entering action_build/running.
func (t *Tracker) StartBuild(buildID string, metadata map[string]interface{}) {
	t.start(t.builds, buildID, KindBuild, metadata)
}

// FinishBuild records a build's terminal outcome.
func (t *Tracker) FinishBuild(buildID string, failed bool, errMsg string) {
	t.finish(t.builds, buildID, failed, errMsg)
}

// StartTask records a task entering running.
func (t *Tracker) StartTask(taskID string, metadata map[string]interface{}) {
	t.start(t.tasks, taskID, KindTask, metadata)
}

// UpdateTaskProgress records a task's current progress percentage.
func (t *Tracker) UpdateTaskProgress(taskID string, progress int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.tasks[taskID]; ok {
		r.Progress = progress
	}
}

// FinishTask records a task's terminal outcome.
func (t *Tracker) FinishTask(taskID string, failed bool, errMsg string) {
	t.finish(t.tasks, taskID, failed, errMsg)
}

func (t *Tracker) start(m map[string]*Record, id string, kind Kind, metadata map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(m) >= t.max {
		evictOldest(m)
	}
	m[id] = &Record{
		ID:        id,
		Kind:      kind,
		Status:    StatusRunning,
		StartedAt: time.Now(),
		Metadata:  metadata,
	}
}

func (t *Tracker) finish(m map[string]*Record, id string, failed bool, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := m[id]
	if !ok {
		return
	}
	now := time.Now()
	r.CompletedAt = &now
	r.Duration = now.Sub(r.StartedAt)
	r.Error = errMsg
	if failed {
		r.Status = StatusFailed
	} else {
		r.Status = StatusCompleted
		r.Progress = 100
	}
}

// evictOldest removes the oldest completed/failed record from m, or the
// oldest running record when none has finished. Caller holds t.mu.
func evictOldest(m map[string]*Record) {
	var oldestID string
	var oldestAt time.Time
	oldestFinished := false
	for id, r := range m {
		finished := r.Status != StatusRunning
		if oldestID == "" || (finished && !oldestFinished) ||
			(finished == oldestFinished && r.StartedAt.Before(oldestAt)) {
			oldestID = id
			oldestAt = r.StartedAt
			oldestFinished = finished
		}
	}
	if oldestID != "" {
		delete(m, oldestID)
	}
}

// Snapshot returns the current in-flight counts and aggregate stats.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Stats{
		BuildsByStatus: make(map[Status]int),
		TasksByStatus:  make(map[Status]int),
	}

	buildsInFlight := 0
	var buildDurationSum time.Duration
	var buildDurationCount int
	for _, r := range t.builds {
		stats.TotalBuilds++
		stats.BuildsByStatus[r.Status]++
		if r.Status == StatusRunning {
			buildsInFlight++
		} else {
			buildDurationSum += r.Duration
			buildDurationCount++
		}
	}

	tasksInFlight := 0
	var taskDurationSum time.Duration
	var taskDurationCount int
	for _, r := range t.tasks {
		stats.TotalTasks++
		stats.TasksByStatus[r.Status]++
		if r.Status == StatusRunning {
			tasksInFlight++
		} else {
			taskDurationSum += r.Duration
			taskDurationCount++
		}
	}

	if buildDurationCount > 0 {
		stats.AvgBuildDuration = buildDurationSum / time.Duration(buildDurationCount)
	}
	if taskDurationCount > 0 {
		stats.AvgTaskDuration = taskDurationSum / time.Duration(taskDurationCount)
	}

	return Snapshot{
		BuildsInFlight: buildsInFlight,
		TasksInFlight:  tasksInFlight,
		Stats:          stats,
	}
}
