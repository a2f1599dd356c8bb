// Package executor implements the Recording Executor: the component that
// drives a single recording task through a Recorder, dispatched by the
// task's chunk_type to the executor registered to handle it.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"actionforge.dev/store"
)

// Executor drives the recording of one chunk via a Recorder.
type Executor interface {
	// Execute runs the recording task and returns its result.
	Execute(ctx context.Context, task *store.RecordingTask, chunk *store.ExpandedChunk) (*Result, error)

	// ChunkType reports which store.ChunkType this executor handles.
	ChunkType() store.ChunkType

	// Name returns the executor's identifier, used in logs and metadata.
	Name() string
}

// Result contains the execution output and metadata.
type Result struct {
	Success        bool
	PartialMessage string // set alongside Success when the run was incomplete but usable
	SiteCapability string
	Metadata       map[string]interface{}
	Error          *ExecutionError
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
}

// ExecutionStatus represents the terminal state of an execution.
type ExecutionStatus string

const (
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// ExecutionError provides detailed error information.
type ExecutionError struct {
	Message string
	Code    string
	Details map[string]interface{}
}

func (e *ExecutionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "execution error"
}

// Registry dispatches a recording task to the executor registered for its
// chunk_type. Exactly two chunk types exist (task_driven, exploratory), so
// dispatch is a direct map lookup rather than a predicate scan.
type Registry struct {
	mu        sync.RWMutex
	executors map[store.ChunkType]Executor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[store.ChunkType]Executor)}
}

// Register adds an executor, keyed by the chunk type it handles.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.ChunkType()] = e
}

// Execute dispatches to the executor registered for task.ChunkTypeOf().
func (r *Registry) Execute(ctx context.Context, task *store.RecordingTask, chunk *store.ExpandedChunk) (*Result, error) {
	r.mu.RLock()
	e, ok := r.executors[task.ChunkTypeOf()]
	r.mu.RUnlock()

	if !ok {
		return nil, &ExecutionError{
			Message: fmt.Sprintf("no executor registered for chunk_type %q", task.ChunkTypeOf()),
			Code:    "NO_EXECUTOR",
		}
	}

	return e.Execute(ctx, task, chunk)
}
