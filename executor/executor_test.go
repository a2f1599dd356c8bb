package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"actionforge.dev/recorder"
	"actionforge.dev/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	result *recorder.Result
	err    error
	closed bool
}

func (f *fakeRecorder) Build(ctx context.Context, startURL, scenarioName string, opts recorder.Options) (*recorder.Result, error) {
	return f.result, f.err
}

func (f *fakeRecorder) Close() error {
	f.closed = true
	return nil
}

func taskWithChunkType(ct store.ChunkType) *store.RecordingTask {
	return &store.RecordingTask{
		TaskID:  "task-1",
		ChunkID: "chunk-1",
		Config:  store.JSONMap{"chunk_type": string(ct)},
	}
}

func chunkFixture() *store.ExpandedChunk {
	return &store.ExpandedChunk{
		ChunkID:   "chunk-1",
		Content:   "click the sign-up button",
		SourceURL: "https://example.com/signup",
		Domain:    "example.com",
		BaseURL:   "https://example.com",
	}
}

func TestTaskDrivenExecutor_Success(t *testing.T) {
	fr := &fakeRecorder{result: &recorder.Result{Success: true, SiteCapability: "signup_flow"}}
	exec := NewTaskDrivenExecutor(func() (recorder.Recorder, error) { return fr, nil }, 1)

	result, err := exec.Execute(context.Background(), taskWithChunkType(store.ChunkTaskDriven), chunkFixture())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "signup_flow", result.SiteCapability)
	assert.True(t, fr.closed)
}

func TestTaskDrivenExecutor_RecorderFailure(t *testing.T) {
	fr := &fakeRecorder{result: &recorder.Result{Success: false, Message: "could not find button"}}
	exec := NewTaskDrivenExecutor(func() (recorder.Recorder, error) { return fr, nil }, 1)

	result, err := exec.Execute(context.Background(), taskWithChunkType(store.ChunkTaskDriven), chunkFixture())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "RECORDER_FAILURE", result.Error.Code)
	assert.True(t, fr.closed)
}

func TestTaskDrivenExecutor_RecorderError(t *testing.T) {
	fr := &fakeRecorder{err: errors.New("connection reset")}
	exec := NewTaskDrivenExecutor(func() (recorder.Recorder, error) { return fr, nil }, 1)

	result, err := exec.Execute(context.Background(), taskWithChunkType(store.ChunkTaskDriven), chunkFixture())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "RECORDER_ERROR", result.Error.Code)
	assert.True(t, fr.closed)
}

func TestTaskDrivenExecutor_MissingChunkID(t *testing.T) {
	fr := &fakeRecorder{}
	exec := NewTaskDrivenExecutor(func() (recorder.Recorder, error) { return fr, nil }, 1)

	task := taskWithChunkType(store.ChunkTaskDriven)
	task.ChunkID = ""

	result, err := exec.Execute(context.Background(), task, chunkFixture())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "NO_CHUNK", result.Error.Code)
	assert.False(t, fr.closed, "recorder should never be constructed for an invalid task")
}

func TestRegistry_DispatchesByChunkType(t *testing.T) {
	reg := NewRegistry()
	frTaskDriven := &fakeRecorder{result: &recorder.Result{Success: true, SiteCapability: "task"}}
	frExploratory := &fakeRecorder{result: &recorder.Result{Success: true, SiteCapability: "exploratory"}}
	reg.Register(NewTaskDrivenExecutor(func() (recorder.Recorder, error) { return frTaskDriven, nil }, 1))
	reg.Register(NewExploratoryExecutor(func() (recorder.Recorder, error) { return frExploratory, nil }, 1))

	result, err := reg.Execute(context.Background(), taskWithChunkType(store.ChunkExploratory), chunkFixture())
	require.NoError(t, err)
	assert.Equal(t, "exploratory", result.SiteCapability)
}

func TestRegistry_NoExecutorRegistered(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Execute(context.Background(), taskWithChunkType(store.ChunkTaskDriven), chunkFixture())
	require.Error(t, err)
}

func TestExecutorRespectsTimeout(t *testing.T) {
	fr := &fakeSlowRecorder{delay: 50 * time.Millisecond}
	exec := NewTaskDrivenExecutor(func() (recorder.Recorder, error) { return fr, nil }, 0)
	exec.(*baseExecutor).taskTimeout = 10 * time.Millisecond

	result, err := exec.Execute(context.Background(), taskWithChunkType(store.ChunkTaskDriven), chunkFixture())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "TIMEOUT", result.Error.Code)
}

type fakeSlowRecorder struct {
	delay time.Duration
}

func (f *fakeSlowRecorder) Build(ctx context.Context, startURL, scenarioName string, opts recorder.Options) (*recorder.Result, error) {
	select {
	case <-time.After(f.delay):
		return &recorder.Result{Success: true}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeSlowRecorder) Close() error { return nil }
