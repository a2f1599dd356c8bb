package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"actionforge.dev/activity"
	"actionforge.dev/common"
	"actionforge.dev/executor"
	"actionforge.dev/store"
	"github.com/stretchr/testify/assert"
)

type fakeStore struct {
	mu        sync.Mutex
	pending   []*store.RecordingTask
	completed []string
	failed    []string
}

func (f *fakeStore) ClaimRecordingTask(ctx context.Context) (*store.RecordingTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, store.ErrNoWork
	}
	t := f.pending[0]
	f.pending = f.pending[1:]
	return t, nil
}

func (f *fakeStore) Heartbeat(ctx context.Context, taskID string) error { return nil }

func (f *fakeStore) GetExpandedChunk(ctx context.Context, chunkID string) (*store.ExpandedChunk, error) {
	return &store.ExpandedChunk{ChunkID: chunkID, Domain: "example.com", BaseURL: "https://example.com"}, nil
}

func (f *fakeStore) CompleteRecordingTask(ctx context.Context, taskID string, capability string, partialNote string, durationMs int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, taskID)
	return nil
}

func (f *fakeStore) FailRecordingTask(ctx context.Context, taskID string, message string, durationMs int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, taskID)
	return nil
}

func (f *fakeStore) RecoverStaleRecordingTasks(ctx context.Context, staleTimeout time.Duration, maxAttempts int) (int64, int64, error) {
	return 0, 0, nil
}

type countingExecutor struct {
	calls atomic.Int32
}

func (c *countingExecutor) Execute(ctx context.Context, task *store.RecordingTask, chunk *store.ExpandedChunk) (*executor.Result, error) {
	c.calls.Add(1)
	return &executor.Result{Success: true, SiteCapability: "cap"}, nil
}
func (c *countingExecutor) ChunkType() store.ChunkType { return store.ChunkTaskDriven }
func (c *countingExecutor) Name() string               { return "fake" }

func TestPool_ClaimsAndCompletesTasks(t *testing.T) {
	fs := &fakeStore{pending: []*store.RecordingTask{
		{TaskID: "t1", ChunkID: "c1", Config: store.JSONMap{"chunk_type": "task_driven"}},
		{TaskID: "t2", ChunkID: "c2", Config: store.JSONMap{"chunk_type": "task_driven"}},
	}}
	reg := executor.NewRegistry()
	ce := &countingExecutor{}
	reg.Register(ce)

	cfg := DefaultConfig()
	cfg.IdleWait = 5 * time.Millisecond
	cfg.HeartbeatInterval = time.Hour

	pool := New(cfg, fs, reg, activity.New(activity.DefaultConfig()), common.NewContextLogger(nil, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	require := assert.New(t)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fs.mu.Lock()
		n := len(fs.completed)
		fs.mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	pool.Shutdown(time.Second)
	<-done

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(fs.completed, 2)
	require.Empty(fs.failed)
}
