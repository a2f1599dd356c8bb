package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"actionforge.dev/activity"
	"actionforge.dev/build"
	"actionforge.dev/common"
	"actionforge.dev/executor"
	"actionforge.dev/store"
	"actionforge.dev/worker"
	"github.com/stretchr/testify/assert"
)

type fakeStore struct {
	mu      sync.Mutex
	builds  []*store.BuildJob
	claimed []string
}

func (f *fakeStore) ClaimBuild(ctx context.Context, staleTimeout time.Duration) (*store.BuildJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.builds) == 0 {
		return nil, store.ErrNoWork
	}
	b := f.builds[0]
	f.builds = f.builds[1:]
	f.claimed = append(f.claimed, b.BuildID)
	return b, nil
}

func (f *fakeStore) GenerateRecordingTasks(ctx context.Context, buildID, siteID string, newTaskID func() string) (int, error) {
	return 0, nil
}
func (f *fakeStore) CountTasksByStatus(ctx context.Context, buildID string) (store.StatusCounts, error) {
	return store.StatusCounts{}, nil
}
func (f *fakeStore) RetryFailedTasks(ctx context.Context, buildID string, maxAttempts int) (int64, error) {
	return 0, nil
}
func (f *fakeStore) TouchBuild(ctx context.Context, buildID string) error { return nil }
func (f *fakeStore) PublishSiteVersion(ctx context.Context, siteID, buildID string, newVersionID func() string) (*store.SiteVersion, error) {
	return &store.SiteVersion{VersionID: newVersionID()}, nil
}
func (f *fakeStore) CompleteBuild(ctx context.Context, buildID string) error { return nil }
func (f *fakeStore) FailBuild(ctx context.Context, buildID string, message string) error { return nil }

type noopWorkerStore struct{}

func (noopWorkerStore) ClaimRecordingTask(ctx context.Context) (*store.RecordingTask, error) {
	return nil, store.ErrNoWork
}
func (noopWorkerStore) Heartbeat(ctx context.Context, taskID string) error { return nil }
func (noopWorkerStore) GetExpandedChunk(ctx context.Context, chunkID string) (*store.ExpandedChunk, error) {
	return nil, nil
}
func (noopWorkerStore) CompleteRecordingTask(ctx context.Context, taskID, capability, partialNote string, durationMs int64) error {
	return nil
}
func (noopWorkerStore) FailRecordingTask(ctx context.Context, taskID, message string, durationMs int64) error {
	return nil
}
func (noopWorkerStore) RecoverStaleRecordingTasks(ctx context.Context, staleTimeout time.Duration, maxAttempts int) (int64, int64, error) {
	return 0, 0, nil
}

func TestOrchestrator_ClaimsAllBuildsPastConcurrencyCeiling(t *testing.T) {
	fs := &fakeStore{builds: []*store.BuildJob{
		{BuildID: "b1", SiteID: "s1"},
		{BuildID: "b2", SiteID: "s1"},
		{BuildID: "b3", SiteID: "s1"},
	}}

	cfg := DefaultConfig()
	cfg.MaxConcurrentBuilds = 2
	cfg.BuildPollInterval = 5 * time.Millisecond
	cfg.MetricsInterval = time.Hour
	cfg.QueueWorkerShutdown = time.Second

	runnerCfg := build.DefaultConfig()
	runnerCfg.PollInterval = 5 * time.Millisecond
	runnerCfg.HeartbeatInterval = time.Hour

	wp := worker.New(worker.DefaultConfig(), noopWorkerStore{}, executor.NewRegistry(), activity.New(activity.DefaultConfig()), common.NewContextLogger(nil, nil), nil)
	orch := New(cfg, runnerCfg, fs, wp, activity.New(activity.DefaultConfig()), common.NewContextLogger(nil, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		orch.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fs.mu.Lock()
		n := len(fs.claimed)
		fs.mu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not shut down")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Len(t, fs.claimed, 3)
}
