package build

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"actionforge.dev/activity"
	"actionforge.dev/common"
	"actionforge.dev/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu sync.Mutex

	generated     int
	generateErr   error
	counts        []store.StatusCounts // popped in order, last repeats
	retryCounts   []int64
	published     bool
	publishErr    error
	completed     bool
	failed        bool
	failedMessage string
	touches       int
}

func (f *fakeStore) GenerateRecordingTasks(ctx context.Context, buildID, siteID string, newTaskID func() string) (int, error) {
	return f.generated, f.generateErr
}

func (f *fakeStore) CountTasksByStatus(ctx context.Context, buildID string) (store.StatusCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.counts) == 0 {
		return store.StatusCounts{}, nil
	}
	c := f.counts[0]
	if len(f.counts) > 1 {
		f.counts = f.counts[1:]
	}
	return c, nil
}

func (f *fakeStore) RetryFailedTasks(ctx context.Context, buildID string, maxAttempts int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.retryCounts) == 0 {
		return 0, nil
	}
	n := f.retryCounts[0]
	if len(f.retryCounts) > 1 {
		f.retryCounts = f.retryCounts[1:]
	}
	return n, nil
}

func (f *fakeStore) TouchBuild(ctx context.Context, buildID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
	return nil
}

func (f *fakeStore) PublishSiteVersion(ctx context.Context, siteID, buildID string, newVersionID func() string) (*store.SiteVersion, error) {
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	f.published = true
	return &store.SiteVersion{VersionID: newVersionID(), SiteID: siteID}, nil
}

func (f *fakeStore) CompleteBuild(ctx context.Context, buildID string) error {
	f.completed = true
	return nil
}

func (f *fakeStore) FailBuild(ctx context.Context, buildID string, message string) error {
	f.failed = true
	f.failedMessage = message
	return nil
}

func testLogger() *common.ContextLogger {
	return common.NewContextLogger(nil, nil)
}

func TestRunner_NoChunksCompletesImmediately(t *testing.T) {
	fs := &fakeStore{generated: 0}
	r := New(DefaultConfig(), fs, activity.New(activity.DefaultConfig()), testLogger(), nil)

	r.Run(context.Background(), &store.BuildJob{BuildID: "b1", SiteID: "s1"})

	assert.True(t, fs.completed)
	assert.True(t, fs.published)
	assert.False(t, fs.failed)
}

func TestRunner_PollsUntilTerminationPredicate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.HeartbeatInterval = 5 * time.Millisecond

	fs := &fakeStore{
		generated: 2,
		counts: []store.StatusCounts{
			{Pending: 1, Running: 1},
			{Pending: 0, Running: 0},
		},
		retryCounts: []int64{0, 0},
	}
	r := New(cfg, fs, activity.New(activity.DefaultConfig()), testLogger(), nil)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), &store.BuildJob{BuildID: "b1", SiteID: "s1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not terminate")
	}

	assert.True(t, fs.completed)
	assert.True(t, fs.published)
}

func TestRunner_GenerateFailureFailsBuild(t *testing.T) {
	fs := &fakeStore{generateErr: errors.New("db unavailable")}
	r := New(DefaultConfig(), fs, activity.New(activity.DefaultConfig()), testLogger(), nil)

	r.Run(context.Background(), &store.BuildJob{BuildID: "b1", SiteID: "s1"})

	require.True(t, fs.failed)
	assert.Contains(t, fs.failedMessage, "db unavailable")
	assert.False(t, fs.completed)
}

func TestRunner_PublishFailureStillCompletesBuild(t *testing.T) {
	fs := &fakeStore{generated: 0, publishErr: errors.New("publish conflict")}
	r := New(DefaultConfig(), fs, activity.New(activity.DefaultConfig()), testLogger(), nil)

	r.Run(context.Background(), &store.BuildJob{BuildID: "b1", SiteID: "s1"})

	assert.True(t, fs.completed)
	assert.False(t, fs.failed)
}
