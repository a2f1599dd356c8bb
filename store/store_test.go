//go:build integration

package store_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actionforge.dev/store"
	"actionforge.dev/testutil"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, cleanup, err := testutil.SetupStore(ctx, t, nil)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return st
}

func seedSiteWithChunks(t *testing.T, st *store.Store, numChunks int) (siteID, buildID string) {
	t.Helper()
	ctx := context.Background()

	siteID = uuid.NewString()
	require.NoError(t, st.DB.Create(&store.Site{
		SiteID: siteID, Domain: uuid.NewString() + ".example.com", BaseURL: "https://example.com",
	}).Error)

	docID := uuid.NewString()
	require.NoError(t, st.DB.Create(&store.Document{
		DocumentID: docID, SiteID: siteID, SourceURL: "https://example.com/page",
	}).Error)

	for i := 0; i < numChunks; i++ {
		require.NoError(t, st.DB.Create(&store.Chunk{
			ChunkID: uuid.NewString(), DocumentID: docID, Content: fmt.Sprintf("chunk %d", i),
		}).Error)
	}

	buildID = uuid.NewString()
	require.NoError(t, st.DB.Create(&store.BuildJob{
		BuildID: buildID, SiteID: siteID,
		Stage: store.StageKnowledgeBuild, StageStatus: store.BuildCompleted,
	}).Error)

	_ = ctx
	return siteID, buildID
}

func TestClaimBuild_ReclaimsOnlyStaleInFlightBuild(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	_, buildID := seedSiteWithChunks(t, st, 1)

	claimed, err := st.ClaimBuild(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, buildID, claimed.BuildID)
	assert.Equal(t, store.StageActionBuild, claimed.Stage)
	assert.Equal(t, store.BuildRunning, claimed.StageStatus)

	_, err = st.ClaimBuild(ctx, time.Minute)
	assert.ErrorIs(t, err, store.ErrNoWork, "no second build ready; in-flight one is fresh, not stale")

	require.NoError(t, st.DB.Model(&store.BuildJob{}).Where("build_id = ?", buildID).
		Update("updated_at", time.Now().Add(-time.Hour)).Error)

	reclaimed, err := st.ClaimBuild(ctx, time.Minute)
	require.NoError(t, err, "stale in-flight build should be reclaimable")
	assert.Equal(t, buildID, reclaimed.BuildID)
}

func TestClaimBuild_ConcurrentClaimsNeverDoubleAssign(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	const n = 8
	buildIDs := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		_, buildID := seedSiteWithChunks(t, st, 1)
		buildIDs[buildID] = true
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := st.ClaimBuild(ctx, time.Minute)
			if err != nil {
				return
			}
			mu.Lock()
			seen[claimed.BuildID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n, "every build claimed exactly once across concurrent claimants")
	for id, count := range seen {
		assert.Equal(t, 1, count, "build %s claimed more than once", id)
	}
}

func TestGenerateRecordingTasks_IdempotentAcrossReentry(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	siteID, buildID := seedSiteWithChunks(t, st, 3)

	created, err := st.GenerateRecordingTasks(ctx, buildID, siteID, uuid.NewString)
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	counts, err := st.CountTasksByStatus(ctx, buildID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts.Pending)

	claimed, err := st.ClaimRecordingTask(ctx)
	require.NoError(t, err)
	require.NoError(t, st.CompleteRecordingTask(ctx, claimed.TaskID, "cap:login", "", 1500))

	_, err = st.GenerateRecordingTasks(ctx, buildID, siteID, uuid.NewString)
	require.NoError(t, err)

	counts, err = st.CountTasksByStatus(ctx, buildID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Completed, "completed task must survive re-entry untouched")
	assert.Equal(t, int64(2), counts.Pending)
}

func TestClaimRecordingTask_SkipsLockedUnderConcurrency(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	siteID, buildID := seedSiteWithChunks(t, st, 6)
	_, err := st.GenerateRecordingTasks(ctx, buildID, siteID, uuid.NewString)
	require.NoError(t, err)

	var claims int64
	var wg sync.WaitGroup
	taskIDs := make(chan string, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := st.ClaimRecordingTask(ctx)
			if err != nil {
				return
			}
			atomic.AddInt64(&claims, 1)
			taskIDs <- task.TaskID
		}()
	}
	wg.Wait()
	close(taskIDs)

	assert.EqualValues(t, 6, claims)
	seen := make(map[string]bool)
	for id := range taskIDs {
		assert.False(t, seen[id], "task claimed twice: %s", id)
		seen[id] = true
	}
}

func TestPublishSiteVersion_BlueGreenArchivesPrevious(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	siteID, buildID := seedSiteWithChunks(t, st, 0)

	v1, err := st.PublishSiteVersion(ctx, siteID, buildID, uuid.NewString)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.VersionNumber)
	assert.Equal(t, store.SiteVersionActive, v1.Status)

	v2, err := st.PublishSiteVersion(ctx, siteID, buildID, uuid.NewString)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.VersionNumber)
	assert.Equal(t, store.SiteVersionActive, v2.Status)

	var archived store.SiteVersion
	require.NoError(t, st.DB.First(&archived, "version_id = ?", v1.VersionID).Error)
	assert.Equal(t, store.SiteVersionArchived, archived.Status)

	var activeCount int64
	require.NoError(t, st.DB.Model(&store.SiteVersion{}).
		Where("site_id = ? AND status = ?", siteID, store.SiteVersionActive).
		Count(&activeCount).Error)
	assert.Equal(t, int64(1), activeCount, "exactly one active version per site")
}

func TestRecoverStaleRecordingTasks_RequeuesUnderMaxAttemptsAndFailsOverIt(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	siteID, buildID := seedSiteWithChunks(t, st, 2)
	_, err := st.GenerateRecordingTasks(ctx, buildID, siteID, uuid.NewString)
	require.NoError(t, err)

	first, err := st.ClaimRecordingTask(ctx)
	require.NoError(t, err)
	second, err := st.ClaimRecordingTask(ctx)
	require.NoError(t, err)

	stale := time.Now().Add(-time.Hour)
	require.NoError(t, st.DB.Model(&store.RecordingTask{}).Where("task_id = ?", first.TaskID).
		Updates(map[string]interface{}{"last_heartbeat": stale, "attempt_count": 0}).Error)
	require.NoError(t, st.DB.Model(&store.RecordingTask{}).Where("task_id = ?", second.TaskID).
		Updates(map[string]interface{}{"last_heartbeat": stale, "attempt_count": 5}).Error)

	requeued, failed, err := st.RecoverStaleRecordingTasks(ctx, time.Minute, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 1, requeued)
	assert.EqualValues(t, 1, failed)

	var refreshedFirst, refreshedSecond store.RecordingTask
	require.NoError(t, st.DB.First(&refreshedFirst, "task_id = ?", first.TaskID).Error)
	require.NoError(t, st.DB.First(&refreshedSecond, "task_id = ?", second.TaskID).Error)
	assert.Equal(t, store.TaskPending, refreshedFirst.Status)
	assert.Equal(t, store.TaskFailed, refreshedSecond.Status)
}
