package store

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// StatusCounts tallies recording tasks for a build by status, used by the
// Build Runner's poll loop to decide when action_build work is complete.
type StatusCounts struct {
	Pending   int64
	Running   int64
	Completed int64
	Failed    int64
}

// GenerateRecordingTasks is Phase 1 of the Build Runner: it upserts one
// recording task per chunk belonging to the build's site. Re-entry is
// idempotent: a task already pending/running is reset to pending; a task
// already completed or failed is left untouched. It returns the number of
// chunks found for the site; when there is at least one, the build's
// action_build stage is marked running in the same transaction.
func (s *Store) GenerateRecordingTasks(ctx context.Context, buildID, siteID string, newTaskID func() string) (int, error) {
	var created int
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chunks []struct {
			ChunkID    string
			DocumentID string
			SourceURL  string
		}
		if err := tx.Raw(`
			SELECT c.chunk_id AS chunk_id, c.document_id AS document_id, d.source_url AS source_url
			FROM chunk c
			JOIN document d ON d.document_id = c.document_id
			WHERE d.site_id = ?
			ORDER BY c.chunk_id ASC
		`, siteID).Scan(&chunks).Error; err != nil {
			return err
		}

		for _, c := range chunks {
			taskID := newTaskID()
			res := tx.Exec(`
				INSERT INTO recording_task (task_id, build_id, site_id, chunk_id, start_url, status, progress, attempt_count, config, updated_at, created_at)
				VALUES (?, ?, ?, ?, ?, 'pending', 0, 0, '{"chunk_type":"task_driven"}'::jsonb, now(), now())
				ON CONFLICT (chunk_id, build_id) DO UPDATE SET
					status = CASE WHEN recording_task.status IN ('pending', 'running') THEN 'pending' ELSE recording_task.status END,
					updated_at = now()
				WHERE recording_task.status IN ('pending', 'running')
			`, taskID, buildID, siteID, c.ChunkID, c.SourceURL)
			if res.Error != nil {
				return res.Error
			}
			created++
		}

		if len(chunks) > 0 {
			if err := tx.Exec(`
				UPDATE build_task SET stage = 'action_build', stage_status = 'running',
					action_started_at = COALESCE(action_started_at, now()), updated_at = now()
				WHERE build_id = ?
			`, buildID).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// CountTasksByStatus aggregates a build's recording tasks by status. It is
// the termination signal the Build Runner's poll loop watches.
func (s *Store) CountTasksByStatus(ctx context.Context, buildID string) (StatusCounts, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := s.DB.WithContext(ctx).Raw(`
		SELECT status, count(*) AS count FROM recording_task WHERE build_id = ? GROUP BY status
	`, buildID).Scan(&rows).Error; err != nil {
		return StatusCounts{}, err
	}
	var out StatusCounts
	for _, r := range rows {
		switch RecordingTaskStatus(r.Status) {
		case TaskPending:
			out.Pending = r.Count
		case TaskRunning:
			out.Running = r.Count
		case TaskCompleted:
			out.Completed = r.Count
		case TaskFailed:
			out.Failed = r.Count
		}
	}
	return out, nil
}

// RetryFailedTasks is Phase 3 of the Build Runner: failed tasks under
// max_attempts are reset to pending for another attempt. attempt_count is
// left untouched here; it is incremented when the task is next claimed and
// completes or fails.
func (s *Store) RetryFailedTasks(ctx context.Context, buildID string, maxAttempts int) (int64, error) {
	res := s.DB.WithContext(ctx).Exec(`
		UPDATE recording_task SET status = 'pending', error_message = '', started_at = NULL,
			completed_at = NULL, duration_ms = NULL, updated_at = now()
		WHERE build_id = ? AND status = 'failed' AND attempt_count < ?
	`, buildID, maxAttempts)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// RecoverStaleRecordingTasks finds running tasks whose heartbeat has gone
// silent for longer than staleTimeout. Tasks under max_attempts are
// requeued as pending with attempt_count incremented; tasks that have
// exhausted their attempts are marked permanently failed. Returns
// (requeued, failed).
func (s *Store) RecoverStaleRecordingTasks(ctx context.Context, staleTimeout time.Duration, maxAttempts int) (requeued int64, failed int64, err error) {
	interval := staleIntervalLiteral(staleTimeout)

	res := s.DB.WithContext(ctx).Exec(`
		UPDATE recording_task SET status = 'pending', attempt_count = attempt_count + 1,
			error_message = '', updated_at = now()
		WHERE status = 'running' AND last_heartbeat < now() - ?::interval AND attempt_count < ?
	`, interval, maxAttempts)
	if res.Error != nil {
		return 0, 0, res.Error
	}
	requeued = res.RowsAffected

	res = s.DB.WithContext(ctx).Exec(`
		UPDATE recording_task SET status = 'failed', error_message = 'Task stale: max attempts reached', updated_at = now()
		WHERE status = 'running' AND last_heartbeat < now() - ?::interval AND attempt_count >= ?
	`, interval, maxAttempts)
	if res.Error != nil {
		return requeued, 0, res.Error
	}
	failed = res.RowsAffected
	return requeued, failed, nil
}

// Heartbeat refreshes last_heartbeat for an in-flight recording task.
func (s *Store) Heartbeat(ctx context.Context, taskID string) error {
	return s.DB.WithContext(ctx).Exec(`
		UPDATE recording_task SET last_heartbeat = now() WHERE task_id = ?
	`, taskID).Error
}

// TouchBuild refreshes a build's updated_at, the liveness signal the
// Orchestrator's stale-build recovery in ClaimBuild checks against.
func (s *Store) TouchBuild(ctx context.Context, buildID string) error {
	return s.DB.WithContext(ctx).Exec(`UPDATE build_task SET updated_at = now() WHERE build_id = ?`, buildID).Error
}

// CompleteRecordingTask marks a task completed, recording the discovered
// capability and writing partialNote to error_message (empty when the run
// was not partial) without changing the completed outcome.
func (s *Store) CompleteRecordingTask(ctx context.Context, taskID string, capability string, partialNote string, durationMs int64) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task RecordingTask
		if err := tx.First(&task, "task_id = ?", taskID).Error; err != nil {
			return err
		}
		cfg := task.Config
		if cfg == nil {
			cfg = JSONMap{}
		}
		if capability != "" {
			cfg["site_capability"] = capability
		}
		return tx.Model(&RecordingTask{}).Where("task_id = ?", taskID).Updates(map[string]interface{}{
			"status":        TaskCompleted,
			"progress":      100,
			"completed_at":  gorm.Expr("now()"),
			"duration_ms":   durationMs,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"error_message": partialNote,
			"config":        cfg,
			"updated_at":    gorm.Expr("now()"),
		}).Error
	})
}

// FailRecordingTask marks a task failed with the given message.
func (s *Store) FailRecordingTask(ctx context.Context, taskID string, message string, durationMs int64) error {
	return s.DB.WithContext(ctx).Model(&RecordingTask{}).Where("task_id = ?", taskID).Updates(map[string]interface{}{
		"status":        TaskFailed,
		"error_message": message,
		"duration_ms":   durationMs,
		"attempt_count": gorm.Expr("attempt_count + 1"),
		"updated_at":    gorm.Expr("now()"),
	}).Error
}
