package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrNoWork is returned by the claim primitives when no row is eligible.
var ErrNoWork = errors.New("store: no work available")

// ClaimRecordingTask atomically claims the most recently updated pending
// recording task (ties broken by task_id) using SELECT ... FOR UPDATE SKIP
// LOCKED so concurrent Queue Workers never claim the same row twice.
func (s *Store) ClaimRecordingTask(ctx context.Context) (*RecordingTask, error) {
	var task RecordingTask
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := tx.Raw(`
			UPDATE recording_task SET status = 'running', started_at = now(),
				last_heartbeat = now(), updated_at = now()
			WHERE task_id = (
				SELECT task_id FROM recording_task
				WHERE status = 'pending'
				ORDER BY updated_at DESC, task_id ASC
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING *;
		`)
		if err := row.Scan(&task).Error; err != nil {
			return err
		}
		if task.TaskID == "" {
			return ErrNoWork
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ClaimBuild atomically claims either a build ready to enter the action
// build stage, or a stalled in-flight action build whose heartbeat has
// expired (staleTimeout). In-flight stale claims are preferred over fresh
// ones so a stuck build is recovered before new work is picked up.
func (s *Store) ClaimBuild(ctx context.Context, staleTimeout time.Duration) (*BuildJob, error) {
	var build BuildJob
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := tx.Raw(`
			UPDATE build_task SET stage = 'action_build', stage_status = 'running',
				action_started_at = COALESCE(action_started_at, now()), updated_at = now()
			WHERE build_id = (
				SELECT build_id FROM build_task
				WHERE (stage = 'knowledge_build' AND stage_status = 'completed')
				   OR (stage = 'action_build'    AND stage_status = 'running'
				       AND updated_at < now() - ?::interval)
				ORDER BY
					CASE WHEN stage = 'action_build' AND stage_status = 'running' THEN 0 ELSE 1 END,
					build_id ASC
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING *;
		`, staleIntervalLiteral(staleTimeout))
		if err := row.Scan(&build).Error; err != nil {
			return err
		}
		if build.BuildID == "" {
			return ErrNoWork
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &build, nil
}

func staleIntervalLiteral(d time.Duration) string {
	seconds := int64(d.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d seconds", seconds)
}
