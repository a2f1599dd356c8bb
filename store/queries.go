package store

import "context"

// ExpandedChunk is the join the Recording Executor needs: the chunk's
// content plus enough site metadata to build a Recorder request.
type ExpandedChunk struct {
	ChunkID    string
	Content    string
	SourceURL  string
	SiteID     string
	Domain     string
	BaseURL    string
	AppURL     string
}

// GetExpandedChunk loads a chunk joined through its document to its site.
func (s *Store) GetExpandedChunk(ctx context.Context, chunkID string) (*ExpandedChunk, error) {
	var out ExpandedChunk
	err := s.DB.WithContext(ctx).Raw(`
		SELECT c.chunk_id AS chunk_id, c.content AS content, d.source_url AS source_url,
			si.site_id AS site_id, si.domain AS domain, si.base_url AS base_url, si.app_url AS app_url
		FROM chunk c
		JOIN document d ON d.document_id = c.document_id
		JOIN site si ON si.site_id = d.site_id
		WHERE c.chunk_id = ?
	`, chunkID).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRecordingTask loads a single recording task by id.
func (s *Store) GetRecordingTask(ctx context.Context, taskID string) (*RecordingTask, error) {
	var task RecordingTask
	if err := s.DB.WithContext(ctx).First(&task, "task_id = ?", taskID).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// GetBuildJob loads a single build job by id.
func (s *Store) GetBuildJob(ctx context.Context, buildID string) (*BuildJob, error) {
	var build BuildJob
	if err := s.DB.WithContext(ctx).First(&build, "build_id = ?", buildID).Error; err != nil {
		return nil, err
	}
	return &build, nil
}

// CreateBuildJob inserts a new build job with the stage and stage_status
// the caller set on it. A job becomes eligible for ClaimBuild once it is in
// knowledge_build/completed.
func (s *Store) CreateBuildJob(ctx context.Context, build *BuildJob) error {
	return s.DB.WithContext(ctx).Create(build).Error
}

// CreateSite inserts a new tracked site.
func (s *Store) CreateSite(ctx context.Context, site *Site) error {
	return s.DB.WithContext(ctx).Create(site).Error
}
