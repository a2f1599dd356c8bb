// Package store implements the persistent coordination layer for the
// scheduler: site/version/document/chunk records, build jobs, and
// recording tasks, plus the atomic claim primitives the two scheduler
// tiers use to coordinate over a shared PostgreSQL database.
package store

import "time"

// Site is a crawled website tracked by the scheduler.
type Site struct {
	SiteID    string `gorm:"column:site_id;primaryKey"`
	Domain    string `gorm:"column:domain;uniqueIndex"`
	BaseURL   string `gorm:"column:base_url"`
	AppURL    string `gorm:"column:app_url"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Site) TableName() string { return "site" }

// SiteVersionStatus is the lifecycle state of a published site version.
type SiteVersionStatus string

const (
	SiteVersionBuilding SiteVersionStatus = "building"
	SiteVersionActive   SiteVersionStatus = "active"
	SiteVersionArchived SiteVersionStatus = "archived"
)

// SiteVersion is one blue-green published generation of a site's action
// capabilities. At most one version per site carries SiteVersionActive.
type SiteVersion struct {
	VersionID     string `gorm:"column:version_id;primaryKey"`
	SiteID        string `gorm:"column:site_id;index"`
	VersionNumber int    `gorm:"column:version_number"`
	Status        SiteVersionStatus `gorm:"column:status"`
	CommitMessage string    `gorm:"column:commit_message"`
	CreatedBy     string    `gorm:"column:created_by"`
	PublishedAt   *time.Time `gorm:"column:published_at"`
	CreatedAt     time.Time
}

func (SiteVersion) TableName() string { return "source_version" }

// Document is a crawled page belonging to a site.
type Document struct {
	DocumentID string `gorm:"column:document_id;primaryKey"`
	SiteID     string `gorm:"column:site_id;index"`
	SourceURL  string `gorm:"column:source_url"`
	CreatedAt  time.Time
}

func (Document) TableName() string { return "document" }

// Chunk is a content fragment of a Document, the unit of work a
// recording task builds an action capability for. Chunks are read-only
// to the scheduler; they are produced upstream by the knowledge build.
type Chunk struct {
	ChunkID    string `gorm:"column:chunk_id;primaryKey"`
	DocumentID string `gorm:"column:document_id;index"`
	Content    string `gorm:"column:content"`
	Embedding  string `gorm:"column:embedding"` // text-encoded vector, no pgvector extension
	CreatedAt  time.Time
}

func (Chunk) TableName() string { return "chunk" }

// BuildStage is the coarse phase of a BuildJob.
type BuildStage string

const (
	StageKnowledgeBuild BuildStage = "knowledge_build"
	StageActionBuild    BuildStage = "action_build"
)

// BuildStageStatus is the status of a BuildJob within its current stage.
type BuildStageStatus string

const (
	BuildPending   BuildStageStatus = "pending"
	BuildRunning   BuildStageStatus = "running"
	BuildCompleted BuildStageStatus = "completed"
	BuildError     BuildStageStatus = "error"
)

// BuildJob is a Tier-1 unit of work: building the action-capability set
// for one site version. It transitions knowledge_build -> action_build
// and is held by one Orchestrator/Build Runner pair at a time; a build
// whose updated_at goes stale while running can be claimed again.
type BuildJob struct {
	BuildID             string `gorm:"column:build_id;primaryKey"`
	SiteID              string `gorm:"column:site_id;index"`
	Stage               BuildStage       `gorm:"column:stage"`
	StageStatus         BuildStageStatus `gorm:"column:stage_status"`
	KnowledgeStartedAt  *time.Time `gorm:"column:knowledge_started_at"`
	KnowledgeCompletedAt *time.Time `gorm:"column:knowledge_completed_at"`
	ActionStartedAt     *time.Time `gorm:"column:action_started_at"`
	ActionCompletedAt   *time.Time `gorm:"column:action_completed_at"`
	UpdatedAt           time.Time  `gorm:"column:updated_at"`
	CreatedAt           time.Time  `gorm:"column:created_at"`
	Config              JSONMap `gorm:"column:config;type:jsonb"`
}

func (BuildJob) TableName() string { return "build_task" }

// RecordingTaskStatus is the lifecycle state of a RecordingTask.
type RecordingTaskStatus string

const (
	TaskPending   RecordingTaskStatus = "pending"
	TaskRunning   RecordingTaskStatus = "running"
	TaskCompleted RecordingTaskStatus = "completed"
	TaskFailed    RecordingTaskStatus = "failed"
)

// ChunkType selects which Executor handles a RecordingTask.
type ChunkType string

const (
	ChunkTaskDriven ChunkType = "task_driven"
	ChunkExploratory ChunkType = "exploratory"
)

// RecordingTask is a Tier-2 unit of work: recording the action
// capability for a single chunk within a build. (chunk_id, build_id)
// is unique so Phase 1 generation is idempotent across re-entry.
type RecordingTask struct {
	TaskID         string `gorm:"column:task_id;primaryKey"`
	BuildID        string `gorm:"column:build_id;index:idx_recording_task_chunk_build,unique"`
	SiteID         string `gorm:"column:site_id;index"`
	ChunkID        string `gorm:"column:chunk_id;index:idx_recording_task_chunk_build,unique"`
	StartURL       string `gorm:"column:start_url"`
	Status         RecordingTaskStatus `gorm:"column:status;index"`
	Progress       int        `gorm:"column:progress"`
	AttemptCount   int        `gorm:"column:attempt_count"`
	LastHeartbeat  *time.Time `gorm:"column:last_heartbeat"`
	StartedAt      *time.Time `gorm:"column:started_at"`
	CompletedAt    *time.Time `gorm:"column:completed_at"`
	DurationMs     *int64     `gorm:"column:duration_ms"`
	ErrorMessage   string     `gorm:"column:error_message"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	Config         JSONMap `gorm:"column:config;type:jsonb"`
}

func (RecordingTask) TableName() string { return "recording_task" }

// ChunkTypeOf reads config.chunk_type, defaulting to task_driven when unset.
func (t RecordingTask) ChunkTypeOf() ChunkType {
	if v, ok := t.Config["chunk_type"].(string); ok && v != "" {
		return ChunkType(v)
	}
	return ChunkTaskDriven
}
