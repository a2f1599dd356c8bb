package store

import (
	"context"
	"fmt"
	"time"

	"actionforge.dev/common"
	"gorm.io/gorm"
)

// PublishSiteVersion is Phase 4 of the Build Runner: blue-green publish.
// The currently active version (if any) is archived and a new version is
// inserted as active with version_number = max(existing)+1. Publish
// failures are logged and swallowed by the caller (Phase 5 still runs) per
// the "publish never fails the build" rule; this method itself returns the
// error so the caller can decide.
func (s *Store) PublishSiteVersion(ctx context.Context, siteID, buildID string, newVersionID func() string) (*SiteVersion, error) {
	var published SiteVersion
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&SiteVersion{}).
			Where("site_id = ? AND status = ?", siteID, SiteVersionActive).
			Update("status", SiteVersionArchived).Error; err != nil {
			return err
		}

		var maxVersion int
		if err := tx.Model(&SiteVersion{}).
			Where("site_id = ?", siteID).
			Select("COALESCE(MAX(version_number), 0)").
			Scan(&maxVersion).Error; err != nil {
			return err
		}

		published = SiteVersion{
			VersionID:     newVersionID(),
			SiteID:        siteID,
			VersionNumber: maxVersion + 1,
			Status:        SiteVersionActive,
			CommitMessage: fmt.Sprintf("build %s", buildID),
			PublishedAt:   timePtr(time.Now()),
		}
		return tx.Exec(`
			INSERT INTO source_version (version_id, site_id, version_number, status, commit_message, published_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, now())
		`, published.VersionID, published.SiteID, published.VersionNumber, published.Status, published.CommitMessage, published.PublishedAt).Error
	})
	if err != nil {
		return nil, err
	}
	return &published, nil
}

// CompleteBuild is Phase 5: the build's action_build stage is marked
// completed.
func (s *Store) CompleteBuild(ctx context.Context, buildID string) error {
	return s.DB.WithContext(ctx).Model(&BuildJob{}).Where("build_id = ?", buildID).Updates(map[string]interface{}{
		"stage_status":        BuildCompleted,
		"action_completed_at": gorm.Expr("now()"),
		"updated_at":          gorm.Expr("now()"),
	}).Error
}

// FailBuild records an uncaught Phase 1-3 failure against the build.
func (s *Store) FailBuild(ctx context.Context, buildID string, message string) error {
	var build BuildJob
	if err := s.DB.WithContext(ctx).First(&build, "build_id = ?", buildID).Error; err != nil {
		common.Logger.WithError(err).Error("failbuild: load build")
	}
	cfg := build.Config
	if cfg == nil {
		cfg = JSONMap{}
	}
	cfg["last_error"] = message
	return s.DB.WithContext(ctx).Model(&BuildJob{}).Where("build_id = ?", buildID).Updates(map[string]interface{}{
		"stage_status": BuildError,
		"config":       cfg,
		"updated_at":   gorm.Expr("now()"),
	}).Error
}

func timePtr(t time.Time) *time.Time { return &t }
