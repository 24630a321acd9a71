package models

import (
	"time"

	"github.com/jimdaga/docpilot/internal/lifecycle"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Project is the tenant every pipeline record belongs to
type Project struct {
	gorm.Model
	Name          string `gorm:"not null"`
	Slug          string `gorm:"uniqueIndex:idx_projects_slug_not_deleted,where:deleted_at IS NULL;not null"`
	WebhookSecret string `gorm:"type:text"` // stored encrypted

	// Codebase analysis run
	AnalysisStatus    lifecycle.Status `gorm:"not null;default:'';index"`
	AnalysisStartedAt *time.Time
	AnalysisError     string         `gorm:"type:text"`
	AnalysisSummary   string         `gorm:"type:text"`
	AnalysisMetadata  datatypes.JSON `gorm:"type:jsonb"`
	AnalyzedAt        *time.Time
	AnalysisCommitSHA string `gorm:"column:analysis_commit_sha"`

	// Project-level recommendation run
	RecommendationsStatus    lifecycle.Status `gorm:"not null;default:''"`
	RecommendationsStartedAt *time.Time
	RecommendationsError     string `gorm:"type:text"`

	// Section suggestion run
	SectionsStatus    lifecycle.Status `gorm:"not null;default:''"`
	SectionsStartedAt *time.Time
	SectionsError     string `gorm:"type:text"`

	// Bumped whenever sections or articles change
	CacheVersion int64 `gorm:"not null;default:1"`

	// Associations
	Repositories []Repository    `gorm:"constraint:OnDelete:CASCADE;"`
	Members      []ProjectMember `gorm:"constraint:OnDelete:CASCADE;"`
}

// BeforeSave encrypts the webhook secret before saving to database.
func (p *Project) BeforeSave(tx *gorm.DB) error {
	return encryptInPlace(&p.WebhookSecret)
}

// AfterSave restores the plaintext secret on the in-memory struct.
func (p *Project) AfterSave(tx *gorm.DB) error {
	return decryptInPlace(&p.WebhookSecret)
}

// AfterFind decrypts the webhook secret after loading from database
func (p *Project) AfterFind(tx *gorm.DB) error {
	return decryptInPlace(&p.WebhookSecret)
}

// BumpCacheVersion invalidates cached renderings of a project's content.
func BumpCacheVersion(tx *gorm.DB, projectID uint) error {
	return tx.Model(&Project{}).Where("id = ?", projectID).
		UpdateColumn("cache_version", gorm.Expr("cache_version + ?", 1)).Error
}

// Repository is a source repository linked to a project
type Repository struct {
	gorm.Model
	ProjectID     uint    `gorm:"not null;index"`
	Project       Project `gorm:"constraint:OnDelete:CASCADE;"`
	FullName      string  `gorm:"uniqueIndex:idx_repositories_full_name_not_deleted,where:deleted_at IS NULL;not null"` // e.g. "octo/docs"
	CloneURL      string  `gorm:"not null;default:''"`
	DefaultBranch string  `gorm:"not null;default:'main'"`
	TrackCommits  bool    `gorm:"not null;default:false"`
	LastSeenSHA   string  `gorm:"column:last_seen_sha;not null;default:''"`
}

// ProjectMember links a user to a project and controls digest delivery
type ProjectMember struct {
	gorm.Model
	ProjectID     uint    `gorm:"not null;uniqueIndex:idx_project_member"`
	UserID        uint    `gorm:"not null;uniqueIndex:idx_project_member"`
	DigestEnabled bool    `gorm:"not null"`
	Project       Project `gorm:"constraint:OnDelete:CASCADE;"`
	User          User    `gorm:"constraint:OnDelete:CASCADE;"`
}
