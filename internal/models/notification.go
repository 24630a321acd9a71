package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notification event types
const (
	EventArticleGenerated         = "article_generated"
	EventRecommendationsGenerated = "recommendations_generated"
	EventSectionsSuggested        = "sections_suggested"
	EventAnalysisComplete         = "analysis_complete"
	EventPullRequestAnalyzed      = "pull_request_analyzed"
	EventCommitAnalyzed           = "commit_analyzed"
	EventArticleUpdatesSuggested  = "article_updates_suggested"
	// EventMockupRenderFailed is only queued once a render's retries are used up.
	EventMockupRenderFailed = "mockup_render_failed"
)

// Notification event status
const (
	NotificationSuccess = "success"
	NotificationError   = "error"
)

// PendingNotification is one pipeline completion or failure awaiting a digest.
// The digest compiler marks rows consumed; it never deletes them.
type PendingNotification struct {
	gorm.Model
	ProjectID   uint       `gorm:"not null;index"`
	Project     Project    `gorm:"constraint:OnDelete:CASCADE;"`
	EventType   string     `gorm:"not null"`
	Status      string     `gorm:"not null"`
	Message     string     `gorm:"type:text"`
	ActionURL   string     `gorm:"not null;default:''"`
	RecordID    uint       `gorm:"not null;default:0"`
	ConsumedAt  *time.Time `gorm:"index"`
	DigestBatch string     `gorm:"not null;default:''"`
}

// NotificationDigest is one compiled digest for one recipient. The unique
// (project, user, batch) key makes recompiling the same batch a no-op.
type NotificationDigest struct {
	gorm.Model
	ProjectID     uint           `gorm:"not null;uniqueIndex:idx_digest_batch"`
	UserID        uint           `gorm:"not null;uniqueIndex:idx_digest_batch"`
	BatchKey      string         `gorm:"not null;uniqueIndex:idx_digest_batch"`
	Subject       string         `gorm:"not null"`
	CTALabel      string         `gorm:"column:cta_label;not null"`
	CTAURL        string         `gorm:"column:cta_url;not null"`
	PreviewType   string         `gorm:"not null;default:'none'"`
	Payload       datatypes.JSON `gorm:"type:jsonb"`
	EventCount    int            `gorm:"not null;default:0"`
	DeliveryID    string         `gorm:"not null;default:''"`
	DeliveredAt   *time.Time
	DeliveryError string `gorm:"type:text"`
}

// ToolManifest mirrors a loaded job-kind manifest for operators
type ToolManifest struct {
	gorm.Model
	Kind           string `gorm:"uniqueIndex;not null"`
	Version        string `gorm:"not null"`
	Description    string `gorm:"type:text"`
	Checksum       string `gorm:"not null"`
	TimeoutSeconds int    `gorm:"not null;default:0"`
	MaxTurns       int    `gorm:"not null;default:0"`
}

// All lists every model, in dependency order, for AutoMigrate in tests.
func All() []interface{} {
	return []interface{}{
		&User{},
		&AuthIdentity{},
		&Project{},
		&Repository{},
		&ProjectMember{},
		&Update{},
		&Section{},
		&Recommendation{},
		&Article{},
		&StepImage{},
		&ArticleUpdateCheck{},
		&ArticleUpdateSuggestion{},
		&ClaudeUsage{},
		&PendingNotification{},
		&NotificationDigest{},
		&ToolManifest{},
	}
}
