package models

import (
	"fmt"
	"time"

	"github.com/jimdaga/docpilot/internal/lifecycle"
	"gorm.io/gorm"
)

// Update source types
const (
	SourceTypePullRequest = "pull_request"
	SourceTypeCommit      = "commit"
)

// Update is a changelog entry produced from one merged pull request or one commit.
// SourceKey makes it unique per (project, PR number) and per (project, commit sha).
type Update struct {
	gorm.Model
	ProjectID    uint    `gorm:"not null;uniqueIndex:idx_updates_project_source"`
	Project      Project `gorm:"constraint:OnDelete:CASCADE;"`
	RepositoryID *uint   `gorm:"index"`
	SourceType   string  `gorm:"not null"`
	SourceKey    string  `gorm:"not null;uniqueIndex:idx_updates_project_source"`
	PRNumber     *int    `gorm:"column:pr_number"`
	CommitSHA    string  `gorm:"column:commit_sha;not null;default:'';index"`
	BaseSHA      string  `gorm:"column:base_sha;not null;default:''"`

	// Trigger metadata as delivered by the webhook
	SourceTitle string `gorm:"not null;default:''"`
	SourceBody  string `gorm:"type:text"`
	SourceURL   string `gorm:"not null;default:''"`
	Author      string `gorm:"not null;default:''"`

	Title             string           `gorm:"not null;default:''"`
	Content           string           `gorm:"type:text"`
	AnalysisStatus    lifecycle.Status `gorm:"not null;default:'';index"`
	AnalysisStartedAt *time.Time
	AnalysisError     string `gorm:"type:text"`
	AnalyzedAt        *time.Time

	Recommendations []Recommendation `gorm:"foreignKey:SourceUpdateID;constraint:OnDelete:CASCADE;"`
}

// PullRequestKey is the SourceKey of a pull request update.
func PullRequestKey(number int) string {
	return fmt.Sprintf("pr:%d", number)
}

// CommitKey is the SourceKey of a commit update.
func CommitKey(sha string) string {
	return "commit:" + sha
}

// ShortSHA returns the conventional 7-character prefix.
func ShortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
