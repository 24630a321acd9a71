package models

import (
	"time"

	"github.com/jimdaga/docpilot/internal/lifecycle"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Suggestion priorities
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// ArticleUpdateCheck diffs a target commit against a base commit looking for stale articles
type ArticleUpdateCheck struct {
	gorm.Model
	ProjectID       uint             `gorm:"not null;index"`
	Project         Project          `gorm:"constraint:OnDelete:CASCADE;"`
	BaseCommitSHA   string           `gorm:"column:base_commit_sha;not null;default:''"`
	TargetCommitSHA string           `gorm:"column:target_commit_sha;not null"`
	Status          lifecycle.Status `gorm:"not null;default:'';index"`
	StartedAt       *time.Time
	ErrorMessage    string `gorm:"column:error_message;type:text"`
	Summary         string `gorm:"type:text"`
	CompletedAt     *time.Time

	Suggestions []ArticleUpdateSuggestion `gorm:"constraint:OnDelete:CASCADE;"`
}

// ArticleUpdateSuggestion proposes a change to documentation after code moved
type ArticleUpdateSuggestion struct {
	gorm.Model
	ArticleUpdateCheckID uint           `gorm:"not null;index"`
	ArticleID            *uint          `gorm:"index"`
	SuggestionType       string         `gorm:"not null"` // update_content | new_article | deprecate
	Priority             string         `gorm:"not null;default:'medium'"`
	AffectedFiles        datatypes.JSON `gorm:"type:jsonb"`
	SuggestedChanges     string         `gorm:"type:text"`
	Reason               string         `gorm:"type:text"`
	Status               string         `gorm:"not null;default:'pending'"`
}
