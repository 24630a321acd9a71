package models

import (
	"time"

	"github.com/jimdaga/docpilot/internal/lifecycle"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Article review status constants, independent of generation status
const (
	ArticleReviewDraft    = "draft"
	ArticleReviewInReview = "in_review"
	ArticleReviewApproved = "approved"
	ArticleReviewRejected = "rejected"
)

// Section groups articles; suggested sections await review
type Section struct {
	gorm.Model
	ProjectID   uint    `gorm:"not null;index"`
	Project     Project `gorm:"constraint:OnDelete:CASCADE;"`
	Name        string  `gorm:"not null"`
	Description string  `gorm:"type:text"`
	Position    int     `gorm:"not null;default:0"`
	Status      string  `gorm:"not null;default:'pending'"`

	RecommendationsStatus    lifecycle.Status `gorm:"not null;default:''"`
	RecommendationsStartedAt *time.Time
	RecommendationsError     string `gorm:"type:text"`

	Articles []Article `gorm:"constraint:OnDelete:SET NULL;"`
}

// Article is authored documentation with step-by-step structured content
type Article struct {
	gorm.Model
	ProjectID         uint           `gorm:"not null;index"`
	Project           Project        `gorm:"constraint:OnDelete:CASCADE;"`
	SectionID         *uint          `gorm:"index"`
	RecommendationID  *uint          `gorm:"index"`
	Title             string         `gorm:"not null"`
	Brief             string         `gorm:"type:text"` // what the author asked for
	Content           string         `gorm:"type:text"`
	StructuredContent datatypes.JSON `gorm:"type:jsonb"`
	SourceCommitSHA   string         `gorm:"column:source_commit_sha;not null;default:''"`

	GenerationStatus    lifecycle.Status `gorm:"not null;default:'';index"`
	GenerationStartedAt *time.Time
	GenerationError     string `gorm:"type:text"`
	GeneratedAt         *time.Time

	ReviewStatus string `gorm:"not null;default:'draft'"`

	StepImages []StepImage `gorm:"constraint:OnDelete:CASCADE;"`
}

// ArticleStep is one entry of Article.StructuredContent
type ArticleStep struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Mockup string `json:"mockup,omitempty"`
}

// StructuredArticle is the JSON shape stored in Article.StructuredContent
type StructuredArticle struct {
	Steps []ArticleStep `json:"steps"`
}

// StepImage is the rendered mockup for one article step.
// Rendering is the only run with automatic retry, bounded by RenderAttempts.
type StepImage struct {
	gorm.Model
	ArticleID   uint    `gorm:"not null;uniqueIndex:idx_step_images_article_step"`
	Article     Article `gorm:"constraint:OnDelete:CASCADE;"`
	StepIndex   int     `gorm:"not null;uniqueIndex:idx_step_images_article_step"`
	Description string  `gorm:"type:text"`

	RenderStatus    lifecycle.Status `gorm:"not null;default:'';index"`
	RenderStartedAt *time.Time
	RenderError     string `gorm:"type:text"`
	RenderAttempts  int    `gorm:"not null;default:0"`

	ImagePath  string `gorm:"not null;default:''"`
	Width      int
	Height     int
	RenderedAt *time.Time
}
