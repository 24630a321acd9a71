package models

import (
	"errors"

	"gorm.io/gorm"
)

// ErrAmbiguousTrigger is returned when a recommendation is not attributed to
// exactly one trigger.
var ErrAmbiguousTrigger = errors.New("recommendation must reference exactly one of source update or generation run")

// Recommendation is a suggestion for new documentation content
type Recommendation struct {
	gorm.Model
	ProjectID       uint    `gorm:"not null;index"`
	Project         Project `gorm:"constraint:OnDelete:CASCADE;"`
	SectionID       *uint   `gorm:"index"`
	SourceUpdateID  *uint   `gorm:"index"`
	GenerationRunID *string `gorm:"index"`
	Title           string  `gorm:"not null"`
	Description     string  `gorm:"type:text"`
	Justification   string  `gorm:"type:text"`
	ArticleType     string  `gorm:"not null;default:''"`
	Status          string  `gorm:"not null;default:'pending';index"`
}

// BeforeCreate enforces single-trigger attribution.
func (r *Recommendation) BeforeCreate(tx *gorm.DB) error {
	hasUpdate := r.SourceUpdateID != nil
	hasRun := r.GenerationRunID != nil && *r.GenerationRunID != ""
	if hasUpdate == hasRun {
		return ErrAmbiguousTrigger
	}
	if r.Status == "" {
		r.Status = ReviewPending
	}
	return nil
}
