package derive

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jimdaga/docpilot/internal/models"
	"gorm.io/gorm"
)

// RecommendationBatch reports a project or section level run.
type RecommendationBatch struct {
	RunID   string
	Created []models.Recommendation
	Skipped int
}

// Recommendations stores a project-level batch (sectionID nil) or a
// section-scoped batch. Titles already known to the project, plus any supplied
// in the generation context, are skipped case-insensitively.
func (w *Writer) Recommendations(ctx context.Context, tx *gorm.DB, projectID uint, sectionID *uint, raw []byte, known []string) (*RecommendationBatch, error) {
	var res RecommendationsResult
	if err := decode(raw, &res); err != nil {
		return nil, err
	}

	seen, err := existingTitles(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	for _, t := range known {
		seen[normalizeTitle(t)] = true
	}

	runID := uuid.NewString()
	batch := &RecommendationBatch{RunID: runID}
	for _, r := range res.Recommendations {
		key := normalizeTitle(r.Title)
		if key == "" || seen[key] {
			batch.Skipped++
			continue
		}
		seen[key] = true

		rec := models.Recommendation{
			ProjectID:       projectID,
			SectionID:       sectionID,
			GenerationRunID: &runID,
			Title:           strings.TrimSpace(r.Title),
			Description:     r.Description,
			Justification:   r.Justification,
			ArticleType:     r.ArticleType,
		}
		if err := tx.WithContext(ctx).Create(&rec).Error; err != nil {
			return nil, fmt.Errorf("failed to create recommendation for project %d: %w", projectID, err)
		}
		batch.Created = append(batch.Created, rec)
	}

	w.logger.Info("Stored recommendation batch",
		"project_id", projectID,
		"generation_run_id", runID,
		"created", len(batch.Created),
		"skipped", batch.Skipped,
	)
	return batch, nil
}

// existingTitles collects normalized titles of the project's recommendations
// and articles.
func existingTitles(ctx context.Context, tx *gorm.DB, projectID uint) (map[string]bool, error) {
	var titles []string
	if err := tx.WithContext(ctx).Model(&models.Recommendation{}).
		Where("project_id = ?", projectID).Pluck("title", &titles).Error; err != nil {
		return nil, fmt.Errorf("failed to load recommendation titles: %w", err)
	}
	var articleTitles []string
	if err := tx.WithContext(ctx).Model(&models.Article{}).
		Where("project_id = ?", projectID).Pluck("title", &articleTitles).Error; err != nil {
		return nil, fmt.Errorf("failed to load article titles: %w", err)
	}

	seen := make(map[string]bool, len(titles)+len(articleTitles))
	for _, t := range append(titles, articleTitles...) {
		seen[normalizeTitle(t)] = true
	}
	return seen, nil
}

// Sections stores suggested sections as pending review. Names matching an
// existing section are skipped.
func (w *Writer) Sections(ctx context.Context, tx *gorm.DB, projectID uint, raw []byte) ([]models.Section, error) {
	var res SectionsResult
	if err := decode(raw, &res); err != nil {
		return nil, err
	}

	var existing []models.Section
	if err := tx.WithContext(ctx).Where("project_id = ?", projectID).
		Order("position").Find(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to load sections: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	position := 0
	for _, s := range existing {
		seen[normalizeTitle(s.Name)] = true
		if s.Position >= position {
			position = s.Position + 1
		}
	}

	var created []models.Section
	for _, s := range res.Sections {
		key := normalizeTitle(s.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		section := models.Section{
			ProjectID:   projectID,
			Name:        strings.TrimSpace(s.Name),
			Description: s.Description,
			Position:    position,
			Status:      models.ReviewPending,
		}
		if err := tx.WithContext(ctx).Create(&section).Error; err != nil {
			return nil, fmt.Errorf("failed to create section for project %d: %w", projectID, err)
		}
		created = append(created, section)
		position++
	}

	if len(created) > 0 {
		if err := models.BumpCacheVersion(tx.WithContext(ctx), projectID); err != nil {
			return nil, fmt.Errorf("failed to bump cache version: %w", err)
		}
	}
	return created, nil
}
