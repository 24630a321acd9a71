package derive

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jimdaga/docpilot/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CodebaseAnalysis stores the project summary.
func (w *Writer) CodebaseAnalysis(ctx context.Context, tx *gorm.DB, projectID uint, raw []byte, headSHA string) error {
	var res AnalysisResult
	if err := decode(raw, &res); err != nil {
		return err
	}
	if strings.TrimSpace(res.Summary) == "" {
		return fmt.Errorf("%w: empty summary", ErrMalformedResult)
	}

	metadata, err := json.Marshal(res.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode analysis metadata: %w", err)
	}
	sha := res.CommitSHA
	if sha == "" {
		sha = headSHA
	}

	err = tx.WithContext(ctx).Model(&models.Project{}).Where("id = ?", projectID).Updates(map[string]interface{}{
		"analysis_summary":    strings.TrimSpace(res.Summary),
		"analysis_metadata":   datatypes.JSON(metadata),
		"analysis_commit_sha": sha,
		"analyzed_at":         timeNow(),
	}).Error
	if err != nil {
		return fmt.Errorf("failed to store analysis for project %d: %w", projectID, err)
	}
	return nil
}

// UpdateCheck stores staleness suggestions. An article id the project does
// not own is dropped rather than linked.
func (w *Writer) UpdateCheck(ctx context.Context, tx *gorm.DB, check *models.ArticleUpdateCheck, raw []byte) ([]models.ArticleUpdateSuggestion, error) {
	var res UpdateCheckResult
	if err := decode(raw, &res); err != nil {
		return nil, err
	}

	var owned []uint
	if err := tx.WithContext(ctx).Model(&models.Article{}).
		Where("project_id = ?", check.ProjectID).Pluck("id", &owned).Error; err != nil {
		return nil, fmt.Errorf("failed to load articles of project %d: %w", check.ProjectID, err)
	}
	ownedSet := make(map[uint]bool, len(owned))
	for _, id := range owned {
		ownedSet[id] = true
	}

	var created []models.ArticleUpdateSuggestion
	for _, s := range res.Suggestions {
		articleID := s.ArticleID
		if articleID != nil && !ownedSet[*articleID] {
			w.logger.Warn("Dropping suggestion link to unknown article",
				"check_id", check.ID,
				"article_id", *articleID,
			)
			articleID = nil
		}

		files, err := json.Marshal(s.AffectedFiles)
		if err != nil {
			return nil, fmt.Errorf("failed to encode affected files: %w", err)
		}
		priority := s.Priority
		if priority == "" {
			priority = models.PriorityMedium
		}

		suggestion := models.ArticleUpdateSuggestion{
			ArticleUpdateCheckID: check.ID,
			ArticleID:            articleID,
			SuggestionType:       s.SuggestionType,
			Priority:             priority,
			AffectedFiles:        datatypes.JSON(files),
			SuggestedChanges:     s.SuggestedChanges,
			Reason:               s.Reason,
			Status:               models.ReviewPending,
		}
		if err := tx.WithContext(ctx).Create(&suggestion).Error; err != nil {
			return nil, fmt.Errorf("failed to create suggestion for check %d: %w", check.ID, err)
		}
		created = append(created, suggestion)
	}

	err := tx.WithContext(ctx).Model(&models.ArticleUpdateCheck{}).Where("id = ?", check.ID).Updates(map[string]interface{}{
		"summary":      res.Summary,
		"completed_at": timeNow(),
	}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to store check %d: %w", check.ID, err)
	}
	return created, nil
}
