package derive

import (
	"context"
	"fmt"
	"strings"

	"github.com/jimdaga/docpilot/internal/models"
	"gorm.io/gorm"
)

// ChangeOutcome reports what a change analysis wrote.
type ChangeOutcome struct {
	Title                string
	Recommendations      int
	SkippedExistingBatch bool
	NoRecommendations    string
}

// ChangeAnalysis writes the changelog entry for a pull request or commit and
// its recommendation batch. An update that already owns a batch keeps it.
func (w *Writer) ChangeAnalysis(ctx context.Context, tx *gorm.DB, update *models.Update, raw []byte) (*ChangeOutcome, error) {
	var res ChangeResult
	if err := decode(raw, &res); err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.Content) == "" {
		return nil, fmt.Errorf("%w: empty changelog content", ErrMalformedResult)
	}

	out := &ChangeOutcome{Title: changeTitle(update, res.Title), NoRecommendations: res.NoRecommendationsReason}
	now := timeNow()

	err := tx.WithContext(ctx).Model(&models.Update{}).Where("id = ?", update.ID).Updates(map[string]interface{}{
		"title":       out.Title,
		"content":     strings.TrimSpace(res.Content),
		"analyzed_at": now,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to store update %d: %w", update.ID, err)
	}
	update.Title = out.Title
	update.Content = strings.TrimSpace(res.Content)
	update.AnalyzedAt = &now

	var existing int64
	if err := tx.WithContext(ctx).Model(&models.Recommendation{}).
		Where("source_update_id = ?", update.ID).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to count recommendations for update %d: %w", update.ID, err)
	}
	if existing > 0 {
		out.SkippedExistingBatch = true
		w.logger.Info("Update already has recommendations, keeping existing batch",
			"update_id", update.ID,
			"existing", existing,
		)
		return out, nil
	}

	if len(res.Recommendations) == 0 {
		if res.NoRecommendationsReason == "" {
			w.logger.Warn("Analysis returned no recommendations and no reason", "update_id", update.ID)
		}
		return out, nil
	}

	updateID := update.ID
	seen := make(map[string]bool)
	for _, r := range res.Recommendations {
		key := normalizeTitle(r.Title)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		rec := &models.Recommendation{
			ProjectID:      update.ProjectID,
			SourceUpdateID: &updateID,
			Title:          strings.TrimSpace(r.Title),
			Description:    r.Description,
			Justification:  r.Justification,
			ArticleType:    r.ArticleType,
		}
		if err := tx.WithContext(ctx).Create(rec).Error; err != nil {
			return nil, fmt.Errorf("failed to create recommendation for update %d: %w", update.ID, err)
		}
		out.Recommendations++
	}
	return out, nil
}

// ChangeFallback makes a failed update useful without AI content: the title
// is kept or synthesized and the original trigger body is preserved under an
// unavailability marker.
func (w *Writer) ChangeFallback(ctx context.Context, tx *gorm.DB, update *models.Update, reason string) error {
	title := changeTitle(update, "")
	content := FallbackContent(update)

	err := tx.WithContext(ctx).Model(&models.Update{}).Where("id = ?", update.ID).Updates(map[string]interface{}{
		"title":   title,
		"content": content,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to store fallback for update %d: %w", update.ID, err)
	}
	update.Title = title
	update.Content = content

	w.logger.Info("Wrote fallback changelog entry", "update_id", update.ID, "reason", reason)
	return nil
}

// FallbackContent is the body of a changelog entry written without AI help.
func FallbackContent(update *models.Update) string {
	var b strings.Builder
	b.WriteString("_")
	b.WriteString(UnavailableMarker)
	b.WriteString(" The original description is shown below._\n\n")
	if body := strings.TrimSpace(update.SourceBody); body != "" {
		b.WriteString(body)
	} else {
		b.WriteString("(no description provided)")
	}
	if update.SourceURL != "" {
		b.WriteString("\n\nSource: ")
		b.WriteString(update.SourceURL)
	}
	return b.String()
}

// changeTitle picks the entry title. An empty tool title never erases the
// caller-supplied one.
func changeTitle(update *models.Update, fromTool string) string {
	if t := strings.TrimSpace(fromTool); t != "" {
		return t
	}
	if t := strings.TrimSpace(update.Title); t != "" {
		return t
	}
	if t := strings.TrimSpace(update.SourceTitle); t != "" {
		return t
	}
	if update.SourceType == models.SourceTypePullRequest && update.PRNumber != nil {
		return fmt.Sprintf("PR #%d", *update.PRNumber)
	}
	return "Commit " + models.ShortSHA(update.CommitSHA)
}
