package jobs

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jimdaga/docpilot/internal/derive"
	"github.com/jimdaga/docpilot/internal/lifecycle"
	"github.com/jimdaga/docpilot/internal/models"
	"github.com/jimdaga/docpilot/internal/tool"
	"gorm.io/gorm"
)

// sectionRecommendationsKind proposes articles scoped to one section.
type sectionRecommendationsKind struct {
	noFallback
	writer *derive.Writer
}

func (k *sectionRecommendationsKind) Name() models.JobKind { return models.JobSectionRecommendations }
func (k *sectionRecommendationsKind) Field() lifecycle.Field {
	return SectionRecommendationsField
}

func (k *sectionRecommendationsKind) Prepare(ctx context.Context, db *gorm.DB, id uint) (*Work, error) {
	var section models.Section
	if err := db.WithContext(ctx).First(&section, id).Error; err != nil {
		return nil, notFound(err, "section", id)
	}
	project, repo, err := loadProject(ctx, db, section.ProjectID)
	if err != nil {
		return nil, err
	}
	titles, err := knownTitles(ctx, db, project.ID)
	if err != nil {
		return nil, err
	}

	return &Work{
		RecordID:   section.ID,
		ProjectID:  project.ID,
		Event:      models.EventRecommendationsGenerated,
		Subject:    "Recommendations for " + section.Name,
		ActionPath: fmt.Sprintf("%s/sections/%d", projectPath(project.ID), section.ID),
		Entity:     &section,
		Context: map[string]interface{}{
			"project":         projectContext(project),
			"repository":      repositoryContext(repo),
			"section":         map[string]interface{}{"id": section.ID, "name": section.Name, "description": section.Description},
			"existing_titles": titles,
		},
	}, nil
}

func (k *sectionRecommendationsKind) Apply(ctx context.Context, tx *gorm.DB, w *Work, out *tool.Outcome) (*Applied, error) {
	known, _ := w.Context["existing_titles"].([]string)
	sectionID := w.RecordID
	batch, err := k.writer.Recommendations(ctx, tx, w.ProjectID, &sectionID, out.Result, known)
	if err != nil {
		return nil, err
	}
	return &Applied{Message: plural(len(batch.Created), "new recommendation", "new recommendations") + " for " +
		w.Entity.(*models.Section).Name}, nil
}

// articleKind writes an article and queues renders for its mockups.
type articleKind struct {
	noFallback
	writer *derive.Writer
}

func (k *articleKind) Name() models.JobKind   { return models.JobArticleGeneration }
func (k *articleKind) Field() lifecycle.Field { return ArticleGenerationField }

func (k *articleKind) Prepare(ctx context.Context, db *gorm.DB, id uint) (*Work, error) {
	var article models.Article
	if err := db.WithContext(ctx).First(&article, id).Error; err != nil {
		return nil, notFound(err, "article", id)
	}
	project, repo, err := loadProject(ctx, db, article.ProjectID)
	if err != nil {
		return nil, err
	}

	ctxMap := map[string]interface{}{
		"project":    projectContext(project),
		"repository": repositoryContext(repo),
		"article":    map[string]interface{}{"id": article.ID, "title": article.Title, "brief": article.Brief},
		"head_sha":   repo.LastSeenSHA,
	}
	if article.SectionID != nil {
		var section models.Section
		if err := db.WithContext(ctx).First(&section, *article.SectionID).Error; err != nil {
			return nil, notFound(err, "section", *article.SectionID)
		}
		ctxMap["section"] = map[string]interface{}{"id": section.ID, "name": section.Name}
	}

	return &Work{
		RecordID:   article.ID,
		ProjectID:  project.ID,
		Event:      models.EventArticleGenerated,
		Subject:    article.Title,
		ActionPath: fmt.Sprintf("%s/articles/%d", projectPath(project.ID), article.ID),
		Entity:     &article,
		Context:    ctxMap,
	}, nil
}

func (k *articleKind) Apply(ctx context.Context, tx *gorm.DB, w *Work, out *tool.Outcome) (*Applied, error) {
	article := w.Entity.(*models.Article)
	images, err := k.writer.Article(ctx, tx, article, out.Result)
	if err != nil {
		return nil, err
	}

	applied := &Applied{Message: fmt.Sprintf("%q is ready for review", article.Title)}
	for _, img := range images {
		applied.FollowUps = append(applied.FollowUps, Job{Kind: models.JobMockupRender, RecordID: img.ID})
	}
	return applied, nil
}

// updateCheckKind looks for articles made stale by code changes.
type updateCheckKind struct {
	writer *derive.Writer
}

func (k *updateCheckKind) Name() models.JobKind   { return models.JobArticleUpdateCheck }
func (k *updateCheckKind) Field() lifecycle.Field { return UpdateCheckField }

func (k *updateCheckKind) Prepare(ctx context.Context, db *gorm.DB, id uint) (*Work, error) {
	var check models.ArticleUpdateCheck
	if err := db.WithContext(ctx).First(&check, id).Error; err != nil {
		return nil, notFound(err, "article update check", id)
	}
	project, repo, err := loadProject(ctx, db, check.ProjectID)
	if err != nil {
		return nil, err
	}

	var articles []models.Article
	if err := db.WithContext(ctx).Select("id", "title", "source_commit_sha").
		Where("project_id = ?", project.ID).Order("id").Find(&articles).Error; err != nil {
		return nil, fmt.Errorf("failed to load articles: %w", err)
	}
	listed := make([]map[string]interface{}, 0, len(articles))
	for _, a := range articles {
		listed = append(listed, map[string]interface{}{"id": a.ID, "title": a.Title, "source_commit_sha": a.SourceCommitSHA})
	}

	return &Work{
		RecordID:   check.ID,
		ProjectID:  project.ID,
		Event:      models.EventArticleUpdatesSuggested,
		Subject:    "Documentation check at " + models.ShortSHA(check.TargetCommitSHA),
		ActionPath: fmt.Sprintf("%s/update-checks/%d", projectPath(project.ID), check.ID),
		Entity:     &check,
		Context: map[string]interface{}{
			"project":    projectContext(project),
			"repository": repositoryContext(repo),
			"base_sha":   check.BaseCommitSHA,
			"target_sha": check.TargetCommitSHA,
			"articles":   listed,
		},
	}, nil
}

func (k *updateCheckKind) Apply(ctx context.Context, tx *gorm.DB, w *Work, out *tool.Outcome) (*Applied, error) {
	created, err := k.writer.UpdateCheck(ctx, tx, w.Entity.(*models.ArticleUpdateCheck), out.Result)
	if err != nil {
		return nil, err
	}
	return &Applied{Message: plural(len(created), "documentation update suggested", "documentation updates suggested")}, nil
}

// Fallback stamps the check as finished so staleness scheduling moves on.
func (k *updateCheckKind) Fallback(ctx context.Context, tx *gorm.DB, w *Work, reason string) error {
	return tx.WithContext(ctx).Model(&models.ArticleUpdateCheck{}).Where("id = ?", w.RecordID).
		Update("completed_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
}

// renderKind renders one step mockup. It is the only kind with automatic retry.
type renderKind struct {
	noFallback
	writer *derive.Writer
	field  lifecycle.Field
}

func (k *renderKind) Name() models.JobKind   { return models.JobMockupRender }
func (k *renderKind) Field() lifecycle.Field { return k.field }

func (k *renderKind) Prepare(ctx context.Context, db *gorm.DB, id uint) (*Work, error) {
	var image models.StepImage
	if err := db.WithContext(ctx).Preload("Article").First(&image, id).Error; err != nil {
		return nil, notFound(err, "step image", id)
	}
	if image.Article.ID == 0 {
		return nil, integrity("step image %d has no article", id)
	}

	stepTitle := ""
	var structured models.StructuredArticle
	if len(image.Article.StructuredContent) > 0 {
		if err := json.Unmarshal(image.Article.StructuredContent, &structured); err == nil &&
			image.StepIndex < len(structured.Steps) {
			stepTitle = structured.Steps[image.StepIndex].Title
		}
	}

	return &Work{
		RecordID:     image.ID,
		ProjectID:    image.Article.ProjectID,
		FailureEvent: models.EventMockupRenderFailed,
		Subject:      fmt.Sprintf("Step %d of %s", image.StepIndex+1, image.Article.Title),
		ActionPath:   fmt.Sprintf("%s/articles/%d", projectPath(image.Article.ProjectID), image.ArticleID),
		Entity:       &image,
		Context: map[string]interface{}{
			"article":     map[string]interface{}{"id": image.ArticleID, "title": image.Article.Title},
			"step":        map[string]interface{}{"index": image.StepIndex + 1, "title": stepTitle},
			"description": image.Description,
		},
	}, nil
}

func (k *renderKind) Apply(ctx context.Context, tx *gorm.DB, w *Work, out *tool.Outcome) (*Applied, error) {
	if err := k.writer.RenderedImage(ctx, tx, w.Entity.(*models.StepImage), out.Result, out.Path); err != nil {
		return nil, err
	}
	return &Applied{Message: w.Subject + " rendered"}, nil
}
