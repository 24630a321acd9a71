package jobs

import (
	"context"
	"fmt"

	"github.com/jimdaga/docpilot/internal/derive"
	"github.com/jimdaga/docpilot/internal/lifecycle"
	"github.com/jimdaga/docpilot/internal/models"
	"github.com/jimdaga/docpilot/internal/tool"
	"gorm.io/gorm"
)

// Status fields of every run-tracked column.
var (
	ProjectAnalysisField = lifecycle.Field{
		Table: "projects", Status: "analysis_status", StartedAt: "analysis_started_at", Error: "analysis_error",
	}
	ProjectRecommendationsField = lifecycle.Field{
		Table: "projects", Status: "recommendations_status", StartedAt: "recommendations_started_at", Error: "recommendations_error",
	}
	ProjectSectionsField = lifecycle.Field{
		Table: "projects", Status: "sections_status", StartedAt: "sections_started_at", Error: "sections_error",
	}
	UpdateAnalysisField = lifecycle.Field{
		Table: "updates", Status: "analysis_status", StartedAt: "analysis_started_at", Error: "analysis_error",
	}
	SectionRecommendationsField = lifecycle.Field{
		Table: "sections", Status: "recommendations_status", StartedAt: "recommendations_started_at", Error: "recommendations_error",
	}
	ArticleGenerationField = lifecycle.Field{
		Table: "articles", Status: "generation_status", StartedAt: "generation_started_at", Error: "generation_error",
	}
	UpdateCheckField = lifecycle.Field{
		Table: "article_update_checks", Status: "status", StartedAt: "started_at", Error: "error_message",
	}
)

// RenderField is the step image render column with its retry budget.
func RenderField(maxAttempts int) lifecycle.Field {
	return lifecycle.Field{
		Table:       "step_images",
		Status:      "render_status",
		StartedAt:   "render_started_at",
		Error:       "render_error",
		Attempts:    "render_attempts",
		MaxAttempts: maxAttempts,
	}
}

// DefaultKinds returns one variant per job kind.
func DefaultKinds(w *derive.Writer, renderMaxAttempts int) []Kind {
	return []Kind{
		&codebaseKind{writer: w},
		&changeKind{writer: w, kind: models.JobPullRequestAnalysis, sourceType: models.SourceTypePullRequest},
		&changeKind{writer: w, kind: models.JobCommitAnalysis, sourceType: models.SourceTypeCommit},
		&projectRecommendationsKind{writer: w},
		&sectionRecommendationsKind{writer: w},
		&sectionSuggestionsKind{writer: w},
		&articleKind{writer: w},
		&updateCheckKind{writer: w},
		&renderKind{writer: w, field: RenderField(renderMaxAttempts)},
	}
}

// loadProject loads a project and its primary (oldest) repository.
func loadProject(ctx context.Context, db *gorm.DB, id uint) (*models.Project, *models.Repository, error) {
	var project models.Project
	err := db.WithContext(ctx).
		Preload("Repositories", func(tx *gorm.DB) *gorm.DB { return tx.Order("id") }).
		First(&project, id).Error
	if err != nil {
		return nil, nil, notFound(err, "project", id)
	}
	repo := &models.Repository{}
	if len(project.Repositories) > 0 {
		repo = &project.Repositories[0]
	}
	return &project, repo, nil
}

func projectContext(p *models.Project) map[string]interface{} {
	return map[string]interface{}{
		"id":      p.ID,
		"name":    p.Name,
		"slug":    p.Slug,
		"summary": p.AnalysisSummary,
	}
}

func repositoryContext(r *models.Repository) map[string]interface{} {
	return map[string]interface{}{
		"full_name":      r.FullName,
		"clone_url":      r.CloneURL,
		"default_branch": r.DefaultBranch,
	}
}

func projectPath(id uint) string {
	return fmt.Sprintf("/projects/%d", id)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", one)
	}
	return fmt.Sprintf("%d %s", n, many)
}

// noFallback is embedded by kinds whose failed status is their only trace.
type noFallback struct{}

func (noFallback) Fallback(context.Context, *gorm.DB, *Work, string) error { return nil }

// codebaseKind summarizes a whole repository.
type codebaseKind struct {
	noFallback
	writer *derive.Writer
}

func (k *codebaseKind) Name() models.JobKind   { return models.JobCodebaseAnalysis }
func (k *codebaseKind) Field() lifecycle.Field { return ProjectAnalysisField }

func (k *codebaseKind) Prepare(ctx context.Context, db *gorm.DB, id uint) (*Work, error) {
	project, repo, err := loadProject(ctx, db, id)
	if err != nil {
		return nil, err
	}
	return &Work{
		RecordID:   project.ID,
		ProjectID:  project.ID,
		Event:      models.EventAnalysisComplete,
		Subject:    "Codebase analysis of " + project.Name,
		ActionPath: projectPath(project.ID),
		Entity:     project,
		Context: map[string]interface{}{
			"project":    projectContext(project),
			"repository": repositoryContext(repo),
			"head_sha":   repo.LastSeenSHA,
		},
	}, nil
}

func (k *codebaseKind) Apply(ctx context.Context, tx *gorm.DB, w *Work, out *tool.Outcome) (*Applied, error) {
	head, _ := w.Context["head_sha"].(string)
	if err := k.writer.CodebaseAnalysis(ctx, tx, w.ProjectID, out.Result, head); err != nil {
		return nil, err
	}
	return &Applied{Message: w.Subject + " is complete"}, nil
}

// projectRecommendationsKind proposes articles for the whole project.
type projectRecommendationsKind struct {
	noFallback
	writer *derive.Writer
}

func (k *projectRecommendationsKind) Name() models.JobKind { return models.JobProjectRecommendations }
func (k *projectRecommendationsKind) Field() lifecycle.Field {
	return ProjectRecommendationsField
}

func (k *projectRecommendationsKind) Prepare(ctx context.Context, db *gorm.DB, id uint) (*Work, error) {
	project, repo, err := loadProject(ctx, db, id)
	if err != nil {
		return nil, err
	}
	titles, err := knownTitles(ctx, db, project.ID)
	if err != nil {
		return nil, err
	}
	return &Work{
		RecordID:   project.ID,
		ProjectID:  project.ID,
		Event:      models.EventRecommendationsGenerated,
		Subject:    "Recommendations for " + project.Name,
		ActionPath: projectPath(project.ID) + "/recommendations",
		Entity:     project,
		Context: map[string]interface{}{
			"project":         projectContext(project),
			"repository":      repositoryContext(repo),
			"existing_titles": titles,
		},
	}, nil
}

func (k *projectRecommendationsKind) Apply(ctx context.Context, tx *gorm.DB, w *Work, out *tool.Outcome) (*Applied, error) {
	known, _ := w.Context["existing_titles"].([]string)
	batch, err := k.writer.Recommendations(ctx, tx, w.ProjectID, nil, out.Result, known)
	if err != nil {
		return nil, err
	}
	return &Applied{Message: plural(len(batch.Created), "new recommendation", "new recommendations")}, nil
}

// sectionSuggestionsKind proposes a section structure.
type sectionSuggestionsKind struct {
	noFallback
	writer *derive.Writer
}

func (k *sectionSuggestionsKind) Name() models.JobKind   { return models.JobSectionSuggestions }
func (k *sectionSuggestionsKind) Field() lifecycle.Field { return ProjectSectionsField }

func (k *sectionSuggestionsKind) Prepare(ctx context.Context, db *gorm.DB, id uint) (*Work, error) {
	project, repo, err := loadProject(ctx, db, id)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := db.WithContext(ctx).Model(&models.Section{}).Where("project_id = ?", project.ID).
		Order("position").Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("failed to load sections: %w", err)
	}
	return &Work{
		RecordID:   project.ID,
		ProjectID:  project.ID,
		Event:      models.EventSectionsSuggested,
		Subject:    "Section suggestions for " + project.Name,
		ActionPath: projectPath(project.ID) + "/sections",
		Entity:     project,
		Context: map[string]interface{}{
			"project":           projectContext(project),
			"repository":        repositoryContext(repo),
			"existing_sections": names,
		},
	}, nil
}

func (k *sectionSuggestionsKind) Apply(ctx context.Context, tx *gorm.DB, w *Work, out *tool.Outcome) (*Applied, error) {
	created, err := k.writer.Sections(ctx, tx, w.ProjectID, out.Result)
	if err != nil {
		return nil, err
	}
	return &Applied{Message: plural(len(created), "section suggested", "sections suggested")}, nil
}

// knownTitles lists titles the tool should not propose again.
func knownTitles(ctx context.Context, db *gorm.DB, projectID uint) ([]string, error) {
	var titles []string
	if err := db.WithContext(ctx).Model(&models.Recommendation{}).
		Where("project_id = ?", projectID).Order("id").Pluck("title", &titles).Error; err != nil {
		return nil, fmt.Errorf("failed to load recommendation titles: %w", err)
	}
	var articles []string
	if err := db.WithContext(ctx).Model(&models.Article{}).
		Where("project_id = ?", projectID).Order("id").Pluck("title", &articles).Error; err != nil {
		return nil, fmt.Errorf("failed to load article titles: %w", err)
	}
	return append(titles, articles...), nil
}
