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

// changeKind analyzes one merged pull request or one commit. Both share the
// updates.analysis_status column and differ only in context and event.
type changeKind struct {
	writer     *derive.Writer
	kind       models.JobKind
	sourceType string
}

func (k *changeKind) Name() models.JobKind   { return k.kind }
func (k *changeKind) Field() lifecycle.Field { return UpdateAnalysisField }

func (k *changeKind) Prepare(ctx context.Context, db *gorm.DB, id uint) (*Work, error) {
	var update models.Update
	if err := db.WithContext(ctx).First(&update, id).Error; err != nil {
		return nil, notFound(err, "update", id)
	}
	if update.SourceType != k.sourceType {
		return nil, integrity("update %d is a %s, not a %s", id, update.SourceType, k.sourceType)
	}

	project, repo, err := loadProject(ctx, db, update.ProjectID)
	if err != nil {
		return nil, err
	}
	if update.RepositoryID != nil {
		for i := range project.Repositories {
			if project.Repositories[i].ID == *update.RepositoryID {
				repo = &project.Repositories[i]
			}
		}
	}

	w := &Work{
		RecordID:   update.ID,
		ProjectID:  update.ProjectID,
		ActionPath: fmt.Sprintf("%s/updates/%d", projectPath(update.ProjectID), update.ID),
		Entity:     &update,
		Context: map[string]interface{}{
			"project":    projectContext(project),
			"repository": repositoryContext(repo),
			"base_sha":   update.BaseSHA,
			"head_sha":   update.CommitSHA,
		},
	}

	if k.sourceType == models.SourceTypePullRequest {
		number := 0
		if update.PRNumber != nil {
			number = *update.PRNumber
		}
		w.Event = models.EventPullRequestAnalyzed
		w.Subject = fmt.Sprintf("PR #%d", number)
		w.Context["pull_request"] = map[string]interface{}{
			"number": number,
			"title":  update.SourceTitle,
			"body":   update.SourceBody,
			"url":    update.SourceURL,
			"author": update.Author,
		}
	} else {
		w.Event = models.EventCommitAnalyzed
		w.Subject = "Commit " + models.ShortSHA(update.CommitSHA)
		w.Context["commit"] = map[string]interface{}{
			"sha":     update.CommitSHA,
			"message": update.SourceBody,
			"url":     update.SourceURL,
			"author":  update.Author,
		}
	}
	return w, nil
}

func (k *changeKind) Apply(ctx context.Context, tx *gorm.DB, w *Work, out *tool.Outcome) (*Applied, error) {
	update := w.Entity.(*models.Update)
	res, err := k.writer.ChangeAnalysis(ctx, tx, update, out.Result)
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("%s analyzed: %s", w.Subject, res.Title)
	if res.Recommendations > 0 {
		msg += " (" + plural(res.Recommendations, "recommendation", "recommendations") + ")"
	}
	return &Applied{Message: msg}, nil
}

func (k *changeKind) Fallback(ctx context.Context, tx *gorm.DB, w *Work, reason string) error {
	return k.writer.ChangeFallback(ctx, tx, w.Entity.(*models.Update), reason)
}
