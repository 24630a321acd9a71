package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jimdaga/docpilot/internal/lifecycle"
	"github.com/jimdaga/docpilot/internal/models"
	"gorm.io/gorm"
)

// ErrNoTargetCommit is returned when an update check has nothing to compare.
var ErrNoTargetCommit = errors.New("no target commit known for project")

// ReconcileStale fails runs that have been pending or running since before
// cutoff, typically because the worker hosting them died. Fallbacks and error
// notifications are written as for any other failure.
func (r *Runner) ReconcileStale(ctx context.Context, cutoff time.Time) (int, error) {
	// Kinds sharing a column are grouped so each stale row is handled once,
	// by the first kind that can prepare it.
	type group struct {
		field lifecycle.Field
		kinds []Kind
	}
	var groups []*group
	index := map[string]*group{}
	for _, k := range r.kinds.All() {
		f := k.Field()
		key := f.Table + "." + f.Status
		g, ok := index[key]
		if !ok {
			g = &group{field: f}
			index[key] = g
			groups = append(groups, g)
		}
		g.kinds = append(g.kinds, k)
	}

	total := 0
	for _, g := range groups {
		ids, err := lifecycle.Stale(ctx, r.db, g.field, cutoff)
		if err != nil {
			return total, err
		}
		for _, id := range ids {
			kind, work := g.kinds[0], (*Work)(nil)
			for _, k := range g.kinds {
				if w, err := k.Prepare(ctx, r.db, id); err == nil {
					kind, work = k, w
					break
				}
			}

			r.logger.Warn("Reconciling abandoned run", "job_kind", kind.Name(), "record_id", id)
			r.fail(ctx, kind, Job{Kind: kind.Name(), RecordID: id}, work,
				fmt.Sprintf("run abandoned: no progress since %s", cutoff.UTC().Format(time.RFC3339)), true)
			total++
		}
	}
	return total, nil
}

// StartUpdateCheck creates an article update check for the project against
// target (or the repository's last seen commit) and dispatches it. An
// existing in-flight check is returned instead, with queued false.
func (d *Dispatcher) StartUpdateCheck(ctx context.Context, projectID uint, target string) (*models.ArticleUpdateCheck, bool, error) {
	var inFlight models.ArticleUpdateCheck
	err := d.db.WithContext(ctx).Where("project_id = ? AND status IN ?", projectID,
		[]string{string(lifecycle.Pending), string(lifecycle.Running)}).First(&inFlight).Error
	if err == nil {
		return &inFlight, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to look up update checks: %w", err)
	}

	if target == "" {
		repo, err := primaryRepository(ctx, d.db, projectID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrNoTargetCommit
		}
		if err != nil {
			return nil, false, err
		}
		target = repo.LastSeenSHA
	}
	if target == "" {
		return nil, false, ErrNoTargetCommit
	}

	base, err := oldestArticleSHA(ctx, d.db, projectID)
	if err != nil {
		return nil, false, err
	}

	check := &models.ArticleUpdateCheck{ProjectID: projectID, BaseCommitSHA: base, TargetCommitSHA: target}
	if err := d.db.WithContext(ctx).Create(check).Error; err != nil {
		return nil, false, fmt.Errorf("failed to create update check: %w", err)
	}

	queued, err := d.Dispatch(ctx, models.JobArticleUpdateCheck, check.ID)
	return check, queued, err
}

// primaryRepository is the project's first linked repository; its head is the
// commit documentation is checked against.
func primaryRepository(ctx context.Context, db *gorm.DB, projectID uint) (*models.Repository, error) {
	var repo models.Repository
	err := db.WithContext(ctx).Where("project_id = ?", projectID).Order("id").First(&repo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load repository: %w", err)
	}
	return &repo, nil
}

// ScheduleUpdateChecks starts a check for every project whose documented
// commit lags its repository, unless that target was already checked.
func (d *Dispatcher) ScheduleUpdateChecks(ctx context.Context) (int, error) {
	var projectIDs []uint
	if err := d.db.WithContext(ctx).Model(&models.Repository{}).
		Distinct().Order("project_id").Pluck("project_id", &projectIDs).Error; err != nil {
		return 0, fmt.Errorf("failed to list repositories: %w", err)
	}

	type candidate struct {
		ProjectID   uint
		LastSeenSHA string
	}
	var candidates []candidate
	for _, id := range projectIDs {
		repo, err := primaryRepository(ctx, d.db, id)
		if err != nil {
			return 0, err
		}
		if repo.LastSeenSHA != "" {
			candidates = append(candidates, candidate{ProjectID: id, LastSeenSHA: repo.LastSeenSHA})
		}
	}

	started := 0
	for _, c := range candidates {
		var lagging int64
		if err := d.db.WithContext(ctx).Model(&models.Article{}).
			Where("project_id = ? AND source_commit_sha <> '' AND source_commit_sha <> ?", c.ProjectID, c.LastSeenSHA).
			Count(&lagging).Error; err != nil {
			return started, fmt.Errorf("failed to count lagging articles: %w", err)
		}
		if lagging == 0 {
			continue
		}

		var checked int64
		if err := d.db.WithContext(ctx).Model(&models.ArticleUpdateCheck{}).
			Where("project_id = ? AND target_commit_sha = ? AND status <> ?", c.ProjectID, c.LastSeenSHA, string(lifecycle.Failed)).
			Count(&checked).Error; err != nil {
			return started, fmt.Errorf("failed to look up update checks: %w", err)
		}
		if checked > 0 {
			continue
		}

		_, queued, err := d.StartUpdateCheck(ctx, c.ProjectID, c.LastSeenSHA)
		if err != nil {
			d.logger.Error("Failed to start scheduled update check", "project_id", c.ProjectID, "error", err)
			continue
		}
		if queued {
			started++
		}
	}
	return started, nil
}

func oldestArticleSHA(ctx context.Context, db *gorm.DB, projectID uint) (string, error) {
	var shas []string
	err := db.WithContext(ctx).Model(&models.Article{}).
		Where("project_id = ? AND source_commit_sha <> ''", projectID).
		Order("generated_at ASC, id ASC").Limit(1).
		Pluck("source_commit_sha", &shas).Error
	if err != nil {
		return "", fmt.Errorf("failed to find oldest documented commit: %w", err)
	}
	if len(shas) == 0 {
		return "", nil
	}
	return shas[0], nil
}
