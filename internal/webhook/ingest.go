package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jimdaga/docpilot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrMalformedPayload means the body is not a usable event; resending
	// the same body will not help.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrSignatureMismatch means the body was not signed with the project's secret.
	ErrSignatureMismatch = errors.New("signature mismatch")
	// ErrProjectNotFound means no project owns the repository.
	ErrProjectNotFound = errors.New("no project for repository")
)

// Event types
const (
	EventPing        = "ping"
	EventPullRequest = "pull_request"
	EventPush        = "push"
)

// Outcomes reported to the sender
const (
	OutcomeQueued    = "queued"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomePong      = "pong"
)

const zeroSHA = "0000000000000000000000000000000000000000"

// Dispatcher queues analysis jobs.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind models.JobKind, id uint) (bool, error)
}

// Result is how an accepted delivery was handled.
type Result struct {
	Status    int
	Outcome   string
	UpdateIDs []uint
}

// Service verifies and applies webhook deliveries.
type Service struct {
	db         *gorm.DB
	dispatcher Dispatcher
	allowed    map[string]bool
	logger     *slog.Logger
}

// NewService creates a service accepting the given event types.
func NewService(db *gorm.DB, dispatcher Dispatcher, events []string, logger *slog.Logger) *Service {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Service{db: db, dispatcher: dispatcher, allowed: allowed, logger: logger}
}

// Handle processes one delivery. Signature verification happens before
// anything beyond the repository name is read from body.
func (s *Service) Handle(ctx context.Context, event string, body []byte, signature string) (Result, error) {
	if !json.Valid(body) {
		return Result{}, fmt.Errorf("%w: body is not JSON", ErrMalformedPayload)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Repository.FullName == "" {
		return Result{}, fmt.Errorf("%w: missing repository.full_name", ErrMalformedPayload)
	}

	var repo models.Repository
	if err := s.db.WithContext(ctx).Where("full_name = ?", env.Repository.FullName).First(&repo).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, fmt.Errorf("%w: %s", ErrProjectNotFound, env.Repository.FullName)
		}
		return Result{}, fmt.Errorf("failed to look up repository: %w", err)
	}
	var project models.Project
	if err := s.db.WithContext(ctx).Select("id", "webhook_secret").First(&project, repo.ProjectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, fmt.Errorf("%w: %s", ErrProjectNotFound, env.Repository.FullName)
		}
		return Result{}, fmt.Errorf("failed to load project: %w", err)
	}

	if err := Verify(project.WebhookSecret, body, signature); err != nil {
		return Result{}, err
	}

	if event == EventPing {
		return Result{Status: http.StatusOK, Outcome: OutcomePong}, nil
	}
	if !s.allowed[event] {
		s.logger.Debug("Ignoring webhook event", "event", event, "repository", repo.FullName)
		return Result{Status: http.StatusOK, Outcome: OutcomeIgnored}, nil
	}

	switch event {
	case EventPullRequest:
		var e PullRequestEvent
		if err := json.Unmarshal(body, &e); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return s.pullRequest(ctx, &repo, &e)
	case EventPush:
		var e PushEvent
		if err := json.Unmarshal(body, &e); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return s.push(ctx, &repo, &e)
	default:
		return Result{Status: http.StatusOK, Outcome: OutcomeIgnored}, nil
	}
}

func (s *Service) pullRequest(ctx context.Context, repo *models.Repository, e *PullRequestEvent) (Result, error) {
	if !e.merged() {
		return Result{Status: http.StatusOK, Outcome: OutcomeIgnored}, nil
	}

	number := e.PullRequest.Number
	if number == 0 {
		number = e.Number
	}
	if number <= 0 {
		return Result{}, fmt.Errorf("%w: pull request has no number", ErrMalformedPayload)
	}

	update := models.Update{
		ProjectID:    repo.ProjectID,
		RepositoryID: &repo.ID,
		SourceType:   models.SourceTypePullRequest,
		SourceKey:    models.PullRequestKey(number),
		PRNumber:     &number,
		CommitSHA:    e.PullRequest.MergeCommitSHA,
		BaseSHA:      e.PullRequest.Base.SHA,
		SourceTitle:  e.PullRequest.Title,
		SourceBody:   e.PullRequest.Body,
		SourceURL:    e.PullRequest.HTMLURL,
		Author:       e.PullRequest.User.Login,
	}
	if err := s.findOrCreate(ctx, &update); err != nil {
		return Result{}, err
	}

	if e.PullRequest.Base.Ref == s.defaultBranch(repo, &e.Repository) && e.PullRequest.MergeCommitSHA != "" {
		s.markSeen(ctx, repo, e.PullRequest.MergeCommitSHA)
	}

	queued, err := s.dispatcher.Dispatch(ctx, models.JobPullRequestAnalysis, update.ID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to queue analysis: %w", err)
	}

	s.logger.Info("Merged pull request received",
		"project_id", repo.ProjectID,
		"repository", repo.FullName,
		"pr_number", number,
		"update_id", update.ID,
		"queued", queued,
	)
	return s.result(queued, update.ID), nil
}

func (s *Service) push(ctx context.Context, repo *models.Repository, e *PushEvent) (Result, error) {
	branch := strings.TrimPrefix(e.Ref, "refs/heads/")
	if e.Deleted || branch != s.defaultBranch(repo, &e.Repository) {
		return Result{Status: http.StatusOK, Outcome: OutcomeIgnored}, nil
	}
	if e.After != "" && e.After != zeroSHA {
		s.markSeen(ctx, repo, e.After)
	}
	if !repo.TrackCommits {
		return Result{Status: http.StatusOK, Outcome: OutcomeIgnored}, nil
	}

	var ids []uint
	anyQueued := false
	base := e.Before
	for _, c := range e.Commits {
		if c.ID == "" {
			continue
		}
		if c.Distinct != nil && !*c.Distinct {
			base = c.ID
			continue
		}
		update := models.Update{
			ProjectID:    repo.ProjectID,
			RepositoryID: &repo.ID,
			SourceType:   models.SourceTypeCommit,
			SourceKey:    models.CommitKey(c.ID),
			CommitSHA:    c.ID,
			BaseSHA:      base,
			SourceTitle:  firstLine(c.Message),
			SourceBody:   c.Message,
			SourceURL:    c.URL,
			Author:       c.author(),
		}
		base = c.ID
		if err := s.findOrCreate(ctx, &update); err != nil {
			return Result{}, err
		}
		ids = append(ids, update.ID)

		queued, err := s.dispatcher.Dispatch(ctx, models.JobCommitAnalysis, update.ID)
		if err != nil {
			return Result{}, fmt.Errorf("failed to queue analysis: %w", err)
		}
		anyQueued = anyQueued || queued
	}

	s.logger.Info("Push received",
		"project_id", repo.ProjectID,
		"repository", repo.FullName,
		"commits", len(ids),
		"queued", anyQueued,
	)
	res := s.result(anyQueued, ids...)
	if len(ids) == 0 {
		res.Outcome = OutcomeIgnored
	}
	return res, nil
}

// findOrCreate inserts update unless one with the same source key exists,
// and loads the stored row either way.
func (s *Service) findOrCreate(ctx context.Context, update *models.Update) error {
	db := s.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(update).Error; err != nil {
		return fmt.Errorf("failed to record update %s: %w", update.SourceKey, err)
	}
	var stored models.Update
	if err := db.Where("project_id = ? AND source_key = ?", update.ProjectID, update.SourceKey).First(&stored).Error; err != nil {
		return fmt.Errorf("failed to load update %s: %w", update.SourceKey, err)
	}
	*update = stored
	return nil
}

func (s *Service) markSeen(ctx context.Context, repo *models.Repository, sha string) {
	if err := s.db.WithContext(ctx).Model(&models.Repository{}).Where("id = ?", repo.ID).
		Update("last_seen_sha", sha).Error; err != nil {
		s.logger.Warn("Failed to record repository head", "repository", repo.FullName, "error", err)
		return
	}
	repo.LastSeenSHA = sha
}

func (s *Service) defaultBranch(repo *models.Repository, payload *repository) string {
	if repo.DefaultBranch != "" {
		return repo.DefaultBranch
	}
	return payload.DefaultBranch
}

func (s *Service) result(queued bool, ids ...uint) Result {
	if queued {
		return Result{Status: http.StatusAccepted, Outcome: OutcomeQueued, UpdateIDs: ids}
	}
	return Result{Status: http.StatusOK, Outcome: OutcomeDuplicate, UpdateIDs: ids}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
