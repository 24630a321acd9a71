package database

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/jimdaga/docpilot/internal/lifecycle"
	"github.com/jimdaga/docpilot/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Dev fixture identifiers
const (
	DevUserEmail     = "dev@docpilot.local"
	DevProjectSlug   = "docs"
	DevRepository    = "octo/docs"
	DevWebhookSecret = "dev-webhook-secret"
)

// SeedDevData populates the database with a project, a repository, one member,
// a generated article and a batch of unconsumed notifications.
// Idempotent: skips if the dev user already exists.
func SeedDevData(db *gorm.DB, logger *slog.Logger) error {
	var existing int64
	if err := db.Model(&models.User{}).Where("email = ?", DevUserEmail).Count(&existing).Error; err != nil {
		return fmt.Errorf("failed to check seed data: %w", err)
	}
	if existing > 0 {
		logger.Info("seed data already exists, skipping")
		return nil
	}

	return db.Transaction(func(tx *gorm.DB) error {
		user := models.User{Email: DevUserEmail, Name: "Dev User", GitHubLogin: "dev", Role: "admin"}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}

		identity := models.AuthIdentity{
			UserID:         user.ID,
			Provider:       "github",
			ProviderUserID: "dev-github-id-12345",
			AccessToken:    "dev-access-token-placeholder",
		}
		if err := tx.Create(&identity).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		project := models.Project{
			Name:              "Docs",
			Slug:              DevProjectSlug,
			WebhookSecret:     DevWebhookSecret,
			AnalysisStatus:    lifecycle.Completed,
			AnalysisSummary:   "A small Go service with an HTTP API and a background worker.",
			AnalysisMetadata:  datatypes.JSON([]byte(`{"languages":["go"],"entrypoints":["cmd/server"]}`)),
			AnalyzedAt:        &now,
			AnalysisCommitSHA: "0000000000000000000000000000000000000001",
		}
		if err := tx.Create(&project).Error; err != nil {
			return err
		}

		repo := models.Repository{
			ProjectID:     project.ID,
			FullName:      DevRepository,
			CloneURL:      "https://github.com/octo/docs.git",
			DefaultBranch: "main",
			TrackCommits:  true,
			LastSeenSHA:   project.AnalysisCommitSHA,
		}
		if err := tx.Create(&repo).Error; err != nil {
			return err
		}

		if err := tx.Create(&models.ProjectMember{ProjectID: project.ID, UserID: user.ID, DigestEnabled: true}).Error; err != nil {
			return err
		}

		section := models.Section{ProjectID: project.ID, Name: "Getting started", Status: "approved"}
		if err := tx.Create(&section).Error; err != nil {
			return err
		}

		steps, err := json.Marshal(models.StructuredArticle{Steps: []models.ArticleStep{
			{Title: "Clone the repository", Body: "Run `git clone` and enter the directory."},
			{Title: "Start the stack", Body: "Run `docker compose up` and open the app.", Mockup: "Browser window showing the dashboard"},
		}})
		if err != nil {
			return err
		}
		article := models.Article{
			ProjectID:         project.ID,
			SectionID:         &section.ID,
			Title:             "Running Docs locally",
			Brief:             "How to run the service on a laptop",
			Content:           "## Running Docs locally\n\nClone the repository, then start the stack.",
			StructuredContent: datatypes.JSON(steps),
			SourceCommitSHA:   project.AnalysisCommitSHA,
			GenerationStatus:  lifecycle.Completed,
			GeneratedAt:       &now,
		}
		if err := tx.Create(&article).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.StepImage{ArticleID: article.ID, StepIndex: 1, Description: "Browser window showing the dashboard"}).Error; err != nil {
			return err
		}

		events := []models.PendingNotification{
			{ProjectID: project.ID, EventType: models.EventAnalysisComplete, Status: models.NotificationSuccess, Message: "Codebase analysis finished", RecordID: project.ID},
			{ProjectID: project.ID, EventType: models.EventArticleGenerated, Status: models.NotificationSuccess, Message: article.Title, RecordID: article.ID},
			{ProjectID: project.ID, EventType: models.EventCommitAnalyzed, Status: models.NotificationError, Message: "Tool timed out", RecordID: 0},
		}
		if err := tx.Create(&events).Error; err != nil {
			return err
		}

		logger.Info("seeded development data",
			"user", user.Email,
			"project", project.Slug,
			"repository", repo.FullName,
			"notifications", len(events),
		)
		return nil
	})
}
