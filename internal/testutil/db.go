// Package testutil provides a throwaway database and fixtures for package tests.
package testutil

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/jimdaga/docpilot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB returns a migrated SQLite database in a temp dir, closed on cleanup.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "docpilot.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// MustCreate inserts value or fails the test.
func MustCreate(t testing.TB, db *gorm.DB, value interface{}) {
	t.Helper()
	if err := db.Create(value).Error; err != nil {
		t.Fatalf("failed to create %T: %v", value, err)
	}
}

// Project creates a project with one repository and one digest-enabled member.
func Project(t testing.TB, db *gorm.DB) (*models.Project, *models.Repository, *models.User) {
	t.Helper()

	project := &models.Project{Name: "Docs", Slug: fmt.Sprintf("docs-%d", len(t.Name())), WebhookSecret: "topsecret"}
	MustCreate(t, db, project)

	repo := &models.Repository{
		ProjectID:     project.ID,
		FullName:      "octo/docs",
		CloneURL:      "https://github.com/octo/docs.git",
		DefaultBranch: "main",
	}
	MustCreate(t, db, repo)

	user := &models.User{Email: "dev@docpilot.local", Name: "Dev"}
	MustCreate(t, db, user)
	MustCreate(t, db, &models.ProjectMember{ProjectID: project.ID, UserID: user.ID, DigestEnabled: true})

	return project, repo, user
}
