package notifications

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/jimdaga/docpilot/internal/models"
	"gorm.io/gorm"
)

const excerptLength = 280

// DBContent reads preview content from stored records.
type DBContent struct {
	db *gorm.DB
}

// NewDBContent creates a content source backed by db.
func NewDBContent(db *gorm.DB) *DBContent {
	return &DBContent{db: db}
}

func (c *DBContent) Article(ctx context.Context, id uint) (string, string, bool) {
	var article models.Article
	if err := c.db.WithContext(ctx).Select("id", "title", "content").First(&article, id).Error; err != nil {
		return "", "", false
	}
	return article.Title, Excerpt(article.Content, excerptLength), true
}

func (c *DBContent) RecommendationTitles(ctx context.Context, projectID uint, limit int) []string {
	var titles []string
	c.db.WithContext(ctx).Model(&models.Recommendation{}).
		Where("project_id = ? AND status = ?", projectID, models.ReviewPending).
		Order("id DESC").Limit(limit).Pluck("title", &titles)
	return titles
}

// SampleContent returns fixed placeholders and never touches storage.
type SampleContent struct{}

func (SampleContent) Article(context.Context, uint) (string, string, bool) {
	return "Getting started with your project",
		"This is where the opening paragraph of a newly generated article appears.", true
}

func (SampleContent) RecommendationTitles(context.Context, uint, int) []string {
	return []string{"Installation guide", "Configuration reference", "Troubleshooting common errors"}
}

// SampleEvents is a batch with one success of every ranked type and one failure.
func SampleEvents() []Event {
	events := make([]Event, 0, len(ranking)+1)
	for i, t := range ranking {
		events = append(events, Event{
			ID:      uint(i + 1),
			Type:    t,
			Status:  models.NotificationSuccess,
			Message: "Sample: " + Label(t),
		})
	}
	events = append(events, Event{
		ID:      uint(len(ranking) + 1),
		Type:    models.EventCommitAnalyzed,
		Status:  models.NotificationError,
		Message: "Sample: analysis failed",
	})
	return events
}

// Excerpt shortens markdown to at most n bytes on a word boundary.
func Excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(strings.NewReplacer("#", "", "*", "", "`", "", "_", "").Replace(s)), " ")
	if len(s) <= n {
		return s
	}
	cut := strings.LastIndex(s[:n], " ")
	if cut <= 0 {
		cut = n
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
	}
	return s[:cut] + "…"
}
