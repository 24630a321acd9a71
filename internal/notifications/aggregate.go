// Package notifications compiles pipeline events into one digest per
// recipient and project.
package notifications

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jimdaga/docpilot/internal/models"
)

// Preview types
const (
	PreviewArticle         = "article"
	PreviewRecommendations = "recommendations"
	PreviewNone            = "none"
)

const maxPreviewItems = 3

// Event is one pending notification as seen by the aggregator.
type Event struct {
	ID        uint   `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	ActionURL string `json:"action_url"`
	RecordID  uint   `json:"record_id"`
}

// CTA is the digest's single call to action.
type CTA struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Preview is a short look at the most valuable new content.
type Preview struct {
	Type  string   `json:"type"`
	Title string   `json:"title,omitempty"`
	Body  string   `json:"body,omitempty"`
	Items []string `json:"items,omitempty"`
}

// BreakdownRow counts outcomes of one event type.
type BreakdownRow struct {
	EventType string `json:"event_type"`
	Label     string `json:"label"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// Recipient is who a digest is for.
type Recipient struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// ProjectRef identifies the project a digest is about.
type ProjectRef struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
	URL  string `json:"url"`
}

// Digest is one compiled notification.
type Digest struct {
	Recipient Recipient      `json:"recipient"`
	Project   ProjectRef     `json:"project"`
	Subject   string         `json:"subject"`
	CTA       CTA            `json:"cta"`
	Preview   Preview        `json:"preview"`
	Breakdown []BreakdownRow `json:"breakdown"`
	BatchKey  string         `json:"batch_key"`
}

// ContentSource supplies preview content.
type ContentSource interface {
	Article(ctx context.Context, id uint) (title, excerpt string, ok bool)
	RecommendationTitles(ctx context.Context, projectID uint, limit int) []string
}

// Aggregator turns a batch of events into one digest.
type Aggregator struct {
	content ContentSource
	baseURL string
}

// NewAggregator creates an aggregator. Relative action URLs are resolved
// against baseURL.
func NewAggregator(content ContentSource, baseURL string) *Aggregator {
	return &Aggregator{content: content, baseURL: strings.TrimRight(baseURL, "/")}
}

// Compile builds the digest for one recipient. The batch may be in any order;
// the result depends only on its contents.
func (a *Aggregator) Compile(ctx context.Context, project ProjectRef, recipient Recipient, events []Event) Digest {
	events = sortedByID(events)
	var successes, failures []Event
	for _, e := range events {
		if e.Status == models.NotificationSuccess {
			successes = append(successes, e)
		} else {
			failures = append(failures, e)
		}
	}

	if project.URL == "" {
		project.URL = a.resolve(fmt.Sprintf("/projects/%d", project.ID))
	}
	d := Digest{Recipient: recipient, Project: project}

	headline, ok := Headline(successes)
	if ok {
		d.Subject = headlineSubject(headline) + qualifier(len(successes)-1, len(failures))
		d.CTA = CTA{Label: ctaLabels[headline.Type], URL: a.resolve(headline.ActionURL)}
		if headline.ActionURL == "" {
			d.CTA.URL = project.URL
		}
	} else {
		d.Subject = countSubject(len(successes), len(failures))
		d.CTA = CTA{Label: "Open project", URL: project.URL}
	}
	if project.Name != "" {
		d.Subject = project.Name + ": " + d.Subject
	}

	d.Preview = a.preview(ctx, project.ID, successes)
	d.Breakdown = Breakdown(events)
	return d
}

// Headline picks the highest-ranked successful event. Ties within a type go
// to the earliest event.
func Headline(successes []Event) (Event, bool) {
	best, found := Event{}, false
	for _, e := range successes {
		if !Ranked(e.Type) {
			continue
		}
		if !found || Rank(e.Type) < Rank(best.Type) || (Rank(e.Type) == Rank(best.Type) && e.ID < best.ID) {
			best, found = e, true
		}
	}
	return best, found
}

func headlineSubject(e Event) string {
	if m := strings.TrimSpace(e.Message); m != "" {
		return m
	}
	return Label(e.Type)
}

func qualifier(extraSuccesses, failures int) string {
	var q string
	if extraSuccesses > 0 {
		q += fmt.Sprintf(" +%d more", extraSuccesses)
	}
	if failures == 1 {
		q += " (1 issue)"
	} else if failures > 1 {
		q += fmt.Sprintf(" (%d issues)", failures)
	}
	return q
}

func countSubject(succeeded, failed int) string {
	switch {
	case failed == 0:
		return fmt.Sprintf("%d completed", succeeded)
	case succeeded == 0:
		return fmt.Sprintf("%d failed", failed)
	default:
		return fmt.Sprintf("%d completed, %d failed", succeeded, failed)
	}
}

// preview prefers generated article content, then recommendation titles.
func (a *Aggregator) preview(ctx context.Context, projectID uint, successes []Event) Preview {
	for _, e := range successes {
		if e.Type != models.EventArticleGenerated {
			continue
		}
		if title, excerpt, ok := a.content.Article(ctx, e.RecordID); ok {
			return Preview{Type: PreviewArticle, Title: title, Body: excerpt}
		}
	}
	for _, e := range successes {
		if e.Type != models.EventRecommendationsGenerated {
			continue
		}
		if titles := a.content.RecommendationTitles(ctx, projectID, maxPreviewItems); len(titles) > 0 {
			return Preview{Type: PreviewRecommendations, Title: "New recommendations", Items: titles}
		}
		break
	}
	return Preview{Type: PreviewNone}
}

// Breakdown counts successes and failures per event type, most important first.
func Breakdown(events []Event) []BreakdownRow {
	rows := map[string]*BreakdownRow{}
	for _, e := range events {
		row, ok := rows[e.Type]
		if !ok {
			row = &BreakdownRow{EventType: e.Type, Label: Label(e.Type)}
			rows[e.Type] = row
		}
		if e.Status == models.NotificationSuccess {
			row.Succeeded++
		} else {
			row.Failed++
		}
	}

	out := make([]BreakdownRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := Rank(out[i].EventType), Rank(out[j].EventType)
		if ri != rj {
			return ri < rj
		}
		return out[i].EventType < out[j].EventType
	})
	return out
}

func (a *Aggregator) resolve(path string) string {
	if path == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return a.baseURL + path
}

func sortedByID(events []Event) []Event {
	out := append([]Event(nil), events...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
