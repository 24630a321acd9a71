package notifications

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jimdaga/docpilot/internal/models"
	"pgregory.net/rapid"
)

type fakeContent struct {
	articles map[uint][2]string
	recs     []string
}

func (f fakeContent) Article(_ context.Context, id uint) (string, string, bool) {
	a, ok := f.articles[id]
	return a[0], a[1], ok
}

func (f fakeContent) RecommendationTitles(_ context.Context, _ uint, limit int) []string {
	if len(f.recs) > limit {
		return f.recs[:limit]
	}
	return f.recs
}

func success(id uint, eventType, message, url string) Event {
	return Event{ID: id, Type: eventType, Status: models.NotificationSuccess, Message: message, ActionURL: url, RecordID: id}
}

func failure(id uint, eventType, message string) Event {
	return Event{ID: id, Type: eventType, Status: models.NotificationError, Message: message, RecordID: id}
}

var testProject = ProjectRef{ID: 7, Name: "Docs"}

func TestCompileHeadlinesHighestRankedSuccess(t *testing.T) {
	agg := NewAggregator(fakeContent{articles: map[uint][2]string{2: {"Install", "Run the installer."}}}, "https://app.test/")

	d := agg.Compile(context.Background(), testProject, Recipient{UserID: 1}, []Event{
		success(1, models.EventAnalysisComplete, "Codebase analysis finished", "/projects/7"),
		success(2, models.EventArticleGenerated, "Article \"Install\" is ready", "/articles/2"),
	})

	if d.Subject != "Docs: Article \"Install\" is ready +1 more" {
		t.Errorf("unexpected subject: %q", d.Subject)
	}
	if d.CTA.Label != "Read the article" || d.CTA.URL != "https://app.test/articles/2" {
		t.Errorf("unexpected CTA: %+v", d.CTA)
	}
	if d.Preview.Type != PreviewArticle || d.Preview.Title != "Install" {
		t.Errorf("expected article preview, got %+v", d.Preview)
	}
}

func TestCompileSubjects(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
		want   string
	}{
		{
			name:   "single success",
			events: []Event{success(1, models.EventPullRequestAnalyzed, "PR #4 analyzed", "")},
			want:   "Docs: PR #4 analyzed",
		},
		{
			name: "success with one issue",
			events: []Event{
				success(1, models.EventPullRequestAnalyzed, "PR #4 analyzed", ""),
				failure(2, models.EventCommitAnalyzed, "Commit failed"),
			},
			want: "Docs: PR #4 analyzed (1 issue)",
		},
		{
			name: "successes with issues",
			events: []Event{
				success(1, models.EventCommitAnalyzed, "Commit analyzed", ""),
				success(2, models.EventSectionsSuggested, "3 sections suggested", ""),
				failure(3, models.EventCommitAnalyzed, "a"),
				failure(4, models.EventArticleGenerated, "b"),
			},
			want: "Docs: 3 sections suggested +1 more (2 issues)",
		},
		{
			name:   "failures only",
			events: []Event{failure(1, models.EventCommitAnalyzed, "a"), failure(2, models.EventCommitAnalyzed, "b")},
			want:   "Docs: 2 failed",
		},
		{
			name:   "unranked successes",
			events: []Event{success(1, "custom", "x", ""), failure(2, models.EventCommitAnalyzed, "y")},
			want:   "Docs: 1 completed, 1 failed",
		},
		{
			name:   "unranked success only",
			events: []Event{success(1, "custom", "x", "")},
			want:   "Docs: 1 completed",
		},
	}

	agg := NewAggregator(fakeContent{}, "https://app.test")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := agg.Compile(context.Background(), testProject, Recipient{}, tt.events)
			if d.Subject != tt.want {
				t.Errorf("got %q, want %q", d.Subject, tt.want)
			}
		})
	}
}

func TestCompileFallsBackToProjectCTA(t *testing.T) {
	agg := NewAggregator(fakeContent{}, "https://app.test")
	d := agg.Compile(context.Background(), testProject, Recipient{}, []Event{failure(1, models.EventCommitAnalyzed, "x")})

	if d.CTA.Label != "Open project" || d.CTA.URL != "https://app.test/projects/7" {
		t.Errorf("unexpected CTA: %+v", d.CTA)
	}
	if d.Preview.Type != PreviewNone {
		t.Errorf("expected no preview, got %q", d.Preview.Type)
	}
}

func TestPreviewPrecedence(t *testing.T) {
	events := []Event{
		success(1, models.EventRecommendationsGenerated, "recs", ""),
		success(2, models.EventArticleGenerated, "article", ""),
	}

	t.Run("article wins", func(t *testing.T) {
		agg := NewAggregator(fakeContent{articles: map[uint][2]string{2: {"A", "body"}}, recs: []string{"x"}}, "")
		if p := agg.Compile(context.Background(), testProject, Recipient{}, events).Preview; p.Type != PreviewArticle {
			t.Errorf("expected article preview, got %+v", p)
		}
	})

	t.Run("missing article falls back to recommendations", func(t *testing.T) {
		agg := NewAggregator(fakeContent{recs: []string{"a", "b", "c", "d"}}, "")
		p := agg.Compile(context.Background(), testProject, Recipient{}, events).Preview
		if p.Type != PreviewRecommendations || len(p.Items) != maxPreviewItems {
			t.Errorf("expected 3 recommendation items, got %+v", p)
		}
	})

	t.Run("nothing to show", func(t *testing.T) {
		agg := NewAggregator(fakeContent{}, "")
		if p := agg.Compile(context.Background(), testProject, Recipient{}, events).Preview; p.Type != PreviewNone {
			t.Errorf("expected no preview, got %+v", p)
		}
	})
}

func TestBreakdownOrderedByRank(t *testing.T) {
	rows := Breakdown([]Event{
		success(1, models.EventCommitAnalyzed, "", ""),
		failure(2, models.EventCommitAnalyzed, ""),
		success(3, models.EventArticleGenerated, "", ""),
		success(4, "custom", "", ""),
	})

	want := []string{models.EventArticleGenerated, models.EventCommitAnalyzed, "custom"}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(rows))
	}
	for i, row := range rows {
		if row.EventType != want[i] {
			t.Errorf("row %d: got %s, want %s", i, row.EventType, want[i])
		}
	}
	if rows[1].Succeeded != 1 || rows[1].Failed != 1 {
		t.Errorf("unexpected commit counts: %+v", rows[1])
	}
}

func TestExcerpt(t *testing.T) {
	if got := Excerpt("# Title\n\nShort **bold** text", 100); got != "Title Short bold text" {
		t.Errorf("unexpected excerpt: %q", got)
	}
	got := Excerpt(strings.Repeat("word ", 100), 20)
	if !strings.HasSuffix(got, "…") || len(got) > 20+len("…") {
		t.Errorf("expected truncated excerpt, got %q", got)
	}

	got = Excerpt(strings.Repeat("日", 50), 20)
	if !utf8.ValidString(got) || got != strings.Repeat("日", 6)+"…" {
		t.Errorf("expected cut on a rune boundary, got %q", got)
	}
}

func TestCompileProperties(t *testing.T) {
	types := append(append([]string(nil), ranking...), "custom")
	agg := NewAggregator(fakeContent{}, "https://app.test")

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "n")
		events := make([]Event, n)
		succeeded := 0
		for i := range events {
			status := rapid.SampledFrom([]string{models.NotificationSuccess, models.NotificationError}).Draw(t, "status")
			if status == models.NotificationSuccess {
				succeeded++
			}
			events[i] = Event{
				ID:      uint(i + 1),
				Type:    rapid.SampledFrom(types).Draw(t, "type"),
				Status:  status,
				Message: rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "message"),
			}
		}
		shuffled := rapid.Permutation(events).Draw(t, "order")

		a := agg.Compile(context.Background(), testProject, Recipient{}, events)
		b := agg.Compile(context.Background(), testProject, Recipient{}, shuffled)
		if a.Subject != b.Subject || a.CTA != b.CTA {
			t.Fatalf("digest depends on event order: %q vs %q", a.Subject, b.Subject)
		}

		total := 0
		for _, row := range a.Breakdown {
			total += row.Succeeded + row.Failed
		}
		if total != n {
			t.Fatalf("breakdown counts %d events, want %d", total, n)
		}

		var successes []Event
		for _, e := range events {
			if e.Status == models.NotificationSuccess {
				successes = append(successes, e)
			}
		}
		if h, ok := Headline(successes); ok {
			for _, e := range successes {
				if Rank(e.Type) < Rank(h.Type) {
					t.Fatalf("headline %s outranked by %s", h.Type, e.Type)
				}
			}
		}
	})
}
