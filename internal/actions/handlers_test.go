package actions

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/jimdaga/docpilot/internal/auth"
	"github.com/jimdaga/docpilot/internal/derive"
	"github.com/jimdaga/docpilot/internal/jobs"
	"github.com/jimdaga/docpilot/internal/lifecycle"
	"github.com/jimdaga/docpilot/internal/manifests"
	"github.com/jimdaga/docpilot/internal/models"
	"github.com/jimdaga/docpilot/internal/notifications"
	"github.com/jimdaga/docpilot/internal/testutil"
	"gorm.io/gorm"
)

type memoryQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
}

func (q *memoryQueue) Enqueue(_ context.Context, job jobs.Job, _ jobs.EnqueueOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

type fixture struct {
	db      *gorm.DB
	queue   *memoryQueue
	project *models.Project
	member  *models.User
	router  *gin.Engine
	userID  uint
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := testutil.OpenDB(t)

	registry, err := manifests.Init(nil, "", logger)
	if err != nil {
		t.Fatalf("failed to load manifests: %v", err)
	}
	kinds := jobs.NewRegistry(jobs.DefaultKinds(derive.NewWriter(t.TempDir(), logger), 2)...)
	queue := &memoryQueue{}
	dispatcher := jobs.NewDispatcher(db, kinds, registry, queue, logger)
	previewer := notifications.NewCompiler(db, notifications.NewAggregator(notifications.NewDBContent(db), "https://app.test"), nil, 1, logger)

	project, _, user := testutil.Project(t, db)
	f := &fixture{db: db, queue: queue, project: project, member: user, userID: user.ID}

	r := gin.New()
	api := r.Group("/api", func(c *gin.Context) {
		c.Set(auth.SessionUserID, f.userID)
		c.Next()
	})
	NewHandlers(db, kinds, dispatcher, previewer, logger).Register(api)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestTriggerQueuesThenReportsInProgress(t *testing.T) {
	f := setup(t)
	path := fmt.Sprintf("/api/projects/%d/analysis", f.project.ID)

	w, resp := f.do(t, http.MethodPost, path, nil)
	if w.Code != http.StatusAccepted || resp["status"] != StatusQueued {
		t.Fatalf("expected 202 queued, got %d %v", w.Code, resp)
	}

	w, resp = f.do(t, http.MethodPost, path, nil)
	if w.Code != http.StatusOK || resp["status"] != StatusInProgress {
		t.Fatalf("expected 200 in_progress, got %d %v", w.Code, resp)
	}
	if len(f.queue.jobs) != 1 {
		t.Errorf("expected one queued job, got %d", len(f.queue.jobs))
	}
}

func TestForceRerunsCompletedRecord(t *testing.T) {
	f := setup(t)
	f.db.Model(&models.Project{}).Where("id = ?", f.project.ID).Update("recommendations_status", string(lifecycle.Completed))
	path := fmt.Sprintf("/api/projects/%d/recommendations", f.project.ID)

	w, resp := f.do(t, http.MethodPost, path, nil)
	if w.Code != http.StatusOK || resp["status"] != "completed" {
		t.Fatalf("expected 200 completed without force, got %d %v", w.Code, resp)
	}

	w, _ = f.do(t, http.MethodPost, path+"?force=true", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 with force, got %d", w.Code)
	}
}

func TestRenderRetryLimitReported(t *testing.T) {
	f := setup(t)
	article := &models.Article{ProjectID: f.project.ID, Title: "Install"}
	testutil.MustCreate(t, f.db, article)
	image := &models.StepImage{ArticleID: article.ID, StepIndex: 0, RenderStatus: lifecycle.Failed, RenderAttempts: 2}
	testutil.MustCreate(t, f.db, image)

	w, resp := f.do(t, http.MethodPost, fmt.Sprintf("/api/step-images/%d/render", image.ID), nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 at retry cap, got %d %v", w.Code, resp)
	}
	w, _ = f.do(t, http.MethodPost, fmt.Sprintf("/api/step-images/%d/render?force=true", image.ID), nil)
	if w.Code != http.StatusAccepted {
		t.Errorf("expected forced render to queue, got %d", w.Code)
	}
}

func TestNotFoundAndForbidden(t *testing.T) {
	f := setup(t)

	if w, _ := f.do(t, http.MethodPost, "/api/articles/999/generate", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown article, got %d", w.Code)
	}
	if w, _ := f.do(t, http.MethodPost, "/api/projects/abc/analysis", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for bad id, got %d", w.Code)
	}

	outsider := &models.User{Email: "outsider@docpilot.local"}
	testutil.MustCreate(t, f.db, outsider)
	f.userID = outsider.ID

	section := &models.Section{ProjectID: f.project.ID, Name: "Guides"}
	testutil.MustCreate(t, f.db, section)
	if w, _ := f.do(t, http.MethodPost, fmt.Sprintf("/api/sections/%d/recommendations", section.ID), nil); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-member, got %d", w.Code)
	}
	if len(f.queue.jobs) != 0 {
		t.Errorf("rejected requests queued jobs: %v", f.queue.jobs)
	}
}

func TestStartUpdateCheck(t *testing.T) {
	f := setup(t)
	path := fmt.Sprintf("/api/projects/%d/update-checks", f.project.ID)

	if w, _ := f.do(t, http.MethodPost, path, nil); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without a known commit, got %d", w.Code)
	}

	w, resp := f.do(t, http.MethodPost, path, []byte(`{"target_sha":"feed123"}`))
	if w.Code != http.StatusAccepted || resp["check_id"] == nil {
		t.Fatalf("expected 202 with check id, got %d %v", w.Code, resp)
	}

	w, resp = f.do(t, http.MethodPost, path, []byte(`{"target_sha":"feed456"}`))
	if w.Code != http.StatusOK || resp["status"] != StatusInProgress {
		t.Errorf("expected in-flight check reported, got %d %v", w.Code, resp)
	}
}

func TestProjectStatus(t *testing.T) {
	f := setup(t)
	f.db.Model(&models.Project{}).Where("id = ?", f.project.ID).Updates(map[string]interface{}{
		"analysis_status": string(lifecycle.Failed),
		"analysis_error":  "tool timed out",
	})

	w, resp := f.do(t, http.MethodGet, fmt.Sprintf("/api/projects/%d/status", f.project.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	analysis, _ := resp["analysis"].(map[string]interface{})
	if analysis["status"] != "failed" || analysis["error"] != "tool timed out" {
		t.Errorf("unexpected analysis status: %v", resp["analysis"])
	}
	sections, _ := resp["sections"].(map[string]interface{})
	if sections["status"] != "not_started" {
		t.Errorf("unexpected sections status: %v", resp["sections"])
	}
}

func TestDigestPreviewWritesNothing(t *testing.T) {
	f := setup(t)

	w, resp := f.do(t, http.MethodGet, fmt.Sprintf("/api/projects/%d/digest-preview", f.project.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	preview, _ := resp["preview"].(map[string]interface{})
	if preview["type"] != notifications.PreviewArticle {
		t.Errorf("expected sample article preview, got %v", resp["preview"])
	}

	var digests int64
	f.db.Model(&models.NotificationDigest{}).Count(&digests)
	if digests != 0 {
		t.Errorf("preview stored %d digests", digests)
	}
}
