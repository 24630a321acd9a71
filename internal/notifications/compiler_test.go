package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jimdaga/docpilot/internal/models"
	"github.com/jimdaga/docpilot/internal/testutil"
)

type recordingSender struct {
	mu      sync.Mutex
	digests []Digest
	err     error
	failFor map[uint]bool
}

func (s *recordingSender) Send(_ context.Context, d Digest) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Receipt{}, s.err
	}
	if s.failFor[d.Recipient.UserID] {
		return Receipt{}, errors.New("recipient unreachable")
	}
	s.digests = append(s.digests, d)
	return Receipt{ID: fmt.Sprintf("msg-%d", len(s.digests))}, nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.digests)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCompileProjectSendsAndConsumes(t *testing.T) {
	db := testutil.OpenDB(t)
	project, _, user := testutil.Project(t, db)

	muted := &models.User{Email: "muted@docpilot.local", Name: "Muted"}
	testutil.MustCreate(t, db, muted)
	testutil.MustCreate(t, db, &models.ProjectMember{ProjectID: project.ID, UserID: muted.ID, DigestEnabled: false})

	article := &models.Article{ProjectID: project.ID, Title: "Install", Content: "Run the installer and follow the prompts."}
	testutil.MustCreate(t, db, article)

	testutil.MustCreate(t, db, &models.PendingNotification{ProjectID: project.ID, EventType: models.EventAnalysisComplete,
		Status: models.NotificationSuccess, Message: "Codebase analysis finished"})
	testutil.MustCreate(t, db, &models.PendingNotification{ProjectID: project.ID, EventType: models.EventArticleGenerated,
		Status: models.NotificationSuccess, Message: "Article ready", RecordID: article.ID,
		ActionURL: fmt.Sprintf("/articles/%d", article.ID)})

	sender := &recordingSender{}
	c := NewCompiler(db, NewAggregator(NewDBContent(db), "https://app.test"), sender, 2, discardLogger())

	sent, err := c.CompileAll(context.Background())
	if err != nil {
		t.Fatalf("CompileAll: %v", err)
	}
	if sent != 1 || sender.count() != 1 {
		t.Fatalf("expected one digest for the digest-enabled member, got %d", sent)
	}

	d := sender.digests[0]
	if d.Recipient.UserID != user.ID {
		t.Errorf("digest sent to user %d, want %d", d.Recipient.UserID, user.ID)
	}
	if d.Subject != "Docs: Article ready +1 more" {
		t.Errorf("unexpected subject: %q", d.Subject)
	}
	if d.Preview.Type != PreviewArticle || d.Preview.Title != "Install" {
		t.Errorf("unexpected preview: %+v", d.Preview)
	}

	var pending int64
	db.Model(&models.PendingNotification{}).Where("consumed_at IS NULL").Count(&pending)
	if pending != 0 {
		t.Errorf("expected all events consumed, %d left", pending)
	}
	var total int64
	db.Model(&models.PendingNotification{}).Count(&total)
	if total != 2 {
		t.Errorf("consumed events must be kept, found %d", total)
	}

	var stored models.NotificationDigest
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("digest not stored: %v", err)
	}
	if stored.DeliveryID != "msg-1" || stored.EventCount != 2 || stored.BatchKey != d.BatchKey {
		t.Errorf("unexpected stored digest: %+v", stored)
	}

	sent, err = c.CompileAll(context.Background())
	if err != nil || sent != 0 {
		t.Errorf("expected nothing left to compile, got %d, %v", sent, err)
	}
}

func TestCompileProjectSameBatchIsNoOp(t *testing.T) {
	db := testutil.OpenDB(t)
	project, _, _ := testutil.Project(t, db)
	testutil.MustCreate(t, db, &models.PendingNotification{ProjectID: project.ID, EventType: models.EventCommitAnalyzed,
		Status: models.NotificationSuccess, Message: "Commit analyzed"})

	sender := &recordingSender{}
	c := NewCompiler(db, NewAggregator(NewDBContent(db), ""), sender, 1, discardLogger())

	if _, err := c.CompileProject(context.Background(), project.ID); err != nil {
		t.Fatalf("first compile: %v", err)
	}
	// A crash after sending leaves the events unconsumed.
	db.Model(&models.PendingNotification{}).Where("project_id = ?", project.ID).Update("consumed_at", nil)

	sent, err := c.CompileProject(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("second compile: %v", err)
	}
	if sent != 0 || sender.count() != 1 {
		t.Errorf("expected the same batch not to be resent, sent %d total %d", sent, sender.count())
	}
	var digests int64
	db.Model(&models.NotificationDigest{}).Count(&digests)
	if digests != 1 {
		t.Errorf("expected one stored digest, got %d", digests)
	}
}

func TestCompileProjectSendFailureKeepsDigestForRetry(t *testing.T) {
	db := testutil.OpenDB(t)
	project, _, _ := testutil.Project(t, db)
	testutil.MustCreate(t, db, &models.PendingNotification{ProjectID: project.ID, EventType: models.EventCommitAnalyzed,
		Status: models.NotificationError, Message: "failed"})

	sender := &recordingSender{err: errors.New("connection refused")}
	c := NewCompiler(db, NewAggregator(NewDBContent(db), ""), sender, 1, discardLogger())

	sent, err := c.CompileProject(context.Background(), project.ID)
	if err != nil || sent != 0 {
		t.Fatalf("expected no sends and no error, got %d, %v", sent, err)
	}
	var stored models.NotificationDigest
	db.First(&stored)
	if stored.DeliveryError != "connection refused" {
		t.Errorf("expected delivery error recorded, got %q", stored.DeliveryError)
	}

	var pending int64
	db.Model(&models.PendingNotification{}).Where("consumed_at IS NULL").Count(&pending)
	if pending != 1 {
		t.Fatalf("expected the event to stay pending after a failed send, got %d pending", pending)
	}

	sender.err = nil
	if sent, err = c.CompileAll(context.Background()); err != nil || sent != 1 {
		t.Fatalf("expected the retry to deliver once, got %d, %v", sent, err)
	}
	if sender.count() != 1 {
		t.Errorf("expected exactly one delivery, got %d", sender.count())
	}
	db.First(&stored, stored.ID)
	if stored.DeliveryID == "" || stored.DeliveryError != "" {
		t.Errorf("expected retry to record delivery, got id %q error %q", stored.DeliveryID, stored.DeliveryError)
	}
	db.Model(&models.PendingNotification{}).Where("consumed_at IS NULL").Count(&pending)
	if pending != 0 {
		t.Errorf("expected the event consumed after delivery, got %d pending", pending)
	}
}

func TestCompileProjectRetryDoesNotResendServedRecipients(t *testing.T) {
	db := testutil.OpenDB(t)
	project, _, user := testutil.Project(t, db)
	other := &models.User{Email: "second@docpilot.local", Name: "Second"}
	testutil.MustCreate(t, db, other)
	testutil.MustCreate(t, db, &models.ProjectMember{ProjectID: project.ID, UserID: other.ID, DigestEnabled: true})
	testutil.MustCreate(t, db, &models.PendingNotification{ProjectID: project.ID, EventType: models.EventAnalysisComplete,
		Status: models.NotificationSuccess, Message: "done"})

	sender := &recordingSender{failFor: map[uint]bool{other.ID: true}}
	c := NewCompiler(db, NewAggregator(NewDBContent(db), ""), sender, 1, discardLogger())

	if sent, err := c.CompileProject(context.Background(), project.ID); err != nil || sent != 1 {
		t.Fatalf("expected one send on the first run, got %d, %v", sent, err)
	}

	sender.failFor = nil
	if sent, err := c.CompileProject(context.Background(), project.ID); err != nil || sent != 1 {
		t.Fatalf("expected only the failed recipient on retry, got %d, %v", sent, err)
	}

	perUser := map[uint]int{}
	for _, d := range sender.digests {
		perUser[d.Recipient.UserID]++
	}
	if perUser[user.ID] != 1 || perUser[other.ID] != 1 {
		t.Errorf("expected one digest per recipient, got %v", perUser)
	}
}

func TestMarkDelivered(t *testing.T) {
	db := testutil.OpenDB(t)
	project, _, user := testutil.Project(t, db)
	testutil.MustCreate(t, db, &models.NotificationDigest{ProjectID: project.ID, UserID: user.ID, BatchKey: "k",
		Subject: "s", CTALabel: "l", CTAURL: "u", DeliveryID: "1-0"})

	c := NewCompiler(db, NewAggregator(SampleContent{}, ""), &recordingSender{}, 1, discardLogger())
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := c.MarkDelivered(context.Background(), "1-0", at, ""); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	var stored models.NotificationDigest
	db.First(&stored)
	if stored.DeliveredAt == nil || !stored.DeliveredAt.Equal(at) {
		t.Errorf("expected delivered at %s, got %v", at, stored.DeliveredAt)
	}
	if err := c.MarkDelivered(context.Background(), "missing", at, ""); err == nil {
		t.Error("expected error for unknown delivery id")
	}
}

func TestPreviewUsesSampleContent(t *testing.T) {
	c := NewCompiler(nil, NewAggregator(nil, "https://app.test"), nil, 1, discardLogger())
	d := c.Preview(context.Background(), ProjectRef{ID: 3, Name: "Docs"}, Recipient{UserID: 1})

	if d.Preview.Type != PreviewArticle {
		t.Errorf("expected sample article preview, got %+v", d.Preview)
	}
	if d.Subject != "Docs: Sample: Articles generated +6 more (1 issue)" {
		t.Errorf("unexpected sample subject: %q", d.Subject)
	}
}

func TestBatchKeyIgnoresOrder(t *testing.T) {
	if BatchKey([]uint{3, 1, 2}) != BatchKey([]uint{1, 2, 3}) {
		t.Error("batch key depends on order")
	}
	if BatchKey([]uint{1, 2}) == BatchKey([]uint{12}) {
		t.Error("batch keys collide")
	}
}
