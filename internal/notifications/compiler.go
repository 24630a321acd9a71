package notifications

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jimdaga/docpilot/internal/models"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// Receipt is what a sender reports for one digest.
type Receipt struct {
	ID string
	// Delivered is false when confirmation arrives later (stream transport).
	Delivered bool
}

// Sender delivers compiled digests.
type Sender interface {
	Send(ctx context.Context, d Digest) (Receipt, error)
}

// Compiler periodically turns unconsumed events into digests.
type Compiler struct {
	db          *gorm.DB
	aggregator  *Aggregator
	sender      Sender
	concurrency int
	logger      *slog.Logger
}

// NewCompiler creates a compiler. concurrency bounds how many projects are
// compiled at once.
func NewCompiler(db *gorm.DB, aggregator *Aggregator, sender Sender, concurrency int, logger *slog.Logger) *Compiler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Compiler{db: db, aggregator: aggregator, sender: sender, concurrency: concurrency, logger: logger}
}

// CompileAll compiles one batch per project with pending events and returns
// the number of digests sent.
func (c *Compiler) CompileAll(ctx context.Context) (int, error) {
	var projectIDs []uint
	if err := c.db.WithContext(ctx).Model(&models.PendingNotification{}).
		Where("consumed_at IS NULL").Distinct().Order("project_id").
		Pluck("project_id", &projectIDs).Error; err != nil {
		return 0, fmt.Errorf("failed to list projects with pending notifications: %w", err)
	}

	counts := make([]int, len(projectIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, id := range projectIDs {
		g.Go(func() error {
			n, err := c.CompileProject(gctx, id)
			if err != nil {
				return fmt.Errorf("project %d: %w", id, err)
			}
			counts[i] = n
			return nil
		})
	}
	err := g.Wait()

	sent := 0
	for _, n := range counts {
		sent += n
	}
	return sent, err
}

// CompileProject compiles the current snapshot of a project's unconsumed
// events into one digest per digest-enabled member, then marks the events
// consumed. Re-running on the same snapshot sends nothing twice.
func (c *Compiler) CompileProject(ctx context.Context, projectID uint) (int, error) {
	var rows []models.PendingNotification
	if err := c.db.WithContext(ctx).Where("project_id = ? AND consumed_at IS NULL", projectID).
		Order("id").Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("failed to load pending notifications: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var project models.Project
	if err := c.db.WithContext(ctx).Select("id", "name", "slug").First(&project, projectID).Error; err != nil {
		return 0, fmt.Errorf("failed to load project %d: %w", projectID, err)
	}

	events := make([]Event, len(rows))
	ids := make([]uint, len(rows))
	for i, r := range rows {
		events[i] = Event{ID: r.ID, Type: r.EventType, Status: r.Status, Message: r.Message, ActionURL: r.ActionURL, RecordID: r.RecordID}
		ids[i] = r.ID
	}
	batchKey := BatchKey(ids)

	var members []models.ProjectMember
	if err := c.db.WithContext(ctx).Preload("User").
		Where("project_id = ? AND digest_enabled = ?", projectID, true).
		Order("id").Find(&members).Error; err != nil {
		return 0, fmt.Errorf("failed to load digest recipients: %w", err)
	}

	ref := ProjectRef{ID: project.ID, Name: project.Name, Slug: project.Slug}
	sent, failed := 0, 0
	for _, m := range members {
		recipient := Recipient{UserID: m.UserID, Email: m.User.Email, Name: m.User.Name}
		digest := c.aggregator.Compile(ctx, ref, recipient, events)
		digest.BatchKey = batchKey

		ok, err := c.deliver(ctx, projectID, digest, len(events))
		if errors.Is(err, errSendFailed) {
			failed++
			continue
		}
		if err != nil {
			return sent, err
		}
		if ok {
			sent++
		}
	}

	// The snapshot stays unconsumed until every recipient has it; recipients
	// already served are skipped by the (project, user, batch) row.
	if failed > 0 {
		c.logger.Warn("Digest delivery incomplete, keeping events pending",
			"project_id", projectID,
			"batch_key", batchKey,
			"failed", failed,
			"sent", sent,
		)
		return sent, nil
	}

	now := timeNow()
	if err := c.db.WithContext(ctx).Model(&models.PendingNotification{}).
		Where("id IN ? AND consumed_at IS NULL", ids).
		Updates(map[string]interface{}{"consumed_at": now, "digest_batch": batchKey}).Error; err != nil {
		return sent, fmt.Errorf("failed to mark notifications consumed: %w", err)
	}

	c.logger.Info("Compiled digests",
		"project_id", projectID,
		"batch_key", batchKey,
		"events", len(events),
		"recipients", len(members),
		"sent", sent,
	)
	return sent, nil
}

// errSendFailed marks a recipient whose digest could not be handed to the sender.
var errSendFailed = errors.New("digest send failed")

// deliver stores the digest once per (project, user, batch) and sends it
// unless an earlier run already did.
func (c *Compiler) deliver(ctx context.Context, projectID uint, d Digest, eventCount int) (bool, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return false, fmt.Errorf("failed to encode digest: %w", err)
	}

	row := models.NotificationDigest{
		ProjectID:   projectID,
		UserID:      d.Recipient.UserID,
		BatchKey:    d.BatchKey,
		Subject:     d.Subject,
		CTALabel:    d.CTA.Label,
		CTAURL:      d.CTA.URL,
		PreviewType: d.Preview.Type,
		Payload:     datatypes.JSON(payload),
		EventCount:  eventCount,
	}
	if err := c.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return false, fmt.Errorf("failed to store digest: %w", err)
	}
	row = models.NotificationDigest{}
	if err := c.db.WithContext(ctx).Where("project_id = ? AND user_id = ? AND batch_key = ?",
		projectID, d.Recipient.UserID, d.BatchKey).First(&row).Error; err != nil {
		return false, fmt.Errorf("failed to load digest: %w", err)
	}
	if row.DeliveryID != "" || row.DeliveredAt != nil {
		c.logger.Debug("Digest already sent", "digest_id", row.ID, "user_id", row.UserID)
		return false, nil
	}

	receipt, err := c.sender.Send(ctx, d)
	if err != nil {
		c.logger.Error("Failed to send digest", "digest_id", row.ID, "user_id", row.UserID, "error", err)
		c.db.WithContext(ctx).Model(&models.NotificationDigest{}).Where("id = ?", row.ID).
			Update("delivery_error", err.Error())
		return false, fmt.Errorf("%w: %v", errSendFailed, err)
	}

	updates := map[string]interface{}{"delivery_id": receipt.ID, "delivery_error": ""}
	if receipt.Delivered {
		updates["delivered_at"] = timeNow()
	}
	if err := c.db.WithContext(ctx).Model(&models.NotificationDigest{}).Where("id = ?", row.ID).
		Updates(updates).Error; err != nil {
		return true, fmt.Errorf("failed to record digest delivery: %w", err)
	}
	return true, nil
}

// MarkDelivered records a delivery receipt for a digest sent earlier.
func (c *Compiler) MarkDelivered(ctx context.Context, deliveryID string, deliveredAt time.Time, deliveryErr string) error {
	updates := map[string]interface{}{"delivery_error": deliveryErr}
	if deliveryErr == "" {
		updates["delivered_at"] = deliveredAt
	}
	res := c.db.WithContext(ctx).Model(&models.NotificationDigest{}).
		Where("delivery_id = ?", deliveryID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to record receipt for %s: %w", deliveryID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("no digest with delivery id %s", deliveryID)
	}
	return nil
}

// Preview compiles a digest from fixed placeholder content without reading
// or writing any notification records.
func (c *Compiler) Preview(ctx context.Context, project ProjectRef, recipient Recipient) Digest {
	sample := NewAggregator(SampleContent{}, c.aggregator.baseURL)
	d := sample.Compile(ctx, project, recipient, SampleEvents())
	d.BatchKey = "sample"
	return d
}

// BatchKey identifies a set of events independent of order.
func BatchKey(ids []uint) string {
	sorted := append([]uint(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])
}
