package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jimdaga/docpilot/internal/derive"
	"github.com/jimdaga/docpilot/internal/lifecycle"
	"github.com/jimdaga/docpilot/internal/manifests"
	"github.com/jimdaga/docpilot/internal/models"
	"github.com/jimdaga/docpilot/internal/tool"
	"github.com/jimdaga/docpilot/internal/usage"
	"gorm.io/gorm"
)

var errFallback = errors.New("failed to write fallback")

// Runner executes one job: it claims the record, invokes the tool, records
// usage, and publishes either derived records or a fallback.
type Runner struct {
	db         *gorm.DB
	kinds      *Registry
	manifests  *manifests.Registry
	tool       tool.Runner
	usage      *usage.Recorder
	dispatcher *Dispatcher
	retryDelay time.Duration
	logger     *slog.Logger
}

// RunnerConfig collects the runner's collaborators.
type RunnerConfig struct {
	DB         *gorm.DB
	Kinds      *Registry
	Manifests  *manifests.Registry
	Tool       tool.Runner
	Usage      *usage.Recorder
	Dispatcher *Dispatcher
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// NewRunner creates a runner.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		db:         cfg.DB,
		kinds:      cfg.Kinds,
		manifests:  cfg.Manifests,
		tool:       cfg.Tool,
		usage:      cfg.Usage,
		dispatcher: cfg.Dispatcher,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
	}
}

// Run executes job. Tool failures, timeouts and malformed results are
// handled here and return nil; only integrity errors are returned.
func (r *Runner) Run(ctx context.Context, job Job) (err error) {
	kind, err := r.kinds.Get(job.Kind)
	if err != nil {
		return err
	}
	field := kind.Field()
	logger := r.logger.With("job_kind", job.Kind, "record_id", job.RecordID)

	won, err := lifecycle.Begin(ctx, r.db, field, job.RecordID)
	if err != nil {
		return err
	}
	if !won {
		snap, loadErr := lifecycle.Load(ctx, r.db, field, job.RecordID)
		if lifecycle.IsNotFound(loadErr) {
			return integrity("%s %d not found", field.Table, job.RecordID)
		}
		status := "unknown"
		if snap != nil {
			status = snap.Status.Label()
		}
		logger.Info("Skipping job, record is not pending", "status", status)
		return nil
	}

	// Bookkeeping after the tool returns must survive task deadline expiry.
	bg := context.WithoutCancel(ctx)

	var work *Work
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Job panicked", "panic", p, "stack", string(debug.Stack()))
			r.fail(bg, kind, job, work, fmt.Sprintf("internal error: %v", p), work != nil)
			err = integrity("panic in %s job: %v", job.Kind, p)
		}
	}()

	work, err = kind.Prepare(ctx, r.db, job.RecordID)
	if err != nil {
		logger.Error("Failed to prepare job", "error", err)
		r.fail(bg, kind, job, nil, err.Error(), false)
		return err
	}

	manifest, ok := r.manifests.Get(job.Kind)
	if !ok {
		err := integrity("no manifest for %s", job.Kind)
		r.fail(bg, kind, job, work, err.Error(), false)
		return err
	}
	prompt, err := manifest.RenderPrompt(work.Context)
	if err != nil {
		err = integrity("%v", err)
		r.fail(bg, kind, job, work, err.Error(), false)
		return err
	}

	logger.Info("Running job", "project_id", work.ProjectID, "manifest_version", manifest.Version)
	out, runErr := r.tool.Run(ctx, tool.Invocation{
		Kind:     job.Kind,
		RecordID: job.RecordID,
		Prompt:   prompt,
		Context:  work.Context,
		Timeout:  manifest.Timeout(),
		MaxTurns: manifest.MaxTurns,
	})
	defer out.Cleanup()

	if runErr == nil {
		runErr = manifest.ValidateResult(out.Result)
	}

	projectID := work.ProjectID
	tags := usage.Tags{
		JobKind:         job.Kind,
		ProjectID:       &projectID,
		RecordID:        job.RecordID,
		Success:         runErr == nil,
		ManifestVersion: manifest.Version,
	}
	if runErr != nil {
		tags.ErrorMessage = runErr.Error()
	}
	r.usage.Record(bg, out.UsagePath(), tags)

	if runErr != nil {
		logger.Warn("Tool run failed", "error", runErr)
		r.fail(bg, kind, job, work, runErr.Error(), true)
		return nil
	}

	var applied *Applied
	txErr := r.db.WithContext(bg).Transaction(func(tx *gorm.DB) error {
		var err error
		applied, err = kind.Apply(bg, tx, work, out)
		if err != nil {
			return err
		}
		return lifecycle.Complete(bg, tx, field, job.RecordID)
	})
	if txErr != nil {
		if errors.Is(txErr, derive.ErrMalformedResult) {
			logger.Warn("Tool result could not be applied", "error", txErr)
			r.fail(bg, kind, job, work, txErr.Error(), true)
			return nil
		}
		if errors.Is(txErr, lifecycle.ErrInvalidTransition) {
			logger.Warn("Record left running state during the run, discarding result", "error", txErr)
			return nil
		}
		logger.Error("Failed to write job results", "error", txErr)
		r.fail(bg, kind, job, work, txErr.Error(), false)
		if errors.Is(txErr, ErrIntegrity) {
			return txErr
		}
		return fmt.Errorf("%w: %v", ErrIntegrity, txErr)
	}

	logger.Info("Job completed", "project_id", work.ProjectID, "duration", out.Duration)
	r.notify(bg, work, models.NotificationSuccess, applied.Message)

	for _, next := range applied.FollowUps {
		if _, err := r.dispatcher.Dispatch(bg, next.Kind, next.RecordID); err != nil {
			logger.Error("Failed to dispatch follow-up", "next_kind", next.Kind, "next_id", next.RecordID, "error", err)
		}
	}
	return nil
}

// fail records a failed run: the kind's fallback (when requested and work is
// known) and the failed status commit together. If the fallback cannot be
// written the status is still moved to failed on its own. Kinds with a retry
// budget are re-dispatched until it is exhausted; every final failure queues
// an error notification.
func (r *Runner) fail(ctx context.Context, kind Kind, job Job, work *Work, reason string, fallback bool) {
	field := kind.Field()
	logger := r.logger.With("job_kind", job.Kind, "record_id", job.RecordID)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if fallback && work != nil {
			if err := kind.Fallback(ctx, tx, work, reason); err != nil {
				return fmt.Errorf("%w: %v", errFallback, err)
			}
		}
		return lifecycle.Fail(ctx, tx, field, job.RecordID, reason)
	})
	if errors.Is(err, errFallback) {
		logger.Error("Failed to write fallback, marking failed without it", "error", err)
		err = lifecycle.Fail(ctx, r.db, field, job.RecordID, reason)
	}
	if err != nil {
		logger.Error("Failed to mark job failed", "error", err)
		return
	}

	if field.Attempts != "" {
		snap, err := lifecycle.Load(ctx, r.db, field, job.RecordID)
		if err != nil {
			logger.Error("Failed to load attempts", "error", err)
		} else if !field.Exhausted(snap.Attempts) {
			if _, err := r.dispatcher.DispatchAfter(ctx, job.Kind, job.RecordID, r.retryDelay); err != nil {
				logger.Error("Failed to re-dispatch job", "error", err)
			} else {
				logger.Info("Re-dispatched job", "attempts", snap.Attempts, "delay", r.retryDelay)
				return
			}
		} else {
			logger.Warn("Retry budget exhausted, giving up", "attempts", snap.Attempts)
		}
	}

	if work == nil {
		return
	}
	final := *work
	if final.Event == "" {
		final.Event = final.FailureEvent
	}
	r.notify(ctx, &final, models.NotificationError, fmt.Sprintf("%s failed: %s", work.Subject, firstLine(reason)))
}

// notify queues a pending notification for the next digest.
func (r *Runner) notify(ctx context.Context, work *Work, status, message string) {
	if work.Event == "" {
		return
	}
	n := &models.PendingNotification{
		ProjectID: work.ProjectID,
		EventType: work.Event,
		Status:    status,
		Message:   message,
		ActionURL: work.ActionPath,
		RecordID:  work.RecordID,
	}
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		r.logger.Error("Failed to queue notification", "project_id", work.ProjectID, "event_type", work.Event, "error", err)
	}
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			s = s[:i]
			break
		}
	}
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= 300 {
		return s
	}
	cut := 300
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
