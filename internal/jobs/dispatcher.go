package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jimdaga/docpilot/internal/lifecycle"
	"github.com/jimdaga/docpilot/internal/manifests"
	"github.com/jimdaga/docpilot/internal/models"
	"gorm.io/gorm"
)

// queueSlack is added to the tool timeout to form the task deadline.
const queueSlack = 2 * time.Minute

// EnqueueOptions tune one queued task.
type EnqueueOptions struct {
	Delay   time.Duration
	Timeout time.Duration
}

// Enqueuer hands a job to the task queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job, opts EnqueueOptions) error
}

// Dispatcher is the idempotent-enqueue guard: a job is queued only by the
// caller that moved the record from unset or failed to pending.
type Dispatcher struct {
	db        *gorm.DB
	kinds     *Registry
	manifests *manifests.Registry
	queue     Enqueuer
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(db *gorm.DB, kinds *Registry, m *manifests.Registry, queue Enqueuer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{db: db, kinds: kinds, manifests: m, queue: queue, logger: logger}
}

// Dispatch queues kind for record id. It returns false without error when a
// run is already pending or running, or the retry budget is spent.
func (d *Dispatcher) Dispatch(ctx context.Context, kind models.JobKind, id uint) (bool, error) {
	return d.dispatch(ctx, kind, id, 0)
}

// DispatchAfter is Dispatch with a delay before the task becomes runnable.
func (d *Dispatcher) DispatchAfter(ctx context.Context, kind models.JobKind, id uint, delay time.Duration) (bool, error) {
	return d.dispatch(ctx, kind, id, delay)
}

// Rerun resets a completed or failed record and dispatches it again. An
// in-flight record is left alone and reported as not queued.
func (d *Dispatcher) Rerun(ctx context.Context, kind models.JobKind, id uint) (bool, error) {
	k, err := d.kinds.Get(kind)
	if err != nil {
		return false, err
	}
	if _, err := lifecycle.Reset(ctx, d.db, k.Field(), id); err != nil {
		return false, err
	}
	return d.dispatch(ctx, kind, id, 0)
}

func (d *Dispatcher) dispatch(ctx context.Context, kind models.JobKind, id uint, delay time.Duration) (bool, error) {
	k, err := d.kinds.Get(kind)
	if err != nil {
		return false, err
	}
	field := k.Field()

	won, err := lifecycle.Enqueue(ctx, d.db, field, id)
	if err != nil {
		return false, err
	}
	if !won {
		d.logger.Debug("Dispatch skipped, record already queued or exhausted", "job_kind", kind, "record_id", id)
		return false, nil
	}

	opts := EnqueueOptions{Delay: delay, Timeout: queueSlack}
	if m, ok := d.manifests.Get(kind); ok {
		opts.Timeout += m.Timeout()
	}

	if err := d.queue.Enqueue(ctx, Job{Kind: kind, RecordID: id}, opts); err != nil {
		if failErr := lifecycle.Fail(ctx, d.db, field, id, "failed to queue job: "+err.Error()); failErr != nil {
			d.logger.Error("Failed to mark unqueued job failed", "job_kind", kind, "record_id", id, "error", failErr)
		}
		return false, fmt.Errorf("failed to enqueue %s job for %d: %w", kind, id, err)
	}

	d.logger.Info("Job dispatched", "job_kind", kind, "record_id", id, "delay", delay)
	return true, nil
}
