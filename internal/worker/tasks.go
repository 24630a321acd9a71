package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/hibiken/asynq"
	"github.com/jimdaga/docpilot/internal/jobs"
	"github.com/jimdaga/docpilot/internal/models"
)

// Task type constants
const (
	TaskJobPrefix            = "job:"
	TaskCompileDigests       = "notifications:compile_digests"
	TaskReconcileStale       = "maintenance:reconcile_stale"
	TaskScheduleUpdateChecks = "articles:schedule_update_checks"
	defaultJobTimeout        = 15 * time.Minute
	taskRetention            = 24 * time.Hour
)

// JobTaskType is the asynq task type of a job kind.
func JobTaskType(kind models.JobKind) string {
	return TaskJobPrefix + string(kind)
}

// NewJobTask builds the task for one job run. Job tasks are never retried by
// the queue; the runner decides about retries itself.
func NewJobTask(job jobs.Job, opts jobs.EnqueueOptions) (*asynq.Task, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	taskOpts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.Timeout(timeout),
		asynq.Retention(taskRetention),
	}
	if opts.Delay > 0 {
		taskOpts = append(taskOpts, asynq.ProcessIn(opts.Delay))
	}
	return asynq.NewTask(JobTaskType(job.Kind), payload, taskOpts...), nil
}

// parseJobTask decodes a job task and checks that its type matches the payload.
func parseJobTask(task *asynq.Task) (jobs.Job, error) {
	var job jobs.Job
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return job, fmt.Errorf("invalid payload: %w", err)
	}
	if job.RecordID == 0 {
		return job, fmt.Errorf("invalid payload: missing record_id")
	}
	if kind := strings.TrimPrefix(task.Type(), TaskJobPrefix); kind != string(job.Kind) {
		return job, fmt.Errorf("invalid payload: task %s carries kind %q", task.Type(), job.Kind)
	}
	return job, nil
}

// Queue enqueues job tasks on asynq.
type Queue struct {
	client *asynq.Client
}

// NewQueue connects a queue to Redis.
func NewQueue(redisURL string) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Queue{client: asynq.NewClient(opt)}, nil
}

// Enqueue implements jobs.Enqueuer.
func (q *Queue) Enqueue(ctx context.Context, job jobs.Job, opts jobs.EnqueueOptions) error {
	task, err := NewJobTask(job, opts)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, task)
	return err
}

// Close closes the Asynq client connection gracefully.
func (q *Queue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
