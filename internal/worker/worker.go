// Package worker runs queued pipeline jobs and periodic maintenance on asynq.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jimdaga/docpilot/internal/config"
	"github.com/jimdaga/docpilot/internal/jobs"
)

// JobRunner executes jobs and fails abandoned ones.
type JobRunner interface {
	Run(ctx context.Context, job jobs.Job) error
	ReconcileStale(ctx context.Context, cutoff time.Time) (int, error)
}

// UpdateCheckScheduler starts due documentation checks.
type UpdateCheckScheduler interface {
	ScheduleUpdateChecks(ctx context.Context) (int, error)
}

// DigestCompiler compiles pending notifications into digests.
type DigestCompiler interface {
	CompileAll(ctx context.Context) (int, error)
}

// Deps are the handlers' collaborators.
type Deps struct {
	Kinds         *jobs.Registry
	Runner        JobRunner
	Scheduler     UpdateCheckScheduler
	Compiler      DigestCompiler
	StaleRunAfter time.Duration
	Logger        *slog.Logger
}

// asynqLoggerAdapter wraps slog.Logger to implement asynq.Logger interface
type asynqLoggerAdapter struct {
	logger *slog.Logger
}

func (a *asynqLoggerAdapter) Debug(args ...interface{}) {
	a.logger.Debug(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Info(args ...interface{}) {
	a.logger.Info(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Warn(args ...interface{}) {
	a.logger.Warn(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Error(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Fatal(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
	panic(fmt.Sprint(args...))
}

// Run starts the Asynq worker server and blocks until shutdown signal.
// Use this for standalone worker mode.
func Run(cfg *config.Config, deps Deps) error {
	srv, mux, err := newServer(cfg, deps)
	if err != nil {
		return err
	}
	// Run blocks and handles its own signal interception
	return srv.Run(mux)
}

// Start starts the Asynq worker in non-blocking mode and returns a stop function.
// Use this for embedded mode so the caller can coordinate shutdown.
func Start(cfg *config.Config, deps Deps) (stop func(), err error) {
	srv, mux, err := newServer(cfg, deps)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return func() { srv.Shutdown() }, nil
}

func newServer(cfg *config.Config, deps Deps) (*asynq.Server, *asynq.ServeMux, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	concurrency := cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:     concurrency,
			ShutdownTimeout: 30 * time.Second,
			ErrorHandler:    asynq.ErrorHandlerFunc(makeErrorHandler(deps.Logger)),
			Logger:          &asynqLoggerAdapter{logger: deps.Logger},
		},
	)

	mux := NewMux(deps)
	deps.Logger.Info("Worker starting", "concurrency", concurrency)
	return srv, mux, nil
}

// NewMux registers a handler for every job kind and periodic task.
func NewMux(deps Deps) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for _, k := range deps.Kinds.All() {
		mux.HandleFunc(JobTaskType(k.Name()), handleJob(deps.Logger, deps.Runner))
	}
	mux.HandleFunc(TaskCompileDigests, handleCompileDigests(deps.Logger, deps.Compiler))
	mux.HandleFunc(TaskReconcileStale, handleReconcileStale(deps.Logger, deps.Runner, deps.StaleRunAfter))
	mux.HandleFunc(TaskScheduleUpdateChecks, handleScheduleUpdateChecks(deps.Logger, deps.Scheduler))
	return mux
}

// handleJob runs one analysis job. Integrity failures are final.
func handleJob(logger *slog.Logger, runner JobRunner) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		job, err := parseJobTask(task)
		if err != nil {
			logger.Error("Dropping job task", "task_type", task.Type(), "error", err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}

		taskID, _ := asynq.GetTaskID(ctx)
		logger.Info("Processing job task", "task_id", taskID, "job_kind", job.Kind, "record_id", job.RecordID)

		if err := runner.Run(ctx, job); err != nil {
			if errors.Is(err, jobs.ErrIntegrity) || errors.Is(err, jobs.ErrUnknownKind) {
				return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
			}
			return err
		}
		return nil
	}
}

func handleCompileDigests(logger *slog.Logger, compiler DigestCompiler) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		sent, err := compiler.CompileAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to compile digests: %w", err)
		}
		logger.Info("Digest compilation finished", "sent", sent)
		return nil
	}
}

func handleReconcileStale(logger *slog.Logger, runner JobRunner, after time.Duration) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		cutoff := time.Now().Add(-after)
		n, err := runner.ReconcileStale(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("failed to reconcile stale runs: %w", err)
		}
		if n > 0 {
			logger.Warn("Failed abandoned runs", "count", n, "cutoff", cutoff.Format(time.RFC3339))
		}
		return nil
	}
}

func handleScheduleUpdateChecks(logger *slog.Logger, scheduler UpdateCheckScheduler) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		n, err := scheduler.ScheduleUpdateChecks(ctx)
		if err != nil {
			return fmt.Errorf("failed to schedule update checks: %w", err)
		}
		logger.Info("Scheduled update checks", "started", n)
		return nil
	}
}

// makeErrorHandler creates an error handler function with logger closure.
func makeErrorHandler(logger *slog.Logger) func(context.Context, *asynq.Task, error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)

		logger.Error(
			"Task execution failed",
			"task_type", task.Type(),
			"error", err.Error(),
			"retry_count", retried,
			"max_retry", maxRetry,
		)

		if retried >= maxRetry || errors.Is(err, asynq.SkipRetry) {
			logger.Error(
				"Task archived",
				"task_type", task.Type(),
				"payload", string(task.Payload()),
			)
		}
	}
}
