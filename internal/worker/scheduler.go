package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jimdaga/docpilot/internal/config"
)

// periodicTask is one scheduler entry.
type periodicTask struct {
	spec     string
	taskType string
	timeout  time.Duration
}

func periodicTasks(cfg *config.Config) []periodicTask {
	return []periodicTask{
		{spec: cfg.DigestSchedule, taskType: TaskCompileDigests, timeout: 10 * time.Minute},
		{spec: cfg.ReconcileSchedule, taskType: TaskReconcileStale, timeout: 5 * time.Minute},
		{spec: cfg.UpdateCheckSchedule, taskType: TaskScheduleUpdateChecks, timeout: 10 * time.Minute},
	}
}

// StartScheduler creates and starts an Asynq Scheduler for periodic tasks.
// Returns a stop function for graceful shutdown.
func StartScheduler(cfg *config.Config, logger *slog.Logger) (stop func(), err error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("Invalid timezone, using UTC", "timezone", cfg.Timezone, "error", err)
		location = time.UTC
	}

	scheduler := asynq.NewScheduler(
		redisOpt,
		&asynq.SchedulerOpts{
			Location: location,
			LogLevel: asynq.InfoLevel,
			Logger:   &asynqLoggerAdapter{logger: logger},
		},
	)

	for _, p := range periodicTasks(cfg) {
		if p.spec == "" {
			logger.Info("Periodic task disabled", "task_type", p.taskType)
			continue
		}
		// Empty payload; handlers query what is due.
		task := asynq.NewTask(
			p.taskType,
			nil,
			asynq.MaxRetry(1),
			asynq.Timeout(p.timeout),
			asynq.Retention(taskRetention),
			asynq.Unique(time.Minute),
		)
		entryID, err := scheduler.Register(p.spec, task)
		if err != nil {
			return nil, fmt.Errorf("failed to register %s schedule %q: %w", p.taskType, p.spec, err)
		}
		logger.Info("Registered periodic task", "task_type", p.taskType, "schedule", p.spec, "entry_id", entryID)
	}

	// Start scheduler (non-blocking)
	if err := scheduler.Start(); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.Info("Scheduler started", "timezone", location.String())
	return func() { scheduler.Shutdown() }, nil
}
