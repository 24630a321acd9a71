package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/jimdaga/docpilot/internal/actions"
	"github.com/jimdaga/docpilot/internal/auth"
	"github.com/jimdaga/docpilot/internal/config"
	"github.com/jimdaga/docpilot/internal/delivery"
	"github.com/jimdaga/docpilot/internal/derive"
	"github.com/jimdaga/docpilot/internal/health"
	"github.com/jimdaga/docpilot/internal/jobs"
	"github.com/jimdaga/docpilot/internal/manifests"
	"github.com/jimdaga/docpilot/internal/notifications"
	"github.com/jimdaga/docpilot/internal/streams"
	"github.com/jimdaga/docpilot/internal/tool"
	"github.com/jimdaga/docpilot/internal/usage"
	"github.com/jimdaga/docpilot/internal/webhook"
	"github.com/jimdaga/docpilot/internal/worker"
	"gorm.io/gorm"
)

const sessionName = "docpilot_session"

// app holds the process-wide collaborators shared by the server and worker.
type app struct {
	db         *gorm.DB
	logger     *slog.Logger
	kinds      *jobs.Registry
	dispatcher *jobs.Dispatcher
	runner     *jobs.Runner
	compiler   *notifications.Compiler
	ingress    *webhook.Service
	actions    *actions.Handlers

	closers      []func() error
	stopReceipts func()
}

func build(ctx context.Context, cfg *config.Config, db *gorm.DB, logger *slog.Logger) (*app, error) {
	registry, err := manifests.Init(db, cfg.ManifestDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifests: %w", err)
	}
	if cfg.ManifestDir != "" {
		go func() {
			if err := manifests.Watch(ctx, db, registry, cfg.ManifestDir, logger); err != nil {
				logger.Error("Manifest watcher stopped", "error", err)
			}
		}()
	}

	a := &app{db: db, logger: logger}

	queue, err := worker.NewQueue(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, queue.Close)

	a.kinds = jobs.NewRegistry(jobs.DefaultKinds(derive.NewWriter(cfg.StorageDir, logger), cfg.RenderMaxAttempts)...)
	a.dispatcher = jobs.NewDispatcher(db, a.kinds, registry, queue, logger)
	a.runner = jobs.NewRunner(jobs.RunnerConfig{
		DB:         db,
		Kinds:      a.kinds,
		Manifests:  registry,
		Tool:       toolRunner(cfg, logger),
		Usage:      usage.NewRecorder(db, logger),
		Dispatcher: a.dispatcher,
		RetryDelay: cfg.RenderRetryDelay,
		Logger:     logger,
	})

	sender, err := a.sender(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	aggregator := notifications.NewAggregator(notifications.NewDBContent(db), cfg.AppURL)
	a.compiler = notifications.NewCompiler(db, aggregator, sender, cfg.WorkerConcurrency, logger)

	a.ingress = webhook.NewService(db, a.dispatcher, cfg.WebhookEvents, logger)
	a.actions = actions.NewHandlers(db, a.kinds, a.dispatcher, a.compiler, logger)
	return a, nil
}

func toolRunner(cfg *config.Config, logger *slog.Logger) tool.Runner {
	if cfg.ToolStub {
		logger.Warn("Using stub analysis tool")
		return tool.NewStubRunner("", 0, logger)
	}
	return tool.NewExecRunner(cfg.ToolCommand, cfg.ToolArgs, "", logger)
}

func (a *app) sender(cfg *config.Config) (notifications.Sender, error) {
	switch cfg.DigestTransport {
	case "http":
		return delivery.NewClient(cfg.DigestWebhookURL, cfg.DigestWebhookSecret, cfg.DigestStub, a.logger), nil
	case "stream":
		publisher, err := streams.NewPublisher(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, publisher.Close)
		return publisher, nil
	default:
		return nil, fmt.Errorf("unknown digest transport %q", cfg.DigestTransport)
	}
}

// startReceipts consumes delivery receipts when digests go out over the stream.
func (a *app) startReceipts(cfg *config.Config, logger *slog.Logger) (func(), error) {
	if cfg.DigestTransport != "stream" {
		return nil, nil
	}
	host, _ := os.Hostname()
	return streams.StartReceiptConsumer(cfg.RedisURL, fmt.Sprintf("%s-%d", host, os.Getpid()), a.compiler, logger)
}

func (a *app) workerDeps(cfg *config.Config) worker.Deps {
	return worker.Deps{
		Kinds:         a.kinds,
		Runner:        a.runner,
		Scheduler:     a.dispatcher,
		Compiler:      a.compiler,
		StaleRunAfter: cfg.StaleRunAfter,
		Logger:        a.logger,
	}
}

func (a *app) router(cfg *config.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionName, store))

	r.GET("/health", gin.WrapF(health.Handler))
	r.GET("/ready", health.Ready(a.db))

	r.POST("/webhooks/github", webhook.Handler(a.ingress))

	r.GET("/login", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"login_url": "/auth/github", "error": c.Query("error")})
	})
	r.GET("/auth/github", auth.HandleLogin)
	r.GET("/auth/github/callback", auth.HandleCallback(a.db))
	r.GET("/logout", auth.HandleLogout)

	api := r.Group("/api", auth.RequireAuth())
	a.actions.Register(api)

	return r
}

// Close releases Redis clients and background consumers.
func (a *app) Close() {
	if a.stopReceipts != nil {
		a.stopReceipts()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Close failed", "error", err)
		}
	}
}
