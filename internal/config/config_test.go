package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("WEBHOOK_EVENTS", "")

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Port)
	}
	if cfg.WorkerConcurrency != 5 {
		t.Errorf("expected worker concurrency 5, got %d", cfg.WorkerConcurrency)
	}
	if cfg.RenderMaxAttempts != 3 {
		t.Errorf("expected render max attempts 3, got %d", cfg.RenderMaxAttempts)
	}
	if !reflect.DeepEqual(cfg.WebhookEvents, []string{"pull_request", "push"}) {
		t.Errorf("unexpected default webhook events: %v", cfg.WebhookEvents)
	}
	if cfg.SessionSecret != "s3cret" {
		t.Errorf("expected session secret from env, got %s", cfg.SessionSecret)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WEBHOOK_EVENTS", " pull_request , ,release")
	t.Setenv("RENDER_MAX_ATTEMPTS", "0")
	t.Setenv("STALE_RUN_AFTER", "90m")
	t.Setenv("TOOL_ARGS", "--print  --verbose")
	t.Setenv("TOOL_STUB", "true")
	t.Setenv("WORKER_CONCURRENCY", "not-a-number")

	cfg := Load()

	if !reflect.DeepEqual(cfg.WebhookEvents, []string{"pull_request", "release"}) {
		t.Errorf("unexpected webhook events: %v", cfg.WebhookEvents)
	}
	if cfg.RenderMaxAttempts != 1 {
		t.Errorf("expected render max attempts clamped to 1, got %d", cfg.RenderMaxAttempts)
	}
	if cfg.StaleRunAfter != 90*time.Minute {
		t.Errorf("expected 90m, got %s", cfg.StaleRunAfter)
	}
	if !reflect.DeepEqual(cfg.ToolArgs, []string{"--print", "--verbose"}) {
		t.Errorf("unexpected tool args: %v", cfg.ToolArgs)
	}
	if !cfg.ToolStub {
		t.Error("expected tool stub enabled")
	}
	if cfg.WorkerConcurrency != 5 {
		t.Errorf("expected fallback concurrency 5, got %d", cfg.WorkerConcurrency)
	}
}
