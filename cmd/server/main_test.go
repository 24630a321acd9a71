package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jimdaga/docpilot/internal/actions"
	"github.com/jimdaga/docpilot/internal/config"
	"github.com/jimdaga/docpilot/internal/derive"
	"github.com/jimdaga/docpilot/internal/jobs"
	"github.com/jimdaga/docpilot/internal/testutil"
	"github.com/jimdaga/docpilot/internal/webhook"
)

func TestParseOptions(t *testing.T) {
	opts, ok := parseOptions([]string{"--mode", "worker", "--seed"})
	if !ok {
		t.Fatal("expected options to parse")
	}
	if opts.Mode != "worker" || !opts.Seed || opts.MigrateOnly {
		t.Errorf("unexpected options: %+v", opts)
	}

	t.Setenv("DOCPILOT_MODE", "")
	os.Unsetenv("DOCPILOT_MODE")
	opts, _ = parseOptions(nil)
	if opts.Mode != "all" {
		t.Errorf("expected default mode all, got %q", opts.Mode)
	}
}

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := testutil.OpenDB(t)
	kinds := jobs.NewRegistry(jobs.DefaultKinds(derive.NewWriter(t.TempDir(), logger), 2)...)

	a := &app{
		db:      db,
		logger:  logger,
		kinds:   kinds,
		ingress: webhook.NewService(db, nil, []string{"pull_request", "push"}, logger),
		actions: actions.NewHandlers(db, kinds, nil, nil, logger),
	}
	r := a.router(&config.Config{SessionSecret: "test-secret"})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"ready", http.MethodGet, "/ready", "", http.StatusOK},
		{"login", http.MethodGet, "/login", "", http.StatusOK},
		{"api requires session", http.MethodGet, "/api/projects/1/status", "", http.StatusUnauthorized},
		{"webhook rejects garbage", http.MethodPost, "/webhooks/github", "not json", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("X-GitHub-Event", "push")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, w.Code, tt.want, w.Body.String())
			}
		})
	}
}
