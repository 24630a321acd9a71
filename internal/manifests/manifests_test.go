package manifests

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jimdaga/docpilot/internal/models"
	"github.com/jimdaga/docpilot/internal/testutil"
)

const minimal = `
kind: mockup_render
version: "9.9.9"
prompt: "Render {{.description}}"
result_schema: |
  {"type": "object", "required": ["image_path"], "properties": {"image_path": {"type": "string"}}}
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultsCoverEveryKind(t *testing.T) {
	set, err := Defaults()
	if err != nil {
		t.Fatalf("failed to load defaults: %v", err)
	}
	for _, kind := range models.JobKinds {
		m, ok := set[kind]
		if !ok {
			t.Errorf("no default manifest for %s", kind)
			continue
		}
		if m.Timeout() <= 0 {
			t.Errorf("%s: expected positive timeout", kind)
		}
		if m.schema == nil {
			t.Errorf("%s: expected a compiled result schema", kind)
		}
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(minimal + "\ntimout_seconds: 5\n"))
	if err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestParseRequiresKnownKind(t *testing.T) {
	_, err := Parse([]byte(strings.Replace(minimal, "mockup_render", "nonsense", 1)))
	if err == nil {
		t.Fatal("expected unknown kind to be rejected")
	}
}

func TestRenderPrompt(t *testing.T) {
	set, err := Defaults()
	if err != nil {
		t.Fatal(err)
	}
	prompt, err := set[models.JobPullRequestAnalysis].RenderPrompt(map[string]interface{}{
		"project":      map[string]interface{}{"name": "Docs", "summary": ""},
		"repository":   map[string]interface{}{"full_name": "octo/docs"},
		"pull_request": map[string]interface{}{"number": 42, "title": "Add export", "body": "Adds CSV export", "url": "https://x", "author": "mona"},
		"base_sha":     "aaa",
		"head_sha":     "bbb",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Pull request #42", "octo/docs", "Adds CSV export", "aaa..bbb"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("expected prompt to contain %q:\n%s", want, prompt)
		}
	}
}

func TestValidateResult(t *testing.T) {
	set, err := Defaults()
	if err != nil {
		t.Fatal(err)
	}
	m := set[models.JobPullRequestAnalysis]

	if err := m.ValidateResult([]byte(`{"content":"ok","recommendations":[]}`)); err != nil {
		t.Errorf("expected valid result, got %v", err)
	}

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{"content":`},
		{"not object", `["content"]`},
		{"missing content", `{"title":"x"}`},
		{"bad recommendation", `{"content":"ok","recommendations":[{"description":"no title"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.ValidateResult([]byte(tt.raw)); !errors.Is(err, ErrInvalidResult) {
				t.Errorf("expected ErrInvalidResult, got %v", err)
			}
		})
	}
}

func TestDiscoverSkipsInvalid(t *testing.T) {
	fsys := fstest.MapFS{
		"render.yaml": {Data: []byte(minimal)},
		"broken.yaml": {Data: []byte("kind: [")},
		"notes.txt":   {Data: []byte("ignored")},
	}
	set, err := Discover(fsys, "test")
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 1 || set[models.JobMockupRender] == nil {
		t.Fatalf("expected only the valid manifest, got %v", set)
	}
	if set[models.JobMockupRender].Source != "test/render.yaml" {
		t.Errorf("unexpected source %q", set[models.JobMockupRender].Source)
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "render.yaml"), []byte(minimal), 0o644); err != nil {
		t.Fatal(err)
	}

	set, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := set[models.JobMockupRender].Version; got != "9.9.9" {
		t.Errorf("expected override version, got %s", got)
	}
	if len(set) != len(models.JobKinds) {
		t.Errorf("expected defaults for remaining kinds, got %d manifests", len(set))
	}
}

func TestInitSyncsToDatabase(t *testing.T) {
	db := testutil.OpenDB(t)

	registry, err := Init(db, "", discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	var rows []models.ToolManifest
	if err := db.Find(&rows).Error; err != nil {
		t.Fatal(err)
	}
	if len(rows) != registry.Count() {
		t.Fatalf("expected %d synced manifests, got %d", registry.Count(), len(rows))
	}

	// A second sync with unchanged checksums leaves rows alone.
	Sync(db, registry, discardLogger())
	var count int64
	db.Model(&models.ToolManifest{}).Count(&count)
	if int(count) != registry.Count() {
		t.Errorf("expected no duplicate rows, got %d", count)
	}
}

func TestWatchReloadsOverrides(t *testing.T) {
	dir := t.TempDir()
	registry, err := Init(nil, dir, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, nil, registry, dir, discardLogger()) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "render.yaml"), []byte(minimal), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m, _ := registry.Get(models.JobMockupRender); m.Version == "9.9.9" {
			cancel()
			if err := <-done; err != nil {
				t.Errorf("watch returned %v", err)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("expected registry to pick up the override")
}
