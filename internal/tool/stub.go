package tool

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/jimdaga/docpilot/internal/models"
)

// StubRunner fabricates plausible results without invoking any process.
// Used in development so the pipeline can run end to end.
type StubRunner struct {
	baseDir string
	delay   time.Duration
	logger  *slog.Logger
}

// NewStubRunner creates a stub runner that sleeps for delay before answering.
func NewStubRunner(baseDir string, delay time.Duration, logger *slog.Logger) *StubRunner {
	return &StubRunner{baseDir: baseDir, delay: delay, logger: logger}
}

// Run writes a canned result and usage report for inv.Kind.
func (s *StubRunner) Run(ctx context.Context, inv Invocation) (*Outcome, error) {
	dir, err := prepareDir(s.baseDir, inv)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Dir: dir}

	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return out, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}

	result, err := stubResult(dir, inv)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrToolFailed, err)
	}

	usage := map[string]interface{}{
		"input_tokens":   1200,
		"output_tokens":  350,
		"total_cost_usd": 0.0042,
		"duration_ms":    s.delay.Milliseconds(),
		"num_turns":      1,
		"model":          "stub",
		"session_id":     fmt.Sprintf("stub-%s-%d", inv.Kind, inv.RecordID),
	}
	if err := writeJSON(filepath.Join(dir, UsageFile), usage); err != nil {
		return out, err
	}
	if err := writeJSON(filepath.Join(dir, ResultFile), result); err != nil {
		return out, err
	}

	out.Result, err = json.Marshal(result)
	out.Duration = s.delay
	s.logger.Debug("Stub tool answered", "job_kind", inv.Kind, "record_id", inv.RecordID)
	return out, err
}

func stubResult(dir string, inv Invocation) (map[string]interface{}, error) {
	switch inv.Kind {
	case models.JobCodebaseAnalysis:
		return map[string]interface{}{
			"summary":    "A Go web service with an asynchronous worker pool.",
			"metadata":   map[string]interface{}{"languages": []string{"go"}, "frameworks": []string{"gin"}},
			"commit_sha": contextString(inv.Context, "head_sha"),
		}, nil
	case models.JobPullRequestAnalysis, models.JobCommitAnalysis:
		return map[string]interface{}{
			"title":   "",
			"content": "This change updates the request pipeline.",
			"recommendations": []map[string]interface{}{
				{"title": "Document the new pipeline stage", "description": "Explain the new stage.", "justification": "User-facing behaviour changed."},
			},
		}, nil
	case models.JobProjectRecommendations, models.JobSectionRecommendations:
		return map[string]interface{}{
			"recommendations": []map[string]interface{}{
				{"title": "Getting started guide", "description": "Walk through installation.", "justification": "No onboarding content exists."},
			},
		}, nil
	case models.JobSectionSuggestions:
		return map[string]interface{}{
			"sections": []map[string]interface{}{
				{"name": "Getting Started", "description": "Installation and first steps."},
				{"name": "Guides", "description": "Task-oriented walkthroughs."},
			},
		}, nil
	case models.JobArticleGeneration:
		return map[string]interface{}{
			"title":   "Getting started",
			"content": "Install the CLI and run your first analysis.",
			"steps": []map[string]interface{}{
				{"title": "Install", "body": "Run the installer.", "mockup": "Terminal window showing the installer"},
			},
			"source_commit_sha": contextString(inv.Context, "head_sha"),
		}, nil
	case models.JobArticleUpdateCheck:
		return map[string]interface{}{
			"summary":     "No documentation drift detected.",
			"suggestions": []interface{}{},
		}, nil
	case models.JobMockupRender:
		if err := writePlaceholderPNG(filepath.Join(dir, "mockup.png")); err != nil {
			return nil, err
		}
		return map[string]interface{}{"image_path": "mockup.png", "width": 1, "height": 1}, nil
	default:
		return nil, fmt.Errorf("no stub result for job kind %q", inv.Kind)
	}
}

func contextString(ctx map[string]interface{}, key string) string {
	if s, ok := ctx[key].(string); ok {
		return s
	}
	return ""
}

func writePlaceholderPNG(path string) error {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.White)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0o600)
}
