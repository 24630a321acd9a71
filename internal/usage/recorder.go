// Package usage persists per-invocation telemetry of the analysis tool.
package usage

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/goccy/go-json"
	"github.com/jimdaga/docpilot/internal/models"
	"gorm.io/gorm"
)

// Report is the usage file written by the tool. Every field is optional.
type Report struct {
	InputTokens              int64   `json:"input_tokens"`
	OutputTokens             int64   `json:"output_tokens"`
	CacheCreationInputTokens int64   `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64   `json:"cache_read_input_tokens"`
	TotalCostUSD             float64 `json:"total_cost_usd"`
	DurationMS               int64   `json:"duration_ms"`
	DurationAPIMS            int64   `json:"duration_api_ms"`
	NumTurns                 int     `json:"num_turns"`
	Model                    string  `json:"model"`
	SessionID                string  `json:"session_id"`
}

// Tags identify the job a report belongs to.
type Tags struct {
	JobKind         models.JobKind
	ProjectID       *uint
	RecordID        uint
	Success         bool
	ErrorMessage    string
	ManifestVersion string
}

// Recorder writes ClaudeUsage rows. Recording never fails the caller.
type Recorder struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewRecorder creates a recorder.
func NewRecorder(db *gorm.DB, logger *slog.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// Record parses the report at path and stores one row. A missing report is
// normal for tools that crash early; malformed reports and database errors
// are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, path string, tags Tags) {
	logger := r.logger.With("job_kind", tags.JobKind, "record_id", tags.RecordID)

	if path == "" {
		logger.Info("No usage report produced")
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("No usage report produced", "path", path)
		} else {
			logger.Warn("Failed to read usage report", "path", path, "error", err)
		}
		return
	}

	report, err := Parse(data)
	if err != nil {
		logger.Warn("Malformed usage report", "path", path, "error", err)
		return
	}

	row := &models.ClaudeUsage{
		JobKind:                  string(tags.JobKind),
		ProjectID:                tags.ProjectID,
		RecordID:                 tags.RecordID,
		InputTokens:              report.InputTokens,
		OutputTokens:             report.OutputTokens,
		CacheCreationInputTokens: report.CacheCreationInputTokens,
		CacheReadInputTokens:     report.CacheReadInputTokens,
		CostUSD:                  report.TotalCostUSD,
		DurationMS:               report.DurationMS,
		DurationAPIMS:            report.DurationAPIMS,
		NumTurns:                 report.NumTurns,
		Model:                    report.Model,
		SessionID:                report.SessionID,
		Success:                  tags.Success,
		ErrorMessage:             tags.ErrorMessage,
		ManifestVersion:          tags.ManifestVersion,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		logger.Error("Failed to store usage record", "error", err)
		return
	}

	logger.Debug("Usage recorded",
		"input_tokens", row.InputTokens,
		"output_tokens", row.OutputTokens,
		"cost_usd", row.CostUSD,
	)
}

// Parse decodes a usage report. Unknown fields are ignored; a report that is
// not a JSON object is an error.
func Parse(data []byte) (*Report, error) {
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
