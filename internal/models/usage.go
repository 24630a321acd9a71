package models

import (
	"errors"

	"gorm.io/gorm"
)

// ErrImmutable is returned when code tries to modify a telemetry row.
var ErrImmutable = errors.New("usage records are immutable")

// ClaudeUsage is per-invocation telemetry of the external tool. Rows are
// written once, whether or not the job succeeded, and never updated.
type ClaudeUsage struct {
	gorm.Model
	JobKind                  string  `gorm:"not null;index"`
	ProjectID                *uint   `gorm:"index"`
	RecordID                 uint    `gorm:"not null;default:0"`
	InputTokens              int64   `gorm:"not null;default:0"`
	OutputTokens             int64   `gorm:"not null;default:0"`
	CacheCreationInputTokens int64   `gorm:"not null;default:0"`
	CacheReadInputTokens     int64   `gorm:"not null;default:0"`
	CostUSD                  float64 `gorm:"column:cost_usd;not null;default:0"`
	DurationMS               int64   `gorm:"column:duration_ms;not null;default:0"`
	DurationAPIMS            int64   `gorm:"column:duration_api_ms;not null;default:0"`
	NumTurns                 int     `gorm:"not null;default:0"`
	Model                    string  `gorm:"not null;default:''"`
	SessionID                string  `gorm:"not null;default:''"`
	Success                  bool    `gorm:"not null;default:false"`
	ErrorMessage             string  `gorm:"column:error_message;type:text"`
	ManifestVersion          string  `gorm:"not null;default:''"`
}

// TableName pins the table name.
func (ClaudeUsage) TableName() string { return "claude_usages" }

// BeforeUpdate rejects any modification.
func (ClaudeUsage) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutable
}
