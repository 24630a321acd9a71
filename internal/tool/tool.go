// Package tool invokes the external analysis tool: an opaque process that
// reads a work context from a scratch directory and writes a result artifact
// plus a usage report next to it.
package tool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jimdaga/docpilot/internal/models"
)

// Artifact file names inside the working directory
const (
	ContextFile = "context.json"
	PromptFile  = "prompt.md"
	ResultFile  = "result.json"
	UsageFile   = "usage.json"
)

var (
	// ErrToolFailed means the process exited unsuccessfully.
	ErrToolFailed = errors.New("analysis tool failed")
	// ErrTimeout means the process exceeded its time budget and was killed.
	ErrTimeout = errors.New("analysis tool timed out")
	// ErrNoResult means the process exited cleanly without writing a result.
	ErrNoResult = errors.New("analysis tool wrote no result")
)

// Invocation is everything the tool needs for one run.
type Invocation struct {
	Kind     models.JobKind
	RecordID uint
	Prompt   string
	Context  map[string]interface{}
	Timeout  time.Duration
	MaxTurns int
}

// Outcome describes a finished run. It is returned alongside errors whenever
// a working directory was created, so callers can still read the usage report.
type Outcome struct {
	Dir      string
	Result   []byte
	Stderr   string
	Duration time.Duration
}

// UsagePath is where the tool writes its usage report.
func (o *Outcome) UsagePath() string {
	if o == nil || o.Dir == "" {
		return ""
	}
	return filepath.Join(o.Dir, UsageFile)
}

// Path resolves a file written by the tool, refusing paths that escape Dir.
func (o *Outcome) Path(name string) (string, error) {
	clean := filepath.Clean(filepath.Join(o.Dir, name))
	rel, err := filepath.Rel(o.Dir, clean)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("artifact path escapes working directory")
	}
	return clean, nil
}

// Cleanup removes the working directory.
func (o *Outcome) Cleanup() {
	if o != nil && o.Dir != "" {
		os.RemoveAll(o.Dir)
	}
}

// Runner runs the external tool. Implementations block until the process
// exits or the invocation timeout elapses.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Outcome, error)
}
