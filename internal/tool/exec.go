package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

const stderrTail = 4096

// ExecRunner runs the tool as a child process in a fresh temp directory.
type ExecRunner struct {
	command string
	args    []string
	baseDir string
	logger  *slog.Logger
}

// NewExecRunner creates a runner for command. baseDir may be empty to use the
// system temp dir.
func NewExecRunner(command string, args []string, baseDir string, logger *slog.Logger) *ExecRunner {
	return &ExecRunner{command: command, args: args, baseDir: baseDir, logger: logger}
}

// Run prepares the working directory, executes the tool and collects its result.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (*Outcome, error) {
	dir, err := prepareDir(r.baseDir, inv)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Dir: dir}

	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	args := append([]string{}, r.args...)
	if inv.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(inv.MaxTurns))
	}

	cmd := exec.CommandContext(ctx, r.command, args...)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(inv.Prompt)
	cmd.Env = append(os.Environ(),
		"DOCPILOT_JOB_KIND="+string(inv.Kind),
		"DOCPILOT_CONTEXT_PATH="+filepath.Join(dir, ContextFile),
		"DOCPILOT_RESULT_PATH="+filepath.Join(dir, ResultFile),
		"DOCPILOT_USAGE_PATH="+filepath.Join(dir, UsageFile),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	r.logger.Info("Invoking analysis tool",
		"job_kind", inv.Kind,
		"record_id", inv.RecordID,
		"dir", dir,
		"timeout", inv.Timeout,
	)

	start := time.Now()
	runErr := cmd.Run()
	out.Duration = time.Since(start)
	out.Stderr = tail(stderr.String(), stderrTail)

	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return out, fmt.Errorf("%w after %s", ErrTimeout, inv.Timeout)
		}
		return out, fmt.Errorf("%w: %v: %s", ErrToolFailed, runErr, strings.TrimSpace(out.Stderr))
	}

	result, err := os.ReadFile(filepath.Join(dir, ResultFile))
	if err != nil {
		if os.IsNotExist(err) {
			return out, ErrNoResult
		}
		return out, fmt.Errorf("failed to read tool result: %w", err)
	}
	out.Result = result
	return out, nil
}

// prepareDir creates the working directory and writes the context and prompt.
func prepareDir(baseDir string, inv Invocation) (string, error) {
	if baseDir != "" {
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create tool base dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(baseDir, "docpilot-"+string(inv.Kind)+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to create working dir: %w", err)
	}

	contextJSON, err := json.MarshalIndent(inv.Context, "", "  ")
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to marshal tool context: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ContextFile), contextJSON, 0o600); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to write tool context: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, PromptFile), []byte(inv.Prompt), 0o600); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to write tool prompt: %w", err)
	}
	return dir, nil
}

// tail keeps at most the last n bytes of s, starting on a rune boundary.
// Invalid byte sequences from the tool are replaced so the text can be stored.
func tail(s string, n int) string {
	if len(s) > n {
		s = s[len(s)-n:]
		for len(s) > 0 && !utf8.RuneStart(s[0]) {
			s = s[1:]
		}
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}
