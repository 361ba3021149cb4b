package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"subsurface/internal/observability"
)

// ScriptInput is passed to script tools as JSON on stdin.
type ScriptInput struct {
	Argument string `json:"argument"`
	DataDir  string `json:"data_dir"`
	ToolDir  string `json:"tool_dir"`
}

// ScriptResult holds the output of one script run.
type ScriptResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Executor runs script tools as subprocesses.
type Executor struct {
	dataDir        string
	defaultTimeout time.Duration
	log            *observability.Logger
}

// NewExecutor makes dataDir absolute, since scripts run from their own
// directory.
func NewExecutor(dataDir string, defaultTimeout time.Duration) *Executor {
	if dataDir != "" {
		if abs, err := filepath.Abs(dataDir); err == nil {
			dataDir = abs
		}
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Executor{
		dataDir:        dataDir,
		defaultTimeout: defaultTimeout,
		log:            observability.Component("tools.executor"),
	}
}

// Run executes sc in its directory. A non-zero exit is reported through
// ScriptResult.ExitCode, not as an error. Timeouts wrap context.DeadlineExceeded.
func (e *Executor) Run(ctx context.Context, sc *Script, arg string) (*ScriptResult, error) {
	timeout := e.defaultTimeout
	if sc.Manifest.Timeout > 0 {
		timeout = time.Duration(sc.Manifest.Timeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parts := strings.Fields(sc.Manifest.Run)
	if len(parts) == 0 {
		return nil, fmt.Errorf("tool %s: empty run command", sc.Manifest.Name)
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = sc.Dir
	// grandchildren can hold stdout open after the kill
	cmd.WaitDelay = 2 * time.Second

	stdinData, err := json.Marshal(ScriptInput{Argument: arg, DataDir: e.dataDir, ToolDir: sc.Dir})
	if err != nil {
		return nil, fmt.Errorf("tool %s: marshal input: %w", sc.Manifest.Name, err)
	}
	cmd.Stdin = bytes.NewReader(stdinData)
	cmd.Env = append(cmd.Environ(),
		"SUBSURFACE_TOOL_ARG="+arg,
		"SUBSURFACE_DATA_DIR="+e.dataDir,
		"SUBSURFACE_TOOL_DIR="+sc.Dir,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	e.log.Info(ctx, "script tool started", "tool", sc.Manifest.Name, "command", sc.Manifest.Run, "timeout_s", timeout.Seconds())

	runErr := cmd.Run()
	result := &ScriptResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		// killed-by-timeout also produces an ExitError, so check ctx first
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.log.Warn(ctx, "script tool timed out", "tool", sc.Manifest.Name, "duration_ms", result.Duration.Milliseconds())
			return result, fmt.Errorf("tool %s: timeout after %v: %w", sc.Manifest.Name, timeout, context.DeadlineExceeded)
		}
		if ctx.Err() != nil {
			return result, fmt.Errorf("tool %s: %w", sc.Manifest.Name, ctx.Err())
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return result, fmt.Errorf("tool %s: exec: %w", sc.Manifest.Name, runErr)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	e.log.Info(ctx, "script tool finished", "tool", sc.Manifest.Name, "exit_code", result.ExitCode, "duration_ms", result.Duration.Milliseconds(), "stdout_len", len(result.Stdout), "stderr_len", len(result.Stderr))
	return result, nil
}
