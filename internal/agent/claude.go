package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"subsurface/internal/observability"
)

// Claude Code stream-json event types

// result events carry is_error and the final text at the top level
type claudeEvent struct {
	Type       string          `json:"type"`
	Subtype    string          `json:"subtype,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	Result     string          `json:"result,omitempty"`
	DurationMs float64         `json:"duration_ms,omitempty"`
}

type claudeMessage struct {
	Role    string        `json:"role"`
	Content []claudeBlock `json:"content,omitempty"`
}

type claudeBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type ClaudeConfig struct {
	Binary       string        // default "claude"
	Timeout      time.Duration // per prompt, default 5m
	SystemPrompt string        // appended to the CLI's system prompt
	WorkDir      string        // process working directory (the data dir)
}

// ClaudeAgent implements Agent using `claude -p --output-format stream-json`.
// Each prompt spawns a new process.
type ClaudeAgent struct {
	cfg ClaudeConfig
	log *observability.Logger
}

func NewClaudeAgent(cfg ClaudeConfig) *ClaudeAgent {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &ClaudeAgent{cfg: cfg, log: observability.Component("agent.claude")}
}

func (c *ClaudeAgent) args(prompt string) []string {
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if c.cfg.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", c.cfg.SystemPrompt)
	}
	return append(args, prompt)
}

func (c *ClaudeAgent) SendPrompt(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.cfg.Binary, c.args(prompt)...)
	cmd.Dir = c.cfg.WorkDir
	cmd.WaitDelay = 2 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("claude: stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("claude: start: %w: %w", ErrBackendFailed, err)
	}

	response, parseErr := c.readStream(ctx, stdout)
	// drain so the process is not blocked on a full pipe
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return response, fmt.Errorf("claude: timeout after %v: %w", c.cfg.Timeout, context.DeadlineExceeded)
		}
		return response, fmt.Errorf("claude: %w", ctx.Err())
	}
	if parseErr != nil {
		return response, parseErr
	}
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return response, fmt.Errorf("claude: exit: %w: %w: %s", ErrBackendFailed, waitErr, msg)
		}
		return response, fmt.Errorf("claude: exit: %w: %w", ErrBackendFailed, waitErr)
	}
	return response, nil
}

// readStream collects assistant text from a stream-json event stream.
func (c *ClaudeAgent) readStream(ctx context.Context, r io.Reader) (string, error) {
	var response strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var event claudeEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			c.log.Debug(ctx, "skipping unparseable line", "line", truncate(line, 100))
			continue
		}

		switch event.Type {
		case "assistant":
			var msg claudeMessage
			if err := json.Unmarshal(event.Message, &msg); err != nil {
				c.log.Warn(ctx, "bad assistant message", observability.AttrErr(err))
				continue
			}
			for _, block := range msg.Content {
				if block.Type == "text" {
					response.WriteString(block.Text)
				}
			}

		case "result":
			if event.IsError {
				msg := event.Result
				if msg == "" {
					msg = event.Subtype
				}
				return response.String(), fmt.Errorf("claude: %w: %s", ErrBackendFailed, msg)
			}
			if response.Len() == 0 {
				response.WriteString(event.Result)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return response.String(), fmt.Errorf("claude: read stdout: %w", err)
	}
	return response.String(), nil
}

// HealthCheck verifies the CLI is on PATH and answers --version.
func (c *ClaudeAgent) HealthCheck(ctx context.Context) error {
	path, err := exec.LookPath(c.cfg.Binary)
	if err != nil {
		return fmt.Errorf("%s CLI not found on PATH", c.cfg.Binary)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s --version failed: %s", c.cfg.Binary, strings.TrimSpace(string(output)))
	}
	return nil
}

func (c *ClaudeAgent) Close() error { return nil }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
