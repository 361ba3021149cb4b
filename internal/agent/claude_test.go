package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestClaudeEvent_AssistantText(t *testing.T) {
	line := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"hello world"}]}}`
	var event claudeEvent
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.Type != "assistant" {
		t.Errorf("type = %q, want assistant", event.Type)
	}

	var msg claudeMessage
	if err := json.Unmarshal(event.Message, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if msg.Role != "assistant" {
		t.Errorf("role = %q, want assistant", msg.Role)
	}
	if len(msg.Content) != 1 {
		t.Fatalf("content len = %d, want 1", len(msg.Content))
	}
	if msg.Content[0].Type != "text" {
		t.Errorf("block type = %q, want text", msg.Content[0].Type)
	}
	if msg.Content[0].Text != "hello world" {
		t.Errorf("text = %q, want %q", msg.Content[0].Text, "hello world")
	}
}

func TestClaudeEvent_MultipleBlocks(t *testing.T) {
	line := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"first"},{"type":"text","text":" second"}]}}`
	var event claudeEvent
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	var msg claudeMessage
	json.Unmarshal(event.Message, &msg)
	if len(msg.Content) != 2 {
		t.Fatalf("content len = %d, want 2", len(msg.Content))
	}
	if msg.Content[0].Text != "first" {
		t.Errorf("block[0] = %q, want %q", msg.Content[0].Text, "first")
	}
	if msg.Content[1].Text != " second" {
		t.Errorf("block[1] = %q, want %q", msg.Content[1].Text, " second")
	}
}

func TestClaudeEvent_ResultOK(t *testing.T) {
	line := `{"type":"result","subtype":"success","is_error":false,"duration_ms":1234.5,"result":"3 wells"}`
	var event claudeEvent
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.Type != "result" {
		t.Errorf("type = %q, want result", event.Type)
	}
	if event.IsError {
		t.Error("expected is_error=false")
	}
	if event.Result != "3 wells" || event.DurationMs != 1234.5 {
		t.Errorf("event = %+v", event)
	}
}

func TestClaudeEvent_ResultError(t *testing.T) {
	line := `{"type":"result","subtype":"error_during_execution","is_error":true,"duration_ms":500}`
	var event claudeEvent
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !event.IsError {
		t.Error("expected is_error=true")
	}
	if event.Subtype != "error_during_execution" {
		t.Errorf("subtype = %q", event.Subtype)
	}
}

func TestClaudeEvent_SystemIgnored(t *testing.T) {
	line := `{"type":"system","message":"session bootstrap"}`
	var event claudeEvent
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.Type != "system" {
		t.Errorf("type = %q, want system", event.Type)
	}
	// system events should parse but not contribute text
}

func TestClaudeEvent_RateLimitIgnored(t *testing.T) {
	line := `{"type":"rate_limit_event","rateLimitType":"token","resetsAt":"2026-01-01T00:00:00Z"}`
	var event claudeEvent
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.Type != "rate_limit_event" {
		t.Errorf("type = %q, want rate_limit_event", event.Type)
	}
}

func TestReadStreamCollectsText(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"system","message":"init"}`,
		`not json`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Found "},{"type":"tool_use"}]}}`,
		``,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"3 wells."}]}}`,
		`{"type":"result","subtype":"success","is_error":false,"result":"Found 3 wells."}`,
	}, "\n")

	got, err := NewClaudeAgent(ClaudeConfig{}).readStream(context.Background(), strings.NewReader(stream))
	if err != nil {
		t.Fatal(err)
	}
	if got != "Found 3 wells." {
		t.Errorf("response = %q", got)
	}
}

func TestReadStreamFallsBackToResultText(t *testing.T) {
	stream := `{"type":"result","subtype":"success","is_error":false,"result":"2 seismic lines"}`
	got, err := NewClaudeAgent(ClaudeConfig{}).readStream(context.Background(), strings.NewReader(stream))
	if err != nil {
		t.Fatal(err)
	}
	if got != "2 seismic lines" {
		t.Errorf("response = %q", got)
	}
}

func TestReadStreamResultErrorUsesSubtype(t *testing.T) {
	stream := `{"type":"result","subtype":"error_max_turns","is_error":true}`
	_, err := NewClaudeAgent(ClaudeConfig{}).readStream(context.Background(), strings.NewReader(stream))
	if !errors.Is(err, ErrBackendFailed) || !strings.Contains(err.Error(), "error_max_turns") {
		t.Fatalf("err = %v", err)
	}
}

func TestReadStreamResultError(t *testing.T) {
	stream := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"partial"}]}}
{"type":"result","subtype":"success","is_error":true,"result":"API rate limit reached"}`
	got, err := NewClaudeAgent(ClaudeConfig{}).readStream(context.Background(), strings.NewReader(stream))
	if !errors.Is(err, ErrBackendFailed) {
		t.Fatalf("err = %v, want ErrBackendFailed", err)
	}
	if !strings.Contains(err.Error(), "API rate limit reached") {
		t.Errorf("err = %v, want CLI message", err)
	}
	if got != "partial" {
		t.Errorf("partial response = %q", got)
	}
}

func fakeClaude(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestClaudeAgentRunsBinary(t *testing.T) {
	bin := fakeClaude(t, `
last=""
for a in "$@"; do last="$a"; done
printf '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"answer to %s"}]}}\n' "$last"
`)
	a := NewClaudeAgent(ClaudeConfig{Binary: bin, SystemPrompt: "data lives in ./data"})

	got, err := a.SendPrompt(context.Background(), "which wells")
	if err != nil {
		t.Fatal(err)
	}
	if got != "answer to which wells" {
		t.Errorf("response = %q", got)
	}
}

func TestClaudeAgentExitError(t *testing.T) {
	bin := fakeClaude(t, "echo 'auth required' >&2\nexit 2\n")
	_, err := NewClaudeAgent(ClaudeConfig{Binary: bin}).SendPrompt(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "auth required") {
		t.Fatalf("err = %v, want stderr in message", err)
	}
	if !errors.Is(err, ErrBackendFailed) {
		t.Errorf("err = %v, want ErrBackendFailed", err)
	}
}

func TestClaudeAgentMissingBinaryIsBackendFailure(t *testing.T) {
	_, err := NewClaudeAgent(ClaudeConfig{Binary: filepath.Join(t.TempDir(), "claude")}).SendPrompt(context.Background(), "x")
	if !errors.Is(err, ErrBackendFailed) {
		t.Fatalf("err = %v, want ErrBackendFailed", err)
	}
}

func TestClaudeAgentTimeout(t *testing.T) {
	bin := fakeClaude(t, "exec sleep 5\n")
	_, err := NewClaudeAgent(ClaudeConfig{Binary: bin, Timeout: 100 * time.Millisecond}).SendPrompt(context.Background(), "x")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestClaudeHealthCheckMissingBinary(t *testing.T) {
	a := NewClaudeAgent(ClaudeConfig{Binary: "definitely-not-a-claude-binary"})
	if err := a.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check failure")
	}
}

func TestClaudeArgsIncludeSystemPrompt(t *testing.T) {
	args := NewClaudeAgent(ClaudeConfig{SystemPrompt: "sys"}).args("q")
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--append-system-prompt sys") || args[len(args)-1] != "q" {
		t.Errorf("args = %v", args)
	}
}
