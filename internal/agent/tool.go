package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"subsurface/internal/observability"
)

// ToolCaller is the part of the tool server the tool agent needs.
type ToolCaller interface {
	Match(text string) (name, arg string, ok bool)
	CallTool(ctx context.Context, name, arg string) (*mcp.CallToolResult, error)
	Describe() string
}

// ToolAgent answers queries by routing them to the first tool whose
// trigger matches. It needs no model and is the default backend.
type ToolAgent struct {
	tools ToolCaller
	text  func(*mcp.CallToolResult) string
	log   *observability.Logger
}

// NewToolAgent builds a tool agent. text renders tool results; it is
// usually tools.ResultText.
func NewToolAgent(tools ToolCaller, text func(*mcp.CallToolResult) string) *ToolAgent {
	return &ToolAgent{
		tools: tools,
		text:  text,
		log:   observability.Component("agent.tools"),
	}
}

func (a *ToolAgent) SendPrompt(ctx context.Context, prompt string) (string, error) {
	name, arg, ok := a.tools.Match(prompt)
	if !ok {
		a.log.Debug(ctx, "no tool matched query")
		return a.help(), nil
	}

	a.log.Info(ctx, "query routed to tool", "tool", name, "argument", arg)
	res, err := a.tools.CallTool(ctx, name, arg)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}

	out := a.text(res)
	if res.IsError {
		return "", fmt.Errorf("%s failed: %s", name, out)
	}
	if strings.TrimSpace(out) == "" {
		return fmt.Sprintf("%s(%s) returned no results.", name, arg), nil
	}
	return out, nil
}

func (a *ToolAgent) help() string {
	desc := strings.TrimSpace(a.tools.Describe())
	if desc == "" {
		return "I could not match your question to a tool, and no tools are loaded."
	}
	return "I could not match your question to a tool. Try asking with one of these:\n" + desc
}

func (a *ToolAgent) Close() error { return nil }
