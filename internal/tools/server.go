// Package tools is the platform's tool-calling subsystem. It exposes the
// data-directory tools and any script tools as an MCP server, and lets the
// platform call the same handlers in-process with a single string argument.
package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"

	"subsurface/internal/observability"
)

var (
	// ErrInvalidArgument marks a tool call rejected because of its argument.
	ErrInvalidArgument = errors.New("invalid tool argument")
	// ErrDataUnavailable marks a call that failed because the data directory is missing.
	ErrDataUnavailable = errors.New("data directory unavailable")
	// ErrUnknownTool is returned by CallTool for names not in the catalog.
	ErrUnknownTool = errors.New("unknown tool")
)

// Tool is one entry in the catalog.
type Tool struct {
	Definition mcp.Tool
	Argument   string   // name of the single string argument call_tool binds to
	Default    string   // argument used when a trigger captured nothing
	Triggers   []string // query patterns; group 1, when present, is the argument
	Source     string   // "builtin" or the script directory

	patterns []*regexp.Regexp
	handler  server.ToolHandlerFunc
}

func (t *Tool) Name() string { return t.Definition.Name }

type Options struct {
	Name        string
	Version     string
	DataDir     string
	ToolTimeout time.Duration
}

// Server owns the tool catalog and the MCP server that publishes it.
type Server struct {
	mcp      *server.MCPServer
	files    *Files
	executor *Executor

	mu      sync.RWMutex
	catalog []*Tool
	byName  map[string]*Tool

	log *observability.Logger
}

func NewServer(opts Options) (*Server, error) {
	if opts.Name == "" {
		opts.Name = "subsurface-tools"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		mcp: server.NewMCPServer(opts.Name, opts.Version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
			server.WithInstructions("Tools for browsing a subsurface data directory: well logs, seismic volumes and tabular data."),
		),
		files:    NewFiles(opts.DataDir),
		executor: NewExecutor(opts.DataDir, opts.ToolTimeout),
		byName:   make(map[string]*Tool),
		log:      observability.Component("tools.server"),
	}
	for _, t := range s.files.builtinTools() {
		t.Source = "builtin"
		if err := s.add(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddScripts registers script tools. A script whose name is already taken
// is skipped with a warning.
func (s *Server) AddScripts(scripts []*Script) int {
	added := 0
	for _, sc := range scripts {
		t := s.scriptTool(sc)
		if err := s.add(t); err != nil {
			s.log.Warn(nil, "script tool skipped", "tool", sc.Manifest.Name, "dir", sc.Dir, observability.AttrErr(err))
			continue
		}
		added++
	}
	s.log.Info(nil, "script tools loaded", "count", added)
	return added
}

func (s *Server) scriptTool(sc *Script) *Tool {
	desc := sc.Manifest.Description
	if desc == "" {
		desc = "script tool " + sc.Manifest.Name
	}
	opts := []mcp.PropertyOption{mcp.Description("argument passed to the script")}
	if sc.Manifest.Default != "" {
		opts = append(opts, mcp.DefaultString(sc.Manifest.Default))
	}
	return &Tool{
		Definition: mcp.NewTool(sc.Manifest.Name,
			mcp.WithDescription(desc),
			mcp.WithString(sc.Manifest.Argument, opts...),
		),
		Argument: sc.Manifest.Argument,
		Default:  sc.Manifest.Default,
		Triggers: sc.Manifest.Triggers,
		Source:   sc.Dir,
		patterns: sc.Patterns,
		handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			res, err := s.executor.Run(ctx, sc, stringArg(req, sc.Manifest.Argument, sc.Manifest.Default))
			if err != nil {
				return nil, err
			}
			if res.ExitCode != 0 {
				msg := strings.TrimSpace(res.Stderr)
				if msg == "" {
					msg = fmt.Sprintf("exit code %d", res.ExitCode)
				}
				return mcp.NewToolResultError(msg), nil
			}
			return mcp.NewToolResultText(strings.TrimRight(res.Stdout, "\n")), nil
		},
	}
}

func (s *Server) add(t *Tool) error {
	if t.patterns == nil {
		patterns, err := compileTriggers(t.Triggers)
		if err != nil {
			return err
		}
		t.patterns = patterns
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	s.catalog = append(s.catalog, t)
	s.byName[t.Name()] = t
	s.mcp.AddTool(t.Definition, t.handler)
	return nil
}

// CallTool runs the named tool in-process, binding arg to its primary
// argument. Handler errors are returned as errors; tool-level failures come
// back as a result with IsError set.
func (s *Server) CallTool(ctx context.Context, name, arg string) (*mcp.CallToolResult, error) {
	s.mu.RLock()
	t, ok := s.byName[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	ctx, span := observability.StartSpan(ctx, "tools.call", attribute.String("tool", name))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = map[string]any{t.Argument: arg}

	start := time.Now()
	res, err := t.handler(ctx, req)
	if err != nil {
		s.log.Warn(ctx, "tool call failed", "tool", name, "duration_ms", time.Since(start).Milliseconds(), observability.AttrErr(err))
		return nil, err
	}
	s.log.Debug(ctx, "tool call finished", "tool", name, "duration_ms", time.Since(start).Milliseconds(), "is_error", res.IsError)
	return res, nil
}

// Match finds the first tool whose trigger matches text and returns the
// argument to call it with.
func (s *Server) Match(text string) (name, arg string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.catalog {
		for _, re := range t.patterns {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			arg = t.Default
			if len(m) > 1 && m[1] != "" {
				arg = strings.Trim(m[1], `"'.,;:?!`)
			}
			return t.Name(), arg, true
		}
	}
	return "", "", false
}

// Names lists the catalog, sorted.
func (s *Server) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.catalog))
	for _, t := range s.catalog {
		out = append(out, t.Name())
	}
	sort.Strings(out)
	return out
}

// Describe returns a catalog summary suitable for prompts and help text.
func (s *Server) Describe() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.catalog) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("available tools:\n")
	for _, t := range s.catalog {
		fmt.Fprintf(&b, "- %s(%s): %s\n", t.Name(), t.Argument, t.Definition.Description)
	}
	return b.String()
}

// HTTPHandler serves the catalog over MCP streamable HTTP.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

// ServeStdio serves the catalog over MCP stdio until stdin closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// ResultText joins the text content of a tool result, one item per line.
func ResultText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	var parts []string
	for _, c := range res.Content {
		switch tc := c.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func stringArg(req mcp.CallToolRequest, key, def string) string {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return def
	}
	str, ok := v.(string)
	if !ok {
		return fmt.Sprint(v)
	}
	if strings.TrimSpace(str) == "" {
		return def
	}
	return str
}
