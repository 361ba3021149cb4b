// Package platform owns the long-lived handle the HTTP layer delegates to:
// the agent registry, the tool server and the query history.
package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/attribute"

	"subsurface/internal/agent"
	"subsurface/internal/config"
	"subsurface/internal/observability"
	"subsurface/internal/store"
	"subsurface/internal/tools"
)

// backendPriorityStep spaces backends by their position in AGENT_BACKENDS.
const backendPriorityStep = 10

// Platform is safe for concurrent use once Initialize has returned.
type Platform struct {
	cfg *config.Config

	mu          sync.RWMutex
	initialized bool
	startedAt   time.Time
	agents      *agent.Registry
	tools       *tools.Server
	history     *store.History
	stopMonitor context.CancelFunc
	monitorDone chan struct{}

	// extra backends registered by name before Initialize (tests, embedders)
	extraBackends map[string]agent.Agent

	log *observability.Logger
}

func New(cfg *config.Config) *Platform {
	return &Platform{
		cfg:           cfg,
		extraBackends: make(map[string]agent.Agent),
		log:           observability.Component("platform"),
	}
}

// RegisterBackend makes a custom agent available under name. Only names
// listed in AGENT_BACKENDS are used. Must be called before Initialize.
func (p *Platform) RegisterBackend(name string, a agent.Agent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extraBackends[name] = a
}

// Initialize opens the history store, loads the tool catalog and registers
// agent backends. Calling it again is a no-op.
func (p *Platform) Initialize(ctx context.Context) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}

	ctx, span := observability.StartSpan(ctx, "platform.initialize")
	defer func() { observability.EndSpan(span, err) }()

	toolServer, err := tools.NewServer(tools.Options{
		Name:        "subsurface-tools",
		DataDir:     p.cfg.DataDir,
		ToolTimeout: p.cfg.ToolTimeout,
	})
	if err != nil {
		return fmt.Errorf("platform: tool server: %w", err)
	}
	scripts, err := tools.LoadScripts(p.cfg.ToolsDir)
	if err != nil {
		return fmt.Errorf("platform: %w", err)
	}
	toolServer.AddScripts(scripts)

	registry := agent.NewRegistry()
	for i, name := range p.cfg.AgentBackends {
		a, err := p.buildBackend(name, toolServer)
		if err != nil {
			registry.Close()
			return fmt.Errorf("platform: %w", err)
		}
		registry.Register(name, a, i*backendPriorityStep)
	}
	registry.HealthCheckAll(ctx)

	history, err := store.Open(ctx, p.cfg.HistoryDBPath())
	if err != nil {
		registry.Close()
		return fmt.Errorf("platform: %w", err)
	}

	p.tools = toolServer
	p.agents = registry
	p.history = history
	p.startedAt = time.Now()
	p.initialized = true
	if p.cfg.HealthInterval > 0 {
		monCtx, cancel := context.WithCancel(context.Background())
		p.stopMonitor = cancel
		p.monitorDone = make(chan struct{})
		go p.monitorBackends(monCtx, registry, p.cfg.HealthInterval, p.monitorDone)
	}

	p.log.Info(ctx, "platform initialized",
		"data_dir", p.cfg.DataDir,
		"tools", len(toolServer.Names()),
		"backends", p.cfg.AgentBackends,
		"active_backend", registry.Active(),
	)
	return nil
}

// monitorBackends re-runs backend health checks so a backend that comes back
// (or goes away) is picked up without a restart.
func (p *Platform) monitorBackends(ctx context.Context, registry *agent.Registry, interval time.Duration, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	p.log.Debug(ctx, "backend monitor started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			p.log.Debug(ctx, "backend monitor stopped")
			return
		case <-ticker.C:
			registry.HealthCheckAll(ctx)
		}
	}
}

func (p *Platform) buildBackend(name string, ts *tools.Server) (agent.Agent, error) {
	if a, ok := p.extraBackends[name]; ok {
		return a, nil
	}
	switch name {
	case "tools":
		return agent.NewToolAgent(ts, tools.ResultText), nil
	case "echo":
		return &agent.EchoAgent{}, nil
	case "claude":
		return agent.NewClaudeAgent(agent.ClaudeConfig{
			Binary:       p.cfg.ClaudeBinary,
			Timeout:      p.cfg.QueryTimeout,
			SystemPrompt: p.systemPrompt(ts),
			WorkDir:      p.cfg.DataDir,
		}), nil
	default:
		return nil, fmt.Errorf("unknown agent backend %q", name)
	}
}

func (p *Platform) systemPrompt(ts *tools.Server) string {
	return fmt.Sprintf("You answer questions about a subsurface data repository (well logs, seismic, tables) rooted at %s.\n%s",
		p.cfg.DataDir, ts.Describe())
}

type handles struct {
	agents  *agent.Registry
	tools   *tools.Server
	history *store.History
}

func (p *Platform) handles() (handles, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return handles{}, ErrNotInitialized
	}
	return handles{agents: p.agents, tools: p.tools, history: p.history}, nil
}

// Query runs text through the active agent under the query timeout and
// records the outcome in the history store.
func (p *Platform) Query(ctx context.Context, text string) (string, error) {
	h, err := p.handles()
	if err != nil {
		return "", classify("query", err)
	}

	backend := h.agents.Active()
	ctx, span := observability.StartSpan(ctx, "platform.query", attribute.String("backend", backend))
	defer func() { observability.EndSpan(span, err) }()

	rec := store.QueryRecord{Query: text, Backend: backend, StartedAt: time.Now()}
	rec, recErr := h.history.Record(ctx, rec)
	if recErr == nil {
		// the row is completed once the agent returns
		ctx = observability.WithQueryID(ctx, rec.ID)
	}

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	response, err := h.agents.SendPrompt(runCtx, text)
	cancel()

	rec.DurationMs = time.Since(rec.StartedAt).Milliseconds()
	rec.Response = response
	if err != nil {
		rec.Error = err.Error()
		rec.Response = ""
	}
	if recErr == nil {
		// record the outcome even when the client has gone away
		recErr = h.history.Complete(context.WithoutCancel(ctx), rec)
	}
	if recErr != nil {
		p.log.Warn(ctx, "query history not recorded", observability.AttrErr(recErr))
	}

	if err != nil {
		p.log.Error(ctx, "query failed", "backend", backend, "duration_ms", rec.DurationMs, observability.AttrErr(err))
		err = classify("query", err)
		return "", err
	}
	p.log.Info(ctx, "query answered", "backend", backend, "duration_ms", rec.DurationMs, "response_len", len(response))
	return response, nil
}

// Status reports the platform's health as a JSON-ready mapping.
func (p *Platform) Status(ctx context.Context) (map[string]any, error) {
	h, err := p.handles()
	if err != nil {
		return nil, classify("status", err)
	}

	stats, err := h.history.Stats(ctx)
	if err != nil {
		return nil, classify("status", err)
	}

	p.mu.RLock()
	startedAt := p.startedAt
	p.mu.RUnlock()

	return map[string]any{
		"initialized":    true,
		"started_at":     startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(startedAt).Seconds()),
		"data_dir":       p.cfg.DataDir,
		"agent": map[string]any{
			"active":   h.agents.Active(),
			"backends": h.agents.Status(),
		},
		"tools":   h.tools.Names(),
		"queries": stats,
	}, nil
}

// CallTool invokes a tool by name with a single argument under the tool timeout.
func (p *Platform) CallTool(ctx context.Context, name, arg string) (*mcp.CallToolResult, error) {
	h, err := p.handles()
	if err != nil {
		return nil, classify("call_tool", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ToolTimeout)
	defer cancel()

	res, err := h.tools.CallTool(ctx, name, arg)
	if err != nil {
		return nil, classify("call_tool", err)
	}
	return res, nil
}

// RecentQueries returns the query history, newest first.
func (p *Platform) RecentQueries(ctx context.Context, limit int) ([]store.QueryRecord, error) {
	h, err := p.handles()
	if err != nil {
		return nil, classify("history", err)
	}
	recs, err := h.history.Recent(ctx, limit)
	if err != nil {
		return nil, classify("history", err)
	}
	return recs, nil
}

// ToolServer exposes the tool server for the MCP endpoint.
func (p *Platform) ToolServer() (*tools.Server, error) {
	h, err := p.handles()
	if err != nil {
		return nil, err
	}
	return h.tools, nil
}

// Close releases the agents and the history store.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return nil
	}
	p.initialized = false
	if p.stopMonitor != nil {
		p.stopMonitor()
		<-p.monitorDone
		p.stopMonitor = nil
	}

	var firstErr error
	if err := p.agents.Close(); err != nil {
		firstErr = err
	}
	if err := p.history.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
