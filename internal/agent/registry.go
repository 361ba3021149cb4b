package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"subsurface/internal/observability"
)

// Backend wraps an Agent with metadata for the registry.
type Backend struct {
	Name     string
	Agent    Agent
	Priority int // lower = higher priority
	Healthy  bool
	LastErr  string
}

// Registry manages multiple backends with priority-based selection.
// It implements the Agent interface by proxying to the active backend.
type Registry struct {
	backends []*Backend // sorted by priority (lowest first = highest priority)
	active   *Backend
	mu       sync.RWMutex
	log      *observability.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		log: observability.Component("agent.registry"),
	}
}

// Register adds a backend at the given priority. Lower priority = preferred.
// Backends start healthy; the first registered healthy backend becomes
// active until HealthCheckAll runs.
func (r *Registry) Register(name string, a Agent, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := &Backend{
		Name:     name,
		Agent:    a,
		Priority: priority,
		Healthy:  true,
	}
	r.backends = append(r.backends, b)

	// keep sorted by priority
	for i := len(r.backends) - 1; i > 0; i-- {
		if r.backends[i].Priority < r.backends[i-1].Priority {
			r.backends[i], r.backends[i-1] = r.backends[i-1], r.backends[i]
		}
	}

	r.log.Info(nil, "backend registered", "name", name, "priority", priority)
	r.selectActiveLocked(nil)
}

// HealthCheckAll runs health checks on all backends and selects the best one.
func (r *Registry) HealthCheckAll(ctx context.Context) {
	r.mu.RLock()
	backends := make([]*Backend, len(r.backends))
	copy(backends, r.backends)
	r.mu.RUnlock()

	// checks may shell out, so run them without holding the lock
	results := make(map[string]error, len(backends))
	for _, b := range backends {
		if hc, ok := b.Agent.(HealthChecker); ok {
			results[b.Name] = hc.HealthCheck(ctx)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.backends {
		err := results[b.Name]
		b.Healthy = err == nil
		if err != nil {
			b.LastErr = err.Error()
			r.log.Warn(ctx, "backend unhealthy", "name", b.Name, "reason", b.LastErr)
		} else {
			b.LastErr = ""
			r.log.Info(ctx, "backend healthy", "name", b.Name)
		}
	}

	r.selectActiveLocked(ctx)
}

// selectActiveLocked picks the highest-priority healthy backend. Must hold mu.
func (r *Registry) selectActiveLocked(ctx context.Context) {
	old := r.active
	r.active = nil
	for _, b := range r.backends {
		if b.Healthy {
			r.active = b
			break
		}
	}

	if r.active == nil {
		if len(r.backends) > 0 {
			r.log.Error(ctx, "no healthy backends available")
		}
		return
	}

	if old == nil || old.Name != r.active.Name {
		r.log.Info(ctx, "active backend changed", "backend", r.active.Name, "priority", r.active.Priority)
	}
}

// Active returns the name of the currently active backend.
func (r *Registry) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return ""
	}
	return r.active.Name
}

// MarkUnhealthy marks a backend as unhealthy and triggers reselection.
func (r *Registry) MarkUnhealthy(name, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.backends {
		if b.Name == name {
			b.Healthy = false
			b.LastErr = reason
			r.log.Warn(nil, "backend marked unhealthy", "name", name, "reason", reason)
			break
		}
	}

	r.selectActiveLocked(nil)
}

// Status returns info about all backends.
func (r *Registry) Status() []BackendStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := ""
	if r.active != nil {
		active = r.active.Name
	}

	out := make([]BackendStatus, len(r.backends))
	for i, b := range r.backends {
		out[i] = BackendStatus{
			Name:     b.Name,
			Priority: b.Priority,
			Healthy:  b.Healthy,
			Active:   b.Name == active,
			LastErr:  b.LastErr,
		}
	}
	return out
}

type BackendStatus struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Healthy  bool   `json:"healthy"`
	Active   bool   `json:"active"`
	LastErr  string `json:"last_error,omitempty"`
}

// SendPrompt implements Agent by proxying to the active backend.
func (r *Registry) SendPrompt(ctx context.Context, prompt string) (string, error) {
	r.mu.RLock()
	active := r.active
	r.mu.RUnlock()

	if active == nil {
		return "", ErrNoBackend
	}

	r.log.Debug(ctx, "routing prompt to backend", "backend", active.Name)
	resp, err := active.Agent.SendPrompt(ctx, prompt)
	if errors.Is(err, ErrBackendFailed) {
		r.MarkUnhealthy(active.Name, err.Error())
	}
	return resp, err
}

// Close shuts down all registered backends.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []string
	for _, b := range r.backends {
		if err := b.Agent.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", b.Name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close backends: %s", strings.Join(errs, "; "))
	}
	return nil
}
