package agent

import (
	"context"
	"errors"
)

// ErrNoBackend is returned when no healthy backend can take a prompt.
var ErrNoBackend = errors.New("no healthy agent backend available")

// ErrBackendFailed marks a failure of the backend itself (launch, crash,
// CLI-reported error) rather than of the query. The registry takes such a
// backend out of rotation until its next health check.
var ErrBackendFailed = errors.New("agent backend failed")

// Agent answers free-text queries (echo, tools, claude, ...).
type Agent interface {
	SendPrompt(ctx context.Context, prompt string) (string, error)
	Close() error
}

// HealthChecker is implemented by backends that can verify their
// dependencies (a CLI on PATH, a reachable tool server).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
