package agent

import (
	"context"
	"fmt"
)

// EchoAgent answers every query with the query itself. Selected with
// AGENT_BACKENDS=echo to exercise the HTTP path without any tooling.
type EchoAgent struct{}

func (e *EchoAgent) SendPrompt(_ context.Context, prompt string) (string, error) {
	return fmt.Sprintf("echo: %s", prompt), nil
}

func (e *EchoAgent) Close() error { return nil }
