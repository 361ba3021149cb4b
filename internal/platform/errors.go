package platform

import (
	"context"
	"errors"

	"subsurface/internal/agent"
	"subsurface/internal/store"
	"subsurface/internal/tools"
)

// Kind classifies platform failures so the HTTP layer can pick a status.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindUnavailable
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

// ErrNotInitialized is returned by every operation before Initialize.
var ErrNotInitialized = errors.New("platform is not initialized")

// Error carries a Kind alongside the underlying failure. Its message is the
// underlying message, so callers see the delegate's own text.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the kind of err. Errors that were never classified are
// KindInternal.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// InvalidInput wraps err as a client error.
func InvalidInput(op string, err error) error {
	return &Error{Kind: KindInvalidInput, Op: op, Err: err}
}

// classify maps known sentinel errors from the collaborators onto kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}

	kind := KindInternal
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, tools.ErrInvalidArgument):
		kind = KindInvalidInput
	case errors.Is(err, agent.ErrNoBackend),
		errors.Is(err, tools.ErrDataUnavailable),
		errors.Is(err, store.ErrClosed),
		errors.Is(err, ErrNotInitialized):
		kind = KindUnavailable
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
