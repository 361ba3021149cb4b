package platform

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"subsurface/internal/agent"
	"subsurface/internal/store"
	"subsurface/internal/tools"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{errors.New("boom"), KindInternal},
		{fmt.Errorf("claude: %w", context.DeadlineExceeded), KindTimeout},
		{fmt.Errorf("%w: bad pattern", tools.ErrInvalidArgument), KindInvalidInput},
		{fmt.Errorf("%w: data dir missing", tools.ErrDataUnavailable), KindUnavailable},
		{agent.ErrNoBackend, KindUnavailable},
		{store.ErrClosed, KindUnavailable},
		{ErrNotInitialized, KindUnavailable},
		{fmt.Errorf("%w: x", tools.ErrUnknownTool), KindInternal},
		{InvalidInput("query", errors.New("query is required")), KindInvalidInput},
	}
	for _, c := range cases {
		got := classify("op", c.err)
		if KindOf(got) != c.want {
			t.Errorf("classify(%v) kind = %v, want %v", c.err, KindOf(got), c.want)
		}
		if got.Error() != c.err.Error() {
			t.Errorf("classify(%v) message = %q, want unchanged", c.err, got.Error())
		}
	}
}

func TestClassifyNil(t *testing.T) {
	if classify("op", nil) != nil {
		t.Fatal("expected nil")
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatal("plain errors are internal")
	}
	if KindOf(nil) != KindInternal {
		t.Fatal("nil is internal")
	}
}

func TestKindString(t *testing.T) {
	for k, want := range map[Kind]string{KindInternal: "internal", KindInvalidInput: "invalid_input", KindUnavailable: "unavailable", KindTimeout: "timeout"} {
		if k.String() != want {
			t.Errorf("%d.String() = %q, want %q", k, k.String(), want)
		}
	}
}
