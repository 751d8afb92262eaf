package activity

import (
	"context"
	"errors"
	"testing"

	"github.com/danmuck/ghostline/internal/testutil/testlog"
	"github.com/danmuck/ghostline/internal/timeline"
)

func noopFactory(Env) Runner {
	return RunnerFunc(func(context.Context, timeline.Handler) error { return nil })
}

func TestRegistryRegisterResolve(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry()
	if err := reg.Register(Spec{Kind: timeline.KindCommand, Factory: noopFactory, ProcessName: " sh "}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(Spec{Kind: timeline.KindBrowserFirefox, Factory: noopFactory, InstanceLimit: 7}); err != nil {
		t.Fatalf("register: %v", err)
	}
	spec, ok := reg.Resolve(timeline.KindCommand)
	if !ok {
		t.Fatalf("expected command spec")
	}
	if spec.InstanceLimit != 1 {
		t.Fatalf("expected default limit 1, got %d", spec.InstanceLimit)
	}
	if spec.ProcessName != "sh" {
		t.Fatalf("expected trimmed process name, got %q", spec.ProcessName)
	}
	kinds := reg.Kinds()
	if len(kinds) != 2 || kinds[0] != timeline.KindBrowserFirefox || kinds[1] != timeline.KindCommand {
		t.Fatalf("unexpected kind ordering: %v", kinds)
	}
}

func TestRegistryRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry()
	if err := reg.Register(Spec{Kind: timeline.KindCommand}); !errors.Is(err, ErrFactoryNil) {
		t.Fatalf("expected ErrFactoryNil, got %v", err)
	}
	if err := reg.Register(Spec{Kind: "Telegraph", Factory: noopFactory}); !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}
	if err := reg.Register(Spec{Kind: timeline.KindBash, Factory: noopFactory}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(Spec{Kind: timeline.KindBash, Factory: noopFactory}); !errors.Is(err, ErrKindExists) {
		t.Fatalf("expected ErrKindExists, got %v", err)
	}
}

func TestLookPathProbe(t *testing.T) {
	testlog.Start(t)
	if LookPathProbe("definitely-not-a-binary-ghostline")() {
		t.Fatalf("missing binary should not satisfy probe")
	}
}
