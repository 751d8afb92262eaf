package activity

import (
	"context"
	"net/http"
	"os/exec"

	"github.com/danmuck/ghostline/internal/timeline"
	"github.com/danmuck/ghostline/internal/tools"
	"github.com/rs/zerolog"
)

// Runner drives one handler until it finishes or ctx ends.
type Runner interface {
	Run(ctx context.Context, h timeline.Handler) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, h timeline.Handler) error

func (f RunnerFunc) Run(ctx context.Context, h timeline.Handler) error {
	return f(ctx, h)
}

// Env carries the shared capabilities handed to every factory.
type Env struct {
	Logger  zerolog.Logger
	Results *ResultSink
	Exec    tools.CommandRunner
	Starter Starter
	HTTP    *http.Client
}

// Starter launches long-running native processes.
type Starter interface {
	Start(ctx context.Context, name string, args ...string) (*exec.Cmd, error)
}

// Factory builds a fresh Runner for one dispatch.
type Factory func(env Env) Runner

// Probe reports whether the kind's prerequisite host application exists.
type Probe func() bool

// Spec describes one registered activity kind.
type Spec struct {
	Kind        timeline.ActivityKind
	Description string
	Factory     Factory
	// ProcessName is the monitorable native process, empty when the kind
	// does not leave one behind.
	ProcessName string
	Probe       Probe
	// Affinity pins the worker to one OS thread for its lifetime.
	Affinity bool
	// InstanceLimit is the default cap on live ProcessName instances.
	InstanceLimit int
}
