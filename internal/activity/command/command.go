// Package command runs shell activity (Command, Bash, PowerShell) through the
// host's native interpreters.
package command

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/danmuck/ghostline/internal/activity"
	"github.com/danmuck/ghostline/internal/procs"
	"github.com/danmuck/ghostline/internal/timeline"
	"github.com/danmuck/ghostline/internal/tools"
	"github.com/rs/zerolog"
)

// maxResult caps how much command output lands in one result line.
const maxResult = 4096

// Shell names an interpreter and the flag that makes it run one line.
type Shell struct {
	Names []string
	Flag  string
}

// ShellFor returns the interpreter used for kind on this host.
func ShellFor(kind timeline.ActivityKind) Shell {
	windows := runtime.GOOS == "windows"
	switch kind {
	case timeline.KindBash:
		return Shell{Names: []string{"bash"}, Flag: "-c"}
	case timeline.KindPowerShell:
		if windows {
			return Shell{Names: []string{"powershell", "pwsh"}, Flag: "-Command"}
		}
		return Shell{Names: []string{"pwsh", "powershell"}, Flag: "-Command"}
	default:
		if windows {
			return Shell{Names: []string{"cmd"}, Flag: "/c"}
		}
		return Shell{Names: []string{"sh"}, Flag: "-c"}
	}
}

// Runner executes each event as one interpreter invocation.
type Runner struct {
	kind    timeline.ActivityKind
	shell   Shell
	exec    tools.CommandRunner
	results *activity.ResultSink
	log     zerolog.Logger
}

func New(kind timeline.ActivityKind, env activity.Env) *Runner {
	runner := env.Exec
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	return &Runner{
		kind:    kind,
		shell:   ShellFor(kind),
		exec:    runner,
		results: env.Results,
		log:     env.Logger.With().Str("handler", kind.String()).Logger(),
	}
}

func (r *Runner) Run(ctx context.Context, h timeline.Handler) error {
	r.log.Debug().Int("events", len(h.Events)).Bool("loop", h.Loop).Msg("command.Run")
	return activity.Drive(ctx, h, r.results, r.execute)
}

func (r *Runner) execute(ctx context.Context, ev timeline.Event) (string, error) {
	line := CommandLine(ev)
	if line == "" {
		return "", nil
	}
	stdout, stderr, code, err := r.exec.Run(ctx, r.shell.Names[0], r.shell.Flag, line)
	out := truncate(strings.TrimSpace(string(stdout)))
	if err != nil {
		r.log.Debug().Err(err).Int32("exit_code", code).Str("line", line).Msg("command.execute failed")
		if msg := strings.TrimSpace(string(stderr)); msg != "" {
			return out, fmt.Errorf("exit %d: %s", code, truncate(msg))
		}
		return out, fmt.Errorf("exit %d: %w", code, err)
	}
	return out, nil
}

// CommandLine joins the event command with its args into one shell line.
func CommandLine(ev timeline.Event) string {
	parts := make([]string, 0, len(ev.Args)+1)
	if c := strings.TrimSpace(ev.Command); c != "" {
		parts = append(parts, c)
	}
	for _, arg := range ev.StringArgs() {
		if arg = strings.TrimSpace(arg); arg != "" {
			parts = append(parts, arg)
		}
	}
	return strings.Join(parts, " ")
}

func firstOnPath(names []string) string {
	for _, name := range names {
		if _, err := exec.LookPath(name); err == nil {
			return name
		}
	}
	return ""
}

func truncate(s string) string {
	if len(s) <= maxResult {
		return s
	}
	return s[:maxResult]
}

// Spec registers kind with its interpreter probe.
func Spec(kind timeline.ActivityKind) activity.Spec {
	shell := ShellFor(kind)
	return activity.Spec{
		Kind:        kind,
		Description: fmt.Sprintf("runs each event through %s %s", shell.Names[0], shell.Flag),
		Factory: func(env activity.Env) activity.Runner {
			r := New(kind, env)
			if path := firstOnPath(shell.Names); path != "" {
				r.shell.Names = []string{path}
			}
			return r
		},
		ProcessName:   procs.PrimaryProcess(kind),
		Probe:         activity.LookPathProbe(shell.Names...),
		InstanceLimit: 1,
	}
}
