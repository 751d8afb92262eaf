// Package launch drives GUI activity by starting the native browser or
// office binary and handing it documents and URLs on its command line.
package launch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/ghostline/internal/activity"
	"github.com/danmuck/ghostline/internal/procs"
	"github.com/danmuck/ghostline/internal/timeline"
	"github.com/danmuck/ghostline/internal/tools"
	"github.com/rs/zerolog"
)

var (
	ErrAppNotFound = errors.New("launch: application not found")
	// ErrNeedsDriver marks commands that require an automation driver.
	ErrNeedsDriver = errors.New("launch: command requires an automation driver")
)

// openTimeout bounds one hand-off invocation such as "firefox <url>".
const openTimeout = 30 * time.Second

// App describes one launchable native application.
type App struct {
	Kind     timeline.ActivityKind
	Binaries []string
	Affinity bool
	Limit    int
}

// Apps lists the launchable applications.
func Apps() []App {
	return []App{
		{Kind: timeline.KindBrowserFirefox, Binaries: []string{"firefox"}, Affinity: true, Limit: 7},
		{Kind: timeline.KindBrowserChrome, Binaries: []string{"chrome", "google-chrome", "chromium", "chromium-browser"}, Affinity: true, Limit: 7},
		{Kind: timeline.KindNotepad, Binaries: []string{"notepad", "gedit", "mousepad"}},
		{Kind: timeline.KindWord, Binaries: []string{"winword", "libreoffice"}},
		{Kind: timeline.KindExcel, Binaries: []string{"excel", "libreoffice"}},
		{Kind: timeline.KindPowerPoint, Binaries: []string{"powerpnt", "libreoffice"}},
		{Kind: timeline.KindOutlook, Binaries: []string{"outlook"}},
	}
}

type Runner struct {
	app     App
	starter activity.Starter
	exec    tools.CommandRunner
	results *activity.ResultSink
	log     zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func New(app App, env activity.Env) *Runner {
	var starter activity.Starter = env.Starter
	if starter == nil {
		starter = tools.ExecRunner{}
	}
	runner := env.Exec
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	return &Runner{
		app:     app,
		starter: starter,
		exec:    runner,
		results: env.Results,
		log:     env.Logger.With().Str("handler", app.Kind.String()).Logger(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run starts the application, plays the events against it, and then keeps
// it open until it exits or ctx ends.
func (r *Runner) Run(ctx context.Context, h timeline.Handler) error {
	bin := r.binary(h)
	if bin == "" {
		return fmt.Errorf("%w: %s", ErrAppNotFound, r.app.Kind)
	}
	var args []string
	if initial := strings.TrimSpace(h.Initial); initial != "" {
		args = append(args, initial)
	}
	cmd, err := r.starter.Start(ctx, bin, args...)
	if err != nil {
		return fmt.Errorf("start %s: %w", bin, err)
	}
	r.log.Info().Str("binary", bin).Int("pid", cmd.Process.Pid).Msg("launch.Run started")

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	err = activity.Drive(ctx, h, r.results, func(ctx context.Context, ev timeline.Event) (string, error) {
		return r.event(ctx, bin, ev)
	})
	if err != nil {
		<-exited
		return err
	}
	select {
	case <-ctx.Done():
		<-exited
		return ctx.Err()
	case werr := <-exited:
		r.log.Debug().Err(werr).Str("binary", bin).Msg("launch.Run application exited")
		return nil
	}
}

func (r *Runner) binary(h timeline.Handler) string {
	if path := strings.TrimSpace(h.ArgString("path", "")); path != "" {
		return path
	}
	for _, name := range r.app.Binaries {
		if _, err := exec.LookPath(name); err == nil {
			return name
		}
	}
	return ""
}

func (r *Runner) event(ctx context.Context, bin string, ev timeline.Event) (string, error) {
	targets := ev.StringArgs()
	switch strings.ToLower(strings.TrimSpace(ev.Command)) {
	case "random":
		if len(targets) == 0 {
			return "", nil
		}
		r.mu.Lock()
		targets = []string{targets[r.rng.Intn(len(targets))]}
		r.mu.Unlock()
	case "browse", "open", "navigate", "create":
	default:
		return "", fmt.Errorf("%w: %s", ErrNeedsDriver, ev.Command)
	}
	opened := make([]string, 0, len(targets))
	var errs []error
	for _, target := range targets {
		if err := r.open(ctx, bin, target); err != nil {
			errs = append(errs, err)
			continue
		}
		opened = append(opened, target)
	}
	return strings.Join(opened, " "), errors.Join(errs...)
}

// open hands target to the running application through a second invocation,
// which the native binary forwards to its primary instance.
func (r *Runner) open(ctx context.Context, bin, target string) error {
	ctx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()
	_, stderr, code, err := r.exec.Run(ctx, bin, target)
	if err != nil {
		return fmt.Errorf("open %s: exit %d: %s", target, code, strings.TrimSpace(string(stderr)))
	}
	return nil
}

// Spec registers app. The monitorable process comes from the process family
// table so the monitor and the runner agree on names.
func Spec(app App) activity.Spec {
	return activity.Spec{
		Kind:          app.Kind,
		Description:   "launches " + app.Binaries[0],
		Factory:       func(env activity.Env) activity.Runner { return New(app, env) },
		ProcessName:   procs.PrimaryProcess(app.Kind),
		Probe:         activity.LookPathProbe(app.Binaries...),
		Affinity:      app.Affinity,
		InstanceLimit: app.Limit,
	}
}
