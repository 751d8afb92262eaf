// Package orchestrator turns timelines into running workers, tracks them as
// jobs, and runs the monitor that revives looping jobs and trims excess
// native process instances.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/ghostline/internal/activity"
	"github.com/danmuck/ghostline/internal/observability"
	"github.com/danmuck/ghostline/internal/timeline"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrUnregisteredKind = errors.New("orchestrator: activity kind not registered")
	ErrAppMissing       = errors.New("orchestrator: host application missing")
	ErrNotRunning       = errors.New("orchestrator: no active generation")
)

type job struct {
	id          string
	handler     timeline.Handler
	processName string
	started     time.Time
	cancel      context.CancelFunc
	done        chan struct{}
	gated       atomic.Bool
}

func (j *job) exited() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// JobInfo is a read-only view of one tracked job.
type JobInfo struct {
	ID          string                `json:"id"`
	Kind        timeline.ActivityKind `json:"kind"`
	ProcessName string                `json:"process_name,omitempty"`
	Loop        bool                  `json:"loop"`
	Started     time.Time             `json:"started"`
	Running     bool                  `json:"running"`
	Gated       bool                  `json:"gated"`
}

// Orchestrator owns the job registry of the current generation. A generation
// starts with the first Run or RunCommand and ends with Shutdown.
type Orchestrator struct {
	cfg Config
	log zerolog.Logger

	mu         sync.Mutex
	genCtx     context.Context
	genCancel  context.CancelFunc
	jobs       map[string]*job
	probes     map[timeline.ActivityKind]bool
	timelineID string
	monitoring bool
	monitorEnd chan struct{}
}

func New(cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.Registry == nil {
		cfg.Registry = def.Registry
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = def.MonitorInterval
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = def.ShutdownGrace
	}
	if cfg.MissingApp == "" {
		cfg.MissingApp = def.MissingApp
	}
	if cfg.Supervisor == nil {
		cfg.Supervisor = nopSupervisor{}
	}
	return &Orchestrator{
		cfg:    cfg,
		log:    cfg.Logger,
		jobs:   make(map[string]*job),
		probes: make(map[timeline.ActivityKind]bool),
	}
}

// Run starts tl. A Stop timeline tears the current generation down instead.
// Handlers that cannot be dispatched are logged and skipped.
func (o *Orchestrator) Run(ctx context.Context, tl timeline.Timeline) error {
	if tl.Status == timeline.StatusStop {
		o.log.Info().Str("timeline", tl.ID).Msg("orchestrator.Run status=stop")
		o.Shutdown()
		return nil
	}
	o.mu.Lock()
	o.ensureGeneration(ctx)
	o.probes = make(map[timeline.ActivityKind]bool)
	o.timelineID = tl.ID
	o.mu.Unlock()

	o.log.Info().Str("timeline", tl.ID).Int("handlers", len(tl.Handlers)).Msg("orchestrator.Run")
	dispatched := 0
	for _, h := range tl.Handlers {
		if _, err := o.Dispatch(h); err == nil {
			dispatched++
		}
	}
	o.startMonitor()
	o.log.Info().Str("timeline", tl.ID).Int("dispatched", dispatched).Msg("orchestrator.Run ready")
	return nil
}

// RunCommand dispatches one handler immediately, independent of the stored
// timeline. It opens a generation bound to ctx when none is active, and the
// generation's monitor covers the new job.
func (o *Orchestrator) RunCommand(ctx context.Context, h timeline.Handler) (string, error) {
	o.mu.Lock()
	o.ensureGeneration(ctx)
	o.mu.Unlock()
	h.Canonicalize()
	id, err := o.Dispatch(h)
	if err == nil {
		o.startMonitor()
	}
	return id, err
}

// Dispatch starts a worker for h in the current generation and returns its
// job id.
func (o *Orchestrator) Dispatch(h timeline.Handler) (string, error) {
	kind := h.Kind.String()
	spec, ok := o.cfg.Registry.Resolve(h.Kind)
	if !ok {
		o.log.Warn().Str("kind", kind).Msg("orchestrator.Dispatch skip reason=unregistered")
		observability.RecordDispatch(kind, "unregistered")
		return "", fmt.Errorf("%w: %s", ErrUnregisteredKind, kind)
	}
	if !o.probe(spec) {
		if o.cfg.MissingApp != MissingAppDispatch {
			o.log.Warn().Str("kind", kind).Msg("orchestrator.Dispatch skip reason=app_missing")
			observability.RecordDispatch(kind, "skipped")
			return "", fmt.Errorf("%w: %s", ErrAppMissing, kind)
		}
		o.log.Warn().Str("kind", kind).Msg("orchestrator.Dispatch app missing, dispatching anyway")
	}

	o.mu.Lock()
	if o.genCtx == nil {
		o.mu.Unlock()
		observability.RecordDispatch(kind, "rejected")
		return "", ErrNotRunning
	}
	ctx, cancel := context.WithCancel(o.genCtx)
	j := &job{
		id:          uuid.NewString(),
		handler:     h,
		processName: spec.ProcessName,
		started:     time.Now(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	o.jobs[j.id] = j
	active := len(o.jobs)
	o.mu.Unlock()

	observability.SetActiveJobs(active)
	observability.RecordDispatch(kind, "dispatched")
	o.log.Debug().Str("job", j.id).Str("kind", kind).Str("process", j.processName).Bool("loop", h.Loop).Msg("orchestrator.Dispatch")
	go o.work(ctx, j, spec)
	return j.id, nil
}

// probe runs the kind's capability probe once per Run.
func (o *Orchestrator) probe(spec activity.Spec) bool {
	if spec.Probe == nil {
		return true
	}
	o.mu.Lock()
	present, cached := o.probes[spec.Kind]
	o.mu.Unlock()
	if cached {
		return present
	}
	present = spec.Probe()
	o.mu.Lock()
	o.probes[spec.Kind] = present
	o.mu.Unlock()
	return present
}

// work runs one handler. A panic ends only this worker.
func (o *Orchestrator) work(ctx context.Context, j *job, spec activity.Spec) {
	defer close(j.done)
	defer o.reap(j)
	defer func() {
		if r := recover(); r != nil {
			observability.RecordWorkerPanic(spec.Kind.String())
			o.log.Error().
				Str("job", j.id).
				Str("kind", spec.Kind.String()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("orchestrator.work panic recovered")
		}
	}()
	if spec.Affinity {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	if o.cfg.Gate != nil {
		j.gated.Store(true)
		err := o.cfg.Gate.Wait(ctx, j.handler)
		j.gated.Store(false)
		if err != nil {
			o.log.Debug().Err(err).Str("job", j.id).Msg("orchestrator.work gate interrupted")
			return
		}
	}

	env := o.cfg.Env
	env.Logger = o.log.With().Str("job", j.id).Logger()
	runner := spec.Factory(env)
	err := runner.Run(ctx, j.handler)
	switch {
	case err == nil:
		o.log.Debug().Str("job", j.id).Str("kind", spec.Kind.String()).Msg("orchestrator.work finished")
	case errors.Is(err, context.Canceled):
		o.log.Debug().Str("job", j.id).Str("kind", spec.Kind.String()).Msg("orchestrator.work cancelled")
	default:
		o.log.Warn().Err(err).Str("job", j.id).Str("kind", spec.Kind.String()).Msg("orchestrator.work failed")
	}
}

// reap drops a finished job unless the monitor still has to keep its looping
// process alive.
func (o *Orchestrator) reap(j *job) {
	if j.handler.Loop && j.processName != "" {
		return
	}
	o.mu.Lock()
	if cur, ok := o.jobs[j.id]; ok && cur == j {
		delete(o.jobs, j.id)
	}
	active := len(o.jobs)
	o.mu.Unlock()
	j.cancel()
	observability.SetActiveJobs(active)
}

// Shutdown cancels every worker, waits briefly, then force-kills the process
// families of the tracked jobs. Shell workers reap their own process groups
// through the runner, which escalates to SIGKILL inside the grace window.
// Calling it again is a no-op.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	cancel := o.genCancel
	monitorEnd := o.monitorEnd
	jobs := make([]*job, 0, len(o.jobs))
	for _, j := range o.jobs {
		jobs = append(jobs, j)
	}
	o.genCtx, o.genCancel = nil, nil
	o.jobs = make(map[string]*job)
	o.monitoring = false
	o.monitorEnd = nil
	o.mu.Unlock()

	if cancel == nil && len(jobs) == 0 {
		return
	}
	if cancel != nil {
		cancel()
	}
	o.log.Info().Int("jobs", len(jobs)).Msg("orchestrator.Shutdown")

	for _, j := range jobs {
		j.cancel()
	}
	deadline := time.Now().Add(o.cfg.ShutdownGrace)
	for _, j := range jobs {
		wait := time.Until(deadline)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-j.done:
		case <-time.After(wait):
			o.log.Warn().Str("job", j.id).Msg("orchestrator.Shutdown worker did not stop in time")
		}
	}

	killed := make(map[timeline.ActivityKind]struct{})
	for _, j := range jobs {
		if j.processName == "" {
			continue
		}
		if _, ok := killed[j.handler.Kind]; ok {
			continue
		}
		killed[j.handler.Kind] = struct{}{}
		o.cfg.Supervisor.KillByActivityKind(j.handler.Kind)
	}
	if monitorEnd != nil {
		<-monitorEnd
	}
	observability.SetActiveJobs(0)
}

// Jobs returns the tracked jobs ordered by start time.
func (o *Orchestrator) Jobs() []JobInfo {
	o.mu.Lock()
	out := make([]JobInfo, 0, len(o.jobs))
	for _, j := range o.jobs {
		out = append(out, JobInfo{
			ID:          j.id,
			Kind:        j.handler.Kind,
			ProcessName: j.processName,
			Loop:        j.handler.Loop,
			Started:     j.started,
			Running:     !j.exited(),
			Gated:       j.gated.Load(),
		})
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, k int) bool {
		if out[i].Started.Equal(out[k].Started) {
			return out[i].ID < out[k].ID
		}
		return out[i].Started.Before(out[k].Started)
	})
	return out
}

// TimelineID returns the id of the last timeline passed to Run.
func (o *Orchestrator) TimelineID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.timelineID
}

// Running reports whether a generation is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.genCtx != nil
}

// ensureGeneration must be called with o.mu held.
func (o *Orchestrator) ensureGeneration(ctx context.Context) {
	if o.genCtx != nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	o.genCtx, o.genCancel = context.WithCancel(ctx)
}

type nopSupervisor struct{}

func (nopSupervisor) CountByName(string) int                   { return 0 }
func (nopSupervisor) ListPidsByName(string) []int32            { return nil }
func (nopSupervisor) KillTree(int32)                           {}
func (nopSupervisor) KillByActivityKind(timeline.ActivityKind) {}
