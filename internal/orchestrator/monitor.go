package orchestrator

import (
	"context"
	"time"

	"github.com/danmuck/ghostline/internal/observability"
	"github.com/danmuck/ghostline/internal/timeline"
)

// startMonitor starts the generation's monitor once.
func (o *Orchestrator) startMonitor() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.monitoring || o.genCtx == nil {
		return
	}
	o.monitoring = true
	end := make(chan struct{})
	o.monitorEnd = end
	go o.monitor(o.genCtx, end)
}

func (o *Orchestrator) monitor(ctx context.Context, end chan struct{}) {
	defer close(end)
	ticker := time.NewTicker(o.cfg.MonitorInterval)
	defer ticker.Stop()
	o.log.Debug().Dur("interval", o.cfg.MonitorInterval).Msg("orchestrator.monitor started")
	for {
		select {
		case <-ctx.Done():
			o.log.Debug().Msg("orchestrator.monitor stopped")
			return
		case <-ticker.C:
			o.sweep(ctx)
		}
	}
}

// sweep is one monitor pass. Looping jobs whose process is gone are revived;
// process names over their instance limit lose their oldest instances.
// Census and trimming run once per process name per pass.
func (o *Orchestrator) sweep(ctx context.Context) {
	o.mu.Lock()
	tracked := make([]*job, 0, len(o.jobs))
	for _, j := range o.jobs {
		if j.processName != "" {
			tracked = append(tracked, j)
		}
	}
	o.mu.Unlock()

	sup := o.cfg.Supervisor
	counts := make(map[string]int)
	trimmed := make(map[string]bool)
	cleaned := make(map[timeline.ActivityKind]bool)
	for _, j := range tracked {
		if ctx.Err() != nil {
			return
		}
		kind := j.handler.Kind
		name := j.processName
		count, ok := counts[name]
		if !ok {
			count = sup.CountByName(name)
			counts[name] = count
		}

		if count == 0 {
			if !j.handler.Loop || !o.revivable(j) {
				continue
			}
			if !cleaned[kind] {
				sup.KillByActivityKind(kind)
				cleaned[kind] = true
			}
			o.revive(j)
			continue
		}

		if trimmed[name] {
			continue
		}
		trimmed[name] = true
		limit := o.limitFor(kind)
		pids := sup.ListPidsByName(name)
		excess := len(pids) - limit
		if excess <= 0 {
			continue
		}
		o.log.Info().Str("kind", kind.String()).Str("process", name).Int("live", len(pids)).Int("limit", limit).Msg("orchestrator.sweep trimming")
		for _, pid := range pids[:excess] {
			sup.KillTree(pid)
		}
		observability.RecordMonitorAction(kind.String(), "trim", excess)
	}
}

// revivable holds off on workers still inside their gate or younger than one
// monitor interval, which may not have started their process yet.
func (o *Orchestrator) revivable(j *job) bool {
	if j.gated.Load() {
		return false
	}
	if j.exited() {
		return true
	}
	return time.Since(j.started) >= o.cfg.MonitorInterval
}

func (o *Orchestrator) revive(old *job) {
	o.mu.Lock()
	cur, ok := o.jobs[old.id]
	if !ok || cur != old {
		o.mu.Unlock()
		return
	}
	delete(o.jobs, old.id)
	o.mu.Unlock()
	old.cancel()

	kind := old.handler.Kind.String()
	id, err := o.Dispatch(old.handler)
	if err != nil {
		o.log.Warn().Err(err).Str("kind", kind).Str("job", old.id).Msg("orchestrator.revive failed")
		return
	}
	observability.RecordMonitorAction(kind, "revive", 1)
	o.log.Info().Str("kind", kind).Str("old_job", old.id).Str("job", id).Msg("orchestrator.revive")
}

func (o *Orchestrator) limitFor(kind timeline.ActivityKind) int {
	if n := o.cfg.InstanceLimits[kind]; n > 0 {
		return n
	}
	if spec, ok := o.cfg.Registry.Resolve(kind); ok && spec.InstanceLimit > 0 {
		return spec.InstanceLimit
	}
	return 1
}
