package procs

import (
	"errors"
	"os"
	"sort"
	"time"

	"github.com/danmuck/ghostline/internal/observability"
	"github.com/danmuck/ghostline/internal/timeline"
	"github.com/rs/zerolog"
)

// Config configures a Supervisor.
type Config struct {
	// Enabled is the "may manage processes" switch. When false every kill
	// operation is a logged no-op; census calls still work.
	Enabled      bool
	Grace        time.Duration
	PollInterval time.Duration
	Table        Table
	SelfPID      int32
	Logger       zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Grace:        2 * time.Second,
		PollInterval: 100 * time.Millisecond,
		Table:        HostTable{},
		SelfPID:      int32(os.Getpid()),
		Logger:       zerolog.Nop(),
	}
}

// Supervisor counts and terminates host process trees. Failures are logged,
// never returned.
type Supervisor struct {
	cfg Config
	log zerolog.Logger
}

func New(cfg Config) *Supervisor {
	def := DefaultConfig()
	if cfg.Table == nil {
		cfg.Table = def.Table
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.SelfPID == 0 {
		cfg.SelfPID = def.SelfPID
	}
	return &Supervisor{cfg: cfg, log: cfg.Logger}
}

func (s *Supervisor) Enabled() bool {
	return s.cfg.Enabled
}

// CountByName returns the number of live processes named name.
func (s *Supervisor) CountByName(name string) int {
	return len(s.ListByName(name))
}

// ListByName returns live processes named name, oldest first.
func (s *Supervisor) ListByName(name string) []Proc {
	all, err := s.cfg.Table.List()
	if err != nil {
		s.log.Warn().Err(err).Str("name", name).Msg("procs.ListByName census failed")
		return nil
	}
	out := make([]Proc, 0)
	for _, p := range all {
		if sameName(p.Name, name) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].PID < out[j].PID
		}
		return out[i].Started.Before(out[j].Started)
	})
	return out
}

// ListPidsByName returns live pids named name, oldest first.
func (s *Supervisor) ListPidsByName(name string) []int32 {
	procs := s.ListByName(name)
	out := make([]int32, 0, len(procs))
	for _, p := range procs {
		out = append(out, p.PID)
	}
	return out
}

// KillTree terminates pid and every descendant, descendants first.
func (s *Supervisor) KillTree(pid int32) {
	if !s.cfg.Enabled {
		s.log.Debug().Int32("pid", pid).Msg("procs.KillTree skipped reason=disabled")
		return
	}
	all, err := s.cfg.Table.List()
	if err != nil {
		s.log.Warn().Err(err).Int32("pid", pid).Msg("procs.KillTree census failed")
		all = nil
	}
	s.killOrdered(s.treeOrder(pid, childIndex(all)))
}

// KillByName terminates every process named name along with its descendants.
func (s *Supervisor) KillByName(name string) {
	if !s.cfg.Enabled {
		s.log.Debug().Str("name", name).Msg("procs.KillByName skipped reason=disabled")
		return
	}
	all, err := s.cfg.Table.List()
	if err != nil {
		s.log.Warn().Err(err).Str("name", name).Msg("procs.KillByName census failed")
		return
	}
	children := childIndex(all)
	seen := make(map[int32]struct{})
	order := make([]int32, 0)
	for _, p := range all {
		if !sameName(p.Name, name) {
			continue
		}
		for _, pid := range s.treeOrder(p.PID, children) {
			if _, dup := seen[pid]; dup {
				continue
			}
			seen[pid] = struct{}{}
			order = append(order, pid)
		}
	}
	if len(order) == 0 {
		return
	}
	s.log.Debug().Str("name", name).Int("targets", len(order)).Msg("procs.KillByName")
	s.killOrdered(order)
}

// KillByActivityKind terminates the whole native process family of kind,
// e.g. both the browser and its automation driver.
func (s *Supervisor) KillByActivityKind(kind timeline.ActivityKind) {
	for _, name := range ProcessNames(kind) {
		s.KillByName(name)
	}
}

// Cleanup terminates the process families of kinds. Used at startup and on
// full reload so no stray instance survives into the next generation.
func (s *Supervisor) Cleanup(kinds []timeline.ActivityKind) {
	if !s.cfg.Enabled {
		return
	}
	seen := make(map[string]struct{})
	for _, kind := range kinds {
		for _, name := range ProcessNames(kind) {
			key := normalizeName(name)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			s.KillByName(name)
		}
	}
}

func childIndex(all []Proc) map[int32][]int32 {
	out := make(map[int32][]int32, len(all))
	for _, p := range all {
		if p.PID == p.PPID {
			continue
		}
		out[p.PPID] = append(out[p.PPID], p.PID)
	}
	return out
}

// treeOrder returns the subtree rooted at root in post-order, excluding the
// supervisor's own pid at any depth.
func (s *Supervisor) treeOrder(root int32, children map[int32][]int32) []int32 {
	out := make([]int32, 0)
	visited := make(map[int32]struct{})
	var walk func(pid int32)
	walk = func(pid int32) {
		if _, ok := visited[pid]; ok {
			return
		}
		visited[pid] = struct{}{}
		if pid == s.cfg.SelfPID {
			s.log.Warn().Int32("pid", pid).Msg("procs.KillTree refusing to target own process")
			return
		}
		for _, child := range children[pid] {
			walk(child)
		}
		out = append(out, pid)
	}
	if root <= 0 {
		return out
	}
	walk(root)
	return out
}

// killOrdered escalates graceful -> forced -> release across the ordered
// pids, keeping the order within every stage.
func (s *Supervisor) killOrdered(order []int32) {
	if len(order) == 0 {
		return
	}
	pending := make([]int32, 0, len(order))
	for _, pid := range order {
		if s.signal(pid, StageGraceful) {
			pending = append(pending, pid)
		}
	}
	pending = s.waitExit(pending, s.cfg.Grace)
	for _, pid := range pending {
		s.signal(pid, StageForced)
	}
	s.waitExit(pending, s.cfg.PollInterval)
	for _, pid := range order {
		if err := s.cfg.Table.Release(pid); err != nil {
			s.log.Debug().Err(err).Int32("pid", pid).Msg("procs.release failed")
		}
	}
}

// signal reports whether pid may still be alive after the attempt.
func (s *Supervisor) signal(pid int32, stage Stage) bool {
	err := s.cfg.Table.Signal(pid, stage)
	switch {
	case err == nil:
		observability.RecordProcessKill(string(stage), true)
		return true
	case errors.Is(err, ErrProcessGone):
		s.log.Debug().Int32("pid", pid).Str("stage", string(stage)).Msg("procs.signal process already exited")
		return false
	default:
		observability.RecordProcessKill(string(stage), false)
		s.log.Warn().Err(err).Int32("pid", pid).Str("stage", string(stage)).Msg("procs.signal failed")
		return true
	}
}

// waitExit polls until every pid has exited or wait elapses, returning the
// pids still alive.
func (s *Supervisor) waitExit(pids []int32, wait time.Duration) []int32 {
	deadline := time.Now().Add(wait)
	for {
		alive := pids[:0:0]
		for _, pid := range pids {
			if s.cfg.Table.Alive(pid) {
				alive = append(alive, pid)
			}
		}
		if len(alive) == 0 || !time.Now().Before(deadline) {
			return alive
		}
		pids = alive
		time.Sleep(s.cfg.PollInterval)
	}
}
