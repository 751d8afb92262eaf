package ghost

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/ghostline/internal/activity"
	"github.com/danmuck/ghostline/internal/activity/ssh"
	"github.com/danmuck/ghostline/internal/inbound"
	"github.com/danmuck/ghostline/internal/orchestrator"
	"github.com/danmuck/ghostline/internal/procs"
	"github.com/danmuck/ghostline/internal/server"
	"github.com/danmuck/ghostline/internal/timeline"
	"github.com/danmuck/ghostline/internal/tools"
	"github.com/danmuck/ghostline/internal/updates"
	"github.com/danmuck/ghostline/internal/workhours"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidHeartbeatInterval = errors.New("ghost: invalid heartbeat interval")
	ErrTimelinePathRequired     = errors.New("ghost: timeline path required")
	ErrNotBootstrapped          = errors.New("ghost: service not bootstrapped")
)

// ListenerConfig configures the socket channel.
type ListenerConfig struct {
	Enabled   bool
	Host      string
	Port      int
	Delimiter byte
	// MaxFrame caps one socket message in bytes; 0 keeps the listener default.
	MaxFrame int
}

// WatcherConfig configures the inbound directory channel.
type WatcherConfig struct {
	Enabled      bool
	InboundDir   string
	OutboundDir  string
	PollInterval time.Duration
}

// StatusConfig configures the local status surface. An empty Addr disables it.
type StatusConfig struct {
	Addr        string
	CORSOrigins []string
	Token       string
}

// ServiceConfig configures the agent runtime.
type ServiceConfig struct {
	ID                 string
	Version            string
	HeartbeatInterval  time.Duration
	MayManageProcesses bool
	BackgroundPriority bool
	TimelinePath       string
	LogDir             string
	// Kinds selects the builtin runners; empty registers all of them.
	Kinds           []string
	MonitorInterval time.Duration
	ShutdownGrace   time.Duration
	MissingApp      orchestrator.MissingAppPolicy
	InstanceLimits  map[timeline.ActivityKind]int
	Listener        ListenerConfig
	Watcher         WatcherConfig
	TimelineWatcher bool
	UpdatesEnabled  bool
	Updates         updates.Config
	Status          StatusConfig
	SSH             ssh.Config
	Logger          zerolog.Logger
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ID:                 "ghost.local",
		Version:            "dev",
		HeartbeatInterval:  time.Minute,
		MayManageProcesses: true,
		BackgroundPriority: true,
		TimelinePath:       filepath.Join("config", "timeline.json"),
		LogDir:             "logs",
		MonitorInterval:    30 * time.Second,
		ShutdownGrace:      2 * time.Second,
		MissingApp:         orchestrator.MissingAppSkip,
		InstanceLimits:     make(map[timeline.ActivityKind]int),
		Listener: ListenerConfig{
			Enabled:   true,
			Port:      8443,
			Delimiter: inbound.DefaultDelimiter,
		},
		Watcher: WatcherConfig{
			Enabled:     true,
			InboundDir:  filepath.Join("instance", "timeline", "in"),
			OutboundDir: filepath.Join("instance", "timeline", "out"),
		},
		TimelineWatcher: true,
		Updates:         updates.DefaultConfig(),
		Logger:          zerolog.Nop(),
	}
}

// Service wires the orchestrator to its inputs and runs until signalled.
type Service struct {
	cfg ServiceConfig
	log zerolog.Logger

	store    *timeline.Store
	registry *activity.Registry
	sup      *procs.Supervisor
	orch     *orchestrator.Orchestrator
	socket   *inbound.SocketListener
	updates  *updates.Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewService builds a service with default config.
func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	if cfg.InstanceLimits == nil {
		cfg.InstanceLimits = make(map[timeline.ActivityKind]int)
	}
	if cfg.Updates.LogDir == "" {
		cfg.Updates.LogDir = cfg.LogDir
	}
	if cfg.Updates.Version == "" {
		cfg.Updates.Version = cfg.Version
	}
	return &Service{cfg: cfg, log: cfg.Logger}
}

// Run blocks until SIGINT/SIGTERM, the stop file, or a fatal bootstrap error.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext is Run bound to ctx instead of process signals.
func (s *Service) RunContext(ctx context.Context) error {
	if err := s.bootstrap(); err != nil {
		return err
	}
	return s.serve(ctx)
}

func (s *Service) bootstrap() error {
	if s.cfg.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	if strings.TrimSpace(s.cfg.TimelinePath) == "" {
		return ErrTimelinePathRequired
	}
	if s.cfg.BackgroundPriority {
		if err := procs.LowerPriority(); err != nil {
			s.log.Warn().Err(err).Msg("ghost.Service.bootstrap lower priority failed")
		}
	}

	registry, err := buildBuiltinRegistry(s.cfg.Kinds, s.cfg.SSH)
	if err != nil {
		return err
	}

	supCfg := procs.DefaultConfig()
	supCfg.Enabled = s.cfg.MayManageProcesses
	supCfg.Logger = s.log.With().Str("component", "procs").Logger()
	sup := procs.New(supCfg)
	sup.Cleanup(registry.Kinds())

	gateCfg := workhours.DefaultConfig()
	gateCfg.Logger = s.log.With().Str("component", "workhours").Logger()

	runner := tools.ExecRunner{Grace: s.cfg.ShutdownGrace / 2}
	env := activity.Env{
		Logger:  s.log.With().Str("component", "activity").Logger(),
		Results: activity.OpenResultSink(s.resultsPath()),
		Exec:    runner,
		Starter: runner,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}

	s.store = timeline.NewStore(s.cfg.TimelinePath)
	s.registry = registry
	s.sup = sup
	s.orch = orchestrator.New(orchestrator.Config{
		Registry:        registry,
		Supervisor:      sup,
		Gate:            workhours.New(gateCfg),
		Env:             env,
		MonitorInterval: s.cfg.MonitorInterval,
		ShutdownGrace:   s.cfg.ShutdownGrace,
		InstanceLimits:  s.cfg.InstanceLimits,
		MissingApp:      s.cfg.MissingApp,
		Logger:          s.log.With().Str("component", "orchestrator").Logger(),
	})

	s.log.Info().
		Str("id", s.cfg.ID).
		Int("kinds", registry.Len()).
		Bool("may_manage_processes", s.cfg.MayManageProcesses).
		Str("timeline", s.cfg.TimelinePath).
		Msg("ghost.Service.bootstrap ready")
	return nil
}

func (s *Service) resultsPath() string {
	name := s.cfg.Updates.ResultsFile
	if name == "" {
		name = updates.DefaultResultsFile
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.cfg.LogDir, name)
}

func (s *Service) serve(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if tl, err := s.store.Load(); err != nil {
		s.log.Warn().Err(err).Msg("ghost.Service.serve no timeline to run")
	} else if err := s.orch.Run(ctx, tl); err != nil {
		s.log.Warn().Err(err).Msg("ghost.Service.serve timeline run failed")
	}

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				s.log.Error().Err(err).Str("component", name).Msg("ghost.Service.serve component stopped")
			}
		}()
	}
	s.startChannels(start)

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("ghost.Service.serve shutdown")
			s.orch.Shutdown()
			wg.Wait()
			return nil
		case <-ticker.C:
			s.heartbeat()
		}
	}
}

func (s *Service) startChannels(start func(string, func(context.Context) error)) {
	if s.cfg.Listener.Enabled && s.cfg.Listener.Port > 0 {
		s.socket = inbound.NewSocketListener(inbound.SocketConfig{
			Host:      s.cfg.Listener.Host,
			Port:      s.cfg.Listener.Port,
			Delimiter: s.cfg.Listener.Delimiter,
			MaxFrame:  s.cfg.Listener.MaxFrame,
			Logger:    s.log.With().Str("component", "socket").Logger(),
		}, s.orch)
		start("socket", s.socket.Serve)
	}
	if s.cfg.Watcher.Enabled {
		dir := inbound.DefaultDirectoryConfig()
		dir.InboundDir = s.cfg.Watcher.InboundDir
		dir.OutboundDir = s.cfg.Watcher.OutboundDir
		if s.cfg.Watcher.PollInterval > 0 {
			dir.PollInterval = s.cfg.Watcher.PollInterval
		}
		dir.Logger = s.log.With().Str("component", "directory").Logger()
		start("directory", inbound.NewDirectoryWatcher(dir, s.orch).Run)
	}
	if s.cfg.TimelineWatcher {
		start("timeline_watcher", inbound.NewTimelineWatcher(inbound.TimelineWatcherConfig{
			Path:   s.cfg.TimelinePath,
			Logger: s.log.With().Str("component", "timeline_watcher").Logger(),
		}, s).Run)
	}
	if s.cfg.UpdatesEnabled {
		upCfg := s.cfg.Updates
		upCfg.Logger = s.log.With().Str("component", "updates").Logger()
		s.updates = updates.New(upCfg, s.store, s.orch)
		start("updates", s.updates.Run)
	}
	if strings.TrimSpace(s.cfg.Status.Addr) != "" {
		srv := server.New(server.Config{
			Addr:        s.cfg.Status.Addr,
			AgentID:     s.cfg.ID,
			CORSOrigins: s.cfg.Status.CORSOrigins,
			Token:       s.cfg.Status.Token,
			Version:     s.cfg.Version,
			Logger:      s.log.With().Str("component", "status").Logger(),
		}, s.orch, s.store)
		start("status", srv.Serve)
	}
}

func (s *Service) heartbeat() {
	event := s.log.Info().
		Str("id", s.cfg.ID).
		Str("timeline", s.orch.TimelineID()).
		Bool("running", s.orch.Running()).
		Int("jobs", len(s.orch.Jobs()))
	if s.socket != nil {
		event = event.Str("listener", s.socket.Addr())
	}
	event.Msg("ghost.Service.heartbeat")
}

// Reload tears the current generation down and runs the stored timeline
// afresh.
func (s *Service) Reload(ctx context.Context) error {
	if s.orch == nil {
		return ErrNotBootstrapped
	}
	s.log.Info().Msg("ghost.Service.Reload")
	s.orch.Shutdown()
	s.sup.Cleanup(s.registry.Kinds())
	tl, err := s.store.Load()
	if err != nil {
		return err
	}
	return s.orch.Run(ctx, tl)
}

// Stop ends a running serve loop.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	s.log.Info().Msg("ghost.Service.Stop")
	if cancel != nil {
		cancel()
	}
}

// Orchestrator is nil until bootstrap.
func (s *Service) Orchestrator() *orchestrator.Orchestrator {
	return s.orch
}

func (s *Service) Store() *timeline.Store {
	return s.store
}

func (s *Service) Registry() *activity.Registry {
	return s.registry
}
