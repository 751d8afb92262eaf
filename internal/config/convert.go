package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/ghostline/internal/activity/ssh"
	"github.com/danmuck/ghostline/internal/ghost"
	"github.com/danmuck/ghostline/internal/orchestrator"
	"github.com/danmuck/ghostline/internal/timeline"
)

// ServiceConfig maps a validated File onto the runtime config. Fields the
// file leaves empty keep the runtime defaults.
func ServiceConfig(f File) (ghost.ServiceConfig, error) {
	if err := Validate(f); err != nil {
		return ghost.ServiceConfig{}, err
	}
	cfg := ghost.DefaultServiceConfig()
	if id := strings.TrimSpace(f.ID); id != "" {
		cfg.ID = id
	}
	cfg.HeartbeatInterval = duration(f.Heartbeat, cfg.HeartbeatInterval)
	cfg.MayManageProcesses = f.MayManageProcesses
	cfg.BackgroundPriority = f.BackgroundPriority
	cfg.TimelinePath = strings.TrimSpace(f.TimelinePath)
	cfg.LogDir = strings.TrimSpace(f.LogDir)
	cfg.Kinds = append([]string(nil), f.Kinds...)
	cfg.MonitorInterval = duration(f.MonitorInterval, cfg.MonitorInterval)
	cfg.ShutdownGrace = duration(f.ShutdownGrace, cfg.ShutdownGrace)
	if strings.EqualFold(strings.TrimSpace(f.MissingAppPolicy), string(orchestrator.MissingAppDispatch)) {
		cfg.MissingApp = orchestrator.MissingAppDispatch
	} else {
		cfg.MissingApp = orchestrator.MissingAppSkip
	}
	for raw, limit := range f.InstanceLimits {
		kind, err := timeline.ParseActivityKind(raw)
		if err != nil {
			return ghost.ServiceConfig{}, fmt.Errorf("%w: instance_limits: %v", ErrInvalidConfig, err)
		}
		cfg.InstanceLimits[kind] = limit
	}

	cfg.Listener = ghost.ListenerConfig{
		Enabled:   f.Listener.Enabled,
		Host:      strings.TrimSpace(f.Listener.Host),
		Port:      f.Listener.Port,
		Delimiter: byte(f.Listener.Delimiter),
		MaxFrame:  f.Listener.MaxFrameBytes,
	}
	cfg.Watcher = ghost.WatcherConfig{
		Enabled:      f.Watcher.Enabled,
		InboundDir:   strings.TrimSpace(f.Watcher.InboundDir),
		OutboundDir:  strings.TrimSpace(f.Watcher.OutboundDir),
		PollInterval: duration(f.Watcher.PollInterval, 0),
	}
	cfg.TimelineWatcher = f.TimelineWatcher.Enabled

	cfg.UpdatesEnabled = f.Updates.Enabled
	up := cfg.Updates
	up.PullURL = strings.TrimSpace(f.Updates.PullURL)
	up.PostURL = strings.TrimSpace(f.Updates.PostURL)
	up.TimelineURL = strings.TrimSpace(f.Updates.TimelineURL)
	up.IDURL = strings.TrimSpace(f.Updates.IDURL)
	up.PullInterval = duration(f.Updates.PullInterval, up.PullInterval)
	up.PushInterval = duration(f.Updates.PushInterval, up.PushInterval)
	up.Jitter = f.Updates.Jitter
	up.Encrypt = f.Updates.Encrypt
	up.Key = f.Updates.Key
	up.Compress = f.Updates.Compress
	up.CAFile = strings.TrimSpace(f.Updates.CAFile)
	up.InsecureSkipVerify = f.Updates.InsecureSkipVerify
	up.LogDir = cfg.LogDir
	cfg.Updates = up

	cfg.Status = ghost.StatusConfig{
		Addr:        strings.TrimSpace(f.Status.Addr),
		CORSOrigins: append([]string(nil), f.Status.CORSOrigins...),
		Token:       strings.TrimSpace(f.Status.Token),
	}
	cfg.SSH = ssh.Config{
		KeyPath:             strings.TrimSpace(f.SSH.KeyPath),
		KnownHostsPath:      strings.TrimSpace(f.SSH.KnownHosts),
		InsecureSkipHostKey: f.SSH.InsecureSkipHostKey,
		Timeout:             duration(f.SSH.Timeout, 0),
	}
	return cfg, nil
}

// duration parses raw, falling back to def when raw is empty. Callers have
// already validated raw.
func duration(raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
