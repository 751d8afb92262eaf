package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/ghostline/internal/timeline"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidConfig = errors.New("config: invalid")

// File is the agent config document.
type File struct {
	ID                 string            `toml:"id"`
	Heartbeat          string            `toml:"heartbeat"`
	MayManageProcesses bool              `toml:"may_manage_processes"`
	BackgroundPriority bool              `toml:"background_priority"`
	TimelinePath       string            `toml:"timeline_path"`
	LogDir             string            `toml:"log_dir"`
	Kinds              []string          `toml:"kinds"`
	MonitorInterval    string            `toml:"monitor_interval"`
	ShutdownGrace      string            `toml:"shutdown_grace"`
	MissingAppPolicy   string            `toml:"missing_app_policy"`
	InstanceLimits     map[string]int    `toml:"instance_limits"`
	Listener           ListenerFile      `toml:"listener"`
	Watcher            WatcherFile       `toml:"watcher"`
	TimelineWatcher    TimelineWatchFile `toml:"timeline_watcher"`
	Updates            UpdatesFile       `toml:"updates"`
	Status             StatusFile        `toml:"status"`
	SSH                SSHFile           `toml:"ssh"`
}

type ListenerFile struct {
	Enabled       bool   `toml:"enabled"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Delimiter     int    `toml:"delimiter"`
	MaxFrameBytes int    `toml:"max_frame_bytes"`
}

type WatcherFile struct {
	Enabled      bool   `toml:"enabled"`
	InboundDir   string `toml:"inbound_dir"`
	OutboundDir  string `toml:"outbound_dir"`
	PollInterval string `toml:"poll_interval"`
}

type TimelineWatchFile struct {
	Enabled bool `toml:"enabled"`
}

type UpdatesFile struct {
	Enabled            bool    `toml:"enabled"`
	PullURL            string  `toml:"pull_url"`
	PostURL            string  `toml:"post_url"`
	TimelineURL        string  `toml:"timeline_url"`
	IDURL              string  `toml:"id_url"`
	PullInterval       string  `toml:"pull_interval"`
	PushInterval       string  `toml:"push_interval"`
	Jitter             float64 `toml:"jitter"`
	Encrypt            bool    `toml:"encrypt"`
	Key                string  `toml:"key"`
	Compress           bool    `toml:"compress"`
	CAFile             string  `toml:"ca_file"`
	InsecureSkipVerify bool    `toml:"insecure_skip_verify"`
}

type StatusFile struct {
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors_origins"`
	// Token, when set, is required as a bearer token on every route but
	// /health and /ready.
	Token string `toml:"token"`
}

type SSHFile struct {
	KeyPath             string `toml:"key_path"`
	KnownHosts          string `toml:"known_hosts"`
	InsecureSkipHostKey bool   `toml:"insecure_skip_host_key"`
	Timeout             string `toml:"timeout"`
}

// Default is the document the template renders.
func Default() File {
	return File{
		ID:                 "ghost.local",
		Heartbeat:          "1m",
		MayManageProcesses: true,
		BackgroundPriority: true,
		TimelinePath:       "config/timeline.json",
		LogDir:             "logs",
		Kinds:              []string{},
		MonitorInterval:    "30s",
		ShutdownGrace:      "2s",
		MissingAppPolicy:   "skip",
		InstanceLimits: map[string]int{
			string(timeline.KindBrowserChrome):  7,
			string(timeline.KindBrowserFirefox): 7,
		},
		Listener: ListenerFile{Enabled: true, Port: 8443, Delimiter: 0x13, MaxFrameBytes: 1 << 20},
		Watcher: WatcherFile{
			Enabled:      true,
			InboundDir:   "instance/timeline/in",
			OutboundDir:  "instance/timeline/out",
			PollInterval: "30s",
		},
		TimelineWatcher: TimelineWatchFile{Enabled: true},
		Updates: UpdatesFile{
			PullInterval: "5m",
			PushInterval: "5m",
			Jitter:       0.25,
		},
		Status: StatusFile{CORSOrigins: []string{}},
		SSH:    SSHFile{Timeout: "30s"},
	}
}

// Load strictly decodes path on top of Default and validates the result.
// Unknown keys are an error.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			keys := make([]string, 0, len(strict.Errors))
			for _, e := range strict.Errors {
				keys = append(keys, strings.Join(e.Key(), "."))
			}
			return File{}, fmt.Errorf("%w: %s: unknown keys %s", ErrInvalidConfig, path, strings.Join(keys, ", "))
		}
		return File{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return File{}, err
	}
	return cfg, nil
}

// Validate reports every problem in cfg at once.
func Validate(cfg File) error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}
	positive := func(key, raw string) {
		if d, err := time.ParseDuration(strings.TrimSpace(raw)); err != nil || d <= 0 {
			bad("%s must be a positive duration, got %q", key, raw)
		}
	}

	if strings.TrimSpace(cfg.TimelinePath) == "" {
		bad("timeline_path is required")
	}
	if strings.TrimSpace(cfg.LogDir) == "" {
		bad("log_dir is required")
	}
	positive("heartbeat", cfg.Heartbeat)
	positive("monitor_interval", cfg.MonitorInterval)
	if strings.TrimSpace(cfg.ShutdownGrace) != "" {
		positive("shutdown_grace", cfg.ShutdownGrace)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.MissingAppPolicy)) {
	case "", "skip", "dispatch":
	default:
		bad("missing_app_policy must be skip or dispatch, got %q", cfg.MissingAppPolicy)
	}
	for _, raw := range cfg.Kinds {
		if _, err := timeline.ParseActivityKind(raw); err != nil {
			bad("kinds: %v", err)
		}
	}
	for raw, limit := range cfg.InstanceLimits {
		if _, err := timeline.ParseActivityKind(raw); err != nil {
			bad("instance_limits: %v", err)
		}
		if limit < 1 {
			bad("instance_limits.%s must be >= 1, got %d", raw, limit)
		}
	}

	if cfg.Listener.Port < 0 || cfg.Listener.Port > 65535 {
		bad("listener.port out of range: %d", cfg.Listener.Port)
	}
	if cfg.Listener.Delimiter < 0 || cfg.Listener.Delimiter > 255 {
		bad("listener.delimiter must be one byte, got %d", cfg.Listener.Delimiter)
	}
	if cfg.Listener.MaxFrameBytes < 0 {
		bad("listener.max_frame_bytes must be >= 0, got %d", cfg.Listener.MaxFrameBytes)
	}
	if cfg.Watcher.Enabled {
		if strings.TrimSpace(cfg.Watcher.InboundDir) == "" || strings.TrimSpace(cfg.Watcher.OutboundDir) == "" {
			bad("watcher.inbound_dir and watcher.outbound_dir are required when the watcher is enabled")
		}
		if strings.TrimSpace(cfg.Watcher.PollInterval) != "" {
			positive("watcher.poll_interval", cfg.Watcher.PollInterval)
		}
	}
	if cfg.Updates.Enabled {
		if strings.TrimSpace(cfg.Updates.PullURL) == "" && strings.TrimSpace(cfg.Updates.PostURL) == "" {
			bad("updates.pull_url or updates.post_url is required when updates are enabled")
		}
		positive("updates.pull_interval", cfg.Updates.PullInterval)
		positive("updates.push_interval", cfg.Updates.PushInterval)
	}
	if cfg.Updates.Jitter < 0 || cfg.Updates.Jitter > 1 {
		bad("updates.jitter must be within [0,1], got %v", cfg.Updates.Jitter)
	}
	if strings.TrimSpace(cfg.SSH.Timeout) != "" {
		positive("ssh.timeout", cfg.SSH.Timeout)
	}
	return errors.Join(errs...)
}
