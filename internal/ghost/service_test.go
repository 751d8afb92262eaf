package ghost

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/ghostline/internal/activity/ssh"
	"github.com/danmuck/ghostline/internal/testutil/testlog"
	"github.com/danmuck/ghostline/internal/timeline"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testServiceConfig(t *testing.T) ServiceConfig {
	t.Helper()
	root := t.TempDir()
	cfg := DefaultServiceConfig()
	cfg.Logger = testlog.Start(t)
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.MayManageProcesses = false
	cfg.BackgroundPriority = false
	cfg.TimelinePath = filepath.Join(root, "config", "timeline.json")
	cfg.LogDir = filepath.Join(root, "logs")
	cfg.MonitorInterval = time.Hour
	cfg.Listener.Enabled = false
	cfg.Watcher.InboundDir = filepath.Join(root, "in")
	cfg.Watcher.OutboundDir = filepath.Join(root, "out")
	cfg.Watcher.PollInterval = 100 * time.Millisecond
	cfg.Kinds = []string{"Command"}
	return cfg
}

func saveTimeline(t *testing.T, path, id, word string) {
	t.Helper()
	tl := timeline.Timeline{
		ID:     id,
		Status: timeline.StatusRun,
		Handlers: []timeline.Handler{{
			Kind:   timeline.KindCommand,
			Events: []timeline.Event{{Command: "echo", Args: []any{word}}},
		}},
	}
	if err := timeline.NewStore(path).Save(tl); err != nil {
		t.Fatalf("save timeline: %v", err)
	}
}

func readResults(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func TestBuildBuiltinRegistry(t *testing.T) {
	testlog.Start(t)
	all, err := buildBuiltinRegistry(nil, ssh.Config{})
	if err != nil {
		t.Fatalf("build all: %v", err)
	}
	if all.Len() != 12 {
		t.Fatalf("expected 12 builtin kinds, got %d", all.Len())
	}
	if _, ok := all.Resolve(timeline.KindBrowserChrome); !ok {
		t.Fatalf("chrome runner missing")
	}

	subset, err := buildBuiltinRegistry([]string{"bash", "Curl", "bash", " "}, ssh.Config{})
	if err != nil {
		t.Fatalf("build subset: %v", err)
	}
	if subset.Len() != 2 {
		t.Fatalf("expected 2 kinds, got %d", subset.Len())
	}

	if _, err := buildBuiltinRegistry([]string{"Reboot"}, ssh.Config{}); !errors.Is(err, ErrUnknownBuiltinKind) {
		t.Fatalf("expected ErrUnknownBuiltinKind, got %v", err)
	}
	if _, err := buildBuiltinRegistry([]string{"Teleport"}, ssh.Config{}); !errors.Is(err, timeline.ErrUnknownActivityKind) {
		t.Fatalf("expected ErrUnknownActivityKind, got %v", err)
	}
}

func TestBootstrapValidation(t *testing.T) {
	cfg := testServiceConfig(t)
	cfg.HeartbeatInterval = 0
	if err := NewServiceWithConfig(cfg).RunContext(context.Background()); !errors.Is(err, ErrInvalidHeartbeatInterval) {
		t.Fatalf("expected ErrInvalidHeartbeatInterval, got %v", err)
	}
	cfg = testServiceConfig(t)
	cfg.TimelinePath = " "
	if err := NewServiceWithConfig(cfg).RunContext(context.Background()); !errors.Is(err, ErrTimelinePathRequired) {
		t.Fatalf("expected ErrTimelinePathRequired, got %v", err)
	}
	if err := NewServiceWithConfig(testServiceConfig(t)).Reload(context.Background()); !errors.Is(err, ErrNotBootstrapped) {
		t.Fatalf("expected ErrNotBootstrapped, got %v", err)
	}
}

func TestServiceRunsTimelineReloadsAndStops(t *testing.T) {
	cfg := testServiceConfig(t)
	saveTimeline(t, cfg.TimelinePath, "tl-first", "first-run")
	svc := NewServiceWithConfig(cfg)
	results := filepath.Join(cfg.LogDir, "clientupdates.log")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.RunContext(ctx) }()

	waitFor(t, "first timeline results", func() bool {
		return strings.Contains(readResults(results), "first-run")
	})
	if id := svc.Orchestrator().TimelineID(); id != "tl-first" {
		t.Fatalf("unexpected timeline id %q", id)
	}

	// the watcher may still be registering; rewrite until the reload lands
	reloaded := false
	for attempt := 0; attempt < 3 && !reloaded; attempt++ {
		saveTimeline(t, cfg.TimelinePath, "tl-second", "second-run")
		deadline := time.Now().Add(4 * time.Second)
		for time.Now().Before(deadline) {
			if svc.Orchestrator().TimelineID() == "tl-second" {
				reloaded = true
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
	}
	if !reloaded {
		t.Fatalf("changed timeline was not reloaded")
	}
	waitFor(t, "second timeline results", func() bool {
		return strings.Contains(readResults(results), "second-run")
	})

	stop := filepath.Join(filepath.Dir(cfg.TimelinePath), "stop.txt")
	if err := os.WriteFile(stop, []byte("stop"), 0o644); err != nil {
		t.Fatalf("write stop file: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("service did not stop on stop file")
	}
	if svc.Orchestrator().Running() {
		t.Fatalf("orchestrator still running after stop")
	}
}

func TestServiceDispatchesDroppedTimeline(t *testing.T) {
	cfg := testServiceConfig(t)
	cfg.TimelineWatcher = false
	svc := NewServiceWithConfig(cfg)
	results := filepath.Join(cfg.LogDir, "clientupdates.log")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunContext(ctx) }()

	if err := os.MkdirAll(cfg.Watcher.InboundDir, 0o755); err != nil {
		t.Fatalf("mkdir inbound: %v", err)
	}
	doc := `{"timeLineHandlers":[{"handlerType":"Command","timeLineEvents":[{"command":"echo","commandArgs":["dropped"]}]}]}`
	staged := filepath.Join(t.TempDir(), "drop.json")
	if err := os.WriteFile(staged, []byte(doc), 0o644); err != nil {
		t.Fatalf("stage drop: %v", err)
	}
	if err := os.Rename(staged, filepath.Join(cfg.Watcher.InboundDir, "drop.json")); err != nil {
		// cross-device temp dirs fall back to a direct write
		if err := os.WriteFile(filepath.Join(cfg.Watcher.InboundDir, "drop.json"), []byte(doc), 0o644); err != nil {
			t.Fatalf("drop: %v", err)
		}
	}

	waitFor(t, "dropped timeline results", func() bool {
		return strings.Contains(readResults(results), "dropped")
	})
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("service did not stop on cancel")
	}
}
