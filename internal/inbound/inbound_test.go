package inbound

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/ghostline/internal/testutil/testlog"
	"github.com/danmuck/ghostline/internal/timeline"
)

// recordingDispatcher captures every dispatched handler.
type recordingDispatcher struct {
	mu       sync.Mutex
	handlers []timeline.Handler
}

func (d *recordingDispatcher) RunCommand(_ context.Context, h timeline.Handler) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
	return "job", nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers)
}

func (d *recordingDispatcher) last() timeline.Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers[len(d.handlers)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDebouncerSuppressesWithinWindow(t *testing.T) {
	testlog.Start(t)
	now := time.Unix(1_700_000_000, 0)
	d := NewDebouncer(time.Second, func() time.Time { return now })

	if !d.Allow("/in/a.json") {
		t.Fatalf("first notification must pass")
	}
	now = now.Add(400 * time.Millisecond)
	if d.Allow("/in/a.json") {
		t.Fatalf("duplicate within window must be suppressed")
	}
	if !d.Allow("/in/b.json") {
		t.Fatalf("other paths are independent")
	}
	now = now.Add(700 * time.Millisecond)
	if !d.Allow("/in/a.json") {
		t.Fatalf("suppressed calls must not extend the window")
	}
}
