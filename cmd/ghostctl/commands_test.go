package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/ghostline/internal/inbound"
	"github.com/danmuck/ghostline/internal/testutil/testlog"
	"github.com/danmuck/ghostline/internal/timeline"
)

type captureDispatcher struct {
	mu   sync.Mutex
	seen []timeline.Handler
}

func (d *captureDispatcher) RunCommand(_ context.Context, h timeline.Handler) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, h)
	return "job-1", nil
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTimelineValidateReportsHandlers(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "timeline.json")
	doc := `{
  // comments are allowed
  "id": "tl-1",
  "timeLineHandlers": [
    {"handlerType": "Command", "loop": true, "timeLineEvents": [{"command": "echo hi"}]},
    {"handlerType": "Curl", "utcTimeOn": "08:00:00", "utcTimeOff": "17:00:00", "timeLineEvents": []}
  ]
}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write timeline: %v", err)
	}
	out, err := execute(t, "timeline", "validate", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	for _, want := range []string{"id=tl-1", "handlers=2", "[0] Command loop=true events=1", "window=08:00:00-17:00:00"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestTimelineValidateRejectsUnknownKind(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "timeline.yaml")
	if err := os.WriteFile(path, []byte("id: bad\ntimeLineHandlers:\n  - handlerType: Teleport\n"), 0o600); err != nil {
		t.Fatalf("write timeline: %v", err)
	}
	if _, err := execute(t, "timeline", "validate", path); err == nil {
		t.Fatalf("expected unknown handler type to fail")
	}
}

func TestSendDeliversHandlerAndPrintsEcho(t *testing.T) {
	log := testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	dispatch := &captureDispatcher{}
	l := inbound.NewSocketListener(inbound.SocketConfig{Port: 1, Logger: log}, dispatch)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.ServeListener(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	path := filepath.Join(t.TempDir(), "handler.json")
	if err := os.WriteFile(path, []byte(`{"handlerType":"Command","timeLineEvents":[{"command":"whoami"}]}`), 0o600); err != nil {
		t.Fatalf("write handler: %v", err)
	}
	out, err := execute(t, "send", path, "--addr", ln.Addr().String(), "--timeout", (3 * time.Second).String())
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(out, `"handlerType":"Command"`) || !strings.Contains(out, "whoami") {
		t.Fatalf("unexpected echo: %q", out)
	}

	dispatch.mu.Lock()
	defer dispatch.mu.Unlock()
	if len(dispatch.seen) != 1 || dispatch.seen[0].Events[0].TrackableID == "" {
		t.Fatalf("expected one canonicalized dispatch, got %+v", dispatch.seen)
	}
}
