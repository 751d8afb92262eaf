package inbound

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/ghostline/internal/testutil/testlog"
	"github.com/danmuck/ghostline/internal/timeline"
)

const droppedTimeline = `{
  // dropped by an operator
  "id": "drop-1",
  "status": "Run",
  "timeLineHandlers": [
    {"handlerType": "Command", "timeLineEvents": [{"command": "echo", "commandArgs": ["hi"]}]},
    {"handlerType": "Curl", "timeLineEvents": [{"command": "curl", "commandArgs": ["https://example.com"]}]}
  ]
}`

func newTestDirectoryWatcher(t *testing.T, d Dispatcher, now func() time.Time) (*DirectoryWatcher, string, string) {
	t.Helper()
	root := t.TempDir()
	in := filepath.Join(root, "in")
	out := filepath.Join(root, "out")
	for _, dir := range []string{in, out} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	w := NewDirectoryWatcher(DirectoryConfig{
		InboundDir:   in,
		OutboundDir:  out,
		Settle:       20 * time.Millisecond,
		PollInterval: time.Hour,
		Now:          now,
		Logger:       testlog.Start(t),
	}, d)
	return w, in, out
}

func outboundNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read outbound: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestDuplicateNotificationsDispatchOnce(t *testing.T) {
	d := &recordingDispatcher{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w, in, out := newTestDirectoryWatcher(t, d, func() time.Time { return now })

	path := filepath.Join(in, "drop.json")
	if err := os.WriteFile(path, []byte(droppedTimeline), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := w.Handle(context.Background(), path); got != OutcomeDispatched {
		t.Fatalf("first notification: %s", got)
	}

	// the same name dropped again within the window, e.g. a second event
	// racing the move
	if err := os.WriteFile(path, []byte(droppedTimeline), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	now = now.Add(300 * time.Millisecond)
	if got := w.Handle(context.Background(), path); got != OutcomeDuplicate {
		t.Fatalf("second notification: %s", got)
	}
	if d.count() != 2 {
		t.Fatalf("expected the two handlers of one timeline, got %d dispatches", d.count())
	}
	for _, h := range d.handlers {
		if h.Events[0].TrackableID == "" {
			t.Fatalf("dispatched handler is not canonical: %+v", h)
		}
	}

	names := outboundNames(t, out)
	want := ProcessedName(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), "drop.json")
	if len(names) != 1 || names[0] != want {
		t.Fatalf("expected %s in outbound, got %v", want, names)
	}
}

func TestGrowingFileIsReadOnceComplete(t *testing.T) {
	d := &recordingDispatcher{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w, in, out := newTestDirectoryWatcher(t, d, func() time.Time { return now })
	w.cfg.Settle = 150 * time.Millisecond

	path := filepath.Join(in, "slow.json")
	half := len(droppedTimeline) / 2
	if err := os.WriteFile(path, []byte(droppedTimeline[:half]), 0o644); err != nil {
		t.Fatalf("write first half: %v", err)
	}

	result := make(chan string, 1)
	go func() { result <- w.Handle(context.Background(), path) }()

	time.Sleep(50 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := f.WriteString(droppedTimeline[half:]); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case got := <-result:
		if got != OutcomeDispatched {
			t.Fatalf("expected the completed file to dispatch, got %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("handle did not return")
	}
	if d.count() != 2 {
		t.Fatalf("expected both handlers from one read, got %d", d.count())
	}
	if got := w.Handle(context.Background(), path); got != OutcomeMissing {
		t.Fatalf("a later notification for the moved file must be a no-op, got %s", got)
	}
	if names := outboundNames(t, out); len(names) != 1 {
		t.Fatalf("expected one moved file, got %v", names)
	}
}

func TestLegacyScriptIsTranslated(t *testing.T) {
	d := &recordingDispatcher{}
	w, in, out := newTestDirectoryWatcher(t, d, time.Now)

	script := strings.Join([]string{
		`driver.Navigate().GoToUrl("https://example.com/");`,
		`driver.FindElement(By.Id("login")).Click();`,
		`driver.Quit();`,
	}, "\n")
	path := filepath.Join(in, "recorded.cs")
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := w.Handle(context.Background(), path); got != OutcomeDispatched {
		t.Fatalf("unexpected outcome: %s", got)
	}
	if d.count() != 1 {
		t.Fatalf("expected one synthetic handler, got %d", d.count())
	}
	h := d.last()
	if h.Kind != timeline.KindBrowserFirefox || h.Loop || len(h.Events) != 2 {
		t.Fatalf("unexpected translated handler: %+v", h)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("script must leave the inbound folder")
	}
	if len(outboundNames(t, out)) != 1 {
		t.Fatalf("script must land in outbound")
	}
}

func TestMalformedAndUnknownFilesAreStillMoved(t *testing.T) {
	d := &recordingDispatcher{}
	w, in, out := newTestDirectoryWatcher(t, d, time.Now)

	files := map[string]string{
		"broken.json": `{"timeLineHandlers": [`,
		"notes.txt":   "hello",
		"empty.json":  "",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(in, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	w.Scan(context.Background())

	if d.count() != 0 {
		t.Fatalf("nothing should dispatch, got %d", d.count())
	}
	if n := len(outboundNames(t, out)); n != 2 {
		t.Fatalf("expected broken.json and notes.txt moved, got %d", n)
	}
	if _, err := os.Stat(filepath.Join(in, "empty.json")); err != nil {
		t.Fatalf("empty file must wait for its content: %v", err)
	}
}

func TestDirectoryWatcherPicksUpDroppedFile(t *testing.T) {
	d := &recordingDispatcher{}
	w, in, out := newTestDirectoryWatcher(t, d, time.Now)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()
	time.Sleep(100 * time.Millisecond)

	staged := filepath.Join(filepath.Dir(in), "staged.json")
	if err := os.WriteFile(staged, []byte(droppedTimeline), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Rename(staged, filepath.Join(in, "live.json")); err != nil {
		t.Fatalf("rename: %v", err)
	}
	waitFor(t, "dispatch from watcher", func() bool { return d.count() == 2 })
	waitFor(t, "file moved", func() bool { return len(outboundNames(t, out)) == 1 })
}
