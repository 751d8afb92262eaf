package inbound

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/ghostline/internal/timeline"
)

// Dispatcher runs one handler immediately.
type Dispatcher interface {
	RunCommand(ctx context.Context, h timeline.Handler) (string, error)
}

// Reloader performs the full-reload and stop actions of the local timeline
// watcher.
type Reloader interface {
	Reload(ctx context.Context) error
	Stop()
}

// DefaultDebounce is the window within which repeated notifications for one
// path count as one change. Filesystem watchers commonly deliver several
// events for a single write.
const DefaultDebounce = time.Second

// Debouncer suppresses repeat keys seen within a window of the last accepted
// occurrence.
type Debouncer struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	seen   map[string]time.Time
}

func NewDebouncer(window time.Duration, now func() time.Time) *Debouncer {
	if window <= 0 {
		window = DefaultDebounce
	}
	if now == nil {
		now = time.Now
	}
	return &Debouncer{window: window, now: now, seen: make(map[string]time.Time)}
}

// Allow reports whether key should be handled now. Suppressed calls do not
// extend the window.
func (d *Debouncer) Allow(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.now()
	if last, ok := d.seen[key]; ok && t.Sub(last) < d.window {
		return false
	}
	d.seen[key] = t
	if len(d.seen) > 256 {
		for k, last := range d.seen {
			if t.Sub(last) >= d.window {
				delete(d.seen, k)
			}
		}
	}
	return true
}
