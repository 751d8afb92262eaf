package workhours

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/ghostline/internal/testutil/testlog"
	"github.com/danmuck/ghostline/internal/timeline"
)

// fakeClock advances its own time by exactly the requested sleep.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.slept += d
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func utcAt(h, m int) time.Time {
	return time.Date(2026, 3, 14, h, m, 0, 0, time.UTC)
}

func newExactGate(t *testing.T, clock Clock) *Gate {
	return New(Config{Fuzz: 0, Slice: 5 * time.Minute, Clock: clock, Logger: testlog.Start(t)})
}

func TestWaitWrappedWindowDoesNotBlock(t *testing.T) {
	clock := &fakeClock{now: utcAt(0, 30)}
	g := newExactGate(t, clock)
	h := timeline.Handler{Kind: timeline.KindCommand, ActiveFrom: timeline.Clock(2, 0, 0), ActiveUntil: timeline.Clock(1, 0, 0)}

	if err := g.Wait(context.Background(), h); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if clock.slept != 0 {
		t.Fatalf("expected no blocking inside wrapped window, slept %v", clock.slept)
	}
}

func TestWaitBlocksUntilWindowOpens(t *testing.T) {
	clock := &fakeClock{now: utcAt(20, 0)}
	g := newExactGate(t, clock)
	h := timeline.Handler{Kind: timeline.KindCommand, ActiveFrom: timeline.Clock(9, 0, 0), ActiveUntil: timeline.Clock(17, 0, 0)}

	if err := g.Wait(context.Background(), h); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := timeline.Of(clock.Now()); got != timeline.Clock(9, 0, 0) {
		t.Fatalf("expected release at 09:00:00, got %s", got)
	}
	if clock.slept != 13*time.Hour {
		t.Fatalf("expected 13h of sleep, got %v", clock.slept)
	}
}

func TestWaitAlwaysActiveWhenUnset(t *testing.T) {
	clock := &fakeClock{now: utcAt(3, 0)}
	g := newExactGate(t, clock)
	if err := g.Wait(context.Background(), timeline.Handler{Kind: timeline.KindBash}); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if clock.slept != 0 {
		t.Fatalf("unset window must not block, slept %v", clock.slept)
	}
}

type stuckClock struct{ now time.Time }

func (c stuckClock) Now() time.Time                         { return c.now }
func (c stuckClock) After(d time.Duration) <-chan time.Time { return make(chan time.Time) }

func TestWaitHonorsCancellation(t *testing.T) {
	g := newExactGate(t, stuckClock{now: utcAt(20, 0)})
	h := timeline.Handler{ActiveFrom: timeline.Clock(9, 0, 0), ActiveUntil: timeline.Clock(17, 0, 0)}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Wait(ctx, h)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWindowFuzzStaysWithinBounds(t *testing.T) {
	g := New(Config{Fuzz: 30 * time.Minute, Rand: rand.New(rand.NewSource(7)), Logger: testlog.Start(t)})
	from := timeline.Clock(9, 0, 0)
	until := timeline.Clock(17, 0, 0)
	for i := 0; i < 200; i++ {
		w, always := g.Window(from, until)
		if always {
			t.Fatalf("window should not be always-active")
		}
		if w.From < from-timeline.TimeOfDay(30*time.Minute) || w.From > from+timeline.TimeOfDay(30*time.Minute) {
			t.Fatalf("from fuzzed out of bounds: %s", w.From)
		}
		if w.Until < until-timeline.TimeOfDay(30*time.Minute) || w.Until > until+timeline.TimeOfDay(30*time.Minute) {
			t.Fatalf("until fuzzed out of bounds: %s", w.Until)
		}
	}
}

func TestWindowFuzzWrapsAcrossMidnight(t *testing.T) {
	g := New(Config{Fuzz: 0, Logger: testlog.Start(t)})
	w, _ := g.Window(timeline.Clock(22, 0, 0), timeline.Clock(24, 0, 0))
	if !w.Wraps() {
		t.Fatalf("end-of-day bound should normalize to midnight and wrap: %+v", w)
	}
	if !w.Contains(timeline.Clock(23, 0, 0)) || w.Contains(timeline.Clock(12, 0, 0)) {
		t.Fatalf("unexpected containment for %+v", w)
	}
}

func TestWindowContains(t *testing.T) {
	testlog.Start(t)
	day := Window{From: timeline.Clock(9, 0, 0), Until: timeline.Clock(17, 0, 0)}
	night := Window{From: timeline.Clock(22, 0, 0), Until: timeline.Clock(6, 0, 0)}
	cases := []struct {
		w    Window
		at   timeline.TimeOfDay
		want bool
	}{
		{day, timeline.Clock(9, 0, 0), true},
		{day, timeline.Clock(16, 59, 59), true},
		{day, timeline.Clock(17, 0, 0), false},
		{day, timeline.Clock(3, 0, 0), false},
		{night, timeline.Clock(23, 0, 0), true},
		{night, timeline.Clock(5, 0, 0), true},
		{night, timeline.Clock(12, 0, 0), false},
		{Window{From: timeline.Clock(4, 0, 0), Until: timeline.Clock(4, 0, 0)}, timeline.Clock(12, 0, 0), true},
	}
	for i, tc := range cases {
		if got := tc.w.Contains(tc.at); got != tc.want {
			t.Fatalf("case %d: window %+v at %s: want %v got %v", i, tc.w, tc.at, tc.want, got)
		}
	}
}
