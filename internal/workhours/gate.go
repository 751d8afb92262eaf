// Package workhours gates workers on a handler's UTC activity window.
package workhours

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/ghostline/internal/timeline"
	"github.com/rs/zerolog"
)

const day = 24 * time.Hour

// Clock is the time source the gate sleeps against.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Config configures a Gate.
type Config struct {
	// Fuzz bounds the independent random shift applied to each boundary.
	Fuzz time.Duration
	// Slice bounds one sleep so cancellation is observed promptly.
	Slice  time.Duration
	Clock  Clock
	Rand   *rand.Rand
	Logger zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Fuzz:   30 * time.Minute,
		Slice:  5 * time.Minute,
		Clock:  systemClock{},
		Logger: zerolog.Nop(),
	}
}

// Gate blocks workers until the current UTC time-of-day is inside their window.
type Gate struct {
	cfg    Config
	randMu sync.Mutex
	rng    *rand.Rand
	log    zerolog.Logger
}

func New(cfg Config) *Gate {
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	if cfg.Slice <= 0 {
		cfg.Slice = DefaultConfig().Slice
	}
	if cfg.Fuzz < 0 {
		cfg.Fuzz = 0
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Gate{cfg: cfg, rng: rng, log: cfg.Logger}
}

// Window is a wrap-aware [From, Until) range of UTC time-of-day.
type Window struct {
	From  timeline.TimeOfDay
	Until timeline.TimeOfDay
}

// Wraps reports whether the window crosses midnight.
func (w Window) Wraps() bool {
	return w.Until < w.From
}

// Contains reports whether t falls inside the window. A window whose bounds
// coincide covers the whole day.
func (w Window) Contains(t timeline.TimeOfDay) bool {
	t = normalize(t)
	switch {
	case w.From == w.Until:
		return true
	case w.Wraps():
		return t >= w.From || t < w.Until
	default:
		return t >= w.From && t < w.Until
	}
}

// untilOpen is the wait from t until the window next opens.
func (w Window) untilOpen(t timeline.TimeOfDay) time.Duration {
	return time.Duration(normalize(w.From - normalize(t)))
}

// Window returns the fuzzed window for a nominal range. always is true when
// both bounds are zero, meaning the handler is never gated.
func (g *Gate) Window(from, until timeline.TimeOfDay) (w Window, always bool) {
	if from == 0 && until == 0 {
		return Window{}, true
	}
	return Window{From: g.fuzz(from), Until: g.fuzz(until)}, false
}

func (g *Gate) fuzz(t timeline.TimeOfDay) timeline.TimeOfDay {
	if g.cfg.Fuzz <= 0 {
		return normalize(t)
	}
	g.randMu.Lock()
	shift := time.Duration(g.rng.Int63n(int64(2*g.cfg.Fuzz)+1)) - g.cfg.Fuzz
	g.randMu.Unlock()
	return normalize(t + timeline.TimeOfDay(shift))
}

// Wait blocks until the handler's fuzzed window is open or ctx ends. The
// window is computed once per call.
func (g *Gate) Wait(ctx context.Context, h timeline.Handler) error {
	w, always := g.Window(h.ActiveFrom, h.ActiveUntil)
	if always {
		return nil
	}
	logged := false
	for {
		now := timeline.Of(g.cfg.Clock.Now())
		if w.Contains(now) {
			if logged {
				g.log.Debug().Str("kind", h.Kind.String()).Msg("workhours.Wait window open")
			}
			return nil
		}
		sleep := w.untilOpen(now)
		if sleep > g.cfg.Slice {
			sleep = g.cfg.Slice
		}
		if sleep <= 0 {
			sleep = time.Second
		}
		if !logged {
			g.log.Debug().
				Str("kind", h.Kind.String()).
				Str("from", w.From.String()).
				Str("until", w.Until.String()).
				Str("now", now.String()).
				Bool("wraps", w.Wraps()).
				Msg("workhours.Wait outside window")
			logged = true
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.cfg.Clock.After(sleep):
		}
	}
}

func normalize(t timeline.TimeOfDay) timeline.TimeOfDay {
	d := time.Duration(t) % day
	if d < 0 {
		d += day
	}
	return timeline.TimeOfDay(d)
}
