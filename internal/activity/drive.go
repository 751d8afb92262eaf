package activity

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/ghostline/internal/timeline"
)

// ErrNoEvents is returned by Drive for a looping handler with nothing to do.
var ErrNoEvents = errors.New("activity: looping handler has no events")

// EventFunc executes one event and returns a short result for the sink.
type EventFunc func(ctx context.Context, ev timeline.Event) (string, error)

// MinLoopPeriod bounds how fast a looping handler may cycle.
var MinLoopPeriod = time.Second

var (
	delayMu  sync.Mutex
	delayRng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func resolveDelay(d timeline.Delay) time.Duration {
	delayMu.Lock()
	defer delayMu.Unlock()
	return d.Resolve(delayRng)
}

// Drive runs h's events in declared order, honoring each event's delays, and
// repeats the sequence while h.Loop is set. Event errors are recorded and do
// not stop the sequence.
func Drive(ctx context.Context, h timeline.Handler, sink *ResultSink, fn EventFunc) error {
	if len(h.Events) == 0 {
		if h.Loop {
			return ErrNoEvents
		}
		return nil
	}
	for {
		start := time.Now()
		for _, ev := range h.Events {
			if err := Sleep(ctx, resolveDelay(ev.DelayBefore)); err != nil {
				return err
			}
			result, err := fn(ctx, ev)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			sink.Record(h.Kind, ev, result, err)
			if err := Sleep(ctx, resolveDelay(ev.DelayAfter)); err != nil {
				return err
			}
		}
		if !h.Loop {
			return nil
		}
		if elapsed := time.Since(start); elapsed < MinLoopPeriod {
			if err := Sleep(ctx, MinLoopPeriod-elapsed); err != nil {
				return err
			}
		}
	}
}

// Sleep waits for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
