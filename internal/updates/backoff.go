package updates

import (
	"math"
	"math/rand"
	"time"
)

// backoff spaces retries of a failing call.
type backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     bool
}

// idBackoff paces id fetches while the server has not issued one.
var idBackoff = backoff{Initial: 30 * time.Second, Multiplier: 2, Max: 5 * time.Minute}

// delay returns the wait after the given number of consecutive failures
// (1-based). With Jitter the result is scaled into [0.5, 1.5).
func (b backoff) delay(failures int, rng *rand.Rand) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	if failures < 1 {
		failures = 1
	}
	d := float64(b.Initial) * math.Pow(mult, float64(failures-1))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter {
		f := 0.5
		if rng != nil {
			f += rng.Float64()
		}
		d *= f
	}
	return time.Duration(d)
}
