package updates

import (
	"math/rand"
	"time"
)

// Jitter returns base shifted by up to ±fraction of itself. A nil rng
// returns base unchanged.
func Jitter(base time.Duration, fraction float64, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	if fraction <= 0 || rng == nil {
		return base
	}
	if fraction > 1 {
		fraction = 1
	}
	f := 1 + fraction*(2*rng.Float64()-1)
	return time.Duration(float64(base) * f)
}
