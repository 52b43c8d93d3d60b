package pipeline

import (
	rand "math/rand/v2"
	"time"
)

// maxRetryDelay caps the delay between attempts on transient failures.
const maxRetryDelay = time.Minute

// jitterBackoff returns the next delay using decorrelated jitter: a random
// value between base and prev*mult, capped at capDur. A nil rng uses the
// package-level source.
func jitterBackoff(prev, base time.Duration, mult float64, capDur time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	if mult < 1.0 {
		mult = 1.0
	}
	if capDur > 0 && capDur < base {
		return capDur
	}
	if prev <= 0 {
		return base
	}

	spread := time.Duration(float64(prev)*mult) - base
	if spread <= 0 {
		spread = base
	}
	var jitter int64
	if rng != nil {
		jitter = rng.Int64N(int64(spread))
	} else {
		jitter = rand.Int64N(int64(spread)) //nolint:gosec
	}
	next := base + time.Duration(jitter)
	if capDur > 0 && next > capDur {
		return capDur
	}
	return next
}
