package render

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays with jitter. The zero
// value is not usable; construct with NewBackoff.
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     float64

	rng *rand.Rand
}

// NewBackoff returns a backoff policy with the client defaults:
// 2s base doubling per attempt, capped at 60s, with ±10% jitter.
func NewBackoff() *Backoff {
	return &Backoff{
		Base:       2 * time.Second,
		Multiplier: 2,
		Max:        60 * time.Second,
		Jitter:     0.1,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay returns the wait before retry number attempt (0-based). The
// un-jittered sequence is base, base*m, base*m^2, ... capped at Max;
// jitter then perturbs the result by at most ±Jitter of its value.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := float64(b.Base) * math.Pow(b.Multiplier, float64(attempt))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}

	if b.Jitter > 0 && b.rng != nil {
		// Uniform in [-Jitter, +Jitter].
		d += d * b.Jitter * (2*b.rng.Float64() - 1)
	}

	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
