package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffSequenceWithoutJitter(t *testing.T) {
	b := NewBackoff()
	b.Jitter = 0

	assert.Equal(t, 2*time.Second, b.Delay(0))
	assert.Equal(t, 4*time.Second, b.Delay(1))
	assert.Equal(t, 8*time.Second, b.Delay(2))
	assert.Equal(t, 16*time.Second, b.Delay(3))
}

func TestBackoffCapped(t *testing.T) {
	b := NewBackoff()
	b.Jitter = 0

	// 2 * 2^10 = 2048s, well past the cap.
	assert.Equal(t, 60*time.Second, b.Delay(10))
	assert.Equal(t, 60*time.Second, b.Delay(100))
}

func TestBackoffJitterBounds(t *testing.T) {
	b := NewBackoff()

	for attempt := 0; attempt < 5; attempt++ {
		base := float64(2*time.Second) * pow2(attempt)
		if base > float64(60*time.Second) {
			base = float64(60 * time.Second)
		}
		for i := 0; i < 200; i++ {
			d := float64(b.Delay(attempt))
			require.GreaterOrEqual(t, d, base*0.9, "attempt %d below jitter floor", attempt)
			require.LessOrEqual(t, d, base*1.1, "attempt %d above jitter ceiling", attempt)
		}
	}
}

func TestBackoffNegativeAttempt(t *testing.T) {
	b := NewBackoff()
	b.Jitter = 0

	assert.Equal(t, 2*time.Second, b.Delay(-1))
}

func pow2(n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= 2
	}
	return r
}
