package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"golang.org/x/time/rate"
)

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1.0/60.0), 3)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"), "request %d within burst", i)
	}
	assert.False(t, rl.Allow("10.0.0.1"))

	// Other clients keep their own budget
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")

	assert.Equal(t, 0, rl.EvictIdle(time.Minute))
	assert.Equal(t, 2, rl.EvictIdle(0))

	// Evicted clients start over with a fresh burst
	assert.True(t, rl.Allow("10.0.0.1"))
}
