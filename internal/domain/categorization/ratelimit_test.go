package categorization

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServiceLimiter_Cooldown(t *testing.T) {
	clock := time.Date(2025, 9, 14, 12, 0, 0, 0, time.UTC)
	limiter := NewServiceLimiter()
	limiter.now = func() time.Time { return clock }

	assert.False(t, limiter.CoolingDown())

	limiter.TripCooldown()
	assert.True(t, limiter.CoolingDown())

	clock = clock.Add(rateLimitCooldown - time.Second)
	assert.True(t, limiter.CoolingDown(), "still inside the window")

	clock = clock.Add(2 * time.Second)
	assert.False(t, limiter.CoolingDown(), "window elapsed")
}

func TestServiceLimiter_Reset(t *testing.T) {
	limiter := NewServiceLimiter()
	limiter.TripCooldown()
	assert.True(t, limiter.CoolingDown())

	limiter.Reset()
	assert.False(t, limiter.CoolingDown())
}
