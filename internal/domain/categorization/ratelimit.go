package categorization

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// minCallInterval spaces completion-service calls during batch work.
	minCallInterval = 2 * time.Second
	// rateLimitCooldown is how long the generative stage stays disabled
	// after a 429.
	rateLimitCooldown = 5 * time.Minute
)

// ServiceLimiter owns the shared throttle state for the completion
// service: one interval limiter for call spacing and a cooldown timestamp
// set on rate-limit responses. It is an explicit object rather than global
// state so it can be unit-tested and reset between batches.
type ServiceLimiter struct {
	limiter *rate.Limiter

	mu            sync.Mutex
	cooldownUntil time.Time
	now           func() time.Time
}

// NewServiceLimiter creates a limiter with the default 2s spacing.
func NewServiceLimiter() *ServiceLimiter {
	return &ServiceLimiter{
		limiter: rate.NewLimiter(rate.Every(minCallInterval), 1),
		now:     time.Now,
	}
}

// Wait blocks until the next call slot, honoring the shared interval.
func (l *ServiceLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// CoolingDown reports whether a rate-limit cooldown is active.
func (l *ServiceLimiter) CoolingDown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now().Before(l.cooldownUntil)
}

// TripCooldown starts the cooldown window; subsequent generative attempts
// skip the service entirely instead of retrying into the limit.
func (l *ServiceLimiter) TripCooldown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cooldownUntil = l.now().Add(rateLimitCooldown)
}

// Reset clears cooldown state, for use between batches and in tests.
func (l *ServiceLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cooldownUntil = time.Time{}
}
