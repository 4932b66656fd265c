package rpcpool

import (
	"fmt"
	"sync/atomic"
	"time"
)

// breaker is a per-endpoint circuit breaker. failedUntilNano is a single
// UnixNano timestamp read-modify-written atomically without a lock; a
// race between a reader and a concurrent writer can only cause an extra
// spurious rejection, never a silent call through a still-broken
// endpoint beyond one additional attempt (spec §4.1 concurrency note).
type breaker struct {
	failedUntilNano atomic.Int64
}

// cooledDown reports whether the breaker currently rejects calls, i.e.
// now < failedUntil.
func (b *breaker) cooledDown(now time.Time) bool {
	return now.UnixNano() < b.failedUntilNano.Load()
}

// recordSuccess resets the breaker and reports whether this was a
// recovery (i.e. the breaker had tripped before).
func (b *breaker) recordSuccess() (recovered bool) {
	prev := b.failedUntilNano.Swap(0)
	return prev != 0
}

// recordFailure opens the breaker for cooldown (or rateLimitCooldown if
// rateLimited) starting now.
func (b *breaker) recordFailure(now time.Time, cooldown, rateLimitCooldown time.Duration, rateLimited bool) {
	d := cooldown
	if rateLimited {
		d = rateLimitCooldown
	}
	b.failedUntilNano.Store(now.Add(d).UnixNano())
}

// cooldownError is returned locally (without making a network call)
// while a breaker is tripped. It is always classified as transient by
// Classify, so the composite provider retries across other endpoints.
type cooldownError struct {
	endpoint string
	until    time.Time
}

func (e *cooldownError) Error() string {
	return fmt.Sprintf("%s: endpoint %s cooling down until %s", ErrCooldownMessage, e.endpoint, e.until.Format(time.RFC3339))
}
