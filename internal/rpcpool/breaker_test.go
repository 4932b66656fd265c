package rpcpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_CooldownAndRecovery(t *testing.T) {
	var b breaker
	now := time.Now()

	assert.False(t, b.cooledDown(now))

	b.recordFailure(now, 50*time.Millisecond, time.Second, false)
	assert.True(t, b.cooledDown(now.Add(10*time.Millisecond)))
	assert.False(t, b.cooledDown(now.Add(60*time.Millisecond)))

	recovered := b.recordSuccess()
	assert.True(t, recovered)

	recovered = b.recordSuccess()
	assert.False(t, recovered, "a second success with no intervening failure is not a recovery")
}

func TestBreaker_RateLimitedUsesLongerCooldown(t *testing.T) {
	var b breaker
	now := time.Now()

	b.recordFailure(now, 10*time.Millisecond, time.Hour, true)
	assert.True(t, b.cooledDown(now.Add(time.Minute)))
}
