package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterReapsIdleVisitors(t *testing.T) {
	rl := newRateLimiter(1, 1)
	rl.allow("10.0.0.1:1000")
	rl.allow("10.0.0.2:1000")

	rl.mu.Lock()
	rl.visitors["10.0.0.1"].lastSeen = time.Now().Add(-2 * idleCutoff)
	rl.lastReap = time.Now().Add(-2 * reapInterval)
	rl.mu.Unlock()

	rl.allow("10.0.0.3:1000")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.visitors, "10.0.0.1")
	assert.Contains(t, rl.visitors, "10.0.0.2")
	assert.Contains(t, rl.visitors, "10.0.0.3")
}

func TestRateLimiterKeysByHost(t *testing.T) {
	rl := newRateLimiter(1, 1)
	assert.True(t, rl.allow("10.0.0.1:1000"))
	// Same host, different port: shares the bucket, which is now empty.
	assert.False(t, rl.allow("10.0.0.1:2000"))
	// Different host: fresh bucket.
	assert.True(t, rl.allow("10.0.0.2:1000"))
}
