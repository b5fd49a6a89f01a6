package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterBurst(t *testing.T) {
	limiter := New(1, 3)

	now := time.Now()
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("10.0.0.5"), "request %d within burst", i+1)
	}
	assert.False(t, limiter.Allow("10.0.0.5"), "burst exhausted")
}

func TestLimiterRefill(t *testing.T) {
	limiter := New(2, 2)

	now := time.Now()
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("10.0.0.5"))
	assert.True(t, limiter.Allow("10.0.0.5"))
	assert.False(t, limiter.Allow("10.0.0.5"))

	// 1秒経過で rate 分だけ補充される
	now = now.Add(time.Second)
	assert.True(t, limiter.Allow("10.0.0.5"))
	assert.True(t, limiter.Allow("10.0.0.5"))
	assert.False(t, limiter.Allow("10.0.0.5"))
}

func TestLimiterPerClientIsolation(t *testing.T) {
	limiter := New(1, 1)

	now := time.Now()
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("10.0.0.5"))
	assert.False(t, limiter.Allow("10.0.0.5"))

	// 別クライアントは独立したバケット
	assert.True(t, limiter.Allow("10.0.0.6"))
}

func TestLimiterPrunesIdleBuckets(t *testing.T) {
	limiter := New(1, 1)

	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.Allow("10.0.0.5")
	assert.Len(t, limiter.buckets, 1)

	now = now.Add(21 * time.Minute)
	limiter.Allow("10.0.0.6")

	_, stale := limiter.buckets["10.0.0.5"]
	assert.False(t, stale, "idle bucket should be pruned")
}
