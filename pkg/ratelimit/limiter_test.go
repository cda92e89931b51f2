package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireConsumesBothBuckets(t *testing.T) {
	l := New("qwen", 2, 10000)

	delay, ok := l.TryAcquire(4000)
	assert.True(t, ok)
	assert.Zero(t, delay)

	_, ok = l.TryAcquire(4000)
	assert.True(t, ok)

	// RPM bucket is empty now
	delay, ok = l.TryAcquire(100)
	assert.False(t, ok)
	assert.Positive(t, delay)
}

func TestTryAcquireTokenBucketRefusal(t *testing.T) {
	l := New("qwen", 100, 5000)

	_, ok := l.TryAcquire(5000)
	require.True(t, ok)

	// TPM exhausted; RPM still has plenty
	delay, ok := l.TryAcquire(5000)
	assert.False(t, ok)
	assert.Positive(t, delay)

	// A refused attempt consumes nothing: a small request still fits once
	// the bucket refills a little
	time.Sleep(50 * time.Millisecond)
	_, ok = l.TryAcquire(1)
	assert.True(t, ok)
}

func TestTryAcquireClampsOversizedEstimate(t *testing.T) {
	l := New("qwen", 100, 2000)

	// Estimate above bucket capacity waits for a full bucket instead of
	// being rejected outright
	_, ok := l.TryAcquire(50000)
	assert.True(t, ok)
}

func TestAcquireHonorsContext(t *testing.T) {
	l := New("qwen", 1, 100000)
	_, ok := l.TryAcquire(1)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Acquire(ctx, 1), context.DeadlineExceeded)
}

func TestEstimateTokensBootstrap(t *testing.T) {
	l := New("qwen", 100, 100000)

	// No samples yet: the bootstrap mean is returned as-is
	assert.Equal(t, bootstrapEstimate, l.EstimateTokens(0))

	// Content-scaled: 10000 bytes is the 1.0 multiplier
	assert.Equal(t, bootstrapEstimate, l.EstimateTokens(10000))
	// Clamped low at 0.5
	assert.Equal(t, bootstrapEstimate/2, l.EstimateTokens(100))
	// Clamped high at 2.0
	assert.Equal(t, bootstrapEstimate*2, l.EstimateTokens(1000000))
}

func TestEstimateTokensTracksUsage(t *testing.T) {
	l := New("qwen", 100, 100000)
	l.RecordActualUsage(2000)
	l.RecordActualUsage(4000)

	// Running mean is 3000
	assert.Equal(t, 3000, l.EstimateTokens(0))
	assert.Equal(t, 6000, l.EstimateTokens(1000000))

	// Floor applies when the scaled estimate would be tiny
	l2 := New("kimi", 100, 100000)
	l2.RecordActualUsage(1200)
	assert.Equal(t, minEstimate, l2.EstimateTokens(100))

	// Non-positive samples are dropped
	l2.RecordActualUsage(0)
	l2.RecordActualUsage(-5)
	assert.Equal(t, 1200, l2.EstimateTokens(0))
}

func TestRefusalDelayScalesWithTokens(t *testing.T) {
	// 60 TPM refills one token per second, so the advised wait tracks the
	// tokens requested instead of a flat full-window sleep.
	l := New("qwen", 100, 60)

	_, ok := l.TryAcquire(60)
	require.True(t, ok)

	delay, ok := l.TryAcquire(30)
	assert.False(t, ok)
	assert.InDelta(t, 30*time.Second, delay, float64(time.Second))

	delay, ok = l.TryAcquire(60)
	assert.False(t, ok)
	assert.InDelta(t, 60*time.Second, delay, float64(time.Second))
}

func TestRefillDelayBounds(t *testing.T) {
	l := New("qwen", 100, 60)

	assert.InDelta(t, 30*time.Second, l.refillDelay(30), float64(time.Millisecond))
	// Past the window the advice caps out
	assert.Equal(t, l.windowSize, l.refillDelay(10000))
}

func TestRecordFailureCountsInStats(t *testing.T) {
	l := New("qwen", 100, 100000)
	assert.Zero(t, l.Stats().Failures)

	l.RecordFailure()
	l.RecordFailure()
	assert.EqualValues(t, 2, l.Stats().Failures)
}

func TestUsageRingOverwritesOldest(t *testing.T) {
	r := newUsageRing(3)
	assert.Equal(t, 42, r.Mean(42))

	r.Add(100)
	r.Add(200)
	r.Add(300)
	assert.Equal(t, 200, r.Mean(0))

	// Fourth sample evicts the first
	r.Add(600)
	assert.Equal(t, (200+300+600)/3, r.Mean(0))
}

func TestStatsWindow(t *testing.T) {
	l := New("qwen", 100, 100000, WithWindowSize(50*time.Millisecond))

	_, ok := l.TryAcquire(1000)
	require.True(t, ok)
	_, ok = l.TryAcquire(2000)
	require.True(t, ok)

	s := l.Stats()
	assert.Equal(t, "qwen", s.Provider)
	assert.Equal(t, 2, s.RequestsLastMin)
	assert.Equal(t, 3000, s.TokensLastMin)

	time.Sleep(80 * time.Millisecond)
	s = l.Stats()
	assert.Zero(t, s.RequestsLastMin)
	assert.Zero(t, s.TokensLastMin)
}
