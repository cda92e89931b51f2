// Package ratelimit provides per-provider request and token admission
// control backed by two token buckets, with adaptive token estimation from
// observed usage.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Bootstrap estimate used until the usage ring has samples.
const bootstrapEstimate = 5000

// Minimum per-request token estimate when content length is known.
const minEstimate = 1000

// Limiter admits requests against an RPM bucket (capacity=RPM, refill
// RPM/60s) and a TPM bucket (capacity=TPM, refill TPM/60s). A request is
// admitted only when both buckets have capacity.
type Limiter struct {
	provider string

	rpm *rate.Limiter
	tpm *rate.Limiter

	// tpmBurst caps a single reservation; estimates above it are clamped so
	// oversized requests wait for a full bucket instead of being rejected.
	tpmBurst int

	mu         sync.Mutex
	usage      *usageRing
	window     []windowSample
	windowSize time.Duration
	failures   int64
}

// windowSample records one admitted request for sliding-window reporting.
type windowSample struct {
	at     time.Time
	tokens int
}

// Stats reports the limiter's recent activity.
type Stats struct {
	Provider        string `json:"provider"`
	RequestsLastMin int    `json:"requests_last_min"`
	TokensLastMin   int    `json:"tokens_last_min"`
	CurrentEstimate int    `json:"current_estimate"`
	Failures        int64  `json:"failures"`
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithWindowSize overrides the reporting window (default 60s).
func WithWindowSize(d time.Duration) Option {
	return func(l *Limiter) { l.windowSize = d }
}

// New creates a limiter for one provider with the given per-minute limits.
func New(provider string, rpmLimit, tpmLimit int, opts ...Option) *Limiter {
	l := &Limiter{
		provider:   provider,
		rpm:        rate.NewLimiter(rate.Limit(float64(rpmLimit)/60), rpmLimit),
		tpm:        rate.NewLimiter(rate.Limit(float64(tpmLimit)/60), tpmLimit),
		tpmBurst:   tpmLimit,
		usage:      newUsageRing(100),
		windowSize: time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire attempts to consume one request token and estimatedTokens TPM
// tokens. When either bucket lacks capacity it consumes nothing and returns
// the larger of the two waits; callers may sleep that long and retry.
func (l *Limiter) TryAcquire(estimatedTokens int) (time.Duration, bool) {
	if estimatedTokens < 1 {
		estimatedTokens = 1
	}
	if estimatedTokens > l.tpmBurst {
		estimatedTokens = l.tpmBurst
	}

	now := time.Now()
	rr := l.rpm.ReserveN(now, 1)
	tr := l.tpm.ReserveN(now, estimatedTokens)
	if !rr.OK() || !tr.OK() {
		rr.CancelAt(now)
		tr.CancelAt(now)
		return l.refillDelay(estimatedTokens), false
	}

	delay := rr.DelayFrom(now)
	if d := tr.DelayFrom(now); d > delay {
		delay = d
	}
	if delay > 0 {
		rr.CancelAt(now)
		tr.CancelAt(now)
		return delay, false
	}

	l.mu.Lock()
	l.window = append(l.window, windowSample{at: now, tokens: estimatedTokens})
	l.pruneWindowLocked(now)
	l.mu.Unlock()

	return 0, true
}

// Acquire blocks until both buckets admit the request or ctx is done.
func (l *Limiter) Acquire(ctx context.Context, estimatedTokens int) error {
	for {
		delay, ok := l.TryAcquire(estimatedTokens)
		if ok {
			return nil
		}

		slog.Debug("Rate limited, waiting",
			"provider", l.provider,
			"wait", delay,
			"estimated_tokens", estimatedTokens)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// AcquireWithEstimation estimates the token cost from content length, then
// blocks until admitted. It returns the estimate used so the caller can
// compare it with actual usage.
func (l *Limiter) AcquireWithEstimation(ctx context.Context, contentLen int) (int, error) {
	estimate := l.EstimateTokens(contentLen)
	if err := l.Acquire(ctx, estimate); err != nil {
		return 0, err
	}
	return estimate, nil
}

// EstimateTokens predicts the token cost of a request. With a known content
// length the running mean of observed usage is scaled by content size,
// clamped to [0.5, 2.0]; without one the running mean itself is used.
func (l *Limiter) EstimateTokens(contentLen int) int {
	l.mu.Lock()
	mean := l.usage.Mean(bootstrapEstimate)
	l.mu.Unlock()

	if contentLen <= 0 {
		return mean
	}

	multiplier := float64(contentLen) / 10000
	if multiplier < 0.5 {
		multiplier = 0.5
	} else if multiplier > 2.0 {
		multiplier = 2.0
	}

	estimate := int(math.Round(float64(mean) * multiplier))
	if estimate < minEstimate {
		estimate = minEstimate
	}
	return estimate
}

// RecordActualUsage feeds an observed token count back into the estimator.
func (l *Limiter) RecordActualUsage(actualTokens int) {
	if actualTokens <= 0 {
		return
	}
	l.mu.Lock()
	l.usage.Add(actualTokens)
	l.mu.Unlock()
}

// RecordFailure counts a request that failed after admission, so the
// stats surface shows error pressure alongside throughput.
func (l *Limiter) RecordFailure() {
	l.mu.Lock()
	l.failures++
	l.mu.Unlock()
}

// refillDelay derives a wait from the tokens needed and the TPM refill
// rate, capped at the reporting window.
func (l *Limiter) refillDelay(tokens int) time.Duration {
	limit := float64(l.tpm.Limit())
	if limit <= 0 {
		return l.windowSize
	}
	d := time.Duration(float64(tokens) / limit * float64(time.Second))
	if d <= 0 || d > l.windowSize {
		return l.windowSize
	}
	return d
}

// Stats returns the sliding-window activity report.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneWindowLocked(time.Now())
	tokens := 0
	for _, s := range l.window {
		tokens += s.tokens
	}
	return Stats{
		Provider:        l.provider,
		RequestsLastMin: len(l.window),
		TokensLastMin:   tokens,
		CurrentEstimate: l.usage.Mean(bootstrapEstimate),
		Failures:        l.failures,
	}
}

func (l *Limiter) pruneWindowLocked(now time.Time) {
	cutoff := now.Add(-l.windowSize)
	keep := l.window[:0]
	for _, s := range l.window {
		if s.at.After(cutoff) {
			keep = append(keep, s)
		}
	}
	l.window = keep
}

// usageRing is a bounded ring of observed token usages.
type usageRing struct {
	values []int
	next   int
	filled int
}

func newUsageRing(size int) *usageRing {
	return &usageRing{values: make([]int, size)}
}

// Add appends a sample, overwriting the oldest once full.
func (r *usageRing) Add(v int) {
	r.values[r.next] = v
	r.next = (r.next + 1) % len(r.values)
	if r.filled < len(r.values) {
		r.filled++
	}
}

// Mean returns the running mean, or fallback when no samples exist.
func (r *usageRing) Mean(fallback int) int {
	if r.filled == 0 {
		return fallback
	}
	sum := 0
	for i := 0; i < r.filled; i++ {
		sum += r.values[i]
	}
	return sum / r.filled
}
