// Package dispatch bounds in-flight LLM calls with an adaptively sized
// permit pool. The pool shrinks when the observed error rate is high and
// grows back when calls are healthy.
package dispatch

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/config"
)

// Shrink below this error rate never happens; growth above it never happens.
const (
	shrinkErrorRate = 0.15
	growErrorRate   = 0.03
	shrinkFactor    = 0.7
	growFactor      = 1.3
)

// Controller is a resizable concurrency limiter.
//
// The underlying weighted semaphore is sized at the configured ceiling and
// never recreated. The controller holds "blocker" permits for the capacity
// above the current target, so resizing can never lose permits held by
// in-flight calls: shrinking converts returning permits into blockers,
// growing releases blockers back to callers.
type Controller struct {
	cfg *config.ConcurrencyConfig
	sem *semaphore.Weighted

	mu           sync.Mutex
	current      int // target concurrency
	inFlight     int
	blocked      int // blocker permits currently held
	pendingBlock int // blockers still owed after a shrink
	successes    int
	failures     int
	lastAdjust   time.Time
}

// NewController creates a controller at the configured initial concurrency.
func NewController(cfg *config.ConcurrencyConfig) *Controller {
	c := &Controller{
		cfg:        cfg,
		sem:        semaphore.NewWeighted(int64(cfg.Max)),
		current:    cfg.Initial,
		lastAdjust: time.Now(),
	}

	// Nothing is in flight yet, so the initial blockers always acquire.
	for i := cfg.Initial; i < cfg.Max; i++ {
		if c.sem.TryAcquire(1) {
			c.blocked++
		}
	}
	return c
}

// Acquire blocks until a permit is available or ctx is done.
func (c *Controller) Acquire(ctx context.Context) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	c.mu.Lock()
	c.inFlight++
	c.mu.Unlock()
	return nil
}

// Release returns a permit and reports the call outcome. At most once per
// adjustment interval the target concurrency is recomputed from the observed
// error rate.
func (c *Controller) Release(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inFlight--
	if success {
		c.successes++
	} else {
		c.failures++
	}

	if c.pendingBlock > 0 {
		// A shrink is still owed permits: retain this one as a blocker
		// instead of returning it.
		c.pendingBlock--
		c.blocked++
	} else {
		c.sem.Release(1)
	}

	c.maybeAdjustLocked()
}

// Current returns the target concurrency.
func (c *Controller) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// InFlight returns the number of outstanding permits.
func (c *Controller) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

func (c *Controller) maybeAdjustLocked() {
	if time.Since(c.lastAdjust) < c.cfg.AdjustmentInterval {
		return
	}
	total := c.successes + c.failures
	if total == 0 {
		return
	}

	errorRate := float64(c.failures) / float64(total)
	target := c.current
	switch {
	case errorRate > shrinkErrorRate:
		target = int(math.Round(float64(c.current) * shrinkFactor))
		if target < c.cfg.Min {
			target = c.cfg.Min
		}
	case errorRate < growErrorRate:
		target = int(math.Round(float64(c.current) * growFactor))
		if target > c.cfg.Max {
			target = c.cfg.Max
		}
	}

	if target != c.current {
		slog.Info("Adjusting concurrency",
			"error_rate", errorRate,
			"from", c.current,
			"to", target)
		c.resizeLocked(target)
	}

	c.successes, c.failures = 0, 0
	c.lastAdjust = time.Now()
}

// resizeLocked moves the target without disturbing in-flight permits.
func (c *Controller) resizeLocked(target int) {
	if target < c.current {
		// Shrink: claim the difference as blockers. Permits held by callers
		// cannot be taken; they become blockers as they are released.
		for i := 0; i < c.current-target; i++ {
			if c.sem.TryAcquire(1) {
				c.blocked++
			} else {
				c.pendingBlock++
			}
		}
	} else {
		// Grow: hand blockers back, cancelling owed ones first.
		for i := 0; i < target-c.current; i++ {
			if c.pendingBlock > 0 {
				c.pendingBlock--
			} else if c.blocked > 0 {
				c.blocked--
				c.sem.Release(1)
			}
		}
	}
	c.current = target
}
