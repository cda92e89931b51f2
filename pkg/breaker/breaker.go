// Package breaker provides per-provider circuit breaking. A provider's
// breaker suppresses calls after repeated failures and probes recovery with
// a bounded number of half-open requests.
package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/config"
)

// ErrOpen indicates the breaker refused the call.
var ErrOpen = errors.New("circuit breaker open")

// State mirrors the breaker state machine.
type State string

// Breaker states.
const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Breaker wraps one provider's circuit breaker.
//
// CLOSED trips to OPEN after failure_threshold consecutive failures; OPEN
// transitions to HALF_OPEN after recovery_timeout; HALF_OPEN closes after
// success_threshold consecutive successes and reopens on any failure.
type Breaker struct {
	provider string
	cb       *gobreaker.TwoStepCircuitBreaker

	mu          sync.Mutex
	lastFailure time.Time
}

// New creates a breaker for one provider with the given thresholds.
func New(provider string, cfg *config.BreakerConfig) *Breaker {
	b := &Breaker{provider: provider}

	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name: provider,
		// Half-open admits success_threshold probes and closes once all of
		// them succeed.
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state change",
				"provider", name,
				"from", stateOf(from),
				"to", stateOf(to))
		},
	})

	return b
}

// Allow asks the breaker to admit one call. On admission it returns a done
// callback the caller must invoke with the outcome; otherwise it returns
// ErrOpen.
func (b *Breaker) Allow() (func(success bool), error) {
	done, err := b.cb.Allow()
	if err != nil {
		return nil, ErrOpen
	}
	return func(success bool) {
		if !success {
			b.mu.Lock()
			b.lastFailure = time.Now()
			b.mu.Unlock()
		}
		done(success)
	}, nil
}

// CanExecute reports whether a call would currently be admitted. It is a
// snapshot: the admission decision is made by Allow.
func (b *Breaker) CanExecute() bool {
	return b.cb.State() != gobreaker.StateOpen
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	return stateOf(b.cb.State())
}

// FailureCount returns the consecutive failure count of the current
// generation.
func (b *Breaker) FailureCount() uint32 {
	return b.cb.Counts().ConsecutiveFailures
}

// LastFailure returns the time of the most recent recorded failure.
func (b *Breaker) LastFailure() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFailure
}

func stateOf(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Registry holds one breaker per provider with thread-safe access.
type Registry struct {
	cfg      *config.BreakerConfig
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker registry sharing one threshold config.
func NewRegistry(cfg *config.BreakerConfig) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// ForProvider returns the provider's breaker, creating it on first use.
func (r *Registry) ForProvider(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.cfg)
		r.breakers[name] = b
	}
	return b
}

// States returns a snapshot of all breaker states, for health reporting.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
