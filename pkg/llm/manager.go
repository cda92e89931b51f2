package llm

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"sync"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/breaker"
	resultcache "github.com/YingxueSec/AI-Code-Sec-sub000/pkg/cache"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/config"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/dispatch"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/ratelimit"
)

// Manager routes chat completions across providers under breaker and
// concurrency control, falling back on failure.
type Manager struct {
	cfg        *config.Config
	providers  map[string]Provider
	breakers   *breaker.Registry
	dispatcher *dispatch.Controller
	strategy   config.ProviderStrategy
	log        *slog.Logger

	cache *resultcache.Cache

	mu       sync.Mutex
	rrCursor int
	lastUsed string
	requests map[string]int64
}

// callOptions modify one ChatCompletion dispatch.
type callOptions struct {
	preferred string
	fallback  bool
}

// CallOption configures one dispatch.
type CallOption func(*callOptions)

// WithPreferredProvider puts the named provider first in the ordering.
func WithPreferredProvider(name string) CallOption {
	return func(o *callOptions) { o.preferred = name }
}

// WithoutFallback stops dispatch after the first provider's failure.
func WithoutFallback() CallOption {
	return func(o *callOptions) { o.fallback = false }
}

// NewManager builds providers for every enabled registry entry.
func NewManager(cfg *config.Config) (*Manager, error) {
	m := &Manager{
		cfg:        cfg,
		providers:  make(map[string]Provider),
		breakers:   breaker.NewRegistry(cfg.Breaker),
		dispatcher: dispatch.NewController(cfg.Concurrency),
		strategy:   cfg.Strategy,
		log:        slog.With("component", "llm_manager"),
		requests:   make(map[string]int64),
	}

	for name, pc := range cfg.LLMProviderRegistry.GetAll() {
		if !pc.Enabled {
			continue
		}
		rpm := pc.MaxRequestsPerMinute
		if rpm <= 0 {
			rpm = config.DefaultRPM
		}
		tpm := pc.MaxTokensPerMinute
		if tpm <= 0 {
			tpm = config.DefaultTPM
		}
		limiter := ratelimit.New(name, rpm, tpm)
		m.providers[name] = NewHTTPProvider(name, pc, limiter)
	}

	if len(m.providers) == 0 {
		return nil, ErrNoProviders
	}

	m.log.Info("LLM manager initialized",
		"providers", len(m.providers),
		"strategy", m.strategy)
	return m, nil
}

// RegisterProvider adds or replaces a provider. Used by tests and by
// callers wiring custom backends.
func (m *Manager) RegisterProvider(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.Name()] = p
}

// Providers returns the names of registered providers.
func (m *Manager) Providers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BreakerStates returns a snapshot of every provider's breaker state.
func (m *Manager) BreakerStates() map[string]breaker.State {
	return m.breakers.States()
}

// Dispatcher exposes the concurrency controller for status reporting.
func (m *Manager) Dispatcher() *dispatch.Controller {
	return m.dispatcher
}

// ChatCompletion dispatches the request to the first admitted provider in
// strategy order, falling back on failure. All providers failing re-raises
// the last error.
func (m *Manager) ChatCompletion(ctx context.Context, req *ChatRequest, opts ...CallOption) (*ChatResponse, error) {
	o := callOptions{fallback: true}
	for _, opt := range opts {
		opt(&o)
	}

	ordered := m.orderProviders(req.Model, o.preferred)
	if len(ordered) == 0 {
		return nil, ErrNoProviders
	}

	if err := m.dispatcher.Acquire(ctx); err != nil {
		return nil, classify("", err)
	}

	var lastErr error
	for _, name := range ordered {
		m.mu.Lock()
		p := m.providers[name]
		m.mu.Unlock()

		done, err := m.breakers.ForProvider(name).Allow()
		if err != nil {
			m.log.Debug("Provider refused by circuit breaker", "provider", name)
			lastErr = classify(name, err)
			continue
		}

		resp, err := p.ChatCompletion(ctx, req)
		if err != nil {
			done(false)
			lastErr = err
			m.log.Warn("Provider call failed",
				"provider", name,
				"error", err)
			if !o.fallback {
				break
			}
			continue
		}

		done(true)
		m.mu.Lock()
		m.requests[name]++
		m.lastUsed = name
		m.mu.Unlock()
		m.dispatcher.Release(true)
		return resp, nil
	}

	m.dispatcher.Release(false)
	if lastErr == nil {
		lastErr = ErrNoProviders
	}
	return nil, lastErr
}

// orderProviders filters to enabled providers supporting the model and
// orders them per the configured strategy. preferred, when set and
// eligible, always goes first.
func (m *Manager) orderProviders(model, preferred string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	eligible := make([]string, 0, len(m.providers))
	for name, p := range m.providers {
		if p.SupportsModel(model) {
			eligible = append(eligible, name)
		}
	}
	sort.Strings(eligible)
	if len(eligible) == 0 {
		return nil
	}

	switch m.strategy {
	case config.StrategyRandom:
		rand.Shuffle(len(eligible), func(i, j int) {
			eligible[i], eligible[j] = eligible[j], eligible[i]
		})
	case config.StrategyCostOptimized:
		sort.SliceStable(eligible, func(i, j int) bool {
			return m.weightOf(eligible[i]).CostWeight < m.weightOf(eligible[j]).CostWeight
		})
	case config.StrategyPerformanceOptimized:
		sort.SliceStable(eligible, func(i, j int) bool {
			return m.weightOf(eligible[i]).PerformanceWeight < m.weightOf(eligible[j]).PerformanceWeight
		})
	default: // round robin: rotate from the provider after the last used
		start := 0
		for i, name := range eligible {
			if name == m.lastUsed {
				start = i + 1
				break
			}
		}
		rotated := make([]string, 0, len(eligible))
		for i := 0; i < len(eligible); i++ {
			rotated = append(rotated, eligible[(start+i)%len(eligible)])
		}
		eligible = rotated
	}

	if preferred != "" {
		for i, name := range eligible {
			if name == preferred {
				eligible = append(eligible[:i], eligible[i+1:]...)
				eligible = append([]string{preferred}, eligible...)
				break
			}
		}
	}
	return eligible
}

func (m *Manager) weightOf(name string) *config.LLMProviderConfig {
	pc, err := m.cfg.LLMProviderRegistry.Get(name)
	if err != nil {
		return &config.LLMProviderConfig{}
	}
	return pc
}

// RequestCounts returns per-provider successful request counts.
func (m *Manager) RequestCounts() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.requests))
	for k, v := range m.requests {
		out[k] = v
	}
	return out
}

// ValidateProviders probes each provider's API key, logging failures.
// It returns the names of providers that passed.
func (m *Manager) ValidateProviders(ctx context.Context) []string {
	m.mu.Lock()
	providers := make(map[string]Provider, len(m.providers))
	for k, v := range m.providers {
		providers[k] = v
	}
	m.mu.Unlock()

	valid := make([]string, 0, len(providers))
	for name, p := range providers {
		if err := p.ValidateAPIKey(ctx); err != nil {
			m.log.Warn("Provider API key validation failed",
				"provider", name,
				"error", err)
			continue
		}
		valid = append(valid, name)
	}
	sort.Strings(valid)
	return valid
}

// Close releases all provider resources.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.providers {
		_ = p.Close()
	}
	return nil
}
