package config

import (
	"fmt"
	"os"
	"sync"
)

// ProviderStrategy selects how the manager orders providers for a request.
type ProviderStrategy string

// Provider ordering strategies.
const (
	StrategyRoundRobin           ProviderStrategy = "round_robin"
	StrategyRandom               ProviderStrategy = "random"
	StrategyCostOptimized        ProviderStrategy = "cost_optimized"
	StrategyPerformanceOptimized ProviderStrategy = "performance_optimized"
)

// Valid reports whether the strategy is one of the known values.
func (s ProviderStrategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyRandom, StrategyCostOptimized, StrategyPerformanceOptimized:
		return true
	}
	return false
}

// LLMProviderConfig defines one provider block from llm-providers.yaml.
type LLMProviderConfig struct {
	// Environment variable holding the API key (e.g. QWEN_API_KEY).
	APIKeyEnv string `yaml:"api_key_env"`

	// Base URL of the OpenAI-compatible endpoint (required).
	BaseURL string `yaml:"base_url"`

	Enabled  bool `yaml:"enabled"`
	Priority int  `yaml:"priority"`

	// Rate limits. Zero values fall back to built-in defaults.
	MaxRequestsPerMinute int `yaml:"max_requests_per_minute"`
	MaxTokensPerMinute   int `yaml:"max_tokens_per_minute"`

	CostWeight        float64 `yaml:"cost_weight"`
	PerformanceWeight float64 `yaml:"performance_weight"`

	// Models supported by this provider.
	Models []string `yaml:"models"`

	// MaxContextTokens maps model → maximum context length.
	MaxContextTokens map[string]int `yaml:"max_context_tokens"`
}

// APIKey resolves the API key from the environment. Empty when unset.
func (p *LLMProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// SupportsModel reports whether the provider lists the model.
func (p *LLMProviderConfig) SupportsModel(model string) bool {
	for _, m := range p.Models {
		if m == model {
			return true
		}
	}
	return false
}

// ContextLimit returns the max context length for a model, or the fallback
// when the model has no recorded limit.
func (p *LLMProviderConfig) ContextLimit(model string, fallback int) int {
	if n, ok := p.MaxContextTokens[model]; ok && n > 0 {
		return n
	}
	return fallback
}

// LLMProviderRegistry stores provider configurations with thread-safe access.
type LLMProviderRegistry struct {
	providers map[string]*LLMProviderConfig
	mu        sync.RWMutex
}

// NewLLMProviderRegistry creates a registry over a defensive copy of the map.
func NewLLMProviderRegistry(providers map[string]*LLMProviderConfig) *LLMProviderRegistry {
	copied := make(map[string]*LLMProviderConfig, len(providers))
	for k, v := range providers {
		copied[k] = v
	}
	return &LLMProviderRegistry{providers: copied}
}

// Get retrieves a provider configuration by name.
func (r *LLMProviderRegistry) Get(name string) (*LLMProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrLLMProviderNotFound, name)
	}
	return provider, nil
}

// GetAll returns a copy of all provider configurations.
func (r *LLMProviderRegistry) GetAll() map[string]*LLMProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*LLMProviderConfig, len(r.providers))
	for k, v := range r.providers {
		result[k] = v
	}
	return result
}

// Has checks whether a provider exists in the registry.
func (r *LLMProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.providers[name]
	return exists
}

// Len returns the number of providers in the registry.
func (r *LLMProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
