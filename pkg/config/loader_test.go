package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalProvidersYAML = `llm_providers:
  qwen:
    api_key_env: QWEN_API_KEY
    base_url: https://dashscope.aliyuncs.com/compatible-mode/v1
    enabled: true
    models:
      - qwen-coder-plus
    max_context_tokens:
      qwen-coder-plus: 131072
`

func writeConfigDir(t *testing.T, auditYAML, providersYAML string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "aiaudit.yaml"), []byte(auditYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "llm-providers.yaml"), []byte(providersYAML), 0o644))
	return dir
}

func TestInitializeMinimalConfig(t *testing.T) {
	dir := writeConfigDir(t, "llm:\n  default_model: qwen-coder-plus\n", minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "qwen-coder-plus", cfg.DefaultModel)
	assert.Equal(t, StrategyRoundRobin, cfg.Strategy, "strategy defaults to round robin")
	assert.Equal(t, dir, cfg.ConfigDir())

	// Omitted sections fall back to built-in defaults
	assert.Equal(t, 3, cfg.Audit.WorkerCount)
	assert.Equal(t, 10*time.Minute, cfg.Audit.TaskTimeout)
	assert.EqualValues(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 15, cfg.Concurrency.Initial)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.EqualValues(t, 500<<20, cfg.Cache.MaxSizeByte)
	assert.True(t, cfg.CrossFile.Enabled)
	assert.Equal(t, 50, cfg.Recursion.MaxDepth)
	assert.True(t, cfg.SecurityRules["sql_injection"])

	// Unset provider limits pick up the process-wide fallbacks
	p, err := cfg.LLMProviderRegistry.Get("qwen")
	require.NoError(t, err)
	assert.Equal(t, DefaultRPM, p.MaxRequestsPerMinute)
	assert.Equal(t, DefaultTPM, p.MaxTokensPerMinute)
}

func TestInitializeOverrides(t *testing.T) {
	auditYAML := `llm:
  default_model: qwen-coder-plus
  strategy: cost_optimized
audit:
  worker_count: 8
  task_timeout_seconds: 120
  session_timeout_seconds: 1800
  rebalance_interval_minutes: 5
cache_dir: /tmp/audit-cache
cache:
  max_size_mb: 100
  ttl_hours: 6
  disabled: true
rate_limiter:
  rpm: 60
  tpm: 50000
circuit_breaker:
  failure_threshold: 2
  recovery_timeout_seconds: 10
  success_threshold: 1
concurrency:
  initial: 4
  min: 2
  max: 6
  adjustment_interval_seconds: 15
cross_file:
  max_depth: 2
  confidence_floor: 0.6
recursion:
  max_depth: 20
security_rules:
  csrf: false
`
	dir := writeConfigDir(t, auditYAML, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, StrategyCostOptimized, cfg.Strategy)
	assert.Equal(t, 8, cfg.Audit.WorkerCount)
	assert.Equal(t, 2*time.Minute, cfg.Audit.TaskTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Audit.SessionTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Audit.RebalanceInterval)

	assert.Equal(t, "/tmp/audit-cache", cfg.Cache.Dir)
	assert.Equal(t, 6*time.Hour, cfg.Cache.TTL)
	assert.True(t, cfg.Cache.Disabled)
	assert.EqualValues(t, 100<<20, cfg.Cache.MaxSizeByte)

	assert.EqualValues(t, 2, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 10*time.Second, cfg.Breaker.RecoveryTimeout)

	assert.Equal(t, 4, cfg.Concurrency.Initial)
	assert.Equal(t, 15*time.Second, cfg.Concurrency.AdjustmentInterval)

	assert.Equal(t, 2, cfg.CrossFile.MaxDepth)
	assert.InDelta(t, 0.6, cfg.CrossFile.ConfidenceFloor, 1e-9)
	assert.Equal(t, 20, cfg.Recursion.MaxDepth)

	// Merged rules: explicit override plus untouched defaults
	assert.False(t, cfg.SecurityRules["csrf"])
	assert.True(t, cfg.SecurityRules["xss"])

	p, err := cfg.LLMProviderRegistry.Get("qwen")
	require.NoError(t, err)
	assert.Equal(t, 60, p.MaxRequestsPerMinute)
	assert.Equal(t, 50000, p.MaxTokensPerMinute)
}

func TestInitializeMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitializeInvalidYAML(t *testing.T) {
	dir := writeConfigDir(t, "llm: [unclosed", minimalProvidersYAML)
	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)

	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "aiaudit.yaml", lerr.File)
}

func TestInitializeValidationFailures(t *testing.T) {
	t.Run("no providers", func(t *testing.T) {
		dir := writeConfigDir(t, "llm: {}\n", "llm_providers: {}\n")
		_, err := Initialize(context.Background(), dir)
		assert.ErrorIs(t, err, ErrValidationFailed)
	})

	t.Run("provider missing base_url", func(t *testing.T) {
		providers := `llm_providers:
  broken:
    enabled: true
    models: [m1]
`
		dir := writeConfigDir(t, "llm: {}\n", providers)
		_, err := Initialize(context.Background(), dir)
		require.ErrorIs(t, err, ErrMissingRequiredField)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "base_url", verr.Field)
	})

	t.Run("default model unsupported", func(t *testing.T) {
		dir := writeConfigDir(t, "llm:\n  default_model: gpt-nonexistent\n", minimalProvidersYAML)
		_, err := Initialize(context.Background(), dir)
		assert.ErrorIs(t, err, ErrInvalidValue)
	})

	t.Run("bad strategy", func(t *testing.T) {
		dir := writeConfigDir(t, "llm:\n  strategy: fastest\n", minimalProvidersYAML)
		_, err := Initialize(context.Background(), dir)
		assert.ErrorIs(t, err, ErrInvalidValue)
	})

	t.Run("concurrency initial out of bounds", func(t *testing.T) {
		auditYAML := "llm: {}\nconcurrency:\n  initial: 30\n  min: 2\n  max: 6\n"
		dir := writeConfigDir(t, auditYAML, minimalProvidersYAML)
		_, err := Initialize(context.Background(), dir)
		assert.ErrorIs(t, err, ErrValidationFailed)
	})
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("AUDIT_TEST_MODEL", "qwen-coder-plus")

	out := ExpandEnv([]byte("model: {{.AUDIT_TEST_MODEL}}\n"))
	assert.Equal(t, "model: qwen-coder-plus\n", string(out))

	// Missing variables become empty, not an error
	out = ExpandEnv([]byte("key: {{.AUDIT_TEST_UNSET_VAR}}\n"))
	assert.Equal(t, "key: \n", string(out))

	// Dollar signs survive untouched
	out = ExpandEnv([]byte("pattern: '$HOME/*.log'\n"))
	assert.Equal(t, "pattern: '$HOME/*.log'\n", string(out))

	// Malformed templates pass through for the YAML parser to report
	raw := []byte("broken: {{.unclosed\n")
	assert.Equal(t, raw, ExpandEnv(raw))
}

func TestExpandEnvInConfigFile(t *testing.T) {
	t.Setenv("AUDIT_TEST_CACHE_DIR", "/tmp/env-cache")
	auditYAML := "llm: {}\ncache_dir: '{{.AUDIT_TEST_CACHE_DIR}}'\n"
	dir := writeConfigDir(t, auditYAML, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env-cache", cfg.Cache.Dir)
}

func TestProviderRegistry(t *testing.T) {
	reg := NewLLMProviderRegistry(map[string]*LLMProviderConfig{
		"qwen": {BaseURL: "https://example.com", Models: []string{"m1"}},
	})

	assert.True(t, reg.Has("qwen"))
	assert.False(t, reg.Has("kimi"))
	assert.Equal(t, 1, reg.Len())

	p, err := reg.Get("qwen")
	require.NoError(t, err)
	assert.True(t, p.SupportsModel("m1"))
	assert.False(t, p.SupportsModel("m2"))

	_, err = reg.Get("kimi")
	assert.ErrorIs(t, err, ErrLLMProviderNotFound)
}

func TestContextLimit(t *testing.T) {
	p := &LLMProviderConfig{
		MaxContextTokens: map[string]int{"m1": 32768},
	}
	assert.Equal(t, 32768, p.ContextLimit("m1", DefaultMaxContextTokens))
	assert.Equal(t, DefaultMaxContextTokens, p.ContextLimit("m2", DefaultMaxContextTokens))
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("AUDIT_TEST_KEY", "sk-123")
	p := &LLMProviderConfig{APIKeyEnv: "AUDIT_TEST_KEY"}
	assert.Equal(t, "sk-123", p.APIKey())
	assert.Empty(t, (&LLMProviderConfig{}).APIKey())
}
