package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// auditYAMLConfig represents the complete aiaudit.yaml file structure.
// Interval-valued options are numeric (seconds/hours) as documented in the
// configuration reference; resolution converts them to durations.
type auditYAMLConfig struct {
	LLM           *llmYAMLConfig       `yaml:"llm"`
	Audit         *auditYAMLSection    `yaml:"audit"`
	CacheDir      string               `yaml:"cache_dir"`
	Cache         *cacheYAMLSection    `yaml:"cache"`
	RateLimiter   *rateLimiterYAML     `yaml:"rate_limiter"`
	Breaker       *breakerYAMLSection  `yaml:"circuit_breaker"`
	Concurrency   *concurrencyYAML     `yaml:"concurrency"`
	FileFiltering *FileFilteringConfig `yaml:"file_filtering"`
	CrossFile     *CrossFileConfig     `yaml:"cross_file"`
	Recursion     *RecursionConfig     `yaml:"recursion"`
	SecurityRules map[string]bool      `yaml:"security_rules"`
}

type llmYAMLConfig struct {
	DefaultModel string           `yaml:"default_model"`
	Strategy     ProviderStrategy `yaml:"strategy"`
}

type auditYAMLSection struct {
	MaxConcurrentSessions int      `yaml:"max_concurrent_sessions"`
	WorkerCount           int      `yaml:"worker_count"`
	TaskTimeoutSeconds    int      `yaml:"task_timeout_seconds"`
	SessionTimeoutSeconds int      `yaml:"session_timeout_seconds"`
	CacheTTLSeconds       int      `yaml:"cache_ttl_seconds"`
	MaxFileSize           int64    `yaml:"max_file_size"`
	MaxFilesPerAudit      *int     `yaml:"max_files_per_audit"`
	SupportedLanguages    []string `yaml:"supported_languages"`
	RebalanceMinutes      int      `yaml:"rebalance_interval_minutes"`
}

type cacheYAMLSection struct {
	MaxSizeMB  int64 `yaml:"max_size_mb"`
	TTLHours   int   `yaml:"ttl_hours"`
	WatchFiles bool  `yaml:"watch_files"`
	Disabled   bool  `yaml:"disabled"`
}

// rateLimiterYAML provides process-wide rate limiter fallbacks; per-provider
// blocks in llm-providers.yaml override them.
type rateLimiterYAML struct {
	RPM               int `yaml:"rpm"`
	TPM               int `yaml:"tpm"`
	WindowSizeSeconds int `yaml:"window_size_seconds"`
}

type breakerYAMLSection struct {
	FailureThreshold       uint32 `yaml:"failure_threshold"`
	RecoveryTimeoutSeconds int    `yaml:"recovery_timeout_seconds"`
	SuccessThreshold       uint32 `yaml:"success_threshold"`
}

type concurrencyYAML struct {
	Initial                   int `yaml:"initial"`
	Min                       int `yaml:"min"`
	Max                       int `yaml:"max"`
	AdjustmentIntervalSeconds int `yaml:"adjustment_interval_seconds"`
}

// llmProvidersYAMLConfig represents the complete llm-providers.yaml file.
type llmProvidersYAMLConfig struct {
	LLMProviders map[string]*LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"llm_providers", stats.LLMProviders,
		"security_rules", stats.SecurityRules,
		"default_model", cfg.DefaultModel)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	raw, err := loader.loadAuditYAML()
	if err != nil {
		return nil, NewLoadError("aiaudit.yaml", err)
	}

	providers, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	// Rate limiter fallbacks apply to providers that leave limits unset.
	rpm, tpm := DefaultRPM, DefaultTPM
	if raw.RateLimiter != nil {
		if raw.RateLimiter.RPM > 0 {
			rpm = raw.RateLimiter.RPM
		}
		if raw.RateLimiter.TPM > 0 {
			tpm = raw.RateLimiter.TPM
		}
	}
	for _, p := range providers {
		if p.MaxRequestsPerMinute <= 0 {
			p.MaxRequestsPerMinute = rpm
		}
		if p.MaxTokensPerMinute <= 0 {
			p.MaxTokensPerMinute = tpm
		}
	}

	filtering := DefaultFilteringConfig()
	if raw.FileFiltering != nil {
		if err := mergo.Merge(filtering, raw.FileFiltering, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge file_filtering config: %w", err)
		}
	}

	crossFile := DefaultCrossFileConfig()
	if raw.CrossFile != nil {
		if err := mergo.Merge(crossFile, raw.CrossFile, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge cross_file config: %w", err)
		}
	}

	recursion := DefaultRecursionConfig()
	if raw.Recursion != nil && raw.Recursion.MaxDepth > 0 {
		recursion.MaxDepth = raw.Recursion.MaxDepth
	}

	rules := DefaultSecurityRules()
	for name, enabled := range raw.SecurityRules {
		rules[name] = enabled
	}

	defaultModel := ""
	strategy := StrategyRoundRobin
	if raw.LLM != nil {
		defaultModel = raw.LLM.DefaultModel
		if raw.LLM.Strategy != "" {
			strategy = raw.LLM.Strategy
		}
	}

	return &Config{
		configDir:           configDir,
		DefaultModel:        defaultModel,
		Strategy:            strategy,
		Audit:               resolveAuditConfig(raw.Audit),
		Cache:               resolveCacheConfig(raw.CacheDir, raw.Cache, raw.Audit),
		Breaker:             resolveBreakerConfig(raw.Breaker),
		Concurrency:         resolveConcurrencyConfig(raw.Concurrency),
		Filtering:           filtering,
		CrossFile:           crossFile,
		Recursion:           recursion,
		SecurityRules:       rules,
		LLMProviderRegistry: NewLLMProviderRegistry(providers),
	}, nil
}

func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadAuditYAML() (*auditYAMLConfig, error) {
	var cfg auditYAMLConfig
	cfg.SecurityRules = make(map[string]bool)
	if err := l.loadYAML("aiaudit.yaml", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]*LLMProviderConfig, error) {
	var cfg llmProvidersYAMLConfig
	cfg.LLMProviders = make(map[string]*LLMProviderConfig)
	if err := l.loadYAML("llm-providers.yaml", &cfg); err != nil {
		return nil, err
	}
	return cfg.LLMProviders, nil
}

func resolveAuditConfig(raw *auditYAMLSection) *AuditConfig {
	cfg := DefaultAuditConfig()
	if raw == nil {
		return cfg
	}

	if raw.MaxConcurrentSessions > 0 {
		cfg.MaxConcurrentSessions = raw.MaxConcurrentSessions
	}
	if raw.WorkerCount > 0 {
		cfg.WorkerCount = raw.WorkerCount
	}
	if raw.TaskTimeoutSeconds > 0 {
		cfg.TaskTimeout = time.Duration(raw.TaskTimeoutSeconds) * time.Second
	}
	if raw.SessionTimeoutSeconds > 0 {
		cfg.SessionTimeout = time.Duration(raw.SessionTimeoutSeconds) * time.Second
	}
	if raw.MaxFileSize > 0 {
		cfg.MaxFileSize = raw.MaxFileSize
	}
	if raw.MaxFilesPerAudit != nil && *raw.MaxFilesPerAudit >= 0 {
		cfg.MaxFilesPerAudit = *raw.MaxFilesPerAudit
	}
	if len(raw.SupportedLanguages) > 0 {
		cfg.SupportedLanguages = raw.SupportedLanguages
	}
	if raw.RebalanceMinutes > 0 {
		cfg.RebalanceInterval = time.Duration(raw.RebalanceMinutes) * time.Minute
	}
	return cfg
}

func resolveCacheConfig(dir string, raw *cacheYAMLSection, audit *auditYAMLSection) *CacheConfig {
	cfg := DefaultCacheConfig()
	if dir != "" {
		cfg.Dir = dir
	}
	if audit != nil && audit.CacheTTLSeconds > 0 {
		cfg.TTL = time.Duration(audit.CacheTTLSeconds) * time.Second
	}
	if raw != nil {
		if raw.MaxSizeMB > 0 {
			cfg.MaxSizeMB = raw.MaxSizeMB
		}
		if raw.TTLHours > 0 {
			cfg.TTL = time.Duration(raw.TTLHours) * time.Hour
		}
		cfg.WatchFiles = raw.WatchFiles
		cfg.Disabled = raw.Disabled
	}
	cfg.MaxSizeByte = cfg.MaxSizeMB << 20
	return cfg
}

func resolveBreakerConfig(raw *breakerYAMLSection) *BreakerConfig {
	cfg := DefaultBreakerConfig()
	if raw == nil {
		return cfg
	}
	if raw.FailureThreshold > 0 {
		cfg.FailureThreshold = raw.FailureThreshold
	}
	if raw.RecoveryTimeoutSeconds > 0 {
		cfg.RecoveryTimeout = time.Duration(raw.RecoveryTimeoutSeconds) * time.Second
	}
	if raw.SuccessThreshold > 0 {
		cfg.SuccessThreshold = raw.SuccessThreshold
	}
	return cfg
}

func resolveConcurrencyConfig(raw *concurrencyYAML) *ConcurrencyConfig {
	cfg := DefaultConcurrencyConfig()
	if raw == nil {
		return cfg
	}
	if raw.Initial > 0 {
		cfg.Initial = raw.Initial
	}
	if raw.Min > 0 {
		cfg.Min = raw.Min
	}
	if raw.Max > 0 {
		cfg.Max = raw.Max
	}
	if raw.AdjustmentIntervalSeconds > 0 {
		cfg.AdjustmentInterval = time.Duration(raw.AdjustmentIntervalSeconds) * time.Second
	}
	return cfg
}
