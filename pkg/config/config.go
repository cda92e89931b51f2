// Package config loads, merges, and validates audit configuration from YAML
// files and the environment, producing a frozen Config record.
package config

import "time"

// Config is the frozen, validated configuration for one process.
type Config struct {
	configDir string

	// DefaultModel is used when a request does not name a model.
	DefaultModel string

	// Strategy selects provider ordering in the LLM manager.
	Strategy ProviderStrategy

	Audit       *AuditConfig
	Cache       *CacheConfig
	Breaker     *BreakerConfig
	Concurrency *ConcurrencyConfig
	Filtering   *FileFilteringConfig
	CrossFile   *CrossFileConfig
	Recursion   *RecursionConfig

	// SecurityRules enables/disables rule classes by name
	// (sql_injection, xss, csrf, authentication, authorization, ...).
	SecurityRules map[string]bool

	// LLMProviderRegistry holds per-provider configuration.
	LLMProviderRegistry *LLMProviderRegistry
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	LLMProviders  int
	SecurityRules int
}

// Stats returns configuration statistics.
func (c *Config) Stats() Stats {
	return Stats{
		LLMProviders:  c.LLMProviderRegistry.Len(),
		SecurityRules: len(c.SecurityRules),
	}
}

// AuditConfig controls session-level limits.
type AuditConfig struct {
	MaxConcurrentSessions int           `yaml:"max_concurrent_sessions"`
	WorkerCount           int           `yaml:"worker_count"`
	TaskTimeout           time.Duration `yaml:"task_timeout"`
	SessionTimeout        time.Duration `yaml:"session_timeout"`
	MaxFileSize           int64         `yaml:"max_file_size"`
	MaxFilesPerAudit      int           `yaml:"max_files_per_audit"`
	SupportedLanguages    []string      `yaml:"supported_languages"`
	RebalanceInterval     time.Duration `yaml:"rebalance_interval"`
}

// CacheConfig controls the on-disk result cache.
type CacheConfig struct {
	Dir         string        `yaml:"dir"`
	MaxSizeMB   int64         `yaml:"max_size_mb"`
	TTL         time.Duration `yaml:"ttl"`
	WatchFiles  bool          `yaml:"watch_files"`
	Disabled    bool          `yaml:"disabled"`
	MaxSizeByte int64         `yaml:"-"` // derived: MaxSizeMB << 20
}

// BreakerConfig holds circuit breaker thresholds, shared by all providers.
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	SuccessThreshold uint32        `yaml:"success_threshold"`
}

// ConcurrencyConfig bounds in-flight LLM calls.
type ConcurrencyConfig struct {
	Initial            int           `yaml:"initial"`
	Min                int           `yaml:"min"`
	Max                int           `yaml:"max"`
	AdjustmentInterval time.Duration `yaml:"adjustment_interval"`
}

// CrossFileConfig controls the cross-file follow-up analyzer.
type CrossFileConfig struct {
	Enabled         bool             `yaml:"enabled"`
	MaxDepth        int              `yaml:"max_depth"`
	ConfidenceFloor float64          `yaml:"confidence_floor"`
	MaxRelatedFiles int              `yaml:"max_related_files"`
	Search          CrossFileSearch  `yaml:"search"`
	FileCacheSize   int              `yaml:"file_cache_size"`
}

// CrossFileSearch bounds the caller-file content search.
type CrossFileSearch struct {
	MaxFiles     int      `yaml:"max_files"`
	MaxFileBytes int64    `yaml:"max_file_bytes"`
	PreviewBytes int      `yaml:"preview_bytes"`
	Extensions   []string `yaml:"extensions"`
}

// RecursionConfig bounds nested analysis depth.
type RecursionConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// ConditionalIgnore toggles pattern groups in the file filter.
type ConditionalIgnore struct {
	CSSFiles  bool `yaml:"css_files"`
	TestFiles bool `yaml:"test_files"`
	DocFiles  bool `yaml:"doc_files"`
	LogFiles  bool `yaml:"log_files"`
}

// FileFilteringConfig controls which files discovery considers.
type FileFilteringConfig struct {
	Enabled           bool              `yaml:"enabled"`
	IgnorePatterns    []string          `yaml:"ignore_patterns"`
	UseGitignore      bool              `yaml:"use_gitignore"`
	MaxFileSize       int64             `yaml:"max_file_size"`
	DetectLibraries   bool              `yaml:"detect_libraries"`
	LibraryKeywords   []string          `yaml:"library_keywords"`
	ForceInclude      []string          `yaml:"force_include"`
	ConditionalIgnore ConditionalIgnore `yaml:"conditional_ignore"`
}
