package config

import "time"

// Built-in fallbacks applied when YAML leaves values unset.
const (
	DefaultRPM              = 10000
	DefaultTPM              = 400000
	DefaultMaxContextTokens = 131072
)

// DefaultAuditConfig returns the built-in audit defaults.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		MaxConcurrentSessions: 2,
		WorkerCount:           3,
		TaskTimeout:           10 * time.Minute,
		SessionTimeout:        60 * time.Minute,
		MaxFileSize:           1 << 20,
		MaxFilesPerAudit:      500,
		SupportedLanguages:    []string{"Python", "JavaScript", "Java", "Go"},
		RebalanceInterval:     15 * time.Minute,
	}
}

// DefaultCacheConfig returns the built-in cache defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Dir:       ".ai_audit_cache",
		MaxSizeMB: 500,
		TTL:       24 * time.Hour,
	}
}

// DefaultBreakerConfig returns the built-in circuit breaker thresholds.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
	}
}

// DefaultConcurrencyConfig returns the built-in concurrency bounds.
func DefaultConcurrencyConfig() *ConcurrencyConfig {
	return &ConcurrencyConfig{
		Initial:            15,
		Min:                5,
		Max:                25,
		AdjustmentInterval: 30 * time.Second,
	}
}

// DefaultCrossFileConfig returns the built-in cross-file analyzer bounds.
func DefaultCrossFileConfig() *CrossFileConfig {
	return &CrossFileConfig{
		Enabled:         true,
		MaxDepth:        3,
		ConfidenceFloor: 0.3,
		MaxRelatedFiles: 5,
		FileCacheSize:   64,
		Search: CrossFileSearch{
			MaxFiles:     100,
			MaxFileBytes: 512000,
			PreviewBytes: 10240,
			Extensions:   []string{".py", ".js", ".java", ".go", ".php", ".rb", ".ts"},
		},
	}
}

// DefaultRecursionConfig returns the built-in recursion bound.
func DefaultRecursionConfig() *RecursionConfig {
	return &RecursionConfig{MaxDepth: 50}
}

// DefaultFilteringConfig returns the built-in file filtering defaults.
func DefaultFilteringConfig() *FileFilteringConfig {
	return &FileFilteringConfig{
		Enabled:      true,
		UseGitignore: true,
		MaxFileSize:  1 << 20,
		IgnorePatterns: []string{
			"**/node_modules/**",
			"**/vendor/**",
			"**/.git/**",
			"**/dist/**",
			"**/build/**",
			"**/__pycache__/**",
			"**/*.min.js",
			"**/*.min.css",
		},
		DetectLibraries: true,
		LibraryKeywords: []string{
			"jQuery JavaScript Library",
			"Bootstrap v",
			"React v",
			"Vue.js v",
			"Copyright Google LLC",
			"webpackBootstrap",
		},
		ConditionalIgnore: ConditionalIgnore{
			CSSFiles: true,
			LogFiles: true,
		},
	}
}

// DefaultSecurityRules enables every rule class by default.
func DefaultSecurityRules() map[string]bool {
	return map[string]bool{
		"sql_injection":  true,
		"xss":            true,
		"csrf":           true,
		"authentication": true,
		"authorization":  true,
		"path_traversal": true,
		"file_upload":    true,
		"sensitive_data": true,
	}
}
