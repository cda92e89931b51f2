package config

import (
	"errors"
	"fmt"
)

// Validator performs comprehensive validation on loaded configuration.
// Validation failures are fatal at session start; no work is queued.
type Validator struct {
	cfg  *Config
	errs []error
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates every configuration section and returns the
// accumulated errors, if any.
func (v *Validator) ValidateAll() error {
	v.validateProviders()
	v.validateAudit()
	v.validateBreaker()
	v.validateConcurrency()
	v.validateCrossFile()
	v.validateRecursion()

	if len(v.errs) > 0 {
		return errors.Join(v.errs...)
	}
	return nil
}

func (v *Validator) addError(component, id, field string, err error) {
	v.errs = append(v.errs, NewValidationError(component, id, field, err))
}

func (v *Validator) validateProviders() {
	providers := v.cfg.LLMProviderRegistry.GetAll()
	if len(providers) == 0 {
		v.addError("llm", "providers", "", fmt.Errorf("%w: at least one provider required", ErrMissingRequiredField))
		return
	}

	enabled := 0
	for name, p := range providers {
		if p.BaseURL == "" {
			v.addError("llm_provider", name, "base_url", ErrMissingRequiredField)
		}
		if len(p.Models) == 0 {
			v.addError("llm_provider", name, "models", ErrMissingRequiredField)
		}
		if p.MaxRequestsPerMinute <= 0 {
			v.addError("llm_provider", name, "max_requests_per_minute", ErrInvalidValue)
		}
		if p.MaxTokensPerMinute <= 0 {
			v.addError("llm_provider", name, "max_tokens_per_minute", ErrInvalidValue)
		}
		if p.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		v.addError("llm", "providers", "enabled", fmt.Errorf("%w: no provider enabled", ErrInvalidValue))
	}

	if v.cfg.DefaultModel != "" {
		supported := false
		for _, p := range providers {
			if p.SupportsModel(v.cfg.DefaultModel) {
				supported = true
				break
			}
		}
		if !supported {
			v.addError("llm", "default_model", "",
				fmt.Errorf("%w: model %q not supported by any provider", ErrInvalidValue, v.cfg.DefaultModel))
		}
	}

	if !v.cfg.Strategy.Valid() {
		v.addError("llm", "strategy", "", fmt.Errorf("%w: %q", ErrInvalidValue, v.cfg.Strategy))
	}
}

func (v *Validator) validateAudit() {
	a := v.cfg.Audit
	if a.WorkerCount <= 0 {
		v.addError("audit", "audit", "worker_count", ErrInvalidValue)
	}
	if a.MaxConcurrentSessions <= 0 {
		v.addError("audit", "audit", "max_concurrent_sessions", ErrInvalidValue)
	}
	if a.TaskTimeout <= 0 {
		v.addError("audit", "audit", "task_timeout_seconds", ErrInvalidValue)
	}
	if a.MaxFilesPerAudit < 0 {
		v.addError("audit", "audit", "max_files_per_audit", ErrInvalidValue)
	}
}

func (v *Validator) validateBreaker() {
	b := v.cfg.Breaker
	if b.FailureThreshold == 0 {
		v.addError("circuit_breaker", "circuit_breaker", "failure_threshold", ErrInvalidValue)
	}
	if b.SuccessThreshold == 0 {
		v.addError("circuit_breaker", "circuit_breaker", "success_threshold", ErrInvalidValue)
	}
	if b.RecoveryTimeout <= 0 {
		v.addError("circuit_breaker", "circuit_breaker", "recovery_timeout_seconds", ErrInvalidValue)
	}
}

func (v *Validator) validateConcurrency() {
	c := v.cfg.Concurrency
	if c.Min <= 0 || c.Max < c.Min {
		v.addError("concurrency", "concurrency", "min/max", ErrInvalidValue)
	}
	if c.Initial < c.Min || c.Initial > c.Max {
		v.addError("concurrency", "concurrency", "initial",
			fmt.Errorf("%w: initial %d outside [%d, %d]", ErrInvalidValue, c.Initial, c.Min, c.Max))
	}
}

func (v *Validator) validateCrossFile() {
	c := v.cfg.CrossFile
	if c.MaxDepth <= 0 {
		v.addError("cross_file", "cross_file", "max_depth", ErrInvalidValue)
	}
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor >= 1 {
		v.addError("cross_file", "cross_file", "confidence_floor", ErrInvalidValue)
	}
	if c.MaxRelatedFiles <= 0 {
		v.addError("cross_file", "cross_file", "max_related_files", ErrInvalidValue)
	}
}

func (v *Validator) validateRecursion() {
	if v.cfg.Recursion.MaxDepth <= 0 {
		v.addError("recursion", "recursion", "max_depth", ErrInvalidValue)
	}
}
