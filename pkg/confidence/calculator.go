// Package confidence rescores LLM-reported findings using six weighted
// factors derived from the finding and its surrounding code context.
package confidence

import (
	"strings"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/models"
)

// Factor names, used as keys in the per-factor breakdown.
const (
	FactorFrameworkProtection      = "framework_protection"
	FactorArchitectureAppropriate  = "architecture_appropriateness"
	FactorCodeComplexity           = "code_complexity"
	FactorPatternReliability       = "pattern_reliability"
	FactorContextCompleteness      = "context_completeness"
	FactorHistoricalAccuracy       = "historical_accuracy"
)

// Risk level thresholds on the final score.
const (
	riskCritical = 0.85
	riskHigh     = 0.65
	riskMedium   = 0.4
)

// RiskLevel buckets a confidence score.
type RiskLevel string

// Risk levels.
const (
	RiskCritical RiskLevel = "critical"
	RiskHigh     RiskLevel = "high"
	RiskMedium   RiskLevel = "medium"
	RiskLow      RiskLevel = "low"
)

// Context describes the code surrounding a finding.
type Context struct {
	FilePath          string
	Frameworks        []string
	ArchitectureLayer string
	TechStack         []string
	SecurityConfig    map[string]bool
	CallChain         []string
}

// Result is the rescoring outcome.
type Result struct {
	Score     float64
	RiskLevel RiskLevel
	Factors   map[string]float64
}

// Calculator computes final confidence scores. The zero value is not
// usable; construct with New.
type Calculator struct {
	weights map[string]float64

	// Per-category calibration of historical precision. Overridable so
	// deployments can feed back measured false-positive rates.
	historical map[models.Category]float64

	// Per-category reliability of the catalog patterns.
	reliability map[models.Category]float64
}

// Option adjusts calculator calibration.
type Option func(*Calculator)

// WithWeights replaces the default factor weights. Missing factors keep
// their defaults.
func WithWeights(weights map[string]float64) Option {
	return func(c *Calculator) {
		for k, v := range weights {
			c.weights[k] = v
		}
	}
}

// WithHistoricalAccuracy replaces per-category calibration values.
func WithHistoricalAccuracy(values map[models.Category]float64) Option {
	return func(c *Calculator) {
		for k, v := range values {
			c.historical[k] = v
		}
	}
}

// New creates a calculator with the default weights and calibration.
func New(opts ...Option) *Calculator {
	c := &Calculator{
		weights: map[string]float64{
			FactorFrameworkProtection:     0.25,
			FactorArchitectureAppropriate: 0.15,
			FactorCodeComplexity:          0.10,
			FactorPatternReliability:      0.15,
			FactorContextCompleteness:     0.10,
			FactorHistoricalAccuracy:      0.25,
		},
		historical: map[models.Category]float64{
			models.CategoryInjection:       0.85,
			models.CategoryAuth:            0.70,
			models.CategorySensitiveData:   0.80,
			models.CategoryCrypto:          0.75,
			models.CategoryInputValidation: 0.70,
			models.CategorySession:         0.65,
			models.CategoryConfig:          0.60,
			models.CategoryQuality:         0.50,
			models.CategoryDependency:      0.75,
			models.CategoryOther:           0.50,
		},
		reliability: map[models.Category]float64{
			models.CategoryInjection:       0.90,
			models.CategoryAuth:            0.70,
			models.CategorySensitiveData:   0.85,
			models.CategoryCrypto:          0.80,
			models.CategoryInputValidation: 0.75,
			models.CategorySession:         0.70,
			models.CategoryConfig:          0.65,
			models.CategoryQuality:         0.55,
			models.CategoryDependency:      0.80,
			models.CategoryOther:           0.50,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calculate scores one finding against its context. The final score is
// clamp(sum(weight*factor), 0, 1).
func (c *Calculator) Calculate(f *models.Finding, ctx *Context) Result {
	factors := map[string]float64{
		FactorFrameworkProtection:     c.frameworkProtection(f, ctx),
		FactorArchitectureAppropriate: c.architectureFit(f, ctx),
		FactorCodeComplexity:          c.codeComplexity(f),
		FactorPatternReliability:      c.patternReliability(f),
		FactorContextCompleteness:     c.contextCompleteness(ctx),
		FactorHistoricalAccuracy:      c.historicalAccuracy(f),
	}

	score := 0.0
	for name, value := range factors {
		score += c.weights[name] * value
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	return Result{
		Score:     score,
		RiskLevel: levelOf(score),
		Factors:   factors,
	}
}

// frameworkMitigations maps frameworks to the categories they mitigate by
// default.
var frameworkMitigations = map[string][]models.Category{
	"django":    {models.CategoryInjection, models.CategorySession},
	"rails":     {models.CategoryInjection, models.CategorySession},
	"spring":    {models.CategoryInjection, models.CategoryAuth},
	"hibernate": {models.CategoryInjection},
	"mybatis":   {},
	"react":     {models.CategoryInjection},
	"vue":       {models.CategoryInjection},
	"gin":       {},
	"express":   {},
}

func (c *Calculator) frameworkProtection(f *models.Finding, ctx *Context) float64 {
	if ctx == nil || len(ctx.Frameworks) == 0 {
		return 0.7
	}
	for _, fw := range ctx.Frameworks {
		for _, mitigated := range frameworkMitigations[strings.ToLower(fw)] {
			if mitigated == f.Category {
				// A framework already guards this class; the finding is
				// likelier a false positive.
				return 0.4
			}
		}
	}
	return 0.8
}

func (c *Calculator) architectureFit(f *models.Finding, ctx *Context) float64 {
	if ctx == nil || ctx.ArchitectureLayer == "" {
		return 0.7
	}
	layer := strings.ToLower(ctx.ArchitectureLayer)
	switch f.Category {
	case models.CategoryAuth:
		// Authorization findings in data-access layers are usually
		// misattributed; the check belongs upstream.
		if layer == "dao" || layer == "repository" || layer == "model" {
			return 0.3
		}
		if layer == "controller" || layer == "handler" || layer == "middleware" {
			return 0.9
		}
	case models.CategoryInjection:
		if layer == "dao" || layer == "repository" {
			return 0.9
		}
	case models.CategoryInputValidation:
		if layer == "controller" || layer == "handler" {
			return 0.9
		}
	}
	return 0.7
}

func (c *Calculator) codeComplexity(f *models.Finding) float64 {
	if f.Snippet == "" {
		return 0.6
	}
	lines := strings.Count(f.Snippet, "\n") + 1
	switch {
	case lines <= 5:
		return 0.9
	case lines <= 15:
		return 0.7
	case lines <= 40:
		return 0.5
	default:
		return 0.3
	}
}

func (c *Calculator) patternReliability(f *models.Finding) float64 {
	if v, ok := c.reliability[f.Category]; ok {
		return v
	}
	return 0.5
}

func (c *Calculator) contextCompleteness(ctx *Context) float64 {
	if ctx == nil {
		return 0.2
	}
	score := 0.0
	if ctx.FilePath != "" {
		score += 0.2
	}
	if len(ctx.Frameworks) > 0 {
		score += 0.2
	}
	if ctx.ArchitectureLayer != "" {
		score += 0.2
	}
	if len(ctx.TechStack) > 0 {
		score += 0.2
	}
	if len(ctx.SecurityConfig) > 0 {
		score += 0.1
	}
	if len(ctx.CallChain) > 0 {
		score += 0.1
	}
	return score
}

func (c *Calculator) historicalAccuracy(f *models.Finding) float64 {
	if v, ok := c.historical[f.Category]; ok {
		return v
	}
	return 0.5
}

func levelOf(score float64) RiskLevel {
	switch {
	case score >= riskCritical:
		return RiskCritical
	case score >= riskHigh:
		return RiskHigh
	case score >= riskMedium:
		return RiskMedium
	default:
		return RiskLow
	}
}
