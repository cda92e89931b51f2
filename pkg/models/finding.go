// Package models defines the shared data model: findings, code units,
// analysis tasks, and audit sessions.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Severity classifies how serious a finding is.
type Severity string

// Severity levels, ordered from most to least severe.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Weight returns the severity weight used by the risk score.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 7
	case SeverityMedium:
		return 4
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 0.5
	default:
		return 0
	}
}

// Rank returns a sort rank; lower ranks sort first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	case SeverityInfo:
		return 4
	default:
		return 5
	}
}

// Category classifies the kind of security concern a finding represents.
type Category string

// Finding categories.
const (
	CategoryInjection       Category = "injection"
	CategoryAuth            Category = "auth"
	CategorySensitiveData   Category = "sensitive-data"
	CategoryCrypto          Category = "crypto"
	CategoryInputValidation Category = "input-validation"
	CategorySession         Category = "session"
	CategoryConfig          Category = "config"
	CategoryQuality         Category = "quality"
	CategoryDependency      Category = "dependency"
	CategoryOther           Category = "other"
)

// Evidence records the outcome of one related-file analysis that supported
// or weakened a finding during cross-file analysis.
type Evidence struct {
	FilePath   string  `json:"file_path"`
	Summary    string  `json:"summary"`
	Adjustment float64 `json:"adjustment"`
}

// Finding is the atomic result of one LLM analysis. Findings are immutable
// once aggregated.
type Finding struct {
	ID           string             `json:"id"`
	Title        string             `json:"title"`
	Description  string             `json:"description"`
	Severity     Severity           `json:"severity"`
	Category     Category           `json:"category"`
	FilePath     string             `json:"file_path"`
	Line         int                `json:"line,omitempty"`
	Snippet      string             `json:"snippet,omitempty"`
	CWE          string             `json:"cwe,omitempty"`
	Confidence   float64            `json:"confidence"`
	FactorScores map[string]float64 `json:"factor_scores,omitempty"`
	Evidence     []Evidence         `json:"evidence,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// FindingID derives the stable finding identifier from title, path and line.
func FindingID(title, filePath string, line int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%d", title, filePath, line))
	return hex.EncodeToString(sum[:8])
}
