package models

import "time"

// TaskType identifies the kind of analysis a task performs.
type TaskType string

// Analysis task types.
const (
	TaskTypeFile            TaskType = "file"
	TaskTypeFunction        TaskType = "function"
	TaskTypeClass           TaskType = "class"
	TaskTypeSecurityScan    TaskType = "security_scan"
	TaskTypeDependencyCheck TaskType = "dependency_check"
	TaskTypeContextBuild    TaskType = "context_build"
)

// TaskMetrics hold the scoring inputs for a task. All values are in [0,1]
// except EstimatedDuration (seconds) and EstimatedMemoryMB (megabytes).
type TaskMetrics struct {
	SecurityImpact      float64 `json:"security_impact"`
	BusinessCriticality float64 `json:"business_criticality"`
	Complexity          float64 `json:"complexity"`
	EstimatedDuration   float64 `json:"estimated_duration"`
	EstimatedMemoryMB   float64 `json:"estimated_memory_mb"`
	DependencyCount     float64 `json:"dependency_count"`
	FailureRisk         float64 `json:"failure_risk"`
}

// AnalysisTask binds a code unit to one scheduled analysis.
type AnalysisTask struct {
	ID         string      `json:"id"`
	UnitID     string      `json:"unit_id"`
	Type       TaskType    `json:"type"`
	Model      string      `json:"model"`
	Priority   Priority    `json:"priority"`
	DependsOn  []string    `json:"depends_on,omitempty"`
	RetryCount int         `json:"retry_count"`
	MaxRetries int         `json:"max_retries"`
	Metrics    TaskMetrics `json:"metrics"`
	CreatedAt  time.Time   `json:"created_at"`
	LastError  string      `json:"last_error,omitempty"`
}

// DefaultMaxRetries is applied when a task does not specify its own limit.
const DefaultMaxRetries = 3

// PriorityScore computes the continuous dispatch score. Higher scores
// dispatch first.
func (t *AnalysisTask) PriorityScore() float64 {
	durationPenalty := t.Metrics.EstimatedDuration / 300
	if durationPenalty > 1 {
		durationPenalty = 1
	}
	depPenalty := t.Metrics.DependencyCount / 10
	if depPenalty > 1 {
		depPenalty = 1
	}
	return 0.35*t.Metrics.SecurityImpact +
		0.25*t.Metrics.BusinessCriticality -
		0.15*t.Metrics.Complexity -
		0.10*durationPenalty -
		0.05*depPenalty -
		0.10*t.Metrics.FailureRisk
}
