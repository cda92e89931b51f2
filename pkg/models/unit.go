package models

import (
	"fmt"
	"time"
)

// UnitType identifies the scope a code unit covers.
type UnitType string

// Code unit types.
const (
	UnitTypeFile     UnitType = "file"
	UnitTypeFunction UnitType = "function"
	UnitTypeClass    UnitType = "class"
	UnitTypeModule   UnitType = "module"
)

// UnitStatus is the lifecycle state of a code unit. Transitions only move
// forward: pending → in_progress → {completed | failed | skipped}.
type UnitStatus string

// Code unit statuses.
const (
	UnitStatusPending    UnitStatus = "pending"
	UnitStatusInProgress UnitStatus = "in_progress"
	UnitStatusCompleted  UnitStatus = "completed"
	UnitStatusSkipped    UnitStatus = "skipped"
	UnitStatusFailed     UnitStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s UnitStatus) Terminal() bool {
	switch s {
	case UnitStatusCompleted, UnitStatusSkipped, UnitStatusFailed:
		return true
	}
	return false
}

// Priority orders code units and tasks for dispatch.
type Priority string

// Priority levels, ordered from most to least urgent.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns a drain order; lower ranks drain first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Priorities lists all priority levels in drain order.
func Priorities() []Priority {
	return []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
}

// CodeUnit is one analyzable scope discovered in the project. Created once
// by discovery; mutated only by the coverage tracker under the
// orchestrator's dispatch.
type CodeUnit struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	FilePath         string        `json:"file_path"`
	StartLine        int           `json:"start_line"`
	EndLine          int           `json:"end_line"`
	Type             UnitType      `json:"type"`
	Status           UnitStatus    `json:"status"`
	Priority         Priority      `json:"priority"`
	Dependencies     []string      `json:"dependencies,omitempty"`
	AnalyzedAt       time.Time     `json:"analyzed_at,omitzero"`
	AnalysisDuration time.Duration `json:"analysis_duration,omitempty"`
	FailureReason    string        `json:"failure_reason,omitempty"`
}

// UnitID derives the canonical unit identifier.
func UnitID(typ UnitType, path, name string, line int) string {
	return fmt.Sprintf("%s:%s:%s:%d", typ, path, name, line)
}
