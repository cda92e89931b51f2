package models

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionTransitions(t *testing.T) {
	s := NewSession("s1", "/tmp/project")
	assert.Equal(t, SessionStatusCreated, s.CurrentStatus())

	// Happy path
	assert.True(t, s.Transition(SessionStatusInitializing))
	assert.True(t, s.Transition(SessionStatusRunning))
	assert.False(t, s.StartedAt.IsZero())

	// Pause round trip
	assert.True(t, s.Transition(SessionStatusPaused))
	assert.True(t, s.Transition(SessionStatusRunning))

	assert.True(t, s.Transition(SessionStatusCompleted))
	assert.False(t, s.CompletedAt.IsZero())

	// Terminal states admit nothing
	assert.False(t, s.Transition(SessionStatusRunning))
	assert.False(t, s.Transition(SessionStatusFailed))
}

func TestSessionIllegalTransitions(t *testing.T) {
	s := NewSession("s2", "/tmp/project")

	// Cannot run before initializing
	assert.False(t, s.Transition(SessionStatusRunning))
	// Cannot complete from created
	assert.False(t, s.Transition(SessionStatusCompleted))
	// Cancel from created is allowed
	assert.True(t, s.Transition(SessionStatusCancelled))
}

func TestSessionProgressCallback(t *testing.T) {
	s := NewSession("s3", "/tmp/project")

	changed := s.UpdateProgress(func(p *Progress) { p.TotalFiles = 10 })
	assert.False(t, changed, "total file changes alone do not trigger callbacks")

	changed = s.UpdateProgress(func(p *Progress) { p.AnalyzedFiles++ })
	assert.True(t, changed)

	changed = s.UpdateProgress(func(p *Progress) { p.CurrentFile = "a.py" })
	assert.True(t, changed)

	changed = s.UpdateProgress(func(p *Progress) { p.FailedFiles++ })
	assert.False(t, changed)
}

func TestSessionCancel(t *testing.T) {
	s := NewSession("s4", "/tmp/project")

	// No cancel func registered yet
	assert.False(t, s.Cancel())

	ctx, cancel := context.WithCancel(context.Background())
	s.SetCancelFunc(cancel)
	assert.True(t, s.Cancel())
	assert.Error(t, ctx.Err())

	s.Transition(SessionStatusInitializing)
	s.Transition(SessionStatusCancelled)
	assert.False(t, s.Cancel(), "terminal sessions are not cancellable")
}

func TestUnitStatusLifecycle(t *testing.T) {
	assert.False(t, UnitStatusPending.Terminal())
	assert.False(t, UnitStatusInProgress.Terminal())
	assert.True(t, UnitStatusCompleted.Terminal())
	assert.True(t, UnitStatusFailed.Terminal())
	assert.True(t, UnitStatusSkipped.Terminal())
}

func TestPriorityScore(t *testing.T) {
	task := &AnalysisTask{
		Metrics: TaskMetrics{
			SecurityImpact:      1.0,
			BusinessCriticality: 1.0,
		},
	}
	assert.InDelta(t, 0.60, task.PriorityScore(), 1e-9)

	// Duration penalty clips at 300s
	task.Metrics.EstimatedDuration = 10_000
	assert.InDelta(t, 0.50, task.PriorityScore(), 1e-9)

	// Dependency penalty clips at 10
	task.Metrics.DependencyCount = 100
	assert.InDelta(t, 0.45, task.PriorityScore(), 1e-9)
}

func TestFindingID(t *testing.T) {
	id1 := FindingID("SQL Injection", "a.py", 10)
	id2 := FindingID("SQL Injection", "a.py", 10)
	id3 := FindingID("SQL Injection", "a.py", 11)

	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.Len(t, id1, 16)
}
