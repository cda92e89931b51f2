package taskmatrix

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/models"
)

func task(id string, impact float64, deps ...string) *models.AnalysisTask {
	return &models.AnalysisTask{
		ID:        id,
		UnitID:    "unit:" + id,
		Type:      models.TaskTypeFile,
		DependsOn: deps,
		Metrics:   models.TaskMetrics{SecurityImpact: impact},
	}
}

func TestPopOrderByScore(t *testing.T) {
	m := New(time.Hour)
	m.Add(task("low", 0.2))
	m.Add(task("high", 0.9))
	m.Add(task("mid", 0.5))

	assert.Equal(t, "high", m.NextTask(nil).ID)
	assert.Equal(t, "mid", m.NextTask(nil).ID)
	assert.Equal(t, "low", m.NextTask(nil).ID)
	assert.Nil(t, m.NextTask(nil))
}

func TestFIFOTieBreak(t *testing.T) {
	m := New(time.Hour)
	for i := 0; i < 5; i++ {
		m.Add(task(fmt.Sprintf("t%d", i), 0.5))
	}
	for i := 0; i < 5; i++ {
		got := m.NextTask(nil)
		require.NotNil(t, got)
		assert.Equal(t, fmt.Sprintf("t%d", i), got.ID)
	}
}

func TestDependencyReadiness(t *testing.T) {
	m := New(time.Hour)
	m.Add(task("parent", 0.1))
	m.Add(task("child", 0.9, "parent"))

	// Child has the higher score but is not ready
	got := m.NextTask(nil)
	require.NotNil(t, got)
	assert.Equal(t, "parent", got.ID)
	assert.Nil(t, m.NextTask(nil), "child still blocked")

	m.Complete("parent")
	got = m.NextTask(nil)
	require.NotNil(t, got)
	assert.Equal(t, "child", got.ID)
}

func TestDependencyAlreadyCompleted(t *testing.T) {
	m := New(time.Hour)
	m.Add(task("parent", 0.5))
	m.NextTask(nil)
	m.Complete("parent")

	// Added after its dependency completed: immediately ready
	m.Add(task("child", 0.5, "parent"))
	got := m.NextTask(nil)
	require.NotNil(t, got)
	assert.Equal(t, "child", got.ID)
}

func TestResourceConstraintsRequeue(t *testing.T) {
	m := New(time.Hour)
	heavy := task("heavy", 0.9)
	heavy.Metrics.EstimatedDuration = 900
	m.Add(heavy)
	m.Add(task("light", 0.2))

	constraints := &ResourceConstraints{MaxDurationSeconds: 300}
	got := m.NextTask(constraints)
	require.NotNil(t, got)
	assert.Equal(t, "light", got.ID)

	// The heavy task was requeued, not lost
	got = m.NextTask(nil)
	require.NotNil(t, got)
	assert.Equal(t, "heavy", got.ID)
}

func TestMemoryConstraintRequeue(t *testing.T) {
	m := New(time.Hour)
	big := task("big", 0.9)
	big.Metrics.EstimatedMemoryMB = 512
	m.Add(big)
	small := task("small", 0.2)
	small.Metrics.EstimatedMemoryMB = 96
	m.Add(small)

	constraints := &ResourceConstraints{MaxMemoryMB: 128}
	got := m.NextTask(constraints)
	require.NotNil(t, got)
	assert.Equal(t, "small", got.ID)

	// The oversized task stays queued for an unconstrained worker
	got = m.NextTask(constraints)
	assert.Nil(t, got)
	got = m.NextTask(nil)
	require.NotNil(t, got)
	assert.Equal(t, "big", got.ID)
}

func TestRetryAndPermanentFailure(t *testing.T) {
	m := New(time.Hour)
	tk := task("flaky", 0.5)
	tk.MaxRetries = 2
	m.Add(tk)

	got := m.NextTask(nil)
	require.NotNil(t, got)
	assert.True(t, m.Fail(got, "first failure"), "retry expected")
	assert.Equal(t, 1, got.RetryCount)

	got = m.NextTask(nil)
	require.NotNil(t, got)
	assert.False(t, m.Fail(got, "second failure"), "retries exhausted")
	assert.Len(t, m.FailedTasks(), 1)
	assert.Nil(t, m.NextTask(nil))
}

func TestRetryBoostAtThreshold(t *testing.T) {
	m := New(time.Hour)
	tk := task("boosted", 0.5)
	tk.MaxRetries = 5
	m.Add(tk)

	for i := 1; i <= priorityBoostThreshold; i++ {
		got := m.NextTask(nil)
		require.NotNil(t, got)
		require.True(t, m.Fail(got, "transient"))
	}
	assert.InDelta(t, 0.5*retryBoostFactor, tk.Metrics.SecurityImpact, 1e-9)
}

func TestDrained(t *testing.T) {
	m := New(time.Hour)
	assert.True(t, m.Drained())

	m.Add(task("a", 0.5))
	assert.False(t, m.Drained())

	got := m.NextTask(nil)
	require.NotNil(t, got)
	assert.False(t, m.Drained(), "in-flight work keeps the matrix busy")

	m.Complete(got.ID)
	assert.True(t, m.Drained())
}

func TestCounts(t *testing.T) {
	m := New(time.Hour)
	m.Add(task("ready", 0.5))
	m.Add(task("blocked", 0.5, "ready"))

	c := m.Counts()
	assert.Equal(t, 1, c.Ready)
	assert.Equal(t, 1, c.Blocked)
	assert.Zero(t, c.InFlight)
}
