// Package taskmatrix schedules analysis tasks through a max-priority heap
// keyed by each task's continuous priority score, with dependency-based
// readiness and periodic rebalancing.
package taskmatrix

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/models"
)

const (
	// Retry boost applied to security impact once retries accumulate.
	priorityBoostThreshold = 3
	retryBoostFactor       = 1.2

	// Rebalance boost for tasks queued longer than the interval.
	overdueBoostFactor = 1.3

	defaultRebalanceInterval = 15 * time.Minute
)

// ResourceConstraints bound what a popped task may require.
type ResourceConstraints struct {
	MaxMemoryMB        float64
	MaxDurationSeconds float64
	MaxComplexity      float64
}

// queueItem wraps a task with its heap bookkeeping.
type queueItem struct {
	task     *models.AnalysisTask
	score    float64
	enqueued time.Time
	seq      uint64 // FIFO tie-break
	index    int
}

// taskHeap is a max-heap on score; ties break by arrival order.
type taskHeap []*queueItem

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score > h[j].score
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *taskHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Matrix is the task scheduler for one session.
type Matrix struct {
	log               *slog.Logger
	rebalanceInterval time.Duration

	mu         sync.Mutex
	queue      taskHeap
	pending    map[string]*queueItem          // queued task id → item
	blocked    map[string]*models.AnalysisTask // waiting on dependencies
	unmet      map[string]map[string]struct{} // task id → unmet dependency ids
	dependents map[string][]string            // dependency id → dependent task ids
	completed  map[string]struct{}
	failed     map[string]*models.AnalysisTask
	inFlight   map[string]*models.AnalysisTask
	seq        uint64
	lastRebal  time.Time
}

// New creates an empty matrix. rebalanceInterval <= 0 uses the default
// 15 minutes.
func New(rebalanceInterval time.Duration) *Matrix {
	if rebalanceInterval <= 0 {
		rebalanceInterval = defaultRebalanceInterval
	}
	return &Matrix{
		log:               slog.With("component", "task_matrix"),
		rebalanceInterval: rebalanceInterval,
		pending:           make(map[string]*queueItem),
		blocked:           make(map[string]*models.AnalysisTask),
		unmet:             make(map[string]map[string]struct{}),
		dependents:        make(map[string][]string),
		completed:         make(map[string]struct{}),
		failed:            make(map[string]*models.AnalysisTask),
		inFlight:          make(map[string]*models.AnalysisTask),
		lastRebal:         time.Now(),
	}
}

// Add registers a task. Tasks with unmet dependencies are held back until
// every dependency completes.
func (m *Matrix) Add(task *models.AnalysisTask) {
	if task.MaxRetries <= 0 {
		task.MaxRetries = models.DefaultMaxRetries
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	unmet := make(map[string]struct{})
	for _, dep := range task.DependsOn {
		if _, done := m.completed[dep]; !done {
			unmet[dep] = struct{}{}
			m.dependents[dep] = append(m.dependents[dep], task.ID)
		}
	}
	if len(unmet) > 0 {
		m.blocked[task.ID] = task
		m.unmet[task.ID] = unmet
		return
	}
	m.enqueueLocked(task)
}

func (m *Matrix) enqueueLocked(task *models.AnalysisTask) {
	m.seq++
	item := &queueItem{
		task:     task,
		score:    task.PriorityScore(),
		enqueued: time.Now(),
		seq:      m.seq,
	}
	heap.Push(&m.queue, item)
	m.pending[task.ID] = item
}

// NextTask pops the highest-scored ready task fitting the constraints.
// Non-fitting tasks are requeued; nil constraints accept everything.
// Returns nil when no ready task exists.
func (m *Matrix) NextTask(constraints *ResourceConstraints) *models.AnalysisTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeRebalanceLocked()

	var requeued []*queueItem
	defer func() {
		for _, item := range requeued {
			heap.Push(&m.queue, item)
			m.pending[item.task.ID] = item
		}
	}()

	for m.queue.Len() > 0 {
		item := heap.Pop(&m.queue).(*queueItem)
		delete(m.pending, item.task.ID)

		if !fits(item.task, constraints) {
			requeued = append(requeued, item)
			continue
		}
		m.inFlight[item.task.ID] = item.task
		return item.task
	}
	return nil
}

func fits(task *models.AnalysisTask, c *ResourceConstraints) bool {
	if c == nil {
		return true
	}
	if c.MaxMemoryMB > 0 && task.Metrics.EstimatedMemoryMB > c.MaxMemoryMB {
		return false
	}
	if c.MaxDurationSeconds > 0 && task.Metrics.EstimatedDuration > c.MaxDurationSeconds {
		return false
	}
	if c.MaxComplexity > 0 && task.Metrics.Complexity > c.MaxComplexity {
		return false
	}
	return true
}

// Complete records a successful task and releases its dependents.
func (m *Matrix) Complete(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.inFlight, taskID)
	m.completed[taskID] = struct{}{}

	for _, depID := range m.dependents[taskID] {
		unmet, ok := m.unmet[depID]
		if !ok {
			continue
		}
		delete(unmet, taskID)
		if len(unmet) == 0 {
			delete(m.unmet, depID)
			if task, blocked := m.blocked[depID]; blocked {
				delete(m.blocked, depID)
				m.enqueueLocked(task)
			}
		}
	}
	delete(m.dependents, taskID)
}

// Fail records a failed attempt. With retries remaining the task is
// re-queued (its security impact boosted once retry_count reaches the
// boost threshold); otherwise it moves to the failed set. Returns true
// when the task will retry.
func (m *Matrix) Fail(task *models.AnalysisTask, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.inFlight, task.ID)
	task.RetryCount++
	task.LastError = reason

	if task.RetryCount >= task.MaxRetries {
		m.failed[task.ID] = task
		m.log.Warn("Task failed permanently",
			"task", task.ID,
			"retries", task.RetryCount,
			"error", reason)
		return false
	}

	if task.RetryCount == priorityBoostThreshold {
		task.Metrics.SecurityImpact *= retryBoostFactor
		if task.Metrics.SecurityImpact > 1 {
			task.Metrics.SecurityImpact = 1
		}
	}
	m.enqueueLocked(task)
	return true
}

// maybeRebalanceLocked rebuilds the queue at most once per interval,
// recomputing every score and boosting overdue tasks.
func (m *Matrix) maybeRebalanceLocked() {
	if time.Since(m.lastRebal) < m.rebalanceInterval {
		return
	}
	now := time.Now()

	items := make([]*queueItem, 0, m.queue.Len())
	for m.queue.Len() > 0 {
		items = append(items, heap.Pop(&m.queue).(*queueItem))
	}
	for _, item := range items {
		if now.Sub(item.enqueued) > m.rebalanceInterval {
			item.task.Metrics.SecurityImpact *= overdueBoostFactor
			if item.task.Metrics.SecurityImpact > 1 {
				item.task.Metrics.SecurityImpact = 1
			}
		}
		item.score = item.task.PriorityScore()
		heap.Push(&m.queue, item)
	}

	m.lastRebal = now
	if len(items) > 0 {
		m.log.Info("Task queue rebalanced", "tasks", len(items))
	}
}

// Rebalance rescoring happens automatically on the configured interval;
// this forces it immediately.
func (m *Matrix) Rebalance() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRebal = time.Time{}
	m.maybeRebalanceLocked()
}

// Counts reports queue occupancy for progress estimation.
type Counts struct {
	Ready     int `json:"ready"`
	Blocked   int `json:"blocked"`
	InFlight  int `json:"in_flight"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Counts returns a snapshot of the scheduler state.
func (m *Matrix) Counts() Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Counts{
		Ready:     m.queue.Len(),
		Blocked:   len(m.blocked),
		InFlight:  len(m.inFlight),
		Completed: len(m.completed),
		Failed:    len(m.failed),
	}
}

// Drained reports whether no ready, blocked, or in-flight work remains.
func (m *Matrix) Drained() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len() == 0 && len(m.blocked) == 0 && len(m.inFlight) == 0
}

// FailedTasks returns the permanently failed tasks.
func (m *Matrix) FailedTasks() []*models.AnalysisTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.AnalysisTask, 0, len(m.failed))
	for _, t := range m.failed {
		out = append(out, t)
	}
	return out
}
