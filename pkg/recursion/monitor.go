// Package recursion guards nested analysis against runaway depth and
// cycles. Every nested analysis step pushes a frame before descending and
// pops it on the way out.
package recursion

import (
	"fmt"
	"log/slog"
	"sync"
)

// DefaultMaxDepth bounds the total analysis stack.
const DefaultMaxDepth = 50

// Frame identifies one nested analysis step.
type Frame struct {
	AnalysisType string
	FilePath     string
}

func (f Frame) String() string {
	return f.AnalysisType + ":" + f.FilePath
}

// Error reports a refused descent. It is terminal: callers must not retry
// the step that produced it.
type Error struct {
	Frame Frame
	Depth int
	Cycle bool
}

func (e *Error) Error() string {
	if e.Cycle {
		return fmt.Sprintf("recursion cycle at %s (depth %d)", e.Frame, e.Depth)
	}
	return fmt.Sprintf("recursion depth limit reached at %s (depth %d)", e.Frame, e.Depth)
}

// Monitor tracks the explicit analysis stack for one session.
type Monitor struct {
	maxDepth int
	log      *slog.Logger

	mu    sync.Mutex
	stack []Frame
	on    map[Frame]struct{}
}

// NewMonitor creates a monitor. maxDepth <= 0 uses DefaultMaxDepth.
func NewMonitor(maxDepth int) *Monitor {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Monitor{
		maxDepth: maxDepth,
		log:      slog.With("component", "recursion"),
		on:       make(map[Frame]struct{}),
	}
}

// Enter pushes a frame. It fails when the frame is already on the stack
// (a cycle) or the stack is at the depth limit.
func (m *Monitor) Enter(analysisType, filePath string) error {
	f := Frame{AnalysisType: analysisType, FilePath: filePath}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.on[f]; dup {
		return &Error{Frame: f, Depth: len(m.stack), Cycle: true}
	}
	if len(m.stack) >= m.maxDepth {
		return &Error{Frame: f, Depth: len(m.stack)}
	}

	m.stack = append(m.stack, f)
	m.on[f] = struct{}{}
	return nil
}

// Exit pops a frame. A mismatch against the top of the stack indicates
// unbalanced Enter/Exit calls; the pop proceeds anyway.
func (m *Monitor) Exit(analysisType, filePath string) {
	f := Frame{AnalysisType: analysisType, FilePath: filePath}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.stack) == 0 {
		m.log.Warn("Recursion exit on empty stack", "frame", f.String())
		return
	}

	top := m.stack[len(m.stack)-1]
	if top != f {
		m.log.Warn("Recursion exit mismatch",
			"expected", top.String(),
			"got", f.String())
	}
	m.stack = m.stack[:len(m.stack)-1]
	delete(m.on, top)
}

// Depth returns the current stack depth.
func (m *Monitor) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stack)
}

// MaxDepth returns the configured limit.
func (m *Monitor) MaxDepth() int { return m.maxDepth }

// Stack returns a copy of the current frames, bottom first.
func (m *Monitor) Stack() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Frame, len(m.stack))
	copy(out, m.stack)
	return out
}
