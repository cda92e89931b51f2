package models

import (
	"context"
	"sync"
	"time"
)

// SessionStatus is the lifecycle state of an audit session.
type SessionStatus string

// Session statuses.
const (
	SessionStatusCreated      SessionStatus = "created"
	SessionStatusInitializing SessionStatus = "initializing"
	SessionStatusRunning      SessionStatus = "running"
	SessionStatusPaused       SessionStatus = "paused"
	SessionStatusCompleted    SessionStatus = "completed"
	SessionStatusFailed       SessionStatus = "failed"
	SessionStatusCancelled    SessionStatus = "cancelled"
)

// Terminal reports whether the session has finished.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled:
		return true
	}
	return false
}

// validTransitions encodes the session state machine.
var validTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusCreated:      {SessionStatusInitializing, SessionStatusCancelled, SessionStatusFailed},
	SessionStatusInitializing: {SessionStatusRunning, SessionStatusFailed, SessionStatusCancelled},
	SessionStatusRunning:      {SessionStatusPaused, SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled},
	SessionStatusPaused:       {SessionStatusRunning, SessionStatusCancelled, SessionStatusFailed},
}

// CanTransition reports whether moving from s to next is legal.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Progress summarizes how far an audit session has advanced.
type Progress struct {
	TotalFiles          int       `json:"total_files"`
	AnalyzedFiles       int       `json:"analyzed_files"`
	FailedFiles         int       `json:"failed_files"`
	SkippedFiles        int       `json:"skipped_files"`
	CurrentFile         string    `json:"current_file,omitempty"`
	EstimatedCompletion time.Time `json:"estimated_completion,omitzero"`
}

// Session represents one end-to-end audit run. All mutating accessors are
// thread-safe; readers take a Clone.
type Session struct {
	ID          string        `json:"id"`
	ProjectPath string        `json:"project_path"`
	Status      SessionStatus `json:"status"`
	Progress    Progress      `json:"progress"`
	Findings    []Finding     `json:"findings"`
	Errors      []string      `json:"errors,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   time.Time     `json:"started_at,omitzero"`
	CompletedAt time.Time     `json:"completed_at,omitzero"`

	mu         sync.RWMutex
	cancelFunc context.CancelFunc
}

// NewSession creates a session in the created state.
func NewSession(id, projectPath string) *Session {
	return &Session{
		ID:          id,
		ProjectPath: projectPath,
		Status:      SessionStatusCreated,
		CreatedAt:   time.Now(),
	}
}

// Transition moves the session to the next status if the state machine
// allows it. Returns false when the transition is illegal (including any
// transition out of a terminal state).
func (s *Session) Transition(next SessionStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Status.CanTransition(next) {
		return false
	}
	s.Status = next
	switch next {
	case SessionStatusRunning:
		if s.StartedAt.IsZero() {
			s.StartedAt = time.Now()
		}
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled:
		s.CompletedAt = time.Now()
	}
	return true
}

// CurrentStatus returns the status under the read lock.
func (s *Session) CurrentStatus() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

// UpdateProgress applies fn to the progress record under the lock and
// reports whether the analyzed-file count or current file changed, which is
// the trigger condition for progress callbacks.
func (s *Session) UpdateProgress(fn func(p *Progress)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.Progress
	fn(&s.Progress)
	return s.Progress.AnalyzedFiles != before.AnalyzedFiles ||
		s.Progress.CurrentFile != before.CurrentFile
}

// AppendFindings records aggregated findings on the session.
func (s *Session) AppendFindings(findings []Finding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Findings = append(s.Findings, findings...)
}

// SetFindings replaces the session's finding list, used when the final
// sorted and filtered set supersedes the incrementally appended one.
func (s *Session) SetFindings(findings []Finding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Findings = findings
}

// AppendError records a non-fatal error on the session.
func (s *Session) AppendError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors = append(s.Errors, msg)
}

// SetCancelFunc stores the cancel function for this session.
func (s *Session) SetCancelFunc(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelFunc = cancel
}

// Cancel requests cancellation of the session's in-flight work. The status
// transition to cancelled happens once the workers have exited.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelFunc == nil || s.Status.Terminal() {
		return false
	}
	s.cancelFunc()
	return true
}

// Clone creates a safe copy of the session for reading.
func (s *Session) Clone() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	findings := make([]Finding, len(s.Findings))
	copy(findings, s.Findings)
	errs := make([]string, len(s.Errors))
	copy(errs, s.Errors)

	return Session{
		ID:          s.ID,
		ProjectPath: s.ProjectPath,
		Status:      s.Status,
		Progress:    s.Progress,
		Findings:    findings,
		Errors:      errs,
		CreatedAt:   s.CreatedAt,
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
	}
}
