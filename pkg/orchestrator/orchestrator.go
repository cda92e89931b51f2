// Package orchestrator drives end-to-end audit sessions: discovery,
// scheduling, the analysis worker pool, and session lifecycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/aggregate"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/config"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/confidence"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/coverage"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/crossfile"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/discovery"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/frontend"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/llm"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/models"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/recursion"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/taskmatrix"
)

// ErrTooManySessions indicates the concurrent session cap is reached.
var ErrTooManySessions = errors.New("maximum concurrent sessions reached")

// ErrSessionNotFound indicates an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// Idle worker poll interval while the queue is empty but not drained.
const queuePollInterval = 200 * time.Millisecond

// Options adjust one audit run.
type Options struct {
	MaxFiles       int  // 0 with All unset means the configured default
	All            bool // analyze every discovered file
	Template       string
	DryRun         bool
	NoFilter       bool
	NoCrossFile    bool
	NoFrontendOpt  bool
	NoConfidence   bool
	MinConfidence  float64
	MaxConfidence  float64
	IncludeExts    []string
	ExcludeExts    []string
	IncludePaths   []string
	ExcludePaths   []string
	OnProgress     func(models.Progress)
}

// audit bundles one session with its per-session machinery.
type audit struct {
	session *models.Session
	tracker *coverage.Tracker
	matrix  *taskmatrix.Matrix
	agg     *aggregate.Aggregator
	opts    Options
	done    chan struct{}

	// Per-session LLM pipeline collaborators, carried on every
	// AnalyzeRequest so concurrent sessions never share wiring. Written
	// once before the workers start.
	crossFile  llm.CrossFileAnalyzer
	calculator *confidence.Calculator

	timedOut      atomic.Bool
	userCancelled atomic.Bool
	savedSeconds  atomic.Int64
}

// Orchestrator owns the audit sessions of one process.
type Orchestrator struct {
	cfg     *config.Config
	manager *llm.Manager
	log     *slog.Logger

	mu     sync.Mutex
	audits map[string]*audit
}

// New creates an orchestrator over a configured LLM manager.
func New(cfg *config.Config, manager *llm.Manager) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		manager: manager,
		log:     slog.With("component", "orchestrator"),
		audits:  make(map[string]*audit),
	}
}

// StartAudit creates a session and runs the audit pipeline in the
// background. The returned session is live; read it through Clone or the
// orchestrator's accessors.
func (o *Orchestrator) StartAudit(ctx context.Context, projectPath string, opts Options) (*models.Session, error) {
	projectPath, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("project path: %w", err)
	}
	info, err := os.Stat(projectPath)
	if err != nil {
		return nil, fmt.Errorf("project path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project path %q is not a directory", projectPath)
	}

	o.mu.Lock()
	active := 0
	for _, a := range o.audits {
		if !a.session.CurrentStatus().Terminal() {
			active++
		}
	}
	if o.cfg.Audit.MaxConcurrentSessions > 0 && active >= o.cfg.Audit.MaxConcurrentSessions {
		o.mu.Unlock()
		return nil, ErrTooManySessions
	}

	a := &audit{
		session: models.NewSession(uuid.NewString(), projectPath),
		tracker: coverage.NewTracker(),
		matrix:  taskmatrix.New(o.cfg.Audit.RebalanceInterval),
		agg:     aggregate.New(),
		opts:    opts,
		done:    make(chan struct{}),
	}
	o.audits[a.session.ID] = a
	o.mu.Unlock()

	go o.run(ctx, a)
	return a.session, nil
}

// RunAudit starts an audit and blocks until it reaches a terminal state.
func (o *Orchestrator) RunAudit(ctx context.Context, projectPath string, opts Options) (*models.Session, error) {
	session, err := o.StartAudit(ctx, projectPath, opts)
	if err != nil {
		return nil, err
	}
	o.Wait(session.ID)
	return session, nil
}

// Session returns a read-only clone of the session.
func (o *Orchestrator) Session(id string) (models.Session, error) {
	o.mu.Lock()
	a, ok := o.audits[id]
	o.mu.Unlock()
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}
	return a.session.Clone(), nil
}

// Sessions lists clones of all known sessions.
func (o *Orchestrator) Sessions() []models.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.Session, 0, len(o.audits))
	for _, a := range o.audits {
		out = append(out, a.session.Clone())
	}
	return out
}

// CoverageReport returns the coverage report for a session.
func (o *Orchestrator) CoverageReport(id string) (coverage.Report, error) {
	o.mu.Lock()
	a, ok := o.audits[id]
	o.mu.Unlock()
	if !ok {
		return coverage.Report{}, ErrSessionNotFound
	}
	return a.tracker.GenerateReport(), nil
}

// Stats returns the aggregator statistics for a session.
func (o *Orchestrator) Stats(id string) (aggregate.Stats, error) {
	o.mu.Lock()
	a, ok := o.audits[id]
	o.mu.Unlock()
	if !ok {
		return aggregate.Stats{}, ErrSessionNotFound
	}
	return a.agg.Stats(), nil
}

// Cancel requests cancellation of a running session.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	a, ok := o.audits[id]
	o.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	a.userCancelled.Store(true)
	if !a.session.Cancel() {
		return fmt.Errorf("session %s is not cancellable", id)
	}
	return nil
}

// Wait blocks until the session terminates. Unknown ids return
// immediately.
func (o *Orchestrator) Wait(id string) {
	o.mu.Lock()
	a, ok := o.audits[id]
	o.mu.Unlock()
	if ok {
		<-a.done
	}
}

// run executes the audit pipeline for one session.
func (o *Orchestrator) run(ctx context.Context, a *audit) {
	defer close(a.done)
	log := o.log.With("session", a.session.ID)

	if !a.session.Transition(models.SessionStatusInitializing) {
		return
	}

	project, err := o.discover(a)
	if err != nil {
		log.Error("Discovery failed", "error", err)
		a.session.AppendError(err.Error())
		a.session.Transition(models.SessionStatusFailed)
		return
	}

	a.session.UpdateProgress(func(p *models.Progress) {
		p.TotalFiles = len(project.Files)
	})
	o.notifyProgress(a)

	if a.opts.DryRun || len(project.Files) == 0 {
		a.session.Transition(models.SessionStatusRunning)
		a.session.Transition(models.SessionStatusCompleted)
		log.Info("Audit complete", "files", len(project.Files), "dry_run", a.opts.DryRun)
		return
	}

	fileUnits := o.registerUnits(a, project)

	if !a.opts.NoConfidence {
		a.calculator = confidence.New()
	}
	if !a.opts.NoCrossFile && o.cfg.CrossFile.Enabled {
		a.crossFile = crossfile.New(o.cfg.CrossFile, project.Root, o.manager, project.Files, project.Languages)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.session.SetCancelFunc(cancel)

	if o.cfg.Audit.SessionTimeout > 0 {
		timer := time.AfterFunc(o.cfg.Audit.SessionTimeout, func() {
			a.timedOut.Store(true)
			cancel()
		})
		defer timer.Stop()
	}

	if !a.session.Transition(models.SessionStatusRunning) {
		return
	}
	log.Info("Audit running",
		"files", len(project.Files),
		"units", a.tracker.Len(),
		"workers", o.cfg.Audit.WorkerCount)

	g, workerCtx := errgroup.WithContext(sessionCtx)
	for i := 0; i < o.cfg.Audit.WorkerCount; i++ {
		g.Go(func() error {
			o.worker(workerCtx, a, project, fileUnits)
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case a.userCancelled.Load():
		a.session.Transition(models.SessionStatusCancelled)
		log.Info("Audit cancelled")
	case a.timedOut.Load():
		// Timeout completes the session with partial coverage rather than
		// failing it.
		a.session.AppendError("session timeout reached; remaining units left unanalyzed")
		a.session.Transition(models.SessionStatusCompleted)
		log.Warn("Audit timed out", "coverage_pct", a.tracker.GenerateReport().CoveragePct)
	case ctx.Err() != nil:
		// The parent context died under us. Tasks may still be queued, so
		// this is a cancellation, never a completion.
		a.session.AppendError("audit aborted: " + ctx.Err().Error())
		a.session.Transition(models.SessionStatusCancelled)
		log.Warn("Audit aborted by parent context", "error", ctx.Err())
	default:
		o.finishFindings(a)
		a.session.Transition(models.SessionStatusCompleted)
		report := a.tracker.GenerateReport()
		log.Info("Audit complete",
			"findings", a.agg.Len(),
			"coverage_pct", fmt.Sprintf("%.1f", report.CoveragePct),
			"saved_seconds", a.savedSeconds.Load())
	}
	o.notifyProgress(a)
}

// discover builds the filtered project view for this audit.
func (o *Orchestrator) discover(a *audit) (*discovery.Project, error) {
	filterCfg := *o.cfg.Filtering
	if a.opts.NoFilter {
		filterCfg.Enabled = false
	}
	filter := discovery.NewFilter(a.session.ProjectPath, &filterCfg)
	disc := discovery.NewDiscoverer(o.cfg.Audit, filter)

	maxFiles := o.cfg.Audit.MaxFilesPerAudit
	if a.opts.All {
		maxFiles = 0
	} else if a.opts.MaxFiles > 0 {
		maxFiles = a.opts.MaxFiles
	}

	project, err := disc.Discover(a.session.ProjectPath, maxFiles)
	if err != nil {
		return nil, err
	}
	o.applyPathOverrides(a, project)
	return project, nil
}

// applyPathOverrides narrows the discovered file set by the CLI's
// extension and path include/exclude options.
func (o *Orchestrator) applyPathOverrides(a *audit, project *discovery.Project) {
	match := func(path string, exts, prefixes []string) bool {
		for _, ext := range exts {
			if strings.EqualFold(filepath.Ext(path), ext) {
				return true
			}
		}
		for _, prefix := range prefixes {
			if strings.HasPrefix(path, filepath.ToSlash(prefix)) {
				return true
			}
		}
		return false
	}

	kept := project.Files[:0]
	for _, f := range project.Files {
		if len(a.opts.IncludeExts)+len(a.opts.IncludePaths) > 0 &&
			!match(f, a.opts.IncludeExts, a.opts.IncludePaths) {
			delete(project.Languages, f)
			continue
		}
		if match(f, a.opts.ExcludeExts, a.opts.ExcludePaths) {
			delete(project.Languages, f)
			continue
		}
		kept = append(kept, f)
	}
	project.Files = kept

	if len(project.Units) > 0 {
		units := project.Units[:0]
		for _, u := range project.Units {
			if _, ok := project.Languages[u.FilePath]; ok {
				units = append(units, u)
			}
		}
		project.Units = units
	}
}

// registerUnits feeds the coverage tracker and the task matrix. One task
// is scheduled per file-level unit; function and class units ride along
// and share their file's outcome.
func (o *Orchestrator) registerUnits(a *audit, project *discovery.Project) map[string][]*models.CodeUnit {
	a.tracker.Register(project.Units...)

	subUnits := make(map[string][]*models.CodeUnit)
	for _, u := range project.Units {
		if u.Type != models.UnitTypeFile {
			subUnits[u.FilePath] = append(subUnits[u.FilePath], u)
		}
	}

	for _, u := range project.Units {
		if u.Type != models.UnitTypeFile {
			continue
		}
		a.matrix.Add(&models.AnalysisTask{
			ID:       "task:" + u.ID,
			UnitID:   u.ID,
			Type:     models.TaskTypeFile,
			Model:    o.cfg.DefaultModel,
			Priority: u.Priority,
			Metrics:  metricsFor(u, project),
		})
	}
	return subUnits
}

// metricsFor derives scoring metrics from a unit's priority and size.
func metricsFor(u *models.CodeUnit, project *discovery.Project) models.TaskMetrics {
	impact := map[models.Priority]float64{
		models.PriorityCritical: 0.9,
		models.PriorityHigh:     0.7,
		models.PriorityMedium:   0.5,
		models.PriorityLow:      0.2,
	}[u.Priority]

	lines := float64(u.EndLine - u.StartLine + 1)
	complexity := lines / 2000
	if complexity > 1 {
		complexity = 1
	}

	return models.TaskMetrics{
		SecurityImpact:      impact,
		BusinessCriticality: impact * 0.8,
		Complexity:          complexity,
		EstimatedDuration:   10 + lines/50,
		EstimatedMemoryMB:   64 + lines/100,
		FailureRisk:         0.1,
	}
}

// worker drains the task matrix until it is empty or the context is
// cancelled.
func (o *Orchestrator) worker(ctx context.Context, a *audit, project *discovery.Project, subUnits map[string][]*models.CodeUnit) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task := a.matrix.NextTask(nil)
		if task == nil {
			if a.matrix.Drained() {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(queuePollInterval):
			}
			continue
		}

		o.runTask(ctx, a, project, task, subUnits)
	}
}

// runTask analyzes one file-level task end to end.
func (o *Orchestrator) runTask(ctx context.Context, a *audit, project *discovery.Project, task *models.AnalysisTask, subUnits map[string][]*models.CodeUnit) {
	unit, ok := a.tracker.Get(task.UnitID)
	if !ok {
		a.matrix.Complete(task.ID)
		return
	}

	if task.RetryCount == 0 {
		if err := a.tracker.MarkInProgress(unit.ID); err != nil {
			a.matrix.Complete(task.ID)
			return
		}
	}
	if a.session.UpdateProgress(func(p *models.Progress) {
		p.CurrentFile = unit.FilePath
	}) {
		o.notifyProgress(a)
	}

	// Cancellation checkpoint before any I/O or dispatch.
	if ctx.Err() != nil {
		o.failTask(a, task, unit, subUnits, "cancelled", false)
		return
	}

	data, err := os.ReadFile(filepath.Join(project.Root, unit.FilePath))
	if err != nil {
		o.failTask(a, task, unit, subUnits, fmt.Sprintf("read: %v", err), false)
		return
	}
	content := string(data)
	language := project.Languages[unit.FilePath]
	template := a.opts.Template
	if template == "" {
		template = "owasp_top_10_2021"
	}

	if !a.opts.NoFrontendOpt && frontend.Applies(filepath.Ext(unit.FilePath)) {
		plan := frontend.Classify(content)
		a.savedSeconds.Add(int64(plan.EstimatedSavedSeconds))
		switch plan.Strategy {
		case frontend.StrategySkip:
			a.matrix.Complete(task.ID)
			_ = a.tracker.MarkSkipped(unit.ID, "static frontend content")
			o.skipSubUnits(a, unit, subUnits, "static frontend content")
			if a.session.UpdateProgress(func(p *models.Progress) { p.SkippedFiles++ }) {
				o.notifyProgress(a)
			}
			return
		case frontend.StrategyHotspot:
			content = plan.Hotspots
			template = "frontend_hotspot"
		case frontend.StrategyInputExtraction:
			content = strings.Join(plan.InputPoints, "\n")
			template = "frontend_input_points"
		case frontend.StrategyLight:
			template = "frontend_light"
		}
	}

	taskCtx := ctx
	if o.cfg.Audit.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, o.cfg.Audit.TaskTimeout)
		defer cancel()
	}

	monitor := recursion.NewMonitor(o.cfg.Recursion.MaxDepth)
	var findings []models.Finding
	for _, piece := range chunk(loadBounded(content)) {
		result, err := o.manager.AnalyzeCode(taskCtx, &llm.AnalyzeRequest{
			Code:            piece,
			FilePath:        unit.FilePath,
			AbsPath:         filepath.Join(project.Root, unit.FilePath),
			Language:        language,
			Template:        template,
			Model:           task.Model,
			Monitor:         monitor,
			Context:         &confidence.Context{FilePath: unit.FilePath},
			CrossFile:       a.crossFile,
			Calculator:      a.calculator,
			ConfidenceFloor: o.cfg.CrossFile.ConfidenceFloor,
		})
		if err != nil {
			// Session cancellation during the HTTP call abandons the
			// result.
			if ctx.Err() != nil {
				o.failTask(a, task, unit, subUnits, "cancelled", false)
				return
			}
			o.failTask(a, task, unit, subUnits, err.Error(), retryable(err))
			return
		}
		findings = append(findings, result.Findings...)
	}

	added := a.agg.Add(findings)
	a.session.AppendFindings(added)
	a.matrix.Complete(task.ID)
	_ = a.tracker.MarkAnalyzed(unit.ID)
	for _, sub := range subUnits[unit.FilePath] {
		if sub.Status == models.UnitStatusPending {
			_ = a.tracker.MarkInProgress(sub.ID)
		}
		_ = a.tracker.MarkAnalyzed(sub.ID)
	}
	if a.session.UpdateProgress(func(p *models.Progress) {
		p.AnalyzedFiles++
		o.estimateCompletion(a, p)
	}) {
		o.notifyProgress(a)
	}
}

// failTask records a failure, re-queuing when retryable and retries
// remain.
func (o *Orchestrator) failTask(a *audit, task *models.AnalysisTask, unit *models.CodeUnit, subUnits map[string][]*models.CodeUnit, reason string, canRetry bool) {
	if canRetry && a.matrix.Fail(task, reason) {
		return
	}
	if !canRetry {
		task.RetryCount = task.MaxRetries
		a.matrix.Fail(task, reason)
	}
	_ = a.tracker.MarkFailed(unit.ID, reason)
	o.skipSubUnits(a, unit, subUnits, "file analysis failed")
	a.session.AppendError(fmt.Sprintf("%s: %s", unit.FilePath, reason))
	if a.session.UpdateProgress(func(p *models.Progress) { p.FailedFiles++ }) {
		o.notifyProgress(a)
	}
}

func (o *Orchestrator) skipSubUnits(a *audit, unit *models.CodeUnit, subUnits map[string][]*models.CodeUnit, reason string) {
	for _, sub := range subUnits[unit.FilePath] {
		if sub.Status == models.UnitStatusPending {
			_ = a.tracker.MarkSkipped(sub.ID, reason)
		}
	}
}

// finishFindings applies the confidence range filter and replaces the
// session's finding list with the sorted, deduplicated set.
func (o *Orchestrator) finishFindings(a *audit) {
	findings := a.agg.Findings()
	if a.opts.MinConfidence > 0 || a.opts.MaxConfidence > 0 {
		kept := findings[:0]
		for _, f := range findings {
			if a.opts.MinConfidence > 0 && f.Confidence < a.opts.MinConfidence {
				continue
			}
			if a.opts.MaxConfidence > 0 && f.Confidence > a.opts.MaxConfidence {
				continue
			}
			kept = append(kept, f)
		}
		findings = kept
	}

	a.session.UpdateProgress(func(p *models.Progress) { p.CurrentFile = "" })
	// Workers appended findings incrementally; the final set replaces them.
	a.session.SetFindings(findings)
}

func (o *Orchestrator) estimateCompletion(a *audit, p *models.Progress) {
	done := p.AnalyzedFiles + p.FailedFiles + p.SkippedFiles
	if done == 0 || p.TotalFiles == 0 {
		return
	}
	elapsed := time.Since(a.session.CreatedAt)
	perFile := elapsed / time.Duration(done)
	remaining := time.Duration(p.TotalFiles-done) * perFile
	p.EstimatedCompletion = time.Now().Add(remaining)
}

func (o *Orchestrator) notifyProgress(a *audit) {
	if a.opts.OnProgress == nil {
		return
	}
	a.opts.OnProgress(a.session.Clone().Progress)
}

// retryable reports whether a task error should re-enter the queue.
func retryable(err error) bool {
	var perr *llm.Error
	if errors.As(err, &perr) {
		return perr.Retryable()
	}
	var rerr *recursion.Error
	if errors.As(err, &rerr) {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded)
}
