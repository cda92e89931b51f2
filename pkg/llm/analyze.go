package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/aggregate"
	resultcache "github.com/YingxueSec/AI-Code-Sec-sub000/pkg/cache"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/confidence"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/models"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/recursion"
)

// ContextRelatedFile marks a nested cross-file re-analysis. Nested
// analyses never trigger further cross-file follow-ups from the manager.
const ContextRelatedFile = "related_file"

// Cross-file follow-ups only fire below this adjusted confidence.
const crossFileCeiling = 0.98

// cacheTypeAnalysis tags analysis entries in the result cache.
const cacheTypeAnalysis = "analysis"

// CrossFileAnalyzer deepens a finding by analyzing related files. The
// manager calls ShouldAnalyze first and skips the follow-up for findings
// outside the trigger window.
type CrossFileAnalyzer interface {
	ShouldAnalyze(f *models.Finding) bool
	Analyze(ctx context.Context, f *models.Finding, mon *recursion.Monitor) (*models.Finding, error)
}

// AnalyzeRequest describes one code analysis.
type AnalyzeRequest struct {
	Code            string
	FilePath        string
	Language        string
	Template        string
	AnalysisContext string
	Model           string

	// AbsPath is the file's on-disk location, used for cache dependency
	// tracking. Must be absolute; the cache validates dependencies by
	// re-reading them, independent of the working directory.
	AbsPath string

	// Context feeds the confidence calculator. Optional.
	Context *confidence.Context

	// Monitor guards nested analysis. Required when cross-file analysis
	// is enabled.
	Monitor *recursion.Monitor

	// Per-request collaborators. Each session wires its own analyzer and
	// calculator so concurrent sessions stay independent; nil disables
	// the stage.
	CrossFile       CrossFileAnalyzer
	Calculator      *confidence.Calculator
	ConfidenceFloor float64
}

// AnalyzeResult is the outcome of one analysis.
type AnalyzeResult struct {
	Findings  []models.Finding
	RawOutput string
	FromCache bool
	Provider  string
	Usage     TokenUsage
}

// falsePositiveRule suppresses findings matching known-safe patterns.
type falsePositiveRule struct {
	category models.Category
	pattern  *regexp.Regexp
}

var falsePositiveRules = []falsePositiveRule{
	// Parameterized query markers in the snippet make injection reports
	// noise.
	{models.CategoryInjection, regexp.MustCompile(`(?i)#\{[a-zA-Z_][\w.]*\}|\?\s*(?:,\s*\?)*\s*[)"]|prepared?statement|\.setString\(|\.setInt\(|%s.*?,\s*\(|execute\([^)]*,\s*[\[(]`)},
	// Authorization notes on DAO/mapper files belong to the calling layer.
	{models.CategoryAuth, regexp.MustCompile(`(?i)(?:dao|mapper|repository)[/\\.]`)},
}

// SetCache wires the result cache. The cache is process-wide; entries are
// keyed by content, not by session.
func (m *Manager) SetCache(c *resultcache.Cache) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = c
}

// AnalyzeCode runs one end-to-end analysis: cache lookup, prompt build,
// completion, parsing, false-positive filtering, confidence rescoring, and
// cross-file follow-up for findings inside the trigger window.
func (m *Manager) AnalyzeCode(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResult, error) {
	if req.Model == "" {
		req.Model = m.cfg.DefaultModel
	}

	m.mu.Lock()
	cache := m.cache
	m.mu.Unlock()

	if cache != nil {
		if payload, ok := cache.Get(cacheTypeAnalysis, req.Code, req.Template, req.Language); ok {
			var findings []models.Finding
			if err := json.Unmarshal(payload, &findings); err == nil {
				m.log.Debug("Analysis cache hit", "file", req.FilePath)
				return &AnalyzeResult{Findings: findings, FromCache: true}, nil
			}
			cache.Invalidate(cacheTypeAnalysis, req.Code, req.Template, req.Language)
		}
	}

	chatReq := &ChatRequest{
		Model: req.Model,
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: systemPrompt(req)},
			{Role: RoleUser, Content: userPrompt(req)},
		},
	}

	resp, err := m.ChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, err
	}

	findings := aggregate.ParseResponse(resp.Content, req.FilePath)
	findings = filterFalsePositives(findings)

	if req.Calculator != nil {
		for i := range findings {
			res := req.Calculator.Calculate(&findings[i], analysisContext(req))
			findings[i].Confidence = res.Score
			findings[i].FactorScores = res.Factors
		}
	}

	if req.CrossFile != nil && req.AnalysisContext != ContextRelatedFile {
		for i := range findings {
			f := &findings[i]
			inWindow := f.Confidence > req.ConfidenceFloor && f.Confidence < crossFileCeiling
			if !inWindow && !req.CrossFile.ShouldAnalyze(f) {
				continue
			}
			adjusted, err := req.CrossFile.Analyze(ctx, f, req.Monitor)
			if err != nil {
				// Depth or cycle violations leave the original finding
				// unchanged.
				m.log.Debug("Cross-file analysis skipped",
					"file", f.FilePath,
					"error", err)
				continue
			}
			findings[i] = *adjusted
		}
	}

	if cache != nil {
		dep := req.AbsPath
		if dep == "" {
			dep = req.FilePath
		}
		if payload, err := json.Marshal(findings); err == nil {
			if err := cache.Put(cacheTypeAnalysis, payload,
				resultcache.PutOptions{FileDeps: []string{dep}},
				req.Code, req.Template, req.Language); err != nil {
				m.log.Warn("Cache write failed", "file", req.FilePath, "error", err)
			}
		}
	}

	return &AnalyzeResult{
		Findings:  findings,
		RawOutput: resp.Content,
		Provider:  resp.Provider,
		Usage:     resp.Usage,
	}, nil
}

func filterFalsePositives(findings []models.Finding) []models.Finding {
	out := findings[:0]
	for _, f := range findings {
		suppressed := false
		for _, rule := range falsePositiveRules {
			if f.Category != rule.category {
				continue
			}
			if rule.pattern.MatchString(f.Snippet) || rule.pattern.MatchString(f.FilePath) {
				suppressed = true
				break
			}
		}
		if !suppressed {
			out = append(out, f)
		}
	}
	return out
}

func analysisContext(req *AnalyzeRequest) *confidence.Context {
	if req.Context != nil {
		return req.Context
	}
	return &confidence.Context{FilePath: req.FilePath}
}

func systemPrompt(req *AnalyzeRequest) string {
	var b strings.Builder
	b.WriteString("You are a code security auditor. Analyze the given ")
	if req.Language != "" {
		b.WriteString(req.Language)
		b.WriteString(" ")
	}
	b.WriteString("code for security vulnerabilities")
	if req.Template != "" {
		fmt.Fprintf(&b, " following the %q checklist", req.Template)
	}
	b.WriteString(`.

Report each issue as a block starting with "Vulnerability: <title>" followed by
severity, the affected line ("line <N>"), a fenced code snippet, a CWE
reference when applicable, and a short explanation. If the code is safe,
state that no vulnerabilities were found.`)
	if req.AnalysisContext == ContextRelatedFile {
		b.WriteString("\n\nThis file is being examined as context for a finding in another file; focus on whether it confirms or mitigates that finding.")
	}
	return b.String()
}

func userPrompt(req *AnalyzeRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", req.FilePath)
	if req.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", req.Language)
	}
	b.WriteString("\n```")
	b.WriteString(req.Language)
	b.WriteString("\n")
	b.WriteString(req.Code)
	if !strings.HasSuffix(req.Code, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n")
	return b.String()
}
