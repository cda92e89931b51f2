// Package crossfile deepens findings by analyzing files related to the
// finding's file (callers, callees, configs, templates) and folding the
// results into a confidence adjustment.
package crossfile

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/config"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/llm"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/models"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/recursion"
)

// Frame type recorded on the recursion monitor for cross-file descents.
const analysisType = "cross_file"

// Evidence adjustments.
const (
	corroborationBonus = 0.2
	controlsPenalty    = 0.1

	confidenceMin = 0.1
	confidenceMax = 1.0

	// Recommendation wording switches outside this band.
	stableBand = 0.1
)

// findingKind buckets findings into the classes that drive related-file
// selection.
type kind int

const (
	kindOther kind = iota
	kindUpload
	kindXSS
	kindPathTraversal
	kindPermission
)

var (
	uploadRe     = regexp.MustCompile(`(?i)upload|文件上传`)
	xssRe        = regexp.MustCompile(`(?i)\bxss\b|cross[- ]site\s*scripting|跨站`)
	traversalRe  = regexp.MustCompile(`(?i)path\s*traversal|directory\s*traversal|路径遍历|目录穿越`)
	permissionRe = regexp.MustCompile(`(?i)permission|authoriz|access\s*control|越权|权限`)

	controlsRe = regexp.MustCompile(`(?i)\bsafe\b|sanitiz|escap(?:e|ing)|whitelist|allowlist|parameterized|validate[ds]?\b|验证|校验|过滤|转义|白名单`)
)

func findingKind(f *models.Finding) kind {
	probe := f.Title + " " + f.Description
	switch {
	case uploadRe.MatchString(probe):
		return kindUpload
	case xssRe.MatchString(probe):
		return kindXSS
	case traversalRe.MatchString(probe):
		return kindPathTraversal
	case permissionRe.MatchString(probe):
		return kindPermission
	}
	return kindOther
}

// Analyzer implements the manager's cross-file follow-up. One analyzer
// serves one session.
type Analyzer struct {
	cfg     *config.CrossFileConfig
	root    string
	manager *llm.Manager
	files   *fileCache
	log     *slog.Logger

	mu         sync.Mutex
	project    []string
	projSet    map[string]struct{}
	memo       map[string]*models.Finding
	callerMemo map[string][]string
	language   map[string]string
}

// New creates an analyzer over the project rooted at root. languages maps
// project-relative paths to detected languages, used to label re-analysis
// prompts.
func New(cfg *config.CrossFileConfig, root string, manager *llm.Manager, projectFiles []string, languages map[string]string) *Analyzer {
	projSet := make(map[string]struct{}, len(projectFiles))
	for _, f := range projectFiles {
		projSet[f] = struct{}{}
	}
	return &Analyzer{
		cfg:        cfg,
		root:       root,
		manager:    manager,
		files:      newFileCache(cfg.FileCacheSize),
		log:        slog.With("component", "crossfile"),
		project:    projectFiles,
		projSet:    projSet,
		memo:       make(map[string]*models.Finding),
		callerMemo: make(map[string][]string),
		language:   languages,
	}
}

func (a *Analyzer) projectFiles() []string {
	return a.project
}

func (a *Analyzer) fileExists(rel string) bool {
	_, ok := a.projSet[rel]
	return ok
}

// ShouldAnalyze reports whether the finding's type alone warrants a
// cross-file follow-up, independent of its confidence.
func (a *Analyzer) ShouldAnalyze(f *models.Finding) bool {
	if !a.cfg.Enabled {
		return false
	}
	return findingKind(f) != kindOther
}

// Analyze runs the follow-up for one finding and returns a copy with
// adjusted confidence and accumulated evidence. Depth or cycle limits
// return the finding unchanged.
func (a *Analyzer) Analyze(ctx context.Context, f *models.Finding, mon *recursion.Monitor) (*models.Finding, error) {
	if !a.cfg.Enabled {
		return f, nil
	}
	if mon == nil {
		mon = recursion.NewMonitor(0)
	}

	memoKey := a.memoKey(f)
	a.mu.Lock()
	if cached, ok := a.memo[memoKey]; ok {
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	// The cross-file depth budget is separate from (and tighter than) the
	// global stack limit.
	if a.crossDepth(mon) >= a.cfg.MaxDepth {
		out := withRecommendation(f, f.Confidence, "cross-file depth limit reached; confidence unchanged")
		return out, nil
	}
	if err := mon.Enter(analysisType, f.FilePath); err != nil {
		out := withRecommendation(f, f.Confidence, "already under cross-file analysis; confidence unchanged")
		return out, nil
	}
	defer mon.Exit(analysisType, f.FilePath)

	content, err := a.files.read(filepath.Join(a.root, f.FilePath))
	if err != nil {
		a.log.Debug("Finding file unreadable", "path", f.FilePath, "error", err)
		return f, nil
	}

	related := a.findRelated(f, content)
	if len(related) == 0 {
		return f, nil
	}

	adjusted := *f
	adjusted.Evidence = append([]models.Evidence(nil), f.Evidence...)
	total := 0.0

	fKind := findingKind(f)
	for _, rel := range related {
		select {
		case <-ctx.Done():
			return f, ctx.Err()
		default:
		}

		relContent, err := a.files.read(filepath.Join(a.root, rel.Path))
		if err != nil {
			continue
		}

		result, err := a.manager.AnalyzeCode(ctx, &llm.AnalyzeRequest{
			Code:            relContent,
			FilePath:        rel.Path,
			AbsPath:         filepath.Join(a.root, rel.Path),
			Language:        a.language[rel.Path],
			Template:        relatedTemplate(fKind),
			AnalysisContext: llm.ContextRelatedFile,
			Monitor:         mon,
		})
		if err != nil {
			a.log.Debug("Related-file analysis failed",
				"path", rel.Path,
				"relation", rel.Relation,
				"error", err)
			continue
		}

		delta, summary := foldEvidence(fKind, result.Findings)
		total += delta
		adjusted.Evidence = append(adjusted.Evidence, models.Evidence{
			FilePath:   rel.Path,
			Summary:    fmt.Sprintf("%s: %s", rel.Relation, summary),
			Adjustment: delta,
		})
	}

	final := clamp(f.Confidence + total)
	out := withRecommendation(&adjusted, final, recommendation(f.Confidence, final))

	a.mu.Lock()
	a.memo[memoKey] = out
	a.mu.Unlock()
	return out, nil
}

// foldEvidence scores one related file's findings: +0.2 per finding of
// the same kind (corroboration), −0.1 per finding whose description
// signals security controls.
func foldEvidence(fKind kind, findings []models.Finding) (float64, string) {
	delta := 0.0
	corroborating, controls := 0, 0
	for i := range findings {
		rf := &findings[i]
		if findingKind(rf) == fKind && fKind != kindOther {
			delta += corroborationBonus
			corroborating++
		}
		if controlsRe.MatchString(rf.Description) || controlsRe.MatchString(rf.Title) {
			delta -= controlsPenalty
			controls++
		}
	}
	switch {
	case corroborating == 0 && controls == 0:
		return delta, "no corroborating evidence"
	case controls > corroborating:
		return delta, fmt.Sprintf("security controls detected (%d)", controls)
	default:
		return delta, fmt.Sprintf("corroborated by %d finding(s)", corroborating)
	}
}

func recommendation(before, after float64) string {
	switch {
	case after > before+stableBand:
		return "cross-file evidence strengthens this finding; prioritize remediation"
	case after < before-stableBand:
		return "cross-file evidence suggests existing mitigations; verify before remediation"
	default:
		return "cross-file analysis neither confirmed nor weakened this finding"
	}
}

// withRecommendation copies the finding with the new confidence and the
// recommendation appended to its description.
func withRecommendation(f *models.Finding, confidence float64, rec string) *models.Finding {
	out := *f
	out.Confidence = confidence
	if rec != "" {
		out.Description = strings.TrimRight(out.Description, "\n") + "\n\nRecommendation: " + rec
	}
	return &out
}

func (a *Analyzer) crossDepth(mon *recursion.Monitor) int {
	depth := 0
	for _, frame := range mon.Stack() {
		if frame.AnalysisType == analysisType {
			depth++
		}
	}
	return depth
}

func (a *Analyzer) memoKey(f *models.Finding) string {
	sum := md5.Sum(fmt.Appendf(nil, "%s|%s|%d", f.FilePath, f.Category, f.Line))
	return hex.EncodeToString(sum[:])
}

func relatedTemplate(k kind) string {
	switch k {
	case kindUpload:
		return "related_file_upload"
	case kindXSS:
		return "related_file_xss"
	case kindPathTraversal:
		return "related_file_path_traversal"
	case kindPermission:
		return "related_file_permission"
	}
	return "related_file_generic"
}

func clamp(v float64) float64 {
	if v < confidenceMin {
		return confidenceMin
	}
	if v > confidenceMax {
		return confidenceMax
	}
	return v
}
