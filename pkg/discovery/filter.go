// Package discovery walks a project tree, filters out irrelevant files,
// and extracts analyzable code units with deterministic priorities.
package discovery

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar"
	"github.com/dustin/go-humanize"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/config"
)

// Library sniffing reads at most this many leading lines.
const librarySniffLines = 10

// FilterDecision names the rule that settled a file's fate.
type FilterDecision string

// Filter exit paths, in evaluation order.
const (
	DecisionForceInclude   FilterDecision = "force_include"
	DecisionIgnorePattern  FilterDecision = "ignore_pattern"
	DecisionGitignore      FilterDecision = "gitignore"
	DecisionTooLarge       FilterDecision = "too_large"
	DecisionConditional    FilterDecision = "conditional"
	DecisionLibraryContent FilterDecision = "library_content"
	DecisionInclude        FilterDecision = "include"
)

// FilterStats counts files per exit path.
type FilterStats struct {
	Total          int `json:"total"`
	ForceIncluded  int `json:"force_included"`
	IgnorePatterns int `json:"ignore_patterns"`
	Gitignored     int `json:"gitignored"`
	TooLarge       int `json:"too_large"`
	Conditional    int `json:"conditional"`
	LibraryContent int `json:"library_content"`
	Included       int `json:"included"`
}

// Conditional pattern groups, toggled by config.
var conditionalPatterns = map[string][]string{
	"css_files":  {"**/*.css", "**/*.scss", "**/*.sass", "**/*.less"},
	"test_files": {"**/test_*", "**/*_test.*", "**/*.test.*", "**/*.spec.*", "**/tests/**", "**/test/**", "**/__tests__/**"},
	"doc_files":  {"**/*.md", "**/*.rst", "**/*.txt", "**/docs/**", "**/doc/**"},
	"log_files":  {"**/*.log", "**/logs/**", "**/log/**"},
}

// Filter applies the configured exclusion rules to candidate files.
type Filter struct {
	cfg       *config.FileFilteringConfig
	root      string
	gitignore []string
	log       *slog.Logger
}

// NewFilter creates a filter rooted at the project directory. When
// use_gitignore is set, .gitignore patterns are loaded once at creation.
func NewFilter(root string, cfg *config.FileFilteringConfig) *Filter {
	f := &Filter{
		cfg:  cfg,
		root: root,
		log:  slog.With("component", "file_filter"),
	}
	if cfg.UseGitignore {
		f.gitignore = loadGitignore(filepath.Join(root, ".gitignore"))
	}
	return f
}

// Apply filters the candidate list, returning survivors and per-exit
// counts. Paths are relative to the project root.
func (f *Filter) Apply(files []string) ([]string, FilterStats) {
	stats := FilterStats{Total: len(files)}
	if !f.cfg.Enabled {
		stats.Included = len(files)
		return files, stats
	}

	kept := make([]string, 0, len(files))
	for _, path := range files {
		switch f.Decide(path) {
		case DecisionForceInclude:
			stats.ForceIncluded++
			kept = append(kept, path)
		case DecisionIgnorePattern:
			stats.IgnorePatterns++
		case DecisionGitignore:
			stats.Gitignored++
		case DecisionTooLarge:
			stats.TooLarge++
		case DecisionConditional:
			stats.Conditional++
		case DecisionLibraryContent:
			stats.LibraryContent++
		default:
			stats.Included++
			kept = append(kept, path)
		}
	}

	f.log.Info("File filtering complete",
		"total", stats.Total,
		"included", stats.Included+stats.ForceIncluded,
		"ignore_patterns", stats.IgnorePatterns,
		"gitignored", stats.Gitignored,
		"too_large", stats.TooLarge,
		"conditional", stats.Conditional,
		"library", stats.LibraryContent)
	return kept, stats
}

// Decide evaluates the rules for one file. First match wins:
// force_include, ignore_patterns, gitignore, too_large, conditionals,
// library content sniff, include.
func (f *Filter) Decide(path string) FilterDecision {
	rel := filepath.ToSlash(path)

	for _, pattern := range f.cfg.ForceInclude {
		if matchPattern(pattern, rel) {
			return DecisionForceInclude
		}
	}
	for _, pattern := range f.cfg.IgnorePatterns {
		if matchPattern(pattern, rel) {
			return DecisionIgnorePattern
		}
	}
	for _, pattern := range f.gitignore {
		if matchPattern(pattern, rel) {
			return DecisionGitignore
		}
	}

	abs := filepath.Join(f.root, path)
	if f.cfg.MaxFileSize > 0 {
		if info, err := os.Stat(abs); err == nil && info.Size() > f.cfg.MaxFileSize {
			f.log.Debug("Excluding oversized file",
				"path", rel,
				"size", humanize.Bytes(uint64(info.Size())))
			return DecisionTooLarge
		}
	}

	for group, enabled := range map[string]bool{
		"css_files":  f.cfg.ConditionalIgnore.CSSFiles,
		"test_files": f.cfg.ConditionalIgnore.TestFiles,
		"doc_files":  f.cfg.ConditionalIgnore.DocFiles,
		"log_files":  f.cfg.ConditionalIgnore.LogFiles,
	} {
		if !enabled {
			continue
		}
		for _, pattern := range conditionalPatterns[group] {
			if matchPattern(pattern, rel) {
				return DecisionConditional
			}
		}
	}

	if f.cfg.DetectLibraries && f.sniffLibrary(abs) {
		return DecisionLibraryContent
	}
	return DecisionInclude
}

// sniffLibrary reads the first lines of a file and reports whether any
// configured library keyword appears. Unreadable files are not libraries.
func (f *Filter) sniffLibrary(abs string) bool {
	if len(f.cfg.LibraryKeywords) == 0 {
		return false
	}
	file, err := os.Open(abs)
	if err != nil {
		return false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for i := 0; i < librarySniffLines && scanner.Scan(); i++ {
		line := strings.ToLower(scanner.Text())
		for _, kw := range f.cfg.LibraryKeywords {
			if strings.Contains(line, strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}

// matchPattern matches a gitignore-style pattern against a slash path.
// Plain names match any path segment; glob patterns use doublestar.
func matchPattern(pattern, rel string) bool {
	pattern = strings.TrimSuffix(strings.TrimSpace(pattern), "/")
	if pattern == "" {
		return false
	}

	if !strings.ContainsAny(pattern, "*?[") {
		if rel == pattern || strings.HasPrefix(rel, pattern+"/") {
			return true
		}
		for _, seg := range strings.Split(rel, "/") {
			if seg == pattern {
				return true
			}
		}
		return false
	}

	if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
		return true
	}
	// Bare globs like *.min.js apply to the basename.
	if !strings.Contains(pattern, "/") {
		if ok, err := doublestar.Match(pattern, filepath.Base(rel)); err == nil && ok {
			return true
		}
	}
	return false
}

func loadGitignore(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, strings.TrimPrefix(line, "/"))
	}
	return patterns
}
