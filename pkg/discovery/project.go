package discovery

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/src-d/enry/v2"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/config"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/models"
)

// Directories never worth walking into.
var skipDirs = map[string]struct{}{
	".git":         {},
	".svn":         {},
	".hg":          {},
	"node_modules": {},
	"vendor":       {},
	"__pycache__":  {},
	".venv":        {},
	"venv":         {},
	".idea":        {},
	".vscode":      {},
	"dist":         {},
	"build":        {},
	"target":       {},
}

// Priority keyword policy. Path or name substring matching, checked in
// CRITICAL, HIGH, LOW order with MEDIUM as the default.
var (
	criticalKeywords = []string{
		"auth", "login", "password", "token", "session", "security",
		"admin", "config", "database", "api", "main", "app",
		"encrypt", "decrypt", "validate", "execute", "query",
		"delete", "create", "update",
	}
	highKeywords = []string{
		"user", "payment", "order", "transaction", "crypto", "process",
		"handle", "parse", "verify", "check", "model", "handler",
		"processor", "validator",
	}
	lowKeywords = []string{"test", "spec", "mock"}
)

// Project is the discovery result for one audit.
type Project struct {
	Root      string
	Files     []string
	Languages map[string]string // path → language
	Units     []*models.CodeUnit
	Stats     FilterStats
}

// Discoverer walks a project and produces code units.
type Discoverer struct {
	cfg    *config.AuditConfig
	filter *Filter
	log    *slog.Logger

	supported map[string]struct{}
}

// NewDiscoverer creates a discoverer using the audit config's supported
// language list and the given file filter.
func NewDiscoverer(cfg *config.AuditConfig, filter *Filter) *Discoverer {
	supported := make(map[string]struct{}, len(cfg.SupportedLanguages))
	for _, lang := range cfg.SupportedLanguages {
		supported[strings.ToLower(lang)] = struct{}{}
	}
	return &Discoverer{
		cfg:       cfg,
		filter:    filter,
		log:       slog.With("component", "discovery"),
		supported: supported,
	}
}

// Discover walks root, filters candidates, detects languages, and builds
// code units. maxFiles <= 0 means unlimited.
func (d *Discoverer) Discover(root string, maxFiles int) (*Project, error) {
	var candidates []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			d.log.Debug("Walk error, skipping", "path", path, "error", err)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			if _, skip := skipDirs[entry.Name()]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		candidates = append(candidates, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking project: %w", err)
	}
	sort.Strings(candidates)

	files, stats := d.filter.Apply(candidates)

	project := &Project{
		Root:      root,
		Languages: make(map[string]string),
		Stats:     stats,
	}
	for _, rel := range files {
		lang := detectLanguage(rel)
		if lang == "" {
			continue
		}
		if _, ok := d.supported[strings.ToLower(lang)]; !ok {
			continue
		}
		if maxFiles > 0 && len(project.Files) >= maxFiles {
			break
		}
		project.Files = append(project.Files, rel)
		project.Languages[rel] = lang
		project.Units = append(project.Units, d.unitsForFile(root, rel, lang)...)
	}

	d.log.Info("Project discovery complete",
		"root", root,
		"files", len(project.Files),
		"units", len(project.Units))
	return project, nil
}

// unitsForFile yields one file-level unit plus function/class units where
// symbol extraction is feasible for the language.
func (d *Discoverer) unitsForFile(root, rel, lang string) []*models.CodeUnit {
	abs := filepath.Join(root, rel)
	data, err := os.ReadFile(abs)
	if err != nil {
		d.log.Debug("Unreadable file skipped", "path", rel, "error", err)
		return nil
	}
	content := string(data)
	lineCount := strings.Count(content, "\n") + 1
	filePriority := priorityFor(rel, "")

	units := []*models.CodeUnit{{
		ID:        models.UnitID(models.UnitTypeFile, rel, filepath.Base(rel), 1),
		Name:      filepath.Base(rel),
		FilePath:  rel,
		StartLine: 1,
		EndLine:   lineCount,
		Type:      models.UnitTypeFile,
		Status:    models.UnitStatusPending,
		Priority:  filePriority,
	}}

	for _, sym := range extractSymbols(content, lang) {
		priority := priorityFor(rel, sym.Name)
		if priority == models.PriorityMedium {
			// No keyword match; inherit the file's priority.
			priority = filePriority
		}
		units = append(units, &models.CodeUnit{
			ID:        models.UnitID(sym.Type, rel, sym.Name, sym.StartLine),
			Name:      sym.Name,
			FilePath:  rel,
			StartLine: sym.StartLine,
			EndLine:   sym.EndLine,
			Type:      sym.Type,
			Status:    models.UnitStatusPending,
			Priority:  priority,
		})
	}
	return units
}

// priorityFor assigns a priority from path/name substrings.
func priorityFor(path, name string) models.Priority {
	probe := strings.ToLower(path)
	if name != "" {
		probe = strings.ToLower(name)
	}
	for _, kw := range criticalKeywords {
		if strings.Contains(probe, kw) {
			return models.PriorityCritical
		}
	}
	for _, kw := range highKeywords {
		if strings.Contains(probe, kw) {
			return models.PriorityHigh
		}
	}
	for _, kw := range lowKeywords {
		if strings.Contains(probe, kw) {
			return models.PriorityLow
		}
	}
	return models.PriorityMedium
}

// detectLanguage resolves a file's language from its name, falling back to
// extension mapping for files enry cannot classify by name alone.
func detectLanguage(rel string) string {
	if lang, safe := enry.GetLanguageByExtension(rel); safe && lang != "" {
		return lang
	}
	if lang, safe := enry.GetLanguageByFilename(filepath.Base(rel)); safe && lang != "" {
		return lang
	}
	switch strings.ToLower(filepath.Ext(rel)) {
	case ".py":
		return "Python"
	case ".js", ".jsx", ".mjs":
		return "JavaScript"
	case ".ts", ".tsx":
		return "TypeScript"
	case ".java":
		return "Java"
	case ".go":
		return "Go"
	case ".php":
		return "PHP"
	case ".rb":
		return "Ruby"
	}
	return ""
}
