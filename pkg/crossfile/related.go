package crossfile

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/models"
)

// relatedFile is one candidate for follow-up analysis.
type relatedFile struct {
	Path     string // relative to project root
	Relation string // caller, callee, config, template, parent_controller
}

// Config-file globs consulted for upload and path-traversal findings.
var configGlobs = []string{
	"**/config.*",
	"**/settings.*",
	"**/application.properties",
	"**/web.xml",
	"**/.htaccess",
}

var (
	importRe = regexp.MustCompile(`(?m)^\s*(?:import\s+(?:[\w.{}\s,*]+\s+from\s+)?['"]([^'"]+)['"]|import\s+([\w.]+)|from\s+([\w.]+)\s+import|require\s*\(\s*['"]([^'"]+)['"]\s*\)|include(?:_once)?\s*\(?\s*['"]([^'"]+)['"]|#include\s+["<]([^">]+)[">])`)

	templateRefRe = regexp.MustCompile(`['"]([\w./-]+\.(?:html?|jsp|tpl|vm|ftl))['"]`)

	resolveExtensions = []string{"", ".py", ".js", ".ts", ".java", ".go", ".php", ".rb"}
)

// findRelated enumerates candidate related files for a finding, capped at
// the configured maximum.
func (a *Analyzer) findRelated(f *models.Finding, content string) []relatedFile {
	seen := map[string]struct{}{f.FilePath: {}}
	var related []relatedFile

	add := func(path, relation string) bool {
		path = filepath.ToSlash(path)
		if _, dup := seen[path]; dup {
			return len(related) < a.cfg.MaxRelatedFiles
		}
		seen[path] = struct{}{}
		related = append(related, relatedFile{Path: path, Relation: relation})
		return len(related) < a.cfg.MaxRelatedFiles
	}

	kind := findingKind(f)

	for _, path := range a.findCallers(f.FilePath) {
		if !add(path, "caller") {
			return related
		}
	}
	for _, path := range a.findCallees(f.FilePath, content) {
		if !add(path, "callee") {
			return related
		}
	}
	if kind == kindUpload || kind == kindPathTraversal {
		for _, path := range a.matchGlobs(configGlobs) {
			if !add(path, "config") {
				return related
			}
		}
	}
	if kind == kindXSS {
		for _, m := range templateRefRe.FindAllStringSubmatch(content, -1) {
			if path, ok := a.resolve(f.FilePath, m[1]); ok {
				if !add(path, "template") {
					return related
				}
			}
		}
	}
	if kind == kindUpload {
		for _, path := range a.findParentControllers(f.FilePath) {
			if !add(path, "parent_controller") {
				return related
			}
		}
	}
	return related
}

// findCallers searches project files whose content mentions the file's
// basename or stem on a word boundary. The search is bounded: files
// matching the extension allowlist, at most maxFiles candidates, files up
// to maxFileBytes, reading only the first previewBytes; first five
// matches win. Results are memoized per file, so repeated findings in the
// same file rescan nothing.
func (a *Analyzer) findCallers(rel string) []string {
	a.mu.Lock()
	if cached, ok := a.callerMemo[rel]; ok {
		a.mu.Unlock()
		return cached
	}
	a.mu.Unlock()

	base := filepath.Base(rel)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		return nil
	}
	needle := regexp.MustCompile(`\b` + regexp.QuoteMeta(stem) + `\b`)

	extAllowed := make(map[string]struct{}, len(a.cfg.Search.Extensions))
	for _, ext := range a.cfg.Search.Extensions {
		extAllowed[strings.ToLower(ext)] = struct{}{}
	}

	var matches []string
	scanned := 0
	for _, candidate := range a.projectFiles() {
		if len(matches) >= 5 {
			break
		}
		if candidate == rel {
			continue
		}
		if len(extAllowed) > 0 {
			if _, ok := extAllowed[strings.ToLower(filepath.Ext(candidate))]; !ok {
				continue
			}
		}
		if scanned >= a.cfg.Search.MaxFiles {
			break
		}
		scanned++

		abs := filepath.Join(a.root, candidate)
		info, err := os.Stat(abs)
		if err != nil || info.Size() > a.cfg.Search.MaxFileBytes {
			continue
		}
		preview, err := readPreview(abs, a.cfg.Search.PreviewBytes)
		if err != nil {
			continue
		}
		if needle.MatchString(preview) {
			matches = append(matches, candidate)
		}
	}

	a.mu.Lock()
	a.callerMemo[rel] = matches
	a.mu.Unlock()
	return matches
}

// findCallees parses import/include/require statements and resolves each
// to a project path, trying relative-to-file then relative-to-root with
// common extension fallbacks.
func (a *Analyzer) findCallees(rel, content string) []string {
	var out []string
	for _, m := range importRe.FindAllStringSubmatch(content, -1) {
		target := ""
		for _, group := range m[1:] {
			if group != "" {
				target = group
				break
			}
		}
		if target == "" {
			continue
		}
		// Dotted module paths become slash paths.
		if !strings.ContainsAny(target, "/\\.") || strings.Contains(target, ".") && !strings.Contains(target, "/") {
			target = strings.ReplaceAll(target, ".", "/")
		}
		if path, ok := a.resolve(rel, target); ok {
			out = append(out, path)
		}
	}
	return out
}

// resolve maps an import target to an existing project-relative path.
func (a *Analyzer) resolve(fromRel, target string) (string, bool) {
	bases := []string{
		filepath.Join(filepath.Dir(fromRel), target),
		target,
	}
	for _, base := range bases {
		for _, ext := range resolveExtensions {
			candidate := filepath.ToSlash(base + ext)
			if a.fileExists(candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}

// findParentControllers globs ancestor directories of the file for
// controller-named sources.
func (a *Analyzer) findParentControllers(rel string) []string {
	var out []string
	dir := filepath.Dir(rel)
	for {
		pattern := filepath.ToSlash(filepath.Join(dir, "*Controller*"))
		for _, path := range a.matchGlobs([]string{pattern}) {
			if path != rel {
				out = append(out, path)
			}
		}
		if dir == "." || dir == "/" {
			break
		}
		dir = filepath.Dir(dir)
	}
	return out
}

func (a *Analyzer) matchGlobs(globs []string) []string {
	var out []string
	for _, pattern := range globs {
		for _, candidate := range a.projectFiles() {
			if ok, err := doublestar.Match(pattern, candidate); err == nil && ok {
				out = append(out, candidate)
			}
		}
	}
	return out
}

func readPreview(abs string, limit int) (string, error) {
	f, err := os.Open(abs)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(bufio.NewReader(f), int64(limit)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
