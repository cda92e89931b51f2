package discovery

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/config"
)

func filterConfig() *config.FileFilteringConfig {
	return &config.FileFilteringConfig{
		Enabled:        true,
		IgnorePatterns: []string{"node_modules", "*.min.js", "generated/**"},
	}
}

func TestDecideOrder(t *testing.T) {
	root := t.TempDir()
	cfg := filterConfig()
	cfg.ForceInclude = []string{"vendor/important.js"}
	cfg.IgnorePatterns = append(cfg.IgnorePatterns, "vendor")
	cfg.ConditionalIgnore.TestFiles = true
	f := NewFilter(root, cfg)

	tests := []struct {
		path string
		want FilterDecision
	}{
		// force_include beats the vendor ignore pattern
		{"vendor/important.js", DecisionForceInclude},
		{"vendor/other.js", DecisionIgnorePattern},
		{"node_modules/lib/index.js", DecisionIgnorePattern},
		{"static/app.min.js", DecisionIgnorePattern},
		{"generated/models.py", DecisionIgnorePattern},
		{"tests/test_login.py", DecisionConditional},
		{"app/views.py", DecisionInclude},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, f.Decide(tc.path), tc.path)
	}
}

func TestDecideIdempotent(t *testing.T) {
	f := NewFilter(t.TempDir(), filterConfig())

	for _, path := range []string{"app/views.py", "node_modules/x.js", "a.min.js"} {
		first := f.Decide(path)
		assert.Equal(t, first, f.Decide(path), path)
	}
}

func TestDecideGitignore(t *testing.T) {
	root := t.TempDir()
	gitignore := "# build output\n/out\n*.pyc\n\nsecrets.env\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte(gitignore), 0o644))

	cfg := filterConfig()
	cfg.UseGitignore = true
	f := NewFilter(root, cfg)

	assert.Equal(t, DecisionGitignore, f.Decide("out/app.bin"))
	assert.Equal(t, DecisionGitignore, f.Decide("pkg/__init__.pyc"))
	assert.Equal(t, DecisionGitignore, f.Decide("config/secrets.env"))
	assert.Equal(t, DecisionInclude, f.Decide("app/views.py"))
}

func TestDecideTooLarge(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.py"), make([]byte, 2048), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "small.py"), []byte("x = 1\n"), 0o644))

	cfg := filterConfig()
	cfg.MaxFileSize = 1024
	f := NewFilter(root, cfg)

	assert.Equal(t, DecisionTooLarge, f.Decide("big.py"))
	assert.Equal(t, DecisionInclude, f.Decide("small.py"))
}

func TestDecideLibrarySniff(t *testing.T) {
	root := t.TempDir()
	lib := "/*! jQuery v3.6.0 | (c) OpenJS Foundation */\nvar a = 1;\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "jquery.js"), []byte(lib), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.js"), []byte("const app = {};\n"), 0o644))

	cfg := filterConfig()
	cfg.DetectLibraries = true
	cfg.LibraryKeywords = []string{"jquery", "bootstrap"}
	f := NewFilter(root, cfg)

	assert.Equal(t, DecisionLibraryContent, f.Decide("jquery.js"))
	assert.Equal(t, DecisionInclude, f.Decide("app.js"))
}

func TestApplyDisabledPassesEverything(t *testing.T) {
	cfg := filterConfig()
	cfg.Enabled = false
	f := NewFilter(t.TempDir(), cfg)

	files := []string{"node_modules/x.js", "a.min.js"}
	kept, stats := f.Apply(files)
	assert.Equal(t, files, kept)
	assert.Equal(t, 2, stats.Included)
}

func TestApplyStats(t *testing.T) {
	f := NewFilter(t.TempDir(), filterConfig())

	kept, stats := f.Apply([]string{"app.py", "node_modules/a.js", "b.min.js"})
	assert.Equal(t, []string{"app.py"}, kept)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Included)
	assert.Equal(t, 2, stats.IgnorePatterns)
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern, path string
		want          bool
	}{
		// Plain names match any path segment
		{"node_modules", "node_modules/a.js", true},
		{"node_modules", "src/node_modules/a.js", true},
		{"node_modules", "src/app.js", false},
		{"dist/", "dist/bundle.js", true},
		// Bare globs also match the basename
		{"*.min.js", "static/js/app.min.js", true},
		{"*.min.js", "static/js/app.js", false},
		// Rooted globs match the whole relative path
		{"generated/**", "generated/deep/model.py", true},
		{"generated/**", "src/generated.py", false},
		{"", "anything", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, matchPattern(tc.pattern, tc.path), "%s vs %s", tc.pattern, tc.path)
	}
}

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		path, name string
		want       string
	}{
		{"src/auth/login.py", "", "critical"},
		{"src/handlers/profile.py", "", "high"},
		{"src/tests/colors.py", "", "low"},
		{"src/misc/colors.py", "", "medium"},
		// Symbol name takes precedence over the path
		{"src/misc/colors.py", "validate_input", "critical"},
		{"src/auth/login.py", "blend", "medium"},
	}
	for _, tc := range tests {
		assert.EqualValues(t, tc.want, priorityFor(tc.path, tc.name), "%s %s", tc.path, tc.name)
	}
}

func TestExtractSymbolsPython(t *testing.T) {
	src := `import os

class LoginHandler:
    def authenticate(self, user, password):
        return True

    def logout(self):
        pass

def helper():
    return 1
`
	syms := extractSymbols(src, "Python")
	require.Len(t, syms, 4)

	assert.Equal(t, "LoginHandler", syms[0].Name)
	assert.Equal(t, 3, syms[0].StartLine)
	assert.Equal(t, 3, syms[0].EndLine, "closed at the next definition")

	assert.Equal(t, "authenticate", syms[1].Name)
	assert.Equal(t, "logout", syms[2].Name)
	assert.Equal(t, "helper", syms[3].Name)
	assert.Equal(t, strings.Count(src, "\n")+1, syms[3].EndLine, "last symbol runs to EOF")
}

func TestExtractSymbolsUnsupportedLanguage(t *testing.T) {
	assert.Nil(t, extractSymbols("whatever", "COBOL"))
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path, want string
	}{
		{"app/views.py", "Python"},
		{"src/index.ts", "TypeScript"},
		{"main.go", "Go"},
		{"lib/helper.rb", "Ruby"},
		{"README.xyz", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, detectLanguage(tc.path), tc.path)
	}
}
