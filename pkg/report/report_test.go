package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/aggregate"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/coverage"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/models"
)

func sampleReport() *Report {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	session := models.Session{
		ID:          "sess-1",
		ProjectPath: "/work/shop",
		Status:      models.SessionStatusCompleted,
		StartedAt:   started,
		CompletedAt: started.Add(92 * time.Second),
		Progress:    models.Progress{TotalFiles: 12, AnalyzedFiles: 10, SkippedFiles: 2},
		Findings: []models.Finding{
			{
				Title:      "SQL injection in search",
				Severity:   models.SeverityCritical,
				Category:   models.CategoryInjection,
				FilePath:   "app/search.py",
				Line:       42,
				Snippet:    `cursor.execute("SELECT * FROM t WHERE q='" + q + "'")`,
				CWE:        "CWE-89",
				Confidence: 0.9,
				Evidence: []models.Evidence{
					{FilePath: "app/views.py", Summary: "caller: corroborated by 1 finding(s)", Adjustment: 0.2},
				},
			},
			{
				Title:      "Hardcoded credential",
				Severity:   models.SeverityHigh,
				Category:   models.CategorySensitiveData,
				FilePath:   "settings.py",
				Confidence: 0.7,
			},
		},
		Errors: []string{"app/broken.py: analysis timed out"},
	}
	stats := aggregate.Stats{
		Total:      2,
		BySeverity: map[models.Severity]int{models.SeverityCritical: 1, models.SeverityHigh: 1},
		TopFiles:   []aggregate.FileCount{{FilePath: "app/search.py", Count: 1}},
		RiskScore:  6.4,
	}
	cov := coverage.Report{Total: 12, CoveragePct: 83.3}
	return Build(session, stats, cov)
}

func TestBuildCopiesSessionFields(t *testing.T) {
	r := sampleReport()
	assert.Equal(t, "sess-1", r.SessionID)
	assert.Equal(t, "/work/shop", r.ProjectPath)
	assert.Equal(t, models.SessionStatusCompleted, r.Status)
	assert.Len(t, r.Findings, 2)
	assert.Equal(t, 10, r.Progress.AnalyzedFiles)
	assert.InDelta(t, 6.4, r.Stats.RiskScore, 1e-9)
}

func TestMarkdownPath(t *testing.T) {
	assert.Equal(t, "audit-report.md", MarkdownPath("audit-report.json"))
	assert.Equal(t, "out/result.md", MarkdownPath("out/result.json"))
	assert.Equal(t, "report.md", MarkdownPath("report"))
}

func TestWriteJSONRoundTrip(t *testing.T) {
	r := sampleReport()
	path := filepath.Join(t.TempDir(), "reports", "audit.json")
	require.NoError(t, r.WriteJSON(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Report
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, r.SessionID, got.SessionID)
	assert.Len(t, got.Findings, 2)
	assert.Equal(t, "CWE-89", got.Findings[0].CWE)
}

func TestWriteMarkdown(t *testing.T) {
	r := sampleReport()
	path := filepath.Join(t.TempDir(), "audit.md")
	require.NoError(t, r.WriteMarkdown(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	md := string(data)

	assert.Contains(t, md, "# Security Audit Report")
	assert.Contains(t, md, "`/work/shop`")
	assert.Contains(t, md, "**Duration**: 1m32s")
	assert.Contains(t, md, "**Risk score**: 6.4 / 10")
	assert.Contains(t, md, "| critical | 1 |")
	assert.Contains(t, md, "### 1. SQL injection in search")
	assert.Contains(t, md, "`app/search.py:42`")
	assert.Contains(t, md, "**CWE**: CWE-89")
	assert.Contains(t, md, "**Confidence**: 90%")
	assert.Contains(t, md, "cursor.execute")
	assert.Contains(t, md, "> Evidence from `app/views.py`")
	// A finding without a line renders its path alone
	assert.Contains(t, md, "`settings.py`\n")
	assert.Contains(t, md, "## Errors (1)")
	assert.Contains(t, md, "analysis timed out")
}

func TestWriteMarkdownNoFindings(t *testing.T) {
	r := sampleReport()
	r.Findings = nil
	r.Errors = nil
	path := filepath.Join(t.TempDir(), "clean.md")
	require.NoError(t, r.WriteMarkdown(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "No security findings.")
	assert.NotContains(t, string(data), "## Errors")
}
