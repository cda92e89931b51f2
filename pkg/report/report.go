// Package report renders completed audit sessions to JSON and Markdown.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/aggregate"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/coverage"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/models"
)

// Report is the serialized audit result.
type Report struct {
	SessionID   string               `json:"session_id"`
	ProjectPath string               `json:"project_path"`
	Status      models.SessionStatus `json:"status"`
	StartedAt   time.Time            `json:"started_at,omitzero"`
	CompletedAt time.Time            `json:"completed_at,omitzero"`
	Progress    models.Progress      `json:"progress"`
	Findings    []models.Finding     `json:"findings"`
	Errors      []string             `json:"errors,omitempty"`
	Stats       aggregate.Stats      `json:"stats"`
	Coverage    coverage.Report      `json:"coverage"`
}

// Build assembles a report from a session snapshot and its statistics.
func Build(session models.Session, stats aggregate.Stats, cov coverage.Report) *Report {
	return &Report{
		SessionID:   session.ID,
		ProjectPath: session.ProjectPath,
		Status:      session.Status,
		StartedAt:   session.StartedAt,
		CompletedAt: session.CompletedAt,
		Progress:    session.Progress,
		Findings:    session.Findings,
		Errors:      session.Errors,
		Stats:       stats,
		Coverage:    cov,
	}
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// MarkdownPath derives the Markdown twin of a JSON report path.
func MarkdownPath(jsonPath string) string {
	ext := filepath.Ext(jsonPath)
	return strings.TrimSuffix(jsonPath, ext) + ".md"
}

// WriteMarkdown renders the human-readable report next to the JSON one.
func (r *Report) WriteMarkdown(path string) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# Security Audit Report\n\n")
	fmt.Fprintf(&b, "- **Project**: `%s`\n", r.ProjectPath)
	fmt.Fprintf(&b, "- **Session**: `%s`\n", r.SessionID)
	fmt.Fprintf(&b, "- **Status**: %s\n", r.Status)
	if !r.CompletedAt.IsZero() && !r.StartedAt.IsZero() {
		fmt.Fprintf(&b, "- **Duration**: %s\n", r.CompletedAt.Sub(r.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(&b, "- **Files analyzed**: %d of %d\n", r.Progress.AnalyzedFiles, r.Progress.TotalFiles)
	fmt.Fprintf(&b, "- **Risk score**: %.1f / 10\n", r.Stats.RiskScore)
	fmt.Fprintf(&b, "- **Coverage**: %.1f%%\n\n", r.Coverage.CoveragePct)

	b.WriteString("## Summary\n\n")
	b.WriteString("| Severity | Count |\n|---|---|\n")
	for _, sev := range []models.Severity{
		models.SeverityCritical, models.SeverityHigh, models.SeverityMedium,
		models.SeverityLow, models.SeverityInfo,
	} {
		fmt.Fprintf(&b, "| %s | %d |\n", sev, r.Stats.BySeverity[sev])
	}
	b.WriteString("\n")

	if len(r.Stats.TopFiles) > 0 {
		b.WriteString("## Most Affected Files\n\n")
		for _, fc := range r.Stats.TopFiles {
			fmt.Fprintf(&b, "- `%s`: %d finding(s)\n", fc.FilePath, fc.Count)
		}
		b.WriteString("\n")
	}

	if len(r.Findings) > 0 {
		b.WriteString("## Findings\n\n")
		for i, f := range r.Findings {
			fmt.Fprintf(&b, "### %d. %s\n\n", i+1, f.Title)
			fmt.Fprintf(&b, "- **Severity**: %s\n", f.Severity)
			fmt.Fprintf(&b, "- **Category**: %s\n", f.Category)
			if f.Line > 0 {
				fmt.Fprintf(&b, "- **Location**: `%s:%d`\n", f.FilePath, f.Line)
			} else {
				fmt.Fprintf(&b, "- **Location**: `%s`\n", f.FilePath)
			}
			if f.CWE != "" {
				fmt.Fprintf(&b, "- **CWE**: %s\n", f.CWE)
			}
			fmt.Fprintf(&b, "- **Confidence**: %d%%\n\n", int(f.Confidence*100))
			if f.Snippet != "" {
				fmt.Fprintf(&b, "```\n%s\n```\n\n", f.Snippet)
			}
			if desc := strings.TrimSpace(f.Description); desc != "" && desc != f.Title {
				fmt.Fprintf(&b, "%s\n\n", truncate(desc, 2000))
			}
			for _, ev := range f.Evidence {
				fmt.Fprintf(&b, "> Evidence from `%s`: %s (%+.1f)\n", ev.FilePath, ev.Summary, ev.Adjustment)
			}
			b.WriteString("\n")
		}
	} else {
		b.WriteString("## Findings\n\nNo security findings.\n\n")
	}

	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, "## Errors (%d)\n\n", len(r.Errors))
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "---\n\nGenerated %s.\n", humanize.Time(time.Now()))
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
