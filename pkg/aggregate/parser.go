// Package aggregate turns raw LLM output into deduplicated, sorted findings
// and computes summary statistics over them.
package aggregate

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/models"
)

// Finding headers recognized in free-text output.
var headerRe = regexp.MustCompile(`(?im)^\s*(?:#+\s*)?(?:\*\*)?\s*(?:Vulnerability|Security Issue|Potential Risk|漏洞|安全问题)\s*[:：]\s*(.+?)\s*(?:\*\*)?\s*$`)

// catalogEntry maps a vulnerability-type pattern to its category and a
// floor severity.
type catalogEntry struct {
	pattern  *regexp.Regexp
	category models.Category
	severity models.Severity
}

var typeCatalog = []catalogEntry{
	{regexp.MustCompile(`(?i)sql\s*injection|sqli\b|sql注入`), models.CategoryInjection, models.SeverityHigh},
	{regexp.MustCompile(`(?i)command\s*injection|os\s*command|命令注入`), models.CategoryInjection, models.SeverityCritical},
	{regexp.MustCompile(`(?i)\bxss\b|cross[- ]site\s*scripting|跨站脚本`), models.CategoryInjection, models.SeverityHigh},
	{regexp.MustCompile(`(?i)path\s*traversal|directory\s*traversal|路径遍历|目录穿越`), models.CategoryInputValidation, models.SeverityHigh},
	{regexp.MustCompile(`(?i)\bcsrf\b|cross[- ]site\s*request`), models.CategorySession, models.SeverityMedium},
	{regexp.MustCompile(`(?i)\bssrf\b|server[- ]side\s*request`), models.CategoryInputValidation, models.SeverityHigh},
	{regexp.MustCompile(`(?i)deserializ|反序列化`), models.CategoryInjection, models.SeverityCritical},
	{regexp.MustCompile(`(?i)hard[- ]?coded\s*(?:secret|password|key|credential)|硬编码`), models.CategorySensitiveData, models.SeverityHigh},
	{regexp.MustCompile(`(?i)sensitive\s*(?:data|information)\s*(?:exposure|leak)|信息泄露`), models.CategorySensitiveData, models.SeverityMedium},
	{regexp.MustCompile(`(?i)weak\s*(?:crypto|cipher|hash|random)|\bmd5\b|\bdes\b|弱加密`), models.CategoryCrypto, models.SeverityMedium},
	{regexp.MustCompile(`(?i)authenticat|身份(?:认证|验证)`), models.CategoryAuth, models.SeverityHigh},
	{regexp.MustCompile(`(?i)authoriz|access\s*control|越权|权限`), models.CategoryAuth, models.SeverityHigh},
	{regexp.MustCompile(`(?i)session\s*(?:fixation|hijack|management)`), models.CategorySession, models.SeverityMedium},
	{regexp.MustCompile(`(?i)file\s*upload|upload\s*(?:vulnerab|bypass)|文件上传`), models.CategoryInputValidation, models.SeverityHigh},
	{regexp.MustCompile(`(?i)input\s*validation|unvalidated\s*input|未(?:经)?(?:校验|验证)`), models.CategoryInputValidation, models.SeverityMedium},
	{regexp.MustCompile(`(?i)misconfigur|insecure\s*(?:default|config)|debug\s*(?:mode|enabled)`), models.CategoryConfig, models.SeverityMedium},
	{regexp.MustCompile(`(?i)outdated\s*(?:dependency|library|component)|known\s*vulnerab.*(?:dependency|version)`), models.CategoryDependency, models.SeverityMedium},
	{regexp.MustCompile(`(?i)open\s*redirect`), models.CategoryInputValidation, models.SeverityMedium},
	{regexp.MustCompile(`(?i)\beval\b|code\s*injection|代码注入`), models.CategoryInjection, models.SeverityCritical},
}

var (
	fencedJSONRe  = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\}|\\[.*?\\])\\s*```")
	fencedCodeRe  = regexp.MustCompile("(?s)```[a-zA-Z]*\\n(.*?)```")
	lineRefRe     = regexp.MustCompile(`(?i)(?:line|行号?|at line)[\s:：#]*(\d+)`)
	cweRe         = regexp.MustCompile(`(?i)CWE[- ]?(\d+)`)
	severityRes   = map[models.Severity]*regexp.Regexp{
		models.SeverityCritical: regexp.MustCompile(`(?i)\bcritical\b|严重`),
		models.SeverityHigh:     regexp.MustCompile(`(?i)\bhigh\b|高危`),
		models.SeverityMedium:   regexp.MustCompile(`(?i)\bmedium\b|\bmoderate\b|中危`),
		models.SeverityLow:      regexp.MustCompile(`(?i)\blow\b|低危`),
		models.SeverityInfo:     regexp.MustCompile(`(?i)\binfo(?:rmational)?\b|提示`),
	}
)

// jsonFinding is the shape of findings embedded as fenced JSON.
type jsonFinding struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Severity    string  `json:"severity"`
	Category    string  `json:"category"`
	Line        int     `json:"line"`
	Snippet     string  `json:"snippet"`
	CWE         string  `json:"cwe"`
	Confidence  float64 `json:"confidence"`
}

type jsonPayload struct {
	Findings []jsonFinding `json:"findings"`
}

// ParseResponse extracts findings from one raw LLM response for one file.
// Fenced JSON is tried first; free-text header and catalog scanning is the
// fallback. An unparseable non-empty response degrades to a single
// low-confidence entry preserving the raw text.
func ParseResponse(raw, filePath string) []models.Finding {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if findings := parseJSON(raw, filePath); findings != nil {
		return findings
	}
	if findings := parseText(raw, filePath); len(findings) > 0 {
		return findings
	}

	// No JSON and no recognized headers. An explicit all-clear is not a
	// parse failure.
	if looksClean(raw) {
		return nil
	}
	return []models.Finding{{
		ID:          models.FindingID("analysis failed", filePath, 0),
		Title:       "analysis failed",
		Description: raw,
		Severity:    models.SeverityInfo,
		Category:    models.CategoryOther,
		FilePath:    filePath,
		Confidence:  0.1,
		CreatedAt:   time.Now(),
	}}
}

func looksClean(raw string) bool {
	lower := strings.ToLower(raw)
	for _, marker := range []string{
		"no vulnerabilit", "no security issue", "no issues found",
		"未发现", "没有发现", "无安全问题",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// parseJSON returns nil when no fenced (or bare) JSON payload is present.
func parseJSON(raw, filePath string) []models.Finding {
	candidate := ""
	if m := fencedJSONRe.FindStringSubmatch(raw); m != nil {
		candidate = m[1]
	} else if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		candidate = raw
	}
	if candidate == "" {
		return nil
	}

	var payload jsonPayload
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
		var list []jsonFinding
		if err := json.Unmarshal([]byte(candidate), &list); err != nil {
			return nil
		}
		payload.Findings = list
	}

	findings := make([]models.Finding, 0, len(payload.Findings))
	for _, jf := range payload.Findings {
		if jf.Title == "" {
			continue
		}
		f := buildFinding(jf.Title, jf.Description, filePath, jf.Line, jf.Snippet, normalizeCWE(jf.CWE))
		if sev := parseSeverity(jf.Severity); sev != "" {
			f.Severity = sev
		}
		if cat := models.Category(jf.Category); cat != "" && knownCategory(cat) {
			f.Category = cat
		}
		if jf.Confidence > 0 && jf.Confidence <= 1 {
			f.Confidence = jf.Confidence
		}
		findings = append(findings, f)
	}
	// Valid JSON with zero findings means the model reported a clean file.
	return findings
}

// parseText scans free text for finding headers and catalog matches,
// splitting the response into per-finding blocks.
func parseText(raw, filePath string) []models.Finding {
	locs := headerRe.FindAllStringSubmatchIndex(raw, -1)
	if len(locs) == 0 {
		// Catalog fallback: a single block when a known type is named.
		for _, entry := range typeCatalog {
			if m := entry.pattern.FindString(raw); m != "" {
				return []models.Finding{buildFromBlock(m, raw, filePath)}
			}
		}
		return nil
	}

	findings := make([]models.Finding, 0, len(locs))
	for i, loc := range locs {
		title := strings.TrimSpace(raw[loc[2]:loc[3]])
		end := len(raw)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		block := raw[loc[0]:end]
		findings = append(findings, buildFromBlock(title, block, filePath))
	}
	return findings
}

func buildFromBlock(title, block, filePath string) models.Finding {
	line := 0
	if m := lineRefRe.FindStringSubmatch(block); m != nil {
		line, _ = strconv.Atoi(m[1])
	}
	snippet := ""
	if m := fencedCodeRe.FindStringSubmatch(block); m != nil {
		snippet = strings.TrimSpace(m[1])
	}
	cwe := ""
	if m := cweRe.FindStringSubmatch(block); m != nil {
		cwe = "CWE-" + m[1]
	}

	f := buildFinding(title, strings.TrimSpace(block), filePath, line, snippet, cwe)
	if sev := inferSeverity(block); sev != "" {
		f.Severity = sev
	}
	return f
}

// buildFinding assembles a finding with catalog-inferred category/severity
// and the additive confidence rule: base 0.5, +0.2 line, +0.2 snippet,
// +0.1 CWE, capped at 1.0.
func buildFinding(title, description, filePath string, line int, snippet, cwe string) models.Finding {
	category := models.CategoryOther
	severity := models.SeverityMedium
	probe := title + " " + description
	for _, entry := range typeCatalog {
		if entry.pattern.MatchString(probe) {
			category = entry.category
			severity = entry.severity
			break
		}
	}

	confidence := 0.5
	if line > 0 {
		confidence += 0.2
	}
	if snippet != "" {
		confidence += 0.2
	}
	if cwe != "" {
		confidence += 0.1
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	return models.Finding{
		ID:          models.FindingID(title, filePath, line),
		Title:       title,
		Description: description,
		Severity:    severity,
		Category:    category,
		FilePath:    filePath,
		Line:        line,
		Snippet:     snippet,
		CWE:         cwe,
		Confidence:  confidence,
		CreatedAt:   time.Now(),
	}
}

func inferSeverity(text string) models.Severity {
	for _, sev := range []models.Severity{
		models.SeverityCritical, models.SeverityHigh,
		models.SeverityMedium, models.SeverityLow, models.SeverityInfo,
	} {
		if severityRes[sev].MatchString(text) {
			return sev
		}
	}
	return ""
}

func parseSeverity(s string) models.Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "严重":
		return models.SeverityCritical
	case "high", "高", "高危":
		return models.SeverityHigh
	case "medium", "moderate", "中", "中危":
		return models.SeverityMedium
	case "low", "低", "低危":
		return models.SeverityLow
	case "info", "informational", "提示":
		return models.SeverityInfo
	}
	return ""
}

func normalizeCWE(s string) string {
	if s == "" {
		return ""
	}
	if m := cweRe.FindStringSubmatch(s); m != nil {
		return "CWE-" + m[1]
	}
	return ""
}

func knownCategory(c models.Category) bool {
	switch c {
	case models.CategoryInjection, models.CategoryAuth, models.CategorySensitiveData,
		models.CategoryCrypto, models.CategoryInputValidation, models.CategorySession,
		models.CategoryConfig, models.CategoryQuality, models.CategoryDependency,
		models.CategoryOther:
		return true
	}
	return false
}
