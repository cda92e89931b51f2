package aggregate

import (
	"sort"
	"strings"
	"sync"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/models"
)

// Duplicate titles must share at least this fraction of words.
const jaccardThreshold = 0.8

// Aggregator accumulates findings across tasks, deduplicating as they
// arrive. Findings are appended in completion order and re-sorted on read.
type Aggregator struct {
	mu       sync.Mutex
	findings []models.Finding
}

// New creates an empty aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// AddRaw parses one raw LLM response and merges its findings.
// It returns the findings that survived deduplication.
func (a *Aggregator) AddRaw(raw, filePath string) []models.Finding {
	return a.Add(ParseResponse(raw, filePath))
}

// Add merges pre-parsed findings, dropping duplicates of already-recorded
// ones. Two findings are duplicates when they share a file and either their
// title word sets have Jaccard similarity >= 0.8 or they have the same
// (category, line).
func (a *Aggregator) Add(findings []models.Finding) []models.Finding {
	a.mu.Lock()
	defer a.mu.Unlock()

	added := make([]models.Finding, 0, len(findings))
	for _, f := range findings {
		if a.isDuplicateLocked(&f) {
			continue
		}
		a.findings = append(a.findings, f)
		added = append(added, f)
	}
	return added
}

func (a *Aggregator) isDuplicateLocked(f *models.Finding) bool {
	words := titleWords(f.Title)
	for i := range a.findings {
		prev := &a.findings[i]
		if prev.FilePath != f.FilePath {
			continue
		}
		if prev.Category == f.Category && prev.Line == f.Line {
			return true
		}
		if jaccard(words, titleWords(prev.Title)) >= jaccardThreshold {
			return true
		}
	}
	return false
}

// Findings returns the deduplicated set sorted by (severity, -confidence,
// file path).
func (a *Aggregator) Findings() []models.Finding {
	a.mu.Lock()
	out := make([]models.Finding, len(a.findings))
	copy(out, a.findings)
	a.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := out[i].Severity.Rank(), out[j].Severity.Rank(); ri != rj {
			return ri < rj
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].FilePath < out[j].FilePath
	})
	return out
}

// Len returns the number of recorded findings.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.findings)
}

// FileCount is one entry of the top-file histogram.
type FileCount struct {
	FilePath string `json:"file_path"`
	Count    int    `json:"count"`
}

// Stats summarizes the aggregated findings.
type Stats struct {
	Total         int                     `json:"total"`
	BySeverity    map[models.Severity]int `json:"by_severity"`
	ByCategory    map[models.Category]int `json:"by_category"`
	TopFiles      []FileCount             `json:"top_files"`
	AvgConfidence float64                 `json:"avg_confidence"`
	RiskScore     float64                 `json:"risk_score"`
}

// Stats computes histograms, average confidence, and the risk score over
// the current finding set.
func (a *Aggregator) Stats() Stats {
	findings := a.Findings()

	s := Stats{
		Total:      len(findings),
		BySeverity: make(map[models.Severity]int),
		ByCategory: make(map[models.Category]int),
	}
	if len(findings) == 0 {
		return s
	}

	fileCounts := make(map[string]int)
	confSum := 0.0
	for _, f := range findings {
		s.BySeverity[f.Severity]++
		s.ByCategory[f.Category]++
		fileCounts[f.FilePath]++
		confSum += f.Confidence
	}
	s.AvgConfidence = confSum / float64(len(findings))
	s.RiskScore = RiskScore(findings)

	for path, n := range fileCounts {
		s.TopFiles = append(s.TopFiles, FileCount{FilePath: path, Count: n})
	}
	sort.Slice(s.TopFiles, func(i, j int) bool {
		if s.TopFiles[i].Count != s.TopFiles[j].Count {
			return s.TopFiles[i].Count > s.TopFiles[j].Count
		}
		return s.TopFiles[i].FilePath < s.TopFiles[j].FilePath
	})
	if len(s.TopFiles) > 10 {
		s.TopFiles = s.TopFiles[:10]
	}
	return s
}

// RiskScore maps a finding set to [0, 10]:
// clamp(sum(weight(severity)*confidence) / (10*n) * 10, 0, 10).
func RiskScore(findings []models.Finding) float64 {
	if len(findings) == 0 {
		return 0
	}
	sum := 0.0
	for _, f := range findings {
		sum += f.Severity.Weight() * f.Confidence
	}
	score := sum / (10 * float64(len(findings))) * 10
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

// titleWords tokenizes a title, dropping connective words so "in" vs
// "at" phrasing differences do not defeat deduplication.
func titleWords(title string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(title)) {
		w = strings.Trim(w, ".,;:!?()[]{}\"'")
		if len(w) > 2 {
			words[w] = struct{}{}
		}
	}
	return words
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
