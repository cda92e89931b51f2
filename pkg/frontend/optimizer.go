// Package frontend classifies HTML/JS-heavy files before dispatch so
// static content is skipped and risky content gets a focused prompt.
package frontend

import (
	"fmt"
	"regexp"
	"strings"
)

// Strategy is the dispatch plan for one frontend file.
type Strategy string

// Strategies.
const (
	StrategySkip            Strategy = "skip"
	StrategyHotspot         Strategy = "hotspot"
	StrategyInputExtraction Strategy = "input_extraction"
	StrategyLight           Strategy = "light"
)

// Classification thresholds.
const (
	staticDominanceRatio = 0.8
	fewDynamicMarkers    = 3
	largeFileBytes       = 5000
	largeFileDynamicMax  = 5

	// Context lines carried around each hotspot match.
	hotspotContext = 2
)

var dynamicMarkers = []string{
	"<script", "<form", "onclick", "onload", "onsubmit", "onchange",
	"fetch(", "xmlhttprequest", "$.ajax", "axios.", "addeventlistener",
	"document.write", "innerhtml", "eval(", "settimeout", "websocket",
}

var staticMarkers = []string{
	"<div", "<span", "<p>", "<p ", "<h1", "<h2", "<h3", "<img", "<a ",
	"<ul", "<li", "<table", "<tr", "<td", "<br", "<hr", "<style",
	"<link", "<meta",
}

// hotspotPatterns flag lines worth a focused security prompt.
var hotspotPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\beval\s*\(`),
	regexp.MustCompile(`(?i)\.innerHTML\s*=`),
	regexp.MustCompile(`(?i)document\.write\s*\(`),
	regexp.MustCompile(`(?i)location\.(?:href|hash|search)`),
	regexp.MustCompile(`(?i)window\.name\b`),
	regexp.MustCompile(`(?i)document\.cookie`),
	regexp.MustCompile(`(?i)(?:api[_-]?key|secret|password|token)\s*[:=]\s*['"][^'"]{8,}['"]`),
	regexp.MustCompile(`(?i)dangerouslySetInnerHTML`),
	regexp.MustCompile(`(?i)new\s+Function\s*\(`),
	regexp.MustCompile(`(?i)setTimeout\s*\(\s*['"]`),
}

var inputPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<form\b`),
	regexp.MustCompile(`(?i)<input\b`),
	regexp.MustCompile(`(?i)<textarea\b`),
	regexp.MustCompile(`(?i)fetch\s*\(|\$\.ajax|axios\.|XMLHttpRequest`),
	regexp.MustCompile(`(?i)URLSearchParams|location\.search|request\.(?:GET|POST|args|form)`),
}

// Plan is the optimizer's decision for one file.
type Plan struct {
	Strategy Strategy
	// Hotspots holds matched lines with surrounding context, newline
	// joined, for hotspot prompts.
	Hotspots string
	// InputPoints lists detected input surfaces for input-extraction
	// prompts.
	InputPoints []string
	// EstimatedSavedSeconds is the time the plan avoids spending relative
	// to a full analysis.
	EstimatedSavedSeconds float64
}

// Frontend file extensions the optimizer applies to.
var frontendExts = map[string]struct{}{
	".html": {}, ".htm": {}, ".js": {}, ".jsx": {}, ".ts": {}, ".tsx": {},
	".vue": {}, ".css": {},
}

// Applies reports whether the optimizer handles files with this extension.
func Applies(ext string) bool {
	_, ok := frontendExts[strings.ToLower(ext)]
	return ok
}

// Classify picks the dispatch strategy for one frontend file.
func Classify(content string) Plan {
	lower := strings.ToLower(content)

	dynamic := 0
	for _, m := range dynamicMarkers {
		dynamic += strings.Count(lower, m)
	}
	static := 0
	for _, m := range staticMarkers {
		static += strings.Count(lower, m)
	}

	if isPureStatic(len(content), dynamic, static) {
		return Plan{
			Strategy:              StrategySkip,
			EstimatedSavedSeconds: float64(len(content)) / 1000,
		}
	}

	if hotspots := extractHotspots(content); hotspots != "" {
		return Plan{
			Strategy: StrategyHotspot,
			Hotspots: hotspots,
			// A hotspot prompt carries only matched lines; most of the
			// file is never sent.
			EstimatedSavedSeconds: float64(len(content)-len(hotspots)) / 1000 * 0.7,
		}
	}

	if points := extractInputPoints(content); len(points) > 0 {
		return Plan{
			Strategy:              StrategyInputExtraction,
			InputPoints:           points,
			EstimatedSavedSeconds: float64(len(content)) / 1000 * 0.5,
		}
	}

	return Plan{
		Strategy:              StrategyLight,
		EstimatedSavedSeconds: float64(len(content)) / 1000 * 0.5,
	}
}

// isPureStatic applies the skip heuristic: no dynamic markers, or static
// markers dominating with few dynamic ones, or a large file with almost
// none.
func isPureStatic(size, dynamic, static int) bool {
	if dynamic == 0 {
		return true
	}
	total := dynamic + static
	if total > 0 && float64(static)/float64(total) >= staticDominanceRatio && dynamic < fewDynamicMarkers {
		return true
	}
	if size > largeFileBytes && dynamic < largeFileDynamicMax {
		return true
	}
	return false
}

// extractHotspots returns matched lines with context, or "" when no
// security pattern matches.
func extractHotspots(content string) string {
	lines := strings.Split(content, "\n")
	keep := make(map[int]struct{})
	matched := false

	for i, line := range lines {
		for _, re := range hotspotPatterns {
			if re.MatchString(line) {
				matched = true
				for j := i - hotspotContext; j <= i+hotspotContext; j++ {
					if j >= 0 && j < len(lines) {
						keep[j] = struct{}{}
					}
				}
				break
			}
		}
	}
	if !matched {
		return ""
	}

	var b strings.Builder
	prev := -2
	for i := range lines {
		if _, ok := keep[i]; !ok {
			continue
		}
		if i != prev+1 && prev >= 0 {
			b.WriteString("...\n")
		}
		fmt.Fprintf(&b, "%d: %s\n", i+1, lines[i])
		prev = i
	}
	return b.String()
}

func extractInputPoints(content string) []string {
	var points []string
	seen := make(map[string]struct{})
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		for _, re := range inputPatterns {
			if re.MatchString(trimmed) {
				if _, dup := seen[trimmed]; !dup {
					seen[trimmed] = struct{}{}
					points = append(points, trimmed)
				}
				break
			}
		}
	}
	return points
}
