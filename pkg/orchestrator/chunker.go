package orchestrator

import (
	"regexp"
	"strings"
)

// Analysis content is bounded to this many bytes per request; oversized
// files are split by chunk.
const maxContentBytes = 50 * 1024

// Total per-file analysis ceiling. Files beyond it are truncated before
// chunking so one pathological file cannot monopolize the LLM budget.
const maxAnalyzedBytes = 10 * maxContentBytes

// Boundary markers a chunk split prefers to cut at.
var boundaryRe = regexp.MustCompile(`(?m)^(?:\s*(?:def|class|function|func|public|private|protected)\b|\})`)

// loadBounded truncates content to the per-file ceiling, annotating the
// cut. Content within the ceiling passes through for chunking.
func loadBounded(content string) string {
	if len(content) <= maxAnalyzedBytes {
		return content
	}
	cut := content[:maxAnalyzedBytes]
	if idx := strings.LastIndexByte(cut, '\n'); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "\n\n/* truncated: file exceeds analysis size bound */\n"
}

// chunk splits oversized content on function/class boundaries, falling
// back to fixed-size splits when no boundary lands inside a window.
func chunk(content string) []string {
	if len(content) <= maxContentBytes {
		return []string{content}
	}

	var chunks []string
	rest := content
	for len(rest) > maxContentBytes {
		window := rest[:maxContentBytes]

		// Prefer the last definition boundary inside the window.
		cut := -1
		for _, loc := range boundaryRe.FindAllStringIndex(window, -1) {
			if loc[0] > 0 {
				cut = loc[0]
			}
		}
		if cut <= 0 {
			if idx := strings.LastIndexByte(window, '\n'); idx > 0 {
				cut = idx + 1
			} else {
				cut = maxContentBytes
			}
		}
		chunks = append(chunks, rest[:cut])
		rest = rest[cut:]
	}
	if len(rest) > 0 {
		chunks = append(chunks, rest)
	}
	return chunks
}
