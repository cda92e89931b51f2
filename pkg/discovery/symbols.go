package discovery

import (
	"regexp"
	"strings"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/models"
)

// Symbol is one extracted function or class definition.
type Symbol struct {
	Name      string
	Type      models.UnitType
	StartLine int
	EndLine   int
}

type symbolPattern struct {
	re   *regexp.Regexp
	typ  models.UnitType
	name int // submatch index of the symbol name
}

// Definition patterns per language. Line-anchored; extraction is
// heuristic, not a parser.
var symbolPatterns = map[string][]symbolPattern{
	"python": {
		{regexp.MustCompile(`^\s*def\s+([A-Za-z_]\w*)\s*\(`), models.UnitTypeFunction, 1},
		{regexp.MustCompile(`^\s*class\s+([A-Za-z_]\w*)\s*[(:]`), models.UnitTypeClass, 1},
	},
	"javascript": {
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][\w$]*)\s*\(`), models.UnitTypeFunction, 1},
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s*)?(?:function|\()`), models.UnitTypeFunction, 1},
		{regexp.MustCompile(`^\s*(?:export\s+)?class\s+([A-Za-z_$][\w$]*)`), models.UnitTypeClass, 1},
	},
	"typescript": {
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][\w$]*)\s*[(<]`), models.UnitTypeFunction, 1},
		{regexp.MustCompile(`^\s*(?:export\s+)?class\s+([A-Za-z_$][\w$]*)`), models.UnitTypeClass, 1},
	},
	"java": {
		{regexp.MustCompile(`^\s*(?:public|private|protected)?\s*(?:static\s+)?(?:final\s+)?(?:[\w<>\[\],.\s]+)\s+(\w+)\s*\([^;]*\)\s*(?:throws\s+[\w,\s]+)?\s*\{`), models.UnitTypeFunction, 1},
		{regexp.MustCompile(`^\s*(?:public|private|protected)?\s*(?:abstract\s+|final\s+)?(?:class|interface|enum)\s+(\w+)`), models.UnitTypeClass, 1},
	},
	"go": {
		{regexp.MustCompile(`^func\s+(?:\([^)]+\)\s+)?([A-Za-z_]\w*)\s*\(`), models.UnitTypeFunction, 1},
		{regexp.MustCompile(`^type\s+([A-Za-z_]\w*)\s+struct\b`), models.UnitTypeClass, 1},
	},
	"php": {
		{regexp.MustCompile(`(?i)^\s*(?:public|private|protected)?\s*(?:static\s+)?function\s+&?(\w+)\s*\(`), models.UnitTypeFunction, 1},
		{regexp.MustCompile(`(?i)^\s*(?:abstract\s+|final\s+)?class\s+(\w+)`), models.UnitTypeClass, 1},
	},
	"ruby": {
		{regexp.MustCompile(`^\s*def\s+([A-Za-z_]\w*[?!=]?)`), models.UnitTypeFunction, 1},
		{regexp.MustCompile(`^\s*class\s+([A-Z]\w*)`), models.UnitTypeClass, 1},
	},
}

// extractSymbols finds function and class definitions in source content.
// End lines are estimated from the start of the next same-or-outer
// definition.
func extractSymbols(content, lang string) []Symbol {
	patterns, ok := symbolPatterns[strings.ToLower(lang)]
	if !ok {
		return nil
	}

	lines := strings.Split(content, "\n")
	var symbols []Symbol
	for i, line := range lines {
		for _, p := range patterns {
			m := p.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			symbols = append(symbols, Symbol{
				Name:      m[p.name],
				Type:      p.typ,
				StartLine: i + 1,
				EndLine:   len(lines),
			})
			break
		}
	}

	// Close each symbol at the line before the next definition.
	for i := 0; i+1 < len(symbols); i++ {
		if symbols[i+1].StartLine > symbols[i].StartLine {
			symbols[i].EndLine = symbols[i+1].StartLine - 1
		}
	}
	return symbols
}
