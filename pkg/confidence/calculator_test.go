package confidence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/models"
)

func injectionFinding() *models.Finding {
	return &models.Finding{
		Title:    "SQL injection in search",
		Category: models.CategoryInjection,
		Snippet:  "cursor.execute(q)",
	}
}

func fullContext() *Context {
	return &Context{
		FilePath:          "app/dao/search.py",
		Frameworks:        []string{"flask"},
		ArchitectureLayer: "dao",
		TechStack:         []string{"python", "postgres"},
		SecurityConfig:    map[string]bool{"csrf": true},
		CallChain:         []string{"search_view", "search_dao"},
	}
}

func TestCalculateWeightedSum(t *testing.T) {
	c := New()
	r := c.Calculate(injectionFinding(), fullContext())

	// Recompute from the reported factor breakdown
	want := 0.0
	weights := map[string]float64{
		FactorFrameworkProtection:     0.25,
		FactorArchitectureAppropriate: 0.15,
		FactorCodeComplexity:          0.10,
		FactorPatternReliability:      0.15,
		FactorContextCompleteness:     0.10,
		FactorHistoricalAccuracy:      0.25,
	}
	require.Len(t, r.Factors, len(weights))
	for name, w := range weights {
		want += w * r.Factors[name]
	}
	assert.InDelta(t, want, r.Score, 1e-9)
	assert.GreaterOrEqual(t, r.Score, 0.0)
	assert.LessOrEqual(t, r.Score, 1.0)
}

func TestCalculateFactorValues(t *testing.T) {
	c := New()
	r := c.Calculate(injectionFinding(), fullContext())

	// No framework in the context mitigates injection
	assert.InDelta(t, 0.8, r.Factors[FactorFrameworkProtection], 1e-9)
	// Injection in a DAO layer is architecturally plausible
	assert.InDelta(t, 0.9, r.Factors[FactorArchitectureAppropriate], 1e-9)
	// One-line snippet
	assert.InDelta(t, 0.9, r.Factors[FactorCodeComplexity], 1e-9)
	assert.InDelta(t, 0.90, r.Factors[FactorPatternReliability], 1e-9)
	// Every context field populated
	assert.InDelta(t, 1.0, r.Factors[FactorContextCompleteness], 1e-9)
	assert.InDelta(t, 0.85, r.Factors[FactorHistoricalAccuracy], 1e-9)
}

func TestFrameworkMitigationLowersScore(t *testing.T) {
	c := New()

	plain := c.Calculate(injectionFinding(), &Context{Frameworks: []string{"flask"}})
	mitigated := c.Calculate(injectionFinding(), &Context{Frameworks: []string{"Django"}})

	assert.Less(t, mitigated.Score, plain.Score)
	assert.InDelta(t, 0.4, mitigated.Factors[FactorFrameworkProtection], 1e-9)
}

func TestAuthFindingInDataLayerDowngraded(t *testing.T) {
	c := New()
	f := &models.Finding{Title: "Missing permission check", Category: models.CategoryAuth}

	dao := c.Calculate(f, &Context{ArchitectureLayer: "dao"})
	controller := c.Calculate(f, &Context{ArchitectureLayer: "controller"})

	assert.InDelta(t, 0.3, dao.Factors[FactorArchitectureAppropriate], 1e-9)
	assert.InDelta(t, 0.9, controller.Factors[FactorArchitectureAppropriate], 1e-9)
	assert.Less(t, dao.Score, controller.Score)
}

func TestCodeComplexityBuckets(t *testing.T) {
	c := New()
	tests := []struct {
		lines int
		want  float64
	}{
		{1, 0.9},
		{5, 0.9},
		{6, 0.7},
		{15, 0.7},
		{16, 0.5},
		{40, 0.5},
		{41, 0.3},
	}
	for _, tc := range tests {
		f := injectionFinding()
		f.Snippet = strings.TrimSuffix(strings.Repeat("line\n", tc.lines), "\n")
		r := c.Calculate(f, nil)
		assert.InDelta(t, tc.want, r.Factors[FactorCodeComplexity], 1e-9, "%d lines", tc.lines)
	}

	f := injectionFinding()
	f.Snippet = ""
	r := c.Calculate(f, nil)
	assert.InDelta(t, 0.6, r.Factors[FactorCodeComplexity], 1e-9)
}

func TestNilContextNeutralDefaults(t *testing.T) {
	c := New()
	r := c.Calculate(injectionFinding(), nil)

	assert.InDelta(t, 0.7, r.Factors[FactorFrameworkProtection], 1e-9)
	assert.InDelta(t, 0.7, r.Factors[FactorArchitectureAppropriate], 1e-9)
	assert.InDelta(t, 0.2, r.Factors[FactorContextCompleteness], 1e-9)
}

func TestRiskLevels(t *testing.T) {
	tests := []struct {
		score float64
		want  RiskLevel
	}{
		{0.95, RiskCritical},
		{0.85, RiskCritical},
		{0.84, RiskHigh},
		{0.65, RiskHigh},
		{0.64, RiskMedium},
		{0.4, RiskMedium},
		{0.39, RiskLow},
		{0.0, RiskLow},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, levelOf(tc.score), "%v", tc.score)
	}
}

func TestUnknownCategoryFallsBack(t *testing.T) {
	c := New()
	f := &models.Finding{Title: "odd", Category: models.Category("nonexistent")}
	r := c.Calculate(f, nil)

	assert.InDelta(t, 0.5, r.Factors[FactorPatternReliability], 1e-9)
	assert.InDelta(t, 0.5, r.Factors[FactorHistoricalAccuracy], 1e-9)
}

func TestOptions(t *testing.T) {
	c := New(
		WithWeights(map[string]float64{FactorHistoricalAccuracy: 0.5}),
		WithHistoricalAccuracy(map[models.Category]float64{models.CategoryInjection: 1.0}),
	)
	r := c.Calculate(injectionFinding(), nil)
	assert.InDelta(t, 1.0, r.Factors[FactorHistoricalAccuracy], 1e-9)

	base := New().Calculate(injectionFinding(), nil)
	assert.Greater(t, r.Score, base.Score)
}
