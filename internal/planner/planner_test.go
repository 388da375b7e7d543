package planner

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/strixsec/strix/internal/config"
	"github.com/strixsec/strix/internal/logger"
	"github.com/strixsec/strix/pkg/types"
)

func newTestPlanner(t *testing.T, cfg config.PlannerConfig) *Planner {
	t.Helper()
	p, err := New(cfg, nil, logger.NewNop(), nil)
	require.NoError(t, err)
	return p
}

func surfaceOf(endpoints ...types.Endpoint) *types.AttackSurface {
	s := types.NewAttackSurface()
	for _, ep := range endpoints {
		s.Add(ep)
	}
	return s
}

func TestPlanIncludesAllCategoriesForRichSurface(t *testing.T) {
	p := newTestPlanner(t, config.PlannerConfig{})
	surface := surfaceOf(
		types.Endpoint{Method: http.MethodGet, Path: "/items", URL: "http://example.test/items?id=3", Parameters: []string{"id"}},
		types.Endpoint{Method: http.MethodPost, Path: "/login", URL: "http://example.test/login", Parameters: []string{"user", "pass"}},
	)

	plan, err := p.Plan(context.Background(), "http://example.test", surface)
	require.NoError(t, err)

	assert.Equal(t, []types.AttackType{
		types.AttackIDOR,
		types.AttackAuth,
		types.AttackXSS,
		types.AttackDOMXSS,
	}, plan.Categories())
	assert.NotEmpty(t, plan.Reasoning)
}

func TestPlanSkipsIDORWithoutIdentifierSignals(t *testing.T) {
	p := newTestPlanner(t, config.PlannerConfig{})
	surface := surfaceOf(
		types.Endpoint{Method: http.MethodGet, Path: "/about", URL: "http://example.test/about"},
	)

	plan, err := p.Plan(context.Background(), "http://example.test", surface)
	require.NoError(t, err)

	assert.False(t, plan.Contains(types.AttackIDOR))
	assert.False(t, plan.Contains(types.AttackXSS), "no parameterized endpoints to reflect input")
	assert.True(t, plan.Contains(types.AttackAuth))
	assert.True(t, plan.Contains(types.AttackDOMXSS))
	assert.Contains(t, strings.Join(plan.Reasoning, "\n"), "IDOR: skipped")
}

func TestPlanDetectsNumericPathSegments(t *testing.T) {
	p := newTestPlanner(t, config.PlannerConfig{})
	surface := surfaceOf(
		types.Endpoint{Method: http.MethodGet, Path: "/users/42/profile", URL: "http://example.test/users/42/profile"},
	)

	plan, err := p.Plan(context.Background(), "http://example.test", surface)
	require.NoError(t, err)
	assert.True(t, plan.Contains(types.AttackIDOR))
}

func TestPlanReasoningExplainsEachRule(t *testing.T) {
	p := newTestPlanner(t, config.PlannerConfig{})
	surface := surfaceOf(
		types.Endpoint{Method: http.MethodGet, Path: "/search", URL: "http://example.test/search?q=x", Parameters: []string{"q"}},
	)

	plan, err := p.Plan(context.Background(), "http://example.test", surface)
	require.NoError(t, err)

	joined := strings.Join(plan.Reasoning, "\n")
	for _, attackType := range []string{"IDOR", "AUTH", "XSS", "DOM-XSS"} {
		assert.Contains(t, joined, attackType)
	}
}

func TestLoadRulesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - attack: XSS
    when: has-parameters
    hint: reflected input
  - attack: AUTH
    when: always
    hint: unauthenticated access
`), 0o644))

	p := newTestPlanner(t, config.PlannerConfig{RulesFile: path})
	surface := surfaceOf(
		types.Endpoint{Method: http.MethodGet, Path: "/search", URL: "http://example.test/search?q=x", Parameters: []string{"q"}},
	)

	plan, err := p.Plan(context.Background(), "http://example.test", surface)
	require.NoError(t, err)
	assert.Equal(t, []types.AttackType{types.AttackXSS, types.AttackAuth}, plan.Categories())
}

func TestLoadRulesRejectsUnknownAttack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - attack: SQLI
    when: always
`), 0o644))

	_, err := LoadRules(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown attack type")
}

func TestLoadRulesRejectsUnknownCondition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - attack: XSS
    when: sometimes
`), 0o644))

	_, err := LoadRules(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown condition")
}

func TestPlannerRejectsMissingRulesFile(t *testing.T) {
	_, err := New(config.PlannerConfig{RulesFile: "/nonexistent/rules.yaml"}, nil, logger.NewNop(), nil)
	require.Error(t, err)
}

func TestExamineSurfaceCountsSignals(t *testing.T) {
	surface := surfaceOf(
		types.Endpoint{Method: http.MethodGet, Path: "/items", URL: "http://example.test/items?item=1", Parameters: []string{"item"}},
		types.Endpoint{Method: http.MethodPost, Path: "/login", URL: "http://example.test/login", Parameters: []string{"user", "pass"}},
		types.Endpoint{Method: http.MethodGet, Path: "/about", URL: "http://example.test/about"},
	)

	facts := examineSurface(surface)
	assert.Equal(t, 3, facts.total)
	assert.Equal(t, 2, facts.parameterized)
	assert.Equal(t, 1, facts.forms)
	assert.Equal(t, 2, facts.idParams, "item and user both look like object identifiers")
}
