// Package planner turns a discovered attack surface into an attack plan:
// which tester categories to run, against what, and why. Planning prefers
// the LLM when one is configured and always keeps the rule-based policy
// as a deterministic fallback.
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/strixsec/strix/internal/ai"
	"github.com/strixsec/strix/internal/config"
	"github.com/strixsec/strix/internal/events"
	"github.com/strixsec/strix/internal/logger"
	"github.com/strixsec/strix/pkg/types"
)

type Planner struct {
	rules   []Rule
	ai      *ai.Client
	logger  *logger.Logger
	emitter events.Emitter
}

// New builds a planner from configuration. A rules file, when set,
// replaces the built-in policy; the AI client may be nil or disabled.
func New(cfg config.PlannerConfig, aiClient *ai.Client, log *logger.Logger, emitter events.Emitter) (*Planner, error) {
	rules := DefaultRules()
	if cfg.RulesFile != "" {
		loaded, err := LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}

	if log == nil {
		log = logger.NewNop()
	}
	if emitter == nil {
		emitter = events.EmitterFunc(nil)
	}

	return &Planner{
		rules:   rules,
		ai:      aiClient,
		logger:  log.WithComponent("planner"),
		emitter: emitter,
	}, nil
}

// Plan produces the attack plan for a surface. When the LLM path fails
// or returns an unusable plan, Plan falls back to the rule policy and
// returns the fallback plan alongside the LLM error, so the caller can
// record the phase as degraded while the scan continues.
func (p *Planner) Plan(ctx context.Context, target string, surface *types.AttackSurface) (*types.AttackPlan, error) {
	if p.ai.IsEnabled() {
		plan, err := p.planWithLLM(ctx, target, surface)
		if err == nil {
			p.emitter.Emit(fmt.Sprintf("Attack plan ready: %d attacks selected", len(plan.Attacks)), events.LevelSuccess)
			return plan, nil
		}
		p.logger.Warnw("LLM planning failed, using rule-based fallback",
			"target", target,
			"error", err,
		)
		p.emitter.Emit("AI planner unavailable - using rule-based plan", events.LevelWarning)
		return p.planWithRules(surface), err
	}

	plan := p.planWithRules(surface)
	p.emitter.Emit(fmt.Sprintf("Attack plan ready: %d attacks selected", len(plan.Attacks)), events.LevelSuccess)
	return plan, nil
}

// planWithRules evaluates the rule policy against the surface. Every
// rule contributes a reasoning line, matched or not, so the report shows
// why categories were skipped.
func (p *Planner) planWithRules(surface *types.AttackSurface) *types.AttackPlan {
	facts := examineSurface(surface)

	plan := &types.AttackPlan{}
	var reasoning []string
	for _, rule := range p.rules {
		matched := facts.satisfies(rule.When)
		reasoning = append(reasoning, facts.explain(rule, matched))
		if !matched {
			continue
		}
		plan.Attacks = append(plan.Attacks, types.PlannedAttack{
			Type:       types.AttackType(rule.Attack),
			TargetHint: rule.Hint,
		})
	}
	plan.Reasoning = reasoning

	p.logger.Infow("Rule-based plan built",
		"attacks", len(plan.Attacks),
		"endpoints", facts.total,
	)
	return plan
}

const llmSystemPrompt = `You are a web application penetration tester planning an assessment.
Given an attack surface, select which attack categories to run from this exact set:
IDOR, AUTH, XSS, DOM-XSS.
Respond with JSON only, in the form:
{"attacks":[{"type":"XSS","target_hint":"why and where"}],"reasoning":"overall rationale"}`

func (p *Planner) planWithLLM(ctx context.Context, target string, surface *types.AttackSurface) (*types.AttackPlan, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Target: %s\n\nDiscovered endpoints:\n", target)
	for _, ep := range surface.Endpoints() {
		fmt.Fprintf(&sb, "- %s %s", ep.Method, ep.URL)
		if len(ep.Parameters) > 0 {
			fmt.Fprintf(&sb, " (parameters: %s)", strings.Join(ep.Parameters, ", "))
		}
		sb.WriteString("\n")
	}

	var resp struct {
		Attacks []struct {
			Type       string `json:"type"`
			TargetHint string `json:"target_hint"`
		} `json:"attacks"`
		Reasoning string `json:"reasoning"`
	}
	if err := p.ai.GenerateStructuredCompletion(ctx, llmSystemPrompt, sb.String(), &resp); err != nil {
		return nil, err
	}

	plan := &types.AttackPlan{}
	if reasoning := strings.TrimSpace(resp.Reasoning); reasoning != "" {
		plan.Reasoning = strings.Split(reasoning, "\n")
	}
	for _, attack := range resp.Attacks {
		attackType := types.AttackType(strings.ToUpper(strings.TrimSpace(attack.Type)))
		if !attackType.Valid() {
			p.logger.Warnw("Dropping unknown attack type from LLM plan", "type", attack.Type)
			continue
		}
		plan.Attacks = append(plan.Attacks, types.PlannedAttack{
			Type:       attackType,
			TargetHint: attack.TargetHint,
		})
	}

	if len(plan.Attacks) == 0 {
		return nil, fmt.Errorf("LLM plan contained no usable attacks")
	}
	return plan, nil
}
