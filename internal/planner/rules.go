package planner

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/strixsec/strix/pkg/types"
	"gopkg.in/yaml.v3"
)

// Rule decides whether one attack category belongs in the plan. The
// condition names a built-in predicate over the attack surface so rule
// files stay declarative.
type Rule struct {
	Attack string `yaml:"attack"`
	When   string `yaml:"when"`
	Hint   string `yaml:"hint"`
}

const (
	condAlways          = "always"
	condHasParameters   = "has-parameters"
	condHasIDParameters = "has-id-parameters"
	condHasForms        = "has-forms"
)

// DefaultRules is the built-in planning policy. Order matters: the plan
// lists categories in rule order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Attack: string(types.AttackIDOR),
			When:   condHasIDParameters,
			Hint:   "endpoints carrying object-identifier parameters",
		},
		{
			Attack: string(types.AttackAuth),
			When:   condAlways,
			Hint:   "every discovered endpoint, compared with and without credentials",
		},
		{
			Attack: string(types.AttackXSS),
			When:   condHasParameters,
			Hint:   "parameterized endpoints that may reflect input",
		},
		{
			Attack: string(types.AttackDOMXSS),
			When:   condAlways,
			Hint:   "pages whose scripts route attacker-controlled sources into sinks",
		},
	}
}

// LoadRules reads a planning policy from a YAML file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s defines no rules", path)
	}

	for i, rule := range doc.Rules {
		if !types.AttackType(rule.Attack).Valid() {
			return nil, fmt.Errorf("rule %d: unknown attack type %q", i, rule.Attack)
		}
		switch rule.When {
		case condAlways, condHasParameters, condHasIDParameters, condHasForms:
		default:
			return nil, fmt.Errorf("rule %d: unknown condition %q", i, rule.When)
		}
	}
	return doc.Rules, nil
}

var idParamPattern = regexp.MustCompile(`(?i)^(id|.*_id|uid|uuid|user|account|order|item|doc|ref|num|number|key)$`)

var numericSegmentPattern = regexp.MustCompile(`/\d+(/|$)`)

// surfaceFacts summarizes the attack surface into the signals rule
// conditions look at.
type surfaceFacts struct {
	parameterized int
	idParams      int
	forms         int
	total         int
}

func examineSurface(surface *types.AttackSurface) surfaceFacts {
	var facts surfaceFacts
	for _, ep := range surface.Endpoints() {
		facts.total++
		if len(ep.Parameters) > 0 {
			facts.parameterized++
		}
		if ep.Method == "POST" {
			facts.forms++
		}
		if numericSegmentPattern.MatchString(ep.Path) {
			facts.idParams++
			continue
		}
		for _, param := range ep.Parameters {
			if idParamPattern.MatchString(param) {
				facts.idParams++
				break
			}
		}
	}
	return facts
}

func (f surfaceFacts) satisfies(condition string) bool {
	switch condition {
	case condAlways:
		return true
	case condHasParameters:
		return f.parameterized > 0
	case condHasIDParameters:
		return f.idParams > 0
	case condHasForms:
		return f.forms > 0
	default:
		return false
	}
}

func (f surfaceFacts) explain(rule Rule, matched bool) string {
	if matched {
		switch rule.When {
		case condAlways:
			return fmt.Sprintf("- %s: applies to all %d discovered endpoints", rule.Attack, f.total)
		case condHasParameters:
			return fmt.Sprintf("- %s: %d endpoints accept parameters", rule.Attack, f.parameterized)
		case condHasIDParameters:
			return fmt.Sprintf("- %s: %d endpoints reference object identifiers", rule.Attack, f.idParams)
		case condHasForms:
			return fmt.Sprintf("- %s: %d form submission endpoints found", rule.Attack, f.forms)
		}
	}
	return fmt.Sprintf("- %s: skipped, no matching endpoints (%s)", rule.Attack, strings.ReplaceAll(rule.When, "-", " "))
}
