// Package scorer assigns severities and numeric scores to findings after
// all testers have run. Scoring never fails a scan: when the LLM path is
// unavailable the class-based table applies, and unknown classes get a
// conservative default.
package scorer

import (
	"context"
	"fmt"
	"strings"

	"github.com/strixsec/strix/internal/ai"
	"github.com/strixsec/strix/internal/events"
	"github.com/strixsec/strix/internal/logger"
	"github.com/strixsec/strix/pkg/types"
)

// classScore is the deterministic rating for one vulnerability class.
type classScore struct {
	severity types.Severity
	score    float64
}

// Scores run 0 through 9, in line with common qualitative CVSS banding.
var classTable = map[string]classScore{
	"insecure direct object reference": {types.SeverityHigh, 7.5},
	"missing authentication":           {types.SeverityCritical, 9.0},
	"broken access control":            {types.SeverityHigh, 8.0},
	"cross-site scripting (reflected)": {types.SeverityMedium, 6.0},
	"dom-based cross-site scripting":   {types.SeverityMedium, 5.5},
}

var defaultScore = classScore{types.SeverityMedium, 5.0}

type Scorer struct {
	ai      *ai.Client
	logger  *logger.Logger
	emitter events.Emitter
}

func New(aiClient *ai.Client, log *logger.Logger, emitter events.Emitter) *Scorer {
	if log == nil {
		log = logger.NewNop()
	}
	if emitter == nil {
		emitter = events.EmitterFunc(nil)
	}
	return &Scorer{
		ai:      aiClient,
		logger:  log.WithComponent("scorer"),
		emitter: emitter,
	}
}

// Score returns a scored copy of the findings. The input slice is never
// mutated. A non-nil error means the LLM path degraded; the returned
// findings are still fully scored by the fallback table.
func (s *Scorer) Score(ctx context.Context, findings []types.Finding) ([]types.Finding, error) {
	if len(findings) == 0 {
		return nil, nil
	}

	s.emitter.Emit(fmt.Sprintf("Scoring %d findings...", len(findings)), events.LevelStep)

	if s.ai.IsEnabled() {
		scored, err := s.scoreWithLLM(ctx, findings)
		if err == nil {
			return scored, nil
		}
		s.logger.Warnw("LLM scoring failed, using class-based fallback", "error", err)
		s.emitter.Emit("AI scorer unavailable - using class-based severity", events.LevelWarning)
		return s.scoreWithTable(findings), err
	}

	return s.scoreWithTable(findings), nil
}

func (s *Scorer) scoreWithTable(findings []types.Finding) []types.Finding {
	scored := make([]types.Finding, len(findings))
	for i, finding := range findings {
		rating := lookupClass(finding.Vulnerability)
		finding.Severity = rating.severity
		score := rating.score
		finding.SeverityScore = &score
		scored[i] = finding
	}
	return scored
}

func lookupClass(vulnerability string) classScore {
	key := strings.ToLower(strings.TrimSpace(vulnerability))
	if rating, ok := classTable[key]; ok {
		return rating
	}
	for class, rating := range classTable {
		if strings.Contains(key, class) {
			return rating
		}
	}
	return defaultScore
}

const llmSystemPrompt = `You are a security analyst triaging web vulnerability findings.
For each finding, assign a severity from CRITICAL, HIGH, MEDIUM, LOW and a
numeric score between 0 and 9. Respond with JSON only:
{"scores":[{"id":"<finding id>","severity":"HIGH","score":7.5}]}`

func (s *Scorer) scoreWithLLM(ctx context.Context, findings []types.Finding) ([]types.Finding, error) {
	var sb strings.Builder
	sb.WriteString("Findings:\n")
	for _, f := range findings {
		fmt.Fprintf(&sb, "- id=%s class=%q endpoint=%s %s parameter=%q impact=%q\n",
			f.ID, f.Vulnerability, f.Endpoint.Method, f.Endpoint.URL, f.Parameter, f.Impact)
	}

	var resp struct {
		Scores []struct {
			ID       string  `json:"id"`
			Severity string  `json:"severity"`
			Score    float64 `json:"score"`
		} `json:"scores"`
	}
	if err := s.ai.GenerateStructuredCompletion(ctx, llmSystemPrompt, sb.String(), &resp); err != nil {
		return nil, err
	}

	byID := make(map[string]struct {
		severity types.Severity
		score    float64
	}, len(resp.Scores))
	for _, entry := range resp.Scores {
		severity := types.Severity(strings.ToUpper(strings.TrimSpace(entry.Severity)))
		if !severity.Valid() || entry.Score < 0 || entry.Score > 9 {
			return nil, fmt.Errorf("LLM returned invalid rating for finding %s", entry.ID)
		}
		byID[entry.ID] = struct {
			severity types.Severity
			score    float64
		}{severity, entry.Score}
	}

	scored := make([]types.Finding, len(findings))
	for i, finding := range findings {
		rating, ok := byID[finding.ID]
		if !ok {
			// A partial answer is not trustworthy enough to mix with
			// table scores.
			return nil, fmt.Errorf("LLM response missing finding %s", finding.ID)
		}
		finding.Severity = rating.severity
		score := rating.score
		finding.SeverityScore = &score
		scored[i] = finding
	}
	return scored, nil
}

// RiskFor derives the overall risk level. Any finding at all makes the
// assessment HIGH; only a clean result is LOW.
func RiskFor(findings []types.Finding) types.RiskLevel {
	if len(findings) > 0 {
		return types.RiskHigh
	}
	return types.RiskLow
}
