// Package report renders a completed scan into a persisted Markdown
// assessment report. A report is written for every run that reaches the
// reporting phase, with or without findings.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/strixsec/strix/internal/config"
	"github.com/strixsec/strix/internal/events"
	"github.com/strixsec/strix/internal/logger"
	"github.com/strixsec/strix/pkg/types"
)

const scopeTableLimit = 20

type Synthesizer struct {
	outputDir string
	logger    *logger.Logger
	emitter   events.Emitter
	now       func() time.Time
}

func NewSynthesizer(cfg config.ReportConfig, log *logger.Logger, emitter events.Emitter) *Synthesizer {
	outputDir := cfg.OutputDirectory
	if outputDir == "" {
		outputDir = "reports"
	}
	if log == nil {
		log = logger.NewNop()
	}
	if emitter == nil {
		emitter = events.EmitterFunc(nil)
	}
	return &Synthesizer{
		outputDir: outputDir,
		logger:    log.WithComponent("report"),
		emitter:   emitter,
		now:       time.Now,
	}
}

// Write renders the result and persists it under the output directory,
// returning the report path.
func (s *Synthesizer) Write(result *types.ScanResult) (string, error) {
	s.emitter.Emit("Generating assessment report...", events.LevelStep)

	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	filename := fmt.Sprintf("security_report_%s.md", s.now().UTC().Format("20060102_150405"))
	path := filepath.Join(s.outputDir, filename)

	if err := os.WriteFile(path, []byte(s.Render(result)), 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}

	s.logger.Infow("Report written",
		"path", path,
		"findings", len(result.Findings),
	)
	s.emitter.Emit(fmt.Sprintf("Report saved to %s", path), events.LevelSuccess)
	return path, nil
}

// Render produces the full Markdown document.
func (s *Synthesizer) Render(result *types.ScanResult) string {
	var sb strings.Builder

	sb.WriteString("# 🛡️ Security Assessment Report\n\n")
	s.executiveSummary(&sb, result)
	sb.WriteString("\n---\n\n")
	s.methodology(&sb, result)
	s.scanScope(&sb, result)
	sb.WriteString("\n---\n\n")

	sb.WriteString("## Vulnerability Details\n\n")
	if len(result.Findings) > 0 {
		s.vulnerabilityDetails(&sb, result.Findings)
	} else {
		sb.WriteString("_No vulnerabilities were identified during this scan._\n")
	}

	return sb.String()
}

func (s *Synthesizer) executiveSummary(sb *strings.Builder, result *types.ScanResult) {
	timestamp := s.now().UTC().Format("2006-01-02 15:04:05 UTC")
	fmt.Fprintf(sb, "Security Scan Report for %s\n\nScan Time: %s\n\n", result.Target, timestamp)
	if len(result.Findings) == 0 {
		sb.WriteString("No critical security issues were discovered.\n")
		return
	}
	fmt.Fprintf(sb, "Total Vulnerabilities Found: %d\nRisk Level: %s\n\nImmediate remediation is strongly recommended.\n",
		len(result.Findings), result.RiskLevel)
}

func (s *Synthesizer) methodology(sb *strings.Builder, result *types.ScanResult) {
	sb.WriteString("## 🧪 Methodology\n\n")
	sb.WriteString("### Tools & Techniques\n")
	sb.WriteString("- **Spider**: Standard crawling for static links.\n")
	sb.WriteString("- **AJAX Spider**: Dynamic crawling for SPA/JS-heavy content.\n")
	sb.WriteString("- **Attack Planner**: Context-aware attack strategy.\n\n")

	if len(result.AttackPlan.Reasoning) > 0 {
		sb.WriteString("### Planned Attacks\n")
		sb.WriteString("Based on the attack surface, the planner selected the following tests:\n\n")
		for _, reason := range result.AttackPlan.Reasoning {
			fmt.Fprintf(sb, "- %s\n", strings.TrimPrefix(reason, "- "))
		}
	}
	sb.WriteString("\n---\n\n")
}

func (s *Synthesizer) scanScope(sb *strings.Builder, result *types.ScanResult) {
	endpoints := result.AttackSurface.Endpoints()
	fmt.Fprintf(sb, "## 🔍 Scan Scope\n\n**Total Unique Endpoints Discovered:** %d\n\n", len(endpoints))

	if len(endpoints) == 0 {
		sb.WriteString("_No endpoints were discovered during the crawl phase._\n\n")
		return
	}

	sb.WriteString("| Method | URL |\n|---|---|\n")
	limit := len(endpoints)
	if limit > scopeTableLimit {
		limit = scopeTableLimit
	}
	for _, ep := range endpoints[:limit] {
		fmt.Fprintf(sb, "| %s | `%s` |\n", ep.Method, ep.URL)
	}
	if len(endpoints) > scopeTableLimit {
		fmt.Fprintf(sb, "\n*(...and %d more)*\n", len(endpoints)-scopeTableLimit)
	}
	sb.WriteString("\n")
}

func (s *Synthesizer) vulnerabilityDetails(sb *strings.Builder, findings []types.Finding) {
	for i, f := range findings {
		fmt.Fprintf(sb, "### %d. %s — %s\n\n", i+1, f.Vulnerability, f.Severity)
		if f.SeverityScore != nil {
			fmt.Fprintf(sb, "**Severity Score:** %.1f/9\n\n", *f.SeverityScore)
		}
		fmt.Fprintf(sb, "**Endpoint:** %s %s\n\n", f.Endpoint.Method, f.Endpoint.URL)
		if f.Parameter != "" {
			fmt.Fprintf(sb, "**Affected Parameter:** `%s`\n\n", f.Parameter)
		}
		fmt.Fprintf(sb, "**Impact:** %s\n\n", f.Impact)
		sb.WriteString("---\n\n")
	}
}
