package api

import (
	"fmt"
	"time"

	"github.com/strixsec/strix/pkg/types"
)

// Report is the JSON report shape the dashboard consumes, assembled from
// a finished ScanResult.
type Report struct {
	Target          string                `json:"target"`
	Timestamp       time.Time             `json:"timestamp"`
	RiskLevel       types.RiskLevel       `json:"risk_level"`
	Summary         string                `json:"summary"`
	Vulnerabilities []ReportVulnerability `json:"vulnerabilities"`
	PagesVisited    []string              `json:"pages_visited"`
	InputsTested    []string              `json:"inputs_tested"`
	Recommendations []string              `json:"recommendations"`
	ReportPath      string                `json:"report_path,omitempty"`
}

type ReportVulnerability struct {
	Type        string         `json:"type"`
	Severity    types.Severity `json:"severity"`
	Location    string         `json:"location"`
	Description string         `json:"description"`
}

func buildReport(result *types.ScanResult) *Report {
	if result == nil {
		return nil
	}

	summary := fmt.Sprintf("Scan completed on %s. Found %d vulnerabilities.", result.Target, len(result.Findings))
	if len(result.Findings) == 0 {
		summary += " No significant security issues were detected."
	} else {
		summary += " Immediate remediation is recommended."
	}

	report := &Report{
		Target:          result.Target,
		Timestamp:       result.CompletedAt,
		RiskLevel:       result.RiskLevel,
		Summary:         summary,
		Vulnerabilities: make([]ReportVulnerability, 0, len(result.Findings)),
		PagesVisited:    make([]string, 0),
		InputsTested:    make([]string, 0),
		ReportPath:      result.ReportPath,
	}

	for _, f := range result.Findings {
		report.Vulnerabilities = append(report.Vulnerabilities, ReportVulnerability{
			Type:        f.Vulnerability,
			Severity:    f.Severity,
			Location:    fmt.Sprintf("%s %s", f.Endpoint.Method, f.Endpoint.URL),
			Description: fmt.Sprintf("Impact: %s Parameter: %s", f.Impact, f.Parameter),
		})
	}

	for _, ep := range result.AttackSurface.Endpoints() {
		if ep.URL != "" {
			report.PagesVisited = append(report.PagesVisited, ep.URL)
		}
		report.InputsTested = append(report.InputsTested, ep.Parameters...)
	}

	if len(result.Findings) > 0 {
		report.Recommendations = []string{
			"Implement strict input validation",
			"Enable Content Security Policy (CSP)",
			"Review access controls on all endpoints",
		}
	} else {
		report.Recommendations = []string{
			"Regularly update dependencies",
			"Enable CSP",
		}
	}

	return report
}
