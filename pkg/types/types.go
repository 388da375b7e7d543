package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Valid reports whether s is one of the known severity ratings.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// RiskLevel is the coarse per-run summary, derived solely from the
// presence of findings.
type RiskLevel string

const (
	RiskLow  RiskLevel = "LOW"
	RiskHigh RiskLevel = "HIGH"
)

// AttackType identifies a tester category in an attack plan. The set is
// open-ended: categories the dispatcher does not recognize are ignored.
type AttackType string

const (
	AttackIDOR   AttackType = "IDOR"
	AttackAuth   AttackType = "AUTH"
	AttackXSS    AttackType = "XSS"
	AttackDOMXSS AttackType = "DOM-XSS"
)

// Valid reports whether t names one of the known attack categories.
func (t AttackType) Valid() bool {
	switch t {
	case AttackIDOR, AttackAuth, AttackXSS, AttackDOMXSS:
		return true
	}
	return false
}

type RunStatus string

const (
	RunStatusInitializing RunStatus = "INITIALIZING"
	RunStatusScanning     RunStatus = "SCANNING"
	RunStatusComplete     RunStatus = "COMPLETE"
	RunStatusError        RunStatus = "ERROR"
)

// Endpoint is one testable request shape discovered on the target.
type Endpoint struct {
	Method     string   `json:"method"`
	Path       string   `json:"path"`
	URL        string   `json:"url"`
	Parameters []string `json:"parameters"`
	RawRequest string   `json:"raw_request,omitempty"`
}

// Key returns the identity key used for attack-surface deduplication:
// method, URL and the sorted parameter names.
func (e Endpoint) Key() string {
	params := make([]string, len(e.Parameters))
	copy(params, e.Parameters)
	sort.Strings(params)
	return fmt.Sprintf("%s %s [%s]", e.Method, e.URL, strings.Join(params, ","))
}

// AttackSurface is the deduplicated set of discovered endpoints.
// Insertion order is preserved for report stability but carries no
// other meaning.
type AttackSurface struct {
	endpoints []Endpoint
	seen      map[string]struct{}
}

func NewAttackSurface() *AttackSurface {
	return &AttackSurface{seen: make(map[string]struct{})}
}

// Add inserts an endpoint unless one with the same identity key is
// already present. It reports whether the endpoint was added.
func (s *AttackSurface) Add(e Endpoint) bool {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	key := e.Key()
	if _, dup := s.seen[key]; dup {
		return false
	}
	s.seen[key] = struct{}{}
	s.endpoints = append(s.endpoints, e)
	return true
}

// Endpoints returns the endpoints in insertion order. The returned slice
// is a copy; mutating it does not affect the surface.
func (s *AttackSurface) Endpoints() []Endpoint {
	if s == nil {
		return nil
	}
	out := make([]Endpoint, len(s.endpoints))
	copy(out, s.endpoints)
	return out
}

func (s *AttackSurface) Len() int {
	if s == nil {
		return 0
	}
	return len(s.endpoints)
}

func (s *AttackSurface) IsEmpty() bool { return s.Len() == 0 }

// PlannedAttack is one category the planner selected, with an optional
// hint about what drove the choice.
type PlannedAttack struct {
	Type       AttackType `json:"type"`
	TargetHint string     `json:"target_hint,omitempty"`
}

// AttackPlan is the planner's chosen categories plus its reasoning trace.
type AttackPlan struct {
	Attacks   []PlannedAttack `json:"attacks"`
	Reasoning []string        `json:"reasoning"`
}

// Categories returns the distinct attack types in plan order. Repeated
// entries of the same category collapse to one.
func (p AttackPlan) Categories() []AttackType {
	seen := make(map[AttackType]struct{}, len(p.Attacks))
	var out []AttackType
	for _, a := range p.Attacks {
		if _, dup := seen[a.Type]; dup {
			continue
		}
		seen[a.Type] = struct{}{}
		out = append(out, a.Type)
	}
	return out
}

// Contains reports whether the plan includes the given category at
// least once.
func (p AttackPlan) Contains(t AttackType) bool {
	for _, a := range p.Attacks {
		if a.Type == t {
			return true
		}
	}
	return false
}

// Finding is one confirmed or suspected vulnerability instance tied to a
// discovered endpoint. SeverityScore is assigned by the scorer after all
// testers have run; it is the only field mutated post-creation.
type Finding struct {
	ID            string   `json:"id"`
	Vulnerability string   `json:"vulnerability"`
	Severity      Severity `json:"severity"`
	SeverityScore *float64 `json:"severity_score,omitempty"`
	Endpoint      Endpoint `json:"endpoint"`
	Parameter     string   `json:"parameter,omitempty"`
	Impact        string   `json:"impact"`
}

// ScanResult is the immutable outcome of one orchestrator run.
type ScanResult struct {
	Target        string         `json:"target"`
	Findings      []Finding      `json:"findings"`
	AttackSurface *AttackSurface `json:"-"`
	AttackPlan    AttackPlan     `json:"attack_plan"`
	RiskLevel     RiskLevel      `json:"risk_level"`
	ReportPath    string         `json:"report_path,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   time.Time      `json:"completed_at"`
}

// LogEntry is one progress event recorded against a run. Logs are
// append-only and ordered.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Level     string    `json:"type"`
}
