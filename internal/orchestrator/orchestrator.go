// Package orchestrator sequences a vulnerability scan: discovery, attack
// planning, tester dispatch, severity scoring, and reporting. Each phase
// yields a typed outcome (success, degraded, or fatal) and the
// orchestrator decides continuation per outcome instead of letting
// errors propagate incidentally.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/strixsec/strix/internal/ai"
	"github.com/strixsec/strix/internal/config"
	"github.com/strixsec/strix/internal/discovery"
	"github.com/strixsec/strix/internal/events"
	"github.com/strixsec/strix/internal/logger"
	"github.com/strixsec/strix/internal/planner"
	"github.com/strixsec/strix/internal/ratelimit"
	"github.com/strixsec/strix/internal/report"
	"github.com/strixsec/strix/internal/scorer"
	"github.com/strixsec/strix/internal/testers"
	"github.com/strixsec/strix/pkg/types"
)

// ErrMissingTarget aborts a run before discovery starts.
var ErrMissingTarget = errors.New("target URL missing")

// Phase names the orchestrator's states.
type Phase string

const (
	PhaseInit      Phase = "INIT"
	PhaseDiscovery Phase = "DISCOVERY"
	PhasePlanning  Phase = "PLANNING"
	PhaseTesting   Phase = "TESTING"
	PhaseScoring   Phase = "SCORING"
	PhaseReporting Phase = "REPORTING"
	PhaseDone      Phase = "DONE"
)

type phaseStatus int

const (
	phaseSuccess phaseStatus = iota
	phaseDegraded
	phaseFatal
)

// phaseOutcome is the typed result of one phase. Degraded outcomes carry
// the cause but let the run continue; fatal outcomes abort it.
type phaseOutcome struct {
	status phaseStatus
	err    error
}

func success() phaseOutcome            { return phaseOutcome{status: phaseSuccess} }
func degraded(err error) phaseOutcome  { return phaseOutcome{status: phaseDegraded, err: err} }
func fatal(err error) phaseOutcome     { return phaseOutcome{status: phaseFatal, err: err} }
func (o phaseOutcome) isFatal() bool   { return o.status == phaseFatal }
func (o phaseOutcome) isDegraded() bool { return o.status == phaseDegraded }

// AttackPlanner maps an attack surface to a plan. A non-nil plan with a
// non-nil error means a degraded (fallback) plan.
type AttackPlanner interface {
	Plan(ctx context.Context, target string, surface *types.AttackSurface) (*types.AttackPlan, error)
}

// SeverityScorer annotates findings with severities and scores, under
// the same degraded-result convention as AttackPlanner.
type SeverityScorer interface {
	Score(ctx context.Context, findings []types.Finding) ([]types.Finding, error)
}

// ReportWriter persists the rendered report and returns its path.
type ReportWriter interface {
	Write(result *types.ScanResult) (string, error)
}

// ProviderSelector commits a run to a discovery provider.
type ProviderSelector func(ctx context.Context) discovery.Provider

// Options assembles an orchestrator. Config is required; every other
// field defaults to the real collaborator built from it.
type Options struct {
	Config   *config.Config
	Logger   *logger.Logger
	Emitter  events.Emitter
	Selector ProviderSelector
	Planner  AttackPlanner
	Scorer   SeverityScorer
	Reporter ReportWriter
	Registry []testers.Tester
}

type Orchestrator struct {
	cfg      *config.Config
	logger   *logger.Logger
	emitter  events.Emitter
	selector ProviderSelector
	planner  AttackPlanner
	scorer   SeverityScorer
	reporter ReportWriter

	// registryFor builds the tester registry for one run. The proxy URL
	// is the intercepting proxy the run committed to during discovery,
	// empty when the fallback crawler ran.
	registryFor func(proxyURL string) []testers.Tester
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	cfg := opts.Config

	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = events.EmitterFunc(nil)
	}

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.BurstSize,
	})

	o := &Orchestrator{
		cfg:      cfg,
		logger:   log.WithComponent("orchestrator"),
		emitter:  emitter,
		selector: opts.Selector,
		planner:  opts.Planner,
		scorer:   opts.Scorer,
		reporter: opts.Reporter,
	}

	deps := discovery.Deps{Logger: log, Emitter: emitter, Limiter: limiter}
	if o.selector == nil {
		o.selector = func(ctx context.Context) discovery.Provider {
			return discovery.Select(ctx, cfg.Proxy, cfg.Crawler, deps)
		}
	}

	if o.planner == nil || o.scorer == nil {
		aiClient := ai.NewClient(cfg.Planner, log)
		if o.planner == nil {
			p, err := planner.New(cfg.Planner, aiClient, log, emitter)
			if err != nil {
				return nil, err
			}
			o.planner = p
		}
		if o.scorer == nil {
			o.scorer = scorer.New(aiClient, log, emitter)
		}
	}

	if o.reporter == nil {
		o.reporter = report.NewSynthesizer(cfg.Reports, log, emitter)
	}
	if opts.Registry != nil {
		o.registryFor = func(string) []testers.Tester { return opts.Registry }
	} else {
		o.registryFor = func(proxyURL string) []testers.Tester {
			testerCfg := cfg.Testers
			testerCfg.ProxyURL = proxyURL
			return testers.Registry(testerCfg, testers.Deps{
				Logger:  log,
				Emitter: emitter,
				Limiter: limiter,
			})
		}
	}

	return o, nil
}

// Run executes one scan pipeline for the target. It returns either a
// complete immutable ScanResult or the error that aborted the run; a
// degraded phase never surfaces as an error here.
func (o *Orchestrator) Run(ctx context.Context, targetURL string) (*types.ScanResult, error) {
	startedAt := time.Now()

	if targetURL == "" {
		o.emitter.Emit("Target URL missing - aborting", events.LevelError)
		return nil, ErrMissingTarget
	}

	log := o.logger.WithTarget(targetURL)
	o.emitter.Emit("Orchestrator started", events.LevelInfo)
	o.emitter.Emit(fmt.Sprintf("Target: %s", targetURL), events.LevelInfo)

	result := &types.ScanResult{
		Target:    targetURL,
		StartedAt: startedAt,
	}

	// DISCOVERY
	surface, proxyURL, outcome := o.runDiscovery(ctx, targetURL)
	if outcome.isFatal() {
		return nil, o.fail(PhaseDiscovery, outcome.err)
	}
	result.AttackSurface = surface

	if surface.IsEmpty() {
		o.emitter.Emit("No attack surface found", events.LevelError)
		log.Infow("Empty attack surface, run terminates early")
		result.RiskLevel = types.RiskLow
		result.CompletedAt = time.Now()
		return result, nil
	}

	// PLANNING
	plan, outcome := o.runPlanning(ctx, targetURL, surface)
	if outcome.isFatal() {
		return nil, o.fail(PhasePlanning, outcome.err)
	}
	result.AttackPlan = *plan

	// TESTING
	findings, outcome := o.runTesting(ctx, surface, plan, o.registryFor(proxyURL))
	if outcome.isFatal() {
		return nil, o.fail(PhaseTesting, outcome.err)
	}

	// SCORING
	findings, outcome = o.runScoring(ctx, findings)
	if outcome.isFatal() {
		return nil, o.fail(PhaseScoring, outcome.err)
	}
	result.Findings = findings
	result.RiskLevel = scorer.RiskFor(findings)

	// REPORTING
	o.logResults(findings)
	path, err := o.reporter.Write(result)
	if err != nil {
		return nil, o.fail(PhaseReporting, err)
	}
	result.ReportPath = path

	result.CompletedAt = time.Now()
	o.emitter.Emit("Orchestrator finished", events.LevelSuccess)
	log.Infow("Scan complete",
		"findings", len(result.Findings),
		"risk_level", result.RiskLevel,
		"report", result.ReportPath,
		"duration", result.CompletedAt.Sub(result.StartedAt).String(),
	)
	return result, nil
}

func (o *Orchestrator) fail(phase Phase, err error) error {
	o.emitter.Emit(fmt.Sprintf("Scan failed during %s: %v", phase, err), events.LevelError)
	o.logger.Errorw("Run aborted",
		"phase", string(phase),
		"error", err,
	)
	return fmt.Errorf("%s phase: %w", phase, err)
}

// runDiscovery commits the run to a provider and collects the surface.
// The returned proxy URL is non-empty only when the committed provider
// intercepts traffic; testers then route through the same proxy so its
// passive analysis sees the attack requests.
func (o *Orchestrator) runDiscovery(ctx context.Context, targetURL string) (*types.AttackSurface, string, phaseOutcome) {
	if err := ctx.Err(); err != nil {
		return nil, "", fatal(err)
	}

	provider := o.selector(ctx)
	o.emitter.Emit(fmt.Sprintf("Discovering attack surface (%s)...", provider.Name()), events.LevelStep)

	surface, err := provider.Discover(ctx, targetURL)
	if err != nil {
		return nil, "", fatal(err)
	}

	proxyURL := ""
	if routed, ok := provider.(interface{ ProxyAddress() string }); ok {
		proxyURL = routed.ProxyAddress()
	}

	o.emitter.Emit(fmt.Sprintf("Found %d request patterns", surface.Len()), events.LevelInfo)
	return surface, proxyURL, success()
}

func (o *Orchestrator) runPlanning(ctx context.Context, targetURL string, surface *types.AttackSurface) (*types.AttackPlan, phaseOutcome) {
	if err := ctx.Err(); err != nil {
		return nil, fatal(err)
	}

	o.emitter.Emit("Planning attack strategy...", events.LevelStep)

	plan, err := o.planner.Plan(ctx, targetURL, surface)
	if plan == nil {
		if err == nil {
			err = errors.New("planner returned no plan")
		}
		return nil, fatal(err)
	}

	o.emitter.Emit("Attack plan generated", events.LevelInfo)
	for _, reason := range plan.Reasoning {
		o.emitter.Emit(fmt.Sprintf(" %s", reason), events.LevelInfo)
	}

	if err != nil {
		return plan, degraded(err)
	}
	return plan, success()
}

// runTesting walks the registry in its fixed order and dispatches each
// tester whose category the plan selected, exactly once, over the full
// surface. Findings concatenate in registry order regardless of how the
// planner ordered its picks. A failing tester degrades the run and its
// partial findings are kept; the remaining testers still execute.
func (o *Orchestrator) runTesting(ctx context.Context, surface *types.AttackSurface, plan *types.AttackPlan, registry []testers.Tester) ([]types.Finding, phaseOutcome) {
	var findings []types.Finding
	var degradedErr error

	for _, category := range plan.Categories() {
		if testers.ByType(registry, category) == nil {
			o.logger.Warnw("No tester registered for planned category, ignoring",
				"category", string(category),
			)
		}
	}

	for _, tester := range registry {
		if !plan.Contains(tester.Type()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, fatal(err)
		}
		category := tester.Type()

		o.emitter.Emit(fmt.Sprintf("Running %s tests...", category), events.LevelStep)

		testerFindings, err := tester.Run(ctx, surface)
		findings = append(findings, testerFindings...)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fatal(ctx.Err())
			}
			degradedErr = fmt.Errorf("%s tester: %w", category, err)
			o.emitter.Emit(fmt.Sprintf("%s tester failed - continuing with partial results", category), events.LevelWarning)
			o.logger.Warnw("Tester failed, keeping partial findings",
				"category", string(category),
				"error", err,
			)
		}
	}

	o.emitter.Emit(fmt.Sprintf("Testing complete: %d findings", len(findings)), events.LevelInfo)
	if degradedErr != nil {
		return findings, degraded(degradedErr)
	}
	return findings, success()
}

func (o *Orchestrator) runScoring(ctx context.Context, findings []types.Finding) ([]types.Finding, phaseOutcome) {
	if len(findings) == 0 {
		return findings, success()
	}
	if err := ctx.Err(); err != nil {
		return nil, fatal(err)
	}

	scored, err := o.scorer.Score(ctx, findings)
	if scored == nil && err != nil {
		return nil, fatal(err)
	}
	if err != nil {
		return scored, degraded(err)
	}
	return scored, success()
}

func (o *Orchestrator) logResults(findings []types.Finding) {
	o.emitter.Emit("========== SCAN RESULTS ==========", events.LevelInfo)
	if len(findings) == 0 {
		o.emitter.Emit("No vulnerabilities found", events.LevelSuccess)
		return
	}
	for i, f := range findings {
		o.emitter.Emit(fmt.Sprintf("[%d] %s (%s)", i+1, f.Vulnerability, f.Severity), events.LevelInfo)
		o.emitter.Emit(fmt.Sprintf("    Endpoint: %s %s", f.Endpoint.Method, f.Endpoint.URL), events.LevelInfo)
		o.emitter.Emit(fmt.Sprintf("    Impact: %s", f.Impact), events.LevelInfo)
	}
}
