// Package testers holds the attack modules the orchestrator dispatches
// during the testing phase. Each tester sweeps the full attack surface
// for one vulnerability category and reports findings; a tester failure
// degrades the scan but never aborts it.
package testers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/strixsec/strix/internal/config"
	"github.com/strixsec/strix/internal/events"
	"github.com/strixsec/strix/internal/httpclient"
	"github.com/strixsec/strix/internal/logger"
	"github.com/strixsec/strix/internal/ratelimit"
	"github.com/strixsec/strix/pkg/types"
)

// Tester is one attack category module.
type Tester interface {
	Type() types.AttackType
	Run(ctx context.Context, surface *types.AttackSurface) ([]types.Finding, error)
}

// Deps carries the collaborators shared by every tester.
type Deps struct {
	Logger  *logger.Logger
	Emitter events.Emitter
	Limiter *ratelimit.Limiter
}

func (d Deps) normalized() Deps {
	if d.Logger == nil {
		d.Logger = logger.NewNop()
	}
	if d.Emitter == nil {
		d.Emitter = events.EmitterFunc(nil)
	}
	return d
}

// Registry returns every tester in dispatch order. The order is fixed:
// access-control categories run before injection categories so auth
// findings are not polluted by payload side effects.
func Registry(cfg config.TesterConfig, deps Deps) []Tester {
	deps = deps.normalized()
	return []Tester{
		NewIDORTester(cfg, deps),
		NewAuthTester(cfg, deps),
		NewXSSTester(cfg, deps),
		NewDOMXSSTester(cfg, deps),
	}
}

// ByType returns the registered tester for a category, or nil when the
// category is unknown.
func ByType(registry []Tester, t types.AttackType) Tester {
	for _, tester := range registry {
		if tester.Type() == t {
			return tester
		}
	}
	return nil
}

// newTesterClient builds the HTTP client testers share: no redirect
// following, so access-control checks see the original response.
func newTesterClient(cfg config.TesterConfig) *http.Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client, err := httpclient.New(httpclient.TesterOptions(cfg.ProxyURL, timeout))
	if err != nil {
		return &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return client
}

func newFinding(vulnerability string, endpoint types.Endpoint, parameter, impact string) types.Finding {
	return types.Finding{
		ID:            uuid.New().String(),
		Vulnerability: vulnerability,
		Endpoint:      endpoint,
		Parameter:     parameter,
		Impact:        impact,
	}
}

// wait applies the shared rate limit before an outbound request.
func wait(ctx context.Context, limiter *ratelimit.Limiter) error {
	if limiter == nil {
		return ctx.Err()
	}
	return limiter.Wait(ctx)
}
