package testers

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/strixsec/strix/internal/config"
	"github.com/strixsec/strix/internal/events"
	"github.com/strixsec/strix/internal/httpclient"
	"github.com/strixsec/strix/internal/logger"
	"github.com/strixsec/strix/internal/ratelimit"
	"github.com/strixsec/strix/pkg/types"
)

// AuthTester checks access control by fetching each endpoint twice, with
// and without the configured credential headers, and comparing the
// responses. Identical 200 bodies mean the credential gate is absent;
// differing 200 bodies mean the endpoint serves data it should not to an
// anonymous caller.
type AuthTester struct {
	client  *http.Client
	logger  *logger.Logger
	emitter events.Emitter
	limiter *ratelimit.Limiter
	headers map[string]string
}

func NewAuthTester(cfg config.TesterConfig, deps Deps) *AuthTester {
	deps = deps.normalized()
	return &AuthTester{
		client:  newTesterClient(cfg),
		logger:  deps.Logger.WithComponent("auth-tester"),
		emitter: deps.Emitter,
		limiter: deps.Limiter,
		headers: cfg.Headers,
	}
}

func (t *AuthTester) Type() types.AttackType { return types.AttackAuth }

func (t *AuthTester) Run(ctx context.Context, surface *types.AttackSurface) ([]types.Finding, error) {
	t.emitter.Emit("Testing authentication and access control...", events.LevelStep)

	var findings []types.Finding
	for _, ep := range surface.Endpoints() {
		if ep.Method != http.MethodGet {
			continue
		}

		finding, err := t.check(ctx, ep)
		if err != nil {
			if ctx.Err() != nil {
				return findings, ctx.Err()
			}
			t.logger.Debugw("Access check failed", "url", ep.URL, "error", err)
			continue
		}
		if finding != nil {
			findings = append(findings, *finding)
		}
	}
	return findings, nil
}

func (t *AuthTester) check(ctx context.Context, ep types.Endpoint) (*types.Finding, error) {
	authStatus, authBody, err := t.get(ctx, ep.URL, true)
	if err != nil {
		return nil, err
	}
	anonStatus, anonBody, err := t.get(ctx, ep.URL, false)
	if err != nil {
		return nil, err
	}

	if authStatus != http.StatusOK || anonStatus != http.StatusOK {
		return nil, nil
	}

	if bytes.Equal(authBody, anonBody) {
		f := newFinding(
			"Missing Authentication",
			ep,
			"",
			"Protected endpoint accessible without authentication",
		)
		t.logger.Infow("Endpoint served identical content without credentials", "url", ep.URL)
		return &f, nil
	}

	f := newFinding(
		"Broken Access Control",
		ep,
		"",
		"Endpoint leaks data without proper authorization",
	)
	t.logger.Infow("Anonymous response differs but still succeeds", "url", ep.URL)
	return &f, nil
}

func (t *AuthTester) get(ctx context.Context, target string, authenticated bool) (int, []byte, error) {
	if err := wait(ctx, t.limiter); err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, err
	}
	if authenticated {
		for name, value := range t.headers {
			req.Header.Set(name, value)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer httpclient.CloseBody(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}
