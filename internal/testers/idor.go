package testers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"github.com/strixsec/strix/internal/config"
	"github.com/strixsec/strix/internal/events"
	"github.com/strixsec/strix/internal/httpclient"
	"github.com/strixsec/strix/internal/logger"
	"github.com/strixsec/strix/internal/ratelimit"
	"github.com/strixsec/strix/pkg/types"
)

// IDORTester probes object references: for endpoints addressing an
// object by numeric identifier, it requests the neighboring identifier
// and flags endpoints that serve a different object without pushback.
type IDORTester struct {
	client  *http.Client
	logger  *logger.Logger
	emitter events.Emitter
	limiter *ratelimit.Limiter
	headers map[string]string
}

func NewIDORTester(cfg config.TesterConfig, deps Deps) *IDORTester {
	deps = deps.normalized()
	return &IDORTester{
		client:  newTesterClient(cfg),
		logger:  deps.Logger.WithComponent("idor-tester"),
		emitter: deps.Emitter,
		limiter: deps.Limiter,
		headers: cfg.Headers,
	}
}

func (t *IDORTester) Type() types.AttackType { return types.AttackIDOR }

var numericPathSegment = regexp.MustCompile(`/(\d+)(/|$)`)

func (t *IDORTester) Run(ctx context.Context, surface *types.AttackSurface) ([]types.Finding, error) {
	t.emitter.Emit("Testing for insecure direct object references...", events.LevelStep)

	var findings []types.Finding
	for _, ep := range surface.Endpoints() {
		if ep.Method != http.MethodGet {
			continue
		}
		candidates := t.mutations(ep)
		if len(candidates) == 0 {
			continue
		}

		original, err := t.fetch(ctx, ep.URL)
		if err != nil {
			if ctx.Err() != nil {
				return findings, ctx.Err()
			}
			t.logger.Debugw("Baseline request failed", "url", ep.URL, "error", err)
			continue
		}
		if original.status != http.StatusOK || len(original.body) == 0 {
			continue
		}

		for _, candidate := range candidates {
			neighbor, err := t.fetch(ctx, candidate.url)
			if err != nil {
				if ctx.Err() != nil {
					return findings, ctx.Err()
				}
				continue
			}
			if neighbor.status != http.StatusOK || len(neighbor.body) == 0 {
				continue
			}
			if string(neighbor.body) == string(original.body) {
				continue
			}

			findings = append(findings, newFinding(
				"Insecure Direct Object Reference",
				ep,
				candidate.parameter,
				fmt.Sprintf("Changing the object identifier to a neighboring value (%s) returned a different object without an authorization check.", candidate.url),
			))
			t.logger.Infow("IDOR candidate confirmed",
				"url", ep.URL,
				"mutated_url", candidate.url,
			)
			break
		}
	}
	return findings, nil
}

type idorMutation struct {
	url       string
	parameter string
}

// mutations enumerates identifier rewrites for an endpoint: each numeric
// query parameter incremented, and the first numeric path segment
// incremented.
func (t *IDORTester) mutations(ep types.Endpoint) []idorMutation {
	var out []idorMutation

	parsed, err := url.Parse(ep.URL)
	if err != nil {
		return nil
	}

	query := parsed.Query()
	for name, values := range query {
		if len(values) == 0 {
			continue
		}
		id, err := strconv.Atoi(values[0])
		if err != nil {
			continue
		}
		mutated := *parsed
		q := parsed.Query()
		q.Set(name, strconv.Itoa(id+1))
		mutated.RawQuery = q.Encode()
		out = append(out, idorMutation{url: mutated.String(), parameter: name})
	}

	if loc := numericPathSegment.FindStringSubmatchIndex(parsed.Path); loc != nil {
		segment := parsed.Path[loc[2]:loc[3]]
		if id, err := strconv.Atoi(segment); err == nil {
			mutated := *parsed
			mutated.Path = parsed.Path[:loc[2]] + strconv.Itoa(id+1) + parsed.Path[loc[3]:]
			out = append(out, idorMutation{url: mutated.String()})
		}
	}

	return out
}

type idorResponse struct {
	status int
	body   []byte
}

func (t *IDORTester) fetch(ctx context.Context, target string) (*idorResponse, error) {
	if err := wait(ctx, t.limiter); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	for name, value := range t.headers {
		req.Header.Set(name, value)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpclient.CloseBody(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return &idorResponse{status: resp.StatusCode, body: body}, nil
}
