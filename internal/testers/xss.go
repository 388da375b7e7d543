package testers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/strixsec/strix/internal/config"
	"github.com/strixsec/strix/internal/events"
	"github.com/strixsec/strix/internal/httpclient"
	"github.com/strixsec/strix/internal/logger"
	"github.com/strixsec/strix/internal/ratelimit"
	"github.com/strixsec/strix/pkg/types"
)

// xssProbe carries markup that must be HTML-encoded on output. Seeing it
// verbatim in the response proves the parameter reflects unescaped.
const xssProbe = `<sx9k2 q="1">'probe'</sx9k2>`

// XSSTester injects a marker payload into each parameter of each
// endpoint and looks for an unescaped reflection in the response body.
type XSSTester struct {
	client  *http.Client
	logger  *logger.Logger
	emitter events.Emitter
	limiter *ratelimit.Limiter
	headers map[string]string
}

func NewXSSTester(cfg config.TesterConfig, deps Deps) *XSSTester {
	deps = deps.normalized()
	return &XSSTester{
		client:  newTesterClient(cfg),
		logger:  deps.Logger.WithComponent("xss-tester"),
		emitter: deps.Emitter,
		limiter: deps.Limiter,
		headers: cfg.Headers,
	}
}

func (t *XSSTester) Type() types.AttackType { return types.AttackXSS }

func (t *XSSTester) Run(ctx context.Context, surface *types.AttackSurface) ([]types.Finding, error) {
	t.emitter.Emit("Testing for reflected cross-site scripting...", events.LevelStep)

	var findings []types.Finding
	for _, ep := range surface.Endpoints() {
		if len(ep.Parameters) == 0 {
			continue
		}

		for _, param := range ep.Parameters {
			reflected, err := t.probe(ctx, ep, param)
			if err != nil {
				if ctx.Err() != nil {
					return findings, ctx.Err()
				}
				t.logger.Debugw("Probe request failed",
					"url", ep.URL,
					"parameter", param,
					"error", err,
				)
				continue
			}
			if !reflected {
				continue
			}

			findings = append(findings, newFinding(
				"Cross-Site Scripting (Reflected)",
				ep,
				param,
				fmt.Sprintf("The %q parameter reflects attacker-supplied markup into the response without encoding.", param),
			))
			t.logger.Infow("Unescaped reflection found",
				"url", ep.URL,
				"parameter", param,
			)
			// One finding per endpoint is enough evidence.
			break
		}
	}
	return findings, nil
}

// probe sends the payload through one parameter and reports whether it
// came back verbatim.
func (t *XSSTester) probe(ctx context.Context, ep types.Endpoint, param string) (bool, error) {
	if err := wait(ctx, t.limiter); err != nil {
		return false, err
	}

	var req *http.Request
	var err error

	switch ep.Method {
	case http.MethodPost:
		form := url.Values{}
		for _, name := range ep.Parameters {
			if name == param {
				form.Set(name, xssProbe)
			} else {
				form.Set(name, "test")
			}
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, strings.NewReader(form.Encode()))
		if err != nil {
			return false, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	default:
		parsed, perr := url.Parse(ep.URL)
		if perr != nil {
			return false, perr
		}
		query := parsed.Query()
		query.Set(param, xssProbe)
		parsed.RawQuery = query.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
		if err != nil {
			return false, err
		}
	}

	for name, value := range t.headers {
		req.Header.Set(name, value)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return false, err
	}
	defer httpclient.CloseBody(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, err
	}
	return bytes.Contains(body, []byte(xssProbe)), nil
}
