package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/strixsec/strix/internal/config"
	"github.com/strixsec/strix/internal/events"
	"github.com/strixsec/strix/internal/httpclient"
	"github.com/strixsec/strix/internal/logger"
	"github.com/strixsec/strix/pkg/types"
)

// ProxyClient speaks the ZAP-style JSON API of a remote scanning proxy.
type ProxyClient struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	probeTimeout time.Duration
	pollInterval time.Duration
}

func NewProxyClient(cfg config.ProxyConfig) *ProxyClient {
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	pollInterval := cfg.SpiderPoll
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	return &ProxyClient{
		baseURL:      strings.TrimRight(cfg.Address, "/"),
		apiKey:       cfg.APIKey,
		client:       &http.Client{Timeout: 30 * time.Second},
		probeTimeout: probeTimeout,
		pollInterval: pollInterval,
	}
}

// call issues one API request and decodes the JSON response into out.
func (p *ProxyClient) call(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", p.apiKey)

	reqURL := fmt.Sprintf("%s%s?%s", p.baseURL, endpoint, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer httpclient.CloseBody(resp)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("proxy api %s returned %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding proxy response from %s: %w", endpoint, err)
	}
	return nil
}

// Probe checks proxy reachability with a short deadline. It is the
// single variant-selection decision for a run: once it fails, the run
// stays on the fallback crawler even if the proxy recovers later.
func (p *ProxyClient) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	var result struct {
		Version string `json:"version"`
	}
	if err := p.call(ctx, "/JSON/core/view/version/", nil, &result); err != nil {
		return fmt.Errorf("proxy unreachable: %w", err)
	}
	return nil
}

// ResetSession starts a fresh proxy session so the surface only contains
// what this run discovered.
func (p *ProxyClient) ResetSession(ctx context.Context) error {
	params := url.Values{}
	params.Set("name", fmt.Sprintf("strix-%d", time.Now().Unix()))
	params.Set("overwrite", "true")
	return p.call(ctx, "/JSON/core/action/newSession/", params, nil)
}

// Spider runs the traditional spider against the target and waits for it
// to report 100% completion.
func (p *ProxyClient) Spider(ctx context.Context, targetURL string) error {
	params := url.Values{}
	params.Set("url", targetURL)

	var started struct {
		Scan string `json:"scan"`
	}
	if err := p.call(ctx, "/JSON/spider/action/scan/", params, &started); err != nil {
		return fmt.Errorf("starting spider: %w", err)
	}

	for {
		var status struct {
			Status string `json:"status"`
		}
		poll := url.Values{}
		poll.Set("scanId", started.Scan)
		if err := p.call(ctx, "/JSON/spider/view/status/", poll, &status); err != nil {
			return fmt.Errorf("polling spider: %w", err)
		}
		if status.Status == "100" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

// AjaxSpider runs the browser-driven spider, which finds endpoints that
// only exist after script execution, and waits for it to stop.
func (p *ProxyClient) AjaxSpider(ctx context.Context, targetURL string) error {
	params := url.Values{}
	params.Set("url", targetURL)
	if err := p.call(ctx, "/JSON/ajaxSpider/action/scan/", params, nil); err != nil {
		return fmt.Errorf("starting ajax spider: %w", err)
	}

	for {
		var status struct {
			Status string `json:"status"`
		}
		if err := p.call(ctx, "/JSON/ajaxSpider/view/status/", nil, &status); err != nil {
			return fmt.Errorf("polling ajax spider: %w", err)
		}
		if status.Status == "stopped" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

// WaitForPassiveScan blocks until the proxy's passive scan queue drains.
func (p *ProxyClient) WaitForPassiveScan(ctx context.Context) error {
	for {
		var result struct {
			RecordsToScan string `json:"recordsToScan"`
		}
		if err := p.call(ctx, "/JSON/pscan/view/recordsToScan/", nil, &result); err != nil {
			return fmt.Errorf("polling passive scan: %w", err)
		}
		if result.RecordsToScan == "0" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

// ExtractAttackSurface reads the URLs the proxy recorded under the
// target and converts them into endpoints.
func (p *ProxyClient) ExtractAttackSurface(ctx context.Context, targetURL string) (*types.AttackSurface, error) {
	params := url.Values{}
	params.Set("baseurl", targetURL)

	var result struct {
		URLs []string `json:"urls"`
	}
	if err := p.call(ctx, "/JSON/core/view/urls/", params, &result); err != nil {
		return nil, fmt.Errorf("reading discovered urls: %w", err)
	}

	surface := types.NewAttackSurface()
	for _, raw := range result.URLs {
		normalized := normalizeURL(raw)
		if normalized == "" {
			continue
		}
		parsed, err := url.Parse(normalized)
		if err != nil {
			continue
		}
		surface.Add(pageEndpoint(normalized, parsed))
	}
	return surface, nil
}

// RemoteAdapter is the discovery provider backed by a remote scanning
// proxy. Unlike the crawler, any step failure here is fatal: the run
// already committed to the proxy, and switching mid-run would blend two
// half-finished surfaces.
type RemoteAdapter struct {
	client  *ProxyClient
	logger  *logger.Logger
	emitter events.Emitter
}

func NewRemoteAdapter(client *ProxyClient, deps Deps) *RemoteAdapter {
	deps = deps.normalized()
	return &RemoteAdapter{
		client:  client,
		logger:  deps.Logger.WithComponent("proxy-discovery"),
		emitter: deps.Emitter,
	}
}

func (r *RemoteAdapter) Name() string { return "remote-proxy" }

// ProxyAddress returns the intercepting proxy endpoint. Testers route
// their traffic through it so the proxy's passive analysis observes the
// attack requests alongside the spidered ones.
func (r *RemoteAdapter) ProxyAddress() string { return r.client.baseURL }

func (r *RemoteAdapter) Discover(ctx context.Context, targetURL string) (*types.AttackSurface, error) {
	if err := r.client.ResetSession(ctx); err != nil {
		return nil, fmt.Errorf("resetting proxy session: %w", err)
	}

	r.emitter.Emit("Spidering target through scanning proxy...", events.LevelInfo)
	if err := r.client.Spider(ctx, targetURL); err != nil {
		return nil, err
	}

	r.emitter.Emit("Running browser-based spider for dynamic content...", events.LevelInfo)
	if err := r.client.AjaxSpider(ctx, targetURL); err != nil {
		return nil, err
	}

	r.emitter.Emit("Waiting for passive analysis to complete...", events.LevelInfo)
	if err := r.client.WaitForPassiveScan(ctx); err != nil {
		return nil, err
	}

	surface, err := r.client.ExtractAttackSurface(ctx, targetURL)
	if err != nil {
		return nil, err
	}

	r.logger.Infow("Proxy discovery finished", "endpoints", surface.Len())
	return surface, nil
}
