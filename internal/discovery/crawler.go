package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/strixsec/strix/internal/config"
	"github.com/strixsec/strix/internal/events"
	"github.com/strixsec/strix/internal/httpclient"
	"github.com/strixsec/strix/internal/logger"
	"github.com/strixsec/strix/internal/ratelimit"
	"github.com/strixsec/strix/pkg/types"
)

// Crawler is the fallback discovery provider: a bounded same-origin
// breadth-first crawl that emits one GET endpoint per fetched page and
// one POST endpoint per form found on it.
type Crawler struct {
	client    *http.Client
	logger    *logger.Logger
	emitter   events.Emitter
	limiter   *ratelimit.Limiter
	maxPages  int
	userAgent string
}

func NewCrawler(cfg config.CrawlerConfig, deps Deps) *Crawler {
	deps = deps.normalized()
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 20
	}

	opts := httpclient.DefaultOptions()
	if cfg.RequestTimeout > 0 {
		opts.Timeout = cfg.RequestTimeout
	}
	client, err := httpclient.New(opts)
	if err != nil {
		// Only reachable with a proxy URL set, which the crawler never uses.
		client = http.DefaultClient
	}

	return &Crawler{
		client:    client,
		logger:    deps.Logger.WithComponent("crawler"),
		emitter:   deps.Emitter,
		limiter:   deps.Limiter,
		maxPages:  cfg.MaxPages,
		userAgent: cfg.UserAgent,
	}
}

func (c *Crawler) Name() string { return "heuristic-crawler" }

// Discover crawls breadth-first from the target, visiting at most
// maxPages pages. Fetch failures and non-200 responses are logged and
// skipped; they never halt the crawl.
func (c *Crawler) Discover(ctx context.Context, targetURL string) (*types.AttackSurface, error) {
	base := normalizeURL(targetURL)
	if base == "" {
		return nil, fmt.Errorf("target url is empty")
	}

	c.emitter.Emit(fmt.Sprintf("Starting crawl on %s (limit: %d pages)", base, c.maxPages), events.LevelInfo)

	surface := types.NewAttackSurface()
	visited := make(map[string]struct{})
	enqueued := map[string]struct{}{base: {}}
	queue := []string{base}

	for len(queue) > 0 && len(visited) < c.maxPages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pageURL := queue[0]
		queue = queue[1:]

		if _, seen := visited[pageURL]; seen {
			continue
		}
		visited[pageURL] = struct{}{}

		links, err := c.visit(ctx, pageURL, surface)
		if err != nil {
			c.logger.Warnw("Page fetch failed, skipping",
				"url", pageURL,
				"error", err,
			)
			c.emitter.Emit(fmt.Sprintf("Error crawling %s: %v", pageURL, err), events.LevelWarning)
			continue
		}

		for _, link := range links {
			if !strings.HasPrefix(link, base) {
				continue
			}
			if _, seen := visited[link]; seen {
				continue
			}
			if _, queued := enqueued[link]; queued {
				continue
			}
			enqueued[link] = struct{}{}
			queue = append(queue, link)
		}
	}

	c.logger.Infow("Crawl finished",
		"pages_visited", len(visited),
		"endpoints", surface.Len(),
	)
	return surface, nil
}

// visit fetches one page, records its endpoints on the surface, and
// returns the normalized links found on it.
func (c *Crawler) visit(ctx context.Context, pageURL string, surface *types.AttackSurface) ([]string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	c.emitter.Emit(fmt.Sprintf("Crawling: %s", pageURL), events.LevelInfo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpclient.CloseBody(resp)

	if resp.StatusCode != http.StatusOK {
		c.logger.Debugw("Skipping non-200 page",
			"url", pageURL,
			"status", resp.StatusCode,
		)
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, err
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	surface.Add(pageEndpoint(pageURL, parsed))

	doc.Find("form").Each(func(_ int, form *goquery.Selection) {
		if ep, ok := formEndpoint(pageURL, parsed, form); ok {
			surface.Add(ep)
		}
	})

	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if resolved := resolveLink(parsed, href); resolved != "" {
			links = append(links, resolved)
		}
	})

	return links, nil
}

// pageEndpoint builds the GET endpoint for the page itself, with the
// query parameter names as its parameters.
func pageEndpoint(pageURL string, parsed *url.URL) types.Endpoint {
	params := make([]string, 0)
	seen := make(map[string]struct{})
	for name := range parsed.Query() {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		params = append(params, name)
	}

	path := parsed.Path
	if path == "" {
		path = "/"
	}

	return types.Endpoint{
		Method:     http.MethodGet,
		Path:       path,
		URL:        pageURL,
		Parameters: params,
		RawRequest: fmt.Sprintf("GET %s HTTP/1.1", pageURL),
	}
}

// formEndpoint builds a synthetic POST endpoint from a form's named
// inputs. Forms without named inputs contribute nothing.
func formEndpoint(pageURL string, parsed *url.URL, form *goquery.Selection) (types.Endpoint, bool) {
	var inputs []string
	seen := make(map[string]struct{})
	form.Find("input[name]").Each(func(_ int, input *goquery.Selection) {
		name, _ := input.Attr("name")
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		inputs = append(inputs, name)
	})

	if len(inputs) == 0 {
		return types.Endpoint{}, false
	}

	path := parsed.Path
	if path == "" {
		path = "/"
	}

	return types.Endpoint{
		Method:     http.MethodPost,
		Path:       path,
		URL:        pageURL,
		Parameters: inputs,
		RawRequest: fmt.Sprintf("POST %s HTTP/1.1\n\n(Form Inputs: %s)", pageURL, strings.Join(inputs, ", ")),
	}, true
}

// resolveLink resolves an href against the page URL and normalizes it.
// Non-HTTP schemes resolve to nothing.
func resolveLink(page *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	resolved := page.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return normalizeURL(resolved.String())
}

// normalizeURL strips the fragment and any trailing slash so the visited
// set matches URLs by their canonical form.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if idx := strings.Index(raw, "#"); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.TrimRight(raw, "/")
}
