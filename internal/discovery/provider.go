// Package discovery produces the attack surface for a target, either by
// delegating to a remote scanning proxy or by crawling the site with the
// built-in heuristic crawler.
package discovery

import (
	"context"
	"fmt"

	"github.com/strixsec/strix/internal/config"
	"github.com/strixsec/strix/internal/events"
	"github.com/strixsec/strix/internal/logger"
	"github.com/strixsec/strix/internal/ratelimit"
	"github.com/strixsec/strix/pkg/types"
)

// Provider turns a target URL into an attack surface. Per-resource fetch
// failures are logged and skipped; Discover only fails on errors fatal
// to the whole phase.
type Provider interface {
	Name() string
	Discover(ctx context.Context, targetURL string) (*types.AttackSurface, error)
}

// Deps carries the shared collaborators a provider needs.
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

// Select commits the run to a discovery provider. The decision is made
// exactly once: a reachable configured proxy selects the remote adapter,
// anything else falls back to the heuristic crawler. A failed probe is a
// degradation, never an error.
func Select(ctx context.Context, proxyCfg config.ProxyConfig, crawlerCfg config.CrawlerConfig, deps Deps) Provider {
	deps = deps.normalized()
	log := deps.Logger.WithComponent("discovery")

	if !proxyCfg.Configured() {
		deps.Emitter.Emit("Scanning proxy not configured - using built-in crawler", events.LevelWarning)
		log.Infow("Remote proxy not configured, selecting heuristic crawler")
		return NewCrawler(crawlerCfg, deps)
	}

	client := NewProxyClient(proxyCfg)
	if err := client.Probe(ctx); err != nil {
		deps.Emitter.Emit("Scanning proxy not reachable - falling back to built-in crawler", events.LevelWarning)
		log.Warnw("Remote proxy probe failed, selecting heuristic crawler",
			"proxy", proxyCfg.Address,
			"error", err,
		)
		return NewCrawler(crawlerCfg, deps)
	}

	deps.Emitter.Emit(fmt.Sprintf("Connected to scanning proxy at %s", proxyCfg.Address), events.LevelInfo)
	log.Infow("Remote proxy reachable, selecting remote adapter",
		"proxy", proxyCfg.Address,
	)
	return NewRemoteAdapter(client, deps)
}
