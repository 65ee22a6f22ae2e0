package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"skyfare/identity"
	"skyfare/metrics"
	"skyfare/models"
)

// Gateway fronts the configured providers. Every query is bounded by
// its own timeout and every failure degrades to zero offers; callers
// never see a provider error.
type Gateway struct {
	providers []Provider
	byName    map[string]Provider
	timeout   time.Duration
	metrics   *metrics.Metrics
	log       *zap.SugaredLogger
}

func New(providers []Provider, timeout time.Duration, m *metrics.Metrics, log *zap.SugaredLogger) *Gateway {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Gateway{
		providers: providers,
		byName:    byName,
		timeout:   timeout,
		metrics:   m,
		log:       log,
	}
}

// Providers returns the configured provider names in query order.
func (g *Gateway) Providers() []string {
	names := make([]string, 0, len(g.providers))
	for _, p := range g.providers {
		names = append(names, p.Name())
	}
	return names
}

// Query runs one provider and normalizes any failure to an empty
// result. The returned offers carry normalized flight numbers.
func (g *Gateway) Query(ctx context.Context, name string, q models.SearchQuery) []models.Offer {
	p, ok := g.byName[name]
	if !ok {
		g.log.Warnw("unknown provider", "provider", name)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	offers, err := p.Search(ctx, q)
	elapsed := time.Since(start)

	if g.metrics != nil {
		g.metrics.ProviderLatency.WithLabelValues(name).Observe(elapsed.Seconds())
	}
	if err != nil {
		if g.metrics != nil {
			g.metrics.ProviderRequests.WithLabelValues(name, "error").Inc()
		}
		g.log.Warnw("provider query failed", "provider", name,
			"origin", q.Origin, "destination", q.Destination, "error", err)
		return nil
	}
	if g.metrics != nil {
		g.metrics.ProviderRequests.WithLabelValues(name, "ok").Inc()
	}

	for i := range offers {
		offers[i].Provider = name
		offers[i].NormalizedNumber = identity.NormalizeFlightNumber(offers[i].FlightNumber)
	}

	g.log.Debugw("provider query done", "provider", name,
		"offers", len(offers), "elapsed_ms", elapsed.Milliseconds())
	return offers
}

// QueryAll fans the query out to the named providers (all configured
// ones when names is empty) concurrently and collects per-provider
// results. One provider's timeout or failure never affects siblings.
func (g *Gateway) QueryAll(ctx context.Context, q models.SearchQuery, names []string) map[string][]models.Offer {
	if len(names) == 0 {
		names = g.Providers()
	}

	results := make(map[string][]models.Offer, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			offers := g.Query(ctx, name, q)
			mu.Lock()
			results[name] = offers
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	return results
}
