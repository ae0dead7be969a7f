// Package provider implements the external media-search fallback chain.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/gifengine/internal/config"
	"github.com/timmy/gifengine/internal/domain"
	"github.com/timmy/gifengine/internal/logger"
	"github.com/timmy/gifengine/internal/metrics"
)

// DefaultOrder is the fallback order used when none is configured.
var DefaultOrder = []string{"e621", "nekos", "giphy", "tenor"}

// Provider is one external media-search integration.
//
// Search never fails past the provider boundary: transport and parse errors
// are logged and reported as a nil candidate so the chain can continue.
// A disabled provider returns nil without doing any I/O.
type Provider interface {
	// Name returns the identifier used in the configured order.
	Name() string

	// Enabled reports whether the provider has the flags and credentials it needs.
	Enabled() bool

	// Search returns one policy-compatible result chosen at random, or nil.
	Search(ctx context.Context, query string, allowNSFW bool) *domain.Candidate
}

// Registry tries providers in a configured priority order.
type Registry struct {
	providers []Provider
	metrics   *metrics.Metrics
}

// NewRegistry orders available by name according to order. Only named
// providers take part; an empty order means DefaultOrder. Unknown and
// repeated names are logged and ignored.
func NewRegistry(order []string, available []Provider, m *metrics.Metrics) *Registry {
	if len(order) == 0 {
		order = DefaultOrder
	}
	byName := make(map[string]Provider, len(available))
	for _, p := range available {
		byName[p.Name()] = p
	}

	r := &Registry{metrics: m}
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		p, ok := byName[name]
		if !ok || seen[name] {
			logger.Warn("Ignoring provider in order: name=%s, known=%v, duplicate=%v", name, ok, seen[name])
			continue
		}
		seen[name] = true
		r.providers = append(r.providers, p)
	}
	return r
}

// NewFromConfig builds all known providers from configuration and orders
// them by cfg.Providers.Order.
func NewFromConfig(cfg *config.Config, m *metrics.Metrics) *Registry {
	timeout := cfg.HTTP.Timeout()
	pc := cfg.Providers
	available := []Provider{
		NewE621(E621Config{
			Enabled:   pc.E621.Enabled,
			Username:  pc.E621.Username,
			APIKey:    pc.E621.APIKey,
			UserAgent: pc.E621.UserAgent,
			BaseURL:   pc.E621.BaseURL,
			Timeout:   timeout,

			RequestsPerSecond: pc.E621.RequestsPerSecond,
		}),
		NewNekos(NekosConfig{
			Enabled:     pc.Nekos.Enabled,
			Endpoints:   pc.Nekos.Endpoints,
			LifeBaseURL: pc.Nekos.LifeBaseURL,
			BestBaseURL: pc.Nekos.BestBaseURL,
			Timeout:     timeout,
		}),
		NewGiphy(GiphyConfig{
			Enabled: pc.Giphy.Enabled,
			APIKey:  pc.Giphy.APIKey,
			Limit:   pc.Giphy.Limit,
			BaseURL: pc.Giphy.BaseURL,
			Timeout: timeout,
		}),
		NewTenor(TenorConfig{
			Enabled: pc.Tenor.Enabled,
			APIKey:  pc.Tenor.APIKey,
			Limit:   pc.Tenor.Limit,
			BaseURL: pc.Tenor.BaseURL,
			Timeout: timeout,
		}),
	}
	return NewRegistry(pc.Order, available, m)
}

// Order returns provider names in try order.
func (r *Registry) Order() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// Enabled returns the names of providers that would currently be tried.
func (r *Registry) Enabled() []string {
	var names []string
	for _, p := range r.providers {
		if p.Enabled() {
			names = append(names, p.Name())
		}
	}
	return names
}

// Search returns the first non-nil, policy-compatible candidate in order.
func (r *Registry) Search(ctx context.Context, query string, allowNSFW bool) *domain.Candidate {
	for _, p := range r.providers {
		if ctx.Err() != nil {
			return nil
		}
		if !p.Enabled() {
			continue
		}
		pctx := logger.SetProvider(ctx, p.Name())
		start := time.Now()
		cand := p.Search(pctx, query, allowNSFW)
		if cand != nil && !cand.Allowed(allowNSFW) {
			logger.CtxWarn(pctx, "Provider returned nsfw result for sfw request, discarding: url=%s", cand.URL)
			cand = nil
		}
		r.metrics.ProviderRequest(p.Name(), cand != nil)
		if cand != nil {
			logger.Timed(start).Result("hit").Info(pctx, "Provider hit: query=%q, url=%s", query, cand.URL)
			return cand
		}
		logger.Timed(start).Result("miss").Debug(pctx, "Provider miss: query=%q", query)
	}
	return nil
}

// newClient builds a resty client for a single provider call so one slow
// provider's connections and timeout never affect another.
func newClient(timeout time.Duration) *resty.Client {
	return resty.New().SetTimeout(timeout)
}

// getJSON issues a GET and decodes a 200 response body into out.
func getJSON(ctx context.Context, req *resty.Request, url string, out interface{}) error {
	resp, err := req.SetContext(ctx).Get(url)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("GET %s: decode: %w", url, err)
	}
	return nil
}

func pick(candidates []domain.Candidate) *domain.Candidate {
	if len(candidates) == 0 {
		return nil
	}
	c := candidates[rand.IntN(len(candidates))]
	return &c
}
