package provider

import (
	"context"
	"strings"
	"time"

	"github.com/timmy/gifengine/internal/domain"
	"github.com/timmy/gifengine/internal/logger"
	"golang.org/x/time/rate"
)

// e621RateLimit is the API's hard limit on requests per second.
const e621RateLimit = 2

// E621Config configures the e621 tag search.
type E621Config struct {
	Enabled   bool
	Username  string
	APIKey    string
	UserAgent string
	BaseURL   string
	Timeout   time.Duration

	// RequestsPerSecond caps outgoing searches; 0 means the API limit.
	RequestsPerSecond float64
}

// E621 searches e621 posts by tag. Rating "e" (explicit) marks a result nsfw.
// Searches share one token bucket, and a search that cannot get a token
// before ctx ends is skipped.
type E621 struct {
	cfg     E621Config
	limiter *rate.Limiter
}

func NewE621(cfg E621Config) *E621 {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "gifengine/1.0"
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = e621RateLimit
	}
	return &E621{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

func (p *E621) Name() string { return "e621" }

func (p *E621) Enabled() bool { return p.cfg.Enabled && p.cfg.APIKey != "" }

type e621Response struct {
	Posts []struct {
		File struct {
			URL string `json:"url"`
		} `json:"file"`
		Rating string `json:"rating"`
	} `json:"posts"`
}

func (p *E621) Search(ctx context.Context, query string, allowNSFW bool) *domain.Candidate {
	if !p.Enabled() {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		logger.CtxDebug(ctx, "e621 search skipped, rate limited: query=%q, error=%v", query, err)
		return nil
	}

	req := newClient(p.cfg.Timeout).R().
		SetHeader("User-Agent", p.cfg.UserAgent).
		SetQueryParams(map[string]string{"tags": query, "limit": "50"})
	if p.cfg.Username != "" {
		req.SetBasicAuth(p.cfg.Username, p.cfg.APIKey)
	}

	var data e621Response
	if err := getJSON(ctx, req, strings.TrimSuffix(p.cfg.BaseURL, "/")+"/posts.json", &data); err != nil {
		logger.CtxWarn(ctx, "e621 search failed: query=%q, error=%v", query, err)
		return nil
	}

	candidates := make([]domain.Candidate, 0, len(data.Posts))
	for _, post := range data.Posts {
		if post.File.URL == "" {
			continue
		}
		nsfw := strings.EqualFold(post.Rating, "e")
		if nsfw && !allowNSFW {
			continue
		}
		candidates = append(candidates, domain.Candidate{URL: post.File.URL, Source: p.Name(), NSFW: nsfw})
	}
	return pick(candidates)
}
