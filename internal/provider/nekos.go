package provider

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/timmy/gifengine/internal/domain"
	"github.com/timmy/gifengine/internal/logger"
)

// NekosConfig configures the nekos.life / nekos.best reaction endpoints.
type NekosConfig struct {
	Enabled     bool
	Endpoints   []string
	LifeBaseURL string
	BestBaseURL string
	Timeout     time.Duration
}

// Nekos fetches reaction images from fixed category endpoints. It ignores
// the rating filter: every configured endpoint is expected to be sfw.
type Nekos struct {
	cfg NekosConfig
}

func NewNekos(cfg NekosConfig) *Nekos {
	return &Nekos{cfg: cfg}
}

func (p *Nekos) Name() string { return "nekos" }

func (p *Nekos) Enabled() bool { return p.cfg.Enabled && len(p.cfg.Endpoints) > 0 }

type nekosLifeResponse struct {
	URL string `json:"url"`
}

type nekosBestResponse struct {
	Results []struct {
		URL   string `json:"url"`
		File  string `json:"file"`
		Image string `json:"image"`
	} `json:"results"`
}

func (p *Nekos) Search(ctx context.Context, query string, allowNSFW bool) *domain.Candidate {
	if !p.Enabled() {
		return nil
	}

	client := newClient(p.cfg.Timeout)
	lifeBase := strings.TrimSuffix(p.cfg.LifeBaseURL, "/")
	bestBase := strings.TrimSuffix(p.cfg.BestBaseURL, "/")

	for _, endpoint := range endpointOrder(p.cfg.Endpoints, query) {
		if ctx.Err() != nil {
			return nil
		}

		var life nekosLifeResponse
		if err := getJSON(ctx, client.R(), lifeBase+"/api/v2/img/"+endpoint, &life); err != nil {
			logger.CtxDebug(ctx, "nekos.life lookup failed: endpoint=%s, error=%v", endpoint, err)
		} else if life.URL != "" {
			return &domain.Candidate{URL: life.URL, Source: "nekos:" + endpoint}
		}

		var best nekosBestResponse
		if err := getJSON(ctx, client.R(), bestBase+"/api/v2/"+endpoint, &best); err != nil {
			logger.CtxDebug(ctx, "nekos.best lookup failed: endpoint=%s, error=%v", endpoint, err)
			continue
		}
		urls := make([]domain.Candidate, 0, len(best.Results))
		for _, r := range best.Results {
			url := firstNonEmpty(r.URL, r.File, r.Image)
			if url != "" {
				urls = append(urls, domain.Candidate{URL: url, Source: "nekos.best:" + endpoint})
			}
		}
		if c := pick(urls); c != nil {
			return c
		}
	}
	return nil
}

// endpointOrder puts endpoints named by a query word first, then the rest in
// random order.
func endpointOrder(endpoints []string, query string) []string {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(query)) {
		words[w] = true
	}

	var matched, rest []string
	for _, e := range endpoints {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if words[strings.ToLower(e)] {
			matched = append(matched, e)
		} else {
			rest = append(rest, e)
		}
	}
	rand.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	return append(matched, rest...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
