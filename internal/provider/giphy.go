package provider

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/timmy/gifengine/internal/domain"
	"github.com/timmy/gifengine/internal/logger"
)

// GiphyConfig configures the Giphy search API.
type GiphyConfig struct {
	Enabled bool
	APIKey  string
	Limit   int
	BaseURL string
	Timeout time.Duration
}

// Giphy searches Giphy. SFW requests are capped at rating pg-13; rating "r"
// marks a result nsfw.
type Giphy struct {
	cfg GiphyConfig
}

func NewGiphy(cfg GiphyConfig) *Giphy {
	if cfg.Limit <= 0 {
		cfg.Limit = 25
	}
	return &Giphy{cfg: cfg}
}

func (p *Giphy) Name() string { return "giphy" }

func (p *Giphy) Enabled() bool { return p.cfg.Enabled && p.cfg.APIKey != "" }

type giphyImage struct {
	URL string `json:"url"`
}

type giphyResponse struct {
	Data []struct {
		Rating string `json:"rating"`
		Images struct {
			Original  *giphyImage `json:"original"`
			Downsized *giphyImage `json:"downsized"`
		} `json:"images"`
	} `json:"data"`
}

func (p *Giphy) Search(ctx context.Context, query string, allowNSFW bool) *domain.Candidate {
	if !p.Enabled() {
		return nil
	}

	params := map[string]string{
		"api_key": p.cfg.APIKey,
		"q":       query,
		"limit":   strconv.Itoa(p.cfg.Limit),
	}
	if !allowNSFW {
		params["rating"] = "pg-13"
	}

	var data giphyResponse
	req := newClient(p.cfg.Timeout).R().SetQueryParams(params)
	if err := getJSON(ctx, req, strings.TrimSuffix(p.cfg.BaseURL, "/")+"/v1/gifs/search", &data); err != nil {
		logger.CtxWarn(ctx, "Giphy search failed: query=%q, error=%v", query, err)
		return nil
	}

	candidates := make([]domain.Candidate, 0, len(data.Data))
	for _, item := range data.Data {
		img := item.Images.Original
		if img == nil || img.URL == "" {
			img = item.Images.Downsized
		}
		if img == nil || img.URL == "" {
			continue
		}
		nsfw := strings.EqualFold(item.Rating, "r")
		if nsfw && !allowNSFW {
			continue
		}
		candidates = append(candidates, domain.Candidate{URL: img.URL, Source: p.Name(), NSFW: nsfw})
	}
	return pick(candidates)
}
