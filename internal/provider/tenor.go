package provider

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/timmy/gifengine/internal/domain"
	"github.com/timmy/gifengine/internal/logger"
)

// TenorConfig configures the Tenor v1 search API.
type TenorConfig struct {
	Enabled bool
	APIKey  string
	Limit   int
	BaseURL string
	Timeout time.Duration
}

// Tenor searches Tenor with contentfilter high for SFW requests and low
// otherwise. v1 responses carry no rating, so results are treated as sfw.
type Tenor struct {
	cfg TenorConfig
}

func NewTenor(cfg TenorConfig) *Tenor {
	if cfg.Limit <= 0 {
		cfg.Limit = 25
	}
	return &Tenor{cfg: cfg}
}

func (p *Tenor) Name() string { return "tenor" }

func (p *Tenor) Enabled() bool { return p.cfg.Enabled && p.cfg.APIKey != "" }

type tenorFormat struct {
	URL string `json:"url"`
}

type tenorResponse struct {
	Results []struct {
		URL   string                  `json:"url"`
		Media []map[string]tenorFormat `json:"media"`
	} `json:"results"`
}

// preferredTenorFormats lists media formats in preference order.
var preferredTenorFormats = []string{"gif", "mediumgif", "tinygif"}

func (p *Tenor) Search(ctx context.Context, query string, allowNSFW bool) *domain.Candidate {
	if !p.Enabled() {
		return nil
	}

	filter := "high"
	if allowNSFW {
		filter = "low"
	}

	var data tenorResponse
	req := newClient(p.cfg.Timeout).R().SetQueryParams(map[string]string{
		"q":             query,
		"key":           p.cfg.APIKey,
		"limit":         strconv.Itoa(p.cfg.Limit),
		"contentfilter": filter,
	})
	if err := getJSON(ctx, req, strings.TrimSuffix(p.cfg.BaseURL, "/")+"/v1/search", &data); err != nil {
		logger.CtxWarn(ctx, "Tenor search failed: query=%q, error=%v", query, err)
		return nil
	}

	candidates := make([]domain.Candidate, 0, len(data.Results))
	for _, r := range data.Results {
		url := ""
		if len(r.Media) > 0 {
			url = tenorMediaURL(r.Media[0])
		} else {
			url = r.URL
		}
		if url == "" {
			continue
		}
		candidates = append(candidates, domain.Candidate{URL: url, Source: p.Name(), NSFW: false})
	}
	return pick(candidates)
}

func tenorMediaURL(formats map[string]tenorFormat) string {
	for _, name := range preferredTenorFormats {
		if f, ok := formats[name]; ok && f.URL != "" {
			return f.URL
		}
	}
	for _, f := range formats {
		if f.URL != "" {
			return f.URL
		}
	}
	return ""
}
