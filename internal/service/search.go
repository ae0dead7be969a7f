package service

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/gifengine/internal/domain"
	"github.com/timmy/gifengine/internal/logger"
	"github.com/timmy/gifengine/internal/metrics"
	"github.com/timmy/gifengine/internal/repository"
)

// SearchConfig holds configuration for search service.
type SearchConfig struct {
	SimilarityThreshold float32
	MaxResults          int
	PreferExternal      bool
	CacheTTL            time.Duration
}

// ProviderSearcher is the external fallback chain.
type ProviderSearcher interface {
	Search(ctx context.Context, query string, allowNSFW bool) *domain.Candidate
}

// SearchService resolves a query to one media candidate.
//
// The default order is local topics, then the external cache, then the
// provider chain. With PreferExternal the two external steps run first.
type SearchService struct {
	embedder  Embedder
	index     TopicIndex
	mediaRepo *repository.MediaRepository
	cacheRepo *repository.ExternalCacheRepository
	providers ProviderSearcher
	ingest    *IngestService
	metrics   *metrics.Metrics
	logger    *logger.Logger
	cfg       SearchConfig
	now       func() time.Time
}

// NewSearchService creates a new search service.
// Parameters:
//   - embedder: query embedder.
//   - index: topic index used for local lookup.
//   - mediaRepo: repository for media rows.
//   - cacheRepo: external result cache.
//   - providers: external provider chain; nil disables the provider step.
//   - ingest: ingest service that records provider hits.
//   - m: metrics recorder, may be nil.
//   - log: logger instance.
//   - cfg: search configuration settings.
//
// Returns:
//   - *SearchService: initialized search service.
func NewSearchService(
	embedder Embedder,
	index TopicIndex,
	mediaRepo *repository.MediaRepository,
	cacheRepo *repository.ExternalCacheRepository,
	providers ProviderSearcher,
	ingest *IngestService,
	m *metrics.Metrics,
	log *logger.Logger,
	cfg *SearchConfig,
) *SearchService {
	s := &SearchService{
		embedder:  embedder,
		index:     index,
		mediaRepo: mediaRepo,
		cacheRepo: cacheRepo,
		providers: providers,
		ingest:    ingest,
		metrics:   m,
		logger:    log,
		now:       time.Now,
	}
	if cfg != nil {
		s.cfg = *cfg
	}
	if s.cfg.MaxResults <= 0 {
		s.cfg.MaxResults = 25
	}
	return s
}

// NormalizeQuery lowercases, trims and collapses inner whitespace. It is the
// key used by the external cache.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

type searchStep struct {
	path string
	run  func(ctx context.Context, query, normalized string, allowNSFW bool) *domain.Candidate
}

// Search returns a candidate for query that satisfies the content policy.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - query: free-text query.
//   - allowNSFW: whether nsfw candidates may be returned.
//
// Returns:
//   - *domain.Candidate: the result, or nil for a clean miss.
//   - error: only ctx.Err() when the search was cancelled.
func (s *SearchService) Search(ctx context.Context, query string, allowNSFW bool) (*domain.Candidate, error) {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldComponent: "search",
		logger.FieldSearchID:  uuid.New().String(),
	})

	normalized := NormalizeQuery(query)
	if normalized == "" {
		s.metrics.Search(metrics.PathMiss)
		return nil, nil
	}

	steps := []searchStep{
		{metrics.PathLocal, s.localLookup},
		{metrics.PathCache, s.cacheLookup},
		{metrics.PathProvider, s.providerFallback},
	}
	if s.cfg.PreferExternal {
		steps = []searchStep{steps[1], steps[2], steps[0]}
	}

	start := time.Now()
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cand := step.run(ctx, query, normalized, allowNSFW)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if cand != nil && cand.Allowed(allowNSFW) {
			s.metrics.Search(step.path)
			logger.Timed(start).Path(step.path).Info(ctx, "Search hit: query=%q, url=%s, nsfw=%v", query, cand.URL, cand.NSFW)
			return cand, nil
		}
	}

	s.metrics.Search(metrics.PathMiss)
	logger.Timed(start).Path(metrics.PathMiss).Info(ctx, "Search miss: query=%q, allow_nsfw=%v", query, allowNSFW)
	return nil, nil
}

// localLookup pools live media from the closest policy-compatible topics and
// picks one at random.
func (s *SearchService) localLookup(ctx context.Context, query, _ string, allowNSFW bool) *domain.Candidate {
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		logger.CtxWarn(ctx, "Skipping local lookup, no embedding: error=%v", err)
		return nil
	}

	topics, err := s.index.Similar(ctx, embedding, allowNSFW, s.cfg.SimilarityThreshold, s.cfg.MaxResults)
	if err != nil {
		logger.CtxWarn(ctx, "Local topic lookup failed: error=%v", err)
		return nil
	}
	if len(topics) == 0 {
		return nil
	}

	ids := make([]uint, len(topics))
	nsfwByTopic := make(map[uint]bool, len(topics))
	for i, t := range topics {
		ids[i] = t.ID
		nsfwByTopic[t.ID] = t.NSFW
	}

	media, err := s.mediaRepo.ListLiveByTopics(ctx, ids)
	if err != nil {
		logger.CtxWarn(ctx, "Local media lookup failed: error=%v", err)
		return nil
	}
	if len(media) == 0 {
		return nil
	}

	m := media[rand.IntN(len(media))]
	return &domain.Candidate{URL: m.URL, Source: m.Source, NSFW: nsfwByTopic[m.TopicID]}
}

func (s *SearchService) cacheLookup(ctx context.Context, _, normalized string, allowNSFW bool) *domain.Candidate {
	notBefore := s.now().Add(-s.cfg.CacheTTL).Unix()
	entry, err := s.cacheRepo.Lookup(ctx, normalized, allowNSFW, notBefore)
	if err != nil {
		logger.CtxWarn(ctx, "External cache lookup failed: error=%v", err)
		return nil
	}
	if entry == nil {
		return nil
	}
	return &domain.Candidate{URL: entry.URL, Source: entry.Source, NSFW: entry.NSFW}
}

// providerFallback asks the provider chain and records a hit in the cache
// and the topic/media graph before returning it.
func (s *SearchService) providerFallback(ctx context.Context, query, normalized string, allowNSFW bool) *domain.Candidate {
	if s.providers == nil {
		return nil
	}
	cand := s.providers.Search(ctx, query, allowNSFW)
	if cand == nil || !cand.Allowed(allowNSFW) {
		return nil
	}

	entry := &domain.ExternalCacheEntry{
		Source:    cand.Source,
		Query:     normalized,
		URL:       cand.URL,
		NSFW:      cand.NSFW,
		FetchedAt: s.now().Unix(),
	}
	if err := s.cacheRepo.Record(ctx, entry); err != nil {
		logger.CtxWarn(ctx, "Failed to record external result: url=%s, error=%v", cand.URL, err)
	}

	if s.ingest != nil {
		if _, err := s.ingest.Ingest(ctx, &IngestRequest{
			Query:  query,
			URL:    cand.URL,
			Source: cand.Source,
			NSFW:   cand.NSFW,
		}); err != nil {
			logger.CtxWarn(ctx, "Failed to ingest external result: url=%s, error=%v", cand.URL, err)
		}
	}
	return cand
}
