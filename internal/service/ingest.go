package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timmy/gifengine/internal/domain"
	"github.com/timmy/gifengine/internal/logger"
	"github.com/timmy/gifengine/internal/metrics"
	"github.com/timmy/gifengine/internal/repository"
	"github.com/timmy/gifengine/internal/source"
	"github.com/timmy/gifengine/internal/vector"
	"gorm.io/gorm"
)

// ErrInvalidIngest is returned for requests missing a query or URL.
var ErrInvalidIngest = errors.New("ingest requires a query and a url")

const defaultIngestSource = "manual"

// IngestService records (query, url) pairs into the topic/media graph.
type IngestService struct {
	db        *gorm.DB
	embedder  Embedder
	matcher   *TopicMatcher
	mediaRepo *repository.MediaRepository
	queryRepo *repository.QueryLogRepository
	mirror    TopicMirror
	inspector *MediaInspector
	metrics   *metrics.Metrics
	logger    *logger.Logger
	workers   int
	batchSize int
	now       func() time.Time
}

// IngestConfig holds configuration for the ingest service
type IngestConfig struct {
	Workers   int
	BatchSize int
}

// NewIngestService creates a new ingest service. mirror, inspector and m may
// be nil.
func NewIngestService(
	db *gorm.DB,
	embedder Embedder,
	matcher *TopicMatcher,
	mediaRepo *repository.MediaRepository,
	queryRepo *repository.QueryLogRepository,
	mirror TopicMirror,
	inspector *MediaInspector,
	m *metrics.Metrics,
	log *logger.Logger,
	cfg *IngestConfig,
) *IngestService {
	workers, batchSize := 4, 50
	if cfg != nil {
		if cfg.Workers > 0 {
			workers = cfg.Workers
		}
		if cfg.BatchSize > 0 {
			batchSize = cfg.BatchSize
		}
	}
	return &IngestService{
		db:        db,
		embedder:  embedder,
		matcher:   matcher,
		mediaRepo: mediaRepo,
		queryRepo: queryRepo,
		mirror:    mirror,
		inspector: inspector,
		metrics:   m,
		logger:    log,
		workers:   workers,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *IngestService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// IngestRequest is one (query, url) pair to record.
type IngestRequest struct {
	Query    string                `json:"query"`
	URL      string                `json:"url"`
	Source   string                `json:"source"`
	NSFW     bool                  `json:"nsfw"`
	Metadata *domain.MediaMetadata `json:"metadata,omitempty"`
}

// IngestResult reports what an ingest changed.
type IngestResult struct {
	TopicID      uint   `json:"topic_id"`
	TopicCreated bool   `json:"topic_created"`
	TopicNSFW    bool   `json:"topic_nsfw"`
	MediaCreated bool   `json:"media_created"`
	URL          string `json:"url"`
}

// Ingest embeds the query, then in one transaction matches or creates the
// owning topic and inserts the media row. An existing URL is left untouched.
// The query-log append and index mirror run after commit and never fail the
// call. If the embedding is unavailable nothing is written and the returned
// error wraps ErrNoEmbedding.
func (s *IngestService) Ingest(ctx context.Context, req *IngestRequest) (*IngestResult, error) {
	query := strings.TrimSpace(req.Query)
	url := strings.TrimSpace(req.URL)
	if query == "" || url == "" {
		s.metrics.Ingest(metrics.ResultInvalid)
		return nil, ErrInvalidIngest
	}
	src := req.Source
	if src == "" {
		src = defaultIngestSource
	}
	start := time.Now()

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		if !errors.Is(err, ErrNoEmbedding) {
			err = fmt.Errorf("%w: %v", ErrNoEmbedding, err)
		}
		logger.CtxWarn(ctx, "Ingest abandoned, no embedding: query=%q, url=%s, error=%v", query, url, err)
		s.metrics.Ingest(metrics.ResultNoEmbedding)
		return nil, err
	}

	meta := req.Metadata
	if meta == nil && s.inspector != nil {
		meta = s.inspector.Inspect(ctx, url)
	}

	media := &domain.Media{
		URL:          url,
		Source:       src,
		LastVerified: s.now().Unix(),
		Dead:         false,
	}
	applyMetadata(media, meta)

	var (
		topic        *domain.Topic
		topicCreated bool
		mediaCreated bool
	)
	err = s.matcher.Serialize(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			topic, topicCreated, err = s.matcher.MatchOrCreate(ctx, tx, query, embedding, req.NSFW)
			if err != nil {
				return err
			}
			media.TopicID = topic.ID
			mediaCreated, err = s.mediaRepo.WithTx(tx).CreateIfAbsent(ctx, media)
			return err
		})
	})
	if err != nil {
		s.metrics.Ingest(metrics.ResultFailed)
		return nil, fmt.Errorf("failed to ingest %s: %w", url, err)
	}

	ctx = logger.WithField(ctx, logger.FieldTopicID, topic.ID)

	if err := s.queryRepo.Append(ctx, topic.ID, query); err != nil {
		logger.CtxWarn(ctx, "Failed to append query log: query=%q, error=%v", query, err)
	}

	if s.mirror != nil {
		if vec, err := vector.Decode(topic.Embedding); err == nil {
			if err := s.mirror.Upsert(ctx, topic, vec); err != nil {
				logger.CtxWarn(ctx, "Failed to mirror topic to index: error=%v", err)
			}
		}
	}

	result := metrics.ResultDuplicate
	if mediaCreated {
		result = metrics.ResultCreated
	}
	s.metrics.Ingest(result)
	logger.Timed(start).Result(result).Info(ctx, "Ingested: query=%q, url=%s, source=%s, topic_created=%v",
		query, url, src, topicCreated)

	return &IngestResult{
		TopicID:      topic.ID,
		TopicCreated: topicCreated,
		TopicNSFW:    topic.NSFW,
		MediaCreated: mediaCreated,
		URL:          url,
	}, nil
}

func applyMetadata(media *domain.Media, meta *domain.MediaMetadata) {
	if meta == nil {
		return
	}
	if meta.ContentType != "" {
		ct := meta.ContentType
		media.ContentType = &ct
	}
	if meta.Width > 0 {
		w := meta.Width
		media.Width = &w
	}
	if meta.Height > 0 {
		h := meta.Height
		media.Height = &h
	}
}

// IngestStats holds statistics for an ingestion run
type IngestStats struct {
	TotalItems     int64
	ProcessedItems int64
	CreatedItems   int64
	SkippedItems   int64
	FailedItems    int64
	StartTime      time.Time
	EndTime        time.Time
}

// IngestFromSource ingests up to limit items from src with a bounded pool of
// workers. Per-item failures are counted, not returned.
func (s *IngestService) IngestFromSource(ctx context.Context, src source.Source, limit int) (*IngestStats, error) {
	stats := &IngestStats{
		StartTime: time.Now(),
	}

	s.log(ctx).WithFields(logger.Fields{
		"source":  src.GetSourceID(),
		"limit":   limit,
		"workers": s.workers,
	}).Info("Starting ingestion")

	itemsChan := make(chan source.Item, s.workers*2)
	resultsChan := make(chan *processResult, s.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, src.GetSourceID(), itemsChan, resultsChan)
		}()
	}

	done := make(chan struct{})
	go func() {
		for result := range resultsChan {
			atomic.AddInt64(&stats.ProcessedItems, 1)
			switch {
			case result.err != nil:
				atomic.AddInt64(&stats.FailedItems, 1)
				s.log(ctx).WithFields(logger.Fields{
					"url": result.url,
				}).WithError(result.err).Error("Failed to process item")
			case result.created:
				atomic.AddInt64(&stats.CreatedItems, 1)
			default:
				atomic.AddInt64(&stats.SkippedItems, 1)
			}
		}
		close(done)
	}()

	var fetchErr error
	cursor := ""
	totalFetched := 0
fetch:
	for ctx.Err() == nil {
		batchLimit := s.batchSize
		if limit > 0 {
			remaining := limit - totalFetched
			if remaining <= 0 {
				break
			}
			if batchLimit > remaining {
				batchLimit = remaining
			}
		}

		items, nextCursor, err := src.FetchBatch(ctx, cursor, batchLimit)
		if err != nil {
			fetchErr = fmt.Errorf("failed to fetch batch: %w", err)
			break
		}
		if len(items) == 0 {
			break
		}

		atomic.AddInt64(&stats.TotalItems, int64(len(items)))
		totalFetched += len(items)

		for _, item := range items {
			select {
			case itemsChan <- item:
			case <-ctx.Done():
				break fetch
			}
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	close(itemsChan)
	wg.Wait()
	close(resultsChan)
	<-done

	stats.EndTime = time.Now()

	s.log(ctx).WithFields(logger.Fields{
		"total":     stats.TotalItems,
		"processed": stats.ProcessedItems,
		"created":   stats.CreatedItems,
		"skipped":   stats.SkippedItems,
		"failed":    stats.FailedItems,
		"duration":  stats.EndTime.Sub(stats.StartTime).String(),
	}).Info("Ingestion completed")

	return stats, fetchErr
}

type processResult struct {
	url     string
	created bool
	err     error
}

func (s *IngestService) worker(ctx context.Context, sourceID string, items <-chan source.Item, results chan<- *processResult) {
	for item := range items {
		if ctx.Err() != nil {
			return
		}
		src := item.Source
		if src == "" {
			src = sourceID
		}
		result := &processResult{url: item.URL}
		res, err := s.Ingest(ctx, &IngestRequest{
			Query:    item.Query,
			URL:      item.URL,
			Source:   src,
			NSFW:     item.NSFW,
			Metadata: item.Metadata,
		})
		if err != nil {
			result.err = err
		} else {
			result.created = res.MediaCreated
		}
		results <- result
	}
}
