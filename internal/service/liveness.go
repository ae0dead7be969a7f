package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/gifengine/internal/logger"
	"github.com/timmy/gifengine/internal/metrics"
	"github.com/timmy/gifengine/internal/repository"
	"golang.org/x/sync/errgroup"
)

// ErrPassRunning is returned by RunPass while another pass is in flight.
var ErrPassRunning = errors.New("liveness pass already running")

// LivenessConfig holds configuration for the liveness verifier.
type LivenessConfig struct {
	StaleAfter time.Duration
	Interval   time.Duration
	BatchSize  int
	BatchPause time.Duration
}

// VerifyStats summarises one verification pass.
type VerifyStats struct {
	PassID       string    `json:"pass_id"`
	Stale        int       `json:"stale"`
	Checked      int64     `json:"checked"`
	Alive        int64     `json:"alive"`
	Dead         int64     `json:"dead"`
	UpdateFailed int64     `json:"update_failed"`
	Cancelled    bool      `json:"cancelled"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
}

// LivenessService re-checks stored media URLs and flips their dead flag.
//
// Stale rows are processed oldest first in fixed-size batches. Checks in a
// batch run concurrently and each row is written back on its own, so one
// failure never affects its siblings. BatchPause is slept after a batch has
// finished, however long the batch took.
// Abandoning a pass midway leaves every finished row updated and the rest
// stale for the next pass.
type LivenessService struct {
	mediaRepo *repository.MediaRepository
	checker   URLChecker
	metrics   *metrics.Metrics
	logger    *logger.Logger
	cfg       LivenessConfig
	now       func() time.Time

	running atomic.Bool
	mu      sync.Mutex
	last    *VerifyStats

	baseCtx context.Context
	stop    context.CancelFunc
}

// NewLivenessService creates a new liveness verifier.
func NewLivenessService(mediaRepo *repository.MediaRepository, checker URLChecker, m *metrics.Metrics, log *logger.Logger, cfg *LivenessConfig) *LivenessService {
	c := LivenessConfig{
		StaleAfter: 14 * 24 * time.Hour,
		Interval:   12 * time.Hour,
		BatchSize:  20,
		BatchPause: time.Second,
	}
	if cfg != nil {
		if cfg.StaleAfter > 0 {
			c.StaleAfter = cfg.StaleAfter
		}
		if cfg.Interval > 0 {
			c.Interval = cfg.Interval
		}
		if cfg.BatchSize > 0 {
			c.BatchSize = cfg.BatchSize
		}
		if cfg.BatchPause >= 0 {
			c.BatchPause = cfg.BatchPause
		}
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &LivenessService{
		mediaRepo: mediaRepo,
		checker:   checker,
		metrics:   m,
		logger:    log,
		cfg:       c,
		now:       time.Now,
		baseCtx:   baseCtx,
		stop:      stop,
	}
}

// Running reports whether a pass is in flight.
func (s *LivenessService) Running() bool {
	return s.running.Load()
}

// LastPass returns a copy of the most recent pass summary, or nil.
func (s *LivenessService) LastPass() *VerifyStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	last := *s.last
	return &last
}

// Schedule starts a pass in the background and returns immediately. It
// reports false, doing nothing, when a pass is already in flight.
func (s *LivenessService) Schedule() bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer s.running.Store(false)
		if _, err := s.pass(s.baseCtx); err != nil {
			logger.Warn("Scheduled liveness pass ended early: error=%v", err)
		}
	}()
	return true
}

// Stop cancels scheduled passes.
func (s *LivenessService) Stop() {
	s.stop()
}

// Run runs a pass immediately and then every Interval until ctx is done.
func (s *LivenessService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunPass(ctx); err != nil && !errors.Is(err, ErrPassRunning) && ctx.Err() == nil {
			logger.Error("Liveness pass failed: error=%v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunPass verifies every stale live row once.
func (s *LivenessService) RunPass(ctx context.Context) (*VerifyStats, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrPassRunning
	}
	defer s.running.Store(false)
	return s.pass(ctx)
}

// pass runs one verification pass. The caller holds the running flag.
func (s *LivenessService) pass(ctx context.Context) (*VerifyStats, error) {
	stats := &VerifyStats{PassID: uuid.New().String(), StartTime: time.Now()}
	ctx = logger.SetPassID(ctx, stats.PassID)
	ctx = logger.SetComponent(ctx, "liveness")

	err := s.verifyStale(ctx, stats)
	stats.EndTime = time.Now()
	stats.Cancelled = ctx.Err() != nil

	s.mu.Lock()
	s.last = stats
	s.mu.Unlock()

	if stats.Stale > 0 {
		s.metrics.LivenessPass(stats.EndTime.Sub(stats.StartTime).Seconds())
		logger.Timed(stats.StartTime).Count(stats.Checked).Info(ctx, "Liveness pass finished: stale=%d, alive=%d, dead=%d, update_failed=%d, cancelled=%v",
			stats.Stale, stats.Alive, stats.Dead, stats.UpdateFailed, stats.Cancelled)
	}
	return stats, err
}

func (s *LivenessService) verifyStale(ctx context.Context, stats *VerifyStats) error {
	cutoff := s.now().Add(-s.cfg.StaleAfter).Unix()
	rows, err := s.mediaRepo.ListStale(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list stale media: %w", err)
	}
	stats.Stale = len(rows)
	if len(rows) == 0 {
		return nil
	}
	logger.CtxInfo(ctx, "Liveness pass started: stale=%d, batch_size=%d", len(rows), s.cfg.BatchSize)

	for start := 0; start < len(rows); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(rows))
		var g errgroup.Group
		for _, row := range rows[start:end] {
			g.Go(func() error {
				alive := s.checker.Check(ctx, row.URL)
				if ctx.Err() != nil {
					return nil
				}
				atomic.AddInt64(&stats.Checked, 1)
				if alive {
					atomic.AddInt64(&stats.Alive, 1)
					s.metrics.LivenessCheck(metrics.ResultAlive)
				} else {
					atomic.AddInt64(&stats.Dead, 1)
					s.metrics.LivenessCheck(metrics.ResultDead)
				}
				if err := s.mediaRepo.UpdateLiveness(ctx, row.ID, !alive, s.now().Unix()); err != nil {
					atomic.AddInt64(&stats.UpdateFailed, 1)
					s.metrics.LivenessCheck(metrics.ResultError)
					logger.CtxWarn(ctx, "Failed to write liveness: media_id=%d, error=%v", row.ID, err)
				}
				return nil
			})
		}
		_ = g.Wait()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if end < len(rows) {
			if err := s.pause(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *LivenessService) pause(ctx context.Context) error {
	if s.cfg.BatchPause <= 0 {
		return nil
	}
	timer := time.NewTimer(s.cfg.BatchPause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
