package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/gifengine/internal/domain"
	"github.com/timmy/gifengine/internal/logger"
)

func newCheckServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/alive.gif":
			w.WriteHeader(http.StatusOK)
		case "/gone.gif":
			w.WriteHeader(http.StatusNotFound)
		case "/nohead.gif":
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			assert.Equal(t, "bytes=0-0", r.Header.Get("Range"))
			w.WriteHeader(http.StatusPartialContent)
		case "/slow.gif":
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func seedMedia(t *testing.T, env *testEnv, url string, lastVerified int64, dead bool) *domain.Media {
	t.Helper()
	ctx := context.Background()
	topic := &domain.Topic{Canonical: url}
	require.NoError(t, env.topics.Create(ctx, topic))
	m := &domain.Media{TopicID: topic.ID, URL: url, Source: "test", LastVerified: lastVerified, Dead: dead}
	created, err := env.media.CreateIfAbsent(ctx, m)
	require.NoError(t, err)
	require.True(t, created)
	got, err := env.media.GetByURL(ctx, url)
	require.NoError(t, err)
	return got
}

func newTestLiveness(env *testEnv, checker URLChecker, batchSize int) *LivenessService {
	return NewLivenessService(env.media, checker, nil, logger.GetDefault(), &LivenessConfig{
		StaleAfter: 24 * time.Hour,
		Interval:   time.Hour,
		BatchSize:  batchSize,
		BatchPause: time.Millisecond,
	})
}

func TestLiveness_RunPassUpdatesEachRow(t *testing.T) {
	env := newTestEnv(t)
	srv := newCheckServer(t)
	old := time.Now().Add(-48 * time.Hour).Unix()

	alive := seedMedia(t, env, srv.URL+"/alive.gif", old, false)
	gone := seedMedia(t, env, srv.URL+"/gone.gif", old, false)
	nohead := seedMedia(t, env, srv.URL+"/nohead.gif", old, false)
	slow := seedMedia(t, env, srv.URL+"/slow.gif", old, false)
	fresh := seedMedia(t, env, srv.URL+"/gone.gif?fresh", time.Now().Unix(), false)
	alreadyDead := seedMedia(t, env, srv.URL+"/alive.gif?dead", old, true)

	svc := newTestLiveness(env, NewHTTPChecker(300*time.Millisecond, "test"), 2)
	stats, err := svc.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Stale)
	assert.EqualValues(t, 4, stats.Checked)
	assert.EqualValues(t, 2, stats.Alive)
	assert.EqualValues(t, 2, stats.Dead)
	assert.Zero(t, stats.UpdateFailed)

	ctx := context.Background()
	check := func(url string, wantDead bool, wantRefreshed bool, before int64) {
		m, err := env.media.GetByURL(ctx, url)
		require.NoError(t, err)
		assert.Equal(t, wantDead, m.Dead, url)
		if wantRefreshed {
			assert.Greater(t, m.LastVerified, before, url)
		} else {
			assert.Equal(t, before, m.LastVerified, url)
		}
	}
	check(alive.URL, false, true, old)
	check(gone.URL, true, true, old)
	check(nohead.URL, false, true, old)
	check(slow.URL, true, true, old)
	check(fresh.URL, false, false, fresh.LastVerified)
	check(alreadyDead.URL, true, false, old)

	last := svc.LastPass()
	require.NotNil(t, last)
	assert.Equal(t, stats.PassID, last.PassID)
}

func TestLiveness_NoStaleRowsIsNoop(t *testing.T) {
	env := newTestEnv(t)
	seedMedia(t, env, "https://x/fresh.gif", time.Now().Unix(), false)

	checker := &countingChecker{}
	stats, err := newTestLiveness(env, checker, 20).RunPass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Stale)
	assert.Zero(t, checker.count())
}

func TestLiveness_RejectsConcurrentPass(t *testing.T) {
	env := newTestEnv(t)
	seedMedia(t, env, "https://x/a.gif", 1, false)

	release := make(chan struct{})
	checker := &countingChecker{block: release}
	svc := newTestLiveness(env, checker, 20)

	assert.True(t, svc.Schedule())
	require.Eventually(t, func() bool { return checker.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, svc.Running())
	assert.False(t, svc.Schedule())
	_, err := svc.RunPass(context.Background())
	assert.ErrorIs(t, err, ErrPassRunning)

	close(release)
	require.Eventually(t, func() bool { return !svc.Running() }, 2*time.Second, 5*time.Millisecond)
	require.NotNil(t, svc.LastPass())
	assert.EqualValues(t, 1, svc.LastPass().Alive)
}

func TestLiveness_ConcurrentScheduleClaimsOnePass(t *testing.T) {
	env := newTestEnv(t)
	seedMedia(t, env, "https://x/a.gif", 1, false)

	release := make(chan struct{})
	checker := &countingChecker{block: release}
	svc := newTestLiveness(env, checker, 20)

	var scheduled atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if svc.Schedule() {
				scheduled.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, scheduled.Load())
	assert.True(t, svc.Running(), "a scheduled pass holds the running flag before Schedule returns")

	close(release)
	require.Eventually(t, func() bool { return !svc.Running() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, checker.count())
	require.NotNil(t, svc.LastPass())
}

func TestLiveness_PausesAfterEachBatch(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		seedMedia(t, env, fmt.Sprintf("https://x/%d.gif", i), 1, false)
	}

	checker := &timedChecker{delay: 40 * time.Millisecond}
	svc := NewLivenessService(env.media, checker, nil, logger.GetDefault(), &LivenessConfig{
		StaleAfter: 24 * time.Hour,
		BatchSize:  1,
		BatchPause: 60 * time.Millisecond,
	})

	stats, err := svc.RunPass(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Checked)

	starts := checker.startTimes()
	require.Len(t, starts, 3)
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), 100*time.Millisecond,
			"batch %d started before the previous batch plus the pause", i)
	}
}

func TestLiveness_CancelDuringPause(t *testing.T) {
	env := newTestEnv(t)
	seedMedia(t, env, "https://x/1.gif", 1, false)
	seedMedia(t, env, "https://x/2.gif", 2, false)

	svc := NewLivenessService(env.media, &countingChecker{}, nil, logger.GetDefault(), &LivenessConfig{
		StaleAfter: 24 * time.Hour,
		BatchSize:  1,
		BatchPause: time.Hour,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	stats, err := svc.RunPass(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, stats.Cancelled)
	assert.EqualValues(t, 1, stats.Checked)
}

func TestLiveness_CancelledPassLeavesRowsStale(t *testing.T) {
	env := newTestEnv(t)
	for _, url := range []string{"https://x/1.gif", "https://x/2.gif", "https://x/3.gif"} {
		seedMedia(t, env, url, 1, false)
	}

	ctx, cancel := context.WithCancel(context.Background())
	checker := &countingChecker{onCheck: func() { cancel() }}
	svc := newTestLiveness(env, checker, 1)

	stats, err := svc.RunPass(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, stats.Cancelled)

	stale, err := env.media.ListStale(context.Background(), time.Now().Add(-time.Hour).Unix())
	require.NoError(t, err)
	assert.Len(t, stale, 3)
}

func TestLiveness_RunStopsWithContext(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestLiveness(env, &countingChecker{}, 20)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return svc.LastPass() != nil }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// countingChecker reports every URL alive.
type countingChecker struct {
	mu      sync.Mutex
	n       int
	block   chan struct{}
	onCheck func()
}

func (p *countingChecker) Check(ctx context.Context, url string) bool {
	p.mu.Lock()
	p.n++
	hook := p.onCheck
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	if p.block != nil {
		<-p.block
	}
	return true
}

func (p *countingChecker) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

// timedChecker records when each check starts and takes delay to answer.
type timedChecker struct {
	mu     sync.Mutex
	delay  time.Duration
	starts []time.Time
}

func (p *timedChecker) Check(ctx context.Context, url string) bool {
	p.mu.Lock()
	p.starts = append(p.starts, time.Now())
	p.mu.Unlock()
	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
	}
	return true
}

func (p *timedChecker) startTimes() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.starts...)
}
