package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/gifengine/internal/domain"
	"github.com/timmy/gifengine/internal/metrics"
)

type stubProvider struct {
	name    string
	enabled bool
	result  *domain.Candidate
	calls   atomic.Int32
}

func (s *stubProvider) Name() string  { return s.name }
func (s *stubProvider) Enabled() bool { return s.enabled }
func (s *stubProvider) Search(ctx context.Context, query string, allowNSFW bool) *domain.Candidate {
	s.calls.Add(1)
	return s.result
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestRegistry_OrderAndFallthrough(t *testing.T) {
	a := &stubProvider{name: "a", enabled: true}
	b := &stubProvider{name: "b", enabled: false, result: &domain.Candidate{URL: "http://b"}}
	c := &stubProvider{name: "c", enabled: true, result: &domain.Candidate{URL: "http://c", Source: "c"}}
	d := &stubProvider{name: "d", enabled: true, result: &domain.Candidate{URL: "http://d"}}

	r := NewRegistry([]string{"a", "b", "missing", "c", "a", "d"}, []Provider{d, c, b, a}, metrics.New())
	assert.Equal(t, []string{"a", "b", "c", "d"}, r.Order())
	assert.Equal(t, []string{"a", "c", "d"}, r.Enabled())

	got := r.Search(context.Background(), "cat", false)
	require.NotNil(t, got)
	assert.Equal(t, "http://c", got.URL)
	assert.EqualValues(t, 1, a.calls.Load())
	assert.EqualValues(t, 0, b.calls.Load())
	assert.EqualValues(t, 0, d.calls.Load())
}

func TestRegistry_DefaultOrder(t *testing.T) {
	var available []Provider
	for _, name := range []string{"tenor", "giphy", "nekos", "e621"} {
		available = append(available, &stubProvider{name: name})
	}
	r := NewRegistry(nil, available, nil)
	assert.Equal(t, DefaultOrder, r.Order())
	assert.Nil(t, r.Search(context.Background(), "cat", true))
}

func TestRegistry_DiscardsNSFWForSFWRequest(t *testing.T) {
	bad := &stubProvider{name: "bad", enabled: true, result: &domain.Candidate{URL: "http://x", NSFW: true}}
	good := &stubProvider{name: "good", enabled: true, result: &domain.Candidate{URL: "http://ok"}}
	r := NewRegistry([]string{"bad", "good"}, []Provider{bad, good}, nil)

	got := r.Search(context.Background(), "q", false)
	require.NotNil(t, got)
	assert.Equal(t, "http://ok", got.URL)

	got = r.Search(context.Background(), "q", true)
	require.NotNil(t, got)
	assert.Equal(t, "http://x", got.URL)
}

func TestRegistry_StopsOnCancelledContext(t *testing.T) {
	a := &stubProvider{name: "a", enabled: true, result: &domain.Candidate{URL: "http://a"}}
	r := NewRegistry([]string{"a"}, []Provider{a}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Nil(t, r.Search(ctx, "q", true))
	assert.EqualValues(t, 0, a.calls.Load())
}

func TestE621_FiltersExplicitForSFW(t *testing.T) {
	var gotAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/posts.json", r.URL.Path)
		assert.Equal(t, "cat", r.URL.Query().Get("tags"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "test-agent", r.UserAgent())
		_, _, gotAuth = r.BasicAuth()
		writeJSON(w, map[string]interface{}{
			"posts": []map[string]interface{}{
				{"file": map[string]string{"url": "http://e621/explicit.gif"}, "rating": "e"},
				{"file": map[string]string{"url": "http://e621/safe.gif"}, "rating": "s"},
				{"file": map[string]string{"url": ""}, "rating": "s"},
			},
		})
	}))
	defer srv.Close()

	p := NewE621(E621Config{Enabled: true, Username: "u", APIKey: "k", UserAgent: "test-agent", BaseURL: srv.URL, Timeout: time.Second, RequestsPerSecond: 1000})
	for i := 0; i < 10; i++ {
		got := p.Search(context.Background(), "cat", false)
		require.NotNil(t, got)
		assert.Equal(t, "http://e621/safe.gif", got.URL)
		assert.False(t, got.NSFW)
		assert.Equal(t, "e621", got.Source)
	}
	assert.True(t, gotAuth)
}

func TestE621_ExplicitOnlyAllowedWhenNSFW(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"posts": []map[string]interface{}{
				{"file": map[string]string{"url": "http://e621/explicit.gif"}, "rating": "e"},
			},
		})
	}))
	defer srv.Close()

	p := NewE621(E621Config{Enabled: true, APIKey: "k", BaseURL: srv.URL, Timeout: time.Second, RequestsPerSecond: 1000})
	assert.Nil(t, p.Search(context.Background(), "cat", false))
	got := p.Search(context.Background(), "cat", true)
	require.NotNil(t, got)
	assert.True(t, got.NSFW)
}

func TestE621_RateLimitSkipsWhenNoTokenBeforeDeadline(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, map[string]interface{}{
			"posts": []map[string]interface{}{
				{"file": map[string]string{"url": "http://e621/safe.gif"}, "rating": "s"},
			},
		})
	}))
	defer srv.Close()

	p := NewE621(E621Config{Enabled: true, APIKey: "k", BaseURL: srv.URL, Timeout: time.Second, RequestsPerSecond: 0.01})
	require.NotNil(t, p.Search(context.Background(), "cat", false))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Nil(t, p.Search(ctx, "cat", false))
	assert.EqualValues(t, 1, hits.Load())
}

func TestE621_DisabledWithoutKey(t *testing.T) {
	p := NewE621(E621Config{Enabled: true, BaseURL: "http://127.0.0.1:1"})
	assert.False(t, p.Enabled())
	assert.Nil(t, p.Search(context.Background(), "cat", true))
}

func TestGiphy_RatingFilterAndFallbackImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/gifs/search", r.URL.Path)
		assert.Equal(t, "key", r.URL.Query().Get("api_key"))
		if r.URL.Query().Get("rating") == "pg-13" {
			writeJSON(w, map[string]interface{}{
				"data": []map[string]interface{}{
					{"rating": "g", "images": map[string]interface{}{"downsized": map[string]string{"url": "http://giphy/small.gif"}}},
				},
			})
			return
		}
		writeJSON(w, map[string]interface{}{
			"data": []map[string]interface{}{
				{"rating": "r", "images": map[string]interface{}{"original": map[string]string{"url": "http://giphy/r.gif"}}},
			},
		})
	}))
	defer srv.Close()

	p := NewGiphy(GiphyConfig{Enabled: true, APIKey: "key", BaseURL: srv.URL, Timeout: time.Second})

	got := p.Search(context.Background(), "wave", false)
	require.NotNil(t, got)
	assert.Equal(t, "http://giphy/small.gif", got.URL)
	assert.False(t, got.NSFW)

	got = p.Search(context.Background(), "wave", true)
	require.NotNil(t, got)
	assert.Equal(t, "http://giphy/r.gif", got.URL)
	assert.True(t, got.NSFW)
}

func TestGiphy_ServerErrorIsMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewGiphy(GiphyConfig{Enabled: true, APIKey: "key", BaseURL: srv.URL, Timeout: time.Second})
	assert.Nil(t, p.Search(context.Background(), "wave", true))
}

func TestTenor_ContentFilterAndFormats(t *testing.T) {
	var filters []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/search", r.URL.Path)
		filters = append(filters, r.URL.Query().Get("contentfilter"))
		writeJSON(w, map[string]interface{}{
			"results": []map[string]interface{}{
				{"media": []map[string]interface{}{{"tinygif": map[string]string{"url": "http://tenor/tiny.gif"}, "mediumgif": map[string]string{"url": "http://tenor/medium.gif"}}}},
			},
		})
	}))
	defer srv.Close()

	p := NewTenor(TenorConfig{Enabled: true, APIKey: "key", BaseURL: srv.URL, Timeout: time.Second})
	got := p.Search(context.Background(), "dance", false)
	require.NotNil(t, got)
	assert.Equal(t, "http://tenor/medium.gif", got.URL)
	assert.Equal(t, "tenor", got.Source)

	_ = p.Search(context.Background(), "dance", true)
	assert.Equal(t, []string{"high", "low"}, filters)
}

func TestNekos_FallsBackToBest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/img/pat":
			w.WriteHeader(http.StatusNotFound)
		case "/api/v2/pat":
			writeJSON(w, map[string]interface{}{"results": []map[string]string{{"url": "http://best/pat.gif"}}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewNekos(NekosConfig{Enabled: true, Endpoints: []string{"pat"}, LifeBaseURL: srv.URL, BestBaseURL: srv.URL, Timeout: time.Second})
	got := p.Search(context.Background(), "head pat", false)
	require.NotNil(t, got)
	assert.Equal(t, "http://best/pat.gif", got.URL)
	assert.Equal(t, "nekos.best:pat", got.Source)
	assert.False(t, got.NSFW)
}

func TestNekos_PrefersLife(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/img/hug" {
			writeJSON(w, map[string]string{"url": "http://life/hug.gif"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewNekos(NekosConfig{Enabled: true, Endpoints: []string{"hug"}, LifeBaseURL: srv.URL, BestBaseURL: srv.URL, Timeout: time.Second})
	got := p.Search(context.Background(), "anything", true)
	require.NotNil(t, got)
	assert.Equal(t, "nekos:hug", got.Source)
}

func TestEndpointOrder_QueryWordsFirst(t *testing.T) {
	for i := 0; i < 10; i++ {
		order := endpointOrder([]string{"hug", "pat", "smug", " "}, "Smug face")
		require.Len(t, order, 3)
		assert.Equal(t, "smug", order[0])
		assert.ElementsMatch(t, []string{"hug", "pat"}, order[1:])
	}
}
