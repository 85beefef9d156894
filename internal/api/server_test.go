package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-coordinator/internal/clock"
	"github.com/JakeFAU/crawl-coordinator/internal/config"
	"github.com/JakeFAU/crawl-coordinator/internal/crawler"
	"github.com/JakeFAU/crawl-coordinator/internal/dispatcher"
	queueMemory "github.com/JakeFAU/crawl-coordinator/internal/queue/memory"
	"github.com/JakeFAU/crawl-coordinator/internal/storage/memory"
)

var testStart = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	server *Server
	ledger *memory.Ledger
	claims *memory.Claims
	queue  *queueMemory.Queue
}

func newTestEnv(t *testing.T, cfg config.Config, ids ...string) *testEnv {
	t.Helper()
	if len(ids) == 0 {
		ids = []string{"aB3xYz"}
	}
	env := &testEnv{
		ledger: memory.NewLedger(),
		claims: memory.NewClaims(),
		queue:  queueMemory.NewQueue(0),
	}
	dispatch := dispatcher.New(env.queue, nil, crawler.RetryPolicy{})
	env.server = NewServer(env.ledger, env.claims, dispatch, &fakeIDGen{ids: ids}, clock.NewManual(testStart), cfg, zap.NewNop())
	return env
}

func defaultConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 5},
		Limits: config.LimitsConfig{MaxDistance: 10, MaxSeconds: 3600, MaxURLs: 1000},
	}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) nextTask(t *testing.T) crawler.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := e.queue.Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Ack(ctx))
	return d.Task()
}

func TestServer_SubmitCrawl_Succeeds(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultConfig())
	rec := env.do(http.MethodPost, "/v1/crawls",
		`{"url":"example.com","maxDistance":1,"maxUrls":10,"maxSeconds":300}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"crawlId":"aB3xYz"}`, rec.Body.String())

	job, err := env.ledger.Read(context.Background(), "aB3xYz")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/", job.RootURL)
	require.Equal(t, "example.com", job.ScopeDomain)
	require.Equal(t, crawler.JobStatusActive, job.Status)
	require.Equal(t, crawler.StopReasonNone, job.StopReason)
	require.Zero(t, job.NumPages)
	require.Equal(t, testStart, job.StartTime)
	require.True(t, env.claims.Claimed("aB3xYz", "https://example.com/"))

	task := env.nextTask(t)
	require.Equal(t, crawler.Task{
		CrawlID:  "aB3xYz",
		URL:      "https://example.com/",
		Distance: 0,
		Limits:   crawler.Limits{MaxDistance: 1, MaxSeconds: 300, MaxURLs: 10},
	}, task)
}

func TestServer_SubmitCrawl_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "invalid json", body: `{invalid`, want: "invalid JSON"},
		{name: "missing url", body: `{"maxDistance":1,"maxUrls":10,"maxSeconds":300}`, want: "url is required"},
		{name: "missing limit", body: `{"url":"example.com","maxDistance":1,"maxSeconds":300}`, want: "maxUrls is required"},
		{name: "zero seconds", body: `{"url":"example.com","maxDistance":1,"maxUrls":10,"maxSeconds":0}`, want: "maxSeconds"},
		{name: "negative distance", body: `{"url":"example.com","maxDistance":-1,"maxUrls":10,"maxSeconds":60}`, want: "maxDistance"},
		{name: "unsupported scheme", body: `{"url":"ftp://example.com","maxDistance":1,"maxUrls":10,"maxSeconds":60}`, want: "invalid request"},
		{name: "over cap", body: `{"url":"example.com","maxDistance":1,"maxUrls":5000,"maxSeconds":60}`, want: "maxUrls exceeds 1000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, defaultConfig())
			rec := env.do(http.MethodPost, "/v1/crawls", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tc.want)
			_, err := env.ledger.Read(context.Background(), "aB3xYz")
			require.ErrorIs(t, err, crawler.ErrJobNotFound)
			require.Zero(t, env.queue.Len())
		})
	}
}

func TestServer_SubmitCrawl_RegeneratesCollidingID(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultConfig(), "taken1", "fresh1")
	require.NoError(t, env.ledger.Create(context.Background(),
		crawler.NewJob("taken1", "https://other.com/", "other.com", crawler.Limits{MaxSeconds: 1, MaxURLs: 1}, testStart)))

	rec := env.do(http.MethodPost, "/v1/crawls", `{"url":"https://example.com","maxDistance":0,"maxUrls":1,"maxSeconds":60}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"crawlId":"fresh1"}`, rec.Body.String())

	taken, err := env.ledger.Read(context.Background(), "taken1")
	require.NoError(t, err)
	require.Equal(t, "https://other.com/", taken.RootURL)
}

func TestServer_SubmitCrawl_FrontierClosed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultConfig())
	env.queue.Close()
	rec := env.do(http.MethodPost, "/v1/crawls", `{"url":"example.com","maxDistance":1,"maxUrls":10,"maxSeconds":60}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"error":"frontier unavailable"}`, rec.Body.String())

	// The job whose root never reached the frontier is gone.
	_, err := env.ledger.Read(context.Background(), "aB3xYz")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
}

func TestServer_SubmitCrawl_ClaimFailureRollsBack(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.Worker = config.WorkerConfig{MaxRetries: 2, BackoffInitialMs: 1, BackoffMaxMs: 1}
	ledger := memory.NewLedger()
	queue := queueMemory.NewQueue(0)
	gate := &failingGate{err: errors.New("redis: connection refused")}
	server := NewServer(ledger, gate, dispatcher.New(queue, nil, crawler.RetryPolicy{}),
		&fakeIDGen{ids: []string{"aB3xYz"}}, clock.NewManual(testStart), cfg, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/crawls",
		bytes.NewBufferString(`{"url":"example.com","maxDistance":1,"maxUrls":10,"maxSeconds":60}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	require.NotContains(t, rec.Body.String(), "connection refused")
	require.Equal(t, 3, gate.calls())
	_, err := ledger.Read(context.Background(), "aB3xYz")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
	require.Zero(t, queue.Len())
}

func TestServer_GetStatus(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultConfig())
	rec := env.do(http.MethodPost, "/v1/crawls", `{"url":"example.com","maxDistance":2,"maxUrls":10,"maxSeconds":300}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	ctx := context.Background()
	_, err := env.ledger.IncrementPages(ctx, "aB3xYz")
	require.NoError(t, err)
	require.NoError(t, env.ledger.ObserveDistance(ctx, "aB3xYz", 1))

	rec = env.do(http.MethodGet, "/v1/crawls/aB3xYz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got crawler.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "aB3xYz", got.CrawlID)
	require.Equal(t, 1, got.Distance)
	require.Equal(t, uint64(1), got.NumPages)
	require.Equal(t, crawler.StopReasonNone, got.StopReason)
	require.Equal(t, crawler.JobStatusActive, got.Status)
	require.True(t, got.StartTime.Equal(testStart))
}

func TestServer_GetStatus_NotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultConfig())
	rec := env.do(http.MethodGet, "/v1/crawls/nope00", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"error":"no such job"}`, rec.Body.String())
}

func TestServer_InjectTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultConfig())
	rec := env.do(http.MethodPost, "/v1/crawls", `{"url":"example.com","maxDistance":3,"maxUrls":10,"maxSeconds":300}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	env.nextTask(t)

	rec = env.do(http.MethodPost, "/v1/crawls/aB3xYz/tasks",
		`{"url":"example.com/deep","distance":2,"maxDistance":3,"maxUrls":10,"maxSeconds":300}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	task := env.nextTask(t)
	require.Equal(t, "aB3xYz", task.CrawlID)
	require.Equal(t, "https://example.com/deep", task.URL)
	require.Equal(t, 2, task.Distance)
	require.Equal(t, 3, task.MaxDistance)

	job, err := env.ledger.Read(context.Background(), "aB3xYz")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/", job.RootURL)
	require.True(t, env.claims.Claimed("aB3xYz", "https://example.com/deep"))
}

func TestServer_InjectTask_ClaimedURL(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultConfig())
	rec := env.do(http.MethodPost, "/v1/crawls", `{"url":"example.com","maxDistance":3,"maxUrls":10,"maxSeconds":300}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	env.nextTask(t)

	// The root is already claimed, so a plain injection is refused.
	rec = env.do(http.MethodPost, "/v1/crawls/aB3xYz/tasks",
		`{"url":"example.com","distance":0,"maxDistance":3,"maxUrls":10,"maxSeconds":300}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.JSONEq(t, `{"error":"url already claimed"}`, rec.Body.String())
	require.Zero(t, env.queue.Len())

	rec = env.do(http.MethodPost, "/v1/crawls/aB3xYz/tasks",
		`{"url":"example.com","distance":0,"force":true,"maxDistance":3,"maxUrls":10,"maxSeconds":300}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	task := env.nextTask(t)
	require.Equal(t, "https://example.com/", task.URL)
}

func TestServer_InjectTask_FrontierClosed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultConfig())
	require.NoError(t, env.ledger.Create(context.Background(),
		crawler.NewJob("aB3xYz", "https://example.com/", "example.com", crawler.Limits{MaxSeconds: 60, MaxURLs: 10}, testStart)))
	env.queue.Close()

	rec := env.do(http.MethodPost, "/v1/crawls/aB3xYz/tasks",
		`{"url":"example.com/a","distance":1,"maxDistance":3,"maxUrls":10,"maxSeconds":300}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"error":"frontier unavailable"}`, rec.Body.String())
}

func TestServer_InjectTask_Errors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultConfig())
	rec := env.do(http.MethodPost, "/v1/crawls/nope00/tasks",
		`{"url":"example.com","distance":0,"maxDistance":1,"maxUrls":10,"maxSeconds":300}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost, "/v1/crawls/nope00/tasks", `{"url":"example.com","maxDistance":1,"maxUrls":10,"maxSeconds":300}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "distance is required")
	require.Zero(t, env.queue.Len())
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	env := newTestEnv(t, cfg)

	rec := env.do(http.MethodGet, "/v1/crawls/any", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/crawls/any", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultConfig())
	rec := env.do(http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "caller-supplied", rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultConfig())
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/readyz", "").Code)

	failing := NewServer(env.ledger, env.claims, nil, &fakeIDGen{}, clock.NewSystem(), defaultConfig(), zap.NewNop(),
		func(context.Context) error { return errors.New("redis down") })
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	failing.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultConfig())
	env.do(http.MethodGet, "/healthz", "")
	rec := env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

type failingGate struct {
	mu    sync.Mutex
	err   error
	count int
}

func (g *failingGate) Admit(context.Context, string, string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count++
	return false, g.err
}

func (g *failingGate) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "", errors.New("no ids left")
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}
