package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-coordinator/internal/config"
	"github.com/JakeFAU/crawl-coordinator/internal/crawler"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 0, RequestTimeoutSeconds: 5},
		Logging:  config.LoggingConfig{Level: "error"},
		Worker:   config.WorkerConfig{Concurrency: 1, MaxRetries: 1, BackoffInitialMs: 1, BackoffMaxMs: 5},
		Frontier: config.FrontierConfig{Backend: config.BackendMemory},
		Store:    config.StoreConfig{Backend: config.BackendMemory},
		Fetcher:  config.FetcherConfig{UserAgent: "coordinator-test", TimeoutSeconds: 5},
		Limits:   config.LimitsConfig{MaxDistance: 10, MaxSeconds: 3600, MaxURLs: 1000},
	}
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/a">a</a><a href="/b">b</a><a href="https://elsewhere.test/">x</a></body></html>`)
	})
	for _, path := range []string{"/a", "/b"} {
		mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><body><a href="/">home</a></body></html>`)
		})
	}
	site := httptest.NewServer(mux)
	t.Cleanup(site.Close)
	return site
}

func TestAppCrawlsUntilMaxURLs(t *testing.T) {
	site := newSite(t)
	app, err := Build(context.Background(), testConfig(), ModeAll)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.dispatch.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		app.Close()
	})

	body := fmt.Sprintf(`{"url":%q,"maxDistance":5,"maxUrls":2,"maxSeconds":300}`, site.URL)
	req := httptest.NewRequest(http.MethodPost, "/v1/crawls", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var submitted struct {
		CrawlID string `json:"crawlId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.Len(t, submitted.CrawlID, 6)

	var st crawler.Status
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/v1/crawls/"+submitted.CrawlID, nil)
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
			return false
		}
		return st.Status == crawler.JobStatusStopped
	}, 10*time.Second, 20*time.Millisecond)

	require.Equal(t, crawler.StopReasonMaxURLs, st.StopReason)
	require.Equal(t, uint64(2), st.NumPages)
	require.Equal(t, 1, st.Distance)
	require.False(t, st.LastModified.Before(st.StartTime))
}

func TestBuildModes(t *testing.T) {
	t.Parallel()

	apiOnly, err := Build(context.Background(), testConfig(), ModeAPI)
	require.NoError(t, err)
	t.Cleanup(apiOnly.Close)
	require.NotNil(t, apiOnly.Handler())
	require.NotNil(t, apiOnly.dispatch)

	workerOnly, err := Build(context.Background(), testConfig(), ModeWorker)
	require.NoError(t, err)
	t.Cleanup(workerOnly.Close)
	require.Nil(t, workerOnly.Handler())
	require.NotNil(t, workerOnly.dispatch)
}

func TestRunReturnsOnCancel(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig(), ModeWorker)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
