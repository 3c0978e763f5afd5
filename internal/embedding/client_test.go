package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/propsearch/prop-search/internal/pkg/errors"
	"github.com/propsearch/prop-search/internal/pkg/logger"
)

// embedServer is a fake embedding backend. Each text embeds to a vector
// derived from its length so tests can verify order preservation.
func embedServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		atomic.AddInt32(calls, 1)

		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		vectors := make([][]float32, len(req.Texts))
		for i, text := range req.Texts {
			vectors[i] = []float32{float32(len(text))}
		}
		json.NewEncoder(w).Encode(embedResponse{Embeddings: vectors, ModelUsed: req.Model})
	}))
}

func failingServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
}

func newTestClient(t *testing.T, endpoints []string, retries int) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		Endpoints:      endpoints,
		Model:          "test-model",
		Timeout:        2 * time.Second,
		Retries:        retries,
		CostPerRequest: 0.001,
		AssumedLatency: 100 * time.Millisecond,
	}, testCache(100, time.Minute), NewStats(), logger.Default())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestEmbedCachesResult(t *testing.T) {
	var calls int32
	srv := embedServer(t, &calls)
	defer srv.Close()

	c := newTestClient(t, []string{srv.URL}, 1)
	ctx := context.Background()

	vec, err := c.Embed(ctx, "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if !reflect.DeepEqual(vec, []float32{5}) {
		t.Errorf("vector = %v, want [5]", vec)
	}

	if _, err := c.Embed(ctx, "hello"); err != nil {
		t.Fatalf("second Embed() error = %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("upstream calls = %d, want 1 (second request served from cache)", n)
	}

	snap := c.Stats().Snapshot()
	if snap.TotalRequests != 2 {
		t.Errorf("TotalRequests = %d, want 2", snap.TotalRequests)
	}
	if snap.CacheHits != 1 || snap.CacheMisses != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", snap.CacheHits, snap.CacheMisses)
	}
	if snap.CostSavedDollars != 0.001 {
		t.Errorf("CostSavedDollars = %v, want 0.001", snap.CostSavedDollars)
	}
}

func TestEmbedConcurrentSharesOneCall(t *testing.T) {
	var calls int32
	srv := embedServer(t, &calls)
	defer srv.Close()

	c := newTestClient(t, []string{srv.URL}, 1)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Embed(ctx, "same text"); err != nil {
				t.Errorf("Embed() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("upstream calls = %d for %d concurrent embeds, want 1", got, n)
	}
}

func TestEmbedFailover(t *testing.T) {
	var badCalls, goodCalls int32
	bad := failingServer(t, &badCalls)
	defer bad.Close()
	good := embedServer(t, &goodCalls)
	defer good.Close()

	c := newTestClient(t, []string{bad.URL, good.URL}, 2)

	vec, err := c.Embed(context.Background(), "query")
	if err != nil {
		t.Fatalf("Embed() error = %v, want failover success", err)
	}
	if !reflect.DeepEqual(vec, []float32{5}) {
		t.Errorf("vector = %v, want [5]", vec)
	}
	if n := atomic.LoadInt32(&badCalls); n != 2 {
		t.Errorf("primary attempts = %d, want 2 (retries before failover)", n)
	}
	if n := atomic.LoadInt32(&goodCalls); n != 1 {
		t.Errorf("secondary attempts = %d, want 1", n)
	}
}

func TestEmbedAllEndpointsExhausted(t *testing.T) {
	var calls1, calls2 int32
	bad1 := failingServer(t, &calls1)
	defer bad1.Close()
	bad2 := failingServer(t, &calls2)
	defer bad2.Close()

	c := newTestClient(t, []string{bad1.URL, bad2.URL}, 2)

	_, err := c.Embed(context.Background(), "query")
	if err == nil {
		t.Fatal("Embed() error = nil, want upstream unavailable")
	}
	if !apperrors.IsUpstreamUnavailable(err) {
		t.Errorf("error = %v, want UPSTREAM_UNAVAILABLE", err)
	}
	if n := atomic.LoadInt32(&calls1) + atomic.LoadInt32(&calls2); n != 4 {
		t.Errorf("total attempts = %d, want 4 (2 retries x 2 endpoints)", n)
	}

	if snap := c.Stats().Snapshot(); snap.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", snap.ErrorCount)
	}
}

func TestEmbedFailoverCursorPersists(t *testing.T) {
	var badCalls, goodCalls int32
	bad := failingServer(t, &badCalls)
	defer bad.Close()
	good := embedServer(t, &goodCalls)
	defer good.Close()

	c := newTestClient(t, []string{bad.URL, good.URL}, 1)
	ctx := context.Background()

	if _, err := c.Embed(ctx, "first"); err != nil {
		t.Fatalf("Embed(first) error = %v", err)
	}
	if _, err := c.Embed(ctx, "second"); err != nil {
		t.Fatalf("Embed(second) error = %v", err)
	}

	// The cursor stayed on the healthy endpoint: the failed primary is not
	// re-probed on the second, uncached query.
	if n := atomic.LoadInt32(&badCalls); n != 1 {
		t.Errorf("primary attempts = %d, want 1", n)
	}
	if n := atomic.LoadInt32(&goodCalls); n != 2 {
		t.Errorf("secondary attempts = %d, want 2", n)
	}
}

func TestEmbedBatchOrderAndDedup(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	var batches [][]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)

		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)

		mu.Lock()
		batches = append(batches, req.Texts)
		mu.Unlock()

		vectors := make([][]float32, len(req.Texts))
		for i, text := range req.Texts {
			vectors[i] = []float32{float32(len(text))}
		}
		json.NewEncoder(w).Encode(embedResponse{Embeddings: vectors})
	}))
	defer srv.Close()

	c := newTestClient(t, []string{srv.URL}, 1)
	ctx := context.Background()

	// Warm one entry so the batch mixes hits and misses.
	if _, err := c.Embed(ctx, "aa"); err != nil {
		t.Fatalf("warmup Embed() error = %v", err)
	}

	texts := []string{"aa", "bbb", "cccc", "bbb"}
	got, err := c.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}

	want := [][]float32{{2}, {3}, {4}, {3}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("EmbedBatch() = %v, want %v", got, want)
	}

	// One warmup call plus one batch call for the two unique misses.
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}
	mu.Lock()
	lastBatch := batches[len(batches)-1]
	mu.Unlock()
	if !reflect.DeepEqual(lastBatch, []string{"bbb", "cccc"}) {
		t.Errorf("upstream batch = %v, want deduplicated misses [bbb cccc]", lastBatch)
	}
}

func TestEmbedBatchEmpty(t *testing.T) {
	c := newTestClient(t, []string{"http://127.0.0.1:0"}, 1)

	got, err := c.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch(nil) error = %v", err)
	}
	if got != nil {
		t.Errorf("EmbedBatch(nil) = %v, want nil", got)
	}
}

func TestCheckHealth(t *testing.T) {
	var calls int32
	srv := embedServer(t, &calls)

	c := newTestClient(t, []string{srv.URL}, 1)

	if !c.CheckHealth(context.Background()) {
		t.Error("CheckHealth() = false against a healthy backend")
	}
	if !c.Stats().Snapshot().Healthy {
		t.Error("Snapshot().Healthy = false after successful probe")
	}

	srv.Close()

	if c.CheckHealth(context.Background()) {
		t.Error("CheckHealth() = true against a closed backend")
	}
	if c.Stats().Snapshot().Healthy {
		t.Error("Snapshot().Healthy = true after failed probe")
	}
}

func TestNewClientRequiresEndpoints(t *testing.T) {
	_, err := NewClient(ClientConfig{}, testCache(10, time.Minute), NewStats(), logger.Default())
	if err == nil {
		t.Error("NewClient() with no endpoints succeeded, want error")
	}
}
