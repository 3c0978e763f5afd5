// Package embedding provides the embedding backend client and its caching
// layer for the property search pipeline.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/propsearch/prop-search/internal/pkg/errors"
	"github.com/propsearch/prop-search/internal/pkg/hash"
	"github.com/propsearch/prop-search/internal/pkg/logger"
)

// backoffStep is the linear backoff unit between retries on one endpoint.
const backoffStep = 200 * time.Millisecond

// ClientConfig configures the embedding client.
type ClientConfig struct {
	// Endpoints is the ordered list of backend base URLs. The round-robin
	// cursor advances through it on failover and persists across calls.
	Endpoints []string

	// Model is the embedding model identifier sent with each request.
	Model string

	// Timeout bounds a single upstream attempt. A timed-out attempt counts
	// as a failed attempt for retry/failover purposes.
	Timeout time.Duration

	// Retries is the number of attempts per endpoint before failing over.
	Retries int

	// RequestsPerSecond paces upstream calls. 0 disables pacing.
	RequestsPerSecond float64

	// CostPerRequest is the assumed dollar cost of one upstream call.
	CostPerRequest float64

	// AssumedLatency is the upstream latency a cache hit is assumed to
	// have avoided, for time-saved reporting.
	AssumedLatency time.Duration
}

// DefaultClientConfig returns sensible client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:        10 * time.Second,
		Retries:        3,
		CostPerRequest: 0.001,
		AssumedLatency: 250 * time.Millisecond,
	}
}

// Client talks to one or more embedding backends with retry, failover, and
// a cache so repeated identical queries never regenerate vectors.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	cache   *Cache
	stats   *Stats
	log     *logger.Logger

	mu     sync.Mutex
	cursor int // round-robin endpoint cursor, persists across calls
}

// NewClient creates an embedding client.
func NewClient(cfg ClientConfig, cache *Cache, stats *Stats, log *logger.Logger) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, apperrors.ValidationError("at least one embedding endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultClientConfig().Timeout
	}
	if cfg.Retries < 1 {
		cfg.Retries = DefaultClientConfig().Retries
	}
	if cfg.AssumedLatency <= 0 {
		cfg.AssumedLatency = DefaultClientConfig().AssumedLatency
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{}, // per-attempt timeouts come from contexts
		limiter: limiter,
		cache:   cache,
		stats:   stats,
		log:     log,
	}, nil
}

// embedRequest is the wire request to the embedding backend.
type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

// embedResponse is the wire response from the embedding backend.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	ModelUsed  string      `json:"model_used"`
	Cached     bool        `json:"cached"`
}

// Embed returns the embedding vector for a text, serving from cache when
// possible. Concurrent calls for the same text share a single upstream
// computation.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	c.stats.RecordRequest()
	start := time.Now()

	vec, hit, err := c.cache.GetOrCompute(ctx, text, func(fctx context.Context) ([]float32, error) {
		vectors, err := c.request(fctx, []string{text})
		if err != nil {
			return nil, err
		}
		return vectors[0], nil
	})
	if err != nil {
		c.stats.RecordError()
		return nil, err
	}

	if hit {
		c.stats.RecordHit(c.cfg.CostPerRequest, c.cfg.AssumedLatency-time.Since(start))
	} else {
		c.stats.RecordMiss()
	}

	return vec, nil
}

// EmbedBatch returns one vector per input text, order-preserving. Duplicate
// texts within the batch are computed upstream only once.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))

	// Resolve unique texts: cache hits first, then one upstream call for
	// the remaining misses.
	missIndex := make(map[string]int) // text -> position in misses
	var misses []string

	for i, text := range texts {
		c.stats.RecordRequest()
		if vec, ok := c.cache.Get(text); ok {
			c.stats.RecordHit(c.cfg.CostPerRequest, c.cfg.AssumedLatency)
			results[i] = vec
			continue
		}
		if _, dup := missIndex[text]; !dup {
			missIndex[text] = len(misses)
			misses = append(misses, text)
			c.stats.RecordMiss()
		}
	}

	if len(misses) > 0 {
		vectors, err := c.request(ctx, misses)
		if err != nil {
			c.stats.RecordError()
			return nil, err
		}

		for i, text := range misses {
			c.cache.Put(ctx, text, vectors[i])
		}

		for i, text := range texts {
			if results[i] == nil {
				results[i] = vectors[missIndex[text]]
			}
		}
	}

	return results, nil
}

// request performs the upstream call with per-endpoint retries and failover.
// Each endpoint gets up to Retries attempts with linear backoff before the
// cursor advances to the next one; only after every endpoint is exhausted
// does the caller see an error.
func (c *Client) request(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for range c.endpoints() {
		endpoint := c.currentEndpoint()

		for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
			if c.limiter != nil {
				if err := c.limiter.Wait(ctx); err != nil {
					return nil, err
				}
			}

			vectors, err := c.call(ctx, endpoint, texts)
			if err == nil {
				return vectors, nil
			}
			lastErr = err

			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			c.log.WithEndpoint(endpoint).Warn("embedding attempt failed",
				"attempt", attempt,
				"retries", c.cfg.Retries,
				"batch_size", len(texts),
				"query_hash", hash.QueryHash(texts[0]),
				"error", err,
			)

			if attempt < c.cfg.Retries {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(backoffStep * time.Duration(attempt)):
				}
			}
		}

		c.advance()
	}

	return nil, apperrors.UpstreamUnavailableError("all embedding endpoints exhausted", lastErr)
}

// call performs one attempt against one endpoint.
func (c *Client) call(ctx context.Context, endpoint string, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Texts: texts, Model: c.cfg.Model})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding backend returned status %d", resp.StatusCode)
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %w", err)
	}

	if len(er.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding backend returned %d vectors for %d texts",
			len(er.Embeddings), len(texts))
	}

	return er.Embeddings, nil
}

// CheckHealth probes the primary backend. Purely advisory for monitoring;
// it does not affect cache or retry behavior.
func (c *Client) CheckHealth(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoints[0]+"/health", nil)
	if err != nil {
		c.stats.SetHealthy(false)
		return false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.stats.SetHealthy(false)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	healthy := resp.StatusCode >= 200 && resp.StatusCode <= 299
	c.stats.SetHealthy(healthy)
	return healthy
}

// endpoints returns the configured endpoint list.
func (c *Client) endpoints() []string {
	return c.cfg.Endpoints
}

// currentEndpoint reads the round-robin cursor.
func (c *Client) currentEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Endpoints[c.cursor%len(c.cfg.Endpoints)]
}

// advance moves the cursor to the next endpoint after a failure.
func (c *Client) advance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursor = (c.cursor + 1) % len(c.cfg.Endpoints)
}

// Cache exposes the underlying cache for analytics reporting.
func (c *Client) Cache() *Cache {
	return c.cache
}

// Stats exposes the performance counters.
func (c *Client) Stats() *Stats {
	return c.stats
}
