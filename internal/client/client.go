// Package client provides an HTTP client for the property search API.
//
// The wire types here deliberately do not import the server packages so
// the package can be vendored into other services unchanged.
package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"
)

// Client is an HTTP client for the property search API.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	connectionID string
}

// Config configures the client.
type Config struct {
	// BaseURL is the base URL of the API server.
	BaseURL string

	// Timeout is the request timeout.
	Timeout time.Duration

	// ConnectionID is an optional explicit connection ID.
	// If empty, one will be auto-generated from hostname/MAC.
	ConnectionID string

	// MaxIdleConns controls the maximum number of idle (keep-alive) connections
	// across all hosts. Zero means no limit.
	MaxIdleConns int

	// MaxConnsPerHost limits the total number of connections per host.
	// Zero means no limit.
	MaxConnsPerHost int

	// IdleConnTimeout is the maximum amount of time an idle (keep-alive)
	// connection will remain idle before closing itself.
	IdleConnTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:8080",
		Timeout:         30 * time.Second,
		MaxIdleConns:    100,
		MaxConnsPerHost: 100,
		IdleConnTimeout: 90 * time.Second,
	}
}

// GenerateConnectionID creates a stable, unique connection ID for this machine.
// It uses hostname + MAC address + OS/Arch to create a deterministic identifier.
func GenerateConnectionID() string {
	var parts []string

	if hostname, err := os.Hostname(); err == nil {
		parts = append(parts, hostname)
	}

	if mac := getPrimaryMAC(); mac != "" {
		parts = append(parts, mac)
	}

	parts = append(parts, runtime.GOOS, runtime.GOARCH)

	data := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(data))

	return hex.EncodeToString(hash[:8])
}

// getPrimaryMAC returns the MAC address of the first non-loopback interface.
func getPrimaryMAC() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		// Skip virtual interfaces (common patterns)
		name := strings.ToLower(iface.Name)
		if strings.HasPrefix(name, "docker") ||
			strings.HasPrefix(name, "veth") ||
			strings.HasPrefix(name, "br-") ||
			strings.HasPrefix(name, "virbr") {
			continue
		}
		return iface.HardwareAddr.String()
	}

	return ""
}

// New creates a new API client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = 100
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}

	connectionID := cfg.ConnectionID
	if connectionID == "" {
		connectionID = GenerateConnectionID()
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost / 5, // 20% per host
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableCompression:  false,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		connectionID: connectionID,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// ConnectionID returns the client's connection ID.
func (c *Client) ConnectionID() string {
	return c.connectionID
}

// Property is a listing as accepted by the ingest endpoint.
type Property struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Price        int       `json:"price"`
	City         string    `json:"city"`
	Postcode     string    `json:"postcode,omitempty"`
	Bedrooms     int       `json:"bedrooms"`
	Bathrooms    int       `json:"bathrooms"`
	PropertyType string    `json:"property_type"`
	Features     []string  `json:"features,omitempty"`
	ListedDate   time.Time `json:"listed_date"`
}

// Filters are explicit structured filters for a search. They override
// whatever the server extracts from the query text.
type Filters struct {
	City         string `json:"city,omitempty"`
	MinPrice     *int   `json:"min_price,omitempty"`
	MaxPrice     *int   `json:"max_price,omitempty"`
	Bedrooms     *int   `json:"bedrooms,omitempty"`
	PropertyType string `json:"property_type,omitempty"`
}

// SearchRequest represents a search request.
type SearchRequest struct {
	Query   string   `json:"query"`
	Filters *Filters `json:"filters,omitempty"`
	Page    int      `json:"page,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// Match is a single ranked result.
type Match struct {
	Property      Property `json:"property"`
	Similarity    float32  `json:"similarity_score"`
	Score         float64  `json:"relevance_score"`
	MatchReasons  []string `json:"match_reasons,omitempty"`
	MatchKeywords []string `json:"match_keywords,omitempty"`
}

// Facets aggregate counts over the candidate set.
type Facets struct {
	PriceBuckets map[string]int `json:"price_buckets,omitempty"`
	Types        map[string]int `json:"types,omitempty"`
	Cities       map[string]int `json:"cities,omitempty"`
	Features     map[string]int `json:"features,omitempty"`
}

// Timing contains per-stage search latency.
type Timing struct {
	AnalyzeMs   int64 `json:"analyze_ms"`
	EmbedMs     int64 `json:"embed_ms"`
	RetrievalMs int64 `json:"retrieval_ms"`
	RankMs      int64 `json:"rank_ms"`
	TotalMs     int64 `json:"total_ms"`
}

// SearchResponse represents a search response. Parsed is left as raw JSON
// so the client does not have to track the server's query-analysis types.
type SearchResponse struct {
	Query    string          `json:"query"`
	Parsed   json.RawMessage `json:"parsed"`
	Results  []Match         `json:"results"`
	Total    uint64          `json:"total"`
	Page     int             `json:"page"`
	Limit    int             `json:"limit"`
	Semantic bool            `json:"semantic"`
	Facets   Facets          `json:"facets"`
	Timing   Timing          `json:"timing"`
}

// IngestRequest represents a batch of listings to upsert.
type IngestRequest struct {
	Properties []Property `json:"properties"`
}

// IngestResult reports how many listings were upserted.
type IngestResult struct {
	Upserted int `json:"upserted"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// APIError represents an API error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Health checks if the API is alive.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ready checks if the API and its dependencies are ready to serve.
func (c *Client) Ready(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/ready", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Search performs a property search.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var resp SearchResponse
	if err := c.post(ctx, "/v1/search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ingest upserts listings into the index.
func (c *Client) Ingest(ctx context.Context, properties []Property) (*IngestResult, error) {
	var result IngestResult
	if err := c.post(ctx, "/v1/properties", IngestRequest{Properties: properties}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Analytics returns the server's performance snapshot as raw JSON.
func (c *Client) Analytics(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/v1/analytics", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// get performs a GET request.
func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, result)
}

// post performs a POST request.
func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.do(req, result)
}

// do executes a request.
func (c *Client) do(req *http.Request, result interface{}) error {
	if c.connectionID != "" {
		req.Header.Set("X-Connection-ID", c.connectionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr APIError
		if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
		}
		return &apiErr
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
