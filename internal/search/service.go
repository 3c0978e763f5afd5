// Package search orchestrates the property search pipeline: query analysis,
// embedding retrieval, storage query, ranking, and faceting.
package search

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/propsearch/prop-search/internal/bus"
	"github.com/propsearch/prop-search/internal/embedding"
	"github.com/propsearch/prop-search/internal/metrics"
	apperrors "github.com/propsearch/prop-search/internal/pkg/errors"
	"github.com/propsearch/prop-search/internal/pkg/hash"
	"github.com/propsearch/prop-search/internal/pkg/logger"
	"github.com/propsearch/prop-search/internal/query"
	"github.com/propsearch/prop-search/internal/rank"
	"github.com/propsearch/prop-search/internal/store"
)

// eventSource identifies this service in bus events.
const eventSource = "prop-search"

// Embedder provides query embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	CheckHealth(ctx context.Context) bool
	Cache() *embedding.Cache
	Stats() *embedding.Stats
}

// Storage is the persistence capability the orchestrator consumes.
type Storage interface {
	Search(ctx context.Context, req store.SearchRequest) (*store.Page, error)
	FilterOnly(ctx context.Context, filter *store.Filter, limit, offset uint64) (*store.Page, error)
	UpsertProperties(ctx context.Context, points []store.ListingPoint) error
	HealthCheck(ctx context.Context) error
}

// Config configures the search service.
type Config struct {
	// SimilarityThreshold is the minimum raw similarity for a semantic match.
	SimilarityThreshold float64

	// DefaultPageSize applies when the request gives no limit.
	DefaultPageSize int

	// MaxPageSize caps the requested limit.
	MaxPageSize int

	// FallbackEnabled degrades to filter-only search when the embedding
	// backend is unavailable instead of failing the request.
	FallbackEnabled bool
}

// DefaultConfig returns sensible search defaults.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.3,
		DefaultPageSize:     20,
		MaxPageSize:         100,
		FallbackEnabled:     true,
	}
}

// Service orchestrates the search pipeline.
type Service struct {
	analyzer *query.Analyzer
	embedder Embedder
	storage  Storage
	ranker   *rank.Ranker
	events   bus.Bus
	metrics  *metrics.Metrics
	log      *logger.Logger
	cfg      Config
}

// NewService creates a new search service.
func NewService(embedder Embedder, storage Storage, ranker *rank.Ranker, events bus.Bus, m *metrics.Metrics, log *logger.Logger, cfg Config) *Service {
	// Default page sizes individually; replacing the whole struct would
	// discard explicitly set fields like FallbackEnabled.
	def := DefaultConfig()
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = def.DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = def.MaxPageSize
	}
	return &Service{
		analyzer: query.NewAnalyzer(),
		embedder: embedder,
		storage:  storage,
		ranker:   ranker,
		events:   events,
		metrics:  m,
		log:      log,
		cfg:      cfg,
	}
}

// Filters are explicit structured filters supplied alongside the query text.
// They take precedence over values extracted from the query.
type Filters struct {
	City         string `json:"city,omitempty"`
	MinPrice     *int   `json:"min_price,omitempty"`
	MaxPrice     *int   `json:"max_price,omitempty"`
	Bedrooms     *int   `json:"bedrooms,omitempty"`
	PropertyType string `json:"property_type,omitempty"`
}

// Request represents a search request.
type Request struct {
	// Query is the free-text search query.
	Query string `json:"query"`

	// Filters are explicit structured filters (optional).
	Filters *Filters `json:"filters,omitempty"`

	// Page is 1-indexed; 0 means page 1.
	Page int `json:"page,omitempty"`

	// Limit is the page size; 0 means the configured default.
	Limit int `json:"limit,omitempty"`
}

// Timing captures per-stage latency for one search.
type Timing struct {
	AnalyzeMs   int64 `json:"analyze_ms"`
	EmbedMs     int64 `json:"embed_ms"`
	RetrievalMs int64 `json:"retrieval_ms"`
	RankMs      int64 `json:"rank_ms"`
	TotalMs     int64 `json:"total_ms"`
}

// Result represents a search response.
type Result struct {
	// Query is the original query text.
	Query string `json:"query"`

	// Parsed is the structured interpretation of the query.
	Parsed *query.ParsedQuery `json:"parsed"`

	// Results are the ranked matches for the requested page.
	Results []rank.Match `json:"results"`

	// Total is the total number of filter matches across all pages.
	Total uint64 `json:"total"`

	// Page and Limit echo the effective pagination.
	Page  int `json:"page"`
	Limit int `json:"limit"`

	// Semantic is false when the embedding backend was unavailable and the
	// search degraded to structured filters only.
	Semantic bool `json:"semantic"`

	// Facets aggregate counts over the unranked candidate window.
	Facets Facets `json:"facets"`

	// Timing captures per-stage latency.
	Timing Timing `json:"timing"`
}

// Search runs the full pipeline for one query.
func (s *Service) Search(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if req.Query == "" {
		return nil, apperrors.ValidationError("query is required")
	}

	page := req.Page
	if page < 1 {
		page = 1
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}

	log := s.log.WithQueryHash(hash.QueryHash(req.Query))

	// Analysis and embedding are independent; run them concurrently. The
	// embedding error is kept separate so the fallback decision happens
	// after both finish.
	var (
		parsed    query.ParsedQuery
		vector    []float32
		embedErr  error
		analyzeMs int64
		embedMs   int64
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		analyzeStart := time.Now()
		parsed = s.analyzer.Analyze(req.Query)
		analyzeMs = time.Since(analyzeStart).Milliseconds()
		s.metrics.RecordAnalyze(analyzeMs)
		return nil
	})

	g.Go(func() error {
		embedStart := time.Now()
		vector, embedErr = s.embedder.Embed(gctx, req.Query)
		embedMs = time.Since(embedStart).Milliseconds()
		s.metrics.RecordEmbed(embedMs, embedErr)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filter := buildFilter(&parsed, req.Filters)
	offset := uint64(page-1) * uint64(limit)

	semantic := true
	if embedErr != nil {
		s.publishEvent(bus.TopicEmbeddingFailure, map[string]any{
			"query_hash": hash.QueryHash(req.Query),
			"error":      embedErr.Error(),
		})

		if !s.cfg.FallbackEnabled {
			s.metrics.RecordSearch(time.Since(start).Milliseconds(), 0, embedErr)
			return nil, embedErr
		}

		log.Warn("embedding unavailable, degrading to filter-only search", "error", embedErr)
		s.metrics.RecordFallback()
		semantic = false
	}

	// Storage query
	retrievalStart := time.Now()
	var (
		pageResult *store.Page
		err        error
	)
	if semantic {
		threshold := float32(s.cfg.SimilarityThreshold)
		pageResult, err = s.storage.Search(ctx, store.SearchRequest{
			Vector:         vector,
			Filter:         filter,
			Limit:          uint64(limit),
			Offset:         offset,
			ScoreThreshold: &threshold,
		})
	} else {
		pageResult, err = s.storage.FilterOnly(ctx, filter, uint64(limit), offset)
	}
	retrievalMs := time.Since(retrievalStart).Milliseconds()
	s.metrics.RecordSearchStage(metrics.StageRetrieval, retrievalMs)

	if err != nil {
		s.metrics.RecordSearch(time.Since(start).Milliseconds(), 0, err)
		return nil, err
	}

	// Facets aggregate over the unranked window so they reflect retrieval,
	// not the ranked page ordering.
	facets := BuildFacets(pageResult.Candidates)

	// Rank the retrieved window. Ranking after pagination bounds ranking
	// cost but means ordering is only locally correct within a page.
	rankStart := time.Now()
	var matches []rank.Match
	if semantic {
		matches = s.ranker.Rank(pageResult.Candidates, &parsed)
	} else {
		matches = s.ranker.RankFiltered(pageResult.Candidates, &parsed)
	}
	rankMs := time.Since(rankStart).Milliseconds()
	s.metrics.RecordSearchStage(metrics.StageRank, rankMs)

	result := &Result{
		Query:    req.Query,
		Parsed:   &parsed,
		Results:  matches,
		Total:    pageResult.Total,
		Page:     page,
		Limit:    limit,
		Semantic: semantic,
		Facets:   facets,
		Timing: Timing{
			AnalyzeMs:   analyzeMs,
			EmbedMs:     embedMs,
			RetrievalMs: retrievalMs,
			RankMs:      rankMs,
			TotalMs:     time.Since(start).Milliseconds(),
		},
	}

	s.metrics.RecordSearch(result.Timing.TotalMs, len(matches), nil)
	s.metrics.RecordSearchStage(metrics.StageAnalyze, analyzeMs)
	s.metrics.RecordSearchStage(metrics.StageEmbed, embedMs)
	s.metrics.UpdateCacheSize(s.embedder.Cache().Size())

	topic := bus.TopicSearchPerformed
	if !semantic {
		topic = bus.TopicSearchFallback
	}
	s.publishEvent(topic, map[string]any{
		"query_hash":   hash.QueryHash(req.Query),
		"result_count": len(matches),
		"total":        pageResult.Total,
		"semantic":     semantic,
		"latency_ms":   result.Timing.TotalMs,
	})

	return result, nil
}

// IngestRequest carries listings to index.
type IngestRequest struct {
	Properties []store.Property `json:"properties"`
}

// Ingest embeds and upserts listings. The embedded text is the title and
// description plus the feature list, which is what queries are matched
// against semantically.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (int, error) {
	if len(req.Properties) == 0 {
		return 0, apperrors.ValidationError("at least one property is required")
	}

	start := time.Now()

	texts := make([]string, len(req.Properties))
	for i, p := range req.Properties {
		texts[i] = embedText(p)
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}

	points := make([]store.ListingPoint, len(req.Properties))
	for i, p := range req.Properties {
		points[i] = store.ListingPoint{Property: p, Vector: vectors[i]}
	}

	if err := s.storage.UpsertProperties(ctx, points); err != nil {
		return 0, err
	}

	s.metrics.RecordUpsert(len(points), time.Since(start).Milliseconds())
	s.publishEvent(bus.TopicListingUpserted, map[string]any{
		"count": len(points),
	})

	return len(points), nil
}

// Analytics is the dashboard snapshot of pipeline health and savings.
type Analytics struct {
	Embedding embedding.Snapshot   `json:"embedding"`
	Cache     embedding.CacheStats `json:"cache"`
	Storage   string               `json:"storage"`
}

// AnalyticsSnapshot returns current performance stats for dashboards.
func (s *Service) AnalyticsSnapshot(ctx context.Context) Analytics {
	storageStatus := "ok"
	if err := s.storage.HealthCheck(ctx); err != nil {
		storageStatus = "unavailable"
	}

	return Analytics{
		Embedding: s.embedder.Stats().Snapshot(),
		Cache:     s.embedder.Cache().Stats(),
		Storage:   storageStatus,
	}
}

// Ready reports whether the service's dependencies are reachable.
func (s *Service) Ready(ctx context.Context) bool {
	if err := s.storage.HealthCheck(ctx); err != nil {
		return false
	}
	return s.embedder.CheckHealth(ctx)
}

// publishEvent publishes fire-and-forget; failures are logged, never
// surfaced to the search path.
func (s *Service) publishEvent(topic string, payload map[string]any) {
	if s.events == nil {
		return
	}

	event := bus.NewEvent(uuid.NewString(), topic, eventSource, payload)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.events.Publish(ctx, topic, event); err != nil {
			s.log.Warn("event publish failed", "topic", topic, "error", err)
		}
	}()
}

// buildFilter merges extracted query structure with explicit filters;
// explicit filters win.
func buildFilter(parsed *query.ParsedQuery, explicit *Filters) *store.Filter {
	f := &store.Filter{}

	if parsed.Location != nil {
		f.City = parsed.Location.City
	}
	if parsed.Budget != nil {
		f.MinPrice = parsed.Budget.MinPrice
		f.MaxPrice = parsed.Budget.MaxPrice
	}
	f.MinBedrooms = parsed.Rooms.Bedrooms
	f.PropertyType = parsed.PropertyType

	if explicit != nil {
		if explicit.City != "" {
			f.City = explicit.City
		}
		if explicit.MinPrice != nil {
			f.MinPrice = explicit.MinPrice
		}
		if explicit.MaxPrice != nil {
			f.MaxPrice = explicit.MaxPrice
		}
		if explicit.Bedrooms != nil {
			f.MinBedrooms = explicit.Bedrooms
		}
		if explicit.PropertyType != "" {
			f.PropertyType = explicit.PropertyType
		}
	}

	if f.Empty() {
		return nil
	}
	return f
}

// embedText renders a listing as the text its vector is computed from.
func embedText(p store.Property) string {
	text := p.Title + ". " + p.Description
	for _, f := range p.Features {
		text += " " + f
	}
	return text
}
