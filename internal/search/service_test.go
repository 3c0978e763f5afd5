package search

import (
	"context"
	"testing"
	"time"

	"github.com/propsearch/prop-search/internal/embedding"
	"github.com/propsearch/prop-search/internal/metrics"
	apperrors "github.com/propsearch/prop-search/internal/pkg/errors"
	"github.com/propsearch/prop-search/internal/pkg/logger"
	"github.com/propsearch/prop-search/internal/rank"
	"github.com/propsearch/prop-search/internal/store"
)

// fakeEmbedder returns a fixed vector or error without any upstream calls.
type fakeEmbedder struct {
	vec     []float32
	err     error
	healthy bool
	cache   *embedding.Cache
	stats   *embedding.Stats

	embedCalls int
	batchTexts []string
}

func newFakeEmbedder(vec []float32, err error) *fakeEmbedder {
	return &fakeEmbedder{
		vec:     vec,
		err:     err,
		healthy: true,
		cache:   embedding.NewCache(embedding.CacheConfig{MaxSize: 10, TTL: time.Minute}, nil, nil),
		stats:   embedding.NewStats(),
	}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.embedCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.batchTexts = texts
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeEmbedder) CheckHealth(ctx context.Context) bool { return f.healthy }
func (f *fakeEmbedder) Cache() *embedding.Cache              { return f.cache }
func (f *fakeEmbedder) Stats() *embedding.Stats              { return f.stats }

// fakeStorage serves canned candidates and records what it was asked.
type fakeStorage struct {
	page      *store.Page
	err       error
	healthErr error

	lastSearch      *store.SearchRequest
	lastFilter      *store.Filter
	lastLimit       uint64
	lastOffset      uint64
	filterOnlyCalls int
	upserted        []store.ListingPoint
}

func (f *fakeStorage) Search(ctx context.Context, req store.SearchRequest) (*store.Page, error) {
	f.lastSearch = &req
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

func (f *fakeStorage) FilterOnly(ctx context.Context, filter *store.Filter, limit, offset uint64) (*store.Page, error) {
	f.filterOnlyCalls++
	f.lastFilter = filter
	f.lastLimit = limit
	f.lastOffset = offset
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

func (f *fakeStorage) UpsertProperties(ctx context.Context, points []store.ListingPoint) error {
	f.upserted = append(f.upserted, points...)
	return f.err
}

func (f *fakeStorage) HealthCheck(ctx context.Context) error { return f.healthErr }

func newTestService(embedder Embedder, storage Storage, cfg Config) *Service {
	ranker := rank.NewRanker(rank.DefaultWeights(), cfg.SimilarityThreshold)
	return NewService(embedder, storage, ranker, nil, metrics.New(), logger.Default(), cfg)
}

func listingCandidates() []store.Candidate {
	now := time.Now()
	return []store.Candidate{
		{
			Score: 0.9,
			Property: store.Property{
				ID:           "expensive-house",
				Title:        "Detached house",
				PropertyType: "house",
				Price:        600000,
				City:         "Leeds",
			},
		},
		{
			Score: 0.4,
			Property: store.Property{
				ID:           "garden-flat",
				Title:        "Modern flat with garden",
				PropertyType: "flat",
				Price:        450000,
				City:         "London",
				Features:     []string{"garden"},
				ListedDate:   now.AddDate(0, 0, -3),
			},
		},
		{
			Score: 0.2,
			Property: store.Property{
				ID:           "weak-match",
				Title:        "Studio",
				PropertyType: "studio",
				Price:        150000,
				City:         "York",
			},
		},
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	svc := newTestService(newFakeEmbedder([]float32{1}, nil), &fakeStorage{}, DefaultConfig())

	_, err := svc.Search(context.Background(), Request{})
	if err == nil {
		t.Fatal("Search() with empty query = nil error, want validation error")
	}
	if !apperrors.IsValidation(err) {
		t.Errorf("error = %v, want VALIDATION", err)
	}
}

func TestSearchSemanticPipeline(t *testing.T) {
	storage := &fakeStorage{page: &store.Page{Candidates: listingCandidates(), Total: 3}}
	embedder := newFakeEmbedder([]float32{0.1, 0.2}, nil)
	svc := newTestService(embedder, storage, DefaultConfig())

	result, err := svc.Search(context.Background(), Request{Query: "modern apartment with garden under £500k"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if !result.Semantic {
		t.Error("Semantic = false, want true")
	}
	if result.Total != 3 {
		t.Errorf("Total = %d, want 3", result.Total)
	}

	// Threshold 0.3 keeps two of the three candidates.
	if len(result.Results) != 2 {
		t.Fatalf("len(Results) = %d, want 2", len(result.Results))
	}

	// The flat matches type, budget, and the requested garden; that outweighs
	// the house's higher raw similarity.
	if result.Results[0].Property.ID != "garden-flat" {
		t.Errorf("Results[0] = %s, want garden-flat", result.Results[0].Property.ID)
	}
	if result.Results[1].Property.ID != "expensive-house" {
		t.Errorf("Results[1] = %s, want expensive-house", result.Results[1].Property.ID)
	}

	// The query vector and threshold reached storage.
	if storage.lastSearch == nil {
		t.Fatal("storage.Search was never called")
	}
	if len(storage.lastSearch.Vector) != 2 {
		t.Errorf("search vector = %v, want the embedded query vector", storage.lastSearch.Vector)
	}
	if storage.lastSearch.ScoreThreshold == nil || *storage.lastSearch.ScoreThreshold != 0.3 {
		t.Errorf("ScoreThreshold = %v, want 0.3", storage.lastSearch.ScoreThreshold)
	}

	// Parsed query rode along in the result.
	if result.Parsed == nil || result.Parsed.PropertyType != "flat" {
		t.Errorf("Parsed = %+v, want property type flat", result.Parsed)
	}
}

func TestSearchFacetsCoverUnrankedWindow(t *testing.T) {
	storage := &fakeStorage{page: &store.Page{Candidates: listingCandidates(), Total: 3}}
	svc := newTestService(newFakeEmbedder([]float32{1}, nil), storage, DefaultConfig())

	result, err := svc.Search(context.Background(), Request{Query: "modern apartment with garden under £500k"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	// The below-threshold studio is excluded from results but still counted
	// in the facets.
	if got := result.Facets.Types["studio"]; got != 1 {
		t.Errorf("Facets.Types[studio] = %d, want 1", got)
	}
	if got := result.Facets.Cities["York"]; got != 1 {
		t.Errorf("Facets.Cities[York] = %d, want 1", got)
	}
	if got := result.Facets.PriceBuckets["100k_250k"]; got != 1 {
		t.Errorf("Facets.PriceBuckets[100k_250k] = %d, want 1", got)
	}
}

func TestSearchFallbackEnabled(t *testing.T) {
	upstreamErr := apperrors.UpstreamUnavailableError("all endpoints down", nil)
	storage := &fakeStorage{page: &store.Page{Candidates: listingCandidates()[:2], Total: 2}}
	svc := newTestService(newFakeEmbedder(nil, upstreamErr), storage, DefaultConfig())

	result, err := svc.Search(context.Background(), Request{Query: "flat in london"})
	if err != nil {
		t.Fatalf("Search() error = %v, want degraded success", err)
	}

	if result.Semantic {
		t.Error("Semantic = true for a fallback search, want false")
	}
	if storage.filterOnlyCalls != 1 {
		t.Errorf("FilterOnly calls = %d, want 1", storage.filterOnlyCalls)
	}
	if storage.lastSearch != nil {
		t.Error("semantic Search was called despite embedding failure")
	}
	if len(result.Results) != 2 {
		t.Errorf("len(Results) = %d, want 2 (no similarity threshold in fallback)", len(result.Results))
	}
}

func TestSearchFallbackDisabled(t *testing.T) {
	upstreamErr := apperrors.UpstreamUnavailableError("all endpoints down", nil)
	cfg := DefaultConfig()
	cfg.FallbackEnabled = false

	storage := &fakeStorage{page: &store.Page{}}
	svc := newTestService(newFakeEmbedder(nil, upstreamErr), storage, cfg)

	_, err := svc.Search(context.Background(), Request{Query: "flat in london"})
	if err == nil {
		t.Fatal("Search() error = nil with fallback disabled, want upstream error")
	}
	if !apperrors.IsUpstreamUnavailable(err) {
		t.Errorf("error = %v, want UPSTREAM_UNAVAILABLE", err)
	}
	if storage.filterOnlyCalls != 0 {
		t.Error("FilterOnly was called with fallback disabled")
	}
}

func TestSearchPagination(t *testing.T) {
	tests := []struct {
		name       string
		page       int
		limit      int
		wantLimit  uint64
		wantOffset uint64
	}{
		{"defaults", 0, 0, 20, 0},
		{"explicit page", 3, 10, 10, 20},
		{"limit capped", 1, 500, 100, 0},
		{"negative page", -2, 10, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := &fakeStorage{page: &store.Page{}}
			svc := newTestService(newFakeEmbedder([]float32{1}, nil), storage, DefaultConfig())

			result, err := svc.Search(context.Background(), Request{
				Query: "flat",
				Page:  tt.page,
				Limit: tt.limit,
			})
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}

			if storage.lastSearch.Limit != tt.wantLimit {
				t.Errorf("storage limit = %d, want %d", storage.lastSearch.Limit, tt.wantLimit)
			}
			if storage.lastSearch.Offset != tt.wantOffset {
				t.Errorf("storage offset = %d, want %d", storage.lastSearch.Offset, tt.wantOffset)
			}
			if result.Limit != int(tt.wantLimit) {
				t.Errorf("result.Limit = %d, want %d", result.Limit, tt.wantLimit)
			}
		})
	}
}

func TestSearchExplicitFiltersWin(t *testing.T) {
	storage := &fakeStorage{page: &store.Page{}}
	svc := newTestService(newFakeEmbedder([]float32{1}, nil), storage, DefaultConfig())

	maxPrice := 250000
	_, err := svc.Search(context.Background(), Request{
		Query: "2 bed flat in london under £500k",
		Filters: &Filters{
			City:     "leeds",
			MaxPrice: &maxPrice,
		},
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	f := storage.lastSearch.Filter
	if f == nil {
		t.Fatal("filter = nil, want merged filter")
	}
	if f.City != "leeds" {
		t.Errorf("filter city = %q, want explicit leeds over parsed london", f.City)
	}
	if f.MaxPrice == nil || *f.MaxPrice != 250000 {
		t.Errorf("filter max price = %v, want explicit 250000", f.MaxPrice)
	}
	if f.MinBedrooms == nil || *f.MinBedrooms != 2 {
		t.Errorf("filter bedrooms = %v, want parsed 2", f.MinBedrooms)
	}
	if f.PropertyType != "flat" {
		t.Errorf("filter type = %q, want parsed flat", f.PropertyType)
	}
}

func TestSearchNoStructureMeansNilFilter(t *testing.T) {
	storage := &fakeStorage{page: &store.Page{}}
	svc := newTestService(newFakeEmbedder([]float32{1}, nil), storage, DefaultConfig())

	if _, err := svc.Search(context.Background(), Request{Query: "somewhere nice"}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if storage.lastSearch.Filter != nil {
		t.Errorf("filter = %+v, want nil for an unstructured query", storage.lastSearch.Filter)
	}
}

func TestIngest(t *testing.T) {
	storage := &fakeStorage{}
	embedder := newFakeEmbedder([]float32{0.5}, nil)
	svc := newTestService(embedder, storage, DefaultConfig())

	props := []store.Property{
		{ID: "p1", Title: "Flat one", Description: "Bright", Features: []string{"garden"}},
		{ID: "p2", Title: "Flat two", Description: "Airy"},
	}

	count, err := svc.Ingest(context.Background(), IngestRequest{Properties: props})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if len(storage.upserted) != 2 {
		t.Fatalf("upserted %d points, want 2", len(storage.upserted))
	}

	if got := embedder.batchTexts[0]; got != "Flat one. Bright garden" {
		t.Errorf("embedded text = %q, want title, description, and features", got)
	}
	if storage.upserted[0].Vector == nil {
		t.Error("upserted point missing its vector")
	}
}

func TestIngestRequiresProperties(t *testing.T) {
	svc := newTestService(newFakeEmbedder([]float32{1}, nil), &fakeStorage{}, DefaultConfig())

	_, err := svc.Ingest(context.Background(), IngestRequest{})
	if !apperrors.IsValidation(err) {
		t.Errorf("Ingest() error = %v, want VALIDATION", err)
	}
}

func TestReady(t *testing.T) {
	embedder := newFakeEmbedder([]float32{1}, nil)
	storage := &fakeStorage{}
	svc := newTestService(embedder, storage, DefaultConfig())

	if !svc.Ready(context.Background()) {
		t.Error("Ready() = false with healthy dependencies")
	}

	storage.healthErr = apperrors.StorageError("down", nil)
	if svc.Ready(context.Background()) {
		t.Error("Ready() = true with unhealthy storage")
	}

	storage.healthErr = nil
	embedder.healthy = false
	if svc.Ready(context.Background()) {
		t.Error("Ready() = true with unhealthy embedder")
	}
}

func TestAnalyticsSnapshot(t *testing.T) {
	embedder := newFakeEmbedder([]float32{1}, nil)
	storage := &fakeStorage{}
	svc := newTestService(embedder, storage, DefaultConfig())

	snap := svc.AnalyticsSnapshot(context.Background())
	if snap.Storage != "ok" {
		t.Errorf("Storage = %q, want ok", snap.Storage)
	}
	if !snap.Embedding.Healthy {
		t.Error("Embedding.Healthy = false, want the stats default true")
	}

	storage.healthErr = apperrors.StorageError("down", nil)
	snap = svc.AnalyticsSnapshot(context.Background())
	if snap.Storage != "unavailable" {
		t.Errorf("Storage = %q, want unavailable", snap.Storage)
	}
}

func TestNewServiceDefaultsPreserveExplicitFields(t *testing.T) {
	// A config that only disables fallback must not be replaced wholesale
	// by the defaults when page sizes are left unset.
	embedder := newFakeEmbedder(nil, apperrors.UpstreamUnavailableError("embed down", nil))
	storage := &fakeStorage{page: &store.Page{}}
	svc := newTestService(embedder, storage, Config{FallbackEnabled: false})

	_, err := svc.Search(context.Background(), Request{Query: "flat in york"})
	if !apperrors.IsUpstreamUnavailable(err) {
		t.Fatalf("Search() error = %v, want upstream unavailable", err)
	}
	if storage.filterOnlyCalls != 0 {
		t.Errorf("FilterOnly called %d times, want 0 with fallback disabled", storage.filterOnlyCalls)
	}

	// Page-size defaults still apply field by field.
	embedder = newFakeEmbedder([]float32{1}, nil)
	storage = &fakeStorage{page: &store.Page{}}
	svc = newTestService(embedder, storage, Config{FallbackEnabled: false})

	if _, err := svc.Search(context.Background(), Request{Query: "flat in york"}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if storage.lastSearch.Limit != 20 {
		t.Errorf("storage limit = %d, want the default 20", storage.lastSearch.Limit)
	}
}
