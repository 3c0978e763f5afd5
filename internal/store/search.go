package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	apperrors "github.com/propsearch/prop-search/internal/pkg/errors"
)

// SearchRequest defines parameters for a vector search over listings.
type SearchRequest struct {
	// Vector is the query embedding.
	Vector []float32

	// Filter constrains the candidates (nil = unconstrained).
	Filter *Filter

	// Limit is the window size; Offset skips preceding matches.
	Limit  uint64
	Offset uint64

	// ScoreThreshold drops candidates below this similarity.
	ScoreThreshold *float32
}

// Search performs a filtered vector search and returns one retrieval window
// plus the total number of filter matches for pagination.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*Page, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, apperrors.StorageError("client is closed", nil)
	}

	if len(req.Vector) == 0 {
		return nil, apperrors.StorageError("query vector is required", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	limit := req.Limit
	if limit == 0 {
		limit = 20
	}

	queryPoints := &qdrant.QueryPoints{
		CollectionName: c.collectionName(CollectionName),
		Query:          qdrant.NewQueryDense(req.Vector),
		Limit:          qdrant.PtrOf(limit),
		Offset:         qdrant.PtrOf(req.Offset),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	if qf := buildFilter(req.Filter); qf != nil {
		queryPoints.Filter = qf
	}

	if req.ScoreThreshold != nil {
		queryPoints.ScoreThreshold = req.ScoreThreshold
	}

	points, err := c.client.Query(ctx, queryPoints)
	if err != nil {
		return nil, apperrors.StorageError("vector search failed", err)
	}

	total, err := c.countLocked(ctx, req.Filter)
	if err != nil {
		return nil, err
	}

	return &Page{
		Candidates: scoredPointsToCandidates(points),
		Total:      total,
	}, nil
}

// FilterOnly retrieves a window of listings by structured filter alone, with
// no vector involved. Used when the embedding backend is unavailable.
// Candidates carry a zero similarity score.
func (c *Client) FilterOnly(ctx context.Context, filter *Filter, limit, offset uint64) (*Page, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, apperrors.StorageError("client is closed", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if limit == 0 {
		limit = 20
	}

	// Scroll through offset+limit points and keep the tail. Scroll paginates
	// by point ID, so the numeric offset is applied client side.
	want := offset + limit
	var collected []*qdrant.RetrievedPoint
	var cursor *qdrant.PointId
	const batchSize = 100

	qf := buildFilter(filter)

	for uint64(len(collected)) < want {
		scrollReq := &qdrant.ScrollPoints{
			CollectionName: c.collectionName(CollectionName),
			Filter:         qf,
			Limit:          qdrant.PtrOf(uint32(batchSize)),
			WithPayload:    qdrant.NewWithPayload(true),
			Offset:         cursor,
		}

		points, err := c.client.Scroll(ctx, scrollReq)
		if err != nil {
			return nil, apperrors.StorageError("filter-only scroll failed", err)
		}

		full := len(points) == batchSize
		points = continuationPoints(points, cursor)
		collected = append(collected, points...)

		if !full || len(points) == 0 {
			break
		}
		cursor = points[len(points)-1].Id
	}

	if uint64(len(collected)) > offset {
		collected = collected[offset:]
	} else {
		collected = nil
	}
	if uint64(len(collected)) > limit {
		collected = collected[:limit]
	}

	candidates := make([]Candidate, 0, len(collected))
	for _, p := range collected {
		candidates = append(candidates, Candidate{
			Property: extractProperty(pointID(p.Id), p.Payload),
		})
	}

	total, err := c.countLocked(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &Page{
		Candidates: candidates,
		Total:      total,
	}, nil
}

// continuationPoints drops the head of a continuation batch: the scroll
// offset is inclusive of the cursor point, so every batch after the first
// starts with the point the previous batch ended on.
func continuationPoints(points []*qdrant.RetrievedPoint, cursor *qdrant.PointId) []*qdrant.RetrievedPoint {
	if cursor != nil && len(points) > 0 {
		return points[1:]
	}
	return points
}

// countLocked counts filter matches; callers must hold the read lock.
func (c *Client) countLocked(ctx context.Context, filter *Filter) (uint64, error) {
	countReq := &qdrant.CountPoints{
		CollectionName: c.collectionName(CollectionName),
		Exact:          qdrant.PtrOf(true),
	}
	if qf := buildFilter(filter); qf != nil {
		countReq.Filter = qf
	}

	count, err := c.client.Count(ctx, countReq)
	if err != nil {
		return 0, apperrors.StorageError("failed to count matches", err)
	}
	return count, nil
}

// buildFilter builds a Qdrant filter from a Filter.
func buildFilter(f *Filter) *qdrant.Filter {
	if f.Empty() {
		return nil
	}

	var conditions []*qdrant.Condition

	// Keyword match is exact; payloads are written lowercase, so filters
	// must be lowercase too, wherever the value came from.
	if f.City != "" {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "city",
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{
							Keyword: strings.ToLower(f.City),
						},
					},
				},
			},
		})
	}

	if f.PropertyType != "" {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "property_type",
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{
							Keyword: strings.ToLower(f.PropertyType),
						},
					},
				},
			},
		})
	}

	if f.MinPrice != nil || f.MaxPrice != nil {
		priceRange := &qdrant.Range{}
		if f.MinPrice != nil {
			priceRange.Gte = qdrant.PtrOf(float64(*f.MinPrice))
		}
		if f.MaxPrice != nil {
			priceRange.Lte = qdrant.PtrOf(float64(*f.MaxPrice))
		}
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "price",
					Range: priceRange,
				},
			},
		})
	}

	if f.MinBedrooms != nil {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "bedrooms",
					Range: &qdrant.Range{
						Gte: qdrant.PtrOf(float64(*f.MinBedrooms)),
					},
				},
			},
		})
	}

	if len(conditions) == 0 {
		return nil
	}

	return &qdrant.Filter{
		Must: conditions,
	}
}

// scoredPointsToCandidates converts Qdrant scored points to Candidates.
func scoredPointsToCandidates(points []*qdrant.ScoredPoint) []Candidate {
	candidates := make([]Candidate, 0, len(points))
	for _, p := range points {
		candidates = append(candidates, Candidate{
			Property: extractProperty(pointID(p.Id), p.Payload),
			Score:    p.Score,
		})
	}
	return candidates
}

// pointID renders a Qdrant point ID as a string.
func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	}
	return ""
}
