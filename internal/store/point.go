package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"

	apperrors "github.com/propsearch/prop-search/internal/pkg/errors"
)

// UpsertProperties inserts or updates listings in the collection.
func (c *Client) UpsertProperties(ctx context.Context, points []ListingPoint) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return apperrors.StorageError("client is closed", nil)
	}

	if len(points) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		qdrantPoints = append(qdrantPoints, listingToPoint(p))
	}

	_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.collectionName(CollectionName),
		Points:         qdrantPoints,
		Wait:           qdrant.PtrOf(true), // Wait for indexing
	})
	if err != nil {
		return apperrors.StorageError("failed to upsert properties", err)
	}

	return nil
}

// UpsertPropertiesBatch upserts listings in batches to bound memory use.
func (c *Client) UpsertPropertiesBatch(ctx context.Context, points []ListingPoint, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 100
	}

	for i := 0; i < len(points); i += batchSize {
		end := i + batchSize
		if end > len(points) {
			end = len(points)
		}

		if err := c.UpsertProperties(ctx, points[i:end]); err != nil {
			return apperrors.StorageError(
				fmt.Sprintf("failed to upsert batch %d-%d", i, end), err)
		}
	}

	return nil
}

// DeleteProperties deletes listings by ID.
func (c *Client) DeleteProperties(ctx context.Context, ids []string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return apperrors.StorageError("client is closed", nil)
	}

	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.collectionName(CollectionName),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: pointIDs,
				},
			},
		},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return apperrors.StorageError("failed to delete properties", err)
	}

	return nil
}

// Count returns the number of listings matching the filter.
func (c *Client) Count(ctx context.Context, filter *Filter) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0, apperrors.StorageError("client is closed", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	countReq := &qdrant.CountPoints{
		CollectionName: c.collectionName(CollectionName),
		Exact:          qdrant.PtrOf(true),
	}

	if qf := buildFilter(filter); qf != nil {
		countReq.Filter = qf
	}

	count, err := c.client.Count(ctx, countReq)
	if err != nil {
		return 0, apperrors.StorageError("failed to count properties", err)
	}

	return count, nil
}

// listingToPoint converts a ListingPoint to a Qdrant PointStruct. City and
// property type are stored lowercase so keyword filters built from the
// analyzer's lowercase vocabulary match regardless of how the listing was
// capitalized.
func listingToPoint(p ListingPoint) *qdrant.PointStruct {
	prop := p.Property

	// NewValueMap only converts []interface{}, not []string.
	features := make([]any, len(prop.Features))
	for i, feat := range prop.Features {
		features[i] = feat
	}

	payload := map[string]any{
		"title":         prop.Title,
		"description":   prop.Description,
		"price":         prop.Price,
		"city":          strings.ToLower(prop.City),
		"bedrooms":      prop.Bedrooms,
		"bathrooms":     prop.Bathrooms,
		"property_type": strings.ToLower(prop.PropertyType),
		"features":      features,
		"listed_date":   prop.ListedDate.Format(time.RFC3339),
	}
	if prop.Postcode != "" {
		payload["postcode"] = prop.Postcode
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(prop.ID),
		Vectors: qdrant.NewVectors(p.Vector...),
		Payload: qdrant.NewValueMap(payload),
	}
}

// extractProperty extracts a Property from a Qdrant payload map.
func extractProperty(id string, payload map[string]*qdrant.Value) Property {
	prop := Property{ID: id}

	prop.Title = getStringValue(payload, "title")
	prop.Description = getStringValue(payload, "description")
	prop.Price = getIntValue(payload, "price")
	prop.City = getStringValue(payload, "city")
	prop.Postcode = getStringValue(payload, "postcode")
	prop.Bedrooms = getIntValue(payload, "bedrooms")
	prop.Bathrooms = getIntValue(payload, "bathrooms")
	prop.PropertyType = getStringValue(payload, "property_type")
	prop.Features = getStringSliceValue(payload, "features")

	if v := getStringValue(payload, "listed_date"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			prop.ListedDate = t
		}
	}

	return prop
}

// Helper functions to extract values from Qdrant payload

func getStringValue(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		if sv, ok := v.Kind.(*qdrant.Value_StringValue); ok {
			return sv.StringValue
		}
	}
	return ""
}

func getIntValue(payload map[string]*qdrant.Value, key string) int {
	if v, ok := payload[key]; ok {
		if iv, ok := v.Kind.(*qdrant.Value_IntegerValue); ok {
			return int(iv.IntegerValue)
		}
	}
	return 0
}

func getStringSliceValue(payload map[string]*qdrant.Value, key string) []string {
	if v, ok := payload[key]; ok {
		if lv, ok := v.Kind.(*qdrant.Value_ListValue); ok {
			result := make([]string, 0, len(lv.ListValue.Values))
			for _, item := range lv.ListValue.Values {
				if sv, ok := item.Kind.(*qdrant.Value_StringValue); ok {
					result = append(result, sv.StringValue)
				}
			}
			return result
		}
	}
	return nil
}
