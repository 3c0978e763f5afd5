package store

import (
	"context"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	apperrors "github.com/propsearch/prop-search/internal/pkg/errors"
)

// EnsureCollection creates the property collection if it does not exist,
// along with the payload indexes the search filters rely on. It is safe to
// call on every startup.
func (c *Client) EnsureCollection(ctx context.Context, cfg CollectionConfig) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return apperrors.StorageError("client is closed", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	name := c.collectionName(CollectionName)

	exists, err := c.collectionExists(ctx, name)
	if err != nil {
		return apperrors.StorageError("failed to check collection existence", err)
	}
	if exists {
		return nil
	}

	err = c.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
		OnDiskPayload: qdrant.PtrOf(cfg.OnDiskPayload),
		OptimizersConfig: &qdrant.OptimizersConfigDiff{
			IndexingThreshold: qdrant.PtrOf(cfg.IndexingThreshold),
		},
	})
	if err != nil {
		return apperrors.StorageError("failed to create collection "+name, err)
	}

	if err := c.createPayloadIndexes(ctx, name); err != nil {
		return apperrors.StorageError("failed to create payload indexes", err)
	}

	return nil
}

// createPayloadIndexes creates indexes on the payload fields used by filters.
func (c *Client) createPayloadIndexes(ctx context.Context, collectionName string) error {
	indexes := []struct {
		field  string
		schema qdrant.FieldType
	}{
		{"city", qdrant.FieldType_FieldTypeKeyword},
		{"property_type", qdrant.FieldType_FieldTypeKeyword},
		{"price", qdrant.FieldType_FieldTypeInteger},
		{"bedrooms", qdrant.FieldType_FieldTypeInteger},
		{"features", qdrant.FieldType_FieldTypeKeyword},
	}

	for _, idx := range indexes {
		_, err := c.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collectionName,
			FieldName:      idx.field,
			FieldType:      qdrant.PtrOf(idx.schema),
		})
		if err != nil {
			// Index might already exist, which is fine
			if !strings.Contains(err.Error(), "already exists") {
				return err
			}
		}
	}

	return nil
}

// DeleteCollection deletes the property collection.
func (c *Client) DeleteCollection(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return apperrors.StorageError("client is closed", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	name := c.collectionName(CollectionName)
	if err := c.client.DeleteCollection(ctx, name); err != nil {
		return apperrors.StorageError("failed to delete collection "+name, err)
	}

	return nil
}

// Info returns collection status for health reporting.
func (c *Client) Info(ctx context.Context) (*CollectionInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, apperrors.StorageError("client is closed", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	name := c.collectionName(CollectionName)
	info, err := c.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return nil, apperrors.StorageError("failed to get collection info", err)
	}

	status := "unknown"
	switch info.Status {
	case qdrant.CollectionStatus_Green:
		status = "green"
	case qdrant.CollectionStatus_Yellow:
		status = "yellow"
	case qdrant.CollectionStatus_Red:
		status = "red"
	}

	var points uint64
	if info.PointsCount != nil {
		points = *info.PointsCount
	}

	return &CollectionInfo{
		Name:        CollectionName,
		PointsCount: points,
		Status:      status,
	}, nil
}

// collectionExists is the internal helper (expects full collection name).
func (c *Client) collectionExists(ctx context.Context, fullName string) (bool, error) {
	collections, err := c.client.ListCollections(ctx)
	if err != nil {
		return false, err
	}

	for _, col := range collections {
		if col == fullName {
			return true, nil
		}
	}

	return false, nil
}
