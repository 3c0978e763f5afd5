// Package store provides a wrapper around the Qdrant Go client
// with simplified APIs for property listing storage and retrieval.
package store

import (
	"time"
)

// CollectionName is the logical name of the property collection; the
// configured prefix is prepended on the wire.
const CollectionName = "properties"

// CollectionConfig defines the configuration for the property collection.
type CollectionConfig struct {
	// VectorSize is the dimension of the embedding vectors
	// (e.g. 384 for all-MiniLM-L6-v2).
	VectorSize uint64

	// OnDiskPayload stores payload on disk to save RAM.
	OnDiskPayload bool

	// IndexingThreshold is the number of vectors before the HNSW index is built.
	IndexingThreshold uint64
}

// DefaultCollectionConfig returns sensible defaults for a property collection.
func DefaultCollectionConfig() CollectionConfig {
	return CollectionConfig{
		VectorSize:        384,
		OnDiskPayload:     true,
		IndexingThreshold: 20000,
	}
}

// Property is one listing as stored and returned by the search path.
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

// ListingPoint pairs a property with its embedding vector for upserts.
type ListingPoint struct {
	Property Property
	Vector   []float32
}

// Filter constrains a search to matching listings. Zero values mean
// "no constraint" except where a pointer distinguishes unset from zero.
type Filter struct {
	// City filters by exact city (keyword match, lowercase).
	City string

	// MinPrice / MaxPrice bound the listing price.
	MinPrice *int
	MaxPrice *int

	// MinBedrooms requires at least this many bedrooms.
	MinBedrooms *int

	// PropertyType filters by canonical property type.
	PropertyType string
}

// Empty reports whether the filter constrains nothing.
func (f *Filter) Empty() bool {
	if f == nil {
		return true
	}
	return f.City == "" && f.MinPrice == nil && f.MaxPrice == nil &&
		f.MinBedrooms == nil && f.PropertyType == ""
}

// Candidate is one listing returned by the storage layer, before ranking.
// Score is the raw vector similarity; it is zero for filter-only retrieval.
type Candidate struct {
	Property Property
	Score    float32
}

// Page is one retrieval window plus the total match count for pagination.
type Page struct {
	Candidates []Candidate
	Total      uint64
}

// CollectionInfo describes the property collection for health reporting.
type CollectionInfo struct {
	Name        string `json:"name"`
	PointsCount uint64 `json:"points_count"`
	Status      string `json:"status"`
}
