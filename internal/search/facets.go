package search

import (
	"github.com/propsearch/prop-search/internal/store"
)

// Facets are aggregated count breakdowns over a candidate set, used for
// filter UI affordances.
type Facets struct {
	PriceBuckets map[string]int `json:"price_buckets,omitempty"`
	Types        map[string]int `json:"types,omitempty"`
	Cities       map[string]int `json:"cities,omitempty"`
	Features     map[string]int `json:"features,omitempty"`
}

// priceBucket names the fixed price band a listing falls into.
func priceBucket(price int) string {
	switch {
	case price < 100_000:
		return "under_100k"
	case price < 250_000:
		return "100k_250k"
	case price < 500_000:
		return "250k_500k"
	case price < 1_000_000:
		return "500k_1m"
	default:
		return "over_1m"
	}
}

// BuildFacets aggregates facet counts over the unranked candidate window.
func BuildFacets(candidates []store.Candidate) Facets {
	f := Facets{
		PriceBuckets: make(map[string]int),
		Types:        make(map[string]int),
		Cities:       make(map[string]int),
		Features:     make(map[string]int),
	}

	for _, c := range candidates {
		p := c.Property

		f.PriceBuckets[priceBucket(p.Price)]++

		if p.PropertyType != "" {
			f.Types[p.PropertyType]++
		}
		if p.City != "" {
			f.Cities[p.City]++
		}
		for _, feat := range p.Features {
			f.Features[feat]++
		}
	}

	return f
}
