// Package rank scores and orders search candidates against a parsed query.
package rank

import (
	"github.com/propsearch/prop-search/internal/config"
)

// Weights are the scoring weights for each ranking dimension. All weights
// are in [0,1]; they need not sum to 1.
type Weights struct {
	// BaseScore scales the raw vector similarity.
	BaseScore float64 `json:"base_score"`

	// FeatureMatch scales the fraction of requested features present.
	FeatureMatch float64 `json:"feature_match"`

	// CityMatch is the bonus for a listing in the requested city.
	CityMatch float64 `json:"city_match"`

	// PriceInRange is the bonus for a price inside the requested budget.
	PriceInRange float64 `json:"price_in_range"`

	// BedroomsMatch is the bonus for meeting the bedroom count.
	BedroomsMatch float64 `json:"bedrooms_match"`

	// PropertyTypeMatch is the bonus for the requested property type.
	PropertyTypeMatch float64 `json:"property_type_match"`

	// Recency scales the listing-age decay bonus.
	Recency float64 `json:"recency"`
}

// DefaultWeights returns the standard ranking weights.
func DefaultWeights() Weights {
	return Weights{
		BaseScore:         0.5,
		FeatureMatch:      0.05,
		CityMatch:         0.1,
		PriceInRange:      0.1,
		BedroomsMatch:     0.1,
		PropertyTypeMatch: 0.1,
		Recency:           0.05,
	}
}

// WeightsFromConfig merges configured overrides over the defaults. Only
// fields explicitly set in the config replace the default values, so a
// partial override leaves the rest untouched.
func WeightsFromConfig(cfg config.RankingConfig) Weights {
	w := DefaultWeights()

	if cfg.BaseScore != nil {
		w.BaseScore = *cfg.BaseScore
	}
	if cfg.FeatureMatch != nil {
		w.FeatureMatch = *cfg.FeatureMatch
	}
	if cfg.CityMatch != nil {
		w.CityMatch = *cfg.CityMatch
	}
	if cfg.PriceInRange != nil {
		w.PriceInRange = *cfg.PriceInRange
	}
	if cfg.BedroomsMatch != nil {
		w.BedroomsMatch = *cfg.BedroomsMatch
	}
	if cfg.PropertyTypeMatch != nil {
		w.PropertyTypeMatch = *cfg.PropertyTypeMatch
	}
	if cfg.Recency != nil {
		w.Recency = *cfg.Recency
	}

	return w
}
