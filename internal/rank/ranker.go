package rank

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/propsearch/prop-search/internal/query"
	"github.com/propsearch/prop-search/internal/store"
)

// Match reason constants
const (
	ReasonCityMatch     = "City match"
	ReasonPriceInBudget = "Price within budget"
	ReasonBedroomsMatch = "Bedrooms match"
	ReasonTypeMatch     = "Property type match"
	ReasonFeatureMatch  = "Requested features present"
	ReasonNewlyListed   = "Newly listed"
	ReasonGeneralMatch  = "General match"
)

// recencyDecayRate controls the exponential age decay. A listing 30 days
// old scores ~0.74, 90 days ~0.41.
const recencyDecayRate = 0.01

// Match is one ranked search result.
type Match struct {
	Property store.Property `json:"property"`

	// Similarity is the raw vector similarity from retrieval; zero for
	// non-semantic (filter-only) results.
	Similarity float32 `json:"similarity_score"`

	// Score is the blended relevance score the results are ordered by.
	Score float64 `json:"relevance_score"`

	// MatchReasons name the satisfied dimensions. Descriptive only.
	MatchReasons []string `json:"match_reasons,omitempty"`

	// MatchKeywords are the query terms found in the listing text.
	// Descriptive only, not scored.
	MatchKeywords []string `json:"match_keywords,omitempty"`
}

// Ranker scores and orders candidates against a parsed query.
type Ranker struct {
	weights   Weights
	threshold float32
	now       func() time.Time
}

// NewRanker creates a ranker. threshold is the minimum raw similarity a
// candidate needs to appear in semantic output at all.
func NewRanker(weights Weights, threshold float64) *Ranker {
	return &Ranker{
		weights:   weights,
		threshold: float32(threshold),
		now:       time.Now,
	}
}

// WithClock overrides the clock used for recency scoring. Tests only.
func (r *Ranker) WithClock(now func() time.Time) *Ranker {
	r.now = now
	return r
}

// Weights returns the effective weights.
func (r *Ranker) Weights() Weights {
	return r.weights
}

// Rank filters out below-threshold candidates, scores the rest, and returns
// them ordered by relevance descending. Ties break by listed date descending
// so ordering stays deterministic for equal scores.
func (r *Ranker) Rank(candidates []store.Candidate, parsed *query.ParsedQuery) []Match {
	matches := make([]Match, 0, len(candidates))

	for _, cand := range candidates {
		if cand.Score < r.threshold {
			continue
		}
		matches = append(matches, r.score(cand, parsed, true))
	}

	sortMatches(matches)
	return matches
}

// RankFiltered ranks filter-only candidates: no similarity term and no
// threshold, since no vector was involved. The structured dimensions still
// contribute so ordering remains meaningful in degraded mode.
func (r *Ranker) RankFiltered(candidates []store.Candidate, parsed *query.ParsedQuery) []Match {
	matches := make([]Match, 0, len(candidates))

	for _, cand := range candidates {
		matches = append(matches, r.score(cand, parsed, false))
	}

	sortMatches(matches)
	return matches
}

// sortMatches orders by score descending, ties by listed date descending.
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Property.ListedDate.After(matches[j].Property.ListedDate)
	})
}

// score computes the blended relevance score and match annotations for one
// candidate.
func (r *Ranker) score(cand store.Candidate, parsed *query.ParsedQuery, semantic bool) Match {
	prop := cand.Property
	m := Match{
		Property:   prop,
		Similarity: cand.Score,
	}

	var score float64

	if semantic {
		score += r.weights.BaseScore * float64(cand.Score)
	}

	if frac := featureFraction(prop, parsed); frac > 0 {
		score += r.weights.FeatureMatch * frac
		m.MatchReasons = append(m.MatchReasons, ReasonFeatureMatch)
	}

	if cityMatches(prop, parsed) {
		score += r.weights.CityMatch
		m.MatchReasons = append(m.MatchReasons, ReasonCityMatch)
	}

	if priceInBudget(prop, parsed) {
		score += r.weights.PriceInRange
		m.MatchReasons = append(m.MatchReasons, ReasonPriceInBudget)
	}

	if bedroomsMatch(prop, parsed) {
		score += r.weights.BedroomsMatch
		m.MatchReasons = append(m.MatchReasons, ReasonBedroomsMatch)
	}

	if typeMatches(prop, parsed) {
		score += r.weights.PropertyTypeMatch
		m.MatchReasons = append(m.MatchReasons, ReasonTypeMatch)
	}

	score += r.weights.Recency * r.recencyScore(prop.ListedDate)

	if !prop.ListedDate.IsZero() && r.now().Sub(prop.ListedDate) < 7*24*time.Hour {
		m.MatchReasons = append(m.MatchReasons, ReasonNewlyListed)
	}

	if len(m.MatchReasons) == 0 {
		m.MatchReasons = append(m.MatchReasons, ReasonGeneralMatch)
	}

	m.MatchKeywords = matchKeywords(prop, parsed)
	m.Score = score
	return m
}

// featureFraction returns the fraction of requested features the listing
// has, or 0 when the query requested none.
func featureFraction(prop store.Property, parsed *query.ParsedQuery) float64 {
	if parsed == nil || len(parsed.Features) == 0 {
		return 0
	}

	have := make(map[string]bool, len(prop.Features))
	for _, f := range prop.Features {
		have[strings.ToLower(f)] = true
	}

	matched := 0
	for _, f := range parsed.Features {
		if have[strings.ToLower(f)] {
			matched++
		}
	}

	return float64(matched) / float64(len(parsed.Features))
}

func cityMatches(prop store.Property, parsed *query.ParsedQuery) bool {
	if parsed == nil || parsed.Location == nil || parsed.Location.City == "" {
		return false
	}
	return strings.EqualFold(prop.City, parsed.Location.City)
}

func priceInBudget(prop store.Property, parsed *query.ParsedQuery) bool {
	if parsed == nil || parsed.Budget == nil {
		return false
	}
	b := parsed.Budget
	if b.MinPrice == nil && b.MaxPrice == nil {
		return false
	}
	if b.MinPrice != nil && prop.Price < *b.MinPrice {
		return false
	}
	if b.MaxPrice != nil && prop.Price > *b.MaxPrice {
		return false
	}
	return true
}

// bedroomsMatch treats the extracted count as a minimum: a 3-bed listing
// satisfies a "2 bedroom" query.
func bedroomsMatch(prop store.Property, parsed *query.ParsedQuery) bool {
	if parsed == nil || parsed.Rooms.Bedrooms == nil {
		return false
	}
	return prop.Bedrooms >= *parsed.Rooms.Bedrooms
}

func typeMatches(prop store.Property, parsed *query.ParsedQuery) bool {
	if parsed == nil || parsed.PropertyType == "" {
		return false
	}
	return strings.EqualFold(prop.PropertyType, parsed.PropertyType)
}

// recencyScore decays exponentially with listing age.
func (r *Ranker) recencyScore(listed time.Time) float64 {
	if listed.IsZero() {
		return 0.5
	}

	days := r.now().Sub(listed).Hours() / 24
	if days < 0 {
		days = 0
	}

	return math.Exp(-recencyDecayRate * days)
}

// matchKeywords returns the query terms that appear in the listing's title,
// description, or feature list.
func matchKeywords(prop store.Property, parsed *query.ParsedQuery) []string {
	if parsed == nil {
		return nil
	}

	text := strings.ToLower(prop.Title + " " + prop.Description + " " + strings.Join(prop.Features, " "))

	seen := make(map[string]bool)
	var keywords []string
	for _, word := range strings.Fields(strings.ToLower(parsed.OriginalQuery)) {
		word = strings.Trim(word, ".,!?;:£$")
		if len(word) < 3 || seen[word] {
			continue
		}
		if strings.Contains(text, word) {
			seen[word] = true
			keywords = append(keywords, word)
		}
	}

	return keywords
}
