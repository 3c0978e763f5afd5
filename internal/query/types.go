// Package query provides rule-based analysis of property search queries.
package query

// Intent represents what the user wants to do with a property.
type Intent string

const (
	// IntentPurchase - looking to buy.
	IntentPurchase Intent = "purchase"

	// IntentRent - looking to rent.
	IntentRent Intent = "rent"
)

// RentPeriod qualifies a budget for rental queries.
type RentPeriod string

const (
	// RentPerMonth - price is per calendar month.
	RentPerMonth RentPeriod = "pcm"

	// RentPerWeek - price is per week.
	RentPerWeek RentPeriod = "pw"
)

// Location is an extracted location reference.
type Location struct {
	// City is the matched gazetteer entry (e.g. "london").
	City string `json:"city,omitempty"`

	// Postcode is a matched UK postcode or outcode (e.g. "sw1", "m1 1aa").
	Postcode string `json:"postcode,omitempty"`
}

// Rooms holds extracted room counts.
type Rooms struct {
	Bedrooms  *int `json:"bedrooms,omitempty"`
	Bathrooms *int `json:"bathrooms,omitempty"`
}

// Budget holds an extracted price range. Either bound may be absent.
type Budget struct {
	MinPrice *int `json:"min_price,omitempty"`
	MaxPrice *int `json:"max_price,omitempty"`

	// Period is set for rental budgets when the query states one.
	Period RentPeriod `json:"period,omitempty"`
}

// ParsedQuery is the immutable result of analyzing one query string.
type ParsedQuery struct {
	// OriginalQuery is the verbatim input text.
	OriginalQuery string `json:"original_query"`

	// Intent is purchase or rent.
	Intent Intent `json:"intent"`

	// Location is the extracted city/postcode, if any.
	Location *Location `json:"location,omitempty"`

	// PropertyType is the matched type from the fixed vocabulary.
	PropertyType string `json:"property_type,omitempty"`

	// Rooms holds bedroom/bathroom counts.
	Rooms Rooms `json:"rooms"`

	// Budget is the extracted price range, if any.
	Budget *Budget `json:"budget,omitempty"`

	// Features are physical property features, deduplicated, in order of
	// first appearance.
	Features []string `json:"features,omitempty"`

	// Lifestyle are softer lifestyle/sentiment tags, same ordering rules.
	Lifestyle []string `json:"lifestyle,omitempty"`

	// Confidence reflects how much structure was extracted (0-1).
	Confidence float64 `json:"confidence"`
}

// HasStructure reports whether any structured field was extracted.
func (p *ParsedQuery) HasStructure() bool {
	return p.Location != nil ||
		p.PropertyType != "" ||
		p.Rooms.Bedrooms != nil ||
		p.Rooms.Bathrooms != nil ||
		p.Budget != nil ||
		len(p.Features) > 0 ||
		len(p.Lifestyle) > 0
}
