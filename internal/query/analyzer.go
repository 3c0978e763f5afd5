package query

import (
	"regexp"
	"strconv"
	"strings"
)

// Analyzer turns free-text property queries into structured search intent.
// It is pure and deterministic: no I/O, identical output for identical input,
// and it never fails - unparseable text yields low confidence, not an error.
type Analyzer struct {
	pipeline []extractor
}

// extractionContext is the shared state the extractor pipeline operates on.
// Extractors that consume a span of text mask it so later extractors do not
// re-match it (e.g. the "bath" in "2 bath" must not look like the city Bath).
type extractionContext struct {
	working string // normalized text, with consumed spans blanked
	parsed  *ParsedQuery
}

// extractor is one pass of the analysis pipeline. Each is pure with respect
// to its inputs and independently testable; order matters because later
// passes see the masked text left behind by earlier ones.
type extractor func(*extractionContext)

// NewAnalyzer creates an analyzer with the standard extraction pipeline.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		pipeline: []extractor{
			extractRooms,
			extractBudget,
			extractPropertyType,
			extractIntent,
			extractLocation,
			extractFeatures,
			scoreConfidence,
		},
	}
}

// Analyze parses a raw query string into a ParsedQuery.
func (a *Analyzer) Analyze(query string) ParsedQuery {
	parsed := ParsedQuery{
		OriginalQuery: query,
		Intent:        IntentPurchase,
	}

	normalized := normalize(query)
	if normalized == "" {
		return parsed
	}

	ctx := &extractionContext{
		working: normalized,
		parsed:  &parsed,
	}

	for _, extract := range a.pipeline {
		extract(ctx)
	}

	return parsed
}

// normalize lowercases, collapses whitespace, and strips thousands
// separators so numeric patterns see plain digits.
func normalize(query string) string {
	s := strings.ToLower(strings.TrimSpace(query))
	s = strings.Join(strings.Fields(s), " ")
	s = thousandsRe.ReplaceAllStringFunc(s, func(m string) string {
		return strings.ReplaceAll(m, ",", "")
	})
	return s
}

var (
	thousandsRe = regexp.MustCompile(`\d{1,3}(?:,\d{3})+`)

	bedroomRe  = regexp.MustCompile(`\b(\d+)(?:\s*-\s*\d+)?\s*(?:bed(?:room)?s?|br)\b`)
	bathroomRe = regexp.MustCompile(`\b(\d+)(?:\s*-\s*\d+)?\s*bath(?:room)?s?\b`)

	wordNumbers = map[string]int{
		"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	}
	wordBedroomRe  = regexp.MustCompile(`\b(one|two|three|four|five)\s*bed(?:room)?s?\b`)
	wordBathroomRe = regexp.MustCompile(`\b(one|two|three|four|five)\s*bath(?:room)?s?\b`)
)

// extractRooms pulls bedroom and bathroom counts. For ambiguous ranges like
// "2-3 bedrooms" the lower bound is taken as the count.
func extractRooms(ctx *extractionContext) {
	if loc := bedroomRe.FindStringSubmatchIndex(ctx.working); loc != nil {
		n, err := strconv.Atoi(ctx.working[loc[2]:loc[3]])
		if err == nil {
			ctx.parsed.Rooms.Bedrooms = &n
			ctx.mask(loc[0], loc[1])
		}
	} else if m := wordBedroomRe.FindStringSubmatchIndex(ctx.working); m != nil {
		n := wordNumbers[ctx.working[m[2]:m[3]]]
		ctx.parsed.Rooms.Bedrooms = &n
		ctx.mask(m[0], m[1])
	}

	if loc := bathroomRe.FindStringSubmatchIndex(ctx.working); loc != nil {
		n, err := strconv.Atoi(ctx.working[loc[2]:loc[3]])
		if err == nil {
			ctx.parsed.Rooms.Bathrooms = &n
			ctx.mask(loc[0], loc[1])
		}
	} else if m := wordBathroomRe.FindStringSubmatchIndex(ctx.working); m != nil {
		n := wordNumbers[ctx.working[m[2]:m[3]]]
		ctx.parsed.Rooms.Bathrooms = &n
		ctx.mask(m[0], m[1])
	}
}

// Price patterns, checked in order; the first matching pattern wins.
var (
	priceRangeRe = regexp.MustCompile(`(?:between\s+)?£?(\d+(?:\.\d+)?)(k?)\s*(?:-|to|and)\s*£?(\d+(?:\.\d+)?)(k?)\b`)
	priceMaxRe   = regexp.MustCompile(`(?:under|below|up to|max(?:imum)?|budget(?: of)?)\s*£?(\d+(?:\.\d+)?)(k?)\b`)
	priceMinRe   = regexp.MustCompile(`(?:over|above|min(?:imum)?|from|at least)\s*£?(\d+(?:\.\d+)?)(k?)\b`)
	priceNearRe  = regexp.MustCompile(`around\s*£?(\d+(?:\.\d+)?)(k?)\b`)
	priceBareRe  = regexp.MustCompile(`£(\d+(?:\.\d+)?)(k?)\b`)

	rentMonthRe = regexp.MustCompile(`\b(?:pcm|per month|a month|monthly)\b`)
	rentWeekRe  = regexp.MustCompile(`\b(?:pw|per week|a week|weekly)\b`)
)

// extractBudget pulls a price range. Numbers written as "300k" normalize to
// 300000; in a range like "£300-400k" the k suffix on the upper bound also
// applies to the lower bound.
func extractBudget(ctx *extractionContext) {
	budget := &Budget{}

	if loc := priceRangeRe.FindStringSubmatchIndex(ctx.working); loc != nil && rangeIsPrice(ctx.working, loc) {
		lowSuffix := ctx.working[loc[4]:loc[5]]
		highSuffix := ctx.working[loc[8]:loc[9]]
		if lowSuffix == "" {
			lowSuffix = highSuffix
		}
		low := parsePrice(ctx.working[loc[2]:loc[3]], lowSuffix)
		high := parsePrice(ctx.working[loc[6]:loc[7]], highSuffix)
		budget.MinPrice = &low
		budget.MaxPrice = &high
		ctx.mask(loc[0], loc[1])
	} else if loc := priceNearRe.FindStringSubmatchIndex(ctx.working); loc != nil {
		// "around £X" means ±10%
		mid := parsePrice(ctx.working[loc[2]:loc[3]], ctx.working[loc[4]:loc[5]])
		low, high := mid*9/10, mid*11/10
		budget.MinPrice = &low
		budget.MaxPrice = &high
		ctx.mask(loc[0], loc[1])
	} else if loc := priceMaxRe.FindStringSubmatchIndex(ctx.working); loc != nil {
		max := parsePrice(ctx.working[loc[2]:loc[3]], ctx.working[loc[4]:loc[5]])
		budget.MaxPrice = &max
		ctx.mask(loc[0], loc[1])
	} else if loc := priceMinRe.FindStringSubmatchIndex(ctx.working); loc != nil {
		min := parsePrice(ctx.working[loc[2]:loc[3]], ctx.working[loc[4]:loc[5]])
		budget.MinPrice = &min
		ctx.mask(loc[0], loc[1])
	} else if loc := priceBareRe.FindStringSubmatchIndex(ctx.working); loc != nil {
		// A bare "£X" is treated as a ceiling.
		max := parsePrice(ctx.working[loc[2]:loc[3]], ctx.working[loc[4]:loc[5]])
		budget.MaxPrice = &max
		ctx.mask(loc[0], loc[1])
	}

	if budget.MinPrice == nil && budget.MaxPrice == nil {
		return
	}

	if rentMonthRe.MatchString(ctx.working) {
		budget.Period = RentPerMonth
	} else if rentWeekRe.MatchString(ctx.working) {
		budget.Period = RentPerWeek
	}

	ctx.parsed.Budget = budget
}

// rangeIsPrice guards the bare range pattern against matching phrases like
// "2-3 bedrooms": a range is only a price range when it carries a currency
// symbol, a k suffix, or the word "between".
func rangeIsPrice(s string, loc []int) bool {
	span := s[loc[0]:loc[1]]
	return strings.Contains(span, "£") ||
		strings.HasPrefix(span, "between") ||
		s[loc[4]:loc[5]] == "k" ||
		s[loc[8]:loc[9]] == "k"
}

func parsePrice(num, suffix string) int {
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if suffix == "k" {
		f *= 1000
	}
	return int(f)
}

// extractPropertyType matches against the fixed type vocabulary; the first
// match wins.
func extractPropertyType(ctx *extractionContext) {
	for _, p := range propertyTypePatterns {
		if p.re.MatchString(ctx.working) {
			ctx.parsed.PropertyType = p.propType
			return
		}
	}
}

// extractIntent detects rent vs purchase. When both keyword families appear,
// the one occurring first in the text wins; the default is purchase.
func extractIntent(ctx *extractionContext) {
	rentLoc := rentRe.FindStringIndex(ctx.working)
	buyLoc := purchaseRe.FindStringIndex(ctx.working)

	switch {
	case rentLoc != nil && buyLoc != nil:
		if rentLoc[0] < buyLoc[0] {
			ctx.parsed.Intent = IntentRent
		} else {
			ctx.parsed.Intent = IntentPurchase
		}
	case rentLoc != nil:
		ctx.parsed.Intent = IntentRent
	case buyLoc != nil:
		ctx.parsed.Intent = IntentPurchase
	}
}

// extractLocation matches the gazetteer and UK postcode patterns against the
// masked text. When multiple candidates match, the longest span wins.
func extractLocation(ctx *extractionContext) {
	var best string
	var isPostcode bool

	for _, name := range gazetteer {
		if len(name) <= len(best) {
			continue
		}
		if matchWord(ctx.working, name) {
			best = name
			isPostcode = false
		}
	}

	for _, m := range postcodeRe.FindAllString(ctx.working, -1) {
		if len(m) > len(best) {
			best = m
			isPostcode = true
		}
	}

	if best == "" {
		return
	}

	loc := &Location{}
	if isPostcode {
		loc.Postcode = best
	} else {
		loc.City = best
	}
	ctx.parsed.Location = loc
}

// matchWord reports whether name occurs in s on word boundaries.
func matchWord(s, name string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], name)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(name)
		startOK := start == 0 || !isWordChar(s[start-1])
		endOK := end == len(s) || !isWordChar(s[end])
		if startOK && endOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_'
}

// extractFeatures collects feature and lifestyle keywords. All matches are
// kept, deduplicated, insertion order preserved.
func extractFeatures(ctx *extractionContext) {
	seen := make(map[string]bool)

	for _, p := range featurePatterns {
		if p.re.MatchString(ctx.working) && !seen[p.feature] {
			ctx.parsed.Features = append(ctx.parsed.Features, p.feature)
			seen[p.feature] = true
		}
	}

	for _, p := range lifestylePatterns {
		if p.re.MatchString(ctx.working) && !seen[p.tag] {
			ctx.parsed.Lifestyle = append(ctx.parsed.Lifestyle, p.tag)
			seen[p.tag] = true
		}
	}
}

// confidenceCategories is the number of extractable field categories used as
// the confidence denominator.
const confidenceCategories = 6

// scoreConfidence sets confidence to the fraction of field categories that
// were populated: location, property type, rooms, budget, features/lifestyle,
// and an explicit intent keyword.
func scoreConfidence(ctx *extractionContext) {
	p := ctx.parsed
	populated := 0

	if p.Location != nil {
		populated++
	}
	if p.PropertyType != "" {
		populated++
	}
	if p.Rooms.Bedrooms != nil || p.Rooms.Bathrooms != nil {
		populated++
	}
	if p.Budget != nil {
		populated++
	}
	if len(p.Features) > 0 || len(p.Lifestyle) > 0 {
		populated++
	}
	if rentRe.MatchString(ctx.working) || purchaseRe.MatchString(ctx.working) {
		populated++
	}

	confidence := float64(populated) / float64(confidenceCategories)
	if confidence > 1 {
		confidence = 1
	}
	p.Confidence = confidence
}

// mask blanks a consumed span so later extractors do not re-match it.
func (c *extractionContext) mask(start, end int) {
	b := []byte(c.working)
	for i := start; i < end; i++ {
		b[i] = ' '
	}
	c.working = string(b)
}
