package query

import "regexp"

// propertyTypePatterns maps type keywords to the canonical vocabulary.
// Order matters: the first matching pattern wins.
var propertyTypePatterns = []struct {
	re       *regexp.Regexp
	propType string
}{
	{regexp.MustCompile(`\b(?:flat|apartment|apt)\b`), "flat"},
	{regexp.MustCompile(`\b(?:house|home)\b`), "house"},
	{regexp.MustCompile(`\bstudio\b`), "studio"},
	{regexp.MustCompile(`\bbungalow\b`), "bungalow"},
	{regexp.MustCompile(`\bmaisonette\b`), "maisonette"},
	{regexp.MustCompile(`\bcottage\b`), "cottage"},
	{regexp.MustCompile(`\bpenthouse\b`), "penthouse"},
	{regexp.MustCompile(`\btownhouse\b`), "townhouse"},
}

// featurePatterns maps feature keywords to canonical feature names.
// All matches are kept, deduplicated, in pattern order.
var featurePatterns = []struct {
	re      *regexp.Regexp
	feature string
}{
	{regexp.MustCompile(`\b(?:parking|garage)\b`), "parking"},
	{regexp.MustCompile(`\b(?:garden|outdoor space)\b`), "garden"},
	{regexp.MustCompile(`\b(?:balcony|terrace)\b`), "balcony"},
	{regexp.MustCompile(`\b(?:gym|fitness)\b`), "gym"},
	{regexp.MustCompile(`\b(?:pool|swimming)\b`), "pool"},
	{regexp.MustCompile(`\b(?:lift|elevator)\b`), "lift"},
	{regexp.MustCompile(`\b(?:concierge|porter)\b`), "concierge"},
	{regexp.MustCompile(`\bfurnished\b`), "furnished"},
	{regexp.MustCompile(`\bunfurnished\b`), "unfurnished"},
	{regexp.MustCompile(`\b(?:pet.friendly|pets? allowed)\b`), "pet-friendly"},
}

// lifestylePatterns maps softer lifestyle keywords to canonical tags.
var lifestylePatterns = []struct {
	re  *regexp.Regexp
	tag string
}{
	{regexp.MustCompile(`\b(?:near schools?|schools?|education)\b`), "near-schools"},
	{regexp.MustCompile(`\b(?:near shops?|shops?|shopping)\b`), "near-shops"},
	{regexp.MustCompile(`\b(?:transport|tube|train|bus|commut\w*)\b`), "transport-links"},
	{regexp.MustCompile(`\b(?:quiet|peaceful)\b`), "quiet-area"},
	{regexp.MustCompile(`\b(?:modern|contemporary|new build)\b`), "modern"},
	{regexp.MustCompile(`\b(?:period|victorian|georgian|edwardian)\b`), "period-property"},
	{regexp.MustCompile(`\b(?:luxury|premium|high.end|upmarket)\b`), "luxury"},
	{regexp.MustCompile(`\b(?:family|family.friendly)\b`), "family-friendly"},
}

// rentKeywords and purchaseKeywords drive intent detection. On conflict the
// keyword occurring earliest in the text wins.
var (
	rentRe     = regexp.MustCompile(`\b(?:rent|rental|renting|let|letting|to let|tenant|landlord|pcm|per month|per week)\b`)
	purchaseRe = regexp.MustCompile(`\b(?:buy|buying|purchase|purchasing|sale|for sale|mortgage|deposit)\b`)
)

// gazetteer is the known set of UK city and area names. Multi-word entries
// are listed before their prefixes so the longest span can win.
var gazetteer = []string{
	"central london",
	"north london",
	"south london",
	"east london",
	"west london",
	"greater manchester",
	"milton keynes",
	"canary wharf",
	"notting hill",
	"london",
	"manchester",
	"birmingham",
	"leeds",
	"liverpool",
	"sheffield",
	"bristol",
	"newcastle",
	"nottingham",
	"leicester",
	"southampton",
	"portsmouth",
	"brighton",
	"cambridge",
	"oxford",
	"reading",
	"york",
	"bath",
	"edinburgh",
	"glasgow",
	"cardiff",
	"belfast",
	"croydon",
	"richmond",
	"wimbledon",
	"hackney",
	"islington",
	"camden",
	"greenwich",
	"shoreditch",
	"clapham",
	"battersea",
	"chelsea",
	"kensington",
	"hampstead",
}

// postcodeRe matches UK postcodes and outcodes, e.g. "sw1", "m1 1aa",
// "ec2a 4bx". Input is lowercased before matching.
var postcodeRe = regexp.MustCompile(`\b[a-z]{1,2}\d{1,2}[a-z]?(?:\s*\d[a-z]{2})?\b`)
