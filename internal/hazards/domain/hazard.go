package hazards

import "time"

// HazardType classifies the natural hazard a report or alert concerns.
type HazardType string

const (
	HazardEarthquake HazardType = "earthquake"
	HazardFlood      HazardType = "flood"
	HazardCyclone    HazardType = "cyclone"
	HazardTsunami    HazardType = "tsunami"
	HazardLandslide  HazardType = "landslide"
	HazardWildfire   HazardType = "wildfire"
	HazardVolcano    HazardType = "volcano"
	HazardOther      HazardType = "other"

	// HazardAny is accepted in rules to match reports of every type.
	HazardAny HazardType = "any"
)

// Valid returns true when the hazard type is a known value.
func (h HazardType) Valid() bool {
	switch h {
	case HazardEarthquake, HazardFlood, HazardCyclone, HazardTsunami,
		HazardLandslide, HazardWildfire, HazardVolcano, HazardOther, HazardAny:
		return true
	default:
		return false
	}
}

// DisplayName returns a human-readable name, falling back to the raw value.
func (h HazardType) DisplayName() string {
	switch h {
	case HazardEarthquake:
		return "Earthquake"
	case HazardFlood:
		return "Flood"
	case HazardCyclone:
		return "Cyclone"
	case HazardTsunami:
		return "Tsunami"
	case HazardLandslide:
		return "Landslide"
	case HazardWildfire:
		return "Wildfire"
	case HazardVolcano:
		return "Volcanic Activity"
	case HazardOther:
		return "Hazard"
	case HazardAny:
		return "Hazard"
	default:
		return string(h)
	}
}

// Severity orders hazard impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid returns true for a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Rank maps severities to a comparable order, unknown values below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// DisplayName returns a human-readable label, falling back to the raw value.
func (s Severity) DisplayName() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return string(s)
	}
}

// GeoScope bounds rule evaluation to a lat/lon box.
type GeoScope struct {
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
	MinLon float64 `json:"min_lon" yaml:"min_lon"`
	MaxLon float64 `json:"max_lon" yaml:"max_lon"`
}

// Valid returns true when the box is well-formed.
func (g GeoScope) Valid() bool {
	return g.MinLat <= g.MaxLat && g.MinLon <= g.MaxLon &&
		g.MinLat >= -90 && g.MaxLat <= 90 && g.MinLon >= -180 && g.MaxLon <= 180
}

// Report is a citizen hazard report. The engine reads these; the only write is
// the auto-verify action flipping Verified.
type Report struct {
	ID              string     `json:"id"`
	HazardType      HazardType `json:"hazard_type"`
	Severity        Severity   `json:"severity"`
	Title           string     `json:"title"`
	Latitude        float64    `json:"latitude"`
	Longitude       float64    `json:"longitude"`
	ConfidenceScore float64    `json:"confidence_score"`
	Verified        bool       `json:"verified"`
	CreatedAt       time.Time  `json:"created_at"`
}

// SocialPost is an upstream-scored social media signal.
type SocialPost struct {
	ID             string     `json:"id"`
	HazardType     HazardType `json:"hazard_type"`
	RelevanceScore float64    `json:"relevance_score"`
	SentimentScore float64    `json:"sentiment_score"`
	CreatedAt      time.Time  `json:"created_at"`
}

// FeedEntry is a record pulled from an official data feed.
type FeedEntry struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	FeedType  string    `json:"feed_type"`
	ValidFrom time.Time `json:"valid_from"`
	FetchedAt time.Time `json:"fetched_at"`
}
