package listing

import (
	"encoding/json"
	"fmt"
	"time"
)

// Platform identifies where a listing was scraped from.
type Platform string

const (
	PlatformAirbnb  Platform = "airbnb"
	PlatformBooking Platform = "booking"
	PlatformVRBO    Platform = "vrbo"

	// PlatformUnified marks a listing synthesized from two or more
	// single-platform listings of the same physical property.
	PlatformUnified Platform = "unified"
)

// ParsePlatform returns the Platform for a string, if known.
func ParsePlatform(s string) (Platform, bool) {
	switch Platform(s) {
	case PlatformAirbnb, PlatformBooking, PlatformVRBO, PlatformUnified:
		return Platform(s), true
	}
	return "", false
}

// Location holds the geographic fields of a listing.
type Location struct {
	Address string  `json:"address,omitempty"`
	City    string  `json:"city,omitempty"`
	Country string  `json:"country,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lng     float64 `json:"lng,omitempty"`
}

// Validate checks coordinate ranges. Zero coordinates are treated as absent.
func (l Location) Validate() error {
	if l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidInput, l.Lat)
	}
	if l.Lng < -180 || l.Lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidInput, l.Lng)
	}
	return nil
}

// Image references one listing photo: the source URL it was downloaded
// from and the path of the local copy.
type Image struct {
	Original string `json:"original,omitempty"`
	Local    string `json:"local,omitempty"`
}

// Key is the identity used for merging and deduplicating image lists.
// The original URL wins; images added by hand only have a local path.
func (im Image) Key() string {
	if im.Original != "" {
		return im.Original
	}
	return im.Local
}

// Source records where one platform's contribution to a unified listing
// came from.
type Source struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// UpdateEntry is one element of a listing's append-only update history.
type UpdateEntry struct {
	Date time.Time `json:"date"`
}

// Stored is the on-disk unit of truth, one per listing folder.
type Stored struct {
	ID        string     `json:"id"`
	Platform  Platform   `json:"platform"`
	Platforms []Platform `json:"platforms,omitempty"`

	Title       string   `json:"title"`
	Description string   `json:"description"`
	Location    Location `json:"location,omitzero"`

	HostName           string `json:"hostName,omitempty"`
	PropertyType       string `json:"propertyType,omitempty"`
	MaxGuests          int    `json:"maxGuests,omitempty"`
	Bedrooms           int    `json:"bedrooms,omitempty"`
	Beds               int    `json:"beds,omitempty"`
	Bathrooms          int    `json:"bathrooms,omitempty"`
	CheckIn            string `json:"checkIn,omitempty"`
	CheckOut           string `json:"checkOut,omitempty"`
	CancellationPolicy string `json:"cancellationPolicy,omitempty"`
	Rating             string `json:"rating,omitempty"`
	Price              string `json:"price,omitempty"`
	Currency           string `json:"currency,omitempty"`

	Amenities   []string `json:"amenities,omitempty"`
	HouseRules  []string `json:"houseRules,omitempty"`
	Highlights  []string `json:"highlights,omitempty"`
	SafetyItems []string `json:"safetyItems,omitempty"`

	Images []Image `json:"images,omitempty"`

	// Sources and Pricing are keyed by platform name. Sources is only
	// meaningful on unified listings; Pricing values are opaque
	// platform-specific structures.
	Sources map[string]Source          `json:"sources,omitempty"`
	Pricing map[string]json.RawMessage `json:"pricing,omitempty"`

	SourceURL string `json:"sourceUrl,omitempty"`

	ScrapedAt      time.Time `json:"scrapedAt,omitzero"`
	FirstScrapedAt time.Time `json:"firstScrapedAt,omitzero"`
	LastUpdatedAt  time.Time `json:"lastUpdatedAt,omitzero"`
	MergedAt       time.Time `json:"mergedAt,omitzero"`

	UpdateCount   int           `json:"updateCount,omitempty"`
	UpdateHistory []UpdateEntry `json:"updateHistory,omitempty"`
}

// Clone returns a deep copy, so merges can build a result without
// mutating the caller's record.
func (s *Stored) Clone() *Stored {
	out := *s
	out.Platforms = append([]Platform(nil), s.Platforms...)
	out.Amenities = append([]string(nil), s.Amenities...)
	out.HouseRules = append([]string(nil), s.HouseRules...)
	out.Highlights = append([]string(nil), s.Highlights...)
	out.SafetyItems = append([]string(nil), s.SafetyItems...)
	out.Images = append([]Image(nil), s.Images...)
	out.UpdateHistory = append([]UpdateEntry(nil), s.UpdateHistory...)
	if s.Sources != nil {
		out.Sources = make(map[string]Source, len(s.Sources))
		for k, v := range s.Sources {
			out.Sources[k] = v
		}
	}
	if s.Pricing != nil {
		out.Pricing = make(map[string]json.RawMessage, len(s.Pricing))
		for k, v := range s.Pricing {
			out.Pricing[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &out
}

// Scraped is one scrape result produced by a platform scraper. Every
// field is optional: scrapers are untrusted collaborators and partial
// output is the norm.
type Scraped struct {
	ID        string   `json:"id,omitempty"`
	Platform  Platform `json:"platform,omitempty"`
	SourceURL string   `json:"sourceUrl,omitempty"`

	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Location    Location `json:"location,omitzero"`

	HostName           string `json:"hostName,omitempty"`
	PropertyType       string `json:"propertyType,omitempty"`
	MaxGuests          int    `json:"maxGuests,omitempty"`
	Bedrooms           int    `json:"bedrooms,omitempty"`
	Beds               int    `json:"beds,omitempty"`
	Bathrooms          int    `json:"bathrooms,omitempty"`
	CheckIn            string `json:"checkIn,omitempty"`
	CheckOut           string `json:"checkOut,omitempty"`
	CancellationPolicy string `json:"cancellationPolicy,omitempty"`
	Rating             string `json:"rating,omitempty"`
	Price              string `json:"price,omitempty"`
	Currency           string `json:"currency,omitempty"`

	Amenities   []string `json:"amenities,omitempty"`
	HouseRules  []string `json:"houseRules,omitempty"`
	Highlights  []string `json:"highlights,omitempty"`
	SafetyItems []string `json:"safetyItems,omitempty"`

	Images  []Image         `json:"images,omitempty"`
	Pricing json.RawMessage `json:"pricing,omitempty"`

	ScrapedAt time.Time `json:"scrapedAt,omitzero"`
}
