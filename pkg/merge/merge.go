// Package merge implements the additive fusion of repeat scrapes into a
// stored listing: scalars are first-write-wins, collections are
// union-only, and bookkeeping records every fold-in. A merge never
// removes or overwrites data already captured.
package merge

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/micheldegeofroy/unidown/pkg/listing"
)

// CopyFunc physically copies an incoming image into the listing's own
// images directory and returns the rewritten reference. Implementations
// must not be relied on for dedup; the merge keys images itself.
type CopyFunc func(img listing.Image, listingID string) (listing.Image, error)

// Engine performs additive merges. The clock is injected so
// bookkeeping is deterministic under test.
type Engine struct {
	log  *logrus.Logger
	now  func() time.Time
	copy CopyFunc
}

// NewEngine creates a merge engine. copyFn may be nil, in which case
// incoming image references are taken as already local.
func NewEngine(log *logrus.Logger, copyFn CopyFunc) *Engine {
	return &Engine{log: log, now: time.Now, copy: copyFn}
}

// WithClock injects a clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// protectedField is one row of the declared fill-only-if-empty table.
// fill copies the incoming value into dst only when dst's value is
// empty, and reports whether it did.
type protectedField struct {
	name string
	fill func(dst *listing.Stored, src listing.Scraped) bool
}

// protectedFields is the full list of scalar fields with
// first-write-wins semantics. Adding a scalar to the schema means
// adding a row here, nowhere else.
var protectedFields = []protectedField{
	{"title", func(d *listing.Stored, s listing.Scraped) bool { return fillString(&d.Title, s.Title) }},
	{"description", func(d *listing.Stored, s listing.Scraped) bool { return fillString(&d.Description, s.Description) }},
	{"location.address", func(d *listing.Stored, s listing.Scraped) bool {
		return fillString(&d.Location.Address, s.Location.Address)
	}},
	{"location.city", func(d *listing.Stored, s listing.Scraped) bool { return fillString(&d.Location.City, s.Location.City) }},
	{"location.country", func(d *listing.Stored, s listing.Scraped) bool {
		return fillString(&d.Location.Country, s.Location.Country)
	}},
	{"location.lat", func(d *listing.Stored, s listing.Scraped) bool { return fillFloat(&d.Location.Lat, s.Location.Lat) }},
	{"location.lng", func(d *listing.Stored, s listing.Scraped) bool { return fillFloat(&d.Location.Lng, s.Location.Lng) }},
	{"hostName", func(d *listing.Stored, s listing.Scraped) bool { return fillString(&d.HostName, s.HostName) }},
	{"propertyType", func(d *listing.Stored, s listing.Scraped) bool { return fillString(&d.PropertyType, s.PropertyType) }},
	{"maxGuests", func(d *listing.Stored, s listing.Scraped) bool { return fillInt(&d.MaxGuests, s.MaxGuests) }},
	{"bedrooms", func(d *listing.Stored, s listing.Scraped) bool { return fillInt(&d.Bedrooms, s.Bedrooms) }},
	{"beds", func(d *listing.Stored, s listing.Scraped) bool { return fillInt(&d.Beds, s.Beds) }},
	{"bathrooms", func(d *listing.Stored, s listing.Scraped) bool { return fillInt(&d.Bathrooms, s.Bathrooms) }},
	{"checkIn", func(d *listing.Stored, s listing.Scraped) bool { return fillString(&d.CheckIn, s.CheckIn) }},
	{"checkOut", func(d *listing.Stored, s listing.Scraped) bool { return fillString(&d.CheckOut, s.CheckOut) }},
	{"cancellationPolicy", func(d *listing.Stored, s listing.Scraped) bool {
		return fillString(&d.CancellationPolicy, s.CancellationPolicy)
	}},
	{"rating", func(d *listing.Stored, s listing.Scraped) bool { return fillString(&d.Rating, s.Rating) }},
	{"price", func(d *listing.Stored, s listing.Scraped) bool { return fillString(&d.Price, s.Price) }},
	{"currency", func(d *listing.Stored, s listing.Scraped) bool { return fillString(&d.Currency, s.Currency) }},
	{"sourceUrl", func(d *listing.Stored, s listing.Scraped) bool { return fillString(&d.SourceURL, s.SourceURL) }},
}

// Additive folds incoming into a copy of existing and returns the
// result. The caller persists it under the listing lock; this function
// itself never touches metadata on disk.
func (e *Engine) Additive(existing *listing.Stored, incoming listing.Scraped) *listing.Stored {
	out := existing.Clone()
	now := e.now()

	for _, f := range protectedFields {
		if f.fill(out, incoming) {
			e.log.Debugf("Merge %s: filled %s", out.ID, f.name)
		}
	}

	out.Amenities = unionStrings(out.Amenities, incoming.Amenities)
	out.HouseRules = unionStrings(out.HouseRules, incoming.HouseRules)
	out.Highlights = unionStrings(out.Highlights, incoming.Highlights)
	out.SafetyItems = unionStrings(out.SafetyItems, incoming.SafetyItems)

	out.Images = e.unionImages(out.ID, out.Images, incoming.Images)

	if len(incoming.Pricing) > 0 {
		platform := incoming.Platform
		if platform == "" {
			platform = existing.Platform
		}
		if platform != "" {
			if out.Pricing == nil {
				out.Pricing = make(map[string]json.RawMessage)
			}
			if _, present := out.Pricing[string(platform)]; !present {
				out.Pricing[string(platform)] = append(json.RawMessage(nil), incoming.Pricing...)
			}
		}
	}

	scrapedAt := incoming.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = now
	}
	out.ScrapedAt = scrapedAt
	if out.FirstScrapedAt.IsZero() {
		out.FirstScrapedAt = scrapedAt
	}
	out.LastUpdatedAt = now
	out.UpdateCount++
	out.UpdateHistory = append(out.UpdateHistory, listing.UpdateEntry{Date: now})

	return out
}

// unionImages keeps every existing image (existing wins on key
// collision) and appends new incoming images in their incoming order.
// Incoming images are physically copied into the listing's folder
// first; a failed copy skips that one image and keeps going.
func (e *Engine) unionImages(listingID string, existing, incoming []listing.Image) []listing.Image {
	seen := make(map[string]struct{}, len(existing))
	out := make([]listing.Image, 0, len(existing)+len(incoming))
	for _, img := range existing {
		key := img.Key()
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, img)
	}
	for _, img := range incoming {
		key := img.Key()
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		if e.copy != nil && img.Local != "" {
			copied, err := e.copy(img, listingID)
			if err != nil {
				e.log.Warnf("Merge %s: skipping image %s: %v", listingID, key, err)
				continue
			}
			img = copied
		}
		seen[key] = struct{}{}
		out = append(out, img)
	}
	return out
}

// unionStrings produces the set union, preserving first-seen order.
func unionStrings(existing, incoming []string) []string {
	if len(existing) == 0 && len(incoming) == 0 {
		return existing
	}
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, lists := range [][]string{existing, incoming} {
		for _, v := range lists {
			if v == "" {
				continue
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func fillString(dst *string, src string) bool {
	if *dst != "" || src == "" {
		return false
	}
	*dst = src
	return true
}

func fillInt(dst *int, src int) bool {
	if *dst != 0 || src == 0 {
		return false
	}
	*dst = src
	return true
}

func fillFloat(dst *float64, src float64) bool {
	if *dst != 0 || src == 0 {
		return false
	}
	*dst = src
	return true
}
