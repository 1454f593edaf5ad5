package listing

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// ParseScraped builds a Scraped record from an untrusted JSON payload.
// Unknown fields are ignored and missing fields stay zero; the only hard
// failures are non-JSON input, an unknown platform tag and out-of-range
// coordinates.
func ParseScraped(payload []byte) (Scraped, error) {
	if !gjson.ValidBytes(payload) {
		return Scraped{}, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidInput)
	}
	body := string(payload)

	var s Scraped
	s.ID = gjson.Get(body, "id").String()
	s.SourceURL = gjson.Get(body, "sourceUrl").String()
	s.Title = gjson.Get(body, "title").String()
	s.Description = gjson.Get(body, "description").String()

	if p := gjson.Get(body, "platform").String(); p != "" {
		platform, ok := ParsePlatform(p)
		if !ok {
			return Scraped{}, fmt.Errorf("%w: unknown platform %q", ErrInvalidInput, p)
		}
		s.Platform = platform
	}

	s.Location = Location{
		Address: gjson.Get(body, "location.address").String(),
		City:    gjson.Get(body, "location.city").String(),
		Country: gjson.Get(body, "location.country").String(),
		Lat:     gjson.Get(body, "location.lat").Float(),
		Lng:     gjson.Get(body, "location.lng").Float(),
	}
	if err := s.Location.Validate(); err != nil {
		return Scraped{}, err
	}

	s.HostName = gjson.Get(body, "hostName").String()
	s.PropertyType = gjson.Get(body, "propertyType").String()
	s.MaxGuests = int(gjson.Get(body, "maxGuests").Int())
	s.Bedrooms = int(gjson.Get(body, "bedrooms").Int())
	s.Beds = int(gjson.Get(body, "beds").Int())
	s.Bathrooms = int(gjson.Get(body, "bathrooms").Int())
	s.CheckIn = gjson.Get(body, "checkIn").String()
	s.CheckOut = gjson.Get(body, "checkOut").String()
	s.CancellationPolicy = gjson.Get(body, "cancellationPolicy").String()
	s.Rating = gjson.Get(body, "rating").String()
	s.Price = gjson.Get(body, "price").String()
	s.Currency = gjson.Get(body, "currency").String()

	s.Amenities = stringArray(body, "amenities")
	s.HouseRules = stringArray(body, "houseRules")
	s.Highlights = stringArray(body, "highlights")
	s.SafetyItems = stringArray(body, "safetyItems")

	for _, img := range gjson.Get(body, "images").Array() {
		im := Image{
			Original: gjson.Get(img.Raw, "original").String(),
			Local:    gjson.Get(img.Raw, "local").String(),
		}
		// A bare string entry is treated as the original URL.
		if img.Type == gjson.String {
			im.Original = img.String()
		}
		if im.Key() != "" {
			s.Images = append(s.Images, im)
		}
	}

	if pricing := gjson.Get(body, "pricing"); pricing.Exists() && pricing.IsObject() {
		s.Pricing = []byte(pricing.Raw)
	}

	if ts := gjson.Get(body, "scrapedAt").String(); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			s.ScrapedAt = t
		}
	}

	return s, nil
}

func stringArray(body, path string) []string {
	results := gjson.Get(body, path).Array()
	if len(results) == 0 {
		return nil
	}
	out := make([]string, 0, len(results))
	for _, r := range results {
		if v := r.String(); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
