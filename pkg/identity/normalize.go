// Package identity canonicalizes listing source URLs so repeat scrapes
// of the same property resolve to the same stored record.
package identity

import (
	"net/url"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"

	"github.com/micheldegeofroy/unidown/pkg/listing"
)

// Normalize reduces a source URL to its identity key: scheme, host and
// path with the trailing slash removed; query and fragment are dropped
// since platforms append tracking parameters inconsistently between
// scrapes. Best-effort: anything that doesn't parse as a URL is
// returned unchanged rather than failing the caller.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" && u.Port() == "80" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && u.Port() == "443" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	if strings.HasSuffix(u.Path, "/") && len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	return u.String()
}

var platformDomains = map[string]listing.Platform{
	"airbnb.com":     listing.PlatformAirbnb,
	"airbnb.co.uk":   listing.PlatformAirbnb,
	"booking.com":    listing.PlatformBooking,
	"vrbo.com":       listing.PlatformVRBO,
	"homeaway.com":   listing.PlatformVRBO,
	"abritel.fr":     listing.PlatformVRBO,
	"fewo-direkt.de": listing.PlatformVRBO,
}

// DetectPlatform maps a listing URL onto its platform by registered
// domain, so locale subdomains (www, de, es.airbnb.com) all resolve the
// same way. Returns false for hosts that belong to no known platform.
func DetectPlatform(raw string) (listing.Platform, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", false
	}
	domain, err := publicsuffix.Domain(u.Hostname())
	if err != nil {
		return "", false
	}
	p, ok := platformDomains[strings.ToLower(domain)]
	return p, ok
}
