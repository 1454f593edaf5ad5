// Package airbnb is the reference scraper implementation behind the
// ingest.Scraper interface. Extraction heuristics here are best-effort
// by design; the orchestrator treats everything it returns as partial.
package airbnb

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/micheldegeofroy/unidown/pkg/listing"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0"

// Scraper fetches and parses Airbnb listing pages.
type Scraper struct {
	client *http.Client
}

// New creates a Scraper with a default HTTP client.
func New() *Scraper {
	return &Scraper{client: &http.Client{Timeout: 30 * time.Second}}
}

func (s *Scraper) Name() string { return string(listing.PlatformAirbnb) }

// Scrape downloads a listing page and extracts what it can.
func (s *Scraper) Scrape(ctx context.Context, url string) (listing.Scraped, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return listing.Scraped{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en")

	resp, err := s.client.Do(req)
	if err != nil {
		return listing.Scraped{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return listing.Scraped{}, fmt.Errorf("airbnb: status %d for %s", resp.StatusCode, url)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return listing.Scraped{}, fmt.Errorf("airbnb: parse %s: %w", url, err)
	}

	out := listing.Scraped{
		Platform:  listing.PlatformAirbnb,
		SourceURL: url,
		ScrapedAt: time.Now(),
	}

	out.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	if out.Title == "" {
		out.Title = pageTitle(doc)
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		out.Description = strings.TrimSpace(desc)
	}

	doc.Find(`meta[property="og:image"]`).Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("content"); ok && src != "" {
			out.Images = append(out.Images, listing.Image{Original: src})
		}
	})
	doc.Find("picture img, img[data-original-uri]").Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("data-original-uri")
		if !ok {
			src, ok = sel.Attr("src")
		}
		if ok && strings.HasPrefix(src, "http") {
			out.Images = append(out.Images, listing.Image{Original: src})
		}
	})

	doc.Find(`[data-section-id="AMENITIES_DEFAULT"] li, [data-testid="amenity-row"]`).Each(func(_ int, sel *goquery.Selection) {
		if v := strings.TrimSpace(sel.Text()); v != "" && !strings.HasPrefix(v, "Unavailable") {
			out.Amenities = append(out.Amenities, v)
		}
	})

	return out, nil
}

// pageTitle walks the parsed tree for a <title> element, the same
// fallback a plain fetch would use when the listing layout shifts.
func pageTitle(doc *goquery.Document) string {
	var walk func(n *html.Node) (string, bool)
	walk = func(n *html.Node) (string, bool) {
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil {
				return n.FirstChild.Data, true
			}
			return "", true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if title, ok := walk(c); ok {
				return title, ok
			}
		}
		return "", false
	}
	for _, n := range doc.Nodes {
		if title, ok := walk(n); ok {
			return strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
		}
	}
	return ""
}
