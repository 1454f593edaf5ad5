package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/micheldegeofroy/unidown/pkg/imagededup"
	"github.com/micheldegeofroy/unidown/pkg/ingest"
	"github.com/micheldegeofroy/unidown/pkg/listing"
	"github.com/micheldegeofroy/unidown/pkg/lock"
	"github.com/micheldegeofroy/unidown/pkg/merge"
	"github.com/micheldegeofroy/unidown/pkg/store"
	"github.com/micheldegeofroy/unidown/pkg/unify"
)

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	st, err := store.New(t.TempDir(), log)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	locks := lock.NewManager(log)
	t.Cleanup(locks.Close)

	hash := imagededup.NewHashStrategy(log)
	dedup := imagededup.NewEngine(store.PathResolver{DownloadsRoot: st.Root()}, log)

	srv := &Server{
		Store: st,
		Ingest: &ingest.Orchestrator{
			Store:   st,
			Locks:   locks,
			Merge:   merge.NewEngine(log, nil),
			Unifier: unify.NewEngine(dedup, hash, nil, log),
			Dedup:   dedup,
			Log:     log,
		},
		Dedup: dedup,
		Hash:  hash,
		Log:   log,
	}
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestScrapePayloadAndGet(t *testing.T) {
	_, ts := testServer(t)

	resp := postJSON(t, ts.URL+"/api/scrape", `{
		"payload": {
			"sourceUrl": "https://www.airbnb.com/rooms/12345",
			"title": "Villa Azur",
			"amenities": ["WiFi"]
		}
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scrape status %d", resp.StatusCode)
	}
	var created listing.Stored
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Platform != listing.PlatformAirbnb {
		t.Fatalf("created = %+v", created)
	}

	get, err := http.Get(ts.URL + "/api/listings/" + created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Fatalf("get status %d", get.StatusCode)
	}
	var fetched listing.Stored
	if err := json.NewDecoder(get.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fetched.Title != "Villa Azur" {
		t.Fatalf("fetched = %+v", fetched)
	}
}

func TestScrapeErrors(t *testing.T) {
	_, ts := testServer(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed body", `{"payload": `, http.StatusBadRequest},
		{"no url or payload", `{}`, http.StatusBadRequest},
		{"unknown scraper", `{"url": "https://www.airbnb.com/rooms/1", "platform": "airbnb"}`, http.StatusBadRequest},
		{"bad platform in payload", `{"payload": {"platform": "craigslist"}}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if resp := postJSON(t, ts.URL+"/api/scrape", tc.body); resp.StatusCode != tc.want {
				t.Fatalf("status %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestGetMissingListing(t *testing.T) {
	_, ts := testServer(t)
	resp, err := http.Get(ts.URL + "/api/listings/nope")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404", resp.StatusCode)
	}
}

func TestLockConflictMapsTo409(t *testing.T) {
	srv, ts := testServer(t)
	srv.Ingest.LockTimeout = 50 * time.Millisecond

	resp := postJSON(t, ts.URL+"/api/scrape", `{
		"payload": {"sourceUrl": "https://www.airbnb.com/rooms/1"}
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	var created listing.Stored
	json.NewDecoder(resp.Body).Decode(&created)

	if !srv.Ingest.Locks.TryAcquire(created.ID) {
		t.Fatal("could not take lock")
	}
	defer srv.Ingest.Locks.Release(created.ID)

	resp = postJSON(t, ts.URL+"/api/scrape", `{
		"payload": {"sourceUrl": "https://www.airbnb.com/rooms/1"}
	}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status %d, want 409", resp.StatusCode)
	}
}

func TestUnifyEndpoint(t *testing.T) {
	srv, ts := testServer(t)
	for _, l := range []*listing.Stored{
		{ID: "airbnb_a", Platform: listing.PlatformAirbnb, Title: "Villa", SourceURL: "https://www.airbnb.com/rooms/1"},
		{ID: "booking_b", Platform: listing.PlatformBooking, Title: "Villa Deluxe", SourceURL: "https://www.booking.com/hotel/x.html"},
	} {
		if err := srv.Store.Save(l); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	resp := postJSON(t, ts.URL+"/api/unify", `{
		"leftId": "airbnb_a",
		"rightId": "booking_b",
		"title": "Villa (both platforms)",
		"deleteSources": true
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unify status %d", resp.StatusCode)
	}
	var unified listing.Stored
	if err := json.NewDecoder(resp.Body).Decode(&unified); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if unified.Platform != listing.PlatformUnified || unified.Title != "Villa (both platforms)" {
		t.Fatalf("unified = %+v", unified)
	}
	if len(unified.Sources) != 2 {
		t.Fatalf("sources = %+v", unified.Sources)
	}

	// Absorbed sources are gone, the unified record remains.
	if _, err := srv.Store.Load("airbnb_a"); err == nil {
		t.Fatal("left source survived deleteSources")
	}
	if _, err := srv.Store.Load(unified.ID); err != nil {
		t.Fatalf("unified record missing: %v", err)
	}
}

func TestUnifyConflictWhileTargetLocked(t *testing.T) {
	srv, ts := testServer(t)
	srv.Ingest.LockTimeout = 50 * time.Millisecond

	for _, l := range []*listing.Stored{
		{
			ID:        "unified_1",
			Platform:  listing.PlatformUnified,
			Platforms: []listing.Platform{listing.PlatformAirbnb},
			Title:     "Villa",
		},
		{ID: "booking_b", Platform: listing.PlatformBooking, Title: "Villa Deluxe"},
	} {
		if err := srv.Store.Save(l); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	if !srv.Ingest.Locks.TryAcquire("unified_1") {
		t.Fatal("could not take lock")
	}
	defer srv.Ingest.Locks.Release("unified_1")

	resp := postJSON(t, ts.URL+"/api/unify", `{"leftId": "unified_1", "rightId": "booking_b"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status %d, want 409", resp.StatusCode)
	}

	// The locked record must be untouched.
	stored, err := srv.Store.Load("unified_1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(stored.Platforms) != 1 || !stored.MergedAt.IsZero() {
		t.Fatalf("listing mutated while locked: %+v", stored)
	}
}

func TestUnifyEndpointValidation(t *testing.T) {
	_, ts := testServer(t)

	if resp := postJSON(t, ts.URL+"/api/unify", `{"leftId": "same", "rightId": "same"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("identical ids: status %d", resp.StatusCode)
	}
	if resp := postJSON(t, ts.URL+"/api/unify", `{"leftId": "a", "rightId": "b"}`); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing listings: status %d", resp.StatusCode)
	}
}

func TestImagesEndpoints(t *testing.T) {
	_, ts := testServer(t)

	// Unresolvable local paths make every image unique; the shape of the
	// response is what is under test here.
	body := `{"images": [{"local": "downloads/x/images/1.jpg"}, {"local": "downloads/x/images/2.jpg"}]}`

	resp := postJSON(t, ts.URL+"/api/images/analyze", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analyze status %d", resp.StatusCode)
	}
	var analyze imagededup.AnalyzeResult
	if err := json.NewDecoder(resp.Body).Decode(&analyze); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(analyze.Images) != 2 || analyze.Duplicates != 0 {
		t.Fatalf("analyze = %+v", analyze)
	}

	resp = postJSON(t, ts.URL+"/api/images/dedupe", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dedupe status %d", resp.StatusCode)
	}
	var dedupe imagededup.DedupeResult
	if err := json.NewDecoder(resp.Body).Decode(&dedupe); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(dedupe.Unique) != 2 || len(dedupe.Removed) != 0 {
		t.Fatalf("dedupe = %+v", dedupe)
	}

	// No embedding backend is configured on this server.
	resp = postJSON(t, ts.URL+"/api/images/analyze", `{"images": [], "strategy": "embedding"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("embedding status %d, want 503", resp.StatusCode)
	}
	resp = postJSON(t, ts.URL+"/api/images/analyze", `{"images": [], "strategy": "simhash"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown strategy status %d, want 400", resp.StatusCode)
	}
}

func TestDeleteEndpoint(t *testing.T) {
	srv, ts := testServer(t)
	if err := srv.Store.Save(&listing.Stored{ID: "airbnb_a", Platform: listing.PlatformAirbnb}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/listings/airbnb_a", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d", resp.StatusCode)
	}
	if _, err := srv.Store.Load("airbnb_a"); err == nil {
		t.Fatal("listing survived delete")
	}
}

func TestEventsWithoutIndex(t *testing.T) {
	_, ts := testServer(t)
	resp, err := http.Get(ts.URL + "/api/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events status %d", resp.StatusCode)
	}
}

func TestListEndpoint(t *testing.T) {
	srv, ts := testServer(t)
	for i := 0; i < 3; i++ {
		if err := srv.Store.Save(&listing.Stored{ID: fmt.Sprintf("airbnb_%d", i)}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	resp, err := http.Get(ts.URL + "/api/listings")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var all []listing.Stored
	if err := json.NewDecoder(resp.Body).Decode(&all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("list = %d entries", len(all))
	}
}
