package store

import (
	"path/filepath"
	"testing"

	"github.com/micheldegeofroy/unidown/pkg/listing"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := OpenIndex(filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestIndexUpsertLookup(t *testing.T) {
	idx := testIndex(t)

	if err := idx.Upsert("airbnb_abc", "https://www.airbnb.com/rooms/1", "airbnb"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	id, ok, err := idx.Lookup("https://www.airbnb.com/rooms/1")
	if err != nil || !ok || id != "airbnb_abc" {
		t.Fatalf("lookup = (%q, %v, %v)", id, ok, err)
	}

	// Upsert with the same id refreshes the mapping instead of duplicating.
	if err := idx.Upsert("airbnb_abc", "https://www.airbnb.com/rooms/2", "airbnb"); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if _, ok, _ := idx.Lookup("https://www.airbnb.com/rooms/1"); ok {
		t.Fatal("stale mapping survived upsert")
	}
	if id, ok, _ := idx.Lookup("https://www.airbnb.com/rooms/2"); !ok || id != "airbnb_abc" {
		t.Fatalf("refreshed mapping missing: (%q, %v)", id, ok)
	}

	if _, ok, err := idx.Lookup("https://www.airbnb.com/rooms/999"); err != nil || ok {
		t.Fatalf("unknown url: (%v, %v)", ok, err)
	}
}

func TestIndexRemove(t *testing.T) {
	idx := testIndex(t)
	if err := idx.Upsert("airbnb_abc", "https://www.airbnb.com/rooms/1", "airbnb"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := idx.Remove("airbnb_abc"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := idx.Lookup("https://www.airbnb.com/rooms/1"); ok {
		t.Fatal("mapping survived remove")
	}
}

func TestIndexEvents(t *testing.T) {
	idx := testIndex(t)

	for _, ev := range []struct{ id, platform, change string }{
		{"airbnb_abc", "airbnb", "created"},
		{"airbnb_abc", "airbnb", "merged"},
		{"unified_1", "unified", "unified"},
	} {
		if err := idx.RecordEvent(ev.id, ev.platform, ev.change); err != nil {
			t.Fatalf("record %s: %v", ev.change, err)
		}
	}

	events, err := idx.RecentEvents(10)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	// Newest first.
	if events[0].ChangeType != "unified" || events[2].ChangeType != "created" {
		t.Fatalf("event order: %+v", events)
	}
	if events[0].OccurredAt.IsZero() {
		t.Fatal("timestamp not parsed")
	}
}

func TestIndexRejectsUnknownChangeType(t *testing.T) {
	idx := testIndex(t)
	if err := idx.RecordEvent("airbnb_abc", "airbnb", "vaporized"); err == nil {
		t.Fatal("unknown change type accepted")
	}
}

func TestIndexRebuild(t *testing.T) {
	idx := testIndex(t)
	if err := idx.Upsert("stale_id", "https://www.airbnb.com/rooms/old", "airbnb"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	err := idx.Rebuild([]*listing.Stored{
		{ID: "airbnb_abc", Platform: listing.PlatformAirbnb, SourceURL: "https://www.airbnb.com/rooms/1?utm_source=x"},
		{ID: "booking_def", Platform: listing.PlatformBooking, SourceURL: "https://www.booking.com/hotel/fr/villa.html"},
	})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if _, ok, _ := idx.Lookup("https://www.airbnb.com/rooms/old"); ok {
		t.Fatal("stale entry survived rebuild")
	}
	// Rebuild normalizes source URLs before inserting.
	if id, ok, _ := idx.Lookup("https://www.airbnb.com/rooms/1"); !ok || id != "airbnb_abc" {
		t.Fatalf("rebuilt mapping: (%q, %v)", id, ok)
	}
}
