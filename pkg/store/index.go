package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/micheldegeofroy/unidown/pkg/identity"
	"github.com/micheldegeofroy/unidown/pkg/listing"
)

// Index is a sqlite side table over the folder tree: it maps normalized
// source URLs to listing ids for repeat-scrape lookups and keeps an
// append-only merge event log. It is rebuildable from a folder scan and
// never authoritative.
type Index struct {
	sql *sql.DB
}

// OpenIndex opens (and if needed creates) the index database.
func OpenIndex(path string) (*Index, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS listings (
  id              TEXT PRIMARY KEY,
  source_url_norm TEXT NOT NULL,
  platform        TEXT NOT NULL,
  updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_listings_source ON listings(source_url_norm);
CREATE TABLE IF NOT EXISTS merge_events (
  id          INTEGER PRIMARY KEY,
  occurred_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  listing_id  TEXT NOT NULL,
  platform    TEXT NOT NULL,
  change_type TEXT NOT NULL CHECK (change_type IN ('created','merged','unified','deduped','deleted'))
);
CREATE INDEX IF NOT EXISTS idx_events_listing ON merge_events(listing_id, occurred_at);
	`); err != nil {
		return nil, err
	}
	return &Index{sql: db}, nil
}

// Close closes the underlying database.
func (i *Index) Close() error {
	if i == nil || i.sql == nil {
		return nil
	}
	return i.sql.Close()
}

// Upsert records or refreshes the URL mapping for a listing.
func (i *Index) Upsert(id, sourceURLNorm, platform string) error {
	_, err := i.sql.Exec(`INSERT INTO listings(id, source_url_norm, platform, updated_at) VALUES(?,?,?,CURRENT_TIMESTAMP)
ON CONFLICT(id) DO UPDATE SET source_url_norm = excluded.source_url_norm, platform = excluded.platform, updated_at = CURRENT_TIMESTAMP`, id, sourceURLNorm, platform)
	return err
}

// Lookup resolves a normalized source URL to a listing id.
func (i *Index) Lookup(sourceURLNorm string) (string, bool, error) {
	var id string
	err := i.sql.QueryRow(`SELECT id FROM listings WHERE source_url_norm = ? ORDER BY updated_at DESC LIMIT 1`, sourceURLNorm).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Remove drops a listing's mapping.
func (i *Index) Remove(id string) error {
	_, err := i.sql.Exec(`DELETE FROM listings WHERE id = ?`, id)
	return err
}

// RecordEvent appends to the merge event log.
func (i *Index) RecordEvent(listingID, platform, changeType string) error {
	_, err := i.sql.Exec(`INSERT INTO merge_events(listing_id, platform, change_type) VALUES(?,?,?)`, listingID, platform, changeType)
	return err
}

// MergeEvent is one row of the merge event log.
type MergeEvent struct {
	OccurredAt time.Time
	ListingID  string
	Platform   string
	ChangeType string
}

// RecentEvents returns the most recent merge events, newest first.
func (i *Index) RecentEvents(limit int) ([]MergeEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := i.sql.Query(`SELECT occurred_at, listing_id, platform, change_type FROM merge_events ORDER BY occurred_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MergeEvent
	for rows.Next() {
		var ev MergeEvent
		var at string
		if err := rows.Scan(&at, &ev.ListingID, &ev.Platform, &ev.ChangeType); err != nil {
			return nil, err
		}
		// SQLite CURRENT_TIMESTAMP format, with RFC3339 fallback.
		if t, perr := time.Parse("2006-01-02 15:04:05", at); perr == nil {
			ev.OccurredAt = t
		} else if t2, perr2 := time.Parse(time.RFC3339, at); perr2 == nil {
			ev.OccurredAt = t2
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Rebuild replaces the mapping table with entries derived from a full
// folder scan.
func (i *Index) Rebuild(all []*listing.Stored) error {
	tx, err := i.sql.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.Exec(`DELETE FROM listings`); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	for _, l := range all {
		if _, err = tx.Exec(`INSERT INTO listings(id, source_url_norm, platform) VALUES(?,?,?)`,
			l.ID, identity.Normalize(l.SourceURL), string(l.Platform)); err != nil {
			return fmt.Errorf("rebuild index: %w", err)
		}
	}
	return tx.Commit()
}
