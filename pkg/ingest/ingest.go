// Package ingest drives the scrape flow: a platform scraper produces a
// partial listing, and the orchestrator folds it into the store under
// the listing's lock, either merging into the existing record for that
// normalized URL or creating a new one.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/micheldegeofroy/unidown/pkg/identity"
	"github.com/micheldegeofroy/unidown/pkg/imagededup"
	"github.com/micheldegeofroy/unidown/pkg/listing"
	"github.com/micheldegeofroy/unidown/pkg/lock"
	"github.com/micheldegeofroy/unidown/pkg/merge"
	"github.com/micheldegeofroy/unidown/pkg/store"
	"github.com/micheldegeofroy/unidown/pkg/unify"
)

// Scraper is a platform-specific scrape collaborator. Implementations
// own their extraction heuristics, retries and evasion; the orchestrator
// only consumes the partial record they produce.
type Scraper interface {
	Name() string
	Scrape(ctx context.Context, url string) (listing.Scraped, error)
}

// DefaultLockTimeout bounds how long an ingest waits on a listing under
// concurrent modification before reporting a retryable conflict.
const DefaultLockTimeout = 10 * time.Second

// Orchestrator wires the store, lock manager and merge engine together.
// Every write path that mutates a stored listing goes through here so
// the listing's lock is always held around the load/save pair.
type Orchestrator struct {
	Store       *store.Store
	Index       *store.Index
	Locks       *lock.Manager
	Merge       *merge.Engine
	Unifier     *unify.Engine
	Dedup       *imagededup.Engine
	Fetch       *Downloader
	Log         *logrus.Logger
	LockTimeout time.Duration
}

func (o *Orchestrator) timeout() time.Duration {
	if o.LockTimeout > 0 {
		return o.LockTimeout
	}
	return DefaultLockTimeout
}

// ScrapeAndIngest runs one scraper against one URL and folds the
// result in.
func (o *Orchestrator) ScrapeAndIngest(ctx context.Context, s Scraper, url string) (*listing.Stored, error) {
	scraped, err := s.Scrape(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", url, err)
	}
	if scraped.SourceURL == "" {
		scraped.SourceURL = url
	}
	return o.Ingest(ctx, scraped)
}

// Ingest folds one scraped record into the store. Re-scrapes of a known
// normalized URL merge additively; anything else creates a new listing.
// A failed persist after a merge restores the pre-merge metadata.
func (o *Orchestrator) Ingest(ctx context.Context, scraped listing.Scraped) (*listing.Stored, error) {
	if scraped.SourceURL == "" {
		return nil, fmt.Errorf("ingest: %w: missing source url", listing.ErrInvalidInput)
	}
	if err := scraped.Location.Validate(); err != nil {
		return nil, err
	}
	if scraped.Platform == "" {
		p, ok := identity.DetectPlatform(scraped.SourceURL)
		if !ok {
			return nil, fmt.Errorf("ingest %s: %w: cannot determine platform", scraped.SourceURL, listing.ErrInvalidInput)
		}
		scraped.Platform = p
	}

	norm := identity.Normalize(scraped.SourceURL)

	id := ""
	existing, err := o.Store.FindBySourceURL(norm)
	switch {
	case err == nil:
		id = existing.ID
	case errors.Is(err, listing.ErrNotFound):
		id = store.NewID(scraped.Platform, norm)
	default:
		return nil, err
	}

	if err := o.Locks.Acquire(ctx, id, o.timeout()); err != nil {
		return nil, err
	}
	defer o.Locks.Release(id)

	// Re-read under the lock: the record may have appeared or changed
	// between the lookup and the acquire.
	existing, err = o.Store.Load(id)
	if err != nil && !errors.Is(err, listing.ErrNotFound) {
		return nil, err
	}

	scraped.Images = o.downloadImages(ctx, id, scraped.Images)

	if existing == nil {
		created := newStored(id, scraped, time.Now())
		if err := o.Store.Save(created); err != nil {
			return nil, err
		}
		o.recordEvent(id, scraped.Platform, "created")
		o.Log.Infof("Created listing %s from %s", id, scraped.SourceURL)
		return created, nil
	}

	if _, err := o.Store.Backup(id); err != nil {
		return nil, err
	}
	merged := o.Merge.Additive(existing, scraped)
	if err := o.Store.Save(merged); err != nil {
		if rerr := o.Store.Restore(id); rerr != nil {
			o.Log.Errorf("Restore of %s after failed save also failed: %v", id, rerr)
		}
		return nil, err
	}
	o.Store.DiscardBackup(id)
	o.recordEvent(id, scraped.Platform, "merged")
	o.Log.Infof("Merged scrape into listing %s (update #%d)", id, merged.UpdateCount)
	return merged, nil
}

// Unify merges two stored listings into a unified record. Both source
// listings are locked for the whole load/merge/save window, plus the
// target when a fresh unified id is allocated, so a concurrent ingest
// into the same record cannot interleave with the save.
func (o *Orchestrator) Unify(ctx context.Context, leftID, rightID string, edited unify.Edited, deleteSources bool) (*listing.Stored, error) {
	if leftID == "" || rightID == "" || leftID == rightID {
		return nil, fmt.Errorf("unify: %w: two distinct listing ids required", listing.ErrInvalidInput)
	}

	ids := []string{leftID, rightID}
	sort.Strings(ids)
	var held []string
	defer func() {
		for _, id := range held {
			o.Locks.Release(id)
		}
	}()
	for _, id := range ids {
		if err := o.Locks.Acquire(ctx, id, o.timeout()); err != nil {
			return nil, err
		}
		held = append(held, id)
	}

	left, err := o.Store.Load(leftID)
	if err != nil {
		return nil, err
	}
	right, err := o.Store.Load(rightID)
	if err != nil {
		return nil, err
	}

	out, err := o.Unifier.Unify(left, right, edited)
	if err != nil {
		return nil, err
	}

	updating := out.ID == leftID
	if !updating {
		if err := o.Locks.Acquire(ctx, out.ID, o.timeout()); err != nil {
			return nil, err
		}
		held = append(held, out.ID)
	}

	if updating {
		if _, err := o.Store.Backup(out.ID); err != nil {
			return nil, err
		}
	}
	if err := o.Store.Save(out); err != nil {
		if updating {
			if rerr := o.Store.Restore(out.ID); rerr != nil {
				o.Log.Errorf("Restore of %s after failed save also failed: %v", out.ID, rerr)
			}
		}
		return nil, err
	}
	if updating {
		o.Store.DiscardBackup(out.ID)
	}
	o.recordEvent(out.ID, listing.PlatformUnified, "unified")
	o.Log.Infof("Unified %s + %s into %s", leftID, rightID, out.ID)

	if deleteSources {
		for _, id := range []string{leftID, rightID} {
			if id == out.ID {
				continue
			}
			src, err := o.Store.Load(id)
			if err != nil {
				o.Log.Warnf("Could not load source %s for deletion: %v", id, err)
				continue
			}
			if err := o.Store.Delete(id); err != nil {
				o.Log.Warnf("Could not delete source %s: %v", id, err)
				continue
			}
			o.recordEvent(id, src.Platform, "deleted")
		}
	}
	return out, nil
}

// DedupeImages re-runs duplicate detection over a stored listing's
// images and, when apply is set, persists the pruned list. The lock is
// taken before the load so the analyzed set is the one written back.
func (o *Orchestrator) DedupeImages(ctx context.Context, id string, threshold float64, strategy imagededup.Strategy, apply bool) (*imagededup.DedupeResult, error) {
	if err := o.Locks.Acquire(ctx, id, o.timeout()); err != nil {
		return nil, err
	}
	defer o.Locks.Release(id)

	stored, err := o.Store.Load(id)
	if err != nil {
		return nil, err
	}
	result, err := o.Dedup.Dedupe(stored.Images, threshold, strategy)
	if err != nil {
		return nil, err
	}
	if apply && len(result.Removed) > 0 {
		stored.Images = result.Unique
		if err := o.Store.Save(stored); err != nil {
			return nil, err
		}
		o.recordEvent(id, stored.Platform, "deduped")
	}
	return result, nil
}

// Delete removes a listing under its lock.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	if err := o.Locks.Acquire(ctx, id, o.timeout()); err != nil {
		return err
	}
	defer o.Locks.Release(id)

	l, err := o.Store.Load(id)
	if err != nil {
		return err
	}
	if err := o.Store.Delete(id); err != nil {
		return err
	}
	o.recordEvent(id, l.Platform, "deleted")
	return nil
}

// downloadImages fetches remote originals that have no local copy yet.
// Each failure skips that one image; the ingest keeps going.
func (o *Orchestrator) downloadImages(ctx context.Context, id string, images []listing.Image) []listing.Image {
	if o.Fetch == nil {
		return images
	}
	out := images[:0]
	for _, img := range images {
		if img.Original != "" && img.Local == "" {
			name, err := o.Fetch.Download(ctx, img.Original, o.Store.ImagesDir(id))
			if err != nil {
				o.Log.Warnf("Ingest %s: skipping image %s: %v", id, img.Original, err)
				continue
			}
			img.Local = path.Join("downloads", id, "images", name)
		}
		out = append(out, img)
	}
	return out
}

func (o *Orchestrator) recordEvent(id string, platform listing.Platform, change string) {
	if o.Index == nil {
		return
	}
	if err := o.Index.RecordEvent(id, string(platform), change); err != nil {
		o.Log.Warnf("Could not record %s event for %s: %v", change, id, err)
	}
}

// newStored materializes a first-time scrape as a stored record.
// Creation is not a merge: updateCount starts at zero.
func newStored(id string, s listing.Scraped, now time.Time) *listing.Stored {
	scrapedAt := s.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = now
	}
	out := &listing.Stored{
		ID:                 id,
		Platform:           s.Platform,
		Title:              s.Title,
		Description:        s.Description,
		Location:           s.Location,
		HostName:           s.HostName,
		PropertyType:       s.PropertyType,
		MaxGuests:          s.MaxGuests,
		Bedrooms:           s.Bedrooms,
		Beds:               s.Beds,
		Bathrooms:          s.Bathrooms,
		CheckIn:            s.CheckIn,
		CheckOut:           s.CheckOut,
		CancellationPolicy: s.CancellationPolicy,
		Rating:             s.Rating,
		Price:              s.Price,
		Currency:           s.Currency,
		Amenities:          append([]string(nil), s.Amenities...),
		HouseRules:         append([]string(nil), s.HouseRules...),
		Highlights:         append([]string(nil), s.Highlights...),
		SafetyItems:        append([]string(nil), s.SafetyItems...),
		Images:             append([]listing.Image(nil), s.Images...),
		SourceURL:          s.SourceURL,
		ScrapedAt:          scrapedAt,
		FirstScrapedAt:     scrapedAt,
		LastUpdatedAt:      now,
	}
	if len(s.Pricing) > 0 {
		out.Pricing = map[string]json.RawMessage{
			string(s.Platform): append(json.RawMessage(nil), s.Pricing...),
		}
	}
	return out
}
