// Package unify combines two stored listings believed to be the same
// physical property into one unified listing with per-platform source
// provenance. Unification only ever accretes: a unified listing never
// reverts to single-platform.
package unify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/micheldegeofroy/unidown/pkg/imagededup"
	"github.com/micheldegeofroy/unidown/pkg/listing"
	"github.com/micheldegeofroy/unidown/pkg/merge"
	"github.com/micheldegeofroy/unidown/pkg/store"
)

// Engine performs cross-platform unification.
type Engine struct {
	dedup *imagededup.Engine
	hash  *imagededup.HashStrategy
	copy  merge.CopyFunc
	log   *logrus.Logger
	now   func() time.Time
}

// NewEngine creates a unification engine. copyFn copies images into the
// unified listing's folder and may be nil for storage-free use.
func NewEngine(dedup *imagededup.Engine, hash *imagededup.HashStrategy, copyFn merge.CopyFunc, log *logrus.Logger) *Engine {
	return &Engine{dedup: dedup, hash: hash, copy: copyFn, log: log, now: time.Now}
}

// WithClock injects a clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Edited carries the caller's post-edit final values for the unified
// record. Empty fields fall back to left's values.
type Edited struct {
	Title       string
	Description string
	Images      []listing.Image
}

// Unify merges right into left. When left is already unified its id and
// folder are reused (update case); otherwise a new unified id is
// allocated. Neither source listing is deleted here; that is the
// caller's decision.
func (e *Engine) Unify(left, right *listing.Stored, edited Edited) (*listing.Stored, error) {
	if left == nil || right == nil {
		return nil, fmt.Errorf("unify: %w: missing listing", listing.ErrInvalidInput)
	}
	now := e.now()

	out := left.Clone()
	updating := left.Platform == listing.PlatformUnified
	if !updating {
		out.ID = store.NewUnifiedID(now)
		out.Platform = listing.PlatformUnified
		out.Platforms = nil
		out.Sources = nil
	}

	out.Platforms = unionPlatforms(out.Platforms, contributors(left), contributors(right))

	if out.Sources == nil {
		out.Sources = make(map[string]listing.Source)
	}
	addSource(out.Sources, left)
	addSource(out.Sources, right)

	if edited.Title != "" {
		out.Title = edited.Title
	}
	if edited.Description != "" {
		out.Description = edited.Description
	}

	// Pricing accumulates per platform; a platform's pricing is never
	// replaced once captured.
	out.Pricing = unionPricing(out.Pricing, left.Pricing, right.Pricing)

	images := edited.Images
	if images == nil {
		images = append(append([]listing.Image(nil), left.Images...), right.Images...)
	}
	deduped, err := e.dedup.Dedupe(images, 0, e.hash)
	if err != nil {
		// The hash backend is always available; an error here means the
		// engine was miswired rather than a per-image failure.
		return nil, err
	}

	out.Images = out.Images[:0]
	for _, img := range deduped.Unique {
		if e.copy != nil && img.Local != "" {
			copied, err := e.copy(img, out.ID)
			if err != nil {
				e.log.Warnf("Unify %s: skipping image %s: %v", out.ID, img.Key(), err)
				continue
			}
			img = copied
		}
		out.Images = append(out.Images, img)
	}

	if out.SourceURL == "" {
		out.SourceURL = left.SourceURL
	}
	if out.FirstScrapedAt.IsZero() {
		out.FirstScrapedAt = now
	}
	out.MergedAt = now
	out.LastUpdatedAt = now

	return out, nil
}

// contributors lists the platforms a listing brings to a unification.
func contributors(l *listing.Stored) []listing.Platform {
	if l.Platform == listing.PlatformUnified {
		return l.Platforms
	}
	return []listing.Platform{l.Platform}
}

// addSource imports provenance from a contributor. A unified right
// brings all of its accumulated sources along.
func addSource(dst map[string]listing.Source, l *listing.Stored) {
	if l.Platform == listing.PlatformUnified {
		for platform, src := range l.Sources {
			if _, present := dst[platform]; !present {
				dst[platform] = src
			}
		}
		return
	}
	if _, present := dst[string(l.Platform)]; !present {
		dst[string(l.Platform)] = listing.Source{ID: l.ID, URL: l.SourceURL, Title: l.Title}
	}
}

func unionPlatforms(groups ...[]listing.Platform) []listing.Platform {
	seen := make(map[listing.Platform]struct{})
	var out []listing.Platform
	for _, group := range groups {
		for _, p := range group {
			if p == "" || p == listing.PlatformUnified {
				continue
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func unionPricing(maps ...map[string]json.RawMessage) map[string]json.RawMessage {
	var out map[string]json.RawMessage
	for _, m := range maps {
		for platform, raw := range m {
			if out == nil {
				out = make(map[string]json.RawMessage)
			}
			if _, present := out[platform]; !present {
				out[platform] = append(json.RawMessage(nil), raw...)
			}
		}
	}
	return out
}
