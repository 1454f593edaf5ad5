package imagededup

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/micheldegeofroy/unidown/pkg/listing"
)

// Engine runs the grouping algorithm over a fingerprint strategy.
type Engine struct {
	resolver Resolver
	log      *logrus.Logger
}

// NewEngine creates a dedup engine. The resolver maps record-local
// image paths onto the filesystem.
func NewEngine(resolver Resolver, log *logrus.Logger) *Engine {
	return &Engine{resolver: resolver, log: log}
}

// AnalyzeResult annotates every processed image and groups duplicates.
type AnalyzeResult struct {
	// Images holds the processed images in their original order.
	Images []Annotated `json:"images"`
	// Groups are in first-seen order; element 0 of each group is the
	// canonical member, the rest are its duplicates sorted by
	// descending similarity.
	Groups [][]Annotated `json:"groups"`
	// Duplicates is the total count of non-canonical members.
	Duplicates int `json:"duplicates"`
	// Truncated is how many trailing input images were not processed
	// because of the strategy's per-call cap.
	Truncated int `json:"truncated,omitempty"`
}

// DedupeResult splits the input into kept and removed images.
type DedupeResult struct {
	Unique    []listing.Image `json:"unique"`
	Removed   []listing.Image `json:"removed"`
	Truncated int             `json:"truncated,omitempty"`
}

// Analyze fingerprints the images and groups near-duplicates. It fails
// whole (never silently skipping) when the strategy's backend is
// unavailable.
func (e *Engine) Analyze(images []listing.Image, threshold float64, s Strategy) (*AnalyzeResult, error) {
	if err := s.Ready(); err != nil {
		return nil, err
	}

	work := images
	truncated := 0
	if limit := s.Cap(); limit > 0 && len(work) > limit {
		truncated = len(work) - limit
		work = work[:limit]
		e.log.Warnf("Dedup (%s): input capped at %d images, %d not processed", s.Name(), limit, truncated)
	}

	fps := make([]Fingerprint, len(work))
	for i, img := range work {
		path, err := e.resolver.Resolve(img.Local)
		if err != nil {
			// Unresolvable paths behave like unreadable files.
			e.log.Debugf("Dedup: %v", err)
			continue
		}
		fps[i] = s.Fingerprint(path)
	}

	annotated := make([]Annotated, len(work))
	for i, img := range work {
		annotated[i] = Annotated{Image: img, Group: -1}
	}

	// Greedy single-linkage-to-canonical: each unassigned image opens a
	// group and claims every later unassigned image whose fingerprint
	// matches the canonical member's. Duplicates are never compared
	// against each other, so a drifting chain of near-duplicates can
	// split into several groups depending on scan order.
	var groups [][]Annotated
	duplicates := 0
	for i := range annotated {
		if annotated[i].Group >= 0 {
			continue
		}
		groupIdx := len(groups)
		annotated[i].Group = groupIdx
		group := []Annotated{annotated[i]}

		if fps[i] != nil {
			for j := i + 1; j < len(annotated); j++ {
				if annotated[j].Group >= 0 || fps[j] == nil {
					continue
				}
				score, dup := s.Match(fps[i], fps[j], threshold)
				if !dup {
					continue
				}
				annotated[j].Group = groupIdx
				annotated[j].IsDuplicate = true
				annotated[j].Similarity = score
				group = append(group, annotated[j])
				duplicates++
			}
		}

		if len(group) > 1 {
			dups := group[1:]
			sort.SliceStable(dups, func(a, b int) bool { return dups[a].Similarity > dups[b].Similarity })
		}
		groups = append(groups, group)
	}

	return &AnalyzeResult{
		Images:     annotated,
		Groups:     groups,
		Duplicates: duplicates,
		Truncated:  truncated,
	}, nil
}

// Dedupe returns only canonical members, one per group, in first-seen
// order. Images past the strategy's cap were never examined and are
// kept rather than dropped.
func (e *Engine) Dedupe(images []listing.Image, threshold float64, s Strategy) (*DedupeResult, error) {
	res, err := e.Analyze(images, threshold, s)
	if err != nil {
		return nil, err
	}

	out := &DedupeResult{Truncated: res.Truncated}
	for _, a := range res.Images {
		if a.IsDuplicate {
			out.Removed = append(out.Removed, a.Image)
		} else {
			out.Unique = append(out.Unique, a.Image)
		}
	}
	if res.Truncated > 0 {
		out.Unique = append(out.Unique, images[len(images)-res.Truncated:]...)
	}
	return out, nil
}

// StrategyByName resolves the wire name of a strategy against the
// configured backends.
func StrategyByName(name string, hash *HashStrategy, embedding *EmbeddingStrategy) (Strategy, error) {
	switch name {
	case "", "hash":
		return hash, nil
	case "embedding":
		if embedding == nil {
			return nil, fmt.Errorf("%w: embedding backend not configured", listing.ErrCapabilityUnavailable)
		}
		return embedding, nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", listing.ErrInvalidInput, name)
	}
}
