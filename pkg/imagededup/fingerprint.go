// Package imagededup finds near-duplicate listing photos. Two
// interchangeable fingerprint strategies sit behind one interface: a
// fast 64-bit perceptual hash compared by Hamming distance, and an
// embedding-vector backend compared by cosine similarity.
package imagededup

import "github.com/micheldegeofroy/unidown/pkg/listing"

// Default duplicate thresholds, used when a caller passes 0.
const (
	// DefaultHashThreshold is the maximum Hamming distance (in bits)
	// at which two perceptual hashes count as duplicates.
	DefaultHashThreshold = 5

	// DefaultEmbeddingThreshold is the minimum cosine similarity at
	// which two embedding vectors count as duplicates.
	DefaultEmbeddingThreshold = 0.92

	// EmbeddingImageCap bounds how many images one embedding call will
	// fingerprint; the rest of the input list is passed through
	// unprocessed and the truncation is reported.
	EmbeddingImageCap = 100
)

// Fingerprint is an opaque per-strategy image signature.
type Fingerprint interface{}

// Strategy is one fingerprint backend.
type Strategy interface {
	Name() string

	// Ready reports whether the backend can fingerprint at all. A
	// backend that failed to initialize returns an error wrapping
	// listing.ErrCapabilityUnavailable; callers must check this before
	// running the grouping algorithm.
	Ready() error

	// Fingerprint computes the signature for an image file. It returns
	// nil for unreadable or missing files and never errors past this
	// boundary; nil fingerprints are always treated as unique.
	Fingerprint(path string) Fingerprint

	// Match reports whether b duplicates a under the given threshold
	// (0 means the strategy default), plus a similarity score in [0,1].
	Match(a, b Fingerprint, threshold float64) (score float64, dup bool)

	// Cap is the per-call image limit, 0 for unbounded.
	Cap() int
}

// Resolver maps a record-local image path onto the filesystem.
// store.PathResolver satisfies it.
type Resolver interface {
	Resolve(local string) (string, error)
}

// Annotated is one input image with its duplicate verdict.
type Annotated struct {
	listing.Image
	IsDuplicate bool    `json:"isDuplicate"`
	Similarity  float64 `json:"similarity,omitempty"`
	Group       int     `json:"group"`
}
