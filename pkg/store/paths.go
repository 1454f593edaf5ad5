package store

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/micheldegeofroy/unidown/pkg/listing"
)

// PathResolver maps the local path convention used in listing records
// onto real directories: paths under downloads/ resolve inside the
// listing store root, everything else resolves under the static-assets
// root. Resolved paths escaping their root are rejected before any
// read, copy or delete touches them.
type PathResolver struct {
	DownloadsRoot string
	StaticRoot    string
}

// Resolve turns a record-local path into an absolute filesystem path.
func (r PathResolver) Resolve(local string) (string, error) {
	if strings.TrimSpace(local) == "" {
		return "", fmt.Errorf("resolve path: %w: empty path", listing.ErrInvalidInput)
	}

	root := r.StaticRoot
	rel := local
	switch {
	case strings.HasPrefix(local, "/downloads/"):
		root = r.DownloadsRoot
		rel = strings.TrimPrefix(local, "/downloads/")
	case strings.HasPrefix(local, "downloads/"):
		root = r.DownloadsRoot
		rel = strings.TrimPrefix(local, "downloads/")
	default:
		rel = strings.TrimPrefix(local, "/")
	}

	resolved := filepath.Join(root, filepath.FromSlash(rel))
	if !withinRoot(root, resolved) {
		return "", fmt.Errorf("resolve path %q: %w: escapes allowed root", local, listing.ErrInvalidInput)
	}
	return resolved, nil
}

func withinRoot(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
