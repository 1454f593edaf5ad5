package merge

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/micheldegeofroy/unidown/pkg/listing"
	"github.com/micheldegeofroy/unidown/pkg/store"
)

// NewDiskCopier returns a CopyFunc that copies an image file into the
// target listing's images/ directory and rewrites the reference's local
// path. The destination name is derived from the image's identity key,
// not the source base name, so two distinct images that happen to share
// a file name cannot alias to one file. Copies whose target already
// exists are skipped, so re-merging the same scrape does not rewrite
// image bytes.
func NewDiskCopier(resolver store.PathResolver) CopyFunc {
	return func(img listing.Image, listingID string) (listing.Image, error) {
		src, err := resolver.Resolve(img.Local)
		if err != nil {
			return listing.Image{}, err
		}

		name := imageFileName(img, src)
		dstDir := filepath.Join(resolver.DownloadsRoot, listingID, "images")
		dst := filepath.Join(dstDir, name)

		rewritten := img
		rewritten.Local = path.Join("downloads", listingID, "images", name)

		if src == dst {
			return rewritten, nil
		}
		if _, err := os.Stat(dst); err == nil {
			return rewritten, nil
		}
		if err := os.MkdirAll(dstDir, 0o755); err != nil {
			return listing.Image{}, fmt.Errorf("copy image %s: %w", name, err)
		}
		if err := copyFile(src, dst); err != nil {
			return listing.Image{}, fmt.Errorf("copy image %s: %w", name, err)
		}
		return rewritten, nil
	}
}

// imageFileName hashes the image's identity key the same way the
// download path names fetched files by their origin URL, keeping one
// image at one name across listing folders.
func imageFileName(img listing.Image, src string) string {
	sum := sha1.Sum([]byte(img.Key()))
	ext := strings.ToLower(filepath.Ext(src))
	if ext == "" || len(ext) > 5 {
		ext = ".jpg"
	}
	return hex.EncodeToString(sum[:])[:10] + ext
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
