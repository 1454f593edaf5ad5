package merge

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/micheldegeofroy/unidown/pkg/listing"
	"github.com/micheldegeofroy/unidown/pkg/store"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDiskCopierCopiesIntoListingFolder(t *testing.T) {
	root := t.TempDir()
	copier := NewDiskCopier(store.PathResolver{DownloadsRoot: root, StaticRoot: t.TempDir()})

	writeFile(t, filepath.Join(root, "airbnb_a", "images", "photo.jpg"), "jpegbytes")

	got, err := copier(listing.Image{
		Original: "https://a.example/photo.jpg",
		Local:    "downloads/airbnb_a/images/photo.jpg",
	}, "unified_1")
	if err != nil {
		t.Fatalf("copy: %v", err)
	}

	name := filepath.Base(got.Local)
	if filepath.Dir(got.Local) != "downloads/unified_1/images" {
		t.Fatalf("local not rewritten: %q", got.Local)
	}
	data, err := os.ReadFile(filepath.Join(root, "unified_1", "images", name))
	if err != nil {
		t.Fatalf("read copy: %v", err)
	}
	if string(data) != "jpegbytes" {
		t.Fatalf("copied bytes = %q", data)
	}
}

func TestDiskCopierDistinctImagesSharingBaseName(t *testing.T) {
	root := t.TempDir()
	copier := NewDiskCopier(store.PathResolver{DownloadsRoot: root, StaticRoot: t.TempDir()})

	// Different platforms routinely name photos the same on disk; the
	// copies must still land in two separate files.
	writeFile(t, filepath.Join(root, "airbnb_a", "images", "photo.jpg"), "airbnb bytes")
	writeFile(t, filepath.Join(root, "booking_b", "images", "photo.jpg"), "booking bytes")

	first, err := copier(listing.Image{
		Original: "https://a.example/1.jpg",
		Local:    "downloads/airbnb_a/images/photo.jpg",
	}, "unified_1")
	if err != nil {
		t.Fatalf("first copy: %v", err)
	}
	second, err := copier(listing.Image{
		Original: "https://b.example/other.jpg",
		Local:    "downloads/booking_b/images/photo.jpg",
	}, "unified_1")
	if err != nil {
		t.Fatalf("second copy: %v", err)
	}

	if first.Local == second.Local {
		t.Fatalf("distinct images aliased to %q", first.Local)
	}
	for local, want := range map[string]string{
		first.Local:  "airbnb bytes",
		second.Local: "booking bytes",
	} {
		data, err := os.ReadFile(filepath.Join(root, "unified_1", "images", filepath.Base(local)))
		if err != nil {
			t.Fatalf("read %s: %v", local, err)
		}
		if string(data) != want {
			t.Fatalf("%s = %q, want %q", local, data, want)
		}
	}
}

func TestDiskCopierSkipsExistingTarget(t *testing.T) {
	root := t.TempDir()
	copier := NewDiskCopier(store.PathResolver{DownloadsRoot: root, StaticRoot: t.TempDir()})

	src := filepath.Join(root, "airbnb_a", "images", "photo.jpg")
	writeFile(t, src, "v1")
	img := listing.Image{Original: "https://a.example/photo.jpg", Local: "downloads/airbnb_a/images/photo.jpg"}

	first, err := copier(img, "unified_1")
	if err != nil {
		t.Fatalf("first copy: %v", err)
	}
	// A re-merge after the source changed must not rewrite the copy.
	writeFile(t, src, "v2")
	second, err := copier(img, "unified_1")
	if err != nil {
		t.Fatalf("second copy: %v", err)
	}
	if second.Local != first.Local {
		t.Fatalf("local path not stable: %q vs %q", first.Local, second.Local)
	}
	data, err := os.ReadFile(filepath.Join(root, "unified_1", "images", filepath.Base(first.Local)))
	if err != nil {
		t.Fatalf("read copy: %v", err)
	}
	if string(data) != "v1" {
		t.Fatalf("existing copy rewritten: %q", data)
	}
}

func TestDiskCopierRejectsEscapingPath(t *testing.T) {
	copier := NewDiskCopier(store.PathResolver{DownloadsRoot: t.TempDir(), StaticRoot: t.TempDir()})
	_, err := copier(listing.Image{Local: "downloads/../../etc/passwd"}, "unified_1")
	if !errors.Is(err, listing.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
}
