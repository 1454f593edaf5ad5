package imagededup

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// writeGradientPNG writes a horizontal luminance gradient. Reversed
// flips it, producing the bitwise opposite difference hash.
func writeGradientPNG(t *testing.T, dir, name string, w, h int, reversed bool) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(255 * x / w)
			if reversed {
				v = 255 - v
			}
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	return path
}

func TestHashFingerprintResizeInvariant(t *testing.T) {
	dir := t.TempDir()
	h := NewHashStrategy(testLogger())

	big := h.Fingerprint(writeGradientPNG(t, dir, "big.png", 90, 80, false))
	small := h.Fingerprint(writeGradientPNG(t, dir, "small.png", 45, 40, false))
	if big == nil || small == nil {
		t.Fatal("fingerprinting failed")
	}

	score, dup := h.Match(big, small, 0)
	if !dup {
		t.Fatalf("resized copies not matched, score %v", score)
	}
	if score != 1 {
		t.Fatalf("identical hashes should score 1, got %v", score)
	}
}

func TestHashFingerprintDistinguishesOpposites(t *testing.T) {
	dir := t.TempDir()
	h := NewHashStrategy(testLogger())

	a := h.Fingerprint(writeGradientPNG(t, dir, "a.png", 90, 80, false))
	b := h.Fingerprint(writeGradientPNG(t, dir, "b.png", 90, 80, true))
	if a == nil || b == nil {
		t.Fatal("fingerprinting failed")
	}

	if _, dup := h.Match(a, b, 0); dup {
		t.Fatal("opposite gradients matched as duplicates")
	}
}

func TestHashFingerprintUnreadable(t *testing.T) {
	h := NewHashStrategy(testLogger())
	if fp := h.Fingerprint(filepath.Join(t.TempDir(), "missing.png")); fp != nil {
		t.Fatalf("missing file produced a fingerprint: %v", fp)
	}

	path := filepath.Join(t.TempDir(), "not-an-image.png")
	if err := os.WriteFile(path, []byte("plain text"), 0o644); err != nil {
		t.Fatal(err)
	}
	if fp := h.Fingerprint(path); fp != nil {
		t.Fatalf("undecodable file produced a fingerprint: %v", fp)
	}
}

func TestHashMatchThreshold(t *testing.T) {
	h := NewHashStrategy(testLogger())
	base := hashFingerprint(0)
	within := hashFingerprint(0b10101)   // 3 bits apart
	outside := hashFingerprint(0b111111) // 6 bits apart

	if _, dup := h.Match(base, within, 0); !dup {
		t.Fatal("distance 3 should match at the default threshold of 5")
	}
	if _, dup := h.Match(base, outside, 0); dup {
		t.Fatal("distance 6 should not match at the default threshold of 5")
	}
	// A looser explicit threshold admits the farther pair too.
	if _, dup := h.Match(base, outside, 6); !dup {
		t.Fatal("distance 6 should match at threshold 6")
	}
}

func TestHashMatchThresholdMonotonic(t *testing.T) {
	h := NewHashStrategy(testLogger())
	a := hashFingerprint(0)
	b := hashFingerprint(0b1111) // 4 bits apart

	for loose := 4; loose <= 64; loose++ {
		if _, dup := h.Match(a, b, float64(loose)); !dup {
			t.Fatalf("pair matched at 4 but not at looser threshold %d", loose)
		}
	}
	for tight := 0; tight < 4; tight++ {
		if tight == 0 {
			continue // zero falls back to the default
		}
		if _, dup := h.Match(a, b, float64(tight)); dup {
			t.Fatalf("pair at distance 4 matched at tighter threshold %d", tight)
		}
	}
}

func TestHashMatchForeignFingerprint(t *testing.T) {
	h := NewHashStrategy(testLogger())
	if _, dup := h.Match(hashFingerprint(0), embeddingFingerprint{1, 0}, 0); dup {
		t.Fatal("mismatched fingerprint types matched")
	}
}
