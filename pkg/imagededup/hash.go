package imagededup

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"
	"os"

	"github.com/sirupsen/logrus"
)

// hashFingerprint is a 64-bit difference hash: one bit per adjacent
// pixel pair of a 9x8 grayscale reduction, robust to resizing and
// recompression.
type hashFingerprint uint64

// HashStrategy is the fast binary perceptual-hash backend.
type HashStrategy struct {
	log *logrus.Logger
}

// NewHashStrategy creates the perceptual-hash backend. It has no
// external dependencies and is always available.
func NewHashStrategy(log *logrus.Logger) *HashStrategy {
	return &HashStrategy{log: log}
}

func (h *HashStrategy) Name() string { return "hash" }

func (h *HashStrategy) Ready() error { return nil }

func (h *HashStrategy) Cap() int { return 0 }

func (h *HashStrategy) Fingerprint(path string) Fingerprint {
	f, err := os.Open(path)
	if err != nil {
		h.log.Debugf("Fingerprint %s: %v", path, err)
		return nil
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		h.log.Debugf("Fingerprint %s: decode: %v", path, err)
		return nil
	}
	return hashFingerprint(dhash(img))
}

// Match treats the threshold as a maximum Hamming distance in bits
// (default 5). The score maps distance onto [0,1] the same way for
// every pair so duplicates can be ranked.
func (h *HashStrategy) Match(a, b Fingerprint, threshold float64) (float64, bool) {
	fa, okA := a.(hashFingerprint)
	fb, okB := b.(hashFingerprint)
	if !okA || !okB {
		return 0, false
	}
	maxDistance := int(threshold)
	if maxDistance <= 0 {
		maxDistance = DefaultHashThreshold
	}
	d := bits.OnesCount64(uint64(fa) ^ uint64(fb))
	return 1 - float64(d)/64.0, d <= maxDistance
}

// dhash reduces the image to a 9x8 grayscale grid by box-averaging and
// emits one bit per horizontal neighbor comparison.
func dhash(img image.Image) uint64 {
	const (
		cols = 9
		rows = 8
	)
	grid := grayGrid(img, cols, rows)

	var h uint64
	bit := 0
	for y := 0; y < rows; y++ {
		for x := 0; x < cols-1; x++ {
			if grid[y][x] > grid[y][x+1] {
				h |= uint64(1) << bit
			}
			bit++
		}
	}
	return h
}

// grayGrid box-averages the source image into a cols x rows luminance
// grid. Degenerate (empty) images produce an all-zero grid.
func grayGrid(img image.Image, cols, rows int) [][]float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	grid := make([][]float64, rows)
	for y := range grid {
		grid[y] = make([]float64, cols)
	}
	if w == 0 || h == 0 {
		return grid
	}

	for gy := 0; gy < rows; gy++ {
		y0 := bounds.Min.Y + gy*h/rows
		y1 := bounds.Min.Y + (gy+1)*h/rows
		if y1 <= y0 {
			y1 = y0 + 1
		}
		for gx := 0; gx < cols; gx++ {
			x0 := bounds.Min.X + gx*w/cols
			x1 := bounds.Min.X + (gx+1)*w/cols
			if x1 <= x0 {
				x1 = x0 + 1
			}

			var sum float64
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					r, g, b, _ := img.At(x, y).RGBA()
					sum += 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
				}
			}
			grid[gy][gx] = sum / float64((y1-y0)*(x1-x0))
		}
	}
	return grid
}
