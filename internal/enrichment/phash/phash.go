// Package phash computes perceptual image hashes and compares them by
// Hamming similarity, so the enrichment pipeline can recognize "the same
// image, maybe re-encoded or slightly cropped" without comparing bytes.
//
// No perceptual-hash library exists anywhere in the retrieval pack; this
// implementation is the standard average-hash/difference-hash algorithm
// (resize to a small grid, compare pixel luminance, pack the comparisons
// into a 64-bit word), decoding with golang.org/x/image for formats
// beyond stdlib image (webp, bmp) since provider images arrive in
// whatever format the provider serves.
package phash

import (
	"bytes"
	"fmt"
	"image"
	"math/bits"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// Hash is a 64-bit perceptual hash.
type Hash uint64

// gridSize is the side length of the downsampled luminance grid; 8x8
// yields the conventional 64-bit hash.
const gridSize = 8

// Average computes the average hash (aHash) of image data: downsample to
// an 8x8 grayscale grid, compare every pixel to the grid's mean, set the
// bit if the pixel is at or above the mean.
func Average(data []byte) (Hash, error) {
	img, err := decode(data)
	if err != nil {
		return 0, err
	}
	grid := luminanceGrid(img, gridSize, gridSize)

	var sum int
	for _, v := range grid {
		sum += int(v)
	}
	mean := sum / len(grid)

	var h Hash
	for i, v := range grid {
		if int(v) >= mean {
			h |= 1 << uint(i)
		}
	}
	return h, nil
}

// Difference computes the difference hash (dHash): downsample to a
// (gridSize+1)xgridSize grid, set the bit if each pixel is brighter than
// its left neighbor. dHash is more robust to uniform brightness shifts
// than aHash, which is why phase 3 computes both.
func Difference(data []byte) (Hash, error) {
	img, err := decode(data)
	if err != nil {
		return 0, err
	}
	grid := luminanceGrid(img, gridSize+1, gridSize)

	var h Hash
	bit := 0
	for row := 0; row < gridSize; row++ {
		for col := 0; col < gridSize; col++ {
			left := grid[row*(gridSize+1)+col]
			right := grid[row*(gridSize+1)+col+1]
			if right > left {
				h |= 1 << uint(bit)
			}
			bit++
		}
	}
	return h, nil
}

// ForegroundRatio returns the fraction of pixels that are not fully
// transparent, so a logo or poster with large transparent padding reports
// a lower ratio than one that fills the frame. Images with no alpha channel
// report 1.0: every pixel is opaque by definition.
func ForegroundRatio(data []byte) (float64, error) {
	img, err := decode(data)
	if err != nil {
		return 0, err
	}
	bounds := img.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return 0, nil
	}
	opaque := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			if a > 0 {
				opaque++
			}
		}
	}
	return float64(opaque) / float64(total), nil
}

func decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("phash: decode image: %w", err)
	}
	return img, nil
}

// luminanceGrid resizes img to w x h using nearest-neighbor sampling (the
// hash only needs coarse structure, not interpolation quality) and returns
// row-major 8-bit luminance values.
func luminanceGrid(img image.Image, w, h int) []uint8 {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	grid := make([]uint8, 0, w*h)

	for row := 0; row < h; row++ {
		srcY := bounds.Min.Y + row*srcH/h
		for col := 0; col < w; col++ {
			srcX := bounds.Min.X + col*srcW/w
			r, g, b, _ := img.At(srcX, srcY).RGBA()
			// Rec. 601 luma, operating on the 16-bit RGBA() components.
			lum := (299*r + 587*g + 114*b) / 1000
			grid = append(grid, uint8(lum>>8))
		}
	}
	return grid
}

// HammingDistance returns the number of differing bits between two hashes.
func HammingDistance(a, b Hash) int {
	return bits.OnesCount64(uint64(a ^ b))
}

// Similarity returns 1 - (distance / 64), the fraction of matching bits.
// The match phase calls two images the same asset at similarity >= 0.85;
// selection rejects duplicates at similarity >= 0.90.
func Similarity(a, b Hash) float64 {
	return 1 - float64(HammingDistance(a, b))/64
}
