package phash_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/jsaddiction/metarr/internal/enrichment/phash"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func solidImage(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func splitImage(left, right color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			if x < 16 {
				img.Set(x, y, left)
			} else {
				img.Set(x, y, right)
			}
		}
	}
	return img
}

func TestAverageHashIdenticalImagesMatch(t *testing.T) {
	data := encodePNG(t, splitImage(color.Black, color.White))

	h1, err := phash.Average(data)
	if err != nil {
		t.Fatalf("average: %v", err)
	}
	h2, err := phash.Average(data)
	if err != nil {
		t.Fatalf("average: %v", err)
	}
	if h1 != h2 {
		t.Errorf("expected identical input to hash identically, got %x and %x", h1, h2)
	}
	if phash.Similarity(h1, h2) != 1 {
		t.Errorf("expected similarity 1 for identical hashes, got %v", phash.Similarity(h1, h2))
	}
}

func TestAverageHashDistinguishesBlackFromWhite(t *testing.T) {
	black := encodePNG(t, solidImage(color.Black))
	white := encodePNG(t, solidImage(color.White))

	hb, err := phash.Average(black)
	if err != nil {
		t.Fatalf("average black: %v", err)
	}
	hw, err := phash.Average(white)
	if err != nil {
		t.Fatalf("average white: %v", err)
	}
	if phash.HammingDistance(hb, hw) == 0 {
		t.Error("expected solid black and solid white to hash differently")
	}
}

func TestDifferenceHashDetectsLeftToRightGradientEdge(t *testing.T) {
	data := encodePNG(t, splitImage(color.Black, color.White))
	h, err := phash.Difference(data)
	if err != nil {
		t.Fatalf("difference: %v", err)
	}
	// A genuine left-dark/right-light split must flip at least one
	// differencing bit; an all-zero hash would mean every column-pair
	// compared equal, which a hard edge should never produce.
	if h == 0 {
		t.Error("expected a nonzero difference hash across a hard brightness edge")
	}
}

func TestHammingDistanceAndSimilarityAreComplementary(t *testing.T) {
	var a phash.Hash = 0b1010
	var b phash.Hash = 0b1000

	d := phash.HammingDistance(a, b)
	if d != 1 {
		t.Fatalf("expected hamming distance 1, got %d", d)
	}
	want := 1 - float64(d)/64
	if got := phash.Similarity(a, b); got != want {
		t.Errorf("expected similarity %v, got %v", want, got)
	}
}

func TestAverageRejectsUndecodableData(t *testing.T) {
	if _, err := phash.Average([]byte("not an image")); err == nil {
		t.Error("expected an error decoding non-image data")
	}
}
