package pdfrender

import (
	"image"
	"image/color"
)

const (
	percentToRatio = 100.0
	maxColorValue  = 255.0
)

// blankDetector decides whether a rendered page is blank (mostly white).
type blankDetector struct {
	// whiteThreshold is the 8-bit channel value at or above which a channel counts as
	// white.
	whiteThreshold uint32
	// nonWhiteRatio is the minimum share of non-white pixels for a page to have content.
	nonWhiteRatio float64
}

// newBlankDetector builds a detector from a fuzz percentage (0..100 tolerated deviation
// from pure white) and a non-white pixel ratio threshold (0..1).
func newBlankDetector(fuzzPercent int, nonWhiteRatio float64) *blankDetector {
	fuzzFactor := float64(fuzzPercent) / percentToRatio

	return &blankDetector{
		whiteThreshold: uint32((1.0 - fuzzFactor) * maxColorValue),
		nonWhiteRatio:  nonWhiteRatio,
	}
}

// isBlank reports whether the share of non-white pixels is below the threshold.
// An image without pixels is blank.
func (detector *blankDetector) isBlank(img image.Image) bool {
	bounds := img.Bounds()

	totalPixels := float64(bounds.Dx() * bounds.Dy())
	if totalPixels == 0 {
		return true
	}

	nonWhiteCount := 0.0

	visitPixels(img, func(c color.Color) {
		if isNonWhite(c, detector.whiteThreshold) {
			nonWhiteCount++
		}
	})

	return nonWhiteCount/totalPixels < detector.nonWhiteRatio
}

func visitPixels(img image.Image, visitor func(c color.Color)) {
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			visitor(img.At(x, y))
		}
	}
}

// isNonWhite checks if a single pixel's color is considered non-white.
func isNonWhite(c color.Color, whiteThreshold uint32) bool {
	// color.Color returns 16-bit pre-multiplied channels; compare on 8 bits.
	r, g, b, _ := c.RGBA()

	const bitsToShift = 8

	r8, g8, b8 := r>>bitsToShift, g>>bitsToShift, b>>bitsToShift

	return r8 < whiteThreshold || g8 < whiteThreshold || b8 < whiteThreshold
}
