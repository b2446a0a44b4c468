package extract

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
)

// DefaultQuality is assumed when a page image cannot be analyzed. It
// lands in the staged band so an unreadable score never skips the
// validation leg.
const DefaultQuality = 0.7

// Quality thresholds for orchestration strategy selection.
const (
	// QualitySingleLeg: above this the structural leg runs alone.
	QualitySingleLeg = 0.8
	// QualityStaged: above this the validator reviews the structural
	// leg's output; at or below, both legs run in parallel.
	QualityStaged = 0.5
)

// ScoreQuality estimates how legible a page image is, in [0, 1]. The
// score blends pixel resolution with luma contrast sampled on a coarse
// grid. Low-resolution or washed-out scans score low and trigger the
// heavier extraction strategies.
func ScoreQuality(data []byte) float64 {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return DefaultQuality
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return 0
	}

	resolution := resolutionScore(width, height)
	contrast := contrastScore(img)

	return clampUnit(0.5*resolution + 0.5*contrast)
}

// resolutionScore maps pixel count onto [0, 1]. A passbook page scanned
// around 1200x900 saturates the score.
func resolutionScore(width, height int) float64 {
	const fullPixels = 1200.0 * 900.0
	return clampUnit(float64(width*height) / fullPixels)
}

// contrastScore measures luma spread on a 64x64 sample grid. Printed
// passbook pages have strong text-on-paper contrast; faded or blurry
// scans cluster around the mean.
func contrastScore(img image.Image) float64 {
	const grid = 64
	bounds := img.Bounds()
	stepX := max(bounds.Dx()/grid, 1)
	stepY := max(bounds.Dy()/grid, 1)

	var sum, sumSq float64
	var n int
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			r, g, b, _ := img.At(x, y).RGBA()
			luma := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 65535.0
			sum += luma
			sumSq += luma * luma
			n++
		}
	}
	if n == 0 {
		return 0
	}

	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}

	// A stddev of 0.25 or more reads as full contrast.
	return clampUnit(math.Sqrt(variance) / 0.25)
}
