// Package region locates the printed grading label inside a full card
// photo. PSA-style labels sit near the top of the holder on a saturated
// red strip, so detection classifies pixels in HSV space and takes the
// bounding box of the red mass. A miss is not an error: callers always get
// a usable rectangle, degraded to a fixed heuristic guess when the color
// scan finds too little red.
package region

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"gradescan/internal/config"
)

// Detection methods recorded on the extracted region.
const (
	MethodHSV      = "hsv"
	MethodFallback = "fallback"
)

// Result is the outcome of one detection pass.
type Result struct {
	// Region is the label rectangle in source-image coordinates, always
	// inside the image bounds.
	Region image.Rectangle

	// Detected is false when the fallback rectangle was substituted.
	Detected bool

	// Method is MethodHSV or MethodFallback.
	Method string

	// MatchedPixels is the number of red-classified pixels found.
	MatchedPixels int
}

// Detector finds the label region using HSV color classification.
type Detector struct {
	cfg config.DetectionConfig
}

// NewDetector returns a detector with the given tuning.
func NewDetector(cfg config.DetectionConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Detect scans the top portion of img for label-red pixels and returns the
// padded bounding box of the match, or the fallback rectangle when fewer
// than MinLabelPixels qualify. The returned rectangle is always clamped to
// the image bounds; Detect never fails.
func (d *Detector) Detect(img image.Image) *Result {
	bounds := img.Bounds()
	scanMaxY := bounds.Min.Y + int(float64(bounds.Dy())*d.cfg.ScanFraction)
	if scanMaxY > bounds.Max.Y {
		scanMaxY = bounds.Max.Y
	}

	minX, minY := bounds.Max.X, bounds.Max.Y
	maxX, maxY := bounds.Min.X, bounds.Min.Y
	matched := 0

	for y := bounds.Min.Y; y < scanMaxY; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if !d.isLabelRed(img.At(x, y).RGBA()) {
				continue
			}
			matched++
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}

	if matched < d.cfg.MinLabelPixels {
		return &Result{
			Region:        d.fallbackRect(bounds),
			Detected:      false,
			Method:        MethodFallback,
			MatchedPixels: matched,
		}
	}

	pad := d.cfg.PaddingPixels
	rect := image.Rect(minX-pad, minY-pad, maxX+1+pad, maxY+1+pad).Intersect(bounds)
	return &Result{
		Region:        rect,
		Detected:      true,
		Method:        MethodHSV,
		MatchedPixels: matched,
	}
}

// Crop extracts the given rectangle from img.
func (d *Detector) Crop(img image.Image, rect image.Rectangle) image.Image {
	return imaging.Crop(img, rect)
}

// isLabelRed classifies one pixel. Red wraps around zero on the hue wheel,
// so the hue test covers two disjoint bands; saturation and value floors
// exclude washed-out and near-black pixels independent of lighting.
func (d *Detector) isLabelRed(r, g, b, _ uint32) bool {
	c := colorful.Color{
		R: float64(r) / 65535.0,
		G: float64(g) / 65535.0,
		B: float64(b) / 65535.0,
	}
	h, s, v := c.Hsv()
	if s < d.cfg.SaturationMin || v < d.cfg.ValueMin {
		return false
	}
	return h <= d.cfg.HueLowMax || h >= d.cfg.HueHighMin
}

// fallbackRect is the fixed heuristic rectangle near the top of the image,
// expressed as configured fractions of the image dimensions.
func (d *Detector) fallbackRect(bounds image.Rectangle) image.Rectangle {
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())
	x0 := bounds.Min.X + int(w*d.cfg.FallbackXFraction)
	y0 := bounds.Min.Y + int(h*d.cfg.FallbackYFraction)
	x1 := x0 + int(w*d.cfg.FallbackWidthFraction)
	y1 := y0 + int(h*d.cfg.FallbackHeightFraction)
	return image.Rect(x0, y0, x1, y1).Intersect(bounds)
}
