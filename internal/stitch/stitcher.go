// Package stitch concatenates extracted label crops into one tall
// composite image so a whole batch costs a single OCR call. The offset
// table it produces is what lets the distributor hand recognized text back
// to the right scan, so stitching is all-or-nothing: one bad input aborts
// the bundle rather than producing a composite with missing rows.
package stitch

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"gradescan/internal/card"
)

// LabelCrop is one scan's extracted label image, in stitch order.
type LabelCrop struct {
	ScanID uuid.UUID
	Image  image.Image
}

// Composite is the stitched result: the image plus the per-scan offset
// table in the caller-supplied input order.
type Composite struct {
	Image     *image.NRGBA
	Positions []card.LabelPosition
	Width     int
	Height    int
}

// Stitch vertically concatenates crops in input order. The composite
// height is the exact sum of crop heights (no scaling across labels), so
// re-stitching the same inputs always yields the same offsets.
func Stitch(crops []LabelCrop) (*Composite, error) {
	if len(crops) == 0 {
		return nil, ErrNoCrops
	}

	totalHeight := 0
	maxWidth := 0
	for i, crop := range crops {
		if crop.Image == nil {
			return nil, fmt.Errorf("%w: input %d (scan %s)", ErrInvalidCrop, i, crop.ScanID)
		}
		b := crop.Image.Bounds()
		if b.Dx() <= 0 || b.Dy() <= 0 {
			return nil, fmt.Errorf("%w: input %d (scan %s) has empty bounds", ErrInvalidCrop, i, crop.ScanID)
		}
		totalHeight += b.Dy()
		if b.Dx() > maxWidth {
			maxWidth = b.Dx()
		}
	}

	canvas := imaging.New(maxWidth, totalHeight, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	positions := make([]card.LabelPosition, 0, len(crops))

	y := 0
	for _, crop := range crops {
		h := crop.Image.Bounds().Dy()
		canvas = imaging.Paste(canvas, crop.Image, image.Pt(0, y))
		positions = append(positions, card.LabelPosition{
			ScanID: crop.ScanID,
			Y:      y,
			Height: h,
		})
		y += h
	}

	return &Composite{
		Image:     canvas,
		Positions: positions,
		Width:     maxWidth,
		Height:    totalHeight,
	}, nil
}
