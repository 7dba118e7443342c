// Package ocr calls the external text-recognition provider (Google Cloud
// Vision API) for stitched label composites.
//
// The gateway performs no persistence: it takes image bytes and returns
// recognized text fragments with their bounding polygons in composite
// pixel coordinates. Position bookkeeping and redistribution happen in the
// distributor.
//
// Required Environment Variables:
//   - GOOGLE_APPLICATION_CREDENTIALS: Path to service account JSON file, OR
//   - GOOGLE_CREDENTIALS: Inline JSON credentials string
//
// Provider behavior the gateway absorbs:
//   - Outbound calls are capped by a sliding one-minute window; when the
//     cap is reached, callers block until the window rolls over instead of
//     failing (backpressure, not an error).
//   - Transient provider errors (timeouts, 5xx, 429) are retried with
//     exponential backoff up to a bounded attempt count. Credential and
//     configuration errors are fatal and surface immediately.
//   - The provider answers in one of two shapes: a flat fragment list or a
//     hierarchical page/block/paragraph/word structure. Both are
//     normalized into the flat annotation list, with the aggregate
//     full-text block first.
package ocr

import (
	"context"
	"time"
)

// Service defines the interface for OCR text extraction.
type Service interface {
	// ExtractText recognizes text in an image. The first annotation of the
	// result is always the aggregate full-text block, followed by
	// per-fragment annotations.
	ExtractText(ctx context.Context, imageData []byte) (*Result, error)
}

// Result contains the recognized text and per-fragment annotations.
type Result struct {
	// FullText is the provider's aggregate text for the whole image.
	FullText string `json:"full_text"`

	// Annotations is the normalized flat fragment list. Annotations[0] is
	// the full-text summary block; consumers distributing text by position
	// skip it.
	Annotations []Annotation `json:"annotations"`

	// ProcessedAt is the timestamp when the OCR processing completed.
	ProcessedAt time.Time `json:"processed_at"`

	// ProcessingTime is how long the provider call took, including
	// rate-limit waits and retries.
	ProcessingTime time.Duration `json:"processing_time"`

	// Attempts is the number of provider calls made.
	Attempts int `json:"attempts"`
}

// Annotation is one recognized text fragment.
type Annotation struct {
	// Text is the fragment's recognized characters.
	Text string `json:"text"`

	// Confidence is the provider's recognition confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Bounds is the fragment's bounding polygon in image pixel
	// coordinates, usually four vertices.
	Bounds []Vertex `json:"bounds"`
}

// Vertex is one corner of a bounding polygon.
type Vertex struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Top returns the minimum Y of the annotation's polygon.
func (a Annotation) Top() int {
	if len(a.Bounds) == 0 {
		return 0
	}
	top := a.Bounds[0].Y
	for _, v := range a.Bounds[1:] {
		if v.Y < top {
			top = v.Y
		}
	}
	return top
}

// Bottom returns the maximum Y of the annotation's polygon.
func (a Annotation) Bottom() int {
	if len(a.Bounds) == 0 {
		return 0
	}
	bottom := a.Bounds[0].Y
	for _, v := range a.Bounds[1:] {
		if v.Y > bottom {
			bottom = v.Y
		}
	}
	return bottom
}

// CenterY returns the vertical center of the annotation's polygon.
func (a Annotation) CenterY() float64 {
	return (float64(a.Top()) + float64(a.Bottom())) / 2
}
