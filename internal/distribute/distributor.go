// Package distribute re-attributes OCR text fragments from a stitched
// composite back to the labels they came from, using each fragment's
// bounding polygon against the composite's offset table.
//
// Per-word bounding boxes are noisy near label boundaries, so assignment
// scores balance strict containment against proximity: a fragment
// straddling a boundary resolves to the geometrically nearest label
// instead of failing to resolve.
package distribute

import (
	"sort"
	"strings"

	"gradescan/internal/card"
	"gradescan/internal/ocr"
)

// Scoring weights and tolerances of the assignment confidence.
const (
	// OverlapWeight weights the fraction of the fragment's vertical extent
	// inside the label's (tolerance-expanded) span.
	OverlapWeight = 0.7

	// DistanceWeight weights the fragment center's proximity to the
	// label's vertical midpoint.
	DistanceWeight = 0.3

	// TolerancePixels expands each label span before overlap is measured.
	TolerancePixels = 10
)

// Distribute assigns each per-fragment annotation to the label whose span
// scores highest and reconstructs each label's text. The first annotation
// is the provider's full-page summary block and is skipped. The returned
// slice always has exactly len(positions) entries; labels with no
// fragments get empty strings, and fragments overlapping no label are
// dropped.
func Distribute(annotations []ocr.Annotation, positions []card.LabelPosition) []string {
	type placed struct {
		text    string
		centerY float64
		order   int
	}
	buckets := make([][]placed, len(positions))

	if len(annotations) > 1 {
		for i, fragment := range annotations[1:] {
			if strings.TrimSpace(fragment.Text) == "" {
				continue
			}
			best := -1
			bestConfidence := 0.0
			for j, pos := range positions {
				confidence, overlaps := AssignmentConfidence(fragment, pos)
				if !overlaps {
					continue
				}
				if confidence > bestConfidence {
					bestConfidence = confidence
					best = j
				}
			}
			if best < 0 {
				// No positive overlap anywhere: drop, not an error.
				continue
			}
			buckets[best] = append(buckets[best], placed{
				text:    fragment.Text,
				centerY: fragment.CenterY(),
				order:   i,
			})
		}
	}

	out := make([]string, len(positions))
	for i, bucket := range buckets {
		sort.SliceStable(bucket, func(a, b int) bool {
			if bucket[a].centerY == bucket[b].centerY {
				return bucket[a].order < bucket[b].order
			}
			return bucket[a].centerY < bucket[b].centerY
		})
		parts := make([]string, len(bucket))
		for j, p := range bucket {
			parts[j] = p.text
		}
		out[i] = strings.Join(parts, " ")
	}
	return out
}

// AssignmentConfidence scores how strongly a fragment belongs to a label
// span. The boolean reports whether the fragment has any positive overlap
// with the tolerance-expanded span; without overlap the score is
// meaningless and the fragment must not be assigned here.
func AssignmentConfidence(fragment ocr.Annotation, pos card.LabelPosition) (float64, bool) {
	top := float64(fragment.Top())
	bottom := float64(fragment.Bottom())
	extent := bottom - top
	if extent <= 0 {
		extent = 1
	}

	spanMin := float64(pos.Y - TolerancePixels)
	spanMax := float64(pos.Y + pos.Height + TolerancePixels)

	overlap := minFloat(bottom, spanMax) - maxFloat(top, spanMin)
	if overlap <= 0 {
		return 0, false
	}
	overlapFraction := clamp01(overlap / extent)

	mid := float64(pos.Y) + float64(pos.Height)/2
	halfSpan := float64(pos.Height)/2 + TolerancePixels
	center := (top + bottom) / 2
	distance := center - mid
	if distance < 0 {
		distance = -distance
	}
	proximity := clamp01(1 - distance/halfSpan)

	return clamp01(OverlapWeight*overlapFraction + DistanceWeight*proximity), true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
