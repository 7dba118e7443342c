// Package card defines the domain model of the label ingestion pipeline:
// graded card scans, stitched composite labels, match candidates, and the
// repository capabilities the pipeline consumes. Persistence itself lives
// behind the repository interfaces; this package ships an in-memory
// implementation for the CLI and for tests.
package card

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GradedCardScan is one uploaded photo of a graded card in a holder.
type GradedCardScan struct {
	ID uuid.UUID `json:"id"`

	// FullImagePath is the stored path of the original upload.
	FullImagePath string `json:"full_image_path"`

	// ImageHash is the SHA-256 content hash of the upload, used for
	// de-duplication. Re-uploading an identical file resolves to the
	// existing scan instead of creating a new one.
	ImageHash string `json:"image_hash"`

	// LabelImagePath is the extracted label crop. Empty until the scan
	// reaches the extracted status.
	LabelImagePath string `json:"label_image_path,omitempty"`

	// ExtractedRegion records where in the full image the label was found.
	ExtractedRegion *ExtractedRegion `json:"extracted_region,omitempty"`

	ProcessingStatus Status `json:"processing_status"`

	// GradedData holds the structured fields recovered from label text.
	// Nil until the scan is matched.
	GradedData *GradedData `json:"graded_data,omitempty"`

	// MatchCandidates is ordered by confidence, highest first.
	MatchCandidates []MatchCandidate `json:"match_candidates,omitempty"`

	// StitchedLabelID references the composite this scan was stitched
	// into. The stitched label is shared with sibling scans, not owned.
	StitchedLabelID *uuid.UUID `json:"stitched_label_id,omitempty"`

	RejectionReason string `json:"rejection_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExtractedRegion is the rectangle cropped out of the full image.
type ExtractedRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`

	// DetectionMethod is "hsv" when color detection found the label and
	// "fallback" when the fixed heuristic rectangle was used.
	DetectionMethod string `json:"detection_method"`
}

// GradedData is the structured extraction from a label's OCR text.
type GradedData struct {
	CertificationNumber string `json:"certification_number,omitempty"`
	Grade               string `json:"grade,omitempty"`
	CardName            string `json:"card_name,omitempty"`
	SetName             string `json:"set_name,omitempty"`
	Year                int    `json:"year,omitempty"`
}

// MatchCandidate is one reference-card hit for a scan, tagged with the
// strategy that produced it. Confidence is comparable across strategies.
type MatchCandidate struct {
	CardID              string  `json:"card_id"`
	CardName            string  `json:"card_name"`
	CardNumber          string  `json:"card_number,omitempty"`
	CertificationNumber string  `json:"certification_number,omitempty"`
	SetName             string  `json:"set_name,omitempty"`
	Confidence          float64 `json:"confidence"`
	Strategy            string  `json:"strategy"`
}

// StitchedLabel is a composite image assembled from several scans' label
// crops, processed through OCR as a single provider call.
type StitchedLabel struct {
	ID        uuid.UUID `json:"id"`
	ImagePath string    `json:"image_path"`

	// LabelPositions maps each member scan to its vertical span in the
	// composite. Positions are non-overlapping and strictly increasing
	// in Y, in stitch order.
	LabelPositions []LabelPosition `json:"label_positions"`

	// OCRText is the provider's aggregate full text. Empty until OCR runs.
	OCRText string `json:"ocr_text,omitempty"`

	// TextAnnotations is the raw provider output, kept for re-distribution
	// and audit.
	TextAnnotations json.RawMessage `json:"text_annotations,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LabelPosition is one scan's span in composite-image coordinates.
type LabelPosition struct {
	ScanID uuid.UUID `json:"scan_id"`
	Y      int       `json:"y"`
	Height int       `json:"height"`
}

// CollectionItem is the permanent record created when a match is approved.
type CollectionItem struct {
	ID     uuid.UUID `json:"id"`
	CardID string    `json:"card_id"`

	GradedData GradedData `json:"graded_data"`

	// SourceScanID is the audit trail back to the originating scan.
	SourceScanID uuid.UUID `json:"source_scan_id"`

	ImagePath      string `json:"image_path"`
	LabelImagePath string `json:"label_image_path,omitempty"`

	Owner string `json:"owner,omitempty"`
	Notes string `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ReferenceCard is one entry of the read-only card/set reference data the
// matching engine searches against.
type ReferenceCard struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Number              string `json:"number,omitempty"`
	SetName             string `json:"set_name,omitempty"`
	Year                int    `json:"year,omitempty"`
	CertificationNumber string `json:"certification_number,omitempty"`
}
