// Package pipeline drives graded card scans through the label ingestion
// stages: extraction, stitching, OCR, text distribution, matching, and
// final approval. The processing-status state machine lives in the card
// package; this package enforces it, isolates per-item failures inside
// batches, and owns the best-effort file cleanup that accompanies
// metadata deletion.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gradescan/internal/card"
	"gradescan/internal/distribute"
	"gradescan/internal/imagestore"
	"gradescan/internal/logger"
	"gradescan/internal/match"
	"gradescan/internal/ocr"
	"gradescan/internal/region"
	"gradescan/internal/stitch"
)

// Deps wires the manager's collaborators.
type Deps struct {
	Scans    card.ScanRepository
	Labels   card.StitchedLabelRepository
	Store    *imagestore.Store
	Detector *region.Detector
	OCR      ocr.Service
	Matcher  *match.Engine

	// WorkerLimit bounds concurrent batch items. Zero means the default.
	WorkerLimit int
}

// Manager owns the scan lifecycle and batch orchestration.
type Manager struct {
	scans       card.ScanRepository
	labels      card.StitchedLabelRepository
	store       *imagestore.Store
	detector    *region.Detector
	ocr         ocr.Service
	matcher     *match.Engine
	workerLimit int
	log         zerolog.Logger
}

// NewManager returns a lifecycle manager over the given dependencies.
func NewManager(deps Deps) *Manager {
	return &Manager{
		scans:       deps.Scans,
		labels:      deps.Labels,
		store:       deps.Store,
		detector:    deps.Detector,
		ocr:         deps.OCR,
		matcher:     deps.Matcher,
		workerLimit: deps.WorkerLimit,
		log:         logger.WithComponent("pipeline"),
	}
}

// Ingest stores an uploaded image and creates a scan in uploaded status.
// Identical bytes resolve to the existing scan: the second return reports
// whether a new scan was created.
func (m *Manager) Ingest(ctx context.Context, data []byte, originalName string) (*card.GradedCardScan, bool, error) {
	const stage = "ingest"

	if len(data) == 0 {
		return nil, false, wrapStage(stage, imagestore.ErrUnreadableImage, "empty upload")
	}

	hash := imagestore.HashBytes(data)
	if existing, err := m.scans.GetByHash(ctx, hash); err == nil {
		m.log.Debug().Str("scan_id", existing.ID.String()).Str("hash", hash[:8]).Msg("Duplicate upload resolved to existing scan")
		return existing, false, nil
	}

	path, hash, err := m.store.SaveFull(data, originalName)
	if err != nil {
		return nil, false, wrapStage(stage, err, originalName)
	}

	now := time.Now()
	scan := &card.GradedCardScan{
		ID:               uuid.New(),
		FullImagePath:    path,
		ImageHash:        hash,
		ProcessingStatus: card.StatusUploaded,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.scans.Create(ctx, scan); err != nil {
		return nil, false, wrapStage(stage, err, "persist scan")
	}

	m.log.Info().Str("scan_id", scan.ID.String()).Str("hash", hash[:8]).Msg("Scan ingested")
	return scan, true, nil
}

// ExtractLabels runs label extraction over a batch of scans with bounded
// concurrency. Extraction is re-enterable: scans already in extracted
// status are re-processed and their previous crop overwritten.
func (m *Manager) ExtractLabels(ctx context.Context, ids []uuid.UUID, continueOnError bool) (*Report, error) {
	opts := BatchOptions{WorkerLimit: m.workerLimit, ContinueOnError: continueOnError}
	return RunBatch(ctx, ids, opts, m.extractOne)
}

func (m *Manager) extractOne(ctx context.Context, id uuid.UUID) error {
	const stage = "extract"

	scan, err := m.scans.Get(ctx, id)
	if err != nil {
		return wrapStage(stage, err, id.String())
	}
	if !scan.ProcessingStatus.CanTransition(card.StatusExtracted) {
		return wrapStage(stage, ErrScanNotReady, fmt.Sprintf("scan %s is %s", id, scan.ProcessingStatus))
	}

	img, err := m.store.Load(scan.FullImagePath)
	if err != nil {
		return wrapStage(stage, err, scan.FullImagePath)
	}

	result := m.detector.Detect(img)
	crop := m.detector.Crop(img, result.Region)

	labelPath, err := m.store.SaveLabel(crop, scan.ID.String())
	if err != nil {
		return wrapStage(stage, err, "save label crop")
	}

	scan.LabelImagePath = labelPath
	scan.ExtractedRegion = &card.ExtractedRegion{
		X:               result.Region.Min.X,
		Y:               result.Region.Min.Y,
		Width:           result.Region.Dx(),
		Height:          result.Region.Dy(),
		DetectionMethod: result.Method,
	}
	scan.ProcessingStatus = card.StatusExtracted
	scan.UpdatedAt = time.Now()

	if err := m.scans.Update(ctx, scan); err != nil {
		return wrapStage(stage, err, "persist scan")
	}

	m.log.Info().
		Str("scan_id", id.String()).
		Str("method", result.Method).
		Bool("detected", result.Detected).
		Int("matched_pixels", result.MatchedPixels).
		Msg("Label extracted")
	return nil
}

// StitchScans concatenates the label crops of the given scans, in the
// given order, into one composite. All scans must be in extracted status;
// one unreadable crop aborts the whole bundle because the downstream
// Y-coordinate matching depends on a complete offset table.
func (m *Manager) StitchScans(ctx context.Context, ids []uuid.UUID) (*card.StitchedLabel, error) {
	const stage = "stitch"

	if len(ids) == 0 {
		return nil, wrapStage(stage, stitch.ErrNoCrops, "")
	}

	crops := make([]stitch.LabelCrop, 0, len(ids))
	scans := make([]*card.GradedCardScan, 0, len(ids))
	for _, id := range ids {
		scan, err := m.scans.Get(ctx, id)
		if err != nil {
			return nil, wrapStage(stage, err, id.String())
		}
		if !scan.ProcessingStatus.CanTransition(card.StatusStitched) {
			return nil, wrapStage(stage, ErrScanNotReady, fmt.Sprintf("scan %s is %s", id, scan.ProcessingStatus))
		}
		if scan.LabelImagePath == "" {
			return nil, wrapStage(stage, ErrMissingLabel, id.String())
		}
		img, err := m.store.Load(scan.LabelImagePath)
		if err != nil {
			return nil, wrapStage(stage, err, scan.LabelImagePath)
		}
		crops = append(crops, stitch.LabelCrop{ScanID: id, Image: img})
		scans = append(scans, scan)
	}

	composite, err := stitch.Stitch(crops)
	if err != nil {
		return nil, wrapStage(stage, err, "")
	}

	now := time.Now()
	label := &card.StitchedLabel{
		ID:             uuid.New(),
		LabelPositions: composite.Positions,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	label.ImagePath, err = m.store.SaveStitched(composite.Image, label.ID.String())
	if err != nil {
		return nil, wrapStage(stage, err, "save composite")
	}

	if err := m.labels.Create(ctx, label); err != nil {
		return nil, wrapStage(stage, err, "persist stitched label")
	}

	for _, scan := range scans {
		labelID := label.ID
		scan.StitchedLabelID = &labelID
		scan.ProcessingStatus = card.StatusStitched
		scan.UpdatedAt = time.Now()
		if err := m.scans.Update(ctx, scan); err != nil {
			return nil, wrapStage(stage, err, "persist scan")
		}
	}

	m.log.Info().
		Str("stitched_id", label.ID.String()).
		Int("labels", len(ids)).
		Int("height", composite.Height).
		Msg("Labels stitched")
	return label, nil
}

// ProcessStitchedOCR sends a composite through the text-recognition
// provider and stores the raw result. Member scans advance to
// ocr_processed. On provider failure the scans keep their prior status so
// the stage can be retried without data loss.
func (m *Manager) ProcessStitchedOCR(ctx context.Context, stitchedID uuid.UUID) error {
	const stage = "ocr"

	label, err := m.labels.Get(ctx, stitchedID)
	if err != nil {
		return wrapStage(stage, err, stitchedID.String())
	}

	imageData, err := m.store.ReadBytes(label.ImagePath)
	if err != nil {
		return wrapStage(stage, err, label.ImagePath)
	}

	result, err := m.ocr.ExtractText(ctx, imageData)
	if err != nil {
		return wrapStage(stage, err, "provider call")
	}

	raw, err := json.Marshal(result.Annotations)
	if err != nil {
		return wrapStage(stage, err, "encode annotations")
	}
	label.OCRText = result.FullText
	label.TextAnnotations = raw
	label.UpdatedAt = time.Now()
	if err := m.labels.Update(ctx, label); err != nil {
		return wrapStage(stage, err, "persist stitched label")
	}

	if err := m.advanceMembers(ctx, label, card.StatusOCRProcessed); err != nil {
		return wrapStage(stage, err, "advance members")
	}

	m.log.Info().
		Str("stitched_id", stitchedID.String()).
		Int("annotations", len(result.Annotations)).
		Int("attempts", result.Attempts).
		Dur("processing_time", result.ProcessingTime).
		Msg("Composite processed through OCR")
	return nil
}

// MatchScans redistributes the stored OCR annotations of a composite back
// to its member scans by position and runs reference matching on each.
// Scans advance to matched even with an empty candidate list: no match is
// a reviewable outcome, not a failure.
func (m *Manager) MatchScans(ctx context.Context, stitchedID uuid.UUID) (*Report, error) {
	const stage = "match"

	label, err := m.labels.Get(ctx, stitchedID)
	if err != nil {
		return nil, wrapStage(stage, err, stitchedID.String())
	}

	var annotations []ocr.Annotation
	if len(label.TextAnnotations) > 0 {
		if err := json.Unmarshal(label.TextAnnotations, &annotations); err != nil {
			return nil, wrapStage(stage, err, "decode annotations")
		}
	}

	texts := distribute.Distribute(annotations, label.LabelPositions)

	ids := make([]uuid.UUID, len(label.LabelPositions))
	textByScan := make(map[uuid.UUID]string, len(label.LabelPositions))
	for i, pos := range label.LabelPositions {
		ids[i] = pos.ScanID
		textByScan[pos.ScanID] = texts[i]
	}

	opts := BatchOptions{WorkerLimit: m.workerLimit, ContinueOnError: true}
	return RunBatch(ctx, ids, opts, func(ctx context.Context, id uuid.UUID) error {
		return m.matchOne(ctx, id, textByScan[id])
	})
}

func (m *Manager) matchOne(ctx context.Context, id uuid.UUID, text string) error {
	const stage = "match"

	scan, err := m.scans.Get(ctx, id)
	if err != nil {
		return wrapStage(stage, err, id.String())
	}
	if !scan.ProcessingStatus.CanTransition(card.StatusMatched) {
		return wrapStage(stage, ErrScanNotReady, fmt.Sprintf("scan %s is %s", id, scan.ProcessingStatus))
	}

	result := m.matcher.Match(ctx, text)

	extraction := result.Extraction
	scan.GradedData = &extraction
	scan.MatchCandidates = result.Candidates
	scan.ProcessingStatus = card.StatusMatched
	scan.UpdatedAt = time.Now()
	if err := m.scans.Update(ctx, scan); err != nil {
		return wrapStage(stage, err, "persist scan")
	}

	m.log.Info().
		Str("scan_id", id.String()).
		Int("candidates", len(result.Candidates)).
		Str("certification", extraction.CertificationNumber).
		Msg("Scan matched")
	return nil
}

// DeleteScan removes a scan's metadata and best-effort removes its image
// files. When the scan was the last member of a stitched label, the label
// is removed too; otherwise the label survives for its remaining siblings.
func (m *Manager) DeleteScan(ctx context.Context, id uuid.UUID) error {
	const stage = "delete_scan"

	scan, err := m.scans.Get(ctx, id)
	if err != nil {
		return wrapStage(stage, err, id.String())
	}

	if err := m.scans.Delete(ctx, id); err != nil {
		return wrapStage(stage, err, "delete scan record")
	}

	// File cleanup is fire-and-forget: the metadata deletion above is the
	// source of truth.
	m.store.Remove(scan.FullImagePath)
	m.store.Remove(scan.LabelImagePath)

	if scan.StitchedLabelID != nil {
		siblings, err := m.scans.ListByStitchedLabel(ctx, *scan.StitchedLabelID)
		if err != nil {
			return wrapStage(stage, err, "list siblings")
		}
		if len(siblings) == 0 {
			if err := m.DeleteStitchedLabel(ctx, *scan.StitchedLabelID); err != nil {
				return wrapStage(stage, err, "delete orphaned stitched label")
			}
		}
	}

	m.log.Info().Str("scan_id", id.String()).Msg("Scan deleted")
	return nil
}

// DeleteStitchedLabel removes a composite and resets its member scans
// backward to extracted so they can be re-stitched.
func (m *Manager) DeleteStitchedLabel(ctx context.Context, id uuid.UUID) error {
	const stage = "delete_stitched"

	label, err := m.labels.Get(ctx, id)
	if err != nil {
		return wrapStage(stage, err, id.String())
	}

	members, err := m.scans.ListByStitchedLabel(ctx, id)
	if err != nil {
		return wrapStage(stage, err, "list members")
	}
	for _, scan := range members {
		if !scan.ProcessingStatus.CanTransition(card.StatusExtracted) {
			// Terminal scans keep their status; only in-flight members
			// roll back.
			continue
		}
		scan.ProcessingStatus = card.StatusExtracted
		scan.StitchedLabelID = nil
		scan.GradedData = nil
		scan.MatchCandidates = nil
		scan.UpdatedAt = time.Now()
		if err := m.scans.Update(ctx, scan); err != nil {
			return wrapStage(stage, err, "reset member scan")
		}
	}

	if err := m.labels.Delete(ctx, id); err != nil {
		return wrapStage(stage, err, "delete stitched record")
	}
	m.store.Remove(label.ImagePath)

	m.log.Info().Str("stitched_id", id.String()).Int("members_reset", len(members)).Msg("Stitched label deleted")
	return nil
}

// advanceMembers moves every member scan of a label to next, enforcing
// the transition table.
func (m *Manager) advanceMembers(ctx context.Context, label *card.StitchedLabel, next card.Status) error {
	for _, pos := range label.LabelPositions {
		scan, err := m.scans.Get(ctx, pos.ScanID)
		if err != nil {
			return err
		}
		if !scan.ProcessingStatus.CanTransition(next) {
			return fmt.Errorf("%w: scan %s is %s, cannot become %s",
				card.ErrInvalidTransition, scan.ID, scan.ProcessingStatus, next)
		}
		scan.ProcessingStatus = next
		scan.UpdatedAt = time.Now()
		if err := m.scans.Update(ctx, scan); err != nil {
			return err
		}
	}
	return nil
}
