package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/google/uuid"

	"gradescan/internal/card"
	"gradescan/internal/config"
	"gradescan/internal/imagestore"
	"gradescan/internal/match"
	"gradescan/internal/ocr"
	"gradescan/internal/region"
)

// fakeOCR returns a scripted result regardless of the image.
type fakeOCR struct {
	result *ocr.Result
	err    error
	calls  int
}

func (f *fakeOCR) ExtractText(_ context.Context, _ []byte) (*ocr.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type testEnv struct {
	manager *Manager
	scans   *card.MemoryScanRepository
	labels  *card.MemoryStitchedLabelRepository
	ocr     *fakeOCR
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := imagestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("imagestore.New() error = %v", err)
	}

	scans := card.NewMemoryScanRepository()
	labels := card.NewMemoryStitchedLabelRepository()
	fake := &fakeOCR{result: &ocr.Result{}}

	lookup := card.NewMemoryCardLookup([]*card.ReferenceCard{
		{
			ID:                  "sv3pt5-199",
			Name:                "Charizard ex",
			Number:              "199",
			SetName:             "POKEMON SV3.5 151",
			CertificationNumber: "81234567",
		},
		{
			ID:      "svp-25",
			Name:    "Pikachu",
			SetName: "Scarlet & Violet Promos",
		},
	})

	manager := NewManager(Deps{
		Scans:    scans,
		Labels:   labels,
		Store:    store,
		Detector: region.NewDetector(config.DefaultDetection()),
		OCR:      fake,
		Matcher:  match.NewEngine(lookup),
	})
	return &testEnv{manager: manager, scans: scans, labels: labels, ocr: fake}
}

// scanPNG encodes a white card photo with a red label strip of the given
// height at the top.
func scanPNG(t *testing.T, labelHeight int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 200, 600))
	white := color.RGBA{255, 255, 255, 255}
	red := color.RGBA{200, 30, 30, 255}
	for y := 0; y < 600; y++ {
		for x := 0; x < 200; x++ {
			if y >= 15 && y < 15+labelHeight && x >= 20 && x < 180 {
				img.Set(x, y, red)
			} else {
				img.Set(x, y, white)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func TestIngestDeduplicatesByHash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	data := scanPNG(t, 40)

	first, created, err := env.manager.Ingest(ctx, data, "slab.png")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if !created {
		t.Fatal("first ingest must create a scan")
	}
	if first.ProcessingStatus != card.StatusUploaded {
		t.Errorf("status = %s, want uploaded", first.ProcessingStatus)
	}

	second, created, err := env.manager.Ingest(ctx, data, "slab-copy.png")
	if err != nil {
		t.Fatalf("re-Ingest() error = %v", err)
	}
	if created {
		t.Error("identical bytes must not create a second scan")
	}
	if second.ID != first.ID {
		t.Errorf("duplicate resolved to %s, want %s", second.ID, first.ID)
	}

	all, _ := env.scans.List(ctx, "")
	if len(all) != 1 {
		t.Errorf("repository holds %d scans, want 1", len(all))
	}
}

func TestIngestRejectsEmptyUpload(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.manager.Ingest(context.Background(), nil, "empty.png"); err == nil {
		t.Fatal("expected an error for an empty upload")
	}
}

func TestExtractLabels(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	scan, _, err := env.manager.Ingest(ctx, scanPNG(t, 40), "slab.png")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	report, err := env.manager.ExtractLabels(ctx, []uuid.UUID{scan.ID}, false)
	if err != nil {
		t.Fatalf("ExtractLabels() error = %v", err)
	}
	if len(report.Failed()) != 0 {
		t.Fatalf("failures: %+v", report.Failed())
	}

	got, _ := env.scans.Get(ctx, scan.ID)
	if got.ProcessingStatus != card.StatusExtracted {
		t.Errorf("status = %s, want extracted", got.ProcessingStatus)
	}
	if got.LabelImagePath == "" {
		t.Error("label image path not set")
	}
	if got.ExtractedRegion == nil {
		t.Fatal("extracted region not set")
	}
	if got.ExtractedRegion.DetectionMethod != region.MethodHSV {
		t.Errorf("detection method = %q, want hsv", got.ExtractedRegion.DetectionMethod)
	}

	// Extraction is re-enterable: running it again overwrites the crop
	// instead of failing.
	if _, err := env.manager.ExtractLabels(ctx, []uuid.UUID{scan.ID}, false); err != nil {
		t.Fatalf("re-extract error = %v", err)
	}
}

func TestExtractLabelsIsolatesPerItemFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	good, _, err := env.manager.Ingest(ctx, scanPNG(t, 40), "slab.png")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	missing := uuid.New()

	report, err := env.manager.ExtractLabels(ctx, []uuid.UUID{missing, good.ID}, true)
	if err != nil {
		t.Fatalf("ExtractLabels() error = %v, want nil with ContinueOnError", err)
	}
	if len(report.Failed()) != 1 || report.Failed()[0].ID != missing {
		t.Errorf("failed = %+v, want just the missing id", report.Failed())
	}
	if len(report.Succeeded()) != 1 || report.Succeeded()[0] != good.ID {
		t.Errorf("succeeded = %v, want just the good id", report.Succeeded())
	}
}

// setupStitched ingests and extracts two scans and stitches them, returning
// the member ids in stitch order and the composite.
func setupStitched(t *testing.T, env *testEnv) ([]uuid.UUID, *card.StitchedLabel) {
	t.Helper()
	ctx := context.Background()

	first, _, err := env.manager.Ingest(ctx, scanPNG(t, 40), "a.png")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	second, _, err := env.manager.Ingest(ctx, scanPNG(t, 50), "b.png")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	ids := []uuid.UUID{first.ID, second.ID}

	if _, err := env.manager.ExtractLabels(ctx, ids, false); err != nil {
		t.Fatalf("ExtractLabels() error = %v", err)
	}

	label, err := env.manager.StitchScans(ctx, ids)
	if err != nil {
		t.Fatalf("StitchScans() error = %v", err)
	}
	return ids, label
}

func TestStitchScans(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ids, label := setupStitched(t, env)

	if len(label.LabelPositions) != 2 {
		t.Fatalf("got %d positions, want 2", len(label.LabelPositions))
	}
	if label.LabelPositions[0].ScanID != ids[0] || label.LabelPositions[1].ScanID != ids[1] {
		t.Error("positions not in stitch order")
	}
	if label.LabelPositions[0].Y != 0 {
		t.Errorf("first offset = %d, want 0", label.LabelPositions[0].Y)
	}
	if label.LabelPositions[1].Y != label.LabelPositions[0].Height {
		t.Errorf("second offset = %d, want %d", label.LabelPositions[1].Y, label.LabelPositions[0].Height)
	}

	for _, id := range ids {
		scan, _ := env.scans.Get(ctx, id)
		if scan.ProcessingStatus != card.StatusStitched {
			t.Errorf("scan %s status = %s, want stitched", id, scan.ProcessingStatus)
		}
		if scan.StitchedLabelID == nil || *scan.StitchedLabelID != label.ID {
			t.Errorf("scan %s not linked to composite", id)
		}
	}
}

func TestStitchScansRejectsUnreadyScan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	uploaded, _, err := env.manager.Ingest(ctx, scanPNG(t, 40), "a.png")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if _, err := env.manager.StitchScans(ctx, []uuid.UUID{uploaded.ID}); !errors.Is(err, ErrScanNotReady) {
		t.Errorf("StitchScans() error = %v, want ErrScanNotReady", err)
	}
}

func TestProcessStitchedOCR(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ids, label := setupStitched(t, env)

	env.ocr.result = &ocr.Result{
		FullText: "FULL TEXT",
		Annotations: []ocr.Annotation{
			{Text: "FULL TEXT"},
			{Text: "word", Bounds: []ocr.Vertex{{Y: 10}, {Y: 30}}},
		},
		ProcessedAt: time.Now(),
		Attempts:    1,
	}

	if err := env.manager.ProcessStitchedOCR(ctx, label.ID); err != nil {
		t.Fatalf("ProcessStitchedOCR() error = %v", err)
	}

	stored, _ := env.labels.Get(ctx, label.ID)
	if stored.OCRText != "FULL TEXT" {
		t.Errorf("OCRText = %q", stored.OCRText)
	}
	if len(stored.TextAnnotations) == 0 {
		t.Error("raw annotations not persisted")
	}
	for _, id := range ids {
		scan, _ := env.scans.Get(ctx, id)
		if scan.ProcessingStatus != card.StatusOCRProcessed {
			t.Errorf("scan %s status = %s, want ocr_processed", id, scan.ProcessingStatus)
		}
	}
}

func TestProcessStitchedOCRFailureKeepsStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ids, label := setupStitched(t, env)
	env.ocr.err = errors.New("503 service unavailable")

	if err := env.manager.ProcessStitchedOCR(ctx, label.ID); err == nil {
		t.Fatal("expected provider failure to surface")
	}
	for _, id := range ids {
		scan, _ := env.scans.Get(ctx, id)
		if scan.ProcessingStatus != card.StatusStitched {
			t.Errorf("scan %s status = %s, want stitched (unchanged)", id, scan.ProcessingStatus)
		}
	}
}

func TestMatchScans(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ids, label := setupStitched(t, env)

	firstMid := label.LabelPositions[0].Y + label.LabelPositions[0].Height/2
	secondMid := label.LabelPositions[1].Y + label.LabelPositions[1].Height/2
	env.ocr.result = &ocr.Result{
		FullText: "summary",
		Annotations: []ocr.Annotation{
			{Text: "summary"},
			{Text: "2023 POKEMON SV3.5 151 CHARIZARD #199 GEM MT 10 81234567",
				Bounds: []ocr.Vertex{{Y: firstMid - 5}, {Y: firstMid + 5}}},
			{Text: "2023 Scarlet Violet Promos Pikachu",
				Bounds: []ocr.Vertex{{Y: secondMid - 5}, {Y: secondMid + 5}}},
		},
	}
	if err := env.manager.ProcessStitchedOCR(ctx, label.ID); err != nil {
		t.Fatalf("ProcessStitchedOCR() error = %v", err)
	}

	report, err := env.manager.MatchScans(ctx, label.ID)
	if err != nil {
		t.Fatalf("MatchScans() error = %v", err)
	}
	if len(report.Failed()) != 0 {
		t.Fatalf("failures: %+v", report.Failed())
	}

	first, _ := env.scans.Get(ctx, ids[0])
	if first.ProcessingStatus != card.StatusMatched {
		t.Errorf("first scan status = %s, want matched", first.ProcessingStatus)
	}
	if first.GradedData == nil || first.GradedData.CertificationNumber != "81234567" {
		t.Errorf("first scan graded data = %+v, want cert 81234567", first.GradedData)
	}
	if len(first.MatchCandidates) == 0 || first.MatchCandidates[0].CardID != "sv3pt5-199" {
		t.Errorf("first scan candidates = %+v, want sv3pt5-199 on top", first.MatchCandidates)
	}
	if first.MatchCandidates[0].Confidence != 1.0 {
		t.Errorf("top confidence = %v, want 1.0", first.MatchCandidates[0].Confidence)
	}

	second, _ := env.scans.Get(ctx, ids[1])
	if second.ProcessingStatus != card.StatusMatched {
		t.Errorf("second scan status = %s, want matched", second.ProcessingStatus)
	}
	if len(second.MatchCandidates) == 0 || second.MatchCandidates[0].CardID != "svp-25" {
		t.Errorf("second scan candidates = %+v, want svp-25 on top", second.MatchCandidates)
	}
}

func TestMatchScansWithNoTextStillAdvances(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ids, label := setupStitched(t, env)
	env.ocr.result = &ocr.Result{FullText: "", Annotations: []ocr.Annotation{{Text: ""}}}
	if err := env.manager.ProcessStitchedOCR(ctx, label.ID); err != nil {
		t.Fatalf("ProcessStitchedOCR() error = %v", err)
	}

	report, err := env.manager.MatchScans(ctx, label.ID)
	if err != nil {
		t.Fatalf("MatchScans() error = %v", err)
	}
	if len(report.Failed()) != 0 {
		t.Fatalf("failures: %+v", report.Failed())
	}

	for _, id := range ids {
		scan, _ := env.scans.Get(ctx, id)
		if scan.ProcessingStatus != card.StatusMatched {
			t.Errorf("scan %s status = %s, want matched (empty match is reviewable)", id, scan.ProcessingStatus)
		}
		if len(scan.MatchCandidates) != 0 {
			t.Errorf("scan %s has %d candidates, want 0", id, len(scan.MatchCandidates))
		}
	}
}

func TestDeleteStitchedLabelResetsMembers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ids, label := setupStitched(t, env)
	env.ocr.result = &ocr.Result{FullText: "x", Annotations: []ocr.Annotation{{Text: "x"}}}
	if err := env.manager.ProcessStitchedOCR(ctx, label.ID); err != nil {
		t.Fatalf("ProcessStitchedOCR() error = %v", err)
	}
	if _, err := env.manager.MatchScans(ctx, label.ID); err != nil {
		t.Fatalf("MatchScans() error = %v", err)
	}

	if err := env.manager.DeleteStitchedLabel(ctx, label.ID); err != nil {
		t.Fatalf("DeleteStitchedLabel() error = %v", err)
	}

	if _, err := env.labels.Get(ctx, label.ID); !errors.Is(err, card.ErrStitchedLabelNotFound) {
		t.Errorf("composite still present, Get error = %v", err)
	}
	for _, id := range ids {
		scan, _ := env.scans.Get(ctx, id)
		if scan.ProcessingStatus != card.StatusExtracted {
			t.Errorf("scan %s status = %s, want extracted after reset", id, scan.ProcessingStatus)
		}
		if scan.StitchedLabelID != nil {
			t.Errorf("scan %s still linked to deleted composite", id)
		}
		if scan.GradedData != nil || len(scan.MatchCandidates) != 0 {
			t.Errorf("scan %s kept stale match data", id)
		}
		if scan.LabelImagePath == "" {
			t.Errorf("scan %s lost its label crop", id)
		}
	}
}

func TestDeleteScanRemovesOrphanedComposite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ids, label := setupStitched(t, env)

	if err := env.manager.DeleteScan(ctx, ids[0]); err != nil {
		t.Fatalf("DeleteScan() error = %v", err)
	}
	if _, err := env.labels.Get(ctx, label.ID); err != nil {
		t.Errorf("composite must survive while a sibling remains, Get error = %v", err)
	}

	if err := env.manager.DeleteScan(ctx, ids[1]); err != nil {
		t.Fatalf("DeleteScan() error = %v", err)
	}
	if _, err := env.labels.Get(ctx, label.ID); !errors.Is(err, card.ErrStitchedLabelNotFound) {
		t.Errorf("orphaned composite must be deleted, Get error = %v", err)
	}
	if _, err := env.scans.Get(ctx, ids[0]); !errors.Is(err, card.ErrScanNotFound) {
		t.Errorf("deleted scan still present, Get error = %v", err)
	}
}
