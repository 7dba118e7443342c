package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"gradescan/internal/card"
)

type approvalEnv struct {
	coordinator    *Coordinator
	scans          *card.MemoryScanRepository
	collection     *card.MemoryCollectionRepository
	collectionRoot string
}

func newApprovalEnv(t *testing.T) *approvalEnv {
	t.Helper()
	scans := card.NewMemoryScanRepository()
	collection := card.NewMemoryCollectionRepository()
	root := t.TempDir()
	return &approvalEnv{
		coordinator:    NewCoordinator(scans, collection, root),
		scans:          scans,
		collection:     collection,
		collectionRoot: root,
	}
}

// matchedScan creates a matched scan with real image files and one match
// candidate.
func (e *approvalEnv) matchedScan(t *testing.T, cert string) *card.GradedCardScan {
	t.Helper()

	srcDir := t.TempDir()
	fullPath := filepath.Join(srcDir, "full.png")
	labelPath := filepath.Join(srcDir, "label.png")
	if err := os.WriteFile(fullPath, []byte("full-image-bytes-"+cert), 0o644); err != nil {
		t.Fatalf("write full image: %v", err)
	}
	if err := os.WriteFile(labelPath, []byte("label-image-bytes-"+cert), 0o644); err != nil {
		t.Fatalf("write label image: %v", err)
	}

	now := time.Now()
	scan := &card.GradedCardScan{
		ID:               uuid.New(),
		FullImagePath:    fullPath,
		ImageHash:        "aabbccddeeff0011",
		LabelImagePath:   labelPath,
		ProcessingStatus: card.StatusMatched,
		GradedData: &card.GradedData{
			Grade: "GEM MT 10",
			Year:  2023,
		},
		MatchCandidates: []card.MatchCandidate{
			{
				CardID:              "sv3pt5-199",
				CardName:            "Charizard ex",
				CardNumber:          "199",
				CertificationNumber: cert,
				SetName:             "POKEMON SV3.5 151",
				Confidence:          1.0,
				Strategy:            "exact_certification",
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.scans.Create(context.Background(), scan); err != nil {
		t.Fatalf("create scan: %v", err)
	}
	return scan
}

func TestApproveCreatesCollectionItem(t *testing.T) {
	env := newApprovalEnv(t)
	ctx := context.Background()
	scan := env.matchedScan(t, "81234567")

	item, err := env.coordinator.Approve(ctx, scan.ID, "sv3pt5-199", UserData{Owner: "alice", Notes: "first slab"})
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	if item.CardID != "sv3pt5-199" {
		t.Errorf("item card = %s, want sv3pt5-199", item.CardID)
	}
	if item.SourceScanID != scan.ID {
		t.Errorf("item source scan = %s, want %s", item.SourceScanID, scan.ID)
	}
	if item.Owner != "alice" || item.Notes != "first slab" {
		t.Errorf("user data = (%q, %q)", item.Owner, item.Notes)
	}
	if item.GradedData.CertificationNumber != "81234567" {
		t.Errorf("item cert = %q, want the candidate's", item.GradedData.CertificationNumber)
	}
	if item.GradedData.Grade != "GEM MT 10" {
		t.Errorf("item grade = %q, extraction fields must survive the merge", item.GradedData.Grade)
	}
	if item.GradedData.CardName != "Charizard ex" {
		t.Errorf("item card name = %q, want filled from the candidate", item.GradedData.CardName)
	}

	// Images are copied into permanent storage under public names.
	for _, path := range []string{item.ImagePath, item.LabelImagePath} {
		if !strings.HasPrefix(path, env.collectionRoot) {
			t.Errorf("image %s not under collection root", path)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("copied image missing: %v", err)
		}
	}

	got, _ := env.scans.Get(ctx, scan.ID)
	if got.ProcessingStatus != card.StatusApproved {
		t.Errorf("scan status = %s, want approved", got.ProcessingStatus)
	}
}

func TestApproveRejectsDuplicateCertification(t *testing.T) {
	env := newApprovalEnv(t)
	ctx := context.Background()

	first := env.matchedScan(t, "81234567")
	if _, err := env.coordinator.Approve(ctx, first.ID, "sv3pt5-199", UserData{}); err != nil {
		t.Fatalf("first Approve() error = %v", err)
	}

	second := env.matchedScan(t, "81234567")
	_, err := env.coordinator.Approve(ctx, second.ID, "sv3pt5-199", UserData{})
	if !errors.Is(err, card.ErrDuplicateCertification) {
		t.Fatalf("second Approve() error = %v, want ErrDuplicateCertification", err)
	}
	if !IsConflict(err) {
		t.Error("duplicate certification must map to a conflict")
	}

	// The second scan stays matched for a later retry or rejection.
	got, _ := env.scans.Get(ctx, second.ID)
	if got.ProcessingStatus != card.StatusMatched {
		t.Errorf("scan status = %s, want matched (unchanged)", got.ProcessingStatus)
	}
}

func TestApproveUnknownCandidate(t *testing.T) {
	env := newApprovalEnv(t)
	scan := env.matchedScan(t, "81234567")

	_, err := env.coordinator.Approve(context.Background(), scan.ID, "not-a-candidate", UserData{})
	if !errors.Is(err, ErrCandidateNotFound) {
		t.Fatalf("Approve() error = %v, want ErrCandidateNotFound", err)
	}
	if !IsNotFound(err) {
		t.Error("unknown candidate must map to not-found")
	}
}

func TestApproveUnknownScan(t *testing.T) {
	env := newApprovalEnv(t)

	_, err := env.coordinator.Approve(context.Background(), uuid.New(), "sv3pt5-199", UserData{})
	if !IsNotFound(err) {
		t.Errorf("Approve() error = %v, want a not-found error", err)
	}
}

func TestApproveRequiresMatchedStatus(t *testing.T) {
	env := newApprovalEnv(t)
	ctx := context.Background()

	scan := env.matchedScan(t, "81234567")
	scan.ProcessingStatus = card.StatusStitched
	if err := env.scans.Update(ctx, scan); err != nil {
		t.Fatalf("update scan: %v", err)
	}

	if _, err := env.coordinator.Approve(ctx, scan.ID, "sv3pt5-199", UserData{}); !errors.Is(err, ErrScanNotReady) {
		t.Errorf("Approve() error = %v, want ErrScanNotReady", err)
	}
}

func TestReject(t *testing.T) {
	env := newApprovalEnv(t)
	ctx := context.Background()
	scan := env.matchedScan(t, "81234567")

	if err := env.coordinator.Reject(ctx, scan.ID, "wrong card matched"); err != nil {
		t.Fatalf("Reject() error = %v", err)
	}

	got, _ := env.scans.Get(ctx, scan.ID)
	if got.ProcessingStatus != card.StatusRejected {
		t.Errorf("scan status = %s, want rejected", got.ProcessingStatus)
	}
	if got.RejectionReason != "wrong card matched" {
		t.Errorf("rejection reason = %q", got.RejectionReason)
	}
}

func TestRejectRequiresMatchedStatus(t *testing.T) {
	env := newApprovalEnv(t)
	ctx := context.Background()

	scan := env.matchedScan(t, "81234567")
	scan.ProcessingStatus = card.StatusUploaded
	if err := env.scans.Update(ctx, scan); err != nil {
		t.Fatalf("update scan: %v", err)
	}

	if err := env.coordinator.Reject(ctx, scan.ID, "nope"); !errors.Is(err, ErrScanNotReady) {
		t.Errorf("Reject() error = %v, want ErrScanNotReady", err)
	}
}

func TestApprovedScanIsTerminal(t *testing.T) {
	env := newApprovalEnv(t)
	ctx := context.Background()
	scan := env.matchedScan(t, "81234567")

	if _, err := env.coordinator.Approve(ctx, scan.ID, "sv3pt5-199", UserData{}); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if err := env.coordinator.Reject(ctx, scan.ID, "changed my mind"); !errors.Is(err, ErrScanNotReady) {
		t.Errorf("Reject() after approval error = %v, want ErrScanNotReady", err)
	}
}
