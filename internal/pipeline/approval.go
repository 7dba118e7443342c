package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gradescan/internal/card"
	"gradescan/internal/imagestore"
	"gradescan/internal/logger"
)

// UserData carries the reviewer-supplied fields of an approval.
type UserData struct {
	Owner string
	Notes string
}

// Coordinator turns an approved match into a persisted collection record
// and marks terminal scan states.
type Coordinator struct {
	scans          card.ScanRepository
	collection     card.CollectionRepository
	collectionRoot string
	log            zerolog.Logger
}

// NewCoordinator returns an approval coordinator writing permanent images
// under collectionRoot.
func NewCoordinator(scans card.ScanRepository, collection card.CollectionRepository, collectionRoot string) *Coordinator {
	return &Coordinator{
		scans:          scans,
		collection:     collection,
		collectionRoot: collectionRoot,
		log:            logger.WithComponent("approval"),
	}
}

// Approve creates a collection item from a matched scan and the reviewer's
// chosen candidate. Images are copied from pipeline storage into permanent
// collection storage, with the destination confirmed to lie inside the
// collection root before any write. Not-found, duplicate-certification,
// and generic failures stay distinguishable through errors.Is, and all of
// them leave the scan status untouched for a later retry.
func (c *Coordinator) Approve(ctx context.Context, scanID uuid.UUID, cardID string, userData UserData) (*card.CollectionItem, error) {
	const stage = "approve"

	scan, err := c.scans.Get(ctx, scanID)
	if err != nil {
		return nil, wrapStage(stage, err, scanID.String())
	}
	if !scan.ProcessingStatus.CanTransition(card.StatusApproved) {
		return nil, wrapStage(stage, ErrScanNotReady, fmt.Sprintf("scan %s is %s", scanID, scan.ProcessingStatus))
	}

	candidate, err := chooseCandidate(scan, cardID)
	if err != nil {
		return nil, wrapStage(stage, err, cardID)
	}

	gradedData := card.GradedData{}
	if scan.GradedData != nil {
		gradedData = *scan.GradedData
	}
	if candidate.CertificationNumber != "" {
		gradedData.CertificationNumber = candidate.CertificationNumber
	}
	if gradedData.CardName == "" {
		gradedData.CardName = candidate.CardName
	}
	if gradedData.SetName == "" {
		gradedData.SetName = candidate.SetName
	}

	if gradedData.CertificationNumber != "" {
		exists, err := c.collection.ExistsByCertification(ctx, gradedData.CertificationNumber)
		if err != nil {
			return nil, wrapStage(stage, err, "certification check")
		}
		if exists {
			return nil, wrapStage(stage, card.ErrDuplicateCertification, gradedData.CertificationNumber)
		}
	}

	now := time.Now()
	publicBase := imagestore.PublicName(now, scan.ImageHash, filepath.Ext(scan.FullImagePath))

	imagePath, err := imagestore.CopyInto(c.collectionRoot, publicBase, scan.FullImagePath)
	if err != nil {
		return nil, wrapStage(stage, err, "copy full image")
	}

	labelPath := ""
	if scan.LabelImagePath != "" {
		labelName := "label-" + imagestore.PublicName(now, scan.ImageHash, ".png")
		labelPath, err = imagestore.CopyInto(c.collectionRoot, labelName, scan.LabelImagePath)
		if err != nil {
			return nil, wrapStage(stage, err, "copy label image")
		}
	}

	item := &card.CollectionItem{
		ID:             uuid.New(),
		CardID:         candidate.CardID,
		GradedData:     gradedData,
		SourceScanID:   scan.ID,
		ImagePath:      imagePath,
		LabelImagePath: labelPath,
		Owner:          userData.Owner,
		Notes:          userData.Notes,
		CreatedAt:      now,
	}
	if err := c.collection.Create(ctx, item); err != nil {
		return nil, wrapStage(stage, err, "persist collection item")
	}

	scan.ProcessingStatus = card.StatusApproved
	scan.GradedData = &gradedData
	scan.UpdatedAt = time.Now()
	if err := c.scans.Update(ctx, scan); err != nil {
		return nil, wrapStage(stage, err, "persist scan")
	}

	c.log.Info().
		Str("scan_id", scanID.String()).
		Str("card_id", candidate.CardID).
		Str("item_id", item.ID.String()).
		Msg("Scan approved into collection")
	return item, nil
}

// Reject marks a matched scan rejected with a reason. Terminal: the scan
// will not be processed further.
func (c *Coordinator) Reject(ctx context.Context, scanID uuid.UUID, reason string) error {
	const stage = "reject"

	scan, err := c.scans.Get(ctx, scanID)
	if err != nil {
		return wrapStage(stage, err, scanID.String())
	}
	if !scan.ProcessingStatus.CanTransition(card.StatusRejected) {
		return wrapStage(stage, ErrScanNotReady, fmt.Sprintf("scan %s is %s", scanID, scan.ProcessingStatus))
	}

	scan.ProcessingStatus = card.StatusRejected
	scan.RejectionReason = reason
	scan.UpdatedAt = time.Now()
	if err := c.scans.Update(ctx, scan); err != nil {
		return wrapStage(stage, err, "persist scan")
	}

	c.log.Info().Str("scan_id", scanID.String()).Str("reason", reason).Msg("Scan rejected")
	return nil
}

// chooseCandidate finds the reviewer's chosen card among the scan's match
// candidates.
func chooseCandidate(scan *card.GradedCardScan, cardID string) (card.MatchCandidate, error) {
	for _, candidate := range scan.MatchCandidates {
		if candidate.CardID == cardID {
			return candidate, nil
		}
	}
	return card.MatchCandidate{}, fmt.Errorf("%w: %s", ErrCandidateNotFound, cardID)
}

// IsNotFound reports whether err maps to a not-found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, card.ErrScanNotFound) ||
		errors.Is(err, card.ErrStitchedLabelNotFound) ||
		errors.Is(err, ErrCandidateNotFound)
}

// IsConflict reports whether err maps to an already-exists condition.
func IsConflict(err error) bool {
	return errors.Is(err, card.ErrDuplicateCertification)
}
