package card

import (
	"context"

	"github.com/google/uuid"
)

// ScanRepository persists graded card scans. Implementations must return
// ErrScanNotFound for missing identifiers.
type ScanRepository interface {
	Create(ctx context.Context, scan *GradedCardScan) error
	Get(ctx context.Context, id uuid.UUID) (*GradedCardScan, error)

	// GetByHash resolves a content hash to an existing scan, or
	// ErrScanNotFound when the hash is unseen.
	GetByHash(ctx context.Context, imageHash string) (*GradedCardScan, error)

	Update(ctx context.Context, scan *GradedCardScan) error
	Delete(ctx context.Context, id uuid.UUID) error

	// List returns scans in a given status, or all scans when status is
	// empty, ordered by creation time.
	List(ctx context.Context, status Status) ([]*GradedCardScan, error)

	// ListByStitchedLabel returns the member scans of one composite.
	ListByStitchedLabel(ctx context.Context, labelID uuid.UUID) ([]*GradedCardScan, error)
}

// StitchedLabelRepository persists stitched composites. Implementations
// must return ErrStitchedLabelNotFound for missing identifiers.
type StitchedLabelRepository interface {
	Create(ctx context.Context, label *StitchedLabel) error
	Get(ctx context.Context, id uuid.UUID) (*StitchedLabel, error)
	Update(ctx context.Context, label *StitchedLabel) error
	Delete(ctx context.Context, id uuid.UUID) error

	// List returns all stitched labels ordered by creation time.
	List(ctx context.Context) ([]*StitchedLabel, error)
}

// CollectionRepository is the "create record" capability the approval flow
// consumes. The full collection feature set lives outside this pipeline.
type CollectionRepository interface {
	Create(ctx context.Context, item *CollectionItem) error

	// ExistsByCertification reports whether a collection item already
	// carries the given certification number.
	ExistsByCertification(ctx context.Context, certNumber string) (bool, error)
}

// CardLookup is the read-only card/set reference data the matching engine
// searches. It is a collaborator boundary, not owned by this pipeline.
type CardLookup interface {
	// FindByCertification resolves a grading-service certification number
	// to exactly one card, or ErrCardNotFound.
	FindByCertification(ctx context.Context, certNumber string) (*ReferenceCard, error)

	// FindByCardNumber returns cards with the given in-set number,
	// optionally narrowed by set name.
	FindByCardNumber(ctx context.Context, number, setName string) ([]*ReferenceCard, error)

	// SearchByName returns candidate cards for a free-text name query.
	SearchByName(ctx context.Context, name string) ([]*ReferenceCard, error)
}
