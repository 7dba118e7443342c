package card

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryScanRepository is a thread-safe in-memory ScanRepository. It backs
// the CLI's single-process runs and the pipeline tests; a database-backed
// implementation can replace it without touching the pipeline.
type MemoryScanRepository struct {
	mu    sync.RWMutex
	scans map[uuid.UUID]*GradedCardScan
}

// NewMemoryScanRepository returns an empty in-memory scan repository.
func NewMemoryScanRepository() *MemoryScanRepository {
	return &MemoryScanRepository{scans: make(map[uuid.UUID]*GradedCardScan)}
}

// NewMemoryScanRepositorySeeded returns a repository pre-populated with
// the given scans, for restoring a snapshot.
func NewMemoryScanRepositorySeeded(scans []*GradedCardScan) *MemoryScanRepository {
	r := NewMemoryScanRepository()
	for _, scan := range scans {
		copied := *scan
		r.scans[scan.ID] = &copied
	}
	return r
}

// Snapshot returns a copy of all stored scans, ordered by creation time.
func (r *MemoryScanRepository) Snapshot() []*GradedCardScan {
	scans, _ := r.List(context.Background(), "")
	return scans
}

func (r *MemoryScanRepository) Create(_ context.Context, scan *GradedCardScan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *scan
	r.scans[scan.ID] = &copied
	return nil
}

func (r *MemoryScanRepository) Get(_ context.Context, id uuid.UUID) (*GradedCardScan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	scan, ok := r.scans[id]
	if !ok {
		return nil, ErrScanNotFound
	}
	copied := *scan
	return &copied, nil
}

func (r *MemoryScanRepository) GetByHash(_ context.Context, imageHash string) (*GradedCardScan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, scan := range r.scans {
		if scan.ImageHash == imageHash {
			copied := *scan
			return &copied, nil
		}
	}
	return nil, ErrScanNotFound
}

func (r *MemoryScanRepository) Update(_ context.Context, scan *GradedCardScan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scans[scan.ID]; !ok {
		return ErrScanNotFound
	}
	copied := *scan
	r.scans[scan.ID] = &copied
	return nil
}

func (r *MemoryScanRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scans[id]; !ok {
		return ErrScanNotFound
	}
	delete(r.scans, id)
	return nil
}

func (r *MemoryScanRepository) List(_ context.Context, status Status) ([]*GradedCardScan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*GradedCardScan, 0, len(r.scans))
	for _, scan := range r.scans {
		if status != "" && scan.ProcessingStatus != status {
			continue
		}
		copied := *scan
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryScanRepository) ListByStitchedLabel(_ context.Context, labelID uuid.UUID) ([]*GradedCardScan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*GradedCardScan, 0, 4)
	for _, scan := range r.scans {
		if scan.StitchedLabelID != nil && *scan.StitchedLabelID == labelID {
			copied := *scan
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// MemoryStitchedLabelRepository is a thread-safe in-memory
// StitchedLabelRepository.
type MemoryStitchedLabelRepository struct {
	mu     sync.RWMutex
	labels map[uuid.UUID]*StitchedLabel
}

// NewMemoryStitchedLabelRepository returns an empty in-memory stitched
// label repository.
func NewMemoryStitchedLabelRepository() *MemoryStitchedLabelRepository {
	return &MemoryStitchedLabelRepository{labels: make(map[uuid.UUID]*StitchedLabel)}
}

// NewMemoryStitchedLabelRepositorySeeded returns a repository
// pre-populated with the given labels, for restoring a snapshot.
func NewMemoryStitchedLabelRepositorySeeded(labels []*StitchedLabel) *MemoryStitchedLabelRepository {
	r := NewMemoryStitchedLabelRepository()
	for _, label := range labels {
		copied := *label
		r.labels[label.ID] = &copied
	}
	return r
}

// Snapshot returns a copy of all stored labels, ordered by creation time.
func (r *MemoryStitchedLabelRepository) Snapshot() []*StitchedLabel {
	labels, _ := r.List(context.Background())
	return labels
}

func (r *MemoryStitchedLabelRepository) List(_ context.Context) ([]*StitchedLabel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*StitchedLabel, 0, len(r.labels))
	for _, label := range r.labels {
		copied := *label
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryStitchedLabelRepository) Create(_ context.Context, label *StitchedLabel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *label
	r.labels[label.ID] = &copied
	return nil
}

func (r *MemoryStitchedLabelRepository) Get(_ context.Context, id uuid.UUID) (*StitchedLabel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	label, ok := r.labels[id]
	if !ok {
		return nil, ErrStitchedLabelNotFound
	}
	copied := *label
	return &copied, nil
}

func (r *MemoryStitchedLabelRepository) Update(_ context.Context, label *StitchedLabel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.labels[label.ID]; !ok {
		return ErrStitchedLabelNotFound
	}
	copied := *label
	r.labels[label.ID] = &copied
	return nil
}

func (r *MemoryStitchedLabelRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.labels[id]; !ok {
		return ErrStitchedLabelNotFound
	}
	delete(r.labels, id)
	return nil
}

// MemoryCollectionRepository is a thread-safe in-memory CollectionRepository.
type MemoryCollectionRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*CollectionItem
}

// NewMemoryCollectionRepository returns an empty in-memory collection
// repository.
func NewMemoryCollectionRepository() *MemoryCollectionRepository {
	return &MemoryCollectionRepository{items: make(map[uuid.UUID]*CollectionItem)}
}

// NewMemoryCollectionRepositorySeeded returns a repository pre-populated
// with the given items, for restoring a snapshot.
func NewMemoryCollectionRepositorySeeded(items []*CollectionItem) *MemoryCollectionRepository {
	r := NewMemoryCollectionRepository()
	for _, item := range items {
		copied := *item
		r.items[item.ID] = &copied
	}
	return r
}

func (r *MemoryCollectionRepository) Create(_ context.Context, item *CollectionItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item.GradedData.CertificationNumber != "" {
		for _, existing := range r.items {
			if existing.GradedData.CertificationNumber == item.GradedData.CertificationNumber {
				return ErrDuplicateCertification
			}
		}
	}
	copied := *item
	r.items[item.ID] = &copied
	return nil
}

func (r *MemoryCollectionRepository) ExistsByCertification(_ context.Context, certNumber string) (bool, error) {
	if certNumber == "" {
		return false, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, item := range r.items {
		if item.GradedData.CertificationNumber == certNumber {
			return true, nil
		}
	}
	return false, nil
}

// Items returns a snapshot of the stored collection items, for listing and
// tests.
func (r *MemoryCollectionRepository) Items() []*CollectionItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*CollectionItem, 0, len(r.items))
	for _, item := range r.items {
		copied := *item
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// MemoryCardLookup is an in-memory CardLookup over a fixed reference list.
type MemoryCardLookup struct {
	mu    sync.RWMutex
	cards []*ReferenceCard
}

// NewMemoryCardLookup returns a lookup over the given reference cards.
func NewMemoryCardLookup(cards []*ReferenceCard) *MemoryCardLookup {
	return &MemoryCardLookup{cards: cards}
}

func (l *MemoryCardLookup) FindByCertification(_ context.Context, certNumber string) (*ReferenceCard, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.cards {
		if c.CertificationNumber != "" && c.CertificationNumber == certNumber {
			copied := *c
			return &copied, nil
		}
	}
	return nil, ErrCardNotFound
}

func (l *MemoryCardLookup) FindByCardNumber(_ context.Context, number, setName string) ([]*ReferenceCard, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*ReferenceCard, 0, 2)
	for _, c := range l.cards {
		if c.Number == "" || c.Number != number {
			continue
		}
		if setName != "" && !strings.EqualFold(c.SetName, setName) {
			continue
		}
		copied := *c
		out = append(out, &copied)
	}
	return out, nil
}

func (l *MemoryCardLookup) SearchByName(_ context.Context, name string) ([]*ReferenceCard, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	// The in-memory lookup returns everything; the matching engine scores
	// and filters candidates itself.
	out := make([]*ReferenceCard, 0, len(l.cards))
	for _, c := range l.cards {
		copied := *c
		out = append(out, &copied)
	}
	return out, nil
}
