package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gradescan/internal/card"
	"gradescan/internal/config"
	"gradescan/internal/imagestore"
	"gradescan/internal/match"
	"gradescan/internal/ocr"
	"gradescan/internal/pipeline"
	"gradescan/internal/region"
)

// pipelineState is the JSON snapshot of the in-memory repositories,
// persisted under the storage root between CLI invocations. A
// database-backed deployment replaces this file with real repositories.
type pipelineState struct {
	Scans           []*card.GradedCardScan `json:"scans"`
	StitchedLabels  []*card.StitchedLabel  `json:"stitched_labels"`
	CollectionItems []*card.CollectionItem `json:"collection_items"`
}

// appContext wires the pipeline's collaborators for one CLI invocation.
type appContext struct {
	cfg        *config.Config
	store      *imagestore.Store
	scans      *card.MemoryScanRepository
	labels     *card.MemoryStitchedLabelRepository
	collection *card.MemoryCollectionRepository
	statePath  string
}

// openApp loads configuration, opens the image store, and restores the
// repository snapshot.
func openApp() (*appContext, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	store, err := imagestore.New(cfg.StorageRoot)
	if err != nil {
		return nil, err
	}

	app := &appContext{
		cfg:       cfg,
		store:     store,
		statePath: filepath.Join(cfg.StorageRoot, "state.json"),
	}

	state := pipelineState{}
	data, err := os.ReadFile(app.statePath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("decode pipeline state: %w", err)
		}
	case os.IsNotExist(err):
		// First run: start empty.
	default:
		return nil, fmt.Errorf("read pipeline state: %w", err)
	}

	app.scans = card.NewMemoryScanRepositorySeeded(state.Scans)
	app.labels = card.NewMemoryStitchedLabelRepositorySeeded(state.StitchedLabels)
	app.collection = card.NewMemoryCollectionRepositorySeeded(state.CollectionItems)
	return app, nil
}

// save writes the repository snapshot back to disk.
func (a *appContext) save() error {
	state := pipelineState{
		Scans:           a.scans.Snapshot(),
		StitchedLabels:  a.labels.Snapshot(),
		CollectionItems: a.collection.Items(),
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pipeline state: %w", err)
	}
	if err := os.WriteFile(a.statePath, data, 0o644); err != nil {
		return fmt.Errorf("write pipeline state: %w", err)
	}
	return nil
}

// manager builds the lifecycle manager. The OCR service may be nil for
// stages that never reach the provider.
func (a *appContext) manager(ocrService ocr.Service) (*pipeline.Manager, error) {
	lookup, err := a.cardLookup()
	if err != nil {
		return nil, err
	}
	return pipeline.NewManager(pipeline.Deps{
		Scans:       a.scans,
		Labels:      a.labels,
		Store:       a.store,
		Detector:    region.NewDetector(a.cfg.Detection),
		OCR:         ocrService,
		Matcher:     match.NewEngine(lookup),
		WorkerLimit: a.cfg.BatchWorkerLimit,
	}), nil
}

// coordinator builds the approval coordinator.
func (a *appContext) coordinator() *pipeline.Coordinator {
	return pipeline.NewCoordinator(a.scans, a.collection, a.cfg.CollectionRoot)
}

// cardLookup loads the reference data configured via CARD_REFERENCE_PATH.
// Without reference data matching still runs, it just finds nothing.
func (a *appContext) cardLookup() (card.CardLookup, error) {
	if a.cfg.CardReferencePath == "" {
		return card.NewMemoryCardLookup(nil), nil
	}
	data, err := os.ReadFile(a.cfg.CardReferencePath)
	if err != nil {
		return nil, fmt.Errorf("read card reference data: %w", err)
	}
	var cards []*card.ReferenceCard
	if err := json.Unmarshal(data, &cards); err != nil {
		return nil, fmt.Errorf("decode card reference data: %w", err)
	}
	return card.NewMemoryCardLookup(cards), nil
}
