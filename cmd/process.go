package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"gradescan/internal/card"
	"gradescan/internal/logger"
	"gradescan/internal/ocr"
	"gradescan/internal/pipeline"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run pipeline stages over pending scans",
	Long: `Advance pending scans through the processing pipeline.

Stages run in order: extract crops grading labels out of uploaded scans,
stitch composites extracted labels into batches, ocr sends stitched
composites through the text recognition provider, and match redistributes
the recognized text per label and searches the card reference data.

By default all stages run. Use --stage to run a single stage. The ocr
stage needs Google Cloud credentials:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string`,
	Example: `  # Run the whole pipeline over everything pending
  gradescan process

  # Only extract labels from newly uploaded scans
  gradescan process --stage extract

  # Re-run matching for composites that already have OCR text
  gradescan process --stage match`,
	Args: cobra.NoArgs,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().String("stage", "all", "Pipeline stage to run: extract, stitch, ocr, match, or all")
	processCmd.Flags().Int("timeout", 600, "Processing timeout in seconds")
}

func runProcess(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("process")

	stage, _ := cmd.Flags().GetString("stage")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	switch stage {
	case "extract", "stitch", "ocr", "match", "all":
	default:
		return fmt.Errorf("unknown stage %q: expected extract, stitch, ocr, match, or all", stage)
	}

	app, err := openApp()
	if err != nil {
		return err
	}

	ctx, cancel := processContext(timeoutSecs, log)
	defer cancel()

	var ocrService ocr.Service
	if stage == "ocr" || stage == "all" {
		service, err := ocr.NewGoogleVisionService(ctx, ocr.Options{
			MaxCallsPerMinute: app.cfg.OCRMaxCallsPerMinute,
			MaxAttempts:       app.cfg.OCRMaxAttempts,
			InitialBackoff:    time.Duration(app.cfg.OCRInitialBackoffSecs) * time.Second,
			LanguageHints:     app.cfg.OCRLanguageHints,
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to create OCR service")
			return fmt.Errorf("failed to create OCR service: %w", err)
		}
		defer func() {
			if closeErr := service.Close(); closeErr != nil {
				log.Warn().Err(closeErr).Msg("Failed to close OCR service")
			}
		}()
		ocrService = service
	}

	manager, err := app.manager(ocrService)
	if err != nil {
		return err
	}

	if stage == "extract" || stage == "all" {
		if err := runExtractStage(ctx, app, manager); err != nil {
			return err
		}
	}
	if stage == "stitch" || stage == "all" {
		if err := runStitchStage(ctx, app, manager); err != nil {
			return err
		}
	}
	if stage == "ocr" || stage == "all" {
		if err := runOCRStage(ctx, app, manager); err != nil {
			return err
		}
	}
	if stage == "match" || stage == "all" {
		if err := runMatchStage(ctx, app, manager); err != nil {
			return err
		}
	}

	return app.save()
}

// runExtractStage crops labels from every uploaded scan.
func runExtractStage(ctx context.Context, app *appContext, manager *pipeline.Manager) error {
	scans, err := app.scans.List(ctx, card.StatusUploaded)
	if err != nil {
		return err
	}
	if len(scans) == 0 {
		fmt.Println("extract: nothing pending")
		return nil
	}

	ids := make([]uuid.UUID, 0, len(scans))
	for _, scan := range scans {
		ids = append(ids, scan.ID)
	}

	report, err := manager.ExtractLabels(ctx, ids, true)
	if err != nil {
		return err
	}
	printReport("extract", report)
	return nil
}

// runStitchStage groups extracted scans into composites of at most
// STITCH_BATCH_SIZE labels each.
func runStitchStage(ctx context.Context, app *appContext, manager *pipeline.Manager) error {
	scans, err := app.scans.List(ctx, card.StatusExtracted)
	if err != nil {
		return err
	}
	if len(scans) == 0 {
		fmt.Println("stitch: nothing pending")
		return nil
	}

	batchSize := app.cfg.StitchBatchSize
	for start := 0; start < len(scans); start += batchSize {
		end := start + batchSize
		if end > len(scans) {
			end = len(scans)
		}
		ids := make([]uuid.UUID, 0, end-start)
		for _, scan := range scans[start:end] {
			ids = append(ids, scan.ID)
		}
		label, err := manager.StitchScans(ctx, ids)
		if err != nil {
			return err
		}
		fmt.Printf("stitch: composite %s holds %d labels\n", label.ID, len(label.LabelPositions))
	}
	return nil
}

// runOCRStage sends every composite without OCR text through the provider.
func runOCRStage(ctx context.Context, app *appContext, manager *pipeline.Manager) error {
	labels, err := app.labels.List(ctx)
	if err != nil {
		return err
	}

	pending := 0
	for _, label := range labels {
		if label.OCRText != "" {
			continue
		}
		pending++
		if err := manager.ProcessStitchedOCR(ctx, label.ID); err != nil {
			return fmt.Errorf("ocr for composite %s: %w", label.ID, err)
		}
		fmt.Printf("ocr: composite %s processed\n", label.ID)
	}
	if pending == 0 {
		fmt.Println("ocr: nothing pending")
	}
	return nil
}

// runMatchStage redistributes OCR text and matches every composite whose
// members reached the ocr_processed state.
func runMatchStage(ctx context.Context, app *appContext, manager *pipeline.Manager) error {
	labels, err := app.labels.List(ctx)
	if err != nil {
		return err
	}

	pending := 0
	for _, label := range labels {
		members, err := app.scans.ListByStitchedLabel(ctx, label.ID)
		if err != nil {
			return err
		}
		ready := false
		for _, member := range members {
			if member.ProcessingStatus == card.StatusOCRProcessed {
				ready = true
				break
			}
		}
		if !ready {
			continue
		}
		pending++
		report, err := manager.MatchScans(ctx, label.ID)
		if err != nil {
			return fmt.Errorf("match for composite %s: %w", label.ID, err)
		}
		printReport("match", report)
	}
	if pending == 0 {
		fmt.Println("match: nothing pending")
	}
	return nil
}

func printReport(stage string, report *pipeline.Report) {
	fmt.Printf("%s: %d succeeded, %d failed\n", stage, len(report.Succeeded()), len(report.Failed()))
	for _, failure := range report.Failed() {
		fmt.Printf("  %s: %v\n", failure.ID, failure.Err)
	}
}

// processContext creates a context with timeout and signal handling.
func processContext(timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling processing")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
