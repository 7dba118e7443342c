package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gradescan/internal/logger"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [image-file...]",
	Short: "Ingest graded card scan images into the pipeline",
	Long: `Register one or more scan images as graded card scans in the uploaded
state. Images are content-addressed by SHA-256 hash: re-ingesting a file
whose bytes were seen before returns the existing scan instead of
creating a duplicate.`,
	Example: `  # Ingest a single scan
  gradescan ingest slab-front.jpg

  # Ingest a directory's worth of scans
  gradescan ingest scans/*.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ingest")

	app, err := openApp()
	if err != nil {
		return err
	}

	manager, err := app.manager(nil)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	created := 0
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Failed to read scan image")
			return fmt.Errorf("failed to read scan image %s: %w", path, err)
		}

		scan, isNew, err := manager.Ingest(ctx, data, filepath.Base(path))
		if err != nil {
			return fmt.Errorf("failed to ingest %s: %w", path, err)
		}
		if isNew {
			created++
			fmt.Printf("ingested %s as scan %s\n", path, scan.ID)
		} else {
			fmt.Printf("skipped %s: identical to existing scan %s\n", path, scan.ID)
		}
	}

	log.Info().
		Int("files", len(args)).
		Int("created", created).
		Msg("Ingest completed")
	return app.save()
}
