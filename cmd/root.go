package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gradescan/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "gradescan",
	Short: "Gradescan - graded card scan ingestion and matching pipeline",
	Long: `Gradescan ingests photographs of graded trading card slabs, extracts
their grading labels, batches the labels through OCR, and matches the
recognized text against card reference data for review.

A scan moves through the pipeline in stages: label extraction, label
stitching, OCR, and matching. Matched scans are then approved into the
permanent collection or rejected.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("Gradescan CLI executed")

		fmt.Println("Welcome to Gradescan!")
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}
