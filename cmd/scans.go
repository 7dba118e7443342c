package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"gradescan/internal/card"
)

var scansCmd = &cobra.Command{
	Use:   "scans",
	Short: "List graded card scans and their pipeline state",
	Long: `List the scans known to the pipeline, optionally filtered by status.

Valid statuses: uploaded, extracted, stitched, ocr_processed, matched,
approved, rejected.`,
	Example: `  # List every scan
  gradescan scans

  # Only scans waiting for review
  gradescan scans --status matched

  # Full records as JSON
  gradescan scans --json`,
	Args: cobra.NoArgs,
	RunE: runScans,
}

func init() {
	rootCmd.AddCommand(scansCmd)

	scansCmd.Flags().String("status", "", "Filter by processing status")
	scansCmd.Flags().Bool("json", false, "Output as JSON")
}

func runScans(cmd *cobra.Command, args []string) error {
	statusFlag, _ := cmd.Flags().GetString("status")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	status := card.Status(statusFlag)
	if statusFlag != "" && !status.IsValid() {
		return fmt.Errorf("unknown status %q: expected one of %s",
			statusFlag, strings.Join(statusNames(), ", "))
	}

	app, err := openApp()
	if err != nil {
		return err
	}

	scans, err := app.scans.List(cmd.Context(), status)
	if err != nil {
		return err
	}

	if jsonOutput {
		data, err := json.MarshalIndent(scans, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if len(scans) == 0 {
		fmt.Println("no scans")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCANDIDATES\tBEST MATCH\tCREATED")
	for _, scan := range scans {
		best := ""
		if len(scan.MatchCandidates) > 0 {
			top := scan.MatchCandidates[0]
			best = fmt.Sprintf("%s (%.2f)", top.CardName, top.Confidence)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			scan.ID,
			scan.ProcessingStatus,
			len(scan.MatchCandidates),
			best,
			scan.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func statusNames() []string {
	statuses := card.AllStatuses()
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
