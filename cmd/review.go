package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"gradescan/internal/logger"
	"gradescan/internal/pipeline"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review matched scans: approve, reject, or delete",
	Long: `Review commands close out matched scans. Approving a scan picks one
of its match candidates, copies its images into permanent collection
storage, and creates a collection record. Rejecting marks the scan as a
bad match. Both states are terminal.

Delete removes a scan entirely, including its stored images. Deleting
the last member of a stitched composite removes the composite too.`,
}

var approveCmd = &cobra.Command{
	Use:   "approve [scan-id] [card-id]",
	Short: "Approve a matched scan into the collection",
	Example: `  # Approve using the candidate's reference card id
  gradescan review approve 4f3a... sv3pt5-199 --owner alice

  # With a note
  gradescan review approve 4f3a... sv3pt5-199 --notes "graded 2024 batch"`,
	Args: cobra.ExactArgs(2),
	RunE: runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject [scan-id] [reason]",
	Short: "Reject a matched scan",
	Example: `  gradescan review reject 4f3a... "label misread, wrong card"`,
	Args:    cobra.ExactArgs(2),
	RunE:    runReject,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [scan-id]",
	Short: "Delete a scan and its stored images",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var deleteCompositeCmd = &cobra.Command{
	Use:   "delete-composite [composite-id]",
	Short: "Delete a stitched composite and reset its members",
	Long: `Delete a stitched composite image. Member scans that are not yet
approved or rejected fall back to the extracted state so they can be
re-stitched in a later batch.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeleteComposite,
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(approveCmd)
	reviewCmd.AddCommand(rejectCmd)
	reviewCmd.AddCommand(deleteCmd)
	reviewCmd.AddCommand(deleteCompositeCmd)

	approveCmd.Flags().String("owner", "", "Collection item owner")
	approveCmd.Flags().String("notes", "", "Free-form notes on the item")
}

func runApprove(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("review")

	scanID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid scan id %q: %w", args[0], err)
	}
	cardID := args[1]
	owner, _ := cmd.Flags().GetString("owner")
	notes, _ := cmd.Flags().GetString("notes")

	app, err := openApp()
	if err != nil {
		return err
	}

	item, err := app.coordinator().Approve(cmd.Context(), scanID, cardID, pipeline.UserData{
		Owner: owner,
		Notes: notes,
	})
	if err != nil {
		switch {
		case pipeline.IsNotFound(err):
			return fmt.Errorf("nothing to approve: %w", err)
		case pipeline.IsConflict(err):
			return fmt.Errorf("already in collection: %w", err)
		default:
			log.Error().Err(err).Str("scan_id", scanID.String()).Msg("Approval failed")
			return err
		}
	}

	fmt.Printf("approved scan %s as collection item %s (%s)\n", scanID, item.ID, item.GradedData.CardName)
	return app.save()
}

func runReject(cmd *cobra.Command, args []string) error {
	scanID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid scan id %q: %w", args[0], err)
	}
	reason := args[1]

	app, err := openApp()
	if err != nil {
		return err
	}

	if err := app.coordinator().Reject(cmd.Context(), scanID, reason); err != nil {
		if pipeline.IsNotFound(err) {
			return fmt.Errorf("nothing to reject: %w", err)
		}
		return err
	}

	fmt.Printf("rejected scan %s: %s\n", scanID, reason)
	return app.save()
}

func runDelete(cmd *cobra.Command, args []string) error {
	scanID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid scan id %q: %w", args[0], err)
	}

	app, err := openApp()
	if err != nil {
		return err
	}

	manager, err := app.manager(nil)
	if err != nil {
		return err
	}

	if err := manager.DeleteScan(cmd.Context(), scanID); err != nil {
		if pipeline.IsNotFound(err) {
			return fmt.Errorf("no such scan: %w", err)
		}
		return err
	}

	fmt.Printf("deleted scan %s\n", scanID)
	return app.save()
}

func runDeleteComposite(cmd *cobra.Command, args []string) error {
	labelID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid composite id %q: %w", args[0], err)
	}

	app, err := openApp()
	if err != nil {
		return err
	}

	manager, err := app.manager(nil)
	if err != nil {
		return err
	}

	if err := manager.DeleteStitchedLabel(cmd.Context(), labelID); err != nil {
		if pipeline.IsNotFound(err) {
			return fmt.Errorf("no such composite: %w", err)
		}
		return err
	}

	fmt.Printf("deleted composite %s\n", labelID)
	return app.save()
}
