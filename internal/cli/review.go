package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/reanchor/internal/models"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review uncertain annotation recoveries",
	Long: `After reprocessing, annotations recovered with middling confidence are
flagged for review: the candidate position is persisted but the stored
annotation text is left untouched until a human confirms it.

Examples:
  reanchor review list doc-123
  reanchor review confirm annotation-abc
  reanchor review reject annotation-abc`,
}

var reviewListCmd = &cobra.Command{
	Use:   "list <document-id>",
	Short: "List annotations awaiting review for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := getService(ctx)
		if err != nil {
			return err
		}

		positions, err := svc.ListReviewAnnotations(ctx, args[0])
		if err != nil {
			return fmt.Errorf("list review annotations: %w", err)
		}
		if len(positions) == 0 {
			fmt.Println("No annotations awaiting review")
			return nil
		}

		for _, pos := range positions {
			id, _ := models.RecordIDString(pos.ID)
			fmt.Printf("%s\n", id)
			fmt.Printf("  Candidate: [%d, %d) via %s (confidence %.2f)\n",
				pos.StartOffset, pos.EndOffset, pos.Method, pos.Confidence)
			fmt.Printf("  Original:  %q\n", truncate(pos.OriginalText, 80))
			if pos.ContextBefore != "" || pos.ContextAfter != "" {
				fmt.Printf("  Context:   ...%s | %s...\n",
					truncate(pos.ContextBefore, 40), truncate(pos.ContextAfter, 40))
			}
		}
		fmt.Printf("\n%d annotation(s) awaiting review\n", len(positions))
		return nil
	},
}

var reviewConfirmCmd = &cobra.Command{
	Use:   "confirm <annotation-id>",
	Short: "Accept the candidate position and resync the annotation text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := getService(ctx)
		if err != nil {
			return err
		}
		if err := svc.ConfirmReview(ctx, args[0]); err != nil {
			return fmt.Errorf("confirm review: %w", err)
		}
		fmt.Printf("Confirmed %s\n", args[0])
		return nil
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <annotation-id>",
	Short: "Reject the candidate position and mark the annotation lost",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := getService(ctx)
		if err != nil {
			return err
		}
		if err := svc.RejectReview(ctx, args[0]); err != nil {
			return fmt.Errorf("reject review: %w", err)
		}
		fmt.Printf("Rejected %s; the annotation keeps its text for manual re-anchoring\n", args[0])
		return nil
	},
}

func init() {
	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewConfirmCmd)
	reviewCmd.AddCommand(reviewRejectCmd)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
