package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/reanchor/internal/models"
)

var exportDestination string

var exportCmd = &cobra.Command{
	Use:   "export <document-id>...",
	Short: "Queue an export job writing documents to a JSON bundle",
	Long: `Queue a background job that writes the named documents, their chunks,
and both annotation facets to a JSON bundle file on the worker host.

Example:
  reanchor export doc-123 doc-456 --out /tmp/bundle.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := getService(ctx)
		if err != nil {
			return err
		}

		job, err := svc.SubmitJob(ctx, models.ExportPayload{
			DocumentIDs: args,
			Destination: exportDestination,
		})
		if err != nil {
			return fmt.Errorf("submit export: %w", err)
		}

		id := models.MustRecordIDString(job.ID)
		fmt.Printf("Queued export job %s (%d document(s) -> %s)\n", id, len(args), exportDestination)
		fmt.Printf("Use 'reanchor watch %s' to follow progress.\n", id)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <bundle-file>",
	Short: "Queue an import job reading documents from a JSON bundle",
	Long: `Queue a background job that reads a JSON bundle from the worker host
and creates its documents, chunks, and annotations. Annotations whose
offsets do not fit the imported text are skipped and counted in the
job output.

Example:
  reanchor import /tmp/bundle.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := getService(ctx)
		if err != nil {
			return err
		}

		job, err := svc.SubmitJob(ctx, models.ImportPayload{BundlePath: args[0]})
		if err != nil {
			return fmt.Errorf("submit import: %w", err)
		}

		id := models.MustRecordIDString(job.ID)
		fmt.Printf("Queued import job %s for bundle %s\n", id, args[0])
		fmt.Printf("Use 'reanchor watch %s' to follow progress.\n", id)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportDestination, "out", "", "bundle file path on the worker host (required)")
	_ = exportCmd.MarkFlagRequired("out")
}
