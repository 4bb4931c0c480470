package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/reanchor/internal/models"
)

var (
	reprocessConnections bool
	reprocessCleanup     bool
	reprocessOptionsFile string
	reprocessWatch       bool
)

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <document-id>",
	Short: "Queue a reprocessing job for a document",
	Long: `Queue a background job that re-derives the document's text, rebuilds
its chunks, and recovers annotation positions in the new text.

With --connections only the annotation-to-chunk links are rebuilt
against the current chunk boundaries; text and offsets are untouched.

Examples:
  reanchor reprocess doc-123
  reanchor reprocess doc-123 --cleanup-rerun --watch
  reanchor reprocess doc-123 --options chunking.yaml
  reanchor reprocess doc-123 --connections`,
	Args: cobra.ExactArgs(1),
	RunE: runReprocess,
}

func init() {
	reprocessCmd.Flags().BoolVar(&reprocessConnections, "connections", false, "relink annotations to chunks only")
	reprocessCmd.Flags().BoolVar(&reprocessCleanup, "cleanup-rerun", false, "request a fresh cleanup pass from the re-derivation service")
	reprocessCmd.Flags().StringVar(&reprocessOptionsFile, "options", "", "YAML file with reprocessing options")
	reprocessCmd.Flags().BoolVarP(&reprocessWatch, "watch", "w", false, "follow job progress after submitting")
}

func runReprocess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	documentID := args[0]

	var opts models.ReprocessOptions
	if reprocessOptionsFile != "" {
		raw, err := os.ReadFile(reprocessOptionsFile)
		if err != nil {
			return fmt.Errorf("read options file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &opts); err != nil {
			return fmt.Errorf("parse options file: %w", err)
		}
	}
	if reprocessCleanup {
		opts.CleanupRerun = true
	}

	job, err := apiClient.SubmitReprocess(ctx, documentID, reprocessConnections, opts)
	if err != nil {
		return fmt.Errorf("submit reprocess: %w", err)
	}

	fmt.Printf("Queued %s job %s for document %s\n", job.Type, job.ID, documentID)

	if reprocessWatch {
		return RunJobProgress(ctx, apiClient, job)
	}

	fmt.Printf("Use 'reanchor watch %s' to follow progress.\n", job.ID)
	return nil
}
