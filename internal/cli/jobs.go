package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/reanchor/internal/client"
)

var (
	jobsStatus   string
	jobsDocument string
	jobsLimit    int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List, inspect, and control background jobs",
	Long: `List all background jobs or inspect a specific job by ID.

Examples:
  reanchor jobs                      # List all jobs
  reanchor jobs --status failed      # List failed jobs
  reanchor jobs abc123               # Show details for job abc123
  reanchor jobs pause abc123         # Request a pause at the next checkpoint`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status")
	jobsCmd.Flags().StringVar(&jobsDocument, "document", "", "filter by document ID")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 0, "maximum number of jobs to list")

	jobsCmd.AddCommand(jobActionCmd("pause", "Request a cooperative pause at the job's next checkpoint"))
	jobsCmd.AddCommand(jobActionCmd("resume", "Re-queue a paused job; it resumes from its checkpoint"))
	jobsCmd.AddCommand(jobActionCmd("cancel", "Cancel a job; a processing job stops at its next checkpoint"))
	jobsCmd.AddCommand(jobActionCmd("retry", "Re-queue a failed job immediately"))
	jobsCmd.AddCommand(failStalledCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if len(args) == 1 {
		return showJob(ctx, args[0])
	}
	return listJobs(ctx)
}

func listJobs(ctx context.Context) error {
	list, err := apiClient.ListJobs(ctx, client.ListJobsOptions{
		Status:   jobsStatus,
		Document: jobsDocument,
		Limit:    jobsLimit,
	})
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })

	fmt.Printf("%-24s %-22s %-12s %-18s %s\n", "ID", "TYPE", "STATUS", "PROGRESS", "CREATED")
	fmt.Println("--------------------------------------------------------------------------------------")
	for _, job := range list {
		progress := fmt.Sprintf("%s %.0f%%", job.Progress.Stage, job.Progress.Percent)
		fmt.Printf("%-24s %-22s %-12s %-18s %s\n",
			job.ID, job.Type, job.Status, progress, job.CreatedAt.Format("15:04:05"))
	}
	return nil
}

func showJob(ctx context.Context, id string) error {
	job, err := apiClient.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("  Type: %s\n", job.Type)
	fmt.Printf("  Owner: %s\n", job.Owner)
	if job.Document != "" {
		fmt.Printf("  Document: %s\n", job.Document)
	}
	fmt.Printf("  Status: %s\n", job.Status)
	fmt.Printf("  Progress: %s %.0f%%\n", job.Progress.Stage, job.Progress.Percent)
	if job.Progress.Detail != "" {
		fmt.Printf("  Detail: %s\n", job.Progress.Detail)
	}
	if job.Checkpoint != "" {
		fmt.Printf("  Checkpoint: %s\n", job.Checkpoint)
	}
	fmt.Printf("  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		fmt.Printf("  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		if job.StartedAt != nil {
			fmt.Printf("  Duration: %s\n", job.CompletedAt.Sub(*job.StartedAt).Round(time.Second))
		}
	}
	if job.RetryCount > 0 {
		fmt.Printf("  Retries: %d\n", job.RetryCount)
	}
	if job.NextRetryAt != nil {
		fmt.Printf("  Next retry: %s\n", job.NextRetryAt.Format(time.RFC3339))
	}
	if job.LastError != nil && *job.LastError != "" {
		fmt.Printf("  Error: %s\n", *job.LastError)
	}

	if len(job.Output) > 0 {
		fmt.Println("\nOutput:")
		keys := make([]string, 0, len(job.Output))
		for k := range job.Output {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %s: %v\n", k, job.Output[k])
		}
	}
	return nil
}

// jobActionCmd builds one control verb subcommand; the four verbs only
// differ in the endpoint they hit.
func jobActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]

			var job *client.Job
			var err error
			switch action {
			case "pause":
				job, err = apiClient.PauseJob(ctx, id)
			case "resume":
				job, err = apiClient.ResumeJob(ctx, id)
			case "cancel":
				job, err = apiClient.CancelJob(ctx, id)
			case "retry":
				job, err = apiClient.RetryJob(ctx, id)
			}
			if err != nil {
				return fmt.Errorf("%s job: %w", action, err)
			}

			fmt.Printf("Job %s: %s\n", job.ID, job.Status)
			if action == "pause" && job.Status == "processing" {
				fmt.Println("Pause requested; the job stops at its next checkpoint.")
			}
			if action == "cancel" && job.Status == "processing" {
				fmt.Println("Cancel requested; the job stops at its next checkpoint.")
			}
			return nil
		},
	}
}

var failStalledCmd = &cobra.Command{
	Use:   "fail-stalled",
	Short: "Force-fail processing jobs whose worker stopped heartbeating",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		failed, err := apiClient.FailStalled(cmd.Context())
		if err != nil {
			return fmt.Errorf("fail stalled jobs: %w", err)
		}
		if len(failed) == 0 {
			fmt.Println("No stalled jobs")
			return nil
		}
		for _, job := range failed {
			fmt.Printf("Failed stalled job %s (document %s)\n", job.ID, job.Document)
		}
		return nil
	},
}
