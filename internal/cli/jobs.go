package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/bulkgen/internal/models"
	"github.com/raphaelgruber/bulkgen/internal/service"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List active jobs or inspect one",
	Long: `List your still-running jobs on the server, or inspect a specific
job by ID.

Examples:
  bulkgen jobs --user alice      # list active jobs
  bulkgen jobs abc12345          # show details for job abc12345`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		return showJob(ctx, args[0])
	}
	return listJobs(ctx)
}

func listJobs(ctx context.Context) error {
	if err := requireUser(); err != nil {
		return err
	}

	jobs, err := apiClient().ListActiveJobs(ctx, userID)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No active jobs")
		return nil
	}

	fmt.Printf("%-10s %-14s %-12s %s\n", "ID", "STATUS", "PROGRESS", "CREATED")
	fmt.Println("--------------------------------------------------")
	for _, job := range jobs {
		counts := job.Counts()
		progress := fmt.Sprintf("%d/%d", counts.Completed+counts.Failed, counts.Total)
		fmt.Printf("%-10s %-14s %-12s %s\n",
			job.ID, job.Status, progress, job.CreatedAt.Local().Format("15:04:05"))
	}
	return nil
}

func showJob(ctx context.Context, id string) error {
	job, err := apiClient().GetJobStatus(ctx, id)
	if errors.Is(err, service.ErrJobNotFound) {
		return fmt.Errorf("job not found: %s", id)
	}
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	counts := job.Counts()
	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("  Status: %s\n", job.Status)
	fmt.Printf("  Progress: %d/%d (%d failed)\n", counts.Completed+counts.Failed, counts.Total, counts.Failed)
	if !job.CreatedAt.IsZero() {
		fmt.Printf("  Created: %s\n", job.CreatedAt.Local().Format(time.RFC3339))
	}
	if job.Error != nil && *job.Error != "" {
		fmt.Printf("  Error: %s\n", *job.Error)
	}

	if len(job.Items) > 0 {
		fmt.Println("\nItems:")
		for _, it := range job.Items {
			fmt.Printf("  %s %-30s", itemGlyph(it.Status), it.Input.Name)
			if it.QualityScore != nil {
				fmt.Printf(" score %.1f", *it.QualityScore)
			}
			if it.Error != nil {
				fmt.Printf(" (%s)", *it.Error)
			}
			fmt.Println()
		}
	}
	return nil
}

func itemGlyph(status models.ItemStatus) string {
	switch status {
	case models.ItemCompleted:
		return "✓"
	case models.ItemFailed:
		return "✗"
	case models.ItemProcessing:
		return "…"
	default:
		return "·"
	}
}
