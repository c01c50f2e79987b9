package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var submitWatch bool

var submitCmd = &cobra.Command{
	Use:   "submit <batch-file>",
	Short: "Submit a batch to the bulkgen server",
	Long: `Submit a batch of items for server-side generation. The server
assigns the job ID and processes items in the background; check on it
with 'bulkgen jobs' or follow it live with --watch.`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().BoolVarP(&submitWatch, "watch", "w", false, "follow the job's progress after submitting")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}

	inputs, err := loadItems(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	c := apiClient()

	if err := c.Health(ctx); err != nil {
		return fmt.Errorf("bulkgen server unreachable: %w", err)
	}

	jobID, err := c.SubmitJob(ctx, userID, inputs)
	if err != nil {
		return fmt.Errorf("submit batch: %w", err)
	}

	fmt.Printf("Submitted job %s with %d items\n", jobID, len(inputs))

	if submitWatch {
		return watchJob(ctx, c, jobID)
	}

	fmt.Printf("Follow it with: bulkgen watch %s\n", jobID)
	return nil
}
