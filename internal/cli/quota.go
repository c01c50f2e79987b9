package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/bulkgen/internal/models"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show this month's generation allowance",
	Args:  cobra.NoArgs,
	RunE:  runQuota,
}

func init() {
	rootCmd.AddCommand(quotaCmd)
}

func runQuota(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}

	quota, err := apiClient().GetQuota(context.Background(), userID)
	if err != nil {
		return fmt.Errorf("get quota: %w", err)
	}

	plan := models.LookupPlan(planID)
	fmt.Printf("Plan: %s\n", plan.Name)
	if !plan.BulkEnabled {
		fmt.Println("Bulk generation is not available on this plan.")
		return nil
	}
	fmt.Printf("  Used this month: %d/%d\n", quota.Used, quota.Limit)
	fmt.Printf("  Remaining:       %d\n", quota.Remaining())
	fmt.Printf("  Per-batch cap:   %d\n", plan.BatchLimit)
	return nil
}
