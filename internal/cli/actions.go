package cli

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/wikibatch/internal/models"
	"github.com/spf13/cobra"
)

var rerunUncombine bool

var allowCmd = &cobra.Command{
	Use:   "allow <batch-id>",
	Short: "Authorize a batch waiting in preview",
	Args:  cobra.ExactArgs(1),
	RunE: batchAction(func(ctx context.Context, id int64) (*models.Batch, error) {
		return apiClient.Allow(ctx, id)
	}),
}

var stopCmd = &cobra.Command{
	Use:   "stop <batch-id>",
	Short: "Stop a queued or running batch",
	Long: `Request that a batch stops. The command being executed finishes first;
remaining commands stay pending until the batch is restarted.`,
	Args: cobra.ExactArgs(1),
	RunE: batchAction(func(ctx context.Context, id int64) (*models.Batch, error) {
		return apiClient.Stop(ctx, id)
	}),
}

var restartCmd = &cobra.Command{
	Use:   "restart <batch-id>",
	Short: "Resume a stopped or blocked batch",
	Args:  cobra.ExactArgs(1),
	RunE: batchAction(func(ctx context.Context, id int64) (*models.Batch, error) {
		return apiClient.Restart(ctx, id)
	}),
}

var rerunCmd = &cobra.Command{
	Use:   "rerun <batch-id>",
	Short: "Run the failed commands of a finished batch again",
	Long: `Reset every failed command of a finished batch and run them again.

Examples:
  wikibatch rerun 42
  wikibatch rerun --uncombine 42   # retry each command on its own`,
	Args: cobra.ExactArgs(1),
	RunE: batchAction(func(ctx context.Context, id int64) (*models.Batch, error) {
		return apiClient.Rerun(ctx, id, rerunUncombine)
	}),
}

func init() {
	rerunCmd.Flags().BoolVar(&rerunUncombine, "uncombine", false, "disable command combining for the rerun")
}

// batchAction adapts a client call on one batch to a cobra RunE.
func batchAction(do func(ctx context.Context, id int64) (*models.Batch, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parseBatchID(args[0])
		if err != nil {
			return err
		}
		b, err := do(context.Background(), id)
		if err != nil {
			return fmt.Errorf("%s batch %d: %w", cmd.Name(), id, err)
		}
		fmt.Printf("Batch %d [%s]\n", b.ID, b.Status)
		if b.Message != "" {
			fmt.Printf("  %s\n", b.Message)
		}
		return nil
	}
}
