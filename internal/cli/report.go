package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var reportOutput string

var reportCmd = &cobra.Command{
	Use:   "report <batch-id>",
	Short: "Download the per-command CSV report of a batch",
	Long: `Download a CSV report with one row per command: operation, status,
error code, message, entity and the original script line.

Examples:
  wikibatch report 42
  wikibatch report 42 -o batch-42.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "output file (default: stdout)")
}

func runReport(cmd *cobra.Command, args []string) error {
	id, err := parseBatchID(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if reportOutput != "" {
		f, err := os.Create(reportOutput)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := apiClient.Report(context.Background(), id, out); err != nil {
		return fmt.Errorf("download report: %w", err)
	}
	if reportOutput != "" {
		fmt.Printf("Report written to %s\n", reportOutput)
	}
	return nil
}
