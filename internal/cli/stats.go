package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/raphaelgruber/wikibatch/internal/metrics"
	"github.com/spf13/cobra"
)

var statsDetailed bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server runtime statistics",
	Long: `Show in-memory server statistics: API call timings, execution passes,
database queries and command counters since the last restart.

Examples:
  wikibatch stats
  wikibatch stats --detailed`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := apiClient.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("get server stats: %w", err)
		}
		printServerStats(cmd.OutOrStdout(), snap, statsDetailed)
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsDetailed, "detailed", false, "break API calls down by operation")
}

// printServerStats displays server runtime statistics.
func printServerStats(w io.Writer, s *metrics.Snapshot, detailed bool) {
	fmt.Fprintf(w, "Server Statistics (in-memory, since restart)\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════\n")
	fmt.Fprintf(w, "Uptime: %.1f seconds\n", s.UptimeSeconds)

	if s.APICall != nil {
		fmt.Fprintf(w, "\nAPI Calls:\n")
		printOpStats(w, s.APICall)
	}
	if s.BatchPass != nil {
		fmt.Fprintf(w, "\nExecution Passes:\n")
		printOpStats(w, s.BatchPass)
	}
	if s.DBQuery != nil {
		fmt.Fprintf(w, "\nDB Query:\n")
		printOpStats(w, s.DBQuery)
	}

	if detailed && len(s.Operations) > 0 {
		fmt.Fprintf(w, "\nBy Operation:\n")
		for _, op := range slices.Sorted(maps.Keys(s.Operations)) {
			o := s.Operations[op]
			fmt.Fprintf(w, "  %-24s %6d calls, avg %.1fms\n", op, o.Count, o.AvgTimeMs)
		}
	}

	if len(s.Counters) > 0 {
		fmt.Fprintf(w, "\nCounters:\n")
		for _, name := range slices.Sorted(maps.Keys(s.Counters)) {
			fmt.Fprintf(w, "  %-24s %d\n", name, s.Counters[name])
		}
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(w io.Writer, op *metrics.OperationSnapshot) {
	fmt.Fprintf(w, "  Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
	fmt.Fprintf(w, "  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}
