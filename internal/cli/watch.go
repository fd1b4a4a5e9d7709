package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/raphaelgruber/wikibatch/internal/models"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var watchPlain bool

var watchCmd = &cobra.Command{
	Use:   "watch <batch-id>",
	Short: "Follow a batch until it settles",
	Long: `Follow a batch's progress live. On a terminal a progress bar is shown;
otherwise (or with --plain) one line is printed per status change.

Examples:
  wikibatch watch 42
  wikibatch watch --plain 42 | tee progress.log`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseBatchID(args[0])
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return watchBatch(ctx, id)
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "print plain status lines instead of a progress bar")
}

func watchBatch(ctx context.Context, id int64) error {
	if !watchPlain && term.IsTerminal(int(os.Stdout.Fd())) {
		return RunBatchProgress(ctx, id)
	}

	var last *models.Summary
	err := apiClient.Watch(ctx, id, func(ev models.BatchEvent) error {
		if ev.Type == "error" {
			return fmt.Errorf("%s", ev.Error)
		}
		if ev.Summary == nil {
			return nil
		}
		last = ev.Summary
		fmt.Println(statusLine(*ev.Summary, time.Now()))
		return nil
	})
	if err != nil {
		return err
	}
	if last != nil && last.Batch.Status.IsTerminal() {
		fmt.Println()
		fmt.Print(finalSummary(defaultTheme, *last))
		if last.Batch.Status == models.BatchError {
			return fmt.Errorf("batch %d failed", id)
		}
	}
	return nil
}

// statusLine renders one plain progress line.
func statusLine(s models.Summary, now time.Time) string {
	return fmt.Sprintf("%s batch %d [%s] %s",
		now.Format("15:04:05"), s.Batch.ID, s.Batch.Status, countsLine(s.Counts))
}
