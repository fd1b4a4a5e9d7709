package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/wikibatch/internal/app"
	"github.com/spf13/cobra"
)

var (
	workOnce    bool
	workWorkers int
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Execute queued batches without the HTTP API",
	Long: `Run batch workers in this process against the configured store.
Useful for draining a queue from a cron job or a maintenance shell.

Examples:
  wikibatch work                  # run until interrupted
  wikibatch work --once           # drain the queue, then exit
  wikibatch work --workers 4`,
	Args: cobra.NoArgs,
	RunE: runWork,
}

func init() {
	workCmd.Flags().BoolVar(&workOnce, "once", false, "process queued batches until none is left, then exit")
	workCmd.Flags().IntVar(&workWorkers, "workers", 0, "number of workers (default $WIKIBATCH_WORKERS)")
}

func runWork(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			slog.Warn("close app", "error", err)
		}
	}()

	if workOnce {
		return drainQueue(ctx, a)
	}

	n := workWorkers
	if n <= 0 {
		n = cfg.Workers
	}
	slog.Info("workers started", "count", n)
	return a.Run(ctx, "", n)
}

// drainQueue runs one worker until no batch is runnable.
func drainQueue(ctx context.Context, a *app.App) error {
	w := a.NewWorker()
	passes := 0
	for {
		processed, err := w.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("worker pass: %w", err)
		}
		if !processed {
			break
		}
		passes++
	}
	fmt.Printf("Queue drained after %d batch passes\n", passes)
	return nil
}
