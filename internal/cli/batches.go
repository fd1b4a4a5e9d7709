package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/wikibatch/internal/models"
	"github.com/raphaelgruber/wikibatch/internal/service"
	"github.com/raphaelgruber/wikibatch/internal/store"
	"github.com/spf13/cobra"
)

var (
	listOwner  string
	listStatus string
	listLimit  int
	listMine   bool

	commandsPage     int
	commandsPageSize int
	commandsErrors   bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List batches",
	Long: `List batches, newest first.

Examples:
  wikibatch list
  wikibatch list --mine --status running
  wikibatch list --owner alice --limit 10`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var showCmd = &cobra.Command{
	Use:   "show <batch-id>",
	Short: "Show a batch and its command counts",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var commandsCmd = &cobra.Command{
	Use:   "commands <batch-id>",
	Short: "List the commands of a batch",
	Long: `List the commands of a batch page by page.

Examples:
  wikibatch commands 42
  wikibatch commands 42 --page 3 --page-size 100
  wikibatch commands 42 --errors`,
	Args: cobra.ExactArgs(1),
	RunE: runCommands,
}

func init() {
	listCmd.Flags().StringVar(&listOwner, "owner", "", "only batches of this user")
	listCmd.Flags().BoolVar(&listMine, "mine", false, "only your own batches")
	listCmd.Flags().StringVarP(&listStatus, "status", "s", "", "only batches in this status")
	listCmd.Flags().IntVarP(&listLimit, "limit", "l", 50, "maximum number of batches")

	commandsCmd.Flags().IntVarP(&commandsPage, "page", "p", 1, "page number")
	commandsCmd.Flags().IntVar(&commandsPageSize, "page-size", service.DefaultPageSize, "commands per page")
	commandsCmd.Flags().BoolVar(&commandsErrors, "errors", false, "only failed commands")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	owner := listOwner
	if listMine {
		owner = userName
	}
	batches, err := apiClient.List(ctx, store.BatchFilter{
		Owner:  owner,
		Status: models.BatchStatus(listStatus),
		Limit:  listLimit,
	})
	if err != nil {
		return fmt.Errorf("list batches: %w", err)
	}

	if len(batches) == 0 {
		fmt.Println("No batches found")
		return nil
	}

	fmt.Printf("%-8s %-12s %-10s %-14s %-10s %s\n", "ID", "OWNER", "STATUS", "PROGRESS", "ERRORS", "NAME")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, s := range batches {
		progress := fmt.Sprintf("%d/%d", s.Counts.Done+s.Counts.Error, s.Counts.Total)
		fmt.Printf("%-8d %-12s %-10s %-14s %-10d %s\n",
			s.Batch.ID, truncate(s.Batch.Owner, 12), s.Batch.Status, progress, s.Counts.Error, s.Batch.Name)
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := parseBatchID(args[0])
	if err != nil {
		return err
	}
	s, err := apiClient.Get(context.Background(), id)
	if err != nil {
		return fmt.Errorf("get batch: %w", err)
	}
	printSummary(*s)
	return nil
}

func printSummary(s models.Summary) {
	b := s.Batch
	fmt.Printf("Batch: %d\n", b.ID)
	if b.Name != "" {
		fmt.Printf("  Name: %s\n", b.Name)
	}
	fmt.Printf("  Owner: %s\n", b.Owner)
	fmt.Printf("  Wikibase: %s\n", b.Wikibase)
	fmt.Printf("  Syntax: %s\n", b.Syntax)
	fmt.Printf("  Status: %s\n", b.Status)
	if b.Message != "" {
		fmt.Printf("  Message: %s\n", b.Message)
	}
	fmt.Printf("  Options: block_on_errors=%t combine_commands=%t\n",
		b.Options.BlockOnErrors, b.Options.CombineCommands)
	fmt.Printf("  Created: %s\n", b.Created.Format(time.RFC3339))
	fmt.Printf("  Modified: %s\n", b.Modified.Format(time.RFC3339))
	fmt.Printf("  Commands: %d total, %d pending, %d running, %d done, %d errors\n",
		s.Counts.Total, s.Counts.Initial, s.Counts.Running, s.Counts.Done, s.Counts.Error)
}

func runCommands(cmd *cobra.Command, args []string) error {
	id, err := parseBatchID(args[0])
	if err != nil {
		return err
	}
	page, err := apiClient.Commands(context.Background(), id, service.CommandQuery{
		Page:       commandsPage,
		PageSize:   commandsPageSize,
		OnlyErrors: commandsErrors,
	})
	if err != nil {
		return fmt.Errorf("list commands: %w", err)
	}

	if len(page.Commands) == 0 {
		fmt.Println("No commands found")
		return nil
	}

	fmt.Printf("%-6s %-24s %-8s %-12s %s\n", "INDEX", "OPERATION", "STATUS", "ENTITY", "DETAIL")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, c := range page.Commands {
		detail := c.Raw
		if c.Status == models.CommandError {
			detail = fmt.Sprintf("%s: %s", c.Error, c.Message)
		}
		fmt.Printf("%-6d %-24s %-8s %-12s %s\n", c.Index, c.Kind(), c.Status, c.EntityID(), truncate(detail, 60))
	}

	pages := (page.Total + page.PageSize - 1) / page.PageSize
	fmt.Printf("\nPage %d of %d (%d commands)\n", page.Page, pages, page.Total)
	return nil
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
