// Package cli provides the command-line interface for wikibatch.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/raphaelgruber/wikibatch/internal/client"
	"github.com/raphaelgruber/wikibatch/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string
	userName  string

	// Global config and API client
	cfg       config.Config
	apiClient *client.Client
	closeLogs func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "wikibatch",
	Short: "Bulk edits for Wikibase knowledge bases",
	Long: `Wikibatch submits bulk-edit scripts to a wikibatch server and tracks
their execution.

Scripts use the tab- or pipe-separated v1 syntax or CSV with a header row.
Batches run in the background; use watch, show and report to follow them.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}
		closeLogs = config.InitLogging(cfg, "cli")

		if serverURL == "" {
			serverURL = cfg.ServerURL
		}
		if userName == "" {
			userName = cfg.User
		}
		apiClient = client.New(serverURL, userName, cfg.ClientTimeout)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLogs != nil {
			if err := closeLogs(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $WIKIBATCH_SERVER_URL)")
	rootCmd.PersistentFlags().StringVarP(&userName, "user", "u", "", "acting user (default $WIKIBATCH_USER)")

	// Add subcommands
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(commandsCmd)
	rootCmd.AddCommand(allowCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(rerunCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(workCmd)
}

// parseBatchID parses a batch id argument.
func parseBatchID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid batch id: %s", arg)
	}
	return id, nil
}
