package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/raphaelgruber/wikibatch/internal/client"
	"github.com/raphaelgruber/wikibatch/internal/models"
	"github.com/raphaelgruber/wikibatch/internal/parser"
	"github.com/raphaelgruber/wikibatch/internal/service"
	"github.com/spf13/cobra"
)

var (
	submitSyntax        string
	submitName          string
	submitWikibase      string
	submitBlockOnErrors bool
	submitCombine       bool
	submitDryRun        bool
	submitWatch         bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <file|->",
	Short: "Submit a bulk-edit script",
	Long: `Submit a script as a new batch. Use "-" to read from stdin.

The whole script is parsed before anything is stored; any malformed line
rejects the submission and every bad line is reported.

Examples:
  wikibatch submit edits.txt
  wikibatch submit --syntax csv --name "import" data.csv
  wikibatch submit --combine --watch edits.txt
  cat edits.txt | wikibatch submit --dry-run -`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitSyntax, "syntax", "v1", "script syntax: v1 or csv")
	submitCmd.Flags().StringVarP(&submitName, "name", "n", "", "batch name")
	submitCmd.Flags().StringVarP(&submitWikibase, "wikibase", "w", "", "target knowledge base (default: server default)")
	submitCmd.Flags().BoolVar(&submitBlockOnErrors, "block-on-errors", false, "stop the batch at the first failed command")
	submitCmd.Flags().BoolVar(&submitCombine, "combine", false, "combine consecutive edits of one entity into one API call")
	submitCmd.Flags().BoolVar(&submitDryRun, "dry-run", false, "parse on the server and print the commands without storing")
	submitCmd.Flags().BoolVar(&submitWatch, "watch", false, "follow the batch after submitting")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	script, err := readScript(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}
	syntax := models.Syntax(submitSyntax)

	if submitDryRun {
		cmds, err := apiClient.Preview(ctx, script, syntax)
		if err != nil {
			return reportParseErrors(err)
		}
		fmt.Printf("%d commands:\n\n", len(cmds))
		for _, c := range cmds {
			fmt.Printf("%4d  %-24s %s\n", c.Index, c.Kind(), parser.FormatCommand(c))
		}
		return nil
	}

	b, err := apiClient.Submit(ctx, service.SubmitRequest{
		Script:   script,
		Syntax:   syntax,
		Name:     submitName,
		Wikibase: submitWikibase,
		Options: models.BatchOptions{
			BlockOnErrors:   submitBlockOnErrors,
			CombineCommands: submitCombine,
		},
	})
	if err != nil {
		return reportParseErrors(err)
	}

	fmt.Printf("Submitted batch %d [%s]\n", b.ID, b.Status)
	if b.Status == models.BatchPreview {
		fmt.Println("The batch awaits authorization (wikibatch allow).")
		return nil
	}
	if submitWatch {
		return watchBatch(ctx, b.ID)
	}
	return nil
}

func readScript(arg string, stdin io.Reader) (string, error) {
	var data []byte
	var err error
	if arg == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(arg)
	}
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(data), nil
}

// reportParseErrors prints every rejected line of a submission.
func reportParseErrors(err error) error {
	perr, ok := client.IsParseError(err)
	if !ok {
		return err
	}
	fmt.Fprintf(os.Stderr, "Script rejected, %d invalid lines:\n", len(perr.Response.Errors))
	for _, e := range perr.Response.Errors {
		fmt.Fprintf(os.Stderr, "  line %d: %s\n    %s\n", e.Line, e.Reason, e.Raw)
	}
	return fmt.Errorf("script has parse errors")
}
