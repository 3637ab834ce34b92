package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/lambdakit/internal/control"
)

var failuresSource string

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Show items currently failing, per source",
	RunE:  runFailures,
}

func init() {
	failuresCmd.Flags().StringVar(&failuresSource, "source", "", "event source name (default: trigger.sources)")
	rootCmd.AddCommand(failuresCmd)
}

func runFailures(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	sources := cfg.Trigger.Sources
	if failuresSource != "" {
		sources = []string{failuresSource}
	}
	if len(sources) == 0 {
		return fmt.Errorf("no source given, use --source or trigger.sources")
	}

	app, err := control.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "SOURCE\tITEM\tFAILURES\tLAST FAILED\tERROR")

	for _, source := range sources {
		items, err := app.Ledger().GetAll(cmd.Context(), source)
		if err != nil {
			return fmt.Errorf("failed to list failures of %s: %w", source, err)
		}
		for _, item := range items {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				item.Source, item.ItemID, item.FailureCount,
				item.LastFailedAt.Format(time.RFC3339), item.Error)
		}
	}
	return w.Flush()
}
