package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var buildForce bool

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build or update the knowledge base index",
	Long: `Build ingests the notebook corpus and catalog metadata, embeds the
extracted documents, and indexes them. Repeated builds are incremental:
documents whose content is unchanged are skipped. Use --force to
recreate the index and reprocess everything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBuild()
	},
}

func init() {
	buildCmd.Flags().BoolVar(&buildForce, "force", false, "recreate the index and reprocess all inputs")
	rootCmd.AddCommand(buildCmd)
}

func runBuild() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	builder, err := a.builder(ctx)
	if err != nil {
		return err
	}

	report, err := builder.Build(ctx, buildForce)
	if err != nil {
		return fmt.Errorf("building knowledge base: %w", err)
	}

	fmt.Printf("Build %s finished in %s\n", report.RunID, report.Duration.Round(timeUnit))
	fmt.Printf("  Notebooks: %d discovered, %d parsed, %d SQL cells\n",
		report.NotebooksDiscovered, report.NotebooksParsed, report.SQLExtracts)
	fmt.Printf("  Tables:    %d fetched\n", report.TablesFetched)
	fmt.Printf("  Documents: %d indexed, %d skipped (unchanged)\n",
		report.DocumentsIndexed, report.DocumentsSkipped)

	if len(report.Failures) > 0 {
		fmt.Printf("  Failures:  %d\n", len(report.Failures))
		for _, f := range report.Failures {
			fmt.Fprintf(os.Stderr, "    [%s] %s: %v\n", f.Kind, f.Item, f.Err)
		}
	}

	if !report.Success {
		return fmt.Errorf("build did not populate the index")
	}
	return nil
}
