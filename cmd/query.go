package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const timeUnit = time.Millisecond

var (
	queryMaxSimilar int
	queryVectorOnly bool
	queryValidate   bool
)

var queryCmd = &cobra.Command{
	Use:     "query <question>",
	Aliases: []string{"ask"},
	Short:   "Generate SQL for a natural-language question",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(strings.Join(args, " "))
	},
}

func init() {
	queryCmd.Flags().IntVar(&queryMaxSimilar, "max-similar", 0, "similar queries to retrieve (default from config)")
	queryCmd.Flags().BoolVar(&queryVectorOnly, "vector-only", false, "skip lexical matching, rank by embedding similarity alone")
	queryCmd.Flags().BoolVar(&queryValidate, "validate", true, "statically validate the generated SQL")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(question string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	maxSimilar := queryMaxSimilar
	if maxSimilar <= 0 {
		maxSimilar = a.cfg.MaxSimilar
	}

	engine, err := a.engine(ctx)
	if err != nil {
		return err
	}

	result, err := engine.GenerateSQL(ctx, question, maxSimilar, !queryVectorOnly)
	if err != nil {
		return err
	}

	if result.SQL == "" {
		fmt.Printf("No SQL generated: %s\n", result.Explanation)
		return nil
	}

	fmt.Printf("SQL:\n%s\n\n", result.SQL)
	fmt.Printf("Confidence: %.2f\n", result.Confidence)
	if result.Explanation != "" {
		fmt.Printf("Explanation: %s\n", result.Explanation)
	}
	if len(result.Citations) > 0 {
		fmt.Println("\nBased on:")
		for _, c := range result.Citations {
			fmt.Printf("  - %s (similarity %.3f)\n", c.SourceNotebook, c.Similarity)
		}
	}
	fmt.Printf("\nLatency: %s\n", result.Latency.Round(timeUnit))

	if queryValidate {
		valid, reason, err := engine.ValidateSQL(ctx, result.SQL)
		if err != nil {
			return err
		}
		if !valid {
			fmt.Printf("Validation: FAILED (%s)\n", reason)
		} else {
			fmt.Println("Validation: passed")
		}
	}
	return nil
}
