package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats()
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := a.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("reading index stats: %w", err)
	}

	fmt.Printf("Index:     %s\n", a.cfg.IndexName)
	fmt.Printf("Status:    %s\n", stats.Status)
	fmt.Printf("Documents: %d\n", stats.DocumentCount)
	fmt.Printf("Size:      %s\n", humanBytes(stats.IndexSize))

	tables, err := a.store.SchemaTables(ctx)
	if err != nil {
		return fmt.Errorf("listing schema tables: %w", err)
	}
	fmt.Printf("Tables:    %d indexed\n", len(tables))
	for _, t := range tables {
		fmt.Printf("  - %s\n", t)
	}
	return nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
