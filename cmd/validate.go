package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <sql>",
	Short: "Statically validate a SQL statement against the indexed schema",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(strings.Join(args, " "))
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(sql string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	valid, reason, err := a.validator().ValidateSQL(ctx, sql)
	if err != nil {
		return err
	}
	if !valid {
		return fmt.Errorf("invalid SQL: %s", reason)
	}
	fmt.Println("valid")
	return nil
}
