package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeJamon/goXRPLtracker/internal/xrpl"
)

var ledgerAtCmd = &cobra.Command{
	Use:   "ledger-at <RFC3339 time>",
	Short: "Find the first validated ledger closed at or after a time",
	Long: `Binary-search validated ledger headers by close time and print the
index of the first ledger closed at or after the given RFC3339 time, e.g.

  xrpltracker ledger-at 2025-01-01T00:00:00Z

Useful for choosing a FROM_LEDGER floor.`,
	Args: cobra.ExactArgs(1),
	RunE: runLedgerAt,
}

func init() {
	rootCmd.AddCommand(ledgerAtCmd)
}

func runLedgerAt(cmd *cobra.Command, args []string) error {
	target, err := time.Parse(time.RFC3339, args[0])
	if err != nil {
		return fmt.Errorf("parse time %q: %w", args[0], err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client, err := dialLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	index, err := xrpl.FindLedgerAt(ctx, client, target)
	if err != nil {
		return err
	}
	resp, err := client.Ledger(ctx, index)
	if err != nil {
		return err
	}

	fmt.Printf("ledger %d closed at %s\n",
		index, xrpl.RippleTimeToUTC(resp.Ledger.CloseTime).Format(time.RFC3339))
	return nil
}
