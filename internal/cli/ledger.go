package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/app"
)

func init() {
	rootCmd.AddCommand(ledgerHealthCmd)
}

var ledgerHealthCmd = &cobra.Command{
	Use:   "ledger-health",
	Short: "Query the configured ledger for chain id and latest block",
	Args:  cobra.NoArgs,
	RunE:  runLedgerHealth,
}

func runLedgerHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	anchorer, err := app.NewAnchorer(ctx, cfg.Ledger, zap.NewNop())
	if err != nil {
		return err
	}
	health, err := anchorer.Health(ctx)
	if err != nil {
		return fmt.Errorf("ledger unreachable: %w", err)
	}
	body, err := json.Marshal(health)
	if err != nil {
		return err
	}
	return printJSON(cmd, body)
}
