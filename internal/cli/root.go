// Package cli implements mrvctl, the registry operator tool.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mrvctl",
	Short: "Operate the MRV attestation registry",
	Long: `mrvctl computes evidence digests offline, checks the ledger connection
and drives operator actions such as verification and re-anchoring against a
running registry.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "config.json", "Path to the registry config file")
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "Registry base URL")
	rootCmd.PersistentFlags().String("actor", "mrvctl", "Admin subject recorded for operator actions")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
