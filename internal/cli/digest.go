package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"carbon-scribe/mrv-registry/pkg/digest"
)

func init() {
	rootCmd.AddCommand(digestCmd)

	digestCmd.Flags().String("project", "", "Project id the analysis belongs to")
	digestCmd.Flags().String("validator", "", "Validator id recorded with the analysis")
	digestCmd.Flags().String("analyzed-at", "", "Analysis timestamp (RFC 3339, millisecond precision)")
	digestCmd.Flags().Bool("preimage", false, "Also print the canonical preimage")
	_ = digestCmd.MarkFlagRequired("project")
	_ = digestCmd.MarkFlagRequired("validator")
	_ = digestCmd.MarkFlagRequired("analyzed-at")
}

var digestCmd = &cobra.Command{
	Use:   "digest FILE",
	Short: "Compute the evidence digest of an analysis JSON file",
	Long: `Compute the digest the registry would record for an analysis payload.
The file must hold a JSON object. No network access is needed.`,
	Args: cobra.ExactArgs(1),
	RunE: runDigest,
}

func runDigest(cmd *cobra.Command, args []string) error {
	projectID, _ := cmd.Flags().GetString("project")
	validatorID, _ := cmd.Flags().GetString("validator")
	rawTS, _ := cmd.Flags().GetString("analyzed-at")
	showPreimage, _ := cmd.Flags().GetBool("preimage")

	analyzedAt, err := time.Parse(time.RFC3339Nano, rawTS)
	if err != nil {
		return fmt.Errorf("invalid --analyzed-at: %w", err)
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("cannot read analysis file: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return fmt.Errorf("analysis file must hold a JSON object: %w", err)
	}

	sum, preimage, err := digest.Sum(projectID, validatorID, analyzedAt, data)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), sum)
	if showPreimage {
		fmt.Fprintln(cmd.OutOrStdout(), string(preimage))
	}
	return nil
}
