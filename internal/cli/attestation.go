package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"carbon-scribe/mrv-registry/internal/auth"
	"carbon-scribe/mrv-registry/internal/config"
)

const requestTimeout = 30 * time.Second

func init() {
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(reanchorCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify RECORD_ID",
	Short: "Recompute an attestation digest and compare it with the stored one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return callRegistry(cmd, http.MethodGet, "/api/v1/attestations/"+args[0]+"/verify")
	},
}

var reanchorCmd = &cobra.Command{
	Use:   "reanchor RECORD_ID",
	Short: "Submit a failed or unanchored attestation to the ledger again",
	Long: `Create a new pending attestation carrying the same payload as RECORD_ID
and queue it for anchoring. Only failed and ledger_unavailable records are
accepted; each call may produce another ledger transaction.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return callRegistry(cmd, http.MethodPost, "/api/v1/attestations/"+args[0]+"/reanchor")
	},
}

// callRegistry sends an admin request signed with the configured secret and
// prints the JSON response.
func callRegistry(cmd *cobra.Command, method, path string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	server, _ := cmd.Flags().GetString("server")
	subject, _ := cmd.Flags().GetString("actor")

	token, err := auth.NewTokenParser(cfg.Security.JWTSecret).Sign(
		auth.Actor{ID: subject, Role: auth.RoleAdmin},
		jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute))},
	)
	if err != nil {
		return fmt.Errorf("failed to sign operator token: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(server, "/")+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read registry response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("registry returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("registry returned %d", resp.StatusCode)
	}
	return printJSON(cmd, body)
}

func printJSON(cmd *cobra.Command, body []byte) error {
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		return fmt.Errorf("unexpected registry response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), out.String())
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
