package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/mrv-registry/internal/auth"
	"carbon-scribe/mrv-registry/pkg/digest"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDigestCommand(t *testing.T) {
	file := writeFile(t, "analysis.json", `{"ndvi": 0.71, "plots": 12, "notes": "dry season"}`)

	out, err := run(t, "digest", file,
		"--project", "p1",
		"--validator", "V",
		"--analyzed-at", "2026-01-02T03:04:05.678Z",
		"--preimage=false")
	require.NoError(t, err)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 678_000_000, time.UTC)
	want, _, err := digest.Sum("p1", "V", ts, map[string]any{"ndvi": 0.71, "plots": 12, "notes": "dry season"})
	require.NoError(t, err)
	assert.Equal(t, want, strings.TrimSpace(out))
}

func TestDigestCommand_RejectsNonObject(t *testing.T) {
	file := writeFile(t, "analysis.json", `[1,2,3]`)
	_, err := run(t, "digest", file, "--project", "p1", "--validator", "V", "--analyzed-at", "2026-01-02T03:04:05Z")
	assert.Error(t, err)

	_, err = run(t, "digest", file, "--project", "p1", "--validator", "V", "--analyzed-at", "yesterday")
	assert.ErrorContains(t, err, "analyzed-at")
}

func TestVerifyAndReanchorCommands(t *testing.T) {
	const secret = "cli-secret"
	parser := auth.NewTokenParser(secret)

	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := parser.Parse(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if err != nil || actor.Role != auth.RoleAdmin {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		seen = append(seen, r.Method+" "+r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/attestations/r1/verify":
			w.Write([]byte(`{"record_id":"r1","match":true}`))
		case "/api/v1/attestations/r1/reanchor":
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"id":"r2","reanchor_of":"r1","ledger_status":"pending"}`))
		default:
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"invalid state transition"}`))
		}
	}))
	defer srv.Close()

	cfg := writeFile(t, "config.json", `{"security":{"jwt_secret":"`+secret+`"}}`)

	out, err := run(t, "verify", "r1", "--config", cfg, "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, `"match": true`)

	out, err = run(t, "reanchor", "r1", "--config", cfg, "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, `"reanchor_of": "r1"`)

	_, err = run(t, "reanchor", "r9", "--config", cfg, "--server", srv.URL)
	assert.ErrorContains(t, err, "invalid state transition")

	assert.Equal(t, []string{
		"GET /api/v1/attestations/r1/verify",
		"POST /api/v1/attestations/r1/reanchor",
		"POST /api/v1/attestations/r9/reanchor",
	}, seen)
}

func TestLedgerHealth_NotConfigured(t *testing.T) {
	cfg := writeFile(t, "config.json", `{"security":{"jwt_secret":"x"}}`)
	_, err := run(t, "ledger-health", "--config", cfg)
	assert.ErrorContains(t, err, "ledger unreachable")
}
