package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Anchor.Workers)
	assert.Equal(t, 120*time.Second, cfg.Ledger.ConfirmationTimeout)
	assert.Equal(t, uint64(100000), cfg.Ledger.FallbackGasLimit)
	assert.Equal(t, uint64(20), cfg.Ledger.GasBufferPercent)
	assert.Zero(t, cfg.Ledger.ChainID, "chain id is read from the node unless pinned")
	assert.Equal(t, 35*cfg.Ledger.ConfirmationTimeout, cfg.Monitoring.StaleAfter)
	assert.Empty(t, cfg.Ledger.PrivateKey)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"port": 9000},
		"database": {"driver": "mongo", "mongo_database": "from_file"},
		"anchor": {"workers": 5, "queue_size": 10},
		"security": {"jwt_secret": "file-secret"}
	}`)
	t.Setenv("MONGO_DATABASE", "from_env")
	t.Setenv("ANCHOR_QUEUE_SIZE", "25")
	t.Setenv("LEDGER_CONFIRMATION_TIMEOUT", "30s")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "from_env", cfg.Database.MongoDatabase)
	assert.Equal(t, 5, cfg.Anchor.Workers)
	assert.Equal(t, 25, cfg.Anchor.QueueSize)
	assert.Equal(t, 30*time.Second, cfg.Ledger.ConfirmationTimeout)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.GetServerAddr())
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{not json`))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, `{"security": {"jwt_secret": "x"}, "database": {"driver": "sqlite"}}`))
	assert.ErrorContains(t, err, "unknown database driver")

	_, err = LoadConfig(writeConfig(t, `{}`))
	assert.ErrorContains(t, err, "jwt_secret")

	_, err = LoadConfig(writeConfig(t, `{"security": {"jwt_secret": "x"}, "ledger": {"private_key": "abc"}}`))
	assert.ErrorContains(t, err, "rpc_url")

	_, err = LoadConfig(writeConfig(t, `{"security": {"jwt_secret": "x"}, "monitoring": {"stale_scan_cron": "61 * * * *"}}`))
	assert.ErrorContains(t, err, "monitoring.stale_scan_cron")
}

func TestStaleAfter_CoversQueuedBacklog(t *testing.T) {
	assert.Equal(t, 35*120*time.Second, StaleAfter(120*time.Second, 3, 100))
	assert.Equal(t, 2*time.Minute, StaleAfter(time.Minute, 4, 4))
	assert.Equal(t, time.Minute, StaleAfter(time.Minute, 3, 0))
	assert.Equal(t, 3*time.Minute, StaleAfter(time.Minute, 0, 2))
}

func TestLoadConfig_ExplicitStaleAfterWins(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{"security": {"jwt_secret": "x"}, "monitoring": {"stale_after": 600000000000}}`))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Monitoring.StaleAfter)
}

func TestGetDatabaseURL(t *testing.T) {
	db := DatabaseConfig{User: "mrv", Password: "pw", Host: "db", Port: 5432, DBName: "registry", SSLMode: "disable"}
	assert.Equal(t, "postgres://mrv:pw@db:5432/registry?sslmode=disable", db.GetDatabaseURL())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "warn"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = NewLogger(LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}
