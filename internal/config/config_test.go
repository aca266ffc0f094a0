package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Ledger.RejectUnmatchedSell)
	assert.Equal(t, 10*time.Second, cfg.Ledger.LockTTL.Duration)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "paperledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "full"

[database]
driver = "postgres"

[database.postgres]
dsn = "postgres://ledger:pw@db:5432/ledger"

[ledger]
lock_wait = "750ms"
reject_unmatched_sell = false

[notify]
telegram_token = "tok"
telegram_chat_id = 42
`), 0o600))

	t.Setenv("PAPERLEDGER_SERVER_PORT", "9090")
	t.Setenv("PAPERLEDGER_ORACLE_TIMEOUT", "2s")
	t.Setenv("PAPERLEDGER_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 750*time.Millisecond, cfg.Ledger.LockWait.Duration)
	assert.False(t, cfg.Ledger.RejectUnmatchedSell)
	assert.Equal(t, int64(42), cfg.Notify.TelegramChatID)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Oracle.Timeout.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Database.Driver, cfg.Database.Driver)
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = "), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Database.Driver = "mongo"
	cfg.Server.Port = 0
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"unknown mode", "unknown driver", "server: port", "telegram_chat_id"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Database.Postgres.Password = "pw"
	cfg.Oracle.APIKey = "key"
	cfg.Server.APIKey = "api"
	cfg.Notify.Events = []string{"auto_close"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Database.Postgres.Password)
	assert.Equal(t, "***", out.Oracle.APIKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Redis.Password)
	assert.Equal(t, "pw", cfg.Database.Postgres.Password)

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "auto_close", cfg.Notify.Events[0])
}
