package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.ProviderTimeout())
	assert.Equal(t, time.Minute, cfg.TickInterval())
	assert.Equal(t, 16, cfg.Relay.SessionBuffer)
	assert.False(t, cfg.AMQP.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.WatchRenewInterval())
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: ":9999"
kanban:
  tick_interval_sec: 5
google:
  client_id: "abc"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.TickInterval())
	assert.Equal(t, "abc", cfg.Google.ClientID)
	assert.Equal(t, "mailsync", cfg.Keyring.Service)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("MAILSYNC_PROVIDER_TIMEOUT_SEC", "7")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 7*time.Second, cfg.ProviderTimeout())
}

func TestLoadConfig_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
amqp:
  enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestParseColumn(t *testing.T) {
	c, err := ParseColumn("snoozed")
	require.NoError(t, err)
	assert.Equal(t, ColumnSnoozed, c)

	_, err = ParseColumn("archive")
	assert.Error(t, err)
}
