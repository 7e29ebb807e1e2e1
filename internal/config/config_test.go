package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "anchor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Equal(t, "anchor.db", c.Database)
	assert.Equal(t, 10, c.Mint.BatchSize)
	assert.Equal(t, 24*time.Hour, c.Sync.Interval)
	assert.Empty(t, c.Metrics.Addr)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
database: /var/lib/anchor/anchor.db
ledger:
  backend: kafka
  brokers: [localhost:9092, localhost:9093]
mint:
  batch_size: 5
  retry_interval: 2s
sync:
  interval: 1m
metrics:
  addr: ":9100"
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/anchor/anchor.db", c.Database)
	assert.Equal(t, LedgerKafka, c.Ledger.Backend)
	assert.Equal(t, []string{"localhost:9092", "localhost:9093"}, c.Ledger.Brokers)
	assert.Equal(t, 5, c.Mint.BatchSize)
	assert.Equal(t, 2*time.Second, c.Mint.RetryInterval)
	assert.Equal(t, time.Minute, c.Sync.Interval)
	assert.Equal(t, ":9100", c.Metrics.Addr)

	// Unset keys keep their defaults.
	assert.Equal(t, 4, c.Mint.Workers)
	assert.Equal(t, 10, c.Sync.UserChunk)
	assert.Equal(t, "0.0.2", c.Ledger.Operator)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "mint:\n  workers: 2\n")
	t.Setenv("ANCHOR_MINT_WORKERS", "16")
	t.Setenv("ANCHOR_STORAGE_BACKEND", "redis")
	t.Setenv("ANCHOR_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("ANCHOR_LEDGER_BROKERS", " a:9092, ,b:9092 ")
	t.Setenv("ANCHOR_SYNC_INTERVAL", "30s")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, c.Mint.Workers)
	assert.Equal(t, StorageRedis, c.Storage.Backend)
	assert.Equal(t, "redis://localhost:6379/0", c.Storage.RedisURL)
	assert.Equal(t, []string{"a:9092", "b:9092"}, c.Ledger.Brokers)
	assert.Equal(t, 30*time.Second, c.Sync.Interval)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("ANCHOR_MINT_BATCH_SIZE", "ten")
	t.Setenv("ANCHOR_SYNC_INTERVAL", "daily")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANCHOR_MINT_BATCH_SIZE")
	assert.Contains(t, err.Error(), "ANCHOR_SYNC_INTERVAL")
}

func TestLoad_FileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "mint: [not, a, map]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   []string
	}{
		{
			name:   "kafka without brokers",
			modify: func(c *Config) { c.Ledger.Backend = LedgerKafka },
			want:   []string{"ledger.brokers is required"},
		},
		{
			name:   "unknown backends",
			modify: func(c *Config) { c.Ledger.Backend = "hedera"; c.Storage.Backend = "ipfs" },
			want:   []string{`ledger.backend "hedera"`, `storage.backend "ipfs"`},
		},
		{
			name:   "redis without url",
			modify: func(c *Config) { c.Storage.Backend = StorageRedis },
			want:   []string{"storage.redis_url is required"},
		},
		{
			name: "non-positive tuning",
			modify: func(c *Config) {
				c.Mint.BatchSize = 0
				c.Mint.Workers = -1
				c.Mint.RetryInterval = 0
				c.Sync.Interval = 0
				c.Sync.UserChunk = 0
			},
			want: []string{"mint.batch_size", "mint.workers", "mint.retry_interval", "sync.interval", "sync.user_chunk"},
		},
		{
			name:   "negative retries",
			modify: func(c *Config) { c.Mint.MaxRetries = -1 },
			want:   []string{"mint.max_retries"},
		},
		{
			name:   "missing database and operator",
			modify: func(c *Config) { c.Database = ""; c.Ledger.Operator = "" },
			want:   []string{"database is required", "ledger.operator is required"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(&c)
			err := c.Validate()
			require.Error(t, err)
			for _, want := range tt.want {
				assert.Contains(t, err.Error(), want)
			}
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestApplyEnv_Unset(t *testing.T) {
	c := Default()
	require.NoError(t, applyEnv(&c, func(string) (string, bool) { return "", false }))
	assert.Equal(t, Default(), c)
}
