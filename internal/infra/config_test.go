package infra

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0600))
	return p
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.IsMainnet())
	assert.False(t, cfg.HasCredentials())
	assert.Equal(t, "drop_oldest", cfg.Stream.OverflowPolicy)
}

func TestLoadConfig_KeepsDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
venue:
  network: mainnet
stream:
  symbols: [BTC, ETH]
  channel_capacity: 64
logging:
  level: debug
`)
	t.Setenv("PERP_PRIVATE_KEY", "")
	t.Setenv("PERP_NETWORK", "")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.IsMainnet())
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Stream.Symbols)
	assert.Equal(t, 64, cfg.Stream.ChannelCapacity)
	assert.Equal(t, "hyperliquid", cfg.Venue.Name)
	assert.Equal(t, 1000, cfg.Stream.ReconnectInitialMS)

	ws := cfg.WS()
	assert.Equal(t, time.Second, ws.Backoff.Initial)
	assert.Equal(t, time.Minute, ws.Backoff.Max)
	assert.Equal(t, 15*time.Second, ws.HandshakeTimeout)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := writeFile(t, "config.yaml", "venue:\n  network: testnet\n")
	t.Setenv("PERP_PRIVATE_KEY", "0xabc")
	t.Setenv("PERP_ACCOUNT", "0x1111111111111111111111111111111111111111")
	t.Setenv("PERP_VAULT_ADDRESS", "")
	t.Setenv("PERP_NETWORK", "")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", cfg.Venue.PrivateKey)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", cfg.Venue.Account)
	assert.True(t, cfg.HasCredentials())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad network", func(c *Config) { c.Venue.Network = "devnet" }},
		{"bad ws url", func(c *Config) { c.Venue.WSURL = "http://x" }},
		{"bad rest url", func(c *Config) { c.Venue.RestURL = "ftp://x" }},
		{"max below initial", func(c *Config) { c.Stream.ReconnectMaxMS = 10 }},
		{"jitter out of range", func(c *Config) { c.Stream.Jitter = 1.5 }},
		{"tiny channel", func(c *Config) { c.Stream.ChannelCapacity = 1 }},
		{"unknown overflow policy", func(c *Config) { c.Stream.OverflowPolicy = "block" }},
		{"zero rest rate", func(c *Config) { c.REST.RequestsPerSecond = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadSecretEnv(t *testing.T) {
	t.Setenv("PERP_ACCOUNT", "")
	os.Unsetenv("PERP_ACCOUNT")
	path := writeFile(t, ".env", "PERP_ACCOUNT=0x2222222222222222222222222222222222222222\n")

	require.NoError(t, LoadSecretEnv(path))
	assert.Equal(t, "0x2222222222222222222222222222222222222222", os.Getenv("PERP_ACCOUNT"))

	assert.NoError(t, LoadSecretEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestPrintBanner(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Venue.Network = "mainnet"
	cfg.Venue.PrivateKey = "0xabc"

	var buf bytes.Buffer
	PrintBanner(&buf, cfg)
	assert.Contains(t, buf.String(), "REAL MONEY")
	assert.Contains(t, buf.String(), "MAINNET")
}

func TestNewLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "warn"
	logger := NewLogger(cfg)
	require.NotNil(t, logger)
	assert.False(t, logger.Handler().Enabled(t.Context(), -4), "debug must be filtered at warn level")
}
