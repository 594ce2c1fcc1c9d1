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
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "scan"

[watch]
poll_interval = "30s"

[[watch.wallets]]
address = "0x1111111111111111111111111111111111111111"
name = "whale"
enabled = true
size_scale = 0.1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "scan", cfg.Mode)
	assert.Equal(t, 30*time.Second, cfg.Watch.PollInterval.Duration)
	// Untouched sections keep their defaults.
	assert.Equal(t, "https://clob.polymarket.com", cfg.Polymarket.ClobHost)
	assert.Equal(t, 137, cfg.Polymarket.ChainID)
	require.Len(t, cfg.Watch.Wallets, 1)
	assert.Equal(t, "whale", cfg.Watch.Wallets[0].Name)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("POLYCOPY_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("POLYCOPY_RISK_MAX_DAILY_LOSS_USD", "250")
	t.Setenv("POLYCOPY_WATCH_POLL_INTERVAL", "2s")

	path := writeConfig(t, `mode = "monitor"`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.InDelta(t, 250.0, cfg.Risk.MaxDailyLossUSD, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.Watch.PollInterval.Duration)
}

func TestValidateDefaultsPlusWallet(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "copy"
	cfg.Replicate.DryRun = true
	cfg.Watch.Wallets = []WalletEntry{{
		Address:   "0x2222222222222222222222222222222222222222",
		Enabled:   true,
		SizeScale: 0.05,
	}}

	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "copy" // live orders, no signer, no wallets
	cfg.Polymarket.ClobHost = ""
	cfg.Arbitrage.FeeRate = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "signer")
	assert.ErrorContains(t, err, "clob_host")
	assert.ErrorContains(t, err, "fee_rate")
	assert.ErrorContains(t, err, "at least one enabled wallet")
}

func TestValidateRejectsBadWallet(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Watch.Wallets = []WalletEntry{{
		Address:   "not-an-address",
		Enabled:   true,
		SizeScale: 2.0,
	}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "wallets[0]")
	assert.ErrorContains(t, err, "size_scale")
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Signer.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "hunter2"
	cfg.Notify.TelegramToken = "123:abc"

	red := RedactedConfig(&cfg)
	assert.NotEqual(t, "deadbeef", red.Signer.PrivateKey)
	assert.NotEqual(t, "hunter2", red.Postgres.Password)
	assert.NotEqual(t, "123:abc", red.Notify.TelegramToken)
	// The original is untouched.
	assert.Equal(t, "deadbeef", cfg.Signer.PrivateKey)
}
