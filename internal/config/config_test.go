package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "scheduler"
dry_run = true

[entry]
poll_interval = "10s"
max_polls = 100

[exit]
tick_interval = "1m"

[[exit.tiers]]
id = "tp25"
gain_pct = 25.0
fraction = 0.25

[[exit.tiers]]
id = "tp50"
gain_pct = 50.0
fraction = 0.25
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "scheduler", cfg.Mode)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 10*time.Second, cfg.Entry.PollInterval.Duration)
	assert.Equal(t, 100, cfg.Entry.MaxPolls)
	assert.Equal(t, time.Minute, cfg.Exit.TickInterval.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, "https://quote-api.jup.ag/v6", cfg.Jupiter.APIURL)
	assert.Equal(t, 50, cfg.Jupiter.SlippageBps)

	tiers := cfg.Exit.ExitTiers()
	require.Len(t, tiers, 2)
	assert.Equal(t, "tp25", tiers[0].ID)
	assert.Equal(t, 25.0, tiers[0].GainThresholdPct)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("TIERBOT_SOLANA_RPC_URL", "https://rpc.example.com")
	t.Setenv("TIERBOT_ENTRY_POLL_INTERVAL", "45s")
	t.Setenv("TIERBOT_TELEGRAM_ALLOWED_CHAT_ID", "123456")
	t.Setenv("TIERBOT_DRY_RUN", "true")

	path := writeConfig(t, `mode = "bot"`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://rpc.example.com", cfg.Solana.RPCURL)
	assert.Equal(t, 45*time.Second, cfg.Entry.PollInterval.Duration)
	assert.Equal(t, int64(123456), cfg.Telegram.AllowedChatID)
	assert.True(t, cfg.DryRun)
}

func TestExitTiersFallsBackToDefaultLadder(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	tiers := cfg.Exit.ExitTiers()
	require.Len(t, tiers, 4)
	assert.Equal(t, 25.0, tiers[0].GainThresholdPct)
	assert.Equal(t, 100.0, tiers[3].GainThresholdPct)
	for _, tier := range tiers {
		assert.Equal(t, 0.25, tier.ExitFraction)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	cfg.Mode = "nonsense"
	cfg.Jupiter.SlippageBps = 0
	cfg.Settlement.Enabled = true
	cfg.Settlement.Destination = ""
	// No wallet key and not a dry run.
	cfg.DryRun = false

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "unknown mode")
	assert.Contains(t, msg, "slippage_bps")
	assert.Contains(t, msg, "settlement")
	assert.Contains(t, msg, "wallet")
}

func TestValidateDryRunNeedsNoWalletOrStores(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	cfg.DryRun = true
	cfg.Telegram.Enabled = false
	cfg.Settlement.Destination = "5k2GPLbAuq3vHzuGJpBQkfD9FH2XNYR3vnDsbNvBirLc"

	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadTierLadder(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	cfg.DryRun = true
	cfg.Telegram.Enabled = false
	cfg.Settlement.Enabled = false
	cfg.Exit.Tiers = []TierConfig{
		{ID: "a", GainPct: 50, Fraction: 0.5},
		{ID: "b", GainPct: 25, Fraction: 0.6}, // descending threshold, sum > 1
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit:")
}
