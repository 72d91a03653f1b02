package config_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"snipebot/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sniperAddr = "0x1111111111111111111111111111111111111111"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsAndEnvSubstitution(t *testing.T) {
	t.Setenv("SNIPER_CONTRACT", sniperAddr)
	t.Setenv("PRIVATE_KEY", "abc123")

	cfg, err := config.Load(writeConfig(t, "exit:\n  take_profit_percent: 150\n"))
	require.NoError(t, err)

	assert.InDelta(t, 150, cfg.Exit.TakeProfitPercent, 1e-9)
	assert.InDelta(t, -50, cfg.Exit.StopLossPercent, 1e-9)
	assert.Equal(t, 60*time.Minute, cfg.Exit.MaxHoldDuration)
	assert.Equal(t, 30*time.Second, cfg.Exit.CheckInterval())
	assert.True(t, cfg.Exit.EnablePartialExits)
	assert.InDelta(t, 0.5, cfg.Exit.PartialExitFraction, 1e-9)
	assert.Equal(t, 5, cfg.Feed.MaxReconnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.Feed.ReconnectDelay())
	assert.Equal(t, 5*time.Second, cfg.Feed.ConnectTimeout())
	assert.Equal(t, sniperAddr, cfg.Chain.SniperContract)
	assert.Equal(t, "abc123", cfg.Chain.PrivateKey)
	assert.NotEmpty(t, cfg.Chain.WSRPC)
}

func TestLoad_InvalidFractionIsFatal(t *testing.T) {
	t.Setenv("SNIPER_CONTRACT", sniperAddr)

	_, err := config.Load(writeConfig(t, "exit:\n  partial_exit_fraction: 1.5\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.Contains(t, err.Error(), "exit.partial_exit_fraction")
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		cfg := config.Default()
		cfg.Chain.SniperContract = sniperAddr
		return cfg
	}

	require.NoError(t, valid().Validate())

	cases := map[string]func(c *config.Config){
		"nan take profit":     func(c *config.Config) { c.Exit.TakeProfitPercent = math.NaN() },
		"positive stop loss":  func(c *config.Config) { c.Exit.StopLossPercent = 10 },
		"zero fraction":       func(c *config.Config) { c.Exit.PartialExitFraction = 0 },
		"negative hold":       func(c *config.Config) { c.Exit.MaxHoldDuration = -time.Minute },
		"zero interval":       func(c *config.Config) { c.Exit.CheckIntervalSeconds = 0 },
		"zero dial timeout":   func(c *config.Config) { c.Feed.ConnectTimeoutSeconds = 0 },
		"negative attempts":   func(c *config.Config) { c.Feed.MaxReconnectAttempts = -1 },
		"bad factory":         func(c *config.Config) { c.Chain.Factory = "pancake" },
		"no endpoints":        func(c *config.Config) { c.Chain.HTTPRPC = nil; c.Chain.WSRPC = nil },
		"inf trailing stop":   func(c *config.Config) { c.Exit.TrailingStopDropPercent = math.Inf(1) },
		"snipe without funds": func(c *config.Config) { c.Snipe.Enabled = true; c.Snipe.AmountPerSnipe = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), config.ErrInvalid)
		})
	}
}
