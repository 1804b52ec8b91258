package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOOP_INTERVAL", "")
	t.Setenv("DRY_RUN", "")
	t.Setenv("TRADING_SYMBOLS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.LoopInterval)
	assert.True(t, cfg.DryRun)
	assert.Empty(t, cfg.Symbols)
	assert.Equal(t, 4, cfg.NotifyWorkers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOOP_INTERVAL", "2")
	t.Setenv("CALL_TIMEOUT", "750ms")
	t.Setenv("DRY_RUN", "false")
	t.Setenv("TRADING_SYMBOLS", " eurusd, XAUUSD ,,")
	t.Setenv("BRIDGE_URL", "http://bridge:18812/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.LoopInterval)
	assert.Equal(t, 750*time.Millisecond, cfg.CallTimeout)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, []string{"EURUSD", "XAUUSD"}, cfg.Symbols)
	assert.Equal(t, "http://bridge:18812", cfg.BridgeURL)
}

func TestGetEnvDurationFallback(t *testing.T) {
	t.Setenv("SOME_DURATION", "soon")
	assert.Equal(t, time.Minute, getEnvDuration("SOME_DURATION", time.Minute))
}
