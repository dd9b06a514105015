package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreComplete(t *testing.T) {
	c := Default("ACME")

	assert.Equal(t, "ACME", c.Ticker)
	assert.Equal(t, "SPY", c.MacroTicker)
	assert.Equal(t, 65.0, c.Thresholds.ConfidenceAct)
	assert.Equal(t, 45.0, c.Thresholds.ConfidenceWatch)
	assert.Equal(t, -10.0, c.Thresholds.LossStopPct)
	assert.Equal(t, -15.0, c.Thresholds.LossStopHardPct)
	assert.Equal(t, 5.0, c.Thresholds.DrawdownFromPeakPct)
	assert.Equal(t, -3.0, c.Thresholds.MarketCrashPct)
	assert.Equal(t, 14.5, c.Market.OpenUTC)
	assert.Equal(t, 21.0, c.Market.CloseUTC)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, c.Market.Days)
	assert.Equal(t, 5, c.AlphaVantage.RateLimitPerMinute)
	assert.Equal(t, 50, c.SnapshotDedupeMinutes)
	assert.Equal(t, 5, c.DuckCover.SellMinutesAfterOpen)
	assert.Equal(t, 60, c.DuckCover.RebuyMinutesAfterOpen)
}

func TestLoadOverridesAndSecretsFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ticker: ACME
company: Acme Corp
thresholds:
  confidence_act: 70
  loss_stop_hard_pct: -20
duck_cover:
  enabled: true
advisor:
  enabled: true
  model: gpt-4o
`), 0o644))

	t.Setenv("ALPHA_VANTAGE_KEY", "av-key")
	t.Setenv("OPENAI_API_KEY", "oa-key")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ACME", c.Ticker)
	assert.Equal(t, 70.0, c.Thresholds.ConfidenceAct)
	assert.Equal(t, -20.0, c.Thresholds.LossStopHardPct)
	assert.Equal(t, 45.0, c.Thresholds.ConfidenceWatch, "unset values keep defaults")
	assert.True(t, c.DuckCover.Enabled)
	assert.Equal(t, "av-key", c.AlphaVantage.APIKey)
	assert.Equal(t, "oa-key", c.Advisor.APIKey)
	assert.True(t, c.Advisor.Enabled)
	assert.Equal(t, "gpt-4o", c.Advisor.Model)
}

func TestLoadDisablesAdvisorWithoutKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ticker: ACME\nadvisor:\n  enabled: true\n"), 0o644))

	t.Setenv("ALPHA_VANTAGE_KEY", "av-key")
	t.Setenv("OPENAI_API_KEY", "")

	c, err := Load(path)
	require.NoError(t, err)
	assert.False(t, c.Advisor.Enabled, "no key means the engine runs report-only")
}

func TestLoadRequiresTicker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("company: Acme Corp\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
