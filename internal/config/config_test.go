package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", "app:\n  env: prod\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.Equal(t, "https://fapi.binance.com", cfg.Market.RESTBaseURL)
	assert.Equal(t, 5.0, cfg.Market.RequestsPerSec)
	assert.Equal(t, 1000, cfg.Market.BatchLimit)
	assert.Equal(t, "/data/candles", cfg.Data.CandleDir)
	assert.Equal(t, "1h", cfg.Trading.Timeframe)
	assert.Equal(t, 0.65, cfg.Trading.ConfidenceThreshold)
	assert.Equal(t, 100.0, cfg.Trading.TradeAmountUSDT)
	assert.Equal(t, -1.5, cfg.Trading.StopLossPercent)
	assert.Equal(t, 0.5, cfg.Trading.TrailingStopPercent)
	assert.Equal(t, 10000.0, cfg.Trading.InitialBalance)
	assert.Equal(t, "single", cfg.Trading.EntryPolicy)
	assert.Equal(t, 2, cfg.Backtest.MaxConcurrent)
	assert.Equal(t, "deepseek/deepseek-chat", cfg.Sentiment.Model)
	assert.Empty(t, cfg.Trading.Symbols, "不配 symbols 不启动纸面交易")
}

func TestLoadExplicitZeroSurvivesDefaults(t *testing.T) {
	// 显式写 0 的键不应被默认值覆盖
	path := writeConfig(t, t.TempDir(), "config.yaml", `
trading:
  trailing_stop_percent: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Trading.TrailingStopPercent)
}

func TestLoadIncludeMerge(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
trading:
  confidence_threshold: 0.7
  trade_amount_usdt: 50
`)
	path := writeConfig(t, dir, "config.yaml", `
include:
  - base.yaml
trading:
  trade_amount_usdt: 250
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	// 被包含文件先生效，主文件覆盖
	assert.Equal(t, 0.7, cfg.Trading.ConfidenceThreshold)
	assert.Equal(t, 250.0, cfg.Trading.TradeAmountUSDT)
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "include: [b.yaml]\n")
	path := writeConfig(t, dir, "b.yaml", "include: [a.yaml]\n")

	_, err := Load(path)
	assert.ErrorContains(t, err, "include cycle")
}

func TestLoadValidationRejects(t *testing.T) {
	cases := map[string]string{
		"threshold out of range": "trading:\n  confidence_threshold: 1.5\n",
		"positive stop loss":     "trading:\n  stop_loss_percent: 1.0\n",
		"unknown entry policy":   "trading:\n  entry_policy: martingale\n",
		"zero rps":               "market:\n  requests_per_sec: -1\n",
		"sentiment without key":  "sentiment:\n  enabled: true\n",
		"telegram without chat":  "notify:\n  telegram:\n    enabled: true\n    bot_token: abc\n",
	}
	for name, content := range cases {
		path := writeConfig(t, t.TempDir(), "config.yaml", content)
		_, err := Load(path)
		assert.Error(t, err, name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
	_, err = Load("")
	assert.Error(t, err)
}
