package backtest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePresets(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPresetRegistryLoad(t *testing.T) {
	path := writePresets(t, `
presets:
  conservative:
    description: 稳一点
    ai_confidence_threshold: 0.75
    trade_amount_usdt: 50
  aggressive:
    ai_confidence_threshold: 0.55
`)
	r, err := NewPresetRegistry(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"aggressive", "conservative"}, r.Names())

	p, ok := r.Get("conservative")
	require.True(t, ok)
	cfg := p.BotConfig()
	assert.Equal(t, 0.75, cfg.AIConfidenceThreshold)
	assert.Equal(t, 50.0, cfg.TradeAmountUSDT)
	// 未指定的字段落回默认值
	assert.Equal(t, 2.0, cfg.TakeProfitPercent)
	assert.Equal(t, 10000.0, cfg.InitialBalance)

	_, ok = r.Get("nonexistent")
	assert.False(t, ok)
}

func TestPresetRegistryRejectsInvalid(t *testing.T) {
	path := writePresets(t, `
presets:
  broken:
    ai_confidence_threshold: 1.5
`)
	_, err := NewPresetRegistry(path)
	assert.ErrorContains(t, err, "broken")
}

func TestPresetRegistryRejectsUnknownFields(t *testing.T) {
	path := writePresets(t, `
presets:
  typo:
    take_profit_pct: 3.0
`)
	_, err := NewPresetRegistry(path)
	assert.Error(t, err, "未知字段直接拒绝，避免模板静默失效")
}

func TestPresetRegistryEmptyFile(t *testing.T) {
	path := writePresets(t, "# 还没有模板\n")
	r, err := NewPresetRegistry(path)
	require.NoError(t, err)
	assert.Empty(t, r.Names())
}

func TestRunRequestOverlayOnPreset(t *testing.T) {
	base := Preset{AIConfidenceThreshold: 0.75, TradeAmountUSDT: 50}.BotConfig()
	req := RunRequest{TradeAmountUSDT: 500}

	cfg := req.Overlay(base)
	assert.Equal(t, 0.75, cfg.AIConfidenceThreshold, "模板值保留")
	assert.Equal(t, 500.0, cfg.TradeAmountUSDT, "请求覆盖模板")
}
