package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func exitTrade(ts int64, pnlUSDT float64) TradeRecord {
	return TradeRecord{Type: TradeTypeExit, Timestamp: ts, ProfitLossUSDT: pnlUSDT}
}

func TestAggregateMetricsBasic(t *testing.T) {
	trades := []TradeRecord{
		{Type: TradeTypeEntry, Timestamp: 1}, // entry 不计入统计
		exitTrade(2, 100),
		exitTrade(3, -200),
		exitTrade(4, 50),
	}

	m, equity := AggregateMetrics(trades, 1000)

	assert.Equal(t, 3, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 66.6667, m.WinRate, 1e-3)
	// 峰值 1100 回撤到 900
	assert.InDelta(t, 200.0/1100.0, m.MaxDrawdown, 1e-9)
	// avgWin 75 / avgLoss 200
	assert.InDelta(t, 0.375, m.AvgRiskRewardRatio, 1e-9)
	assert.InDelta(t, 0.75, m.ProfitFactor, 1e-9)
	assert.InDelta(t, -0.103695, m.SharpeRatio, 1e-5)

	if assert.Len(t, equity, 3) {
		assert.Equal(t, EquityPoint{TS: 2, Equity: 1100}, equity[0])
		assert.Equal(t, EquityPoint{TS: 3, Equity: 900}, equity[1])
		assert.Equal(t, EquityPoint{TS: 4, Equity: 950}, equity[2])
	}
}

func TestAggregateMetricsAllWins(t *testing.T) {
	trades := []TradeRecord{exitTrade(1, 10), exitTrade(2, 20)}

	m, _ := AggregateMetrics(trades, 1000)

	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 0, m.LosingTrades)
	assert.InDelta(t, 100.0, m.WinRate, 1e-9)
	// 没有亏损时盈亏比和利润因子保持 0，不取 +Inf
	assert.Zero(t, m.AvgRiskRewardRatio)
	assert.Zero(t, m.ProfitFactor)
	assert.Zero(t, m.MaxDrawdown)
	assert.InDelta(t, 2.1213, m.SharpeRatio, 1e-3)
}

func TestAggregateMetricsEmpty(t *testing.T) {
	m, equity := AggregateMetrics(nil, 1000)
	assert.Equal(t, Metrics{}, m)
	assert.Empty(t, equity)
}

func TestSharpeDegenerateCases(t *testing.T) {
	assert.Zero(t, sharpe([]float64{5}, 1000), "单笔不计算")
	assert.Zero(t, sharpe([]float64{5, 5, 5}, 1000), "零方差不计算")
	assert.Zero(t, sharpe([]float64{5, -5}, 0))
}
