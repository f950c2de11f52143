package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"marlin/internal/market"
	"marlin/internal/score"
)

// scriptScorer 按 bar 索引（窗口长度-1）返回预设置信分，缺省 0.5。
type scriptScorer struct {
	byIndex map[int]float64
}

func (s scriptScorer) Score(prices []float64, candles market.Candles, symbol string, ext score.External) float64 {
	if v, ok := s.byIndex[len(candles)-1]; ok {
		return v
	}
	return 0.5
}

func flatThen(closes map[int]float64, n int) market.Candles {
	out := make(market.Candles, n)
	for i := 0; i < n; i++ {
		c := 100.0
		if v, ok := closes[i]; ok {
			c = v
		}
		ts := int64(i) * 3_600_000
		out[i] = market.Candle{
			OpenTime:  ts,
			CloseTime: ts + 3_599_999,
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1000,
		}
	}
	return out
}

func TestDecideBands(t *testing.T) {
	assert.Equal(t, DecisionBuy, Decide(0.80, 0.65))
	assert.Equal(t, DecisionHold, Decide(0.70, 0.65), "中间带 (0.25, 0.75] 保持 HOLD")
	assert.Equal(t, DecisionHold, Decide(0.75, 0.65))
	assert.Equal(t, DecisionHold, Decide(0.30, 0.65), "低于阈值不决策")
	assert.Equal(t, DecisionSell, Decide(0.20, 0.10), "达到阈值且 <0.25 做空")
	// HOLD 强制覆盖：>0.85 即便没过阈值也开仓
	assert.Equal(t, DecisionBuy, Decide(0.86, 0.95))
	assert.Equal(t, DecisionHold, Decide(0.85, 0.95))
}

func TestSimulateTakeProfit(t *testing.T) {
	candles := flatThen(map[int]float64{201: 103}, 203)
	scorer := scriptScorer{byIndex: map[int]float64{200: 0.9}}
	cfg := DefaultBotConfig()

	res := Simulate("BTCUSDT", candles, cfg, scorer, score.NeutralExternal())

	assert.Len(t, res.Trades, 2)
	entry, exit := res.Trades[0], res.Trades[1]
	assert.Equal(t, TradeTypeEntry, entry.Type)
	assert.Equal(t, DecisionBuy, entry.Direction)
	assert.Equal(t, 100.0, entry.Price)
	assert.InDelta(t, 1.0, entry.Quantity, 1e-9)

	assert.Equal(t, TradeTypeExit, exit.Type)
	assert.Contains(t, exit.ExitReason, "Take profit")
	assert.InDelta(t, 3.0, exit.PnLPercent, 1e-9)
	assert.InDelta(t, 3.0, exit.ProfitLossUSDT, 1e-9)

	assert.Equal(t, 1, res.Metrics.TotalTrades)
	assert.Equal(t, 1, res.Metrics.WinningTrades)
	assert.InDelta(t, 100.0, res.Metrics.WinRate, 1e-9)
	assert.InDelta(t, 10003.0, res.Metrics.FinalBalance, 1e-9)
	assert.Nil(t, res.Open)
}

func TestSimulateStopLoss(t *testing.T) {
	candles := flatThen(map[int]float64{201: 98}, 203)
	scorer := scriptScorer{byIndex: map[int]float64{200: 0.9}}
	cfg := DefaultBotConfig()

	res := Simulate("BTCUSDT", candles, cfg, scorer, score.NeutralExternal())

	assert.Len(t, res.Trades, 2)
	exit := res.Trades[1]
	assert.Contains(t, exit.ExitReason, "Stop loss")
	assert.InDelta(t, -2.0, exit.PnLPercent, 1e-9)
	assert.Equal(t, 1, res.Metrics.LosingTrades)
	assert.InDelta(t, 9998.0, res.Metrics.FinalBalance, 1e-9)
}

func TestSimulateTrailingStopRatchet(t *testing.T) {
	// 102 把止损棘轮推到 101.49，回落到 101 触发
	candles := flatThen(map[int]float64{201: 102, 202: 101}, 204)
	scorer := scriptScorer{byIndex: map[int]float64{200: 0.9}}
	cfg := DefaultBotConfig()
	cfg.TakeProfitPercent = 5.0

	res := Simulate("BTCUSDT", candles, cfg, scorer, score.NeutralExternal())

	assert.Len(t, res.Trades, 2)
	exit := res.Trades[1]
	assert.Contains(t, exit.ExitReason, "Trailing stop")
	assert.Equal(t, 101.0, exit.Price)
	assert.InDelta(t, 1.0, exit.PnLPercent, 1e-9)
}

func TestSimulateShortSide(t *testing.T) {
	// 阈值 0.1 下 0.2 映射为 SELL；价格下跌 3% 触发止盈
	candles := flatThen(map[int]float64{201: 97}, 203)
	scorer := scriptScorer{byIndex: map[int]float64{200: 0.2}}
	cfg := DefaultBotConfig()
	cfg.AIConfidenceThreshold = 0.1

	res := Simulate("ETHUSDT", candles, cfg, scorer, score.NeutralExternal())

	assert.Len(t, res.Trades, 2)
	assert.Equal(t, DecisionSell, res.Trades[0].Direction)
	exit := res.Trades[1]
	assert.Contains(t, exit.ExitReason, "Take profit")
	assert.InDelta(t, 3.0, exit.PnLPercent, 1e-9)
}

func TestSimulateSinglePositionInvariant(t *testing.T) {
	// 信号一直是 BUY，但持仓期间不会再开新仓
	byIndex := make(map[int]float64)
	for i := 200; i < 240; i++ {
		byIndex[i] = 0.9
	}
	candles := flatThen(nil, 240)
	cfg := DefaultBotConfig()
	cfg.TrailingStopPercent = 0 // 永不退出

	res := Simulate("BTCUSDT", candles, cfg, scriptScorer{byIndex: byIndex}, score.NeutralExternal())

	assert.Len(t, res.Trades, 1)
	assert.Equal(t, TradeTypeEntry, res.Trades[0].Type)
	assert.NotNil(t, res.Open)
	// 未平仓位按最后收盘价折算，不强制平仓
	assert.Equal(t, 0, res.Metrics.TotalTrades)
	assert.InDelta(t, 10000.0, res.Metrics.FinalBalance, 1e-9)
}

func TestSimulateInsufficientBalanceSkips(t *testing.T) {
	candles := flatThen(nil, 210)
	byIndex := map[int]float64{200: 0.9, 201: 0.9}
	cfg := DefaultBotConfig()
	cfg.InitialBalance = 50 // 低于 trade_amount_usdt

	res := Simulate("BTCUSDT", candles, cfg, scriptScorer{byIndex: byIndex}, score.NeutralExternal())

	assert.Empty(t, res.Trades)
	assert.Nil(t, res.Open)
	assert.InDelta(t, 50.0, res.Metrics.FinalBalance, 1e-9)
}

func TestSimulateNoSignalsNoTrades(t *testing.T) {
	candles := flatThen(nil, 260)
	res := Simulate("BTCUSDT", candles, DefaultBotConfig(), scriptScorer{}, score.NeutralExternal())

	assert.Empty(t, res.Trades)
	assert.Equal(t, Metrics{FinalBalance: 10000}, res.Metrics)
}

func TestSimulateWarmupProducesNothing(t *testing.T) {
	// 数据不足 warmup，循环一根都不会跑
	byIndex := map[int]float64{100: 0.9}
	candles := flatThen(nil, 150)
	res := Simulate("BTCUSDT", candles, DefaultBotConfig(), scriptScorer{byIndex: byIndex}, score.NeutralExternal())
	assert.Empty(t, res.Trades)
}

func TestSimulateDeterministicReplay(t *testing.T) {
	candles := flatThen(map[int]float64{201: 102, 202: 101, 205: 103, 207: 99}, 220)
	byIndex := map[int]float64{200: 0.9, 204: 0.9, 206: 0.2}
	cfg := DefaultBotConfig()
	cfg.AIConfidenceThreshold = 0.1

	a := Simulate("BTCUSDT", candles, cfg, scriptScorer{byIndex: byIndex}, score.NeutralExternal())
	b := Simulate("BTCUSDT", candles, cfg, scriptScorer{byIndex: byIndex}, score.NeutralExternal())

	assert.Equal(t, a.Trades, b.Trades)
	assert.Equal(t, a.Metrics, b.Metrics)
}

func TestSimulateNoReentryOnExitBar(t *testing.T) {
	// 带着持仓进入的那根即便置信分够开仓，也不允许平仓后同根再入场，
	// 最早要等到下一根。
	candles := flatThen(map[int]float64{201: 103}, 204)
	byIndex := map[int]float64{200: 0.9, 201: 0.9, 202: 0.9}
	cfg := DefaultBotConfig()

	res := Simulate("BTCUSDT", candles, cfg, scriptScorer{byIndex: byIndex}, score.NeutralExternal())

	assert.Len(t, res.Trades, 3)
	entry, exit, reentry := res.Trades[0], res.Trades[1], res.Trades[2]

	assert.Equal(t, TradeTypeEntry, entry.Type)
	assert.Equal(t, TradeTypeExit, exit.Type)
	assert.Contains(t, exit.ExitReason, "Take profit")

	// 平仓那根没有任何同时间戳的开仓记录
	for _, tr := range res.Trades {
		if tr.Type == TradeTypeEntry {
			assert.NotEqual(t, exit.Timestamp, tr.Timestamp)
		}
	}

	assert.Equal(t, TradeTypeEntry, reentry.Type)
	assert.Greater(t, reentry.Timestamp, exit.Timestamp)
	assert.Equal(t, 100.0, reentry.Price, "再入场发生在下一根的收盘价")
	assert.NotNil(t, res.Open)
}
