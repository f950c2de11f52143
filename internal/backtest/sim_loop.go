package backtest

import (
	"fmt"

	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/score"
)

// SimResult 是一次推演的完整产物。OpenPosition 表示收尾时仍未平掉的仓位，
// 它不强制平仓、不计成交记录，只按最后收盘价折算进 FinalBalance。
type SimResult struct {
	Trades  []TradeRecord
	Equity  []EquityPoint
	Metrics Metrics
	Open    *SimPosition
}

// SimPosition 是模拟账本中的单个持仓。每个 symbol 同时至多一个。
type SimPosition struct {
	Direction    string // BUY / SELL
	EntryPrice   float64
	Quantity     float64
	TrailingStop float64 // 0 表示尚未激活
	Confidence   float64
	EntryTS      int64
}

// Simulate 按根推演 K 线并返回成交与绩效。前 warmupBars 根只用于填满
// 指标窗口，不产生决策。调用方保证 candles 已按时间升序排列。
func Simulate(symbol string, candles market.Candles, cfg BotConfig, scorer Scorer, ext score.External) SimResult {
	balance := cfg.InitialBalance
	var pos *SimPosition
	var trades []TradeRecord
	lastClose := 0.0

	for i := warmupBars; i < len(candles); i++ {
		window := candles[:i+1]
		bar := window[i]
		close := bar.Close
		lastClose = close
		ts := bar.Timestamp()

		confidence := scorer.Score(window.Closes(), window, symbol, ext)

		// 先开仓后检查退出：持仓进入本根时直接跳过开仓判断，
		// 因此同一根上平仓后不会立刻再开（最早下一根才能再入场）。
		if pos == nil {
			decision := decide(confidence, cfg.AIConfidenceThreshold)
			if decision != DecisionHold {
				if balance < cfg.TradeAmountUSDT {
					logger.Warnf("[sim] %s 余额 %.2f 不足开仓 %.2f USDT，跳过 %s 信号",
						symbol, balance, cfg.TradeAmountUSDT, decision)
				} else {
					qty := cfg.TradeAmountUSDT / close
					balance -= cfg.TradeAmountUSDT
					pos = &SimPosition{
						Direction:  decision,
						EntryPrice: close,
						Quantity:   qty,
						Confidence: confidence,
						EntryTS:    ts,
					}
					trades = append(trades, TradeRecord{
						Type:       TradeTypeEntry,
						Symbol:     symbol,
						Direction:  decision,
						Price:      close,
						Quantity:   qty,
						Confidence: confidence,
						Timestamp:  ts,
					})
				}
			}
		}

		// 开仓当根也会走到这里：盈亏为 0 不会触发止盈止损，
		// 但会在入场价上立刻挂好移动止损。
		if pos != nil {
			if rec, exited := evalExit(symbol, pos, bar, cfg, confidence); exited {
				balance += rec.Quantity * close
				trades = append(trades, rec)
				pos = nil
			}
		}
	}

	metrics, equity := AggregateMetrics(trades, cfg.InitialBalance)
	final := balance
	if pos != nil && lastClose > 0 {
		final += pos.Quantity * lastClose
	}
	metrics.FinalBalance = final
	metrics.TotalProfitUSDT = final - cfg.InitialBalance
	return SimResult{Trades: trades, Equity: equity, Metrics: metrics, Open: pos}
}

// Decide 暴露统一的置信分→动作映射，回测与纸面交易共用同一套语义。
func Decide(confidence, threshold float64) string {
	return decide(confidence, threshold)
}

// decide 将置信分映射为动作。阈值内但落在中间带 (0.25, 0.75] 的分数仍然
// HOLD；而 >0.85 的 HOLD 会被强制转为开仓——这里的再判断 conf > 0.5 恒为真，
// 属于沿用至今的行为，统一前需要产品确认。
func decide(confidence, threshold float64) string {
	decision := DecisionHold
	if confidence >= threshold {
		if confidence > 0.75 {
			decision = DecisionBuy
		} else if confidence < 0.25 {
			decision = DecisionSell
		}
	}
	if decision == DecisionHold && confidence > 0.85 {
		if confidence > 0.5 {
			decision = DecisionBuy
		} else {
			decision = DecisionSell
		}
	}
	return decision
}

// evalExit 依次检查止盈、止损、移动止损。移动止损只朝有利方向棘轮，
// 0 为未激活哨兵。
func evalExit(symbol string, pos *SimPosition, bar market.Candle, cfg BotConfig, confidence float64) (TradeRecord, bool) {
	close := bar.Close
	var pnlPct float64
	if pos.Direction == DecisionBuy {
		pnlPct = (close - pos.EntryPrice) / pos.EntryPrice * 100
	} else {
		pnlPct = (pos.EntryPrice - close) / pos.EntryPrice * 100
	}

	reason := ""
	switch {
	case pnlPct >= cfg.TakeProfitPercent:
		reason = fmt.Sprintf("Take profit hit: %.2f%% >= %.2f%%", pnlPct, cfg.TakeProfitPercent)
	case pnlPct <= cfg.StopLossPercent:
		reason = fmt.Sprintf("Stop loss hit: %.2f%% <= %.2f%%", pnlPct, cfg.StopLossPercent)
	default:
		if trailingHit(pos, close, cfg.TrailingStopPercent) {
			reason = fmt.Sprintf("Trailing stop hit: close %.6f vs stop %.6f", close, pos.TrailingStop)
		}
	}
	if reason == "" {
		return TradeRecord{}, false
	}

	pnlUSDT := pnlPct / 100 * pos.EntryPrice * pos.Quantity
	return TradeRecord{
		Type:           TradeTypeExit,
		Symbol:         symbol,
		Direction:      pos.Direction,
		Price:          close,
		Quantity:       pos.Quantity,
		Confidence:     confidence,
		ExitReason:     reason,
		PnLPercent:     pnlPct,
		ProfitLossUSDT: pnlUSDT,
		Timestamp:      bar.Timestamp(),
	}, true
}

func trailingHit(pos *SimPosition, close, trailPct float64) bool {
	if trailPct <= 0 {
		return false
	}
	if pos.Direction == DecisionBuy {
		candidate := close * (1 - trailPct/100)
		if candidate > pos.TrailingStop {
			pos.TrailingStop = candidate
		}
		return pos.TrailingStop != 0 && close <= pos.TrailingStop
	}
	candidate := close * (1 + trailPct/100)
	if pos.TrailingStop == 0 || candidate < pos.TrailingStop {
		pos.TrailingStop = candidate
	}
	return pos.TrailingStop != 0 && close >= pos.TrailingStop
}
