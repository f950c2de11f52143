package backtest

import "math"

// AggregateMetrics 从完整成交日志聚合绩效。只有 exit 记录计入统计；
// 资金曲线从初始资金出发，每笔平仓追加一个点。
// FinalBalance / TotalProfitUSDT 由调用方按现金与未平仓市值另行填写。
func AggregateMetrics(trades []TradeRecord, initialBalance float64) (Metrics, []EquityPoint) {
	var m Metrics
	var equity []EquityPoint
	var pnls []float64

	balance := initialBalance
	peak := initialBalance
	grossWin, grossLoss := 0.0, 0.0

	for _, t := range trades {
		if t.Type != TradeTypeExit {
			continue
		}
		m.TotalTrades++
		pnls = append(pnls, t.ProfitLossUSDT)
		if t.ProfitLossUSDT > 0 {
			m.WinningTrades++
			grossWin += t.ProfitLossUSDT
		} else {
			m.LosingTrades++
			grossLoss += -t.ProfitLossUSDT
		}
		balance += t.ProfitLossUSDT
		if balance > peak {
			peak = balance
		}
		if peak > 0 {
			dd := (peak - balance) / peak
			if dd > m.MaxDrawdown {
				m.MaxDrawdown = dd
			}
		}
		equity = append(equity, EquityPoint{TS: t.Timestamp, Equity: balance})
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if m.LosingTrades > 0 {
		avgWin := 0.0
		if m.WinningTrades > 0 {
			avgWin = grossWin / float64(m.WinningTrades)
		}
		avgLoss := grossLoss / float64(m.LosingTrades)
		if avgLoss > 0 {
			m.AvgRiskRewardRatio = avgWin / avgLoss
		}
		if grossLoss > 0 {
			m.ProfitFactor = grossWin / grossLoss
		}
	}
	m.SharpeRatio = sharpe(pnls, initialBalance)
	return m, equity
}

// sharpe 用逐笔收益率（盈亏/初始资金）的均值除以样本标准差，
// 不足两笔或方差为零时返回 0。
func sharpe(pnls []float64, initialBalance float64) float64 {
	if len(pnls) < 2 || initialBalance <= 0 {
		return 0
	}
	returns := make([]float64, len(pnls))
	mean := 0.0
	for i, p := range pnls {
		returns[i] = p / initialBalance
		mean += returns[i]
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}
