package score

import (
	"math"

	"marlin/internal/indicator"
	"marlin/internal/market"
)

// 子分实现约定：任何所需指标窗口不足（NaN）时给出 0.5 中性贡献，
// 而不是报错——历史较短的币种也要能给出可用分数。

// trendScore 按 0.40 EMA 排列 / 0.30 MACD / 0.20 SMA200 / 0.10 五根动量加权。
func trendScore(prices []float64, price float64, set indicator.Set) float64 {
	emaScore := 0.5
	if has(set.EMA9) && has(set.EMA21) && has(set.EMA50) {
		switch {
		case price > set.EMA9 && set.EMA9 > set.EMA21 && set.EMA21 > set.EMA50:
			emaScore = 0.9
		case price < set.EMA9 && set.EMA9 < set.EMA21 && set.EMA21 < set.EMA50:
			emaScore = 0.1
		case price > set.EMA9 && set.EMA9 > set.EMA21:
			emaScore = 0.7
		case price < set.EMA9 && set.EMA9 < set.EMA21:
			emaScore = 0.3
		}
	}

	macdScore := 0.5
	if has(set.MACD) && has(set.MACDSignal) && has(set.MACDHist) {
		switch {
		case set.MACDHist > 0 && set.MACD > set.MACDSignal:
			macdScore = 0.8
		case set.MACDHist < 0 && set.MACD < set.MACDSignal:
			macdScore = 0.2
		case set.MACD > set.MACDSignal:
			macdScore = 0.6
		case set.MACD < set.MACDSignal:
			macdScore = 0.4
		}
	}

	smaScore := 0.5
	if has(set.SMA200) {
		if price > set.SMA200 {
			smaScore = 0.7
		} else {
			smaScore = 0.3
		}
	}

	momScore := 0.5
	if n := len(prices); n >= 6 && prices[n-6] != 0 {
		ret := (prices[n-1] - prices[n-6]) / prices[n-6]
		switch {
		case ret > 0.02:
			momScore = 0.8
		case ret < -0.02:
			momScore = 0.2
		}
	}

	return 0.40*emaScore + 0.30*macdScore + 0.20*smaScore + 0.10*momScore
}

// momentumScore 按 0.40 RSI / 0.30 随机指标 / 0.30 MACD 动量加权。
func momentumScore(set indicator.Set) float64 {
	rsiScore := 0.5
	if has(set.RSI) {
		switch {
		case set.RSI < 30:
			rsiScore = 0.8
		case set.RSI < 40:
			rsiScore = 0.7
		case set.RSI > 70:
			rsiScore = 0.2
		case set.RSI > 60:
			rsiScore = 0.3
		}
	}

	stochScore := 0.5
	if has(set.StochK) && has(set.StochD) {
		switch {
		case set.StochK < 20 && set.StochD < 20:
			stochScore = 0.8
		case set.StochK > 80 && set.StochD > 80:
			stochScore = 0.2
		case set.StochK > set.StochD:
			stochScore = 0.6
		case set.StochK < set.StochD:
			stochScore = 0.4
		}
	}

	macdScore := 0.5
	if has(set.MACD) && has(set.MACDSignal) {
		switch {
		case set.MACD > 0 && set.MACD > set.MACDSignal:
			macdScore = 0.8
		case set.MACD < 0 && set.MACD < set.MACDSignal:
			macdScore = 0.2
		case set.MACD > set.MACDSignal:
			macdScore = 0.6
		case set.MACD < set.MACDSignal:
			macdScore = 0.4
		}
	}

	return 0.40*rsiScore + 0.30*stochScore + 0.30*macdScore
}

// volatilityScore 按 0.50 布林带位置 / 0.50 ATR 比率加权。
// 贴近上轨视为回落风险（0.2），贴近下轨视为反弹机会（0.8）。
func volatilityScore(prices []float64, price float64, set indicator.Set) float64 {
	bbScore := 0.5
	if has(set.BBUpper) && has(set.BBLower) && set.BBUpper > set.BBLower {
		position := (price - set.BBLower) / (set.BBUpper - set.BBLower)
		switch {
		case position > 0.8:
			bbScore = 0.2
		case position < 0.2:
			bbScore = 0.8
		}
	}

	atrScore := 0.5
	if has(set.ATR) && len(prices) >= 20 {
		var sum float64
		for _, p := range prices[len(prices)-20:] {
			sum += p
		}
		mean := sum / 20
		if mean > 0 {
			ratio := set.ATR / mean
			switch {
			case ratio > 0.03:
				atrScore = 0.7 // 高波动偏向突破
			case ratio < 0.01:
				atrScore = 0.3 // 低波动偏向震荡
			}
		}
	}

	return 0.50*bbScore + 0.50*atrScore
}

// volumeScore 按 0.60 VWAP 位置 / 0.40 近 5 根量能趋势加权。
func volumeScore(candles market.Candles, price float64, set indicator.Set) float64 {
	vwapScore := 0.5
	if has(set.VWAP) {
		if price > set.VWAP {
			vwapScore = 0.7
		} else {
			vwapScore = 0.3
		}
	}

	volScore := 0.5
	if n := len(candles); n >= 5 {
		recent := candles[n-5:]
		var sum float64
		for _, c := range recent {
			sum += c.Volume
		}
		avg := sum / 5
		cur := recent[len(recent)-1].Volume
		if avg > 0 {
			switch {
			case cur > 1.5*avg:
				volScore = 0.8
			case cur > avg:
				volScore = 0.6
			case cur < 0.5*avg:
				volScore = 0.3
			}
		}
	}

	return 0.60*vwapScore + 0.40*volScore
}

func has(v float64) bool {
	return !math.IsNaN(v)
}
