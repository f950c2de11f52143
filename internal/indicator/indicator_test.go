package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"marlin/internal/market"
)

func seriesCandles(n int) (prices []float64, candles market.Candles) {
	prices = make([]float64, n)
	candles = make(market.Candles, n)
	for i := 0; i < n; i++ {
		// 围绕 100 的缓慢波动，避免常数序列造成的退化
		c := 100 + 5*math.Sin(float64(i)/7)
		prices[i] = c
		candles[i] = market.Candle{
			OpenTime:  int64(i) * 3_600_000,
			CloseTime: int64(i)*3_600_000 + 3_599_999,
			Open:      c,
			High:      c * 1.002,
			Low:       c * 0.998,
			Close:     c,
			Volume:    1000,
		}
	}
	return prices, candles
}

func TestComputeEmptyInputAllNaN(t *testing.T) {
	set := Compute(nil, nil)
	for name, v := range map[string]float64{
		"EMA9": set.EMA9, "SMA200": set.SMA200, "MACD": set.MACD,
		"RSI": set.RSI, "StochK": set.StochK, "BBUpper": set.BBUpper,
		"ATR": set.ATR, "VWAP": set.VWAP,
	} {
		assert.True(t, math.IsNaN(v), "%s 应为 NaN", name)
	}
}

func TestComputeShortSeriesPartialFields(t *testing.T) {
	prices, candles := seriesCandles(10)
	set := Compute(prices, candles)

	assert.False(t, math.IsNaN(set.EMA9), "10 根足够 EMA9")
	assert.True(t, math.IsNaN(set.EMA21))
	assert.True(t, math.IsNaN(set.SMA200))
	assert.True(t, math.IsNaN(set.MACD), "MACD 需要 35 根")
	assert.True(t, math.IsNaN(set.RSI))
	assert.True(t, math.IsNaN(set.StochK))
	assert.True(t, math.IsNaN(set.BBUpper))
	assert.True(t, math.IsNaN(set.ATR))
	assert.False(t, math.IsNaN(set.VWAP), "VWAP 任意窗口均可计算")
}

func TestComputeFullSeries(t *testing.T) {
	prices, candles := seriesCandles(250)
	set := Compute(prices, candles)

	for name, v := range map[string]float64{
		"EMA9": set.EMA9, "EMA21": set.EMA21, "EMA50": set.EMA50,
		"SMA200": set.SMA200, "MACD": set.MACD, "MACDSignal": set.MACDSignal,
		"MACDHist": set.MACDHist, "RSI": set.RSI, "StochK": set.StochK,
		"StochD": set.StochD, "BBUpper": set.BBUpper, "BBMiddle": set.BBMiddle,
		"BBLower": set.BBLower, "ATR": set.ATR, "VWAP": set.VWAP,
	} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s 应为有限值", name)
	}

	assert.GreaterOrEqual(t, set.RSI, 0.0)
	assert.LessOrEqual(t, set.RSI, 100.0)
	assert.Greater(t, set.BBUpper, set.BBMiddle)
	assert.Greater(t, set.BBMiddle, set.BBLower)
	assert.Greater(t, set.ATR, 0.0)
	assert.InDelta(t, 100.0, set.SMA200, 6.0)
}

func TestVWAPWeightedByVolume(t *testing.T) {
	candles := market.Candles{
		{High: 12, Low: 8, Close: 10, Volume: 2},  // typical 10
		{High: 22, Low: 18, Close: 20, Volume: 1}, // typical 20
	}
	set := Compute(candles.Closes(), candles)
	assert.InDelta(t, 40.0/3.0, set.VWAP, 1e-9)
}

func TestVWAPZeroVolumeMissing(t *testing.T) {
	candles := market.Candles{{High: 10, Low: 10, Close: 10, Volume: 0}}
	set := Compute(candles.Closes(), candles)
	assert.True(t, math.IsNaN(set.VWAP))
}
