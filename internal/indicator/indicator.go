package indicator

import (
	"math"

	"github.com/markcheno/go-talib"

	"marlin/internal/market"
)

// Set 保存单次评分所需的全部指标最新值。
// 数据不足以计算某个指标时，对应字段为 NaN；调用方负责回退到中性值。
type Set struct {
	EMA9   float64
	EMA21  float64
	EMA50  float64
	SMA200 float64

	MACD       float64
	MACDSignal float64
	MACDHist   float64

	RSI    float64
	StochK float64
	StochD float64

	BBUpper  float64
	BBMiddle float64
	BBLower  float64

	ATR  float64
	VWAP float64
}

const (
	rsiPeriod    = 14
	atrPeriod    = 14
	bbandPeriod  = 20
	stochKPeriod = 14
	stochSlowing = 3
	smaPeriod    = 200
)

// Compute 逐项计算指标；每项独立判断窗口是否足够，互不影响。
// prices 与 candles 按收盘价一一对应。
func Compute(prices []float64, candles market.Candles) Set {
	set := Set{
		EMA9:       math.NaN(),
		EMA21:      math.NaN(),
		EMA50:      math.NaN(),
		SMA200:     math.NaN(),
		MACD:       math.NaN(),
		MACDSignal: math.NaN(),
		MACDHist:   math.NaN(),
		RSI:        math.NaN(),
		StochK:     math.NaN(),
		StochD:     math.NaN(),
		BBUpper:    math.NaN(),
		BBMiddle:   math.NaN(),
		BBLower:    math.NaN(),
		ATR:        math.NaN(),
		VWAP:       math.NaN(),
	}
	if len(prices) == 0 {
		return set
	}

	if v, ok := lastValid(ema(prices, 9)); ok {
		set.EMA9 = v
	}
	if v, ok := lastValid(ema(prices, 21)); ok {
		set.EMA21 = v
	}
	if v, ok := lastValid(ema(prices, 50)); ok {
		set.EMA50 = v
	}
	if len(prices) >= smaPeriod {
		if v, ok := lastValid(talib.Sma(prices, smaPeriod)); ok {
			set.SMA200 = v
		}
	}

	// MACD 采用标准 12/26/9 组合，窗口不足时整组缺失。
	if len(prices) >= 26+9 {
		macd, signal, hist := talib.Macd(prices, 12, 26, 9)
		if v, ok := lastValid(macd); ok {
			set.MACD = v
		}
		if v, ok := lastValid(signal); ok {
			set.MACDSignal = v
		}
		if v, ok := lastValid(hist); ok {
			set.MACDHist = v
		}
	}

	if len(prices) > rsiPeriod {
		if v, ok := lastValid(talib.Rsi(prices, rsiPeriod)); ok {
			set.RSI = v
		}
	}

	if len(candles) >= stochKPeriod+2*stochSlowing {
		k, d := talib.Stoch(candles.Highs(), candles.Lows(), candles.Closes(),
			stochKPeriod, stochSlowing, talib.SMA, stochSlowing, talib.SMA)
		if v, ok := lastValid(k); ok {
			set.StochK = v
		}
		if v, ok := lastValid(d); ok {
			set.StochD = v
		}
	}

	if len(prices) >= bbandPeriod {
		upper, middle, lower := talib.BBands(prices, bbandPeriod, 2, 2, talib.SMA)
		if v, ok := lastValid(upper); ok {
			set.BBUpper = v
		}
		if v, ok := lastValid(middle); ok {
			set.BBMiddle = v
		}
		if v, ok := lastValid(lower); ok {
			set.BBLower = v
		}
	}

	if len(candles) > atrPeriod {
		if v, ok := lastValid(talib.Atr(candles.Highs(), candles.Lows(), candles.Closes(), atrPeriod)); ok {
			set.ATR = v
		}
	}

	if v, ok := vwap(candles); ok {
		set.VWAP = v
	}
	return set
}

func ema(prices []float64, period int) []float64 {
	if len(prices) < period {
		return nil
	}
	return talib.Ema(prices, period)
}

// vwap 在给定窗口上累计计算成交量加权均价。
func vwap(candles market.Candles) (float64, bool) {
	var pvSum, volSum float64
	for _, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		pvSum += typical * c.Volume
		volSum += c.Volume
	}
	if volSum == 0 {
		return 0, false
	}
	return pvSum / volSum, true
}

// lastValid 返回序列末端最后一个有效值（跳过 NaN/Inf）。
// TALib 的零填充只出现在暖机区间开头，各指标的窗口已在调用前校验。
func lastValid(series []float64) (float64, bool) {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		return v, true
	}
	return 0, false
}
