package score

import (
	"math"
	"time"

	"marlin/internal/market"
)

// VolatilityRegime 波动率档位。
type VolatilityRegime string

const (
	VolatilityHigh   VolatilityRegime = "high"
	VolatilityNormal VolatilityRegime = "normal"
	VolatilityLow    VolatilityRegime = "low"
)

// TimeOfDay 按最后一根 K 线的 UTC 小时划分的时段。
type TimeOfDay string

const (
	TimeMarketOpen  TimeOfDay = "market_open"
	TimeMidDay      TimeOfDay = "mid_day"
	TimeMarketClose TimeOfDay = "market_close"
	TimeNormal      TimeOfDay = "normal"
)

// Regime 每次评分即时推导，不做持久化。
type Regime struct {
	Volatility VolatilityRegime
	NewsHeavy  bool
	TimeOfDay  TimeOfDay
}

// BlendWeights 是技术/情绪/结构三路的融合权重，调整后必然归一。
type BlendWeights struct {
	Technical float64
	Sentiment float64
	Structure float64
}

// DetectRegime 从 ATR 与最后一根 K 线推导当前市场状态。
// newsHeavy 由外部信号注入，当前调用链里恒为 false。
func DetectRegime(candles market.Candles, atr float64, newsHeavy bool) Regime {
	regime := Regime{
		Volatility: VolatilityNormal,
		NewsHeavy:  newsHeavy,
		TimeOfDay:  TimeNormal,
	}
	last, ok := candles.Last()
	if !ok {
		return regime
	}

	// 波动率分母取最新收盘价，而波动率子分用的是 20 根均值。
	// 两处口径确实不一致，是沿用至今的行为，统一前需要产品确认。
	if !math.IsNaN(atr) && last.Close > 0 {
		ratio := atr / last.Close
		switch {
		case ratio > 0.01:
			regime.Volatility = VolatilityHigh
		case ratio < 0.005:
			regime.Volatility = VolatilityLow
		}
	}

	if ts := last.Timestamp(); ts > 0 {
		hour := time.UnixMilli(ts).UTC().Hour()
		switch {
		case hour < 2:
			regime.TimeOfDay = TimeMarketOpen
		case hour >= 12 && hour < 16:
			regime.TimeOfDay = TimeMidDay
		case hour >= 20:
			regime.TimeOfDay = TimeMarketClose
		}
	}
	return regime
}

// BlendWeights 从基准 0.60/0.25/0.15 出发按状态做加减，再强制归一。
// 加减之后三者之和一般不再是 1，归一化不可省略。
func (r Regime) BlendWeights() BlendWeights {
	w := BlendWeights{Technical: 0.60, Sentiment: 0.25, Structure: 0.15}
	switch r.Volatility {
	case VolatilityHigh:
		w.Technical -= 0.10
		w.Sentiment += 0.15
	case VolatilityLow:
		w.Technical += 0.15
	}
	if r.NewsHeavy {
		w.Sentiment += 0.30
		w.Technical -= 0.15
	}
	if r.TimeOfDay == TimeMarketOpen {
		w.Sentiment += 0.15
	}
	sum := w.Technical + w.Sentiment + w.Structure
	if sum > 0 {
		w.Technical /= sum
		w.Sentiment /= sum
		w.Structure /= sum
	}
	return w
}
