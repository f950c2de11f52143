package score

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"marlin/internal/indicator"
	"marlin/internal/market"
)

func makeCandles(closes []float64, startUTC time.Time, step time.Duration) market.Candles {
	out := make(market.Candles, 0, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		ts := startUTC.Add(time.Duration(i) * step)
		out = append(out, market.Candle{
			OpenTime:  ts.UnixMilli(),
			CloseTime: ts.Add(step).UnixMilli() - 1,
			Open:      open,
			High:      math.Max(open, c) * 1.001,
			Low:       math.Min(open, c) * 0.999,
			Close:     c,
			Volume:    1000 + float64(i%7)*50,
		})
	}
	return out
}

func TestScoreEmptyInputIsZero(t *testing.T) {
	e := NewEngine()
	assert.Equal(t, 0.0, e.Score(nil, nil, "BTCUSDT", NeutralExternal()))
	assert.Equal(t, 0.0, e.Score([]float64{}, market.Candles{}, "BTCUSDT", NeutralExternal()))
}

func TestScoreAlwaysInUnitRange(t *testing.T) {
	e := NewEngine()
	rng := rand.New(rand.NewSource(7))
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, n := range []int{1, 5, 30, 120, 260} {
		closes := make([]float64, n)
		price := 100.0
		for i := range closes {
			price *= 1 + (rng.Float64()-0.5)*0.04
			closes[i] = price
		}
		candles := makeCandles(closes, start, time.Hour)
		for _, ext := range []External{
			NeutralExternal(),
			{Sentiment: 1, Structure: 1},
			{Sentiment: 0, Structure: 0},
			{Sentiment: 0.9, Structure: 0.1, NewsHeavy: true},
			{Sentiment: 5, Structure: -3}, // 越界输入必须被钳制
		} {
			got := e.Score(closes, candles, "ETHUSDT", ext)
			assert.GreaterOrEqual(t, got, 0.0, "n=%d ext=%+v", n, ext)
			assert.LessOrEqual(t, got, 1.0, "n=%d ext=%+v", n, ext)
		}
	}
}

func TestScoreShortSeriesStaysNeutralish(t *testing.T) {
	// 指标窗口不足时全部子分回退中性，不报错。
	e := NewEngine()
	closes := []float64{100, 101, 102}
	candles := makeCandles(closes, time.Date(2025, 3, 1, 5, 0, 0, 0, time.UTC), time.Hour)
	got := e.Score(closes, candles, "BTCUSDT", NeutralExternal())
	assert.InDelta(t, 0.5, got, 0.15)
}

func TestBlendWeightsAlwaysNormalized(t *testing.T) {
	vols := []VolatilityRegime{VolatilityHigh, VolatilityNormal, VolatilityLow}
	times := []TimeOfDay{TimeMarketOpen, TimeMidDay, TimeMarketClose, TimeNormal}
	for _, v := range vols {
		for _, tod := range times {
			for _, news := range []bool{false, true} {
				r := Regime{Volatility: v, TimeOfDay: tod, NewsHeavy: news}
				w := r.BlendWeights()
				assert.InDelta(t, 1.0, w.Technical+w.Sentiment+w.Structure, 1e-9,
					"regime %+v", r)
				assert.GreaterOrEqual(t, w.Technical, 0.0)
				assert.GreaterOrEqual(t, w.Sentiment, 0.0)
				assert.GreaterOrEqual(t, w.Structure, 0.0)
			}
		}
	}
}

func TestBlendWeightsBase(t *testing.T) {
	w := Regime{Volatility: VolatilityNormal, TimeOfDay: TimeNormal}.BlendWeights()
	assert.InDelta(t, 0.60, w.Technical, 1e-9)
	assert.InDelta(t, 0.25, w.Sentiment, 1e-9)
	assert.InDelta(t, 0.15, w.Structure, 1e-9)
}

func TestBlendWeightsNewsShiftsToSentiment(t *testing.T) {
	base := Regime{Volatility: VolatilityNormal, TimeOfDay: TimeNormal}.BlendWeights()
	news := Regime{Volatility: VolatilityNormal, TimeOfDay: TimeNormal, NewsHeavy: true}.BlendWeights()
	assert.Greater(t, news.Sentiment, base.Sentiment)
	assert.Less(t, news.Technical, base.Technical)
}

func TestDetectRegimeVolatilityBands(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}
	// UTC 05:00 落在 normal 时段
	candles := makeCandles(closes, time.Date(2025, 3, 1, 5, 0, 0, 0, time.UTC), time.Minute)

	assert.Equal(t, VolatilityHigh, DetectRegime(candles, 2.0, false).Volatility)   // 2%
	assert.Equal(t, VolatilityLow, DetectRegime(candles, 0.4, false).Volatility)    // 0.4%
	assert.Equal(t, VolatilityNormal, DetectRegime(candles, 0.7, false).Volatility) // 0.7%
	assert.Equal(t, VolatilityNormal, DetectRegime(candles, math.NaN(), false).Volatility)
}

func TestDetectRegimeTimeOfDay(t *testing.T) {
	cases := []struct {
		hour int
		want TimeOfDay
	}{
		{0, TimeMarketOpen},
		{1, TimeMarketOpen},
		{2, TimeNormal},
		{11, TimeNormal},
		{12, TimeMidDay},
		{15, TimeMidDay},
		{16, TimeNormal},
		{20, TimeMarketClose},
		{23, TimeMarketClose},
	}
	for _, tc := range cases {
		// 单根 K 线即可；CloseTime 决定时段
		start := time.Date(2025, 3, 1, tc.hour, 0, 0, 0, time.UTC)
		candles := market.Candles{{
			OpenTime:  start.UnixMilli(),
			CloseTime: start.UnixMilli(),
			Close:     100,
		}}
		got := DetectRegime(candles, 0.7, false)
		assert.Equal(t, tc.want, got.TimeOfDay, "hour=%d", tc.hour)
	}
}

func TestTrendScoreRewardsAlignedEMAStack(t *testing.T) {
	// 稳定上涨序列应给出偏多的评分；稳定下跌给出偏空评分。
	e := NewEngine()
	start := time.Date(2025, 3, 1, 5, 0, 0, 0, time.UTC)

	up := make([]float64, 260)
	down := make([]float64, 260)
	for i := range up {
		up[i] = 100 * math.Pow(1.002, float64(i))
		down[i] = 100 * math.Pow(0.998, float64(i))
	}
	bullish := e.Score(up, makeCandles(up, start, time.Hour), "BTCUSDT", NeutralExternal())
	bearish := e.Score(down, makeCandles(down, start, time.Hour), "BTCUSDT", NeutralExternal())
	assert.Greater(t, bullish, bearish)
	assert.Greater(t, bullish, 0.5)
	assert.Less(t, bearish, 0.5)
}

func TestTrendScoreEMAStackValues(t *testing.T) {
	// 只给出 EMA 三线，其余指标缺失时各自贡献中性 0.5，
	// 因此 trendScore = 0.40*ema + 0.30*0.5 + 0.20*0.5 + 0.10*0.5。
	cases := []struct {
		name                     string
		price, e9, e21, e50, ema float64
	}{
		{"完整多头排列", 105, 104, 102, 100, 0.9},
		{"完整空头排列", 95, 96, 98, 100, 0.1},
		{"部分多头排列", 105, 104, 102, 103, 0.7},
		{"部分空头排列", 95, 96, 98, 97, 0.3},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			set := indicator.Compute(nil, nil)
			set.EMA9, set.EMA21, set.EMA50 = c.e9, c.e21, c.e50
			want := 0.40*c.ema + 0.30*0.5 + 0.20*0.5 + 0.10*0.5
			assert.InDelta(t, want, trendScore(nil, c.price, set), 1e-12)
		})
	}
}
