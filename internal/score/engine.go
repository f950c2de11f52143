package score

import (
	"marlin/internal/indicator"
	"marlin/internal/logger"
	"marlin/internal/market"
)

// External 是注入评分的外部信号。情绪与结构分各自落在 [0,1]，
// 数据源不可用时调用方应传入中性值（0.5）。
type External struct {
	Sentiment float64
	Structure float64
	NewsHeavy bool
}

// NeutralExternal 返回全部中性的外部信号。
func NeutralExternal() External {
	return External{Sentiment: 0.5, Structure: 0.5}
}

// 技术面四个子分的固定权重。
const (
	weightTrend      = 0.35
	weightMomentum   = 0.35
	weightVolatility = 0.15
	weightVolume     = 0.15
)

// Engine 将价格/K 线序列归约为 [0,1] 的置信分。
// 无内部状态，可在多个 goroutine 间共享。
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Score 计算 symbol 在给定窗口末端的置信分。
// 空输入返回 0；指标计算中的任何意外失败也吞掉并返回 0，
// 保证回测循环不会因为一根坏 K 线中断。
func (e *Engine) Score(prices []float64, candles market.Candles, symbol string, ext External) (result float64) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warnf("[score] %s 指标计算异常，回退为 0: %v", symbol, r)
			result = 0
		}
	}()
	if len(prices) == 0 || len(candles) == 0 {
		return 0
	}

	set := indicator.Compute(prices, candles)
	price := prices[len(prices)-1]

	technical := clamp01(weightTrend*trendScore(prices, price, set) +
		weightMomentum*momentumScore(set) +
		weightVolatility*volatilityScore(prices, price, set) +
		weightVolume*volumeScore(candles, price, set))

	regime := DetectRegime(candles, set.ATR, ext.NewsHeavy)
	w := regime.BlendWeights()

	sentiment := clamp01(ext.Sentiment)
	structure := clamp01(ext.Structure)
	return technical*w.Technical + sentiment*w.Sentiment + structure*w.Structure
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
