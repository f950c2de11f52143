package sentiment

import "context"

// AnalysisResult 是 LLM 情绪分析输出的标准化结构。
// 边界处严格校验，解析失败统一退回 NeutralResult。
type AnalysisResult struct {
	Sentiment  float64 `json:"sentiment"`  // [0,1]，0.5 为中性
	Action     string  `json:"action"`     // buy / sell / hold
	Confidence float64 `json:"confidence"` // [0,1]
	Reasoning  string  `json:"reasoning,omitempty"`
}

// NeutralResult 返回定义良好的"空"分析结果。
func NeutralResult() AnalysisResult {
	return AnalysisResult{Sentiment: 0.5, Action: "hold"}
}

// Provider 是评分引擎眼中的情绪预言机：可能不可用，调用方需兜底。
type Provider interface {
	Analyze(ctx context.Context, symbol, prompt string) (AnalysisResult, error)
}
