package market

import "context"

// HistoryRequest 描述一次历史 K 线请求。
type HistoryRequest struct {
	Symbol   string
	Interval string
	Start    int64 // Unix ms
	End      int64 // Unix ms（0 表示不限制）
	Limit    int
}

// Source 统一不同交易所/数据源的历史拉取行为。
type Source interface {
	Fetch(ctx context.Context, req HistoryRequest) ([]Candle, error)
	Name() string
}
