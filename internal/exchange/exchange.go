package exchange

import (
	"context"
	"time"
)

// 交易所侧只按核心需要的最小接口建模：拿价格、下单、查余额。
// 协议细节（签名、精度、撮合规则）不在本仓库范围内。

type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

type OrderRequest struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"` // BUY / SELL
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"` // 0 表示按最新价成交
}

type OrderResult struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Exchange 是实盘/模拟盘统一的执行接口。
type Exchange interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	GetBalance(ctx context.Context, asset string) (Balance, error)
}
