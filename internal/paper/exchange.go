package paper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marlin/internal/exchange"
	"marlin/internal/logger"
)

// PriceFunc 提供最新价（通常由行情缓存回灌）。
type PriceFunc func(ctx context.Context, symbol string) (float64, error)

// Exchange 是纸面交易所：真实行情、虚拟资金。
// 开仓与平仓都以 USDT 计价占用/归还保证金，和回测的资金口径一致。
type Exchange struct {
	book  *Book
	price PriceFunc

	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

func NewExchange(book *Book, price PriceFunc, initialUSDT float64) *Exchange {
	balances := map[string]decimal.Decimal{
		"USDT": decimal.NewFromFloat(initialUSDT),
	}
	return &Exchange{book: book, price: price, balances: balances}
}

func (e *Exchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if e.price == nil {
		return 0, fmt.Errorf("price source 未配置")
	}
	return e.price(ctx, symbol)
}

func (e *Exchange) GetBalance(_ context.Context, asset string) (exchange.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	free := e.balances[strings.ToUpper(asset)]
	return exchange.Balance{Asset: strings.ToUpper(asset), Free: free.InexactFloat64()}, nil
}

// PlaceOrder 以最新价（或给定价）开仓。占用的保证金 = 数量×价格，买卖同样扣减。
func (e *Exchange) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	price := req.Price
	if price <= 0 {
		var err error
		price, err = e.GetPrice(ctx, req.Symbol)
		if err != nil {
			return exchange.OrderResult{}, err
		}
	}
	if req.Quantity <= 0 {
		return exchange.OrderResult{}, fmt.Errorf("quantity 必须为正")
	}
	stake := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(req.Quantity))

	e.mu.Lock()
	usdt := e.balances["USDT"]
	if usdt.LessThan(stake) {
		e.mu.Unlock()
		return exchange.OrderResult{}, fmt.Errorf("余额不足: 需要 %s，可用 %s", stake, usdt)
	}
	e.balances["USDT"] = usdt.Sub(stake)
	e.mu.Unlock()

	now := time.Now().UTC()
	result, err := e.book.Open(req.Symbol, req.Side, price, req.Quantity, now)
	if err != nil {
		// 回滚占用的保证金
		e.mu.Lock()
		e.balances["USDT"] = e.balances["USDT"].Add(stake)
		e.mu.Unlock()
		return exchange.OrderResult{}, err
	}
	if result.Closed != nil {
		e.credit(*result.Closed, price)
		logger.Infof("[paper] %s 反手：平掉 %s %.6f @ %.6f", req.Symbol,
			result.Closed.Direction, result.Closed.Quantity, price)
	}
	return exchange.OrderResult{
		ID:         uuid.NewString(),
		Symbol:     strings.ToUpper(req.Symbol),
		Side:       strings.ToUpper(req.Side),
		Price:      price,
		Quantity:   req.Quantity,
		ExecutedAt: now,
	}, nil
}

// ClosePosition 以最新价平仓并把名义价值归还余额。
func (e *Exchange) ClosePosition(ctx context.Context, symbol string) (Position, float64, error) {
	price, err := e.GetPrice(ctx, symbol)
	if err != nil {
		return Position{}, 0, err
	}
	pos, err := e.book.Close(symbol)
	if err != nil {
		return Position{}, 0, err
	}
	e.credit(pos, price)
	pnl := positionPnL(pos, price)
	return pos, pnl, nil
}

func (e *Exchange) credit(pos Position, price float64) {
	value := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(pos.Quantity))
	e.mu.Lock()
	e.balances["USDT"] = e.balances["USDT"].Add(value)
	e.mu.Unlock()
}

func positionPnL(pos Position, price float64) float64 {
	if pos.Direction == "SELL" {
		return (pos.EntryPrice - price) * pos.Quantity
	}
	return (price - pos.EntryPrice) * pos.Quantity
}
