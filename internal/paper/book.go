package paper

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// EntryPolicy 决定同一 symbol 已有持仓时的开仓行为。
// 回测走 single（一仓一出），模拟盘可以配置 average / flip。
type EntryPolicy string

const (
	PolicySingle  EntryPolicy = "single"  // 已有持仓则拒绝
	PolicyAverage EntryPolicy = "average" // 同向加仓摊平成本，反向拒绝
	PolicyFlip    EntryPolicy = "flip"    // 同向摊平，反向先平后反手
)

func ParsePolicy(s string) (EntryPolicy, error) {
	switch EntryPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicySingle, "":
		return PolicySingle, nil
	case PolicyAverage:
		return PolicyAverage, nil
	case PolicyFlip:
		return PolicyFlip, nil
	default:
		return "", fmt.Errorf("未知 entry policy: %s", s)
	}
}

// Position 是簿记层的持仓快照。
type Position struct {
	Symbol       string    `json:"symbol"`
	Direction    string    `json:"direction"` // BUY / SELL
	EntryPrice   float64   `json:"entry_price"`
	Quantity     float64   `json:"quantity"`
	TrailingStop float64   `json:"trailing_stop"`
	OpenedAt     time.Time `json:"opened_at"`
}

// OpenResult 返回开仓后的仓位；flip 时附带被平掉的旧仓。
type OpenResult struct {
	Position Position
	Closed   *Position
}

// Book 按 symbol 管理持仓，每个 symbol 至多一笔。
// 所有状态由构造方持有，不做包级单例。
type Book struct {
	policy EntryPolicy

	mu        sync.Mutex
	positions map[string]*Position
}

func NewBook(policy EntryPolicy) *Book {
	if policy == "" {
		policy = PolicySingle
	}
	return &Book{
		policy:    policy,
		positions: make(map[string]*Position),
	}
}

func (b *Book) Policy() EntryPolicy { return b.policy }

// Open 按策略开仓或加仓。加权均价用 decimal 计算，避免长时间加仓后的浮点漂移。
func (b *Book) Open(symbol, direction string, price, qty float64, at time.Time) (OpenResult, error) {
	if price <= 0 || qty <= 0 {
		return OpenResult{}, fmt.Errorf("price/qty 必须为正")
	}
	direction = strings.ToUpper(direction)
	if direction != "BUY" && direction != "SELL" {
		return OpenResult{}, fmt.Errorf("未知方向: %s", direction)
	}
	symbol = strings.ToUpper(symbol)

	b.mu.Lock()
	defer b.mu.Unlock()
	existing := b.positions[symbol]
	if existing == nil {
		pos := &Position{
			Symbol:     symbol,
			Direction:  direction,
			EntryPrice: price,
			Quantity:   qty,
			OpenedAt:   at,
		}
		b.positions[symbol] = pos
		return OpenResult{Position: *pos}, nil
	}

	switch {
	case b.policy == PolicySingle:
		return OpenResult{}, fmt.Errorf("%s 已有持仓", symbol)
	case existing.Direction == direction:
		// 同向加仓：摊平入场价
		oldCost := decimal.NewFromFloat(existing.EntryPrice).Mul(decimal.NewFromFloat(existing.Quantity))
		addCost := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(qty))
		totalQty := decimal.NewFromFloat(existing.Quantity).Add(decimal.NewFromFloat(qty))
		existing.EntryPrice = oldCost.Add(addCost).Div(totalQty).InexactFloat64()
		existing.Quantity = totalQty.InexactFloat64()
		existing.TrailingStop = 0
		return OpenResult{Position: *existing}, nil
	case b.policy == PolicyFlip:
		closed := *existing
		pos := &Position{
			Symbol:     symbol,
			Direction:  direction,
			EntryPrice: price,
			Quantity:   qty,
			OpenedAt:   at,
		}
		b.positions[symbol] = pos
		return OpenResult{Position: *pos, Closed: &closed}, nil
	default:
		return OpenResult{}, fmt.Errorf("%s 持有反向仓位，当前策略不允许反手", symbol)
	}
}

// Close 平掉 symbol 的持仓并返回其快照。
func (b *Book) Close(symbol string) (Position, error) {
	symbol = strings.ToUpper(symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	pos := b.positions[symbol]
	if pos == nil {
		return Position{}, fmt.Errorf("%s 无持仓", symbol)
	}
	delete(b.positions, symbol)
	return *pos, nil
}

// Get 返回 symbol 持仓快照。
func (b *Book) Get(symbol string) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos := b.positions[strings.ToUpper(symbol)]
	if pos == nil {
		return Position{}, false
	}
	return *pos, true
}

// SetTrailingStop 更新 symbol 的移动止损价。
func (b *Book) SetTrailingStop(symbol string, stop float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pos := b.positions[strings.ToUpper(symbol)]; pos != nil {
		pos.TrailingStop = stop
	}
}

// Snapshot 返回全部持仓快照。
func (b *Book) Snapshot() []Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	return out
}
