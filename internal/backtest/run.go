package backtest

import (
	"fmt"
	"time"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// 决策只有三种取值，由置信分映射而来。
const (
	DecisionBuy  = "BUY"
	DecisionSell = "SELL"
	DecisionHold = "HOLD"
)

// TradeRecord.Type 取值。
const (
	TradeTypeEntry = "entry"
	TradeTypeExit  = "exit"
)

// BotConfig 是驱动一次模拟的全部参数。
type BotConfig struct {
	AIConfidenceThreshold float64 `json:"ai_confidence_threshold"`
	TradeAmountUSDT       float64 `json:"trade_amount_usdt"`
	TakeProfitPercent     float64 `json:"take_profit_percent"`
	StopLossPercent       float64 `json:"stop_loss_percent"` // 负值
	TrailingStopPercent   float64 `json:"trailing_stop_percent"`
	InitialBalance        float64 `json:"initial_balance"`
}

// DefaultBotConfig 返回与线上默认一致的参数。
func DefaultBotConfig() BotConfig {
	return BotConfig{
		AIConfidenceThreshold: 0.65,
		TradeAmountUSDT:       100,
		TakeProfitPercent:     2.0,
		StopLossPercent:       -1.5,
		TrailingStopPercent:   0.5,
		InitialBalance:        10000,
	}
}

// Validate 在模拟启动前拒绝非法配置；运行中不再检查。
func (c BotConfig) Validate() error {
	if c.AIConfidenceThreshold <= 0 || c.AIConfidenceThreshold > 1 {
		return fmt.Errorf("ai_confidence_threshold 需在 (0,1]，当前 %v", c.AIConfidenceThreshold)
	}
	if c.TradeAmountUSDT <= 0 {
		return fmt.Errorf("trade_amount_usdt 需为正，当前 %v", c.TradeAmountUSDT)
	}
	if c.TakeProfitPercent <= 0 {
		return fmt.Errorf("take_profit_percent 需为正，当前 %v", c.TakeProfitPercent)
	}
	if c.StopLossPercent >= 0 {
		return fmt.Errorf("stop_loss_percent 需为负，当前 %v", c.StopLossPercent)
	}
	if c.TrailingStopPercent < 0 {
		return fmt.Errorf("trailing_stop_percent 不能为负，当前 %v", c.TrailingStopPercent)
	}
	if c.InitialBalance <= 0 {
		return fmt.Errorf("initial_balance 需为正，当前 %v", c.InitialBalance)
	}
	return nil
}

// TradeRecord 是只追加的成交日志条目，写入后不再修改。
type TradeRecord struct {
	ID             int64   `json:"id"`
	RunID          string  `json:"run_id"`
	Type           string  `json:"type"` // entry / exit
	Symbol         string  `json:"symbol"`
	Price          float64 `json:"price"`
	Quantity       float64 `json:"quantity"`
	Confidence     float64 `json:"confidence"`
	Direction      string  `json:"direction"` // BUY / SELL
	Timestamp      int64   `json:"timestamp"` // Unix ms
	ExitReason     string  `json:"exit_reason,omitempty"`
	PnLPercent     float64 `json:"pnl_percent,omitempty"`
	ProfitLossUSDT float64 `json:"profit_loss_usdt,omitempty"`
}

// Metrics 在一次运行结束后从完整成交日志聚合，只读。
type Metrics struct {
	TotalTrades        int     `json:"total_trades"`
	WinningTrades      int     `json:"winning_trades"`
	LosingTrades       int     `json:"losing_trades"`
	WinRate            float64 `json:"win_rate"` // 百分比
	MaxDrawdown        float64 `json:"max_drawdown"`
	AvgRiskRewardRatio float64 `json:"avg_risk_reward_ratio"`
	ProfitFactor       float64 `json:"profit_factor"`
	SharpeRatio        float64 `json:"sharpe_ratio"`
	FinalBalance       float64 `json:"final_balance"`
	TotalProfitUSDT    float64 `json:"total_profit_usdt"`
}

// Run 表示一次模拟任务。
type Run struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Timeframe   string    `json:"timeframe"`
	Status      string    `json:"status"`
	StartTS     int64     `json:"start_ts"`
	EndTS       int64     `json:"end_ts"`
	Message     string    `json:"message"`
	Config      BotConfig `json:"config"`
	Metrics     Metrics   `json:"metrics"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// EquityPoint 是资金曲线上的一个点（每笔平仓追加一次）。
type EquityPoint struct {
	ID     int64   `json:"id"`
	RunID  string  `json:"run_id"`
	TS     int64   `json:"ts"`
	Equity float64 `json:"equity"`
}

// RunRequest 为 HTTP 提交使用。
type RunRequest struct {
	Symbol    string   `json:"symbol"`
	Symbols   []string `json:"symbols"` // 多币种并行时使用；与 Symbol 二选一
	Timeframe string   `json:"timeframe"`
	Preset    string   `json:"preset"` // 参数模板名，空则用默认参数
	StartTS   int64    `json:"start_ts" binding:"required"`
	EndTS     int64    `json:"end_ts" binding:"required"`

	AIConfidenceThreshold float64 `json:"ai_confidence_threshold"`
	TradeAmountUSDT       float64 `json:"trade_amount_usdt"`
	TakeProfitPercent     float64 `json:"take_profit_percent"`
	StopLossPercent       float64 `json:"stop_loss_percent"`
	TrailingStopPercent   float64 `json:"trailing_stop_percent"`
	InitialBalance        float64 `json:"initial_balance"`
}

// BotConfigOrDefault 合并请求中的覆盖项与默认参数。
// 显式传入的字段覆盖默认值，零值视为未填。
func (r RunRequest) BotConfigOrDefault() BotConfig {
	return r.Overlay(DefaultBotConfig())
}

// Overlay 把请求中的覆盖项叠加到给定基础参数（通常来自 preset）之上。
func (r RunRequest) Overlay(cfg BotConfig) BotConfig {
	if r.AIConfidenceThreshold != 0 {
		cfg.AIConfidenceThreshold = r.AIConfidenceThreshold
	}
	if r.TradeAmountUSDT != 0 {
		cfg.TradeAmountUSDT = r.TradeAmountUSDT
	}
	if r.TakeProfitPercent != 0 {
		cfg.TakeProfitPercent = r.TakeProfitPercent
	}
	if r.StopLossPercent != 0 {
		cfg.StopLossPercent = r.StopLossPercent
	}
	if r.TrailingStopPercent != 0 {
		cfg.TrailingStopPercent = r.TrailingStopPercent
	}
	if r.InitialBalance != 0 {
		cfg.InitialBalance = r.InitialBalance
	}
	return cfg
}
