package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Sentiment.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if strings.TrimSpace(m.RESTBaseURL) == "" {
		return fmt.Errorf("market.rest_base_url cannot be empty")
	}
	if m.RequestsPerSec <= 0 {
		return fmt.Errorf("market.requests_per_sec must be > 0")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.ConfidenceThreshold <= 0 || t.ConfidenceThreshold > 1 {
		return fmt.Errorf("trading.confidence_threshold must be in (0,1], got %v", t.ConfidenceThreshold)
	}
	if t.TradeAmountUSDT <= 0 {
		return fmt.Errorf("trading.trade_amount_usdt must be > 0")
	}
	if t.TakeProfitPercent <= 0 {
		return fmt.Errorf("trading.take_profit_percent must be > 0")
	}
	if t.StopLossPercent >= 0 {
		return fmt.Errorf("trading.stop_loss_percent must be < 0")
	}
	if t.TrailingStopPercent < 0 {
		return fmt.Errorf("trading.trailing_stop_percent must be >= 0")
	}
	if t.InitialBalance <= 0 {
		return fmt.Errorf("trading.initial_balance must be > 0")
	}
	switch strings.ToLower(strings.TrimSpace(t.EntryPolicy)) {
	case "single", "average", "flip":
	default:
		return fmt.Errorf("trading.entry_policy must be single/average/flip, got %q", t.EntryPolicy)
	}
	return nil
}

func (s *SentimentConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	if strings.TrimSpace(s.APIKey) == "" {
		return fmt.Errorf("sentiment.api_key is required when sentiment.enabled = true")
	}
	if strings.TrimSpace(s.Model) == "" {
		return fmt.Errorf("sentiment.model cannot be empty")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	t := n.Telegram
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.BotToken) == "" || strings.TrimSpace(t.ChatID) == "" {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}
