package config

import "strings"

// 默认值常量
const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":9991"
	defaultAppLogPath       = "/data/logs/marlin.log"
	defaultAppLLMLogPath    = "/data/logs/marlin-llm.log"
	defaultMarketREST       = "https://fapi.binance.com"
	defaultMarketTimeout    = 15
	defaultMarketRPS        = 5.0
	defaultMarketBatch      = 1000
	defaultCandleDir        = "/data/candles"
	defaultResultsPath      = "/data/db/backtest.db"
	defaultThreshold        = 0.65
	defaultTradeAmount      = 100.0
	defaultTakeProfit       = 2.0
	defaultStopLoss         = -1.5
	defaultTrailingStop     = 0.5
	defaultInitialBalance   = 10000.0
	defaultEntryPolicy      = "single"
	defaultMaxConcurrent    = 2
	defaultSentimentAPI     = "https://openrouter.ai/api/v1"
	defaultSentimentModel   = "deepseek/deepseek-chat"
	defaultSentimentTimeout = 60
	defaultSentimentRetries = 2
	defaultSentimentCache   = 128
	defaultSentimentBucket  = 300
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Sentiment.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.llm_log_path", &a.LLMLog, defaultAppLLMLogPath),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		fieldDefault{
			key:   "market.timeout_seconds",
			need:  func() bool { return m.TimeoutSeconds <= 0 },
			apply: func() { m.TimeoutSeconds = defaultMarketTimeout },
		},
		fieldDefault{
			key:   "market.requests_per_sec",
			need:  func() bool { return m.RequestsPerSec <= 0 },
			apply: func() { m.RequestsPerSec = defaultMarketRPS },
		},
		fieldDefault{
			key:   "market.batch_limit",
			need:  func() bool { return m.BatchLimit <= 0 },
			apply: func() { m.BatchLimit = defaultMarketBatch },
		},
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.candle_dir", &d.CandleDir, defaultCandleDir),
		stringFieldDefault("data.results_path", &d.ResultsPath, defaultResultsPath),
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("trading.timeframe", &t.Timeframe, "1h"),
		fieldDefault{
			key:   "trading.poll_seconds",
			need:  func() bool { return t.PollSeconds <= 0 },
			apply: func() { t.PollSeconds = 60 },
		},
		fieldDefault{
			key:   "trading.confidence_threshold",
			need:  func() bool { return t.ConfidenceThreshold <= 0 },
			apply: func() { t.ConfidenceThreshold = defaultThreshold },
		},
		fieldDefault{
			key:   "trading.trade_amount_usdt",
			need:  func() bool { return t.TradeAmountUSDT <= 0 },
			apply: func() { t.TradeAmountUSDT = defaultTradeAmount },
		},
		fieldDefault{
			key:   "trading.take_profit_percent",
			need:  func() bool { return t.TakeProfitPercent <= 0 },
			apply: func() { t.TakeProfitPercent = defaultTakeProfit },
		},
		fieldDefault{
			key:   "trading.stop_loss_percent",
			need:  func() bool { return t.StopLossPercent >= 0 },
			apply: func() { t.StopLossPercent = defaultStopLoss },
		},
		fieldDefault{
			key:   "trading.trailing_stop_percent",
			need:  func() bool { return t.TrailingStopPercent < 0 },
			apply: func() { t.TrailingStopPercent = defaultTrailingStop },
		},
		fieldDefault{
			key:   "trading.initial_balance",
			need:  func() bool { return t.InitialBalance <= 0 },
			apply: func() { t.InitialBalance = defaultInitialBalance },
		},
		stringFieldDefault("trading.entry_policy", &t.EntryPolicy, defaultEntryPolicy),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "backtest.max_concurrent",
			need:  func() bool { return b.MaxConcurrent <= 0 },
			apply: func() { b.MaxConcurrent = defaultMaxConcurrent },
		},
	)
}

func (s *SentimentConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("sentiment.api_url", &s.APIURL, defaultSentimentAPI),
		stringFieldDefault("sentiment.model", &s.Model, defaultSentimentModel),
		fieldDefault{
			key:   "sentiment.timeout_seconds",
			need:  func() bool { return s.TimeoutSeconds <= 0 },
			apply: func() { s.TimeoutSeconds = defaultSentimentTimeout },
		},
		fieldDefault{
			key:   "sentiment.max_retries",
			need:  func() bool { return s.MaxRetries < 0 },
			apply: func() { s.MaxRetries = defaultSentimentRetries },
		},
		fieldDefault{
			key:   "sentiment.cache_size",
			need:  func() bool { return s.CacheSize <= 0 },
			apply: func() { s.CacheSize = defaultSentimentCache },
		},
		fieldDefault{
			key:   "sentiment.bucket_seconds",
			need:  func() bool { return s.BucketSeconds <= 0 },
			apply: func() { s.BucketSeconds = defaultSentimentBucket },
		},
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
