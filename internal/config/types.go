package config

import "strings"

// Config 是 Marlin 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Market    MarketConfig    `toml:"market"`
	Data      DataConfig      `toml:"data"`
	Trading   TradingConfig   `toml:"trading"`
	Backtest  BacktestConfig  `toml:"backtest"`
	Sentiment SentimentConfig `toml:"sentiment"`
	Notify    NotifyConfig    `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
	LLMLog   string `toml:"llm_log_path"`
	LLMDump  bool   `toml:"llm_dump_payload"`
}

// MarketConfig 描述 K 线数据源的访问方式。
type MarketConfig struct {
	RESTBaseURL    string  `toml:"rest_base_url"`
	ProxyURL       string  `toml:"proxy_url"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RequestsPerSec float64 `toml:"requests_per_sec"`
	BatchLimit     int     `toml:"batch_limit"`
}

// DataConfig 指定落盘位置。
type DataConfig struct {
	CandleDir   string `toml:"candle_dir"`
	ResultsPath string `toml:"results_path"`
}

// TradingConfig 是决策与仓位的默认参数，可被单次回测请求覆盖。
// Symbols 非空时启动纸面交易循环。
type TradingConfig struct {
	Symbols     []string `toml:"symbols"`
	Timeframe   string   `toml:"timeframe"`
	PollSeconds int      `toml:"poll_seconds"`

	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	TradeAmountUSDT     float64 `toml:"trade_amount_usdt"`
	TakeProfitPercent   float64 `toml:"take_profit_percent"`
	StopLossPercent     float64 `toml:"stop_loss_percent"` // 负值
	TrailingStopPercent float64 `toml:"trailing_stop_percent"`
	InitialBalance      float64 `toml:"initial_balance"`
	EntryPolicy         string  `toml:"entry_policy"` // single | average | flip
}

type BacktestConfig struct {
	MaxConcurrent int    `toml:"max_concurrent"`
	PresetsPath   string `toml:"presets_path"` // 可选，参数模板文件
}

// SentimentConfig 描述情绪分析使用的 LLM 接入点。
type SentimentConfig struct {
	Enabled        bool   `toml:"enabled"`
	APIURL         string `toml:"api_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
	CacheSize      int    `toml:"cache_size"`
	BucketSeconds  int    `toml:"bucket_seconds"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
