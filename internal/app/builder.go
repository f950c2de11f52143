package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marlin/internal/backtest"
	"marlin/internal/config"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/notifier"
	"marlin/internal/paper"
	"marlin/internal/report"
	"marlin/internal/score"
	"marlin/internal/sentiment"
)

// AppBuilder 把配置翻译成装配好的 App。构建过程只创建对象，
// 不触发网络请求，失败即报错不留半成品。
type AppBuilder struct {
	watcher *config.Watcher
}

func NewAppBuilder(watcher *config.Watcher) *AppBuilder {
	return &AppBuilder{watcher: watcher}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	snap := b.watcher.Snapshot()
	cfg := snap.Config

	source, err := market.NewBinanceSource(market.BinanceConfig{
		RESTBaseURL: cfg.Market.RESTBaseURL,
		ProxyURL:    cfg.Market.ProxyURL,
		HTTPTimeout: time.Duration(cfg.Market.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("构建行情源失败: %w", err)
	}

	store, err := backtest.NewStore(cfg.Data.CandleDir)
	if err != nil {
		return nil, fmt.Errorf("构建 candle store 失败: %w", err)
	}
	results, err := backtest.NewResultStore(cfg.Data.ResultsPath)
	if err != nil {
		return nil, fmt.Errorf("构建 result store 失败: %w", err)
	}
	svc, err := backtest.NewService(store, source, backtest.ServiceConfig{
		MaxConcurrent:  cfg.Backtest.MaxConcurrent,
		RequestsPerSec: cfg.Market.RequestsPerSec,
		BatchLimit:     cfg.Market.BatchLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("构建拉取服务失败: %w", err)
	}

	var push notifier.TextNotifier = notifier.Noop{}
	if cfg.Notify.Telegram.Enabled {
		push = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}

	var presets *backtest.PresetRegistry
	if strings.TrimSpace(cfg.Backtest.PresetsPath) != "" {
		presets, err = backtest.NewPresetRegistry(cfg.Backtest.PresetsPath)
		if err != nil {
			return nil, fmt.Errorf("加载参数模板失败: %w", err)
		}
	}

	scorer := score.NewEngine()
	sim, err := backtest.NewSimulator(backtest.SimulatorConfig{
		CandleStore:   store,
		ResultStore:   results,
		Fetcher:       svc,
		Scorer:        scorer,
		Notifier:      push,
		Presets:       presets,
		MaxConcurrent: cfg.Backtest.MaxConcurrent,
	})
	if err != nil {
		return nil, fmt.Errorf("构建模拟器失败: %w", err)
	}

	server, err := backtest.NewHTTPServer(backtest.HTTPConfig{
		Addr:      cfg.App.HTTPAddr,
		Svc:       svc,
		Simulator: sim,
		Store:     store,
		Results:   results,
		Reporter:  report.NewRenderer(results, store),
		Presets:   presets,
	})
	if err != nil {
		return nil, fmt.Errorf("构建 HTTP 服务失败: %w", err)
	}

	app := &App{
		cfg:     &cfg,
		watcher: b.watcher,
		backtest: &BacktestService{
			store:   store,
			results: results,
			svc:     svc,
			sim:     sim,
			server:  server,
		},
	}

	paperSvc, err := b.buildPaperService(cfg, source, store, scorer, push)
	if err != nil {
		return nil, err
	}
	app.paper = paperSvc
	return app, nil
}

// buildPaperService 按配置组装纸面交易循环；未配置 symbols 时返回 nil。
func (b *AppBuilder) buildPaperService(cfg config.Config, source *market.BinanceSource,
	store *backtest.Store, scorer backtest.Scorer, push notifier.TextNotifier) (*PaperService, error) {
	symbols := make([]string, 0, len(cfg.Trading.Symbols))
	for _, s := range cfg.Trading.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		return nil, nil
	}
	tf, err := backtest.ParseTimeframe(cfg.Trading.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("trading.timeframe 无效: %w", err)
	}
	policy, err := paper.ParsePolicy(cfg.Trading.EntryPolicy)
	if err != nil {
		return nil, fmt.Errorf("trading.entry_policy 无效: %w", err)
	}
	book := paper.NewBook(policy)
	exch := paper.NewExchange(book, func(ctx context.Context, symbol string) (float64, error) {
		return source.LastPrice(ctx, symbol)
	}, cfg.Trading.InitialBalance)

	var senti *sentiment.Service
	if cfg.Sentiment.Enabled {
		client := &sentiment.ChatClient{
			BaseURL:    cfg.Sentiment.APIURL,
			APIKey:     cfg.Sentiment.APIKey,
			Model:      cfg.Sentiment.Model,
			Timeout:    time.Duration(cfg.Sentiment.TimeoutSeconds) * time.Second,
			MaxRetries: cfg.Sentiment.MaxRetries,
		}
		senti = sentiment.NewService(client, cfg.Sentiment.CacheSize,
			time.Duration(cfg.Sentiment.BucketSeconds)*time.Second)
		logger.Infof("[app] 情绪分析启用: model=%s", cfg.Sentiment.Model)
	}

	return &PaperService{
		watcher: b.watcher,
		source:  source,
		store:   store,
		scorer:  scorer,
		senti:   senti,
		book:    book,
		exch:    exch,
		notify:  push,
		symbols: symbols,
		tf:      tf,
		poll:    time.Duration(cfg.Trading.PollSeconds) * time.Second,
	}, nil
}
