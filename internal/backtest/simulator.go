package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/score"
)

// Scorer 把价格/K 线窗口归约为 [0,1] 置信分。score.Engine 是生产实现。
type Scorer interface {
	Score(prices []float64, candles market.Candles, symbol string, ext score.External) float64
}

// Notifier 用于运行完成后的推送（Telegram 等）。
type Notifier interface {
	SendText(text string) error
}

// 评分前需要的最长指标窗口：max(RSI14, MACD26, EMA50, SMA200)。
const warmupBars = 200

type SimulatorConfig struct {
	CandleStore   *Store
	ResultStore   *ResultStore
	Fetcher       *Service
	Scorer        Scorer
	External      score.External
	Notifier      Notifier
	Presets       *PresetRegistry // 可选
	MaxConcurrent int
}

// Simulator 负责将历史 K 线推演为成交日志与绩效指标。
// 每个 symbol 的资金、持仓、日志互相独立，可安全并行。
type Simulator struct {
	store    *Store
	results  *ResultStore
	fetcher  *Service
	scorer   Scorer
	external score.External
	notifier Notifier
	presets  *PresetRegistry

	maxConcurrent int
	baseCtx       context.Context
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.CandleStore == nil {
		return nil, fmt.Errorf("candle store 不能为空")
	}
	if cfg.ResultStore == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	if cfg.Scorer == nil {
		return nil, fmt.Errorf("scorer 不能为空")
	}
	ext := cfg.External
	if ext == (score.External{}) {
		ext = score.NeutralExternal()
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Simulator{
		store:         cfg.CandleStore,
		results:       cfg.ResultStore,
		fetcher:       cfg.Fetcher,
		scorer:        cfg.Scorer,
		external:      ext,
		notifier:      cfg.Notifier,
		presets:       cfg.Presets,
		maxConcurrent: maxConcurrent,
		baseCtx:       context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *Simulator) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Simulator) ctx() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

// StartRun 校验请求并为每个 symbol 建立一条 run，后台并行推演。
// 配置错误在这里直接拒绝，模拟一旦开始就不再因参数问题中断。
func (s *Simulator) StartRun(req RunRequest) ([]Run, error) {
	symbols := req.Symbols
	if len(symbols) == 0 {
		if req.Symbol == "" {
			return nil, fmt.Errorf("symbol 不能为空")
		}
		symbols = []string{req.Symbol}
	}
	tfName := req.Timeframe
	if tfName == "" {
		tfName = "1h"
	}
	tf, err := ParseTimeframe(tfName)
	if err != nil {
		return nil, err
	}
	start, end := tf.AlignRange(req.StartTS, req.EndTS)
	if start <= 0 || end <= 0 || end <= start {
		return nil, fmt.Errorf("start/end 非法")
	}
	base := DefaultBotConfig()
	if req.Preset != "" {
		if s.presets == nil {
			return nil, fmt.Errorf("preset %q: 未配置参数模板文件", req.Preset)
		}
		p, ok := s.presets.Get(req.Preset)
		if !ok {
			return nil, fmt.Errorf("未知 preset: %s", req.Preset)
		}
		base = p.BotConfig()
	}
	cfg := req.Overlay(base)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置无效: %w", err)
	}

	runs := make([]Run, 0, len(symbols))
	for _, sym := range symbols {
		run := Run{
			ID:        uuid.NewString(),
			Symbol:    strings.ToUpper(strings.TrimSpace(sym)),
			Timeframe: tf.Key,
			Status:    RunStatusPending,
			StartTS:   start,
			EndTS:     end,
			Config:    cfg,
			Metrics:   Metrics{FinalBalance: cfg.InitialBalance},
		}
		if run.Symbol == "" {
			return nil, fmt.Errorf("symbol 不能为空")
		}
		if err := s.results.InsertRun(s.ctx(), run); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	go s.runBatch(runs, tf, cfg)
	return runs, nil
}

func (s *Simulator) runBatch(runs []Run, tf Timeframe, cfg BotConfig) {
	group, ctx := errgroup.WithContext(s.ctx())
	group.SetLimit(s.maxConcurrent)
	for _, run := range runs {
		run := run
		group.Go(func() error {
			if err := s.runOne(ctx, run, tf, cfg); err != nil {
				logger.Warnf("[backtest] run %s 失败: %v", run.ID, err)
				_ = s.results.UpdateRunStatus(ctx, run.ID, RunStatusFailed, err.Error())
			}
			return nil
		})
	}
	_ = group.Wait()
}

func (s *Simulator) runOne(ctx context.Context, run Run, tf Timeframe, cfg BotConfig) error {
	if err := s.results.UpdateRunStatus(ctx, run.ID, RunStatusRunning, "准备数据…"); err != nil {
		logger.Debugf("update run status failed: %v", err)
	}
	warmStart := run.StartTS - int64(warmupBars)*tf.durationMillis()
	if warmStart < 0 {
		warmStart = 0
	}
	if err := s.ensureData(ctx, run, tf, warmStart); err != nil {
		return err
	}
	candles, err := s.store.RangeCandles(ctx, run.Symbol, tf.Key, warmStart, run.EndTS)
	if err != nil {
		return err
	}
	if len(candles) <= warmupBars {
		return fmt.Errorf("%s %s warmup 数据不足: 只有 %d 条，需要 > %d",
			run.Symbol, tf.Key, len(candles), warmupBars)
	}

	result := Simulate(run.Symbol, candles, cfg, s.scorer, s.external)

	for i := range result.Trades {
		result.Trades[i].RunID = run.ID
		if _, err := s.results.InsertTrade(ctx, &result.Trades[i]); err != nil {
			logger.Warnf("[backtest] run %s 记录成交失败: %v", run.ID, err)
		}
	}
	for _, pt := range result.Equity {
		pt.RunID = run.ID
		if _, err := s.results.InsertEquityPoint(ctx, pt); err != nil {
			logger.Warnf("[backtest] run %s 写入资金曲线失败: %v", run.ID, err)
		}
	}
	if err := s.results.UpdateRunSummary(ctx, run.ID, RunStatusDone, result.Metrics, "完成"); err != nil {
		return err
	}
	s.notify(run, result.Metrics)
	return nil
}

func (s *Simulator) ensureData(ctx context.Context, run Run, tf Timeframe, warmStart int64) error {
	report, err := s.store.CheckIntegrity(ctx, run.Symbol, tf.Key, tf, warmStart, run.EndTS)
	if err != nil {
		return err
	}
	if report.Complete() {
		return nil
	}
	if s.fetcher == nil {
		return fmt.Errorf("%s %s 数据缺失（%d 段），未配置拉取服务", run.Symbol, tf.Key, len(report.Gaps))
	}
	job, err := s.fetcher.SubmitFetch(FetchParams{
		Symbol:    run.Symbol,
		Timeframe: tf.Key,
		Start:     warmStart,
		End:       run.EndTS,
	})
	if err != nil {
		return err
	}
	return s.waitFetchJob(ctx, run.ID, job)
}

func (s *Simulator) waitFetchJob(ctx context.Context, runID string, job FetchJob) error {
	if job.Status == JobStatusDone {
		return nil
	}
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap, ok := s.fetcher.JobSnapshot(job.ID)
			if !ok {
				continue
			}
			if snap.Total > 0 {
				percent := float64(snap.Completed) / float64(snap.Total) * 100
				msg := fmt.Sprintf("下载 %s %s: %.1f%%", snap.Params.Symbol, snap.Params.Timeframe, percent)
				if err := s.results.UpdateRunStatus(ctx, runID, RunStatusRunning, msg); err != nil {
					logger.Debugf("update run status failed: %v", err)
				}
			}
			switch snap.Status {
			case JobStatusDone:
				return nil
			case JobStatusFailed:
				return fmt.Errorf("下载 %s %s 失败: %s", snap.Params.Symbol, snap.Params.Timeframe, snap.Message)
			case JobStatusPartial:
				return fmt.Errorf("下载 %s %s 未完成，缺口=%d", snap.Params.Symbol, snap.Params.Timeframe, len(snap.Missing))
			}
		}
	}
}

func (s *Simulator) notify(run Run, m Metrics) {
	if s.notifier == nil {
		return
	}
	msg := fmt.Sprintf("*回测完成* ✅\n```\nid      : %s\nsymbol  : %s\ntrades  : %d\nwinrate : %.2f%%\nmaxDD   : %.2f%%\nsharpe  : %.2f\nfinal   : %.2f\n```\n",
		run.ID, run.Symbol, m.TotalTrades, m.WinRate, m.MaxDrawdown*100, m.SharpeRatio, m.FinalBalance)
	if err := s.notifier.SendText(msg); err != nil {
		logger.Warnf("回测通知失败: %v", err)
	}
}
