package app

import (
	"context"
	"fmt"
	"time"

	"marlin/internal/backtest"
	"marlin/internal/config"
	"marlin/internal/exchange"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/notifier"
	"marlin/internal/paper"
	"marlin/internal/score"
	"marlin/internal/sentiment"
)

// PaperService 是纸面交易循环：真实行情、虚拟资金。
// 每个轮询周期拉最新 K 线，评分、管理持仓退出、按需开仓。
// 决策参数每轮从配置快照读取，支持热更新。
type PaperService struct {
	watcher *config.Watcher
	source  *market.BinanceSource
	store   *backtest.Store
	scorer  backtest.Scorer
	senti   *sentiment.Service
	book    *paper.Book
	exch    *paper.Exchange
	notify  notifier.TextNotifier

	symbols []string
	tf      backtest.Timeframe
	poll    time.Duration
}

// 评分需要的最少历史根数（指标窗口 + 当前根）。
const paperHistoryBars = 260

func (p *PaperService) Run(ctx context.Context) error {
	if len(p.symbols) == 0 {
		<-ctx.Done()
		return nil
	}
	logger.Infof("[paper] 启动纸面交易: symbols=%v timeframe=%s poll=%s",
		p.symbols, p.tf.Key, p.poll)
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.step(ctx)
		}
	}
}

func (p *PaperService) step(ctx context.Context) {
	trading := p.watcher.Snapshot().Config.Trading
	for _, symbol := range p.symbols {
		if err := p.evalSymbol(ctx, symbol, trading); err != nil {
			logger.Warnf("[paper] %s 本轮处理失败: %v", symbol, err)
		}
	}
}

func (p *PaperService) evalSymbol(ctx context.Context, symbol string, trading config.TradingConfig) error {
	candles, err := p.source.Fetch(ctx, market.HistoryRequest{
		Symbol:   symbol,
		Interval: p.tf.SourceInterval,
		Limit:    paperHistoryBars,
	})
	if err != nil {
		return fmt.Errorf("拉取行情: %w", err)
	}
	if p.store != nil {
		if _, err := p.store.UpsertCandles(ctx, symbol, p.tf.Key, candles); err != nil {
			logger.Debugf("[paper] %s 回灌 candle store 失败: %v", symbol, err)
		}
	}
	if len(candles) <= 200 {
		logger.Debugf("[paper] %s 历史不足（%d 根），等待数据", symbol, len(candles))
		return nil
	}
	window := market.Candles(candles)
	lastBar, _ := window.Last()
	lastClose := lastBar.Close

	if closed := p.manageExit(ctx, symbol, lastClose, trading); closed {
		return nil
	}

	ext := score.NeutralExternal()
	if p.senti != nil {
		res, err := p.senti.Analyze(ctx, symbol, sentiment.BuildPrompt(symbol, window))
		if err != nil {
			logger.Warnf("[paper] %s 情绪分析失败，使用中性值: %v", symbol, err)
		}
		ext.Sentiment = res.Sentiment
	}
	confidence := p.scorer.Score(window.Closes(), window, symbol, ext)
	decision := backtest.Decide(confidence, trading.ConfidenceThreshold)
	if decision == backtest.DecisionHold {
		return nil
	}
	if _, held := p.book.Get(symbol); held && p.book.Policy() == paper.PolicySingle {
		return nil
	}

	qty := trading.TradeAmountUSDT / lastClose
	order, err := p.exch.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:   symbol,
		Side:     decision,
		Price:    lastClose,
		Quantity: qty,
	})
	if err != nil {
		logger.Warnf("[paper] %s 开仓失败: %v", symbol, err)
		return nil
	}
	logger.Infof("[paper] %s %s %.6f @ %.6f (conf=%.3f)",
		symbol, decision, order.Quantity, order.Price, confidence)
	p.push(fmt.Sprintf("*纸面开仓* %s %s\nqty %.6f @ %.6f\nconfidence %.3f",
		symbol, decision, order.Quantity, order.Price, confidence))
	return nil
}

// manageExit 按 TP → SL → 移动止损的顺序检查已有持仓。
// 平掉即返回 true，本轮不再开新仓。
func (p *PaperService) manageExit(ctx context.Context, symbol string, lastClose float64, trading config.TradingConfig) bool {
	pos, ok := p.book.Get(symbol)
	if !ok {
		return false
	}
	var pnlPct float64
	if pos.Direction == backtest.DecisionBuy {
		pnlPct = (lastClose - pos.EntryPrice) / pos.EntryPrice * 100
	} else {
		pnlPct = (pos.EntryPrice - lastClose) / pos.EntryPrice * 100
	}

	reason := ""
	switch {
	case pnlPct >= trading.TakeProfitPercent:
		reason = fmt.Sprintf("Take profit hit: %.2f%% >= %.2f%%", pnlPct, trading.TakeProfitPercent)
	case pnlPct <= trading.StopLossPercent:
		reason = fmt.Sprintf("Stop loss hit: %.2f%% <= %.2f%%", pnlPct, trading.StopLossPercent)
	default:
		if p.ratchetTrailing(symbol, pos, lastClose, trading.TrailingStopPercent) {
			reason = "Trailing stop hit"
		}
	}
	if reason == "" {
		return false
	}

	closed, pnl, err := p.exch.ClosePosition(ctx, symbol)
	if err != nil {
		logger.Warnf("[paper] %s 平仓失败: %v", symbol, err)
		return false
	}
	logger.Infof("[paper] %s 平仓 %s %.6f: %s，pnl=%.2f USDT",
		symbol, closed.Direction, closed.Quantity, reason, pnl)
	p.push(fmt.Sprintf("*纸面平仓* %s %s\n%s\npnl %.2f USDT", symbol, closed.Direction, reason, pnl))
	return true
}

// ratchetTrailing 只朝有利方向推进移动止损，0 为未激活哨兵。
func (p *PaperService) ratchetTrailing(symbol string, pos paper.Position, lastClose, trailPct float64) bool {
	if trailPct <= 0 {
		return false
	}
	stop := pos.TrailingStop
	if pos.Direction == backtest.DecisionBuy {
		candidate := lastClose * (1 - trailPct/100)
		if candidate > stop {
			stop = candidate
			p.book.SetTrailingStop(symbol, stop)
		}
		return stop != 0 && lastClose <= stop
	}
	candidate := lastClose * (1 + trailPct/100)
	if stop == 0 || candidate < stop {
		stop = candidate
		p.book.SetTrailingStop(symbol, stop)
	}
	return stop != 0 && lastClose >= stop
}

func (p *PaperService) push(text string) {
	if p.notify == nil {
		return
	}
	if err := p.notify.SendText(text); err != nil {
		logger.Warnf("[paper] 推送失败: %v", err)
	}
}
