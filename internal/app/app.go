package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"marlin/internal/config"
	"marlin/internal/logger"
)

// App 负责应用级编排：加载配置→初始化依赖→启动回测 API 与纸面交易。
type App struct {
	cfg      *config.Config
	watcher  *config.Watcher
	backtest *BacktestService
	paper    *PaperService
}

// NewApp 根据配置监听器构建应用对象（不启动）。
func NewApp(watcher *config.Watcher) (*App, error) {
	if watcher == nil {
		return nil, fmt.Errorf("nil config watcher")
	}
	snap := watcher.Snapshot()
	logger.SetLevel(snap.Config.App.LogLevel)
	return buildAppWithWire(context.Background(), watcher)
}

// Run 启动各服务，阻塞到 ctx 取消或某个服务出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.backtest != nil {
		a.backtest.Start(ctx)
		defer a.backtest.Close()
		group.Go(func() error {
			if err := a.backtest.Serve(ctx); err != nil {
				return fmt.Errorf("backtest http server error: %w", err)
			}
			return nil
		})
	}
	if a.paper != nil {
		group.Go(func() error {
			return a.paper.Run(ctx)
		})
	}
	return group.Wait()
}
