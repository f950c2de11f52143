package app

import (
	"context"

	"marlin/internal/backtest"
)

// BacktestService 管理回测数据、服务与 HTTP 暴露。
type BacktestService struct {
	store   *backtest.Store
	results *backtest.ResultStore
	svc     *backtest.Service
	sim     *backtest.Simulator
	server  *backtest.HTTPServer
}

// Start 把宿主 ctx 绑定到后台任务，用于取消。
func (b *BacktestService) Start(ctx context.Context) {
	if b == nil {
		return
	}
	if b.svc != nil {
		b.svc.SetContext(ctx)
	}
	if b.sim != nil {
		b.sim.SetContext(ctx)
	}
}

// Serve 启动 HTTP 服务，阻塞直到 ctx 取消。
func (b *BacktestService) Serve(ctx context.Context) error {
	if b == nil || b.server == nil {
		<-ctx.Done()
		return nil
	}
	return b.server.Start(ctx)
}

// Close 释放回测相关资源。
func (b *BacktestService) Close() {
	if b == nil {
		return
	}
	if b.store != nil {
		_ = b.store.Close()
	}
}
