package report

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"marlin/internal/backtest"
	"marlin/internal/market"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEquity        = "#3b82f6"

	chartWidthPx   = 1600
	klineHeightPx  = 600
	equityHeightPx = 320
)

// Renderer 把一次 run 渲染为自包含的 HTML 报告：
// K 线 + 成交标注 + 资金曲线 + 绩效摘要。
type Renderer struct {
	results *backtest.ResultStore
	store   *backtest.Store
}

func NewRenderer(results *backtest.ResultStore, store *backtest.Store) *Renderer {
	return &Renderer{results: results, store: store}
}

func (r *Renderer) WriteRunReport(ctx context.Context, w io.Writer, runID string) error {
	run, err := r.results.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("加载 run %s: %w", runID, err)
	}
	trades, err := r.results.ListTrades(ctx, runID)
	if err != nil {
		return err
	}
	equity, err := r.results.ListEquity(ctx, runID)
	if err != nil {
		return err
	}
	var candles market.Candles
	if r.store != nil {
		candles, err = r.store.RangeCandles(ctx, run.Symbol, run.Timeframe, run.StartTS, run.EndTS)
		if err != nil {
			return err
		}
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = fmt.Sprintf("%s %s 回测报告", run.Symbol, run.Timeframe)

	if len(candles) > 0 {
		page.AddCharts(buildKlineChart(run, candles, trades))
	}
	page.AddCharts(buildEquityChart(run, equity))
	return page.Render(w)
}

func buildKlineChart(run backtest.Run, candles market.Candles, trades []backtest.TradeRecord) *charts.Kline {
	minPrice, maxPrice := priceBounds(candles)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", klineHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s %s", strings.ToUpper(run.Symbol), run.Timeframe),
			Subtitle:      metricsSubtitle(run.Metrics),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 4),
			Max:       round(maxPrice+padding, 4),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)

	xAxis := buildXAxis(candles)
	data := make([]opts.KlineData, 0, len(candles))
	for _, c := range candles {
		data = append(data, opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}})
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", data)
	kline.Overlap(buildTradeOverlay(xAxis, candles, trades))
	return kline
}

// buildTradeOverlay 把成交按时间落到对应 K 线的索引上：
// 入场落在收盘价下方标注方向，出场落在收盘价处。
func buildTradeOverlay(xAxis []string, candles market.Candles, trades []backtest.TradeRecord) *charts.Scatter {
	index := make(map[int64]int, len(candles))
	for i, c := range candles {
		index[c.Timestamp()] = i
	}
	entries := make([]opts.ScatterData, 0)
	exits := make([]opts.ScatterData, 0)
	for _, t := range trades {
		i, ok := index[t.Timestamp]
		if !ok {
			continue
		}
		point := opts.ScatterData{
			Value:      []interface{}{xAxis[i], round(t.Price, 4)},
			Symbol:     "triangle",
			SymbolSize: 12,
		}
		if t.Type == backtest.TradeTypeExit {
			point.Symbol = "diamond"
			exits = append(exits, point)
			continue
		}
		if t.Direction == backtest.DecisionSell {
			point.SymbolRotate = 180
		}
		entries = append(entries, point)
	}
	scatter := charts.NewScatter()
	scatter.AddSeries("Entry", entries, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBull}))
	scatter.AddSeries("Exit", exits, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBear}))
	return scatter
}

func buildEquityChart(run backtest.Run, points []backtest.EquityPoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", equityHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      "Equity",
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	// 资金曲线从初始资金出发，之后每笔平仓一个点。
	xAxis := make([]string, 0, len(points)+1)
	data := make([]opts.LineData, 0, len(points)+1)
	xAxis = append(xAxis, time.UnixMilli(run.StartTS).UTC().Format("01-02 15:04"))
	data = append(data, opts.LineData{Value: round(run.Config.InitialBalance, 2)})
	for _, pt := range points {
		xAxis = append(xAxis, time.UnixMilli(pt.TS).UTC().Format("01-02 15:04"))
		data = append(data, opts.LineData{Value: round(pt.Equity, 2)})
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Equity", data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func metricsSubtitle(m backtest.Metrics) string {
	return fmt.Sprintf("trades %d | win %.1f%% | maxDD %.1f%% | PF %.2f | sharpe %.2f | final %.2f",
		m.TotalTrades, m.WinRate, m.MaxDrawdown*100, m.ProfitFactor, m.SharpeRatio, m.FinalBalance)
}

func buildXAxis(candles market.Candles) []string {
	x := make([]string, len(candles))
	for i, c := range candles {
		x[i] = time.UnixMilli(c.Timestamp()).UTC().Format("01-02 15:04")
	}
	return x
}

func priceBounds(candles market.Candles) (minVal, maxVal float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	minVal, maxVal = candles[0].Low, candles[0].High
	for _, c := range candles {
		if c.Low < minVal {
			minVal = c.Low
		}
		if c.High > maxVal {
			maxVal = c.High
		}
	}
	return minVal, maxVal
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}
