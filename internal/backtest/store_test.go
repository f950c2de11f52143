package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/market"
)

const hourMs = int64(3_600_000)

func gridCandles(openTimes ...int64) []market.Candle {
	out := make([]market.Candle, len(openTimes))
	for i, ts := range openTimes {
		out[i] = market.Candle{
			OpenTime:  ts,
			CloseTime: ts + hourMs - 1,
			Open:      100, High: 101, Low: 99, Close: 100.5,
			Volume: 1000, Trades: 42,
		}
	}
	return out
}

func TestStoreUpsertAndRange(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	n, err := store.UpsertCandles(ctx, "btcusdt", "1h", gridCandles(0, hourMs, 2*hourMs))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// 重复写入同一根不翻倍，字段被覆盖
	updated := gridCandles(hourMs)
	updated[0].Close = 200
	_, err = store.UpsertCandles(ctx, "BTCUSDT", "1h", updated)
	require.NoError(t, err)

	candles, err := store.RangeCandles(ctx, "BTCUSDT", "1h", 0, 2*hourMs)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, int64(0), candles[0].OpenTime)
	assert.Equal(t, 200.0, candles[1].Close)
	assert.Equal(t, int64(42), candles[0].Trades)

	count, err := store.CountCandles(ctx, "BTCUSDT", "1h", 0, hourMs)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestStoreCheckIntegrity(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()
	tf, _ := ParseTimeframe("1h")

	// 0..5h 的网格，缺 1h、2h 与 4h
	_, err = store.UpsertCandles(ctx, "BTCUSDT", "1h", gridCandles(0, 3*hourMs, 5*hourMs))
	require.NoError(t, err)

	report, err := store.CheckIntegrity(ctx, "BTCUSDT", "1h", tf, 0, 5*hourMs)
	require.NoError(t, err)

	assert.Equal(t, int64(6), report.Expected)
	assert.Equal(t, int64(3), report.Actual)
	assert.False(t, report.Complete())
	// 相邻缺格合并成一段
	assert.Equal(t, []Gap{
		{Start: hourMs, End: 2 * hourMs},
		{Start: 4 * hourMs, End: 4 * hourMs},
	}, report.Gaps)
}

func TestStoreCheckIntegrityComplete(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()
	tf, _ := ParseTimeframe("1h")

	_, err = store.UpsertCandles(ctx, "ETHUSDT", "1h", gridCandles(0, hourMs, 2*hourMs))
	require.NoError(t, err)

	report, err := store.CheckIntegrity(ctx, "ETHUSDT", "1h", tf, 0, 2*hourMs)
	require.NoError(t, err)
	assert.True(t, report.Complete())
	assert.Empty(t, report.Gaps)
}

func TestStoreListDatasets(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	_, err = store.UpsertCandles(ctx, "ETHUSDT", "1h", gridCandles(hourMs, 2*hourMs))
	require.NoError(t, err)
	_, err = store.UpsertCandles(ctx, "BTCUSDT", "4h", gridCandles(0))
	require.NoError(t, err)

	datasets, err := store.ListDatasets(ctx)
	require.NoError(t, err)
	require.Len(t, datasets, 2)
	assert.Equal(t, "BTCUSDT", datasets[0].Symbol)
	assert.Equal(t, "4h", datasets[0].Timeframe)
	assert.Equal(t, int64(1), datasets[0].Count)
	assert.Equal(t, "ETHUSDT", datasets[1].Symbol)
	assert.Equal(t, int64(hourMs), datasets[1].FirstTS)
	assert.Equal(t, int64(2*hourMs), datasets[1].LastTS)
}
