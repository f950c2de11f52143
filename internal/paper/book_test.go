package paper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParsePolicy(t *testing.T) {
	for input, want := range map[string]EntryPolicy{
		"":        PolicySingle,
		"single":  PolicySingle,
		" Flip ":  PolicyFlip,
		"AVERAGE": PolicyAverage,
	} {
		got, err := ParsePolicy(input)
		assert.NoError(t, err, "input=%q", input)
		assert.Equal(t, want, got)
	}
	_, err := ParsePolicy("martingale")
	assert.Error(t, err)
}

func TestBookSingleRejectsSecondEntry(t *testing.T) {
	b := NewBook(PolicySingle)
	now := time.Now()

	res, err := b.Open("btcusdt", "buy", 100, 1, now)
	assert.NoError(t, err)
	assert.Equal(t, "BTCUSDT", res.Position.Symbol)
	assert.Equal(t, "BUY", res.Position.Direction)

	_, err = b.Open("BTCUSDT", "BUY", 110, 1, now)
	assert.Error(t, err, "single 策略下已有持仓必须拒绝")
	_, err = b.Open("BTCUSDT", "SELL", 110, 1, now)
	assert.Error(t, err)

	// 其它 symbol 不受影响
	_, err = b.Open("ETHUSDT", "SELL", 2000, 0.5, now)
	assert.NoError(t, err)
	assert.Len(t, b.Snapshot(), 2)
}

func TestBookAverageBlendsEntryPrice(t *testing.T) {
	b := NewBook(PolicyAverage)
	now := time.Now()

	_, err := b.Open("BTCUSDT", "BUY", 100, 1, now)
	assert.NoError(t, err)
	b.SetTrailingStop("BTCUSDT", 99.5)

	res, err := b.Open("BTCUSDT", "BUY", 110, 3, now)
	assert.NoError(t, err)
	// (100*1 + 110*3) / 4
	assert.InDelta(t, 107.5, res.Position.EntryPrice, 1e-9)
	assert.InDelta(t, 4.0, res.Position.Quantity, 1e-9)
	assert.Zero(t, res.Position.TrailingStop, "加仓后移动止损重新起算")

	// 反向开仓被拒
	_, err = b.Open("BTCUSDT", "SELL", 120, 1, now)
	assert.Error(t, err)
}

func TestBookFlipClosesAndReopens(t *testing.T) {
	b := NewBook(PolicyFlip)
	now := time.Now()

	_, err := b.Open("BTCUSDT", "BUY", 100, 2, now)
	assert.NoError(t, err)

	res, err := b.Open("BTCUSDT", "SELL", 105, 1, now.Add(time.Hour))
	assert.NoError(t, err)
	if assert.NotNil(t, res.Closed) {
		assert.Equal(t, "BUY", res.Closed.Direction)
		assert.Equal(t, 100.0, res.Closed.EntryPrice)
		assert.Equal(t, 2.0, res.Closed.Quantity)
	}
	assert.Equal(t, "SELL", res.Position.Direction)
	assert.Equal(t, 105.0, res.Position.EntryPrice)

	got, ok := b.Get("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, "SELL", got.Direction)
}

func TestBookFlipSameDirectionAverages(t *testing.T) {
	b := NewBook(PolicyFlip)
	now := time.Now()

	_, err := b.Open("BTCUSDT", "SELL", 100, 1, now)
	assert.NoError(t, err)
	res, err := b.Open("BTCUSDT", "SELL", 90, 1, now)
	assert.NoError(t, err)
	assert.Nil(t, res.Closed)
	assert.InDelta(t, 95.0, res.Position.EntryPrice, 1e-9)
}

func TestBookCloseAndValidation(t *testing.T) {
	b := NewBook(PolicySingle)

	_, err := b.Open("BTCUSDT", "BUY", 0, 1, time.Now())
	assert.Error(t, err)
	_, err = b.Open("BTCUSDT", "LONG", 100, 1, time.Now())
	assert.Error(t, err)

	_, err = b.Close("BTCUSDT")
	assert.Error(t, err, "无持仓时平仓报错")

	_, err = b.Open("BTCUSDT", "BUY", 100, 1, time.Now())
	assert.NoError(t, err)
	pos, err := b.Close("btcusdt")
	assert.NoError(t, err)
	assert.Equal(t, 100.0, pos.EntryPrice)
	_, ok := b.Get("BTCUSDT")
	assert.False(t, ok)
}
