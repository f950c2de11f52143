package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe(" 1H ")
	assert.NoError(t, err)
	assert.Equal(t, "1h", tf.Key)
	assert.Equal(t, time.Hour, tf.Duration)

	_, err = ParseTimeframe("2h")
	assert.Error(t, err)
	_, err = ParseTimeframe("")
	assert.Error(t, err)
}

func TestSupportedTimeframesSorted(t *testing.T) {
	keys := SupportedTimeframes()
	assert.Equal(t, []string{"15m", "1d", "1h", "1m", "30m", "4h", "5m"}, keys)
}

func TestAlignRange(t *testing.T) {
	tf, _ := ParseTimeframe("1h")
	const hour = int64(3_600_000)

	start, end := tf.AlignRange(hour+1234, 3*hour+5678)
	assert.Equal(t, hour, start)
	assert.Equal(t, 3*hour, end)

	// 颠倒的区间会被纠正
	start, end = tf.AlignRange(3*hour, hour)
	assert.Equal(t, hour, start)
	assert.Equal(t, 3*hour, end)

	// 同一根内的区间收敛到单点
	start, end = tf.AlignRange(hour+1, hour+2)
	assert.Equal(t, hour, start)
	assert.Equal(t, hour, end)
}

func TestExpectedCandles(t *testing.T) {
	tf, _ := ParseTimeframe("1h")
	const hour = int64(3_600_000)

	assert.Equal(t, int64(1), tf.ExpectedCandles(0, 0))
	assert.Equal(t, int64(24), tf.ExpectedCandles(0, 23*hour))
	assert.Equal(t, int64(0), tf.ExpectedCandles(hour, 0))
}
