package sentiment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePlainJSON(t *testing.T) {
	res, err := Parse(`{"sentiment": 0.72, "action": "buy", "confidence": 0.8, "reasoning": " momentum strong "}`)
	assert.NoError(t, err)
	assert.Equal(t, AnalysisResult{
		Sentiment:  0.72,
		Action:     "buy",
		Confidence: 0.8,
		Reasoning:  "momentum strong",
	}, res)
}

func TestParseJSONEmbeddedInProse(t *testing.T) {
	raw := "Sure! Based on the data, here is my analysis:\n\n" +
		"```json\n{\"sentiment\": 0.3, \"action\": \"sell\", \"confidence\": 0.55}\n```\n" +
		"Let me know if you need more detail."
	res, err := Parse(raw)
	assert.NoError(t, err)
	assert.Equal(t, 0.3, res.Sentiment)
	assert.Equal(t, "sell", res.Action)
	assert.Equal(t, 0.55, res.Confidence)
	assert.Empty(t, res.Reasoning)
}

func TestParseFirstBalancedObjectWins(t *testing.T) {
	raw := `{"sentiment": 0.6, "action": "hold", "confidence": 0.4} {"sentiment": 0.9}`
	res, err := Parse(raw)
	assert.NoError(t, err)
	assert.Equal(t, 0.6, res.Sentiment)
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, raw := range []string{
		"",
		"no json here at all",
		"{ truncated",
		`{"sentiment": "high", "action": "buy", "confidence": 0.8}`, // 类型错误
		`{"action": "buy", "confidence": 0.8}`,                     // 缺必填字段
		`{"sentiment": 1.5, "action": "buy", "confidence": 0.8}`,   // 越界
		`{"sentiment": 0.5, "action": "yolo", "confidence": 0.8}`,  // 枚举外
	} {
		_, err := Parse(raw)
		assert.Error(t, err, "raw=%q", raw)
	}
}

func TestNeutralResult(t *testing.T) {
	res := NeutralResult()
	assert.Equal(t, 0.5, res.Sentiment)
	assert.Equal(t, "hold", res.Action)
	assert.Zero(t, res.Confidence)
}
