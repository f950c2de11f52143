package sentiment

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// 模型输出里经常混着解释文字，这里只认首个配平的 JSON 对象，
// 再用 schema 把字段卡死。
const resultSchema = `{
	"type": "object",
	"required": ["sentiment", "action", "confidence"],
	"properties": {
		"sentiment":  {"type": "number", "minimum": 0, "maximum": 1},
		"action":     {"type": "string", "enum": ["buy", "sell", "hold"]},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"reasoning":  {"type": "string"}
	}
}`

var compiledSchema = mustCompile(resultSchema)

func mustCompile(raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("analysis.json", strings.NewReader(raw)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("analysis.json")
}

// Parse 从模型原始输出提取并校验 AnalysisResult。
// 任何一步失败都返回错误，调用方决定是否退回中性结果。
func Parse(raw string) (AnalysisResult, error) {
	text, ok := extractJSONObject(raw)
	if !ok {
		return AnalysisResult{}, fmt.Errorf("输出中未找到 JSON 对象")
	}
	if !gjson.Valid(text) {
		return AnalysisResult{}, fmt.Errorf("JSON 格式无效")
	}
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return AnalysisResult{}, err
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return AnalysisResult{}, fmt.Errorf("schema 校验失败: %w", err)
	}
	parsed := gjson.Parse(text)
	return AnalysisResult{
		Sentiment:  parsed.Get("sentiment").Float(),
		Action:     strings.ToLower(parsed.Get("action").String()),
		Confidence: parsed.Get("confidence").Float(),
		Reasoning:  strings.TrimSpace(parsed.Get("reasoning").String()),
	}, nil
}

// extractJSONObject 提取首个配平的 JSON 对象文本。
// 不处理字符串字面量里的花括号，对聊天模型的输出足够用。
func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1]), true
			}
		}
	}
	return "", false
}
