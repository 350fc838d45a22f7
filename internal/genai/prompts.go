package genai

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ClassifierSystemPrompt frames every classifier call. The caller's prompt
// carries the customer utterance, the slot question and the allowed labels.
const ClassifierSystemPrompt = `你是筆電銷售助理的意圖分類器。

## 任務
根據使用者訊息，從「允許的標籤」中選出最符合的一個，並呼叫 classify_slot 回報。

## 規則
- label 必須原樣使用允許清單中的英文值，不可自行創造。
- 若訊息無法判斷，label 請回傳 "unknown"，confidence 設為 0。
- confidence 介於 0 到 1，表示你對該標籤的把握程度。
- 不要回覆任何其他文字。`

// GeneratorSystemPrompt frames reply generation.
const GeneratorSystemPrompt = `你是親切專業的筆電銷售顧問，使用繁體中文回覆。

## 規則
- 依據已知的客戶需求與提供的候選產品回答，不要杜撰規格或價格。
- 若仍缺少關鍵需求，於回覆最後提出一個簡短的問題。
- 回覆控制在 150 字以內，不使用 Markdown 表格。`

const classifyFunctionName = "classify_slot"

const (
	classifyFunctionDescription = "回報分類結果。"
	labelDescription            = "允許清單中的標籤值，無法判斷時為 unknown。"
	confidenceDescription       = "0 到 1 之間的信心分數。"
)

// UnknownLabel is returned by models that cannot decide.
const UnknownLabel = "unknown"

// classificationArgs is the function-call payload.
type classificationArgs struct {
	Label      string          `json:"label"`
	Confidence json.RawMessage `json:"confidence"`
}

// parseClassification decodes the classify_slot arguments. Confidence may be
// a number or a numeric string and is clamped to [0,1].
func parseClassification(raw []byte) (Classification, error) {
	var args classificationArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return Classification{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return buildClassification(args.Label, args.Confidence)
}

func buildClassification(label string, rawConfidence json.RawMessage) (Classification, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return Classification{}, fmt.Errorf("%w: empty label", ErrMalformedOutput)
	}

	var confidence float64
	if len(rawConfidence) > 0 {
		if err := json.Unmarshal(rawConfidence, &confidence); err != nil {
			var s string
			if json.Unmarshal(rawConfidence, &s) != nil {
				return Classification{}, fmt.Errorf("%w: confidence %s", ErrMalformedOutput, rawConfidence)
			}
			if _, err := fmt.Sscanf(s, "%g", &confidence); err != nil {
				return Classification{}, fmt.Errorf("%w: confidence %q", ErrMalformedOutput, s)
			}
		}
	}
	if math.IsNaN(confidence) {
		confidence = 0
	}
	confidence = math.Max(0, math.Min(1, confidence))
	if strings.EqualFold(label, UnknownLabel) {
		return Classification{Label: UnknownLabel}, nil
	}
	return Classification{Label: label, Confidence: confidence}, nil
}
