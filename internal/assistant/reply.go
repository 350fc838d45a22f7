package assistant

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/catalog"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/loop"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/slots"
)

// Fixed reply texts.
const (
	loopBreakText   = "我們好像在同一個問題上打轉了，請選擇接下來要怎麼做："
	restartText     = "好的，我們重新開始。"
	handoffText     = "已為您轉接專人服務，請稍候，專員將儘快與您聯繫。"
	terminatedText  = "此對話已轉交專人處理，如需重新諮詢請重設對話。"
	rateLimitedText = "訊息過於頻繁，請稍後再試。"
	noProductText   = "目前沒有完全符合條件的機種，要不要調整預算或用途再試試看？"
	fallbackAskText = "請問您購買筆電主要想用來做什麼呢？"
	msgTooLong      = "訊息太長了，請精簡後再傳一次。"
)

var optionLabels = map[loop.Choice]string{
	loop.ChoiceRecommend: "直接推薦目前條件的機種",
	loop.ChoiceRestart:   "重新開始",
	loop.ChoiceHuman:     "轉接真人客服",
}

// choiceAliases maps free-text answers to loop-break choices.
var choiceAliases = map[loop.Choice][]string{
	loop.ChoiceRecommend: {"recommend", "1", "推薦", "直接推薦"},
	loop.ChoiceRestart:   {"restart", "2", "重新開始", "重來", "重新"},
	loop.ChoiceHuman:     {"human", "3", "真人", "專人", "客服"},
}

func loopBreakOptions() []Option {
	opts := make([]Option, 0, len(loop.Choices))
	for _, c := range loop.Choices {
		opts = append(opts, Option{Choice: c, Label: optionLabels[c]})
	}
	return opts
}

func loopBreakReply() string {
	var b strings.Builder
	b.WriteString(loopBreakText)
	for i, o := range loopBreakOptions() {
		fmt.Fprintf(&b, "\n%d. %s", i+1, o.Label)
	}
	return b.String()
}

// parseChoice interprets a loop-break answer. Exact option codes and digits
// win; otherwise the first option whose alias appears in the text.
func parseChoice(text string) (loop.Choice, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, c := range loop.Choices {
		for _, alias := range choiceAliases[c] {
			if t == alias {
				return c, true
			}
		}
	}
	for _, c := range loop.Choices {
		for _, alias := range choiceAliases[c] {
			if len([]rune(alias)) > 1 && strings.Contains(t, alias) {
				return c, true
			}
		}
	}
	return "", false
}

// summarizeUpdates joins the labels of newly resolved slots, e.g. "電競遊戲、兩萬五到四萬".
func summarizeUpdates(updates []SlotUpdate) string {
	parts := make([]string, 0, len(updates))
	for _, u := range updates {
		parts = append(parts, u.Label)
	}
	return strings.Join(parts, "、")
}

// FormatPrice renders an NTD price with thousands separators, e.g. "NT$29,900".
func FormatPrice(price int) string {
	s := fmt.Sprintf("%d", price)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return "NT$" + b.String()
}

func formatProducts(products []catalog.Product) string {
	var b strings.Builder
	for i, p := range products {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s %s（%s / %s", i+1, p.Name, FormatPrice(p.Price), p.CPU, p.GPU)
		if p.WeightKg > 0 {
			fmt.Fprintf(&b, " / %.2gkg", p.WeightKg)
		}
		b.WriteString("）")
	}
	return b.String()
}

// templateReply renders a reply without the LLM.
func templateReply(schema *slots.Schema, updates []SlotUpdate, missing []string, products []catalog.Product, recommending bool) string {
	var b strings.Builder
	if len(updates) > 0 {
		fmt.Fprintf(&b, "了解，%s。", summarizeUpdates(updates))
	}

	switch {
	case recommending && len(products) > 0:
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("為您推薦以下機種：\n")
		b.WriteString(formatProducts(products))
	case recommending:
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(noProductText)
	case len(missing) > 0:
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(elicitation(schema, missing[0]))
	}
	return b.String()
}

func elicitation(schema *slots.Schema, slot string) string {
	info, ok := schema.Info(slot)
	if !ok || info.Prompt == "" {
		return fallbackAskText
	}
	return info.Prompt
}

// generatorPrompt describes the conversation for the reply generator.
func generatorPrompt(schema *slots.Schema, message, hint string, filled map[string]string, missing []string, products []catalog.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## 客戶訊息\n%s\n\n", message)
	if hint != "" {
		fmt.Fprintf(&b, "## 參考建議\n%s\n\n", hint)
	}
	b.WriteString("## 已知需求\n")
	if len(filled) == 0 {
		b.WriteString("（尚無）\n")
	}
	for _, name := range schema.Slots() {
		v, ok := filled[name]
		if !ok {
			continue
		}
		info, _ := schema.Info(name)
		fmt.Fprintf(&b, "- %s: %s\n", name, info.Label(v))
	}
	if len(missing) > 0 {
		fmt.Fprintf(&b, "\n## 下一個要詢問的需求\n%s\n", elicitation(schema, missing[0]))
	}
	if len(products) > 0 {
		fmt.Fprintf(&b, "\n## 候選產品\n%s\n", formatProducts(products))
	}
	return b.String()
}

// classifierPrompt asks the LLM to pick one allowed value for slot.
func classifierPrompt(schema *slots.Schema, slot, message string) string {
	info, _ := schema.Info(slot)
	var b strings.Builder
	fmt.Fprintf(&b, "## 需求欄位\n%s", slot)
	if info.Prompt != "" {
		fmt.Fprintf(&b, "（%s）", info.Prompt)
	}
	b.WriteString("\n\n## 允許的標籤\n")
	for _, v := range schema.Values(slot) {
		fmt.Fprintf(&b, "- %s: %s\n", v, info.Label(v))
	}
	fmt.Fprintf(&b, "\n## 使用者訊息\n%s\n", message)
	return b.String()
}

// caseMessage extracts the "message" field of a curated response shape.
func caseMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var shape struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return ""
	}
	return strings.TrimSpace(shape.Message)
}
