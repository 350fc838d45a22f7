package webhook

import (
	"fmt"
	"strings"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/assistant"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/catalog"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/lineutil"
)

const productsAltText = "推薦機種"

// buildReply renders a turn response as LINE messages: the reply text, then
// a product carousel when products were recommended. Loop-break options ride
// on the last message as quick replies whose text parses back to the choice.
func buildReply(resp *assistant.TurnResponse) []messaging_api.MessageInterface {
	messages := []messaging_api.MessageInterface{lineutil.NewTextMessage(resp.Reply)}

	if len(resp.Products) > 0 {
		bubbles := make([]messaging_api.FlexBubble, 0, len(resp.Products))
		for _, p := range resp.Products {
			bubbles = append(bubbles, productBubble(p))
		}
		messages = append(messages, lineutil.BuildCarouselMessages(productsAltText, bubbles)...)
	}

	if len(resp.Options) > 0 {
		items := make([]lineutil.QuickReplyItem, 0, len(resp.Options))
		for _, o := range resp.Options {
			items = append(items, lineutil.QuickReplyMessage(o.Label, o.Label))
		}
		lineutil.AddQuickReplyToMessages(messages, items...)
	}

	if len(messages) > lineutil.MaxMessagesPerReply {
		messages = messages[:lineutil.MaxMessagesPerReply]
	}
	return messages
}

func productBubble(p catalog.Product) messaging_api.FlexBubble {
	header := lineutil.NewFlexBox("vertical",
		lineutil.NewFlexText(p.Name).WithWeight("bold").WithSize("lg").WithColor(lineutil.ColorHeroText).WithWrap(true).FlexText,
		lineutil.NewFlexText(p.Brand).WithSize("xs").WithColor(lineutil.ColorHeroText).WithMargin("sm").FlexText,
	).WithBackgroundColor(lineutil.ColorHeroBg).WithPaddingAll(lineutil.SpacingL)

	rows := []messaging_api.FlexComponentInterface{
		lineutil.NewFlexText(assistant.FormatPrice(p.Price)).WithWeight("bold").WithSize("xl").WithColor(lineutil.ColorPrice).FlexText,
		lineutil.NewFlexSeparator("md"),
		lineutil.NewKeyValueRow("處理器", p.CPU).WithMargin("md").FlexBox,
		lineutil.NewKeyValueRow("顯示卡", p.GPU).FlexBox,
	}
	if p.WeightKg > 0 {
		rows = append(rows, lineutil.NewKeyValueRow("重量", fmt.Sprintf("%.2g kg", p.WeightKg)).FlexBox)
	}
	if p.ScreenInch > 0 {
		rows = append(rows, lineutil.NewKeyValueRow("螢幕", fmt.Sprintf("%.3g 吋", p.ScreenInch)).FlexBox)
	}
	if desc := strings.TrimSpace(p.Description); desc != "" {
		rows = append(rows, lineutil.NewFlexText(desc).WithSize("xs").WithColor(lineutil.ColorSubtext).WithWrap(true).WithMaxLines(3).WithMargin("md").FlexText)
	}

	body := lineutil.NewFlexBox("vertical", rows...).WithSpacing(lineutil.SpacingS)
	return lineutil.NewFlexBubble(header, body, nil)
}
