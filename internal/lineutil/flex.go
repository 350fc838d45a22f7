package lineutil

import (
	"fmt"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

// FlexBox wrapper for messaging_api.FlexBox with fluent API.
type FlexBox struct {
	*messaging_api.FlexBox
}

// NewFlexBox creates a new FlexBox with the specified layout and contents.
func NewFlexBox(layout string, contents ...messaging_api.FlexComponentInterface) *FlexBox {
	return &FlexBox{&messaging_api.FlexBox{
		Layout:   messaging_api.FlexBoxLAYOUT(layout),
		Contents: contents,
	}}
}

// WithSpacing sets the spacing between components.
func (b *FlexBox) WithSpacing(spacing string) *FlexBox {
	b.Spacing = spacing
	return b
}

// WithMargin sets the margin of the box.
func (b *FlexBox) WithMargin(margin string) *FlexBox {
	b.Margin = margin
	return b
}

// WithPaddingAll sets the padding for all sides of the box.
func (b *FlexBox) WithPaddingAll(padding string) *FlexBox {
	b.PaddingAll = padding
	return b
}

// WithBackgroundColor sets the background color of the box.
func (b *FlexBox) WithBackgroundColor(color string) *FlexBox {
	b.BackgroundColor = color
	return b
}

// FlexText wrapper for messaging_api.FlexText with fluent API.
type FlexText struct {
	*messaging_api.FlexText
}

// NewFlexText creates a new FlexText with the specified text.
func NewFlexText(text string) *FlexText {
	return &FlexText{&messaging_api.FlexText{
		Text: text,
	}}
}

// WithWeight sets the font weight (regular/bold).
func (t *FlexText) WithWeight(weight string) *FlexText {
	t.Weight = messaging_api.FlexTextWEIGHT(weight)
	return t
}

// WithSize sets the font size.
func (t *FlexText) WithSize(size string) *FlexText {
	t.Size = size
	return t
}

// WithColor sets the text color.
func (t *FlexText) WithColor(color string) *FlexText {
	t.Color = color
	return t
}

// WithWrap enables or disables text wrapping.
func (t *FlexText) WithWrap(wrap bool) *FlexText {
	t.Wrap = wrap
	return t
}

// WithMargin sets the margin of the text component.
func (t *FlexText) WithMargin(margin string) *FlexText {
	t.Margin = margin
	return t
}

// WithMaxLines sets the maximum number of lines to display.
func (t *FlexText) WithMaxLines(lines int32) *FlexText {
	t.MaxLines = max(lines, 0)
	return t
}

// NewKeyValueRow renders "label   value" as a horizontal box.
func NewKeyValueRow(label, value string) *FlexBox {
	return NewFlexBox("horizontal",
		NewFlexText(label).WithSize("sm").WithColor(ColorLabel).FlexText,
		NewFlexText(value).WithSize("sm").WithColor(ColorText).WithWrap(true).FlexText,
	).WithSpacing("sm")
}

// NewFlexSeparator creates a separator with the standard divider color.
func NewFlexSeparator(margin string) *messaging_api.FlexSeparator {
	return &messaging_api.FlexSeparator{Margin: margin, Color: ColorSeparator}
}

// NewFlexBubble creates a bubble from header and body boxes; either may be nil.
func NewFlexBubble(header, body, footer *FlexBox) messaging_api.FlexBubble {
	bubble := messaging_api.FlexBubble{}
	if header != nil {
		bubble.Header = header.FlexBox
	}
	if body != nil {
		bubble.Body = body.FlexBox
	}
	if footer != nil {
		bubble.Footer = footer.FlexBox
	}
	return bubble
}

// BuildCarouselMessages creates Flex Messages from bubbles, splitting into
// several carousels when the bubble count exceeds the per-carousel limit.
// Later pages get a "(start-end)" suffix on their alt text.
func BuildCarouselMessages(altText string, bubbles []messaging_api.FlexBubble) []messaging_api.MessageInterface {
	if len(bubbles) == 0 {
		return nil
	}

	var messages []messaging_api.MessageInterface
	for i := 0; i < len(bubbles); i += MaxBubblesPerCarousel {
		end := min(i+MaxBubblesPerCarousel, len(bubbles))

		msgAltText := altText
		if i > 0 {
			msgAltText = fmt.Sprintf("%s (%d-%d)", altText, i+1, end)
		}
		carousel := &messaging_api.FlexCarousel{Contents: bubbles[i:end]}
		messages = append(messages, NewFlexMessage(msgAltText, carousel))
	}
	return messages
}
