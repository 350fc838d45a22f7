package lineutil

import (
	"strings"
	"testing"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxRunes int
		want     string
	}{
		{"fits", "輕薄筆電", 10, "輕薄筆電"},
		{"exact", "輕薄筆電", 4, "輕薄筆電"},
		{"truncated with ellipsis", "直接推薦目前條件的機種", 6, "直接推..."},
		{"tiny limit", "重新開始", 2, "重新"},
		{"ascii", "recommend", 5, "re..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateRunes(tt.text, tt.maxRunes))
		})
	}
}

func TestNewTextMessage_TruncatesLongText(t *testing.T) {
	long := strings.Repeat("筆", MaxTextMessageLength+10)
	msg := NewTextMessage(long)

	assert.Len(t, []rune(msg.Text), MaxTextMessageLength)
	assert.True(t, strings.HasSuffix(msg.Text, "..."))
}

func TestNewTextMessageWithQuickReply(t *testing.T) {
	msg := NewTextMessageWithQuickReply("請選擇：",
		QuickReplyMessage("直接推薦目前條件的機種", "1"),
		QuickReplyMessage("重新開始", "2"),
	)

	require.NotNil(t, msg.QuickReply)
	require.Len(t, msg.QuickReply.Items, 2)

	action, ok := msg.QuickReply.Items[0].Action.(*messaging_api.MessageAction)
	require.True(t, ok)
	assert.Equal(t, "1", action.Text)
	assert.LessOrEqual(t, len([]rune(action.Label)), MaxQuickReplyLabel)

	plain := NewTextMessageWithQuickReply("沒有選項")
	assert.Nil(t, plain.QuickReply)
}

func TestNewQuickReply_CapsItemCount(t *testing.T) {
	items := make([]QuickReplyItem, 20)
	for i := range items {
		items[i] = QuickReplyMessage("選項", "x")
	}
	qr := NewQuickReply(items)
	assert.Len(t, qr.Items, MaxQuickReplyItemCount)
}

func TestAddQuickReplyToMessages(t *testing.T) {
	first := NewTextMessage("first")
	last := NewFlexMessage("alt", &messaging_api.FlexCarousel{})
	messages := []messaging_api.MessageInterface{first, last}

	AddQuickReplyToMessages(messages, QuickReplyMessage("重新開始", "2"))

	assert.Nil(t, first.QuickReply)
	require.NotNil(t, last.QuickReply)
	assert.Len(t, last.QuickReply.Items, 1)

	assert.NotPanics(t, func() { AddQuickReplyToMessages(nil, QuickReplyMessage("a", "b")) })
}

func TestBuildCarouselMessages(t *testing.T) {
	assert.Nil(t, BuildCarouselMessages("推薦機種", nil))

	bubbles := make([]messaging_api.FlexBubble, MaxBubblesPerCarousel+3)
	for i := range bubbles {
		bubbles[i] = NewFlexBubble(nil, NewFlexBox("vertical", NewFlexText("機種").FlexText), nil)
	}

	messages := BuildCarouselMessages("推薦機種", bubbles)
	require.Len(t, messages, 2)

	first := messages[0].(*messaging_api.FlexMessage)
	second := messages[1].(*messaging_api.FlexMessage)
	assert.Equal(t, "推薦機種", first.AltText)
	assert.Equal(t, "推薦機種 (13-15)", second.AltText)
	assert.Len(t, first.Contents.(*messaging_api.FlexCarousel).Contents, MaxBubblesPerCarousel)
	assert.Len(t, second.Contents.(*messaging_api.FlexCarousel).Contents, 3)
}

func TestNewKeyValueRow(t *testing.T) {
	row := NewKeyValueRow("價格", "NT$29,900")
	require.Len(t, row.Contents, 2)
	value := row.Contents[1].(*messaging_api.FlexText)
	assert.Equal(t, "NT$29,900", value.Text)
	assert.True(t, value.Wrap)
}
