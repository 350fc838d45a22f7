package webhook

import (
	"sort"
	"strings"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
)

// sourceIDs returns the chat to reply into and the user who spoke. In 1:1
// chats both are the user id.
func sourceIDs(source webhook.SourceInterface) (chatID, userID string) {
	switch s := source.(type) {
	case webhook.UserSource:
		return s.UserId, s.UserId
	case webhook.GroupSource:
		return s.GroupId, s.UserId
	case webhook.RoomSource:
		return s.RoomId, s.UserId
	default:
		return "", ""
	}
}

// sessionKey is the assistant session for a source. A group member without a
// resolvable user id shares the group's session.
func sessionKey(source webhook.SourceInterface) string {
	chatID, userID := sourceIDs(source)
	if userID != "" {
		return userID
	}
	return chatID
}

func isPersonalChat(source webhook.SourceInterface) bool {
	_, ok := source.(webhook.UserSource)
	return ok
}

// botMentioned reports whether any mentionee is the bot itself.
func botMentioned(msg webhook.TextMessageContent) bool {
	if msg.Mention == nil {
		return false
	}
	for _, m := range msg.Mention.Mentionees {
		if u, ok := m.(webhook.UserMentionee); ok && u.IsSelf {
			return true
		}
	}
	return false
}

// stripBotMentions removes the bot's own mentions from text. LINE reports
// mention offsets in runes; spans are cut back to front so earlier offsets
// stay valid.
func stripBotMentions(text string, mention *webhook.Mention) string {
	if mention == nil {
		return text
	}

	type span struct{ start, end int }
	var spans []span
	for _, m := range mention.Mentionees {
		if u, ok := m.(webhook.UserMentionee); ok && u.IsSelf {
			spans = append(spans, span{int(u.Index), int(u.Index + u.Length)})
		}
	}
	if len(spans) == 0 {
		return text
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start > spans[j].start })

	runes := []rune(text)
	for _, s := range spans {
		start := max(s.start, 0)
		end := min(s.end, len(runes))
		if start >= end {
			continue
		}
		runes = append(runes[:start], runes[end:]...)
	}
	return strings.Join(strings.Fields(string(runes)), " ")
}
