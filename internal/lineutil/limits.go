package lineutil

// LINE API Character Limits (Rune count)
// References: https://developers.line.biz/en/reference/messaging-api/
const (
	MaxTextMessageLength = 5000 // Text message max content length
	MaxAltTextLength     = 400  // Flex message alt text length
	MaxActionTextLength  = 300  // Message action text length

	// Flex Message Limits
	MaxBubblesPerCarousel = 12

	// Quick Reply Limits
	MaxQuickReplyItemCount = 13 // Max items in a quick reply
	MaxQuickReplyLabel     = 20 // Max label length for quick reply item

	// MaxMessagesPerReply is the number of messages one reply token accepts.
	MaxMessagesPerReply = 5
)
