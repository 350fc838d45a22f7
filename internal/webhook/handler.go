// Package webhook routes LINE webhook events into the sales assistant and
// replies with text, product carousels and loop-break quick replies.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/assistant"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/ctxutil"
	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/lineutil"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/logger"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/metrics"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/ratelimit"
)

// ChannelLINE labels turns that arrive through the LINE webhook.
const ChannelLINE = "line"

// DefaultMaxEventsPerWebhook bounds how many events of one callback are processed.
const DefaultMaxEventsPerWebhook = 100

const (
	welcomeText    = "您好！我是筆電選購小幫手 💻\n告訴我您的用途和預算，我會幫您挑選合適的機種。"
	textOnlyText   = "目前僅支援文字訊息，請用文字描述您的需求。"
	loadingSeconds = 20
)

// welcomeSuggestions are quick replies offered on follow.
var welcomeSuggestions = []string{"電競遊戲", "商務辦公", "學生上課", "影音創作"}

// TurnHandler is the assistant surface the webhook drives.
type TurnHandler interface {
	HandleTurn(ctx context.Context, req assistant.TurnRequest) (*assistant.TurnResponse, error)
	Reset(ctx context.Context, sessionID string) error
}

// Replier sends messages back through the LINE Messaging API.
// *messaging_api.MessagingApiAPI satisfies it.
type Replier interface {
	ReplyMessage(req *messaging_api.ReplyMessageRequest) (*messaging_api.ReplyMessageResponse, error)
	ShowLoadingAnimation(req *messaging_api.ShowLoadingAnimationRequest) (*map[string]interface{}, error)
}

// Handler handles LINE webhook events
type Handler struct {
	channelSecret       string
	client              Replier
	assistant           TurnHandler
	limiter             *ratelimit.Limiter // Global limiter for Messaging API calls
	metrics             *metrics.Metrics
	logger              *logger.Logger
	maxEventsPerWebhook int
	wg                  sync.WaitGroup
}

// HandlerConfig holds configuration for creating a new Handler
type HandlerConfig struct {
	ChannelSecret string
	ChannelToken  string
	// Client overrides the Messaging API client built from ChannelToken.
	Client              Replier
	Assistant           TurnHandler
	Limiter             *ratelimit.Limiter
	Metrics             *metrics.Metrics
	Logger              *logger.Logger
	MaxEventsPerWebhook int
}

// NewHandler creates a new webhook handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.ChannelSecret == "" {
		return nil, errors.New("webhook: channel secret is required")
	}
	if cfg.Assistant == nil {
		return nil, errors.New("webhook: assistant is required")
	}

	client := cfg.Client
	if client == nil {
		api, err := messaging_api.NewMessagingApiAPI(cfg.ChannelToken)
		if err != nil {
			return nil, fmt.Errorf("create messaging API client: %w", err)
		}
		client = api
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	maxEvents := cfg.MaxEventsPerWebhook
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEventsPerWebhook
	}

	return &Handler{
		channelSecret:       cfg.ChannelSecret,
		client:              client,
		assistant:           cfg.Assistant,
		limiter:             cfg.Limiter,
		metrics:             cfg.Metrics,
		logger:              log.WithModule("webhook"),
		maxEventsPerWebhook: maxEvents,
	}, nil
}

// Handle is the Gin handler for the webhook endpoint. It acknowledges the
// callback immediately and processes events in the background.
func (h *Handler) Handle(c *gin.Context) {
	cb, err := webhook.ParseRequest(h.channelSecret, c.Request)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			h.logger.Warn("Invalid webhook signature")
			h.metrics.RecordWebhook("batch", "invalid_signature")
			c.Status(http.StatusBadRequest)
		} else {
			h.logger.WithError(err).Error("Failed to parse webhook request")
			c.Status(http.StatusInternalServerError)
		}
		return
	}

	c.Status(http.StatusOK)
	h.metrics.RecordWebhook("batch", "received")

	if len(cb.Events) > h.maxEventsPerWebhook {
		h.logger.WithField("event_count", len(cb.Events)).
			WithField("limit", h.maxEventsPerWebhook).
			Warn("Too many events in webhook batch; truncating")
		cb.Events = cb.Events[:h.maxEventsPerWebhook]
	}

	// The callback is released with the response.
	events := make([]webhook.EventInterface, len(cb.Events))
	copy(events, cb.Events)

	start := time.Now()
	h.wg.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				h.logger.WithField("panic", r).Error("Panic in async event processing")
			}
		}()
		for _, event := range events {
			h.processEvent(context.Background(), event, start)
		}
	})
}

// processEvent handles a single webhook event
func (h *Handler) processEvent(ctx context.Context, event webhook.EventInterface, batchStart time.Time) {
	eventStart := time.Now()
	ctx, cancel := context.WithTimeout(ctxutil.WithChannel(ctx, ChannelLINE), config.TurnProcessing)
	defer cancel()

	log := h.logger
	if eventID := eventID(event); eventID != "" {
		ctx = ctxutil.WithRequestID(ctx, eventID)
		log = log.WithRequestID(eventID)
	}

	var (
		eventType  string
		replyToken string
		messages   []messaging_api.MessageInterface
		err        error
	)

	switch e := event.(type) {
	case webhook.MessageEvent:
		eventType = "message"
		replyToken = e.ReplyToken
		messages, err = h.handleMessage(ctx, e)
	case webhook.FollowEvent:
		eventType = "follow"
		replyToken = e.ReplyToken
		messages = []messaging_api.MessageInterface{welcomeMessage()}
	case webhook.UnfollowEvent:
		eventType = "unfollow"
		if sessionID := sessionKey(e.Source); sessionID != "" {
			err = h.assistant.Reset(ctx, sessionID)
		}
	default:
		log.WithField("event_type", fmt.Sprintf("%T", e)).Debug("Unsupported event type")
		return
	}

	status := "success"
	if err != nil {
		status = "error"
		log.WithError(err).WithField("event_type", eventType).Error("Failed to handle event")
	}
	h.metrics.RecordWebhook(eventType, status)

	if len(messages) > 0 {
		h.reply(ctx, log, eventType, replyToken, messages)
	}

	log.WithField("event_type", eventType).
		WithField("event_duration_ms", time.Since(eventStart).Milliseconds()).
		WithField("batch_duration_ms", time.Since(batchStart).Milliseconds()).
		Info("Event processed")
}

// handleMessage runs one text message through the assistant. Group and room
// messages are answered only when the bot is mentioned.
func (h *Handler) handleMessage(ctx context.Context, e webhook.MessageEvent) ([]messaging_api.MessageInterface, error) {
	personal := isPersonalChat(e.Source)

	textMsg, ok := e.Message.(webhook.TextMessageContent)
	if !ok {
		if personal {
			return []messaging_api.MessageInterface{lineutil.NewTextMessage(textOnlyText)}, nil
		}
		return nil, nil
	}

	text := textMsg.Text
	if !personal {
		if !botMentioned(textMsg) {
			return nil, nil
		}
		text = stripBotMentions(text, textMsg.Mention)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	h.showLoading(e.Source)

	sessionID := sessionKey(e.Source)
	ctx = ctxutil.WithSessionID(ctx, sessionID)
	resp, err := h.assistant.HandleTurn(ctx, assistant.TurnRequest{SessionID: sessionID, Message: text})
	if err != nil {
		msgs := []messaging_api.MessageInterface{lineutil.NewTextMessage(domerrors.UserMessage(err))}
		if domerrors.IsInvalidInput(err) {
			return msgs, nil
		}
		return msgs, err
	}
	return buildReply(resp), nil
}

// showLoading starts the typing indicator in 1:1 chats. Failures only cost
// the animation.
func (h *Handler) showLoading(source webhook.SourceInterface) {
	if !isPersonalChat(source) {
		return
	}
	chatID, _ := sourceIDs(source)
	if _, err := h.client.ShowLoadingAnimation(&messaging_api.ShowLoadingAnimationRequest{
		ChatId:         chatID,
		LoadingSeconds: loadingSeconds,
	}); err != nil {
		h.logger.WithError(err).Debug("Failed to show loading animation")
	}
}

func (h *Handler) reply(ctx context.Context, log *logger.Logger, eventType, replyToken string, messages []messaging_api.MessageInterface) {
	if replyToken == "" {
		log.Debug("Empty reply token, skipping reply")
		return
	}

	if !h.limiter.Allow() {
		log.Warn("Global rate limit exceeded; waiting")
		h.metrics.RecordRateLimiterDrop("line_reply")
		if err := h.limiter.Wait(ctx); err != nil {
			log.WithError(err).Warn("Reply abandoned while rate limited")
			h.metrics.RecordWebhook(eventType, "reply_dropped")
			return
		}
	}

	if len(messages) > lineutil.MaxMessagesPerReply {
		messages = messages[:lineutil.MaxMessagesPerReply]
	}
	if _, err := h.client.ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages:   messages,
	}); err != nil {
		if strings.Contains(err.Error(), "Invalid reply token") {
			log.WithError(err).Debug("Reply token already used or invalid")
		} else {
			log.WithError(err).Error("Failed to send reply")
		}
		h.metrics.RecordWebhook(eventType, "reply_error")
	}
}

// Shutdown waits for all async event processing to complete.
// It returns an error if the context is canceled before completion.
func (h *Handler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func eventID(event webhook.EventInterface) string {
	switch e := event.(type) {
	case webhook.MessageEvent:
		return e.WebhookEventId
	case webhook.FollowEvent:
		return e.WebhookEventId
	case webhook.UnfollowEvent:
		return e.WebhookEventId
	default:
		return ""
	}
}

func welcomeMessage() messaging_api.MessageInterface {
	items := make([]lineutil.QuickReplyItem, 0, len(welcomeSuggestions))
	for _, s := range welcomeSuggestions {
		items = append(items, lineutil.QuickReplyMessage(s, "我想找"+s+"用的筆電"))
	}
	return lineutil.NewTextMessageWithQuickReply(welcomeText, items...)
}
