package errors

import (
	"context"
	"errors"
	"fmt"
)

// Texts shown to end users when a turn fails. Internal detail never reaches
// the chat; it stays in the logs.
const (
	MsgUnavailable  = "服務暫時無法使用，請稍後再試"
	MsgInvalidInput = "這則訊息無法處理，請換個說法再試一次。"
	MsgTimeout      = "處理時間過長，請稍後再試"
)

// UserError pairs an internal error with the text shown to the user.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string {
	return fmt.Sprintf("%v (user message: %s)", e.Err, e.Message)
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// WithUserMessage attaches msg to err. Returns nil if err is nil.
func WithUserMessage(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &UserError{Message: msg, Err: err}
}

// UserMessage returns the chat-safe text for err. An attached message wins;
// otherwise the text follows the error class.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ue *UserError
	if errors.As(err, &ue) {
		return ue.Message
	}
	switch {
	case IsInvalidInput(err):
		return MsgInvalidInput
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return MsgTimeout
	default:
		return MsgUnavailable
	}
}
