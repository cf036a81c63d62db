package helpdesk

import (
	"context"
	"errors"
	"time"

	"github.com/maxbolgarin/errm"
)

// ContentKind is a kind of a message payload.
type ContentKind string

const (
	// ContentText is a plain text message. It is re-sent with a header that identifies the author.
	ContentText ContentKind = "text"
	// ContentAttachment is anything else (photo, document, voice, sticker...). It is copied verbatim.
	ContentAttachment ContentKind = "attachment"
)

// Content is a message payload: either Text or an attachment referenced by the source message.
type Content struct {
	Kind ContentKind
	// Text is the message text for ContentText or an optional caption for ContentAttachment.
	Text string
	// Attachment is a short type name of the attachment, e.g. "photo". Used only in logs.
	Attachment string
}

// TextContent returns text content.
func TextContent(text string) Content {
	return Content{Kind: ContentText, Text: text}
}

// AttachmentContent returns attachment content.
func AttachmentContent(attachment, caption string) Content {
	return Content{Kind: ContentAttachment, Text: caption, Attachment: attachment}
}

func (c Content) IsText() bool {
	return c.Kind == ContentText
}

// Button is an inline keyboard button carrying callback data.
type Button struct {
	Text string
	Data string
}

// SendOptions are optional parameters of a sent message.
type SendOptions struct {
	// ThreadID routes the message into a thread of a forum chat. Zero means the general chat.
	ThreadID int
	// Buttons is an inline keyboard, one slice per row.
	Buttons [][]Button
}

// ChannelProvider is the messaging channel between users and the support chat.
// Every method returns *ProviderError on failure.
type ChannelProvider interface {
	// CreateThread creates a thread in the support chat and returns its id.
	CreateThread(ctx context.Context, chatID int64, title string) (int, error)
	// CloseThread closes a thread in the support chat.
	CloseThread(ctx context.Context, chatID int64, threadID int) error
	// SendText sends a text message to a chat and returns the id of the sent message.
	SendText(ctx context.Context, chatID int64, text string, opts SendOptions) (int, error)
	// CopyMessage copies message fromMsgID from chat fromChatID into chat toChatID.
	CopyMessage(ctx context.Context, toChatID, fromChatID int64, fromMsgID int, opts SendOptions) (int, error)
	// AnswerCallback stops the loading indicator of a pressed inline button.
	AnswerCallback(ctx context.Context, callbackID string) error
}

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	// ErrorTransient is a network or server error, the call can be retried.
	ErrorTransient ErrorKind = "transient"
	// ErrorRateLimited means the provider asked to wait ProviderError.RetryAfter before the next call.
	ErrorRateLimited ErrorKind = "rate_limited"
	// ErrorCapability means the feature is not available, e.g. the support chat has no threads.
	ErrorCapability ErrorKind = "capability"
	// ErrorThreadGone means the target thread was deleted or closed.
	ErrorThreadGone ErrorKind = "thread_gone"
	// ErrorBlocked means the user blocked the bot or deleted the account.
	ErrorBlocked ErrorKind = "blocked"
	// ErrorPermanent is any other error that will fail again on retry.
	ErrorPermanent ErrorKind = "permanent"
)

// ProviderError is an error returned by ChannelProvider.
type ProviderError struct {
	Kind ErrorKind
	// Op is the failed operation, e.g. "create_thread".
	Op string
	// RetryAfter is the delay requested by the provider for ErrorRateLimited.
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Op + ": " + string(e.Kind)
	if e.RetryAfter > 0 {
		msg += " (retry after " + e.RetryAfter.String() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable returns true if the operation may succeed when repeated.
func (e *ProviderError) Retryable() bool {
	return e.Kind == ErrorTransient || e.Kind == ErrorRateLimited
}

// NewProviderError creates a new ProviderError.
func NewProviderError(kind ErrorKind, op string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Op: op, Err: err}
}

// providerErrorRef is an errm.Is target that captures the *ProviderError found in the chain.
// errm errors are not visible to errors.As, but errm.Is calls Is on every error of the chain.
type providerErrorRef struct {
	err *ProviderError
}

func (*providerErrorRef) Error() string { return "helpdesk: provider error reference" }

// Is matches ErrorKind targets, so errm.Is(err, ErrorThreadGone) works through any wrapping.
func (e *ProviderError) Is(target error) bool {
	switch t := target.(type) {
	case ErrorKind:
		return e.Kind == t
	case *providerErrorRef:
		t.err = e
		return true
	}
	return false
}

// Error makes ErrorKind usable as a target of errm.Is and errors.Is.
func (k ErrorKind) Error() string {
	return "provider error: " + string(k)
}

// AsProviderError finds a *ProviderError in the chain of err, including errors wrapped by errm.
func AsProviderError(err error) (*ProviderError, bool) {
	if err == nil {
		return nil, false
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr, true
	}
	ref := &providerErrorRef{}
	if errm.Is(err, ref) && ref.err != nil {
		return ref.err, true
	}
	return nil, false
}

// ErrorKindOf returns the kind of provider error or empty string if err is not a *ProviderError.
func ErrorKindOf(err error) ErrorKind {
	if perr, ok := AsProviderError(err); ok {
		return perr.Kind
	}
	return ""
}

// IsCapabilityError returns true if err says that the provider cannot do the operation at all.
func IsCapabilityError(err error) bool {
	return ErrorKindOf(err) == ErrorCapability
}

// IsThreadGone returns true if the target thread no longer exists.
func IsThreadGone(err error) bool {
	return ErrorKindOf(err) == ErrorThreadGone
}

// IsBlocked returns true if the user blocked the bot.
func IsBlocked(err error) bool {
	return ErrorKindOf(err) == ErrorBlocked
}

// IsRetryable returns true for transient and rate limit errors.
func IsRetryable(err error) bool {
	perr, ok := AsProviderError(err)
	return ok && perr.Retryable()
}
