package helpdesk

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/maxbolgarin/errm"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

// Telegram allows about 30 messages per second for one bot.
const (
	defaultTelegramRPS   = 25
	defaultTelegramBurst = 5
)

// TelegramProvider is a ChannelProvider on the Telegram Bot API.
// The support chat must be a supergroup with topics enabled, otherwise CreateThread returns a capability error.
type TelegramProvider struct {
	bot     *tele.Bot
	limiter *rate.Limiter
	log     Logger
}

// NewTelegramProvider creates a new provider. Zero rps means the default limit.
func NewTelegramProvider(bot *tele.Bot, rps float64, log Logger) *TelegramProvider {
	if rps <= 0 {
		rps = defaultTelegramRPS
	}
	return &TelegramProvider{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(rps), defaultTelegramBurst),
		log:     orNoop(log),
	}
}

// newTelebot creates a bot without starting it. Updates come from the webhook server or the poll loop.
func newTelebot(cfg Config, log Logger) (*tele.Bot, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: 2 * cfg.PollTimeout},
		Offline: cfg.Offline,
		Verbose: cfg.Debug,
		OnError: func(err error, ctx tele.Context) {
			var chatID int64
			if ctx != nil && ctx.Chat() != nil {
				chatID = ctx.Chat().ID
			}
			log.Error("Bot.OnError", "error", err, "chat_id", chatID)
		},
	})
	if err != nil {
		return nil, errm.Wrap(err, "new telebot")
	}
	return bot, nil
}

func (p *TelegramProvider) CreateThread(ctx context.Context, chatID int64, title string) (int, error) {
	const op = "create_thread"
	if err := p.wait(ctx, op); err != nil {
		return 0, err
	}
	topic, err := p.bot.CreateTopic(&tele.Chat{ID: chatID}, &tele.Topic{Name: title})
	if err != nil {
		return 0, classifyError(op, err)
	}
	if topic == nil || topic.ThreadID == 0 {
		return 0, NewProviderError(ErrorPermanent, op, errm.New("empty thread id"))
	}
	return topic.ThreadID, nil
}

func (p *TelegramProvider) CloseThread(ctx context.Context, chatID int64, threadID int) error {
	const op = "close_thread"
	if err := p.wait(ctx, op); err != nil {
		return err
	}
	if err := p.bot.CloseTopic(&tele.Chat{ID: chatID}, &tele.Topic{ThreadID: threadID}); err != nil {
		return classifyError(op, err)
	}
	return nil
}

func (p *TelegramProvider) SendText(ctx context.Context, chatID int64, text string, opts SendOptions) (int, error) {
	const op = "send_text"
	if err := p.wait(ctx, op); err != nil {
		return 0, err
	}
	msg, err := p.bot.Send(tele.ChatID(chatID), text, sendOptions(opts))
	if err != nil {
		return 0, classifyError(op, err)
	}
	return msg.ID, nil
}

func (p *TelegramProvider) CopyMessage(ctx context.Context, toChatID, fromChatID int64, fromMsgID int, opts SendOptions) (int, error) {
	const op = "copy_message"
	if err := p.wait(ctx, op); err != nil {
		return 0, err
	}
	src := tele.StoredMessage{MessageID: strconv.Itoa(fromMsgID), ChatID: fromChatID}
	msg, err := p.bot.Copy(tele.ChatID(toChatID), src, sendOptions(opts))
	if err != nil {
		return 0, classifyError(op, err)
	}
	return msg.ID, nil
}

func (p *TelegramProvider) AnswerCallback(ctx context.Context, callbackID string) error {
	const op = "answer_callback"
	if err := p.wait(ctx, op); err != nil {
		return err
	}
	if err := p.bot.Respond(&tele.Callback{ID: callbackID}); err != nil {
		return classifyError(op, err)
	}
	return nil
}

func (p *TelegramProvider) wait(ctx context.Context, op string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return NewProviderError(ErrorPermanent, op, err)
	}
	return nil
}

func sendOptions(opts SendOptions) *tele.SendOptions {
	out := &tele.SendOptions{ThreadID: opts.ThreadID}
	if len(opts.Buttons) == 0 {
		return out
	}
	rows := make([][]tele.InlineButton, 0, len(opts.Buttons))
	for _, row := range opts.Buttons {
		btns := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			btns = append(btns, tele.InlineButton{Text: b.Text, Data: b.Data})
		}
		rows = append(rows, btns)
	}
	out.ReplyMarkup = &tele.ReplyMarkup{InlineKeyboard: rows}
	return out
}

// classifyError maps a telebot error to a ProviderError.
func classifyError(op string, err error) *ProviderError {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return floodError(op, flood, err)
	}
	var floodPtr *tele.FloodError
	if errors.As(err, &floodPtr) && floodPtr != nil {
		return floodError(op, *floodPtr, err)
	}

	code, isTelegram := telegramErrorCode(err)
	switch {
	case hasErrorText(err, capabilityErrorTexts):
		return NewProviderError(ErrorCapability, op, err)
	case hasErrorText(err, threadGoneErrorTexts):
		return NewProviderError(ErrorThreadGone, op, err)
	case hasErrorText(err, blockedErrorTexts):
		return NewProviderError(ErrorBlocked, op, err)
	case code == http.StatusTooManyRequests:
		return NewProviderError(ErrorRateLimited, op, err)
	case !isTelegram, code >= http.StatusInternalServerError:
		return NewProviderError(ErrorTransient, op, err)
	default:
		return NewProviderError(ErrorPermanent, op, err)
	}
}

func floodError(op string, flood tele.FloodError, err error) *ProviderError {
	perr := NewProviderError(ErrorRateLimited, op, err)
	perr.RetryAfter = time.Duration(flood.RetryAfter) * time.Second
	return perr
}
