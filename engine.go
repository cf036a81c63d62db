package helpdesk

import (
	"context"
	"strconv"
	"strings"

	"github.com/maxbolgarin/abstract"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
)

const (
	cmdStart   = "/start"
	cmdNew     = "/new"
	cmdClose   = "/close"
	cmdStatus  = "/status"
	cmdID      = "/id"
	cmdReply   = "/reply"
	cmdThreads = "/threads"
)

// EngineParams contains dependencies of Engine.
type EngineParams struct {
	Identity      *IdentityLedger
	Limiter       *RateLimiter
	Tickets       *TicketStore
	Relay         *Relay
	Provider      ChannelProvider
	Msgs          MessageProvider
	SupportChatID int64
	Backoff       Backoff
	Logger        Logger
}

// Engine routes one inbound event to completion: user messages go to the ticket thread,
// support replies go back to the ticket owner, commands change ticket state.
// Engine keeps no per-user state in memory, every decision is made from the store.
type Engine struct {
	identity      *IdentityLedger
	limiter       *RateLimiter
	tickets       *TicketStore
	relay         *Relay
	provider      ChannelProvider
	msgs          MessageProvider
	supportChatID int64
	backoff       Backoff
	metrics       *metrics
	log           Logger
}

// NewEngine creates a new Engine.
func NewEngine(p EngineParams) *Engine {
	if p.Backoff.Attempts == 0 {
		p.Backoff = DefaultBackoff()
	}
	if p.Msgs == nil {
		p.Msgs = newDefaultMessageProvider()
	}
	return &Engine{
		identity:      p.Identity,
		limiter:       p.Limiter,
		tickets:       p.Tickets,
		relay:         p.Relay,
		provider:      p.Provider,
		msgs:          p.Msgs,
		supportChatID: p.SupportChatID,
		backoff:       p.Backoff,
		log:           orNoop(p.Logger),
	}
}

// Handle processes the event. Errors are returned for logging only, the user is already informed.
func (e *Engine) Handle(ctx context.Context, ev Event) (err error) {
	defer lang.RecoverWithErrAndStack(e.log, &err)

	timer := abstract.StartTimer()
	defer func() {
		e.metrics.observeEvent(ev.Kind, timer.ElapsedTime(), err)
	}()

	switch {
	case ev.Kind == EventCallback:
		if ev.ChatID == e.supportChatID {
			e.answer(ctx, ev)
			return nil
		}
		return e.handleCallback(ctx, ev)

	case ev.ChatID == e.supportChatID:
		return e.handleSupport(ctx, ev)

	case ev.Private:
		return e.handleUser(ctx, ev)
	}

	return nil
}

func (e *Engine) handleUser(ctx context.Context, ev Event) error {
	if name, arg, ok := ev.Command(); ok {
		return e.userCommand(ctx, ev, name, arg)
	}

	userLang, ok, err := e.identity.Language(ctx, ev.Sender.ID)
	if err != nil {
		return err
	}
	if !ok {
		e.promptLanguage(ctx, ev.ChatID)
		return nil
	}
	msgs := e.msgs.Messages(userLang)

	verdict := e.limiter.Check(ctx, ev.Sender.ID)
	if !verdict.Allowed {
		e.metrics.incRateLimited()
		if verdict.ShouldWarn {
			e.send(ctx, ev.ChatID, msgs.TooFast(), SendOptions{})
		}
		return nil
	}

	t, created, err := e.tickets.Ensure(ctx, ev.Sender, false)
	if err != nil {
		e.reportFailure(ctx, ev.ChatID, msgs, err)
		return errm.Wrap(err, "ensure ticket", "user_id", ev.Sender.ID)
	}

	if _, err := e.relay.Relay(ctx, ev, t); err != nil {
		e.reportFailure(ctx, ev.ChatID, msgs, err)
		return err
	}

	if created && t.InFallback() {
		e.send(ctx, ev.ChatID, msgs.Misconfigured(), SendOptions{})
	}
	if e.limiter.ShouldAck(ctx, ev.Sender.ID) || created {
		e.send(ctx, ev.ChatID, msgs.Sent(t.No), SendOptions{})
	}

	return nil
}

func (e *Engine) userCommand(ctx context.Context, ev Event, name, arg string) error {
	uid := ev.Sender.ID

	switch name {
	case cmdStart:
		if err := e.identity.SaveStartPayload(ctx, uid, arg); err != nil {
			e.log.Warn("cannot save start payload", "error", err, "user_id", uid)
		}
		userLang, ok, err := e.identity.Language(ctx, uid)
		if err != nil {
			return err
		}
		if !ok {
			e.promptLanguage(ctx, ev.ChatID)
			return nil
		}
		msgs := e.msgs.Messages(userLang)
		e.send(ctx, ev.ChatID, msgs.Welcome(), SendOptions{Buttons: menuKeyboard(msgs)})
		return nil

	case cmdNew:
		return e.newTicket(ctx, ev)

	case cmdClose:
		return e.closeByUser(ctx, ev)

	case cmdStatus:
		return e.status(ctx, ev)

	case cmdID:
		e.send(ctx, ev.ChatID, chatInfo(ev.ChatID, 0), SendOptions{})
		return nil
	}

	e.send(ctx, ev.ChatID, e.userMessages(ctx, uid).UnknownCommand(), SendOptions{})
	return nil
}

func (e *Engine) handleCallback(ctx context.Context, ev Event) error {
	defer e.answer(ctx, ev)

	if ev.ChatID == 0 {
		ev.ChatID = ev.Sender.ID
	}

	prefix, value := parseCallback(ev.CallbackData)
	switch prefix {
	case callbackLanguagePrefix:
		chosen, err := e.identity.SetLanguage(ctx, ev.Sender.ID, value)
		if err != nil {
			return err
		}
		msgs := e.msgs.Messages(chosen)
		e.send(ctx, ev.ChatID, msgs.LanguageSaved(), SendOptions{Buttons: menuKeyboard(msgs)})
		return nil

	case callbackActionPrefix:
		switch value {
		case actionNewTicket:
			return e.newTicket(ctx, ev)
		case actionCloseTicket:
			return e.closeByUser(ctx, ev)
		case actionStatus:
			return e.status(ctx, ev)
		}
	}

	e.log.Debug("unknown callback", "data", ev.CallbackData, "user_id", ev.Sender.ID)
	return nil
}

func (e *Engine) newTicket(ctx context.Context, ev Event) error {
	userLang, ok, err := e.identity.Language(ctx, ev.Sender.ID)
	if err != nil {
		return err
	}
	if !ok {
		e.promptLanguage(ctx, ev.ChatID)
		return nil
	}
	msgs := e.msgs.Messages(userLang)

	t, _, err := e.tickets.Ensure(ctx, ev.Sender, true)
	if err != nil {
		e.reportFailure(ctx, ev.ChatID, msgs, err)
		return errm.Wrap(err, "new ticket", "user_id", ev.Sender.ID)
	}

	if t.InFallback() {
		e.send(ctx, ev.ChatID, msgs.Misconfigured(), SendOptions{})
	}
	e.send(ctx, ev.ChatID, msgs.NewTicket(t.No), SendOptions{})

	return nil
}

func (e *Engine) closeByUser(ctx context.Context, ev Event) error {
	msgs := e.userMessages(ctx, ev.Sender.ID)

	t, closed, err := e.tickets.Close(ctx, ev.Sender.ID, ClosedByUser)
	if err != nil {
		e.reportFailure(ctx, ev.ChatID, msgs, err)
		return errm.Wrap(err, "close ticket", "user_id", ev.Sender.ID)
	}
	if !closed {
		e.send(ctx, ev.ChatID, msgs.NoTicket(), SendOptions{})
		return nil
	}

	e.send(ctx, ev.ChatID, msgs.ClosedByUser(t.No), SendOptions{})
	return nil
}

func (e *Engine) status(ctx context.Context, ev Event) error {
	msgs := e.userMessages(ctx, ev.Sender.ID)

	t, ok, err := e.tickets.LastTicket(ctx, ev.Sender.ID)
	if err != nil {
		return err
	}

	switch {
	case !ok:
		e.send(ctx, ev.ChatID, msgs.NoTicket(), SendOptions{})
	case t.IsOpen():
		e.send(ctx, ev.ChatID, msgs.StatusOpen(t.No, t.LastUserActivityAt), SendOptions{})
	default:
		e.send(ctx, ev.ChatID, msgs.StatusClosed(t.No), SendOptions{})
	}

	return nil
}

func (e *Engine) handleSupport(ctx context.Context, ev Event) error {
	if name, arg, ok := ev.Command(); ok {
		return e.supportCommand(ctx, ev, name, arg)
	}

	if !e.identity.IsAdmin(ev.Sender.ID) {
		return nil
	}

	t, ok, err := e.resolveTicket(ctx, ev)
	if err != nil {
		return err
	}
	if !ok {
		e.log.Debug("support message is not linked to a ticket", "message_id", ev.MessageID, "thread_id", ev.ThreadID)
		return nil
	}

	if err := e.relay.Deliver(ctx, ev, t, e.userMessages(ctx, t.UserID)); err != nil {
		e.supportNotice(ctx, ev, supportDeliveryFailed)
		return err
	}

	return nil
}

func (e *Engine) supportCommand(ctx context.Context, ev Event, name, arg string) error {
	switch name {
	case cmdID:
		e.supportNotice(ctx, ev, chatInfo(ev.ChatID, ev.ThreadID))
		return nil
	case cmdClose, cmdReply, cmdThreads:
	default:
		return nil
	}

	if !e.identity.IsAdmin(ev.Sender.ID) {
		e.supportNotice(ctx, ev, supportAdminOnly)
		return nil
	}

	switch name {
	case cmdClose:
		return e.closeBySupport(ctx, ev)

	case cmdReply:
		userRaw, text, _ := strings.Cut(arg, " ")
		userID, err := strconv.ParseInt(userRaw, 10, 64)
		text = strings.TrimSpace(text)
		if err != nil || userID == 0 || text == "" {
			e.supportNotice(ctx, ev, supportReplyUsage)
			return nil
		}
		if err := e.relay.DeliverText(ctx, userID, text, e.userMessages(ctx, userID)); err != nil {
			e.supportNotice(ctx, ev, supportDeliveryFailed)
			return err
		}
		return nil

	case cmdThreads:
		if err := e.tickets.ResetFallback(ctx); err != nil {
			return errm.Wrap(err, "reset fallback")
		}
		e.supportNotice(ctx, ev, supportFallbackReset)
		return nil
	}

	return nil
}

func (e *Engine) closeBySupport(ctx context.Context, ev Event) error {
	t, ok, err := e.resolveTicket(ctx, ev)
	if err != nil {
		return err
	}
	if !ok {
		e.supportNotice(ctx, ev, supportNothingToClose)
		return nil
	}

	// Notice goes before the thread is closed, closed threads reject messages.
	if t.InFallback() {
		defer e.supportNotice(ctx, ev, supportClosed(t))
	} else {
		e.supportNotice(ctx, ev, supportClosed(t))
	}

	closed, done, err := e.tickets.Close(ctx, t.UserID, ClosedByAdmin)
	if err != nil {
		return errm.Wrap(err, "close ticket", "ticket_no", t.No)
	}
	if !done {
		return nil
	}

	e.send(ctx, closed.UserID, e.userMessages(ctx, closed.UserID).ClosedBySupport(closed.No), SendOptions{})
	return nil
}

// resolveTicket finds the ticket of a support message: first by the replied message, then by the thread.
func (e *Engine) resolveTicket(ctx context.Context, ev Event) (Ticket, bool, error) {
	if ev.ReplyToID != 0 {
		t, ok, err := e.tickets.ResolveLink(ctx, ev.ChatID, ev.ReplyToID)
		if err != nil || ok {
			return t, ok, err
		}
	}
	return e.tickets.ByThread(ctx, ev.ThreadID)
}

func (e *Engine) reportFailure(ctx context.Context, chatID int64, msgs Messages, err error) {
	if IsRetryable(err) || errm.Is(err, ErrLockBusy) {
		e.send(ctx, chatID, msgs.Busy(), SendOptions{})
		return
	}
	e.send(ctx, chatID, msgs.SendFailed(), SendOptions{})
}

func (e *Engine) promptLanguage(ctx context.Context, chatID int64) {
	msgs := e.msgs.Messages(LanguageDefault)
	e.send(ctx, chatID, msgs.ChooseLanguage(), SendOptions{Buttons: languageKeyboard()})
}

func (e *Engine) userMessages(ctx context.Context, userID int64) Messages {
	return e.msgs.Messages(e.identity.LanguageOrDefault(ctx, userID))
}

func (e *Engine) supportNotice(ctx context.Context, ev Event, text string) {
	e.send(ctx, e.supportChatID, text, SendOptions{ThreadID: ev.ThreadID})
}

// send delivers a bot message. Failures are logged, they never change the routing outcome.
func (e *Engine) send(ctx context.Context, chatID int64, text string, opts SendOptions) {
	err := e.backoff.Do(ctx, func(ctx context.Context) error {
		_, err := e.provider.SendText(ctx, chatID, text, opts)
		return err
	})
	if err == nil {
		return
	}
	e.metrics.incProviderError(ErrorKindOf(err))
	if IsBlocked(err) {
		e.log.Debug("bot is blocked by user", "user_id", chatID)
		return
	}
	e.log.Warn("cannot send message", "error", err, "chat_id", chatID)
}

func (e *Engine) answer(ctx context.Context, ev Event) {
	if ev.CallbackID == "" {
		return
	}
	if err := e.provider.AnswerCallback(ctx, ev.CallbackID); err != nil {
		e.log.Debug("cannot answer callback", "error", err, "user_id", ev.Sender.ID)
	}
}
