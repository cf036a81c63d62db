package helpdesk

import (
	"context"

	"github.com/maxbolgarin/errm"
)

// Relay moves message content between users and the support chat.
type Relay struct {
	provider      ChannelProvider
	links         *MessageLinkTable
	tickets       *TicketStore
	supportChatID int64
	backoff       Backoff
	metrics       *metrics
	log           Logger
}

// NewRelay creates a new Relay.
func NewRelay(provider ChannelProvider, links *MessageLinkTable, tickets *TicketStore,
	supportChatID int64, backoff Backoff, log Logger) *Relay {

	if backoff.Attempts == 0 {
		backoff = DefaultBackoff()
	}
	return &Relay{
		provider:      provider,
		links:         links,
		tickets:       tickets,
		supportChatID: supportChatID,
		backoff:       backoff,
		log:           orNoop(log),
	}
}

// Relay posts a user message into the ticket thread (or the support chat in fallback mode),
// links the posted message to the user and touches user activity of the ticket.
// If the thread is gone, a new thread is allocated for the same ticket and the message is posted there.
func (r *Relay) Relay(ctx context.Context, ev Event, t Ticket) (int, error) {
	msgID, err := r.post(ctx, ev, t.ThreadID)
	if err != nil && IsThreadGone(err) && t.ThreadID != 0 {
		r.log.Warn("ticket thread is gone, reallocating", "ticket_no", t.No, "thread_id", t.ThreadID)

		moved, rerr := r.tickets.ReallocateThread(ctx, t)
		if rerr != nil {
			return 0, errm.Wrap(rerr, "reallocate thread", "ticket_no", t.No)
		}
		t = moved
		msgID, err = r.post(ctx, ev, t.ThreadID)
	}
	if err != nil {
		r.metrics.incProviderError(ErrorKindOf(err))
		return 0, errm.Wrap(err, "relay to support", "ticket_no", t.No, "user_id", ev.Sender.ID)
	}

	if err := r.links.Link(ctx, r.supportChatID, msgID, t.UserID, t.No); err != nil {
		r.log.Warn("cannot link relayed message", "error", err, "ticket_no", t.No, "message_id", msgID)
	}
	r.tickets.Touch(ctx, t, SideUser)
	r.metrics.incRelayed(SideUser, ev.Content.Kind)

	return msgID, nil
}

// Deliver sends a support message to the ticket owner. Text is prefixed with the support label,
// attachments are copied as is.
func (r *Relay) Deliver(ctx context.Context, ev Event, t Ticket, msgs Messages) error {
	err := r.backoff.Do(ctx, func(ctx context.Context) error {
		var err error
		if ev.Content.IsText() {
			_, err = r.provider.SendText(ctx, t.UserID, supportReply(msgs, ev.Content.Text), SendOptions{})
		} else {
			_, err = r.provider.CopyMessage(ctx, t.UserID, ev.ChatID, ev.MessageID, SendOptions{})
		}
		return err
	})
	if err != nil {
		r.metrics.incProviderError(ErrorKindOf(err))
		return errm.Wrap(err, "deliver to user", "ticket_no", t.No, "user_id", t.UserID)
	}

	r.tickets.Touch(ctx, t, SideSupport)
	r.metrics.incRelayed(SideSupport, ev.Content.Kind)

	return nil
}

// DeliverText sends a support text to any user, with or without a ticket.
func (r *Relay) DeliverText(ctx context.Context, userID int64, text string, msgs Messages) error {
	err := r.backoff.Do(ctx, func(ctx context.Context) error {
		_, err := r.provider.SendText(ctx, userID, supportReply(msgs, text), SendOptions{})
		return err
	})
	if err != nil {
		r.metrics.incProviderError(ErrorKindOf(err))
		return errm.Wrap(err, "deliver text", "user_id", userID)
	}
	r.metrics.incRelayed(SideSupport, ContentText)
	return nil
}

func (r *Relay) post(ctx context.Context, ev Event, threadID int) (int, error) {
	opts := SendOptions{ThreadID: threadID}

	var msgID int
	err := r.backoff.Do(ctx, func(ctx context.Context) error {
		var err error
		if ev.Content.IsText() {
			msgID, err = r.provider.SendText(ctx, r.supportChatID, relayHeader(ev.Sender, ev.Content.Text), opts)
		} else {
			msgID, err = r.provider.CopyMessage(ctx, r.supportChatID, ev.ChatID, ev.MessageID, opts)
		}
		return err
	})
	return msgID, err
}
