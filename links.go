package helpdesk

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/maxbolgarin/errm"
)

// DefaultLinkTTL is how long a support chat message can be replied to.
const DefaultLinkTTL = 30 * 24 * time.Hour

// MessageLinkTable maps messages posted to the support chat to the user and ticket they belong to.
type MessageLinkTable struct {
	store KeyValueStore
	ttl   time.Duration
}

// NewMessageLinkTable creates a new MessageLinkTable. Zero ttl means DefaultLinkTTL.
func NewMessageLinkTable(store KeyValueStore, ttl time.Duration) *MessageLinkTable {
	return &MessageLinkTable{
		store: store,
		ttl:   positiveOr(ttl, DefaultLinkTTL),
	}
}

// Link records that message messageID in chat chatID was posted for ticket ticketNo of user userID.
func (t *MessageLinkTable) Link(ctx context.Context, chatID int64, messageID int, userID, ticketNo int64) error {
	if messageID == 0 {
		return nil
	}
	value := i64(userID) + ":" + i64(ticketNo)
	if err := t.store.Set(ctx, linkKey(chatID, messageID), value, t.ttl); err != nil {
		return errm.Wrap(err, "save link", "chat_id", chatID, "message_id", messageID)
	}
	return nil
}

// Resolve returns the link of the message. It does not check whether the ticket is still open,
// use TicketStore.ResolveLink for routing.
func (t *MessageLinkTable) Resolve(ctx context.Context, chatID int64, messageID int) (Link, bool, error) {
	if messageID == 0 {
		return Link{}, false, nil
	}
	raw, err := t.store.Get(ctx, linkKey(chatID, messageID))
	switch {
	case errm.Is(err, ErrNotFound):
		return Link{}, false, nil
	case err != nil:
		return Link{}, false, errm.Wrap(err, "get link", "chat_id", chatID, "message_id", messageID)
	}

	link, err := parseLink(raw)
	if err != nil {
		return Link{}, false, errm.Wrap(err, "parse link", "value", raw)
	}
	return link, true, nil
}

func parseLink(raw string) (Link, error) {
	userRaw, ticketRaw, _ := strings.Cut(raw, ":")

	userID, err := strconv.ParseInt(userRaw, 10, 64)
	if err != nil {
		return Link{}, err
	}
	link := Link{UserID: userID}

	// Links without a ticket number are accepted for any open ticket of the user.
	if ticketRaw != "" {
		link.TicketNo, err = strconv.ParseInt(ticketRaw, 10, 64)
		if err != nil {
			return Link{}, err
		}
	}
	return link, nil
}
