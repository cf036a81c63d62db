package helpdesk

import (
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// EventKind is a kind of inbound event.
type EventKind string

const (
	EventMessage  EventKind = "message"
	EventCallback EventKind = "callback"
)

// Event is an inbound update normalized to what the routing engine needs.
type Event struct {
	// ID is the provider update id, used for deduplication.
	ID   string
	Kind EventKind

	ChatID int64
	// Private is true for a direct chat between the user and the bot.
	Private bool
	Sender  Profile

	MessageID int
	// ThreadID is the thread of the message in a forum chat.
	ThreadID  int
	ReplyToID int
	Content   Content

	CallbackID   string
	CallbackData string
}

// Command returns the command name and its argument for messages like "/reply 42 hi".
// Bot mentions like "/close@support_bot" are stripped.
func (e Event) Command() (name, arg string, ok bool) {
	if e.Kind != EventMessage || !e.Content.IsText() || !strings.HasPrefix(e.Content.Text, "/") {
		return "", "", false
	}
	name, arg, _ = strings.Cut(strings.TrimSpace(e.Content.Text), " ")
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}
	return name, strings.TrimSpace(arg), true
}

// EventFromUpdate converts an update into an Event.
// It returns false for updates the helpdesk does not handle (edits, service messages, etc.).
func EventFromUpdate(upd tele.Update) (Event, bool) {
	id := strconv.Itoa(upd.ID)

	switch {
	case upd.Callback != nil:
		cb := upd.Callback
		if cb.Sender == nil {
			return Event{}, false
		}
		ev := Event{
			ID:           id,
			Kind:         EventCallback,
			Sender:       profileFromUser(cb.Sender),
			CallbackID:   cb.ID,
			CallbackData: cb.Data,
		}
		if cb.Message != nil && cb.Message.Chat != nil {
			ev.ChatID = cb.Message.Chat.ID
			ev.Private = cb.Message.Chat.Type == tele.ChatPrivate
			ev.MessageID = cb.Message.ID
		}
		return ev, true

	case upd.Message != nil:
		msg := upd.Message
		if msg.Chat == nil || msg.Sender == nil || msg.Sender.IsBot {
			return Event{}, false
		}
		content, ok := contentOf(msg)
		if !ok {
			return Event{}, false
		}
		ev := Event{
			ID:        id,
			Kind:      EventMessage,
			ChatID:    msg.Chat.ID,
			Private:   msg.Chat.Type == tele.ChatPrivate,
			Sender:    profileFromUser(msg.Sender),
			MessageID: msg.ID,
			Content:   content,
		}
		if msg.TopicMessage {
			ev.ThreadID = msg.ThreadID
		}
		// Inside a topic every message replies to the topic creation message, it is not a real reply.
		if msg.ReplyTo != nil && (msg.ReplyTo.ID != msg.ThreadID || !msg.TopicMessage) {
			ev.ReplyToID = msg.ReplyTo.ID
		}
		return ev, true
	}

	return Event{}, false
}

func profileFromUser(u *tele.User) Profile {
	return Profile{
		ID:           u.ID,
		Username:     u.Username,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		LanguageCode: u.LanguageCode,
	}
}

func contentOf(msg *tele.Message) (Content, bool) {
	if msg.Text != "" {
		return TextContent(msg.Text), true
	}

	var kind string
	switch {
	case msg.Photo != nil:
		kind = "photo"
	case msg.Document != nil:
		kind = "document"
	case msg.Video != nil:
		kind = "video"
	case msg.Animation != nil:
		kind = "animation"
	case msg.Voice != nil:
		kind = "voice"
	case msg.VideoNote != nil:
		kind = "video_note"
	case msg.Audio != nil:
		kind = "audio"
	case msg.Sticker != nil:
		kind = "sticker"
	case msg.Contact != nil:
		kind = "contact"
	case msg.Venue != nil:
		kind = "venue"
	case msg.Location != nil:
		kind = "location"
	case msg.Poll != nil:
		kind = "poll"
	case msg.Dice != nil:
		kind = "dice"
	default:
		return Content{}, false
	}

	return AttachmentContent(kind, msg.Caption), true
}
