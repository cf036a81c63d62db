package helpdesk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func TestEventFromUpdate_PrivateText(t *testing.T) {
	ev, ok := EventFromUpdate(tele.Update{
		ID: 15,
		Message: &tele.Message{
			ID:     3,
			Text:   "hello",
			Chat:   &tele.Chat{ID: 42, Type: tele.ChatPrivate},
			Sender: &tele.User{ID: 42, Username: "john", LanguageCode: "ru"},
		},
	})
	require.True(t, ok)

	assert.Equal(t, "15", ev.ID)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.True(t, ev.Private)
	assert.Equal(t, int64(42), ev.ChatID)
	assert.Equal(t, 3, ev.MessageID)
	assert.Equal(t, TextContent("hello"), ev.Content)
	assert.Equal(t, Profile{ID: 42, Username: "john", LanguageCode: "ru"}, ev.Sender)
	assert.Zero(t, ev.ThreadID)
	assert.Zero(t, ev.ReplyToID)
}

func TestEventFromUpdate_Topic(t *testing.T) {
	supergroup := &tele.Chat{ID: testSupportChatID, Type: tele.ChatSuperGroup}

	t.Run("plain message in a topic", func(t *testing.T) {
		ev, ok := EventFromUpdate(tele.Update{ID: 1, Message: &tele.Message{
			ID:           20,
			Text:         "answer",
			Chat:         supergroup,
			Sender:       &tele.User{ID: testAdminID},
			ThreadID:     10,
			TopicMessage: true,
			ReplyTo:      &tele.Message{ID: 10},
		}})
		require.True(t, ok)
		assert.False(t, ev.Private)
		assert.Equal(t, 10, ev.ThreadID)
		assert.Zero(t, ev.ReplyToID, "topic root is not a reply")
	})

	t.Run("reply in a topic", func(t *testing.T) {
		ev, ok := EventFromUpdate(tele.Update{ID: 2, Message: &tele.Message{
			ID:           21,
			Text:         "answer",
			Chat:         supergroup,
			Sender:       &tele.User{ID: testAdminID},
			ThreadID:     10,
			TopicMessage: true,
			ReplyTo:      &tele.Message{ID: 15},
		}})
		require.True(t, ok)
		assert.Equal(t, 15, ev.ReplyToID)
	})

	t.Run("reply in the general chat", func(t *testing.T) {
		ev, ok := EventFromUpdate(tele.Update{ID: 3, Message: &tele.Message{
			ID:      22,
			Text:    "answer",
			Chat:    supergroup,
			Sender:  &tele.User{ID: testAdminID},
			ReplyTo: &tele.Message{ID: 15},
		}})
		require.True(t, ok)
		assert.Zero(t, ev.ThreadID)
		assert.Equal(t, 15, ev.ReplyToID)
	})
}

func TestEventFromUpdate_Attachment(t *testing.T) {
	ev, ok := EventFromUpdate(tele.Update{ID: 4, Message: &tele.Message{
		ID:      5,
		Caption: "screenshot",
		Photo:   &tele.Photo{},
		Chat:    &tele.Chat{ID: 42, Type: tele.ChatPrivate},
		Sender:  &tele.User{ID: 42},
	}})
	require.True(t, ok)
	assert.Equal(t, AttachmentContent("photo", "screenshot"), ev.Content)
	assert.False(t, ev.Content.IsText())

	ev, ok = EventFromUpdate(tele.Update{ID: 5, Message: &tele.Message{
		ID:       6,
		Document: &tele.Document{},
		Chat:     &tele.Chat{ID: 42, Type: tele.ChatPrivate},
		Sender:   &tele.User{ID: 42},
	}})
	require.True(t, ok)
	assert.Equal(t, "document", ev.Content.Attachment)
}

func TestEventFromUpdate_Callback(t *testing.T) {
	ev, ok := EventFromUpdate(tele.Update{ID: 6, Callback: &tele.Callback{
		ID:      "cb1",
		Data:    "lang:ru",
		Sender:  &tele.User{ID: 42},
		Message: &tele.Message{ID: 9, Chat: &tele.Chat{ID: 42, Type: tele.ChatPrivate}},
	}})
	require.True(t, ok)
	assert.Equal(t, EventCallback, ev.Kind)
	assert.Equal(t, "cb1", ev.CallbackID)
	assert.Equal(t, "lang:ru", ev.CallbackData)
	assert.Equal(t, int64(42), ev.ChatID)
	assert.True(t, ev.Private)

	_, ok = EventFromUpdate(tele.Update{ID: 7, Callback: &tele.Callback{ID: "cb2"}})
	assert.False(t, ok)
}

func TestEventFromUpdate_Ignored(t *testing.T) {
	private := &tele.Chat{ID: 42, Type: tele.ChatPrivate}
	updates := map[string]tele.Update{
		"empty":   {ID: 1},
		"edited":  {ID: 2, EditedMessage: &tele.Message{ID: 1, Text: "x", Chat: private, Sender: &tele.User{ID: 42}}},
		"bot":     {ID: 3, Message: &tele.Message{ID: 1, Text: "x", Chat: private, Sender: &tele.User{ID: 1, IsBot: true}}},
		"no chat": {ID: 4, Message: &tele.Message{ID: 1, Text: "x", Sender: &tele.User{ID: 42}}},
		"service": {ID: 5, Message: &tele.Message{ID: 1, Chat: private, Sender: &tele.User{ID: 42}}},
	}
	for name, upd := range updates {
		if _, ok := EventFromUpdate(upd); ok {
			t.Fatalf("%s: expected update to be ignored", name)
		}
	}
}

func TestEvent_Command(t *testing.T) {
	tests := []struct {
		text string
		name string
		arg  string
		ok   bool
	}{
		{"/start", "/start", "", true},
		{"/start promo_1", "/start", "promo_1", true},
		{"/close@helpdesk_bot", "/close", "", true},
		{"/reply 42 hello  world ", "/reply", "42 hello  world", true},
		{"hello /start", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		name, arg, ok := Event{Kind: EventMessage, Content: TextContent(tt.text)}.Command()
		if name != tt.name || arg != tt.arg || ok != tt.ok {
			t.Fatalf("%q: expected (%q, %q, %v), got (%q, %q, %v)", tt.text, tt.name, tt.arg, tt.ok, name, arg, ok)
		}
	}

	if _, _, ok := (Event{Kind: EventCallback, CallbackData: "/start"}).Command(); ok {
		t.Fatalf("callbacks are not commands")
	}
	if _, _, ok := (Event{Kind: EventMessage, Content: AttachmentContent("photo", "/start")}).Command(); ok {
		t.Fatalf("captions are not commands")
	}
}
