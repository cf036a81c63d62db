package helpdesk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelay_TextAndAttachment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tk, _, err := env.tickets.Ensure(ctx, Profile{ID: 42, Username: "john"}, false)
	require.NoError(t, err)

	ev := userText(42, "hello")
	ev.Sender.Username = "john"
	msgID, err := env.relay.Relay(ctx, ev, tk)
	require.NoError(t, err)

	posted := env.provider.lastTo(testSupportChatID)
	assert.Equal(t, msgID, posted.ID)
	assert.Equal(t, tk.ThreadID, posted.ThreadID)
	assert.Equal(t, "👤 @john (id 42)\n\nhello", posted.Text)

	link, ok, err := env.links.Resolve(ctx, testSupportChatID, msgID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Link{UserID: 42, TicketNo: tk.No}, link)

	photo := userPhoto(42)
	msgID, err = env.relay.Relay(ctx, photo, tk)
	require.NoError(t, err)

	copied := env.provider.lastTo(testSupportChatID)
	assert.Equal(t, msgID, copied.ID)
	assert.Equal(t, int64(42), copied.FromChatID)
	assert.Equal(t, photo.MessageID, copied.FromMsgID)
	assert.Equal(t, tk.ThreadID, copied.ThreadID)
}

func TestRelay_ThreadGone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tk, _, err := env.tickets.Ensure(ctx, Profile{ID: 42}, false)
	require.NoError(t, err)

	gone := tk.ThreadID
	env.provider.sendErr = func(chatID int64, threadID int) error {
		if chatID == testSupportChatID && threadID == gone {
			return providerErr(ErrorThreadGone)
		}
		return nil
	}

	_, err = env.relay.Relay(ctx, userText(42, "are you there?"), tk)
	require.NoError(t, err)

	moved, ok, err := env.tickets.OpenTicket(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tk.No, moved.No)
	assert.NotEqual(t, gone, moved.ThreadID)

	last := env.provider.lastTo(testSupportChatID)
	assert.Equal(t, moved.ThreadID, last.ThreadID)
	assert.Contains(t, last.Text, "are you there?")
}

func TestRelay_Errors(t *testing.T) {
	t.Run("retryable error is retried", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		tk, _, err := env.tickets.Ensure(ctx, Profile{ID: 42}, false)
		require.NoError(t, err)

		var calls int
		env.provider.sendErr = func(int64, int) error {
			calls++
			if calls == 1 {
				return providerErr(ErrorTransient)
			}
			return nil
		}
		_, err = env.relay.Relay(ctx, userText(42, "hi"), tk)
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("permanent error is returned with its kind", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		tk, _, err := env.tickets.Ensure(ctx, Profile{ID: 42}, false)
		require.NoError(t, err)

		var calls int
		env.provider.copyErr = func(int64, int) error {
			calls++
			return providerErr(ErrorPermanent)
		}
		_, err = env.relay.Relay(ctx, userPhoto(42), tk)
		require.Error(t, err)
		assert.Equal(t, ErrorPermanent, ErrorKindOf(err))
		assert.Equal(t, 1, calls)
	})
}

func TestRelay_Deliver(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	msgs := newDefaultMessageProvider().Messages(LanguageEnglish)

	tk, _, err := env.tickets.Ensure(ctx, Profile{ID: 42}, false)
	require.NoError(t, err)

	require.NoError(t, env.relay.Deliver(ctx, supportText(testAdminID, tk.ThreadID, 0, "we are on it"), tk, msgs))
	assert.Equal(t, "💬 Support:\n\nwe are on it", env.provider.lastTo(42).Text)

	got, _, err := env.tickets.OpenTicket(ctx, 42)
	require.NoError(t, err)
	assert.False(t, got.LastSupportActivityAt.IsZero())

	doc := supportText(testAdminID, tk.ThreadID, 0, "")
	doc.Content = AttachmentContent("document", "")
	require.NoError(t, env.relay.Deliver(ctx, doc, tk, msgs))
	copied := env.provider.lastTo(42)
	assert.Equal(t, testSupportChatID, copied.FromChatID)
	assert.Equal(t, doc.MessageID, copied.FromMsgID)

	env.provider.sendErr = func(chatID int64, _ int) error {
		if chatID == 42 {
			return providerErr(ErrorBlocked)
		}
		return nil
	}
	err = env.relay.Deliver(ctx, supportText(testAdminID, tk.ThreadID, 0, "hello?"), tk, msgs)
	assert.True(t, IsBlocked(err))

	err = env.relay.DeliverText(ctx, 42, "direct", msgs)
	assert.True(t, IsBlocked(err))

	env.provider.sendErr = nil
	require.NoError(t, env.relay.DeliverText(ctx, 77, "direct", msgs))
	assert.Equal(t, "💬 Support:\n\ndirect", env.provider.lastTo(77).Text)
}
