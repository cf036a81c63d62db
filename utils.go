package helpdesk

import (
	"errors"
	"strconv"
	"strings"

	"github.com/maxbolgarin/lang"
	tele "gopkg.in/telebot.v4"
)

// Telegram reports most failures only by description, so errors are matched by text.
var (
	capabilityErrorTexts = []string{
		"the chat is not a forum",
		"not enough rights to create a topic",
		"not enough rights to manage topics",
		"method is available only for supergroups",
		"chat_not_forum",
	}
	threadGoneErrorTexts = []string{
		"message thread not found",
		"topic_deleted",
		"topic_closed",
		"topic not found",
	}
	blockedErrorTexts = []string{
		"bot was blocked by the user",
		"user is deactivated",
		"bot can't initiate conversation with a user",
		"chat not found",
	}
)

func hasErrorText(err error, texts []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, t := range texts {
		if strings.Contains(msg, t) {
			return true
		}
	}
	return false
}

// telegramErrorCode returns the code of an error that came from the Bot API.
// The second value is false for network errors and other failures before a response.
func telegramErrorCode(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	var terr *tele.Error
	if errors.As(err, &terr) {
		return terr.Code, true
	}

	// Unknown API errors look like "telegram: Bad Request: ... (400)".
	msg := err.Error()
	if !strings.HasPrefix(msg, "telegram") {
		return 0, false
	}
	open := strings.LastIndexByte(msg, '(')
	if open < 0 || !strings.HasSuffix(msg, ")") {
		return 0, true
	}
	code, convErr := strconv.Atoi(msg[open+1 : len(msg)-1])
	if convErr != nil {
		return 0, true
	}
	return code, true
}

// logMembership logs when a user blocks or unblocks the bot. Such updates carry nothing to route.
func logMembership(upd tele.Update, log Logger) {
	if upd.MyChatMember == nil {
		return
	}
	oldRole := lang.Deref(upd.MyChatMember.OldChatMember).Role
	newRole := lang.Deref(upd.MyChatMember.NewChatMember).Role
	sender := lang.Deref(upd.MyChatMember.Sender)

	switch {
	case newRole == tele.Kicked:
		log.Warn("bot is blocked", "user_id", sender.ID, "username", sender.Username,
			"old_role", oldRole, "new_role", newRole)
	case oldRole == tele.Kicked:
		log.Info("bot is unblocked", "user_id", sender.ID, "username", sender.Username,
			"old_role", oldRole, "new_role", newRole)
	}
}
