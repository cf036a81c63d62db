package helpdesk

import (
	"fmt"
	"strings"
	"time"
)

// MessageProvider is an interface for providing messages based on the user language.
type MessageProvider interface {
	// Messages returns messages for a specific language.
	Messages(lang Language) Messages
}

// Messages is a collection of user facing texts for a specific language.
type Messages interface {
	ChooseLanguage() string
	LanguageSaved() string
	Welcome() string
	TooFast() string
	NewTicket(no int64) string
	Sent(no int64) string
	NoTicket() string
	StatusOpen(no int64, lastMessage time.Time) string
	StatusClosed(no int64) string
	// SendFailed is sent when a message was not delivered because of a permanent error.
	SendFailed() string
	// Busy is sent when the support chat did not accept a message after all retries.
	Busy() string
	// Misconfigured warns that the support chat has no threads and tickets share one chat.
	Misconfigured() string
	AdminOnly() string
	UnknownCommand() string
	ClosedBySupport(no int64) string
	ClosedByUser(no int64) string
	// SupportLabel prefixes text replies of the support team.
	SupportLabel() string

	NewTicketBtn() string
	CloseTicketBtn() string
	StatusBtn() string
}

// Builder is a wrapper for strings.Builder with additional methods.
// Empty value of Builder is ready to use.
type Builder struct {
	strings.Builder
}

// Writef writes a formatted string to the builder using fmt.Sprintf.
func (b *Builder) Writef(format string, args ...any) {
	b.WriteString(fmt.Sprintf(format, args...))
}

// Writeln writes a string to the builder and adds a newline at the end.
func (b *Builder) Writeln(s string) {
	b.WriteString(s + "\n")
}

// WriteIf writes either msgIf or msgElse depending on the value of first argument.
func (b *Builder) WriteIf(toWrite bool, msgIf, msgElse string) {
	if toWrite {
		b.WriteString(msgIf)
	} else {
		b.WriteString(msgElse)
	}
}

// Support chat texts are not localized, the support team reads one language.

func ticketHeader(t Ticket, startPayload string) string {
	var b Builder
	b.Writef("🆕 Ticket #%d\n", t.No)
	b.WriteString("User: " + t.User.Tag())
	if startPayload != "" {
		b.WriteString("\nStart: " + startPayload)
	}
	if t.User.LanguageCode != "" {
		b.WriteString("\nClient language: " + t.User.LanguageCode)
	}
	return b.String()
}

func relayHeader(p Profile, text string) string {
	return "👤 " + p.Tag() + "\n\n" + text
}

func supportReply(msgs Messages, text string) string {
	return msgs.SupportLabel() + "\n\n" + text
}

func chatInfo(chatID int64, threadID int) string {
	var b Builder
	b.Writef("chat.id = %d", chatID)
	if threadID != 0 {
		b.Writef("\nthread = %d", threadID)
	}
	return b.String()
}

const (
	supportAdminOnly      = "⚠️ Admin only."
	supportFallbackReset  = "Thread mode re-enabled. The next ticket will try to create a topic."
	supportNothingToClose = "No open ticket here."
	supportReplyUsage     = "Usage: /reply <user_id> <text>"
	supportDeliveryFailed = "⚠️ Message was not delivered to the user."
)

func supportClosed(t Ticket) string {
	return fmt.Sprintf("✅ Ticket #%d closed.", t.No)
}

func supportClosedByUser(t Ticket) string {
	return fmt.Sprintf("🔒 Ticket #%d was closed by the user %s.", t.No, t.User.Tag())
}

func formatLastMessage(t time.Time) string {
	if t.IsZero() {
		return "—"
	}
	return t.UTC().Format("2006-01-02 15:04 MST")
}

type defaultMessageProvider struct {
	byLang map[Language]*textMessages
}

func newDefaultMessageProvider() MessageProvider {
	return &defaultMessageProvider{
		byLang: map[Language]*textMessages{
			LanguageEnglish: &englishMessages,
			LanguageRussian: &russianMessages,
		},
	}
}

func (p *defaultMessageProvider) Messages(lang Language) Messages {
	if m, ok := p.byLang[lang]; ok {
		return m
	}
	return p.byLang[LanguageDefault]
}

type textMessages struct {
	chooseLanguage  string
	languageSaved   string
	welcome         string
	tooFast         string
	newTicket       string
	sent            string
	noTicket        string
	statusOpen      string
	statusClosed    string
	sendFailed      string
	busy            string
	misconfigured   string
	adminOnly       string
	unknownCommand  string
	closedBySupport string
	closedByUser    string
	supportLabel    string
	newTicketBtn    string
	closeTicketBtn  string
	statusBtn       string
}

func (m *textMessages) ChooseLanguage() string { return m.chooseLanguage }
func (m *textMessages) LanguageSaved() string  { return m.languageSaved }
func (m *textMessages) Welcome() string        { return m.welcome }
func (m *textMessages) TooFast() string        { return m.tooFast }
func (m *textMessages) NoTicket() string       { return m.noTicket }
func (m *textMessages) SendFailed() string     { return m.sendFailed }
func (m *textMessages) Busy() string           { return m.busy }
func (m *textMessages) Misconfigured() string  { return m.misconfigured }
func (m *textMessages) AdminOnly() string      { return m.adminOnly }
func (m *textMessages) UnknownCommand() string { return m.unknownCommand }
func (m *textMessages) SupportLabel() string   { return m.supportLabel }
func (m *textMessages) NewTicketBtn() string   { return m.newTicketBtn }
func (m *textMessages) CloseTicketBtn() string { return m.closeTicketBtn }
func (m *textMessages) StatusBtn() string      { return m.statusBtn }

func (m *textMessages) NewTicket(no int64) string       { return fmt.Sprintf(m.newTicket, no) }
func (m *textMessages) Sent(no int64) string            { return fmt.Sprintf(m.sent, no) }
func (m *textMessages) StatusClosed(no int64) string    { return fmt.Sprintf(m.statusClosed, no) }
func (m *textMessages) ClosedBySupport(no int64) string { return fmt.Sprintf(m.closedBySupport, no) }
func (m *textMessages) ClosedByUser(no int64) string    { return fmt.Sprintf(m.closedByUser, no) }

func (m *textMessages) StatusOpen(no int64, lastMessage time.Time) string {
	return fmt.Sprintf(m.statusOpen, no, formatLastMessage(lastMessage))
}

var englishMessages = textMessages{
	chooseLanguage:  "Choose support language:",
	languageSaved:   "Done. Language: English.\n\nSend your question as a message, I will forward it to support.\nCommands: /new /status /close",
	welcome:         "Send your question as a message, I will forward it to support.\nCommands: /new /status /close",
	tooFast:         "⏳ Too fast. Wait ~2 seconds and send again.",
	newTicket:       "✅ New ticket created. Ticket #%d\nSend your message.",
	sent:            "✅ Sent to support. Ticket #%d",
	noTicket:        "No active tickets.",
	statusOpen:      "🧾 Ticket #%d: OPEN\nLast message: %s",
	statusClosed:    "🧾 Ticket #%d: CLOSED",
	sendFailed:      "⚠️ Failed to forward. Try again.",
	busy:            "⚠️ Support chat is busy right now. Please send your message again in a minute.",
	misconfigured:   "⚠️ Support chat is misconfigured (topics/forum). Message forwarded without topic.",
	adminOnly:       supportAdminOnly,
	unknownCommand:  "Unknown command. Available: /new /status /close",
	closedBySupport: "🧾 Ticket #%d was closed by support. Use /new to open a new one.",
	closedByUser:    "🧾 Ticket #%d closed. Send a message to open a new one.",
	supportLabel:    "💬 Support:",
	newTicketBtn:    "🆕 New ticket",
	closeTicketBtn:  "✅ Close ticket",
	statusBtn:       "🧾 Status",
}

var russianMessages = textMessages{
	chooseLanguage:  "Выбери язык поддержки:",
	languageSaved:   "Готово. Язык: Русский.\n\nОтправь вопрос сообщением, я передам в поддержку.\nКоманды: /new /status /close",
	welcome:         "Отправь вопрос сообщением, я передам в поддержку.\nКоманды: /new /status /close",
	tooFast:         "⏳ Слишком часто. Подожди ~2 секунды и отправь снова.",
	newTicket:       "✅ Создан новый тикет. Тикет #%d\nОтправь сообщение.",
	sent:            "✅ Отправлено в поддержку. Тикет #%d",
	noTicket:        "Активных тикетов нет.",
	statusOpen:      "🧾 Тикет #%d: ОТКРЫТ\nПоследнее сообщение: %s",
	statusClosed:    "🧾 Тикет #%d: ЗАКРЫТ",
	sendFailed:      "⚠️ Не получилось отправить в поддержку. Попробуй ещё раз.",
	busy:            "⚠️ Поддержка сейчас перегружена. Отправь сообщение ещё раз через минуту.",
	misconfigured:   "⚠️ Чат поддержки настроен без Topics/форума. Сообщение отправлено без темы.",
	adminOnly:       "⚠️ Только для админов.",
	unknownCommand:  "Неизвестная команда. Доступно: /new /status /close",
	closedBySupport: "🧾 Тикет #%d закрыт поддержкой. Используй /new чтобы открыть новый.",
	closedByUser:    "🧾 Тикет #%d закрыт. Напиши сообщение, чтобы открыть новый.",
	supportLabel:    "💬 Поддержка:",
	newTicketBtn:    "🆕 Новый тикет",
	closeTicketBtn:  "✅ Закрыть тикет",
	statusBtn:       "🧾 Статус",
}
