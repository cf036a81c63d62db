package helpdesk

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultMessageProvider(t *testing.T) {
	p := newDefaultMessageProvider()

	if got := p.Messages(LanguageRussian).Sent(3); got != "✅ Отправлено в поддержку. Тикет #3" {
		t.Fatalf("unexpected russian text: %q", got)
	}
	if got := p.Messages(LanguageEnglish).Sent(3); got != "✅ Sent to support. Ticket #3" {
		t.Fatalf("unexpected english text: %q", got)
	}
	if p.Messages("de") != p.Messages(LanguageDefault) {
		t.Fatalf("unknown language must fall back to the default one")
	}

	for _, l := range SupportedLanguages {
		m := p.Messages(l)
		texts := []string{
			m.ChooseLanguage(), m.LanguageSaved(), m.Welcome(), m.TooFast(), m.NoTicket(),
			m.SendFailed(), m.Busy(), m.Misconfigured(), m.AdminOnly(), m.UnknownCommand(),
			m.SupportLabel(), m.NewTicketBtn(), m.CloseTicketBtn(), m.StatusBtn(),
			m.NewTicket(1), m.StatusClosed(1), m.ClosedBySupport(1), m.ClosedByUser(1),
			m.StatusOpen(1, time.Time{}),
		}
		for i, text := range texts {
			if text == "" {
				t.Fatalf("%s: text %d is empty", l, i)
			}
			if strings.Contains(text, "%!") {
				t.Fatalf("%s: bad format in %q", l, text)
			}
		}
	}
}

func TestStatusOpen(t *testing.T) {
	m := newDefaultMessageProvider().Messages(LanguageEnglish)

	last := time.Date(2024, 3, 5, 14, 7, 0, 0, time.FixedZone("MSK", 3*3600))
	got := m.StatusOpen(12, last)
	if got != "🧾 Ticket #12: OPEN\nLast message: 2024-03-05 11:07 UTC" {
		t.Fatalf("unexpected status: %q", got)
	}
	if got := m.StatusOpen(12, time.Time{}); !strings.HasSuffix(got, "Last message: —") {
		t.Fatalf("unexpected status without activity: %q", got)
	}
}

func TestSupportTexts(t *testing.T) {
	tk := Ticket{No: 7, User: Profile{ID: 42, Username: "john", LanguageCode: "ru"}}

	header := ticketHeader(tk, "")
	if header != "🆕 Ticket #7\nUser: @john (id 42)\nClient language: ru" {
		t.Fatalf("unexpected header: %q", header)
	}
	tk.User.LanguageCode = ""
	header = ticketHeader(tk, "promo")
	if header != "🆕 Ticket #7\nUser: @john (id 42)\nStart: promo" {
		t.Fatalf("unexpected header: %q", header)
	}

	if got := relayHeader(Profile{ID: 5, FirstName: "Ann", LastName: "Lee"}, "hi"); got != "👤 Ann Lee (id 5)\n\nhi" {
		t.Fatalf("unexpected relay header: %q", got)
	}
	if got := relayHeader(Profile{ID: 5}, "hi"); got != "👤 id 5\n\nhi" {
		t.Fatalf("unexpected relay header: %q", got)
	}

	msgs := newDefaultMessageProvider().Messages(LanguageEnglish)
	if got := supportReply(msgs, "ok"); got != "💬 Support:\n\nok" {
		t.Fatalf("unexpected reply: %q", got)
	}

	if got := chatInfo(-100, 0); got != "chat.id = -100" {
		t.Fatalf("unexpected chat info: %q", got)
	}
	if got := chatInfo(-100, 9); got != "chat.id = -100\nthread = 9" {
		t.Fatalf("unexpected chat info: %q", got)
	}

	if got := supportClosedByUser(tk); got != "🔒 Ticket #7 was closed by the user @john (id 42)." {
		t.Fatalf("unexpected close notice: %q", got)
	}
}

func TestBuilder(t *testing.T) {
	var b Builder
	b.Writef("%d-", 1)
	b.Writeln("a")
	b.WriteIf(true, "yes", "no")
	b.WriteIf(false, "yes", "no")
	if got := b.String(); got != "1-a\nyesno" {
		t.Fatalf("unexpected builder output: %q", got)
	}
}
