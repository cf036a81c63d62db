package helpdesk

import "strings"

const (
	callbackLanguagePrefix = "lang:"
	callbackActionPrefix   = "act:"

	actionNewTicket   = "new"
	actionCloseTicket = "close"
	actionStatus      = "status"

	maxButtonsInRow = 8
)

// Keyboard is a builder of inline keyboards.
// Empty value of Keyboard is ready to use.
type Keyboard struct {
	rows      [][]Button
	rowLength int
}

// Inline creates a keyboard that puts at most rowLength buttons in a row.
func Inline(rowLength int, buttons ...Button) *Keyboard {
	kb := &Keyboard{rowLength: rowLength}
	kb.Add(buttons...)
	return kb
}

// Add adds buttons to the last row and starts new rows when it is full.
func (k *Keyboard) Add(buttons ...Button) *Keyboard {
	limit := k.rowLength
	if limit <= 0 || limit > maxButtonsInRow {
		limit = maxButtonsInRow
	}
	for _, btn := range buttons {
		if len(k.rows) == 0 || len(k.rows[len(k.rows)-1]) >= limit {
			k.rows = append(k.rows, make([]Button, 0, limit))
		}
		k.rows[len(k.rows)-1] = append(k.rows[len(k.rows)-1], btn)
	}
	return k
}

// Row starts a new row with the buttons.
func (k *Keyboard) Row(buttons ...Button) *Keyboard {
	if len(buttons) == 0 {
		return k
	}
	k.rows = append(k.rows, buttons)
	return k
}

// Rows returns the keyboard layout.
func (k *Keyboard) Rows() [][]Button {
	return k.rows
}

// languageKeyboard is shown before the user language is known, so it names languages in themselves.
func languageKeyboard() [][]Button {
	kb := Inline(len(SupportedLanguages))
	for _, l := range SupportedLanguages {
		kb.Add(Button{Text: l.Name(), Data: callbackLanguagePrefix + l.String()})
	}
	return kb.Rows()
}

func menuKeyboard(msgs Messages) [][]Button {
	return Inline(2).
		Add(
			Button{Text: msgs.NewTicketBtn(), Data: callbackActionPrefix + actionNewTicket},
			Button{Text: msgs.CloseTicketBtn(), Data: callbackActionPrefix + actionCloseTicket},
		).
		Row(Button{Text: msgs.StatusBtn(), Data: callbackActionPrefix + actionStatus}).
		Rows()
}

// parseCallback splits callback data like "lang:ru" into a prefix and a value.
func parseCallback(data string) (prefix, value string) {
	i := strings.IndexByte(data, ':')
	if i < 0 {
		return data, ""
	}
	return data[:i+1], data[i+1:]
}
