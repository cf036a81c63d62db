package helpdesk

import "context"

// State is a routing state of a user.
type State string

const (
	// StateNoLanguage is the state of a user who has not chosen a language. Messages are not forwarded.
	StateNoLanguage State = "no_language"
	// StateIdle is the state of a user without an open ticket.
	StateIdle State = "idle"
	// StateTicketOpen is the state of a user with an open ticket.
	StateTicketOpen State = "ticket_open"
)

func (s State) String() string {
	return string(s)
}

// State returns the current routing state of the user.
func (e *Engine) State(ctx context.Context, userID int64) (State, error) {
	_, ok, err := e.identity.Language(ctx, userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return StateNoLanguage, nil
	}

	_, open, err := e.tickets.OpenTicket(ctx, userID)
	if err != nil {
		return "", err
	}
	if open {
		return StateTicketOpen, nil
	}
	return StateIdle, nil
}
