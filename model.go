package helpdesk

import (
	"strconv"
	"strings"
	"time"
)

// TicketStatus is a status of a ticket.
type TicketStatus string

const (
	TicketOpen   TicketStatus = "open"
	TicketClosed TicketStatus = "closed"
)

// ClosedBy says who closed a ticket.
type ClosedBy string

const (
	ClosedByUser  ClosedBy = "user"
	ClosedByAdmin ClosedBy = "admin"
)

// Profile contains user info, that can be obtained from the channel.
type Profile struct {
	ID           int64  `json:"id" bson:"id"`
	Username     string `json:"username,omitempty" bson:"username,omitempty"`
	FirstName    string `json:"first_name,omitempty" bson:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty" bson:"last_name,omitempty"`
	LanguageCode string `json:"language_code,omitempty" bson:"language_code,omitempty"`
}

// DisplayName returns @username, full name or empty string.
func (p Profile) DisplayName() string {
	if p.Username != "" {
		return "@" + p.Username
	}
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Tag returns a line that identifies the user for the support team, e.g. "@john (id 42)".
func (p Profile) Tag() string {
	id := "id " + strconv.FormatInt(p.ID, 10)
	if name := p.DisplayName(); name != "" {
		return name + " (" + id + ")"
	}
	return id
}

// Ticket is a conversation between a user and the support team.
// ThreadID is zero when the ticket lives in the general support chat.
type Ticket struct {
	No        int64        `json:"no" bson:"no"`
	UserID    int64        `json:"user_id" bson:"user_id"`
	ThreadID  int          `json:"thread_id,omitempty" bson:"thread_id,omitempty"`
	Status    TicketStatus `json:"status" bson:"status"`
	User      Profile      `json:"user" bson:"user"`
	CreatedAt time.Time    `json:"created_at" bson:"created_at"`
	ClosedAt  *time.Time   `json:"closed_at,omitempty" bson:"closed_at,omitempty"`
	ClosedBy  ClosedBy     `json:"closed_by,omitempty" bson:"closed_by,omitempty"`

	// Activity timestamps are stored outside of the ticket record and are filled on load.
	LastUserActivityAt    time.Time `json:"-" bson:"last_user_activity_at,omitempty"`
	LastSupportActivityAt time.Time `json:"-" bson:"last_support_activity_at,omitempty"`
}

// IsOpen returns true if the ticket is open.
func (t Ticket) IsOpen() bool {
	return t.Status == TicketOpen
}

// InFallback returns true if the ticket has no thread.
func (t Ticket) InFallback() bool {
	return t.ThreadID == 0
}

// Link is a resolved message link: a message in the support chat that belongs to a user ticket.
type Link struct {
	UserID   int64
	TicketNo int64
}

// ActivitySide is a side of the conversation.
type ActivitySide string

const (
	SideUser    ActivitySide = "user"
	SideSupport ActivitySide = "support"
)
