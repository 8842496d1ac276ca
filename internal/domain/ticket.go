package domain

import (
	"fmt"
	"time"
)

// Ticket is a support request bound 1:1 to a guild channel.
type Ticket struct {
	ID           string
	Number       int64
	GuildID      string
	CategoryID   string
	CreatedBy    string
	ClaimedBy    *string
	Topic        *string
	Open         bool
	Deleted      bool
	CreatedAt    time.Time
	ClosedAt     *time.Time
	ClosedBy     *string
	CloseReason  *string
	ChannelID    string
	MessageCount int
}

// TicketID derives the opaque ticket id from guild and number.
func TicketID(guildID string, number int64) string {
	return fmt.Sprintf("%s-%d", guildID, number)
}

// Claimed reports whether a staff member currently owns the ticket.
func (t *Ticket) Claimed() bool {
	return t.ClaimedBy != nil && *t.ClaimedBy != ""
}

// TicketQuestionAnswer is a member's answer to a category question, one per (ticket, question).
type TicketQuestionAnswer struct {
	TicketID   string
	QuestionID string
	UserID     string
	Value      string
}
