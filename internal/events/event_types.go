package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/guild-tickets/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated   EventType = "ticket_created"
	EventTicketClaimed   EventType = "ticket_claimed"
	EventTicketUnclaimed EventType = "ticket_unclaimed"
	EventTicketClosed    EventType = "ticket_closed"
	EventTicketDeleted   EventType = "ticket_deleted"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	TicketID   string    `json:"ticket_id"`
	GuildID    string    `json:"guild_id"`
	CategoryID string    `json:"category_id"`
	ActorID    string    `json:"actor_id"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    any       `json:"payload"`
}

// NewTicketEvent stamps an event for ticket with a fresh id.
func NewTicketEvent(eventType EventType, ticket *domain.Ticket, actorID string, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		TicketID:   ticket.ID,
		GuildID:    ticket.GuildID,
		CategoryID: ticket.CategoryID,
		ActorID:    actorID,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Number    int64   `json:"number"`
	ChannelID string  `json:"channel_id"`
	Topic     *string `json:"topic,omitempty"`
}

// TicketClaimedPayload payload.
type TicketClaimedPayload struct {
	ClaimedBy string `json:"claimed_by"`
}

// TicketClosedPayload payload.
type TicketClosedPayload struct {
	ChannelID string  `json:"channel_id"`
	Reason    *string `json:"reason,omitempty"`
}
