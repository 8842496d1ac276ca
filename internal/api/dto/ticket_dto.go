package dto

import (
	"time"

	"github.com/spec-kit/guild-tickets/internal/domain"
)

// CreateTicketRequest payload. Omitting answers for a category with questions
// yields ANSWERS_REQUIRED along with the questions to ask.
type CreateTicketRequest struct {
	CategoryID string          `json:"category_id" validate:"required"`
	Topic      *string         `json:"topic" validate:"omitempty,max=1024"`
	Answers    []AnswerRequest `json:"answers" validate:"omitempty,max=5,dive"`
}

// AnswerRequest is one question answer.
type AnswerRequest struct {
	QuestionID string `json:"question_id" validate:"required"`
	Value      string `json:"value" validate:"max=4000"`
}

// CloseTicketRequest payload.
type CloseTicketRequest struct {
	Reason *string `json:"reason" validate:"omitempty,max=1024"`
}

// TicketResponse renders a ticket.
type TicketResponse struct {
	ID           string     `json:"id"`
	Number       int64      `json:"number"`
	GuildID      string     `json:"guild_id"`
	CategoryID   string     `json:"category_id"`
	ChannelID    string     `json:"channel_id"`
	CreatedBy    string     `json:"created_by"`
	ClaimedBy    *string    `json:"claimed_by"`
	Topic        *string    `json:"topic"`
	Open         bool       `json:"open"`
	Deleted      bool       `json:"deleted"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at"`
	ClosedBy     *string    `json:"closed_by"`
	CloseReason  *string    `json:"close_reason"`
	MessageCount int        `json:"message_count"`
}

// AnswerResponse renders a recorded answer.
type AnswerResponse struct {
	QuestionID string `json:"question_id"`
	UserID     string `json:"user_id"`
	Value      string `json:"value"`
}

// ArchiveStateResponse renders archival progress.
type ArchiveStateResponse struct {
	Status      domain.ArchiveStatus `json:"status"`
	Attempts    int                  `json:"attempts"`
	LastError   *string              `json:"last_error"`
	UpdatedAt   time.Time            `json:"updated_at"`
	CompletedAt *time.Time           `json:"completed_at"`
}

// NewTicketResponse maps a domain ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:           t.ID,
		Number:       t.Number,
		GuildID:      t.GuildID,
		CategoryID:   t.CategoryID,
		ChannelID:    t.ChannelID,
		CreatedBy:    t.CreatedBy,
		ClaimedBy:    t.ClaimedBy,
		Topic:        t.Topic,
		Open:         t.Open,
		Deleted:      t.Deleted,
		CreatedAt:    t.CreatedAt,
		ClosedAt:     t.ClosedAt,
		ClosedBy:     t.ClosedBy,
		CloseReason:  t.CloseReason,
		MessageCount: t.MessageCount,
	}
}

// AnswerMap converts the answer list; a missing list stays nil.
func (r CreateTicketRequest) AnswerMap() map[string]string {
	if r.Answers == nil {
		return nil
	}
	answers := make(map[string]string, len(r.Answers))
	for _, a := range r.Answers {
		answers[a.QuestionID] = a.Value
	}
	return answers
}
