package dto

import (
	"time"

	"github.com/spec-kit/guild-tickets/internal/domain"
)

// CategoryPatchRequest carries the category fields to change.
type CategoryPatchRequest struct {
	Name            *string   `json:"name"`
	Description     *string   `json:"description"`
	Emoji           *string   `json:"emoji"`
	ChannelName     *string   `json:"channel_name"`
	ParentChannelID *string   `json:"parent_channel_id"`
	LogChannelID    *string   `json:"log_channel_id"`
	ClearLogChannel bool      `json:"clear_log_channel"`
	OpeningMessage  *string   `json:"opening_message"`
	MemberLimit     *int      `json:"member_limit"`
	TotalLimit      *int      `json:"total_limit"`
	CooldownSeconds *int      `json:"cooldown_seconds"`
	RequiredRoleIDs *[]string `json:"required_role_ids"`
	StaffRoleIDs    *[]string `json:"staff_role_ids"`
	ClaimingEnabled *bool     `json:"claiming_enabled"`
	RequireTopic    *bool     `json:"require_topic"`
}

// QuestionPatchRequest carries the question fields to change.
type QuestionPatchRequest struct {
	Label       *string `json:"label"`
	Placeholder *string `json:"placeholder"`
	Required    *bool   `json:"required"`
	Style       *string `json:"style"`
	MinLength   *int    `json:"min_length"`
	MaxLength   *int    `json:"max_length"`
}

// ReorderQuestionsRequest lists every question id in the wanted order.
type ReorderQuestionsRequest struct {
	QuestionIDs []string `json:"question_ids" validate:"required,min=1,max=5,dive,required"`
}

// CategoryResponse renders a category.
type CategoryResponse struct {
	ID              string             `json:"id"`
	GuildID         string             `json:"guild_id"`
	Name            string             `json:"name"`
	Description     string             `json:"description"`
	Emoji           string             `json:"emoji"`
	ChannelName     string             `json:"channel_name"`
	ParentChannelID string             `json:"parent_channel_id"`
	LogChannelID    *string            `json:"log_channel_id"`
	OpeningMessage  string             `json:"opening_message"`
	MemberLimit     int                `json:"member_limit"`
	TotalLimit      int                `json:"total_limit"`
	CooldownSeconds int                `json:"cooldown_seconds"`
	RequiredRoleIDs []string           `json:"required_role_ids"`
	StaffRoleIDs    []string           `json:"staff_role_ids"`
	ClaimingEnabled bool               `json:"claiming_enabled"`
	RequireTopic    bool               `json:"require_topic"`
	Questions       []QuestionResponse `json:"questions"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// QuestionResponse renders a category question.
type QuestionResponse struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Placeholder string `json:"placeholder"`
	Required    bool   `json:"required"`
	Style       string `json:"style"`
	MinLength   int    `json:"min_length"`
	MaxLength   int    `json:"max_length"`
	Order       int    `json:"order"`
}

// NewCategoryResponse maps a domain category.
func NewCategoryResponse(c *domain.TicketCategory) CategoryResponse {
	questions := make([]QuestionResponse, 0, len(c.Questions))
	for i := range c.Questions {
		questions = append(questions, NewQuestionResponse(&c.Questions[i]))
	}
	return CategoryResponse{
		ID:              c.ID,
		GuildID:         c.GuildID,
		Name:            c.Name,
		Description:     c.Description,
		Emoji:           c.Emoji,
		ChannelName:     c.ChannelName,
		ParentChannelID: c.ParentChannelID,
		LogChannelID:    c.LogChannelID,
		OpeningMessage:  c.OpeningMessage,
		MemberLimit:     c.MemberLimit,
		TotalLimit:      c.TotalLimit,
		CooldownSeconds: c.CooldownSeconds,
		RequiredRoleIDs: nonNil(c.RequiredRoleIDs),
		StaffRoleIDs:    nonNil(c.StaffRoleIDs),
		ClaimingEnabled: c.ClaimingEnabled,
		RequireTopic:    c.RequireTopic,
		Questions:       questions,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

// NewQuestionResponse maps a domain question.
func NewQuestionResponse(q *domain.TicketQuestion) QuestionResponse {
	return QuestionResponse{
		ID:          q.ID,
		Label:       q.Label,
		Placeholder: q.Placeholder,
		Required:    q.Required,
		Style:       string(q.Style),
		MinLength:   q.MinLength,
		MaxLength:   q.MaxLength,
		Order:       q.Order,
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
