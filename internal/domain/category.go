package domain

import (
	"strings"
	"time"
)

// QuestionStyle mirrors the two text input styles of the chat platform.
type QuestionStyle string

const (
	QuestionStyleShort     QuestionStyle = "short"
	QuestionStyleParagraph QuestionStyle = "paragraph"
)

// TicketCategory is the configuration bundle a ticket is created under.
// Limits of 0 mean unlimited.
type TicketCategory struct {
	ID              string
	GuildID         string
	Name            string
	Description     string
	Emoji           string
	ChannelName     string
	ParentChannelID string
	LogChannelID    *string
	OpeningMessage  string
	MemberLimit     int
	TotalLimit      int
	CooldownSeconds int
	RequiredRoleIDs []string
	StaffRoleIDs    []string
	ClaimingEnabled bool
	RequireTopic    bool
	Questions       []TicketQuestion
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TicketQuestion is asked before a ticket in its category is opened.
type TicketQuestion struct {
	ID          string
	CategoryID  string
	Label       string
	Placeholder string
	Required    bool
	Style       QuestionStyle
	MinLength   int
	MaxLength   int
	Order       int
}

// Cooldown returns the creation cooldown as a duration.
func (c *TicketCategory) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// IsStaff reports whether any of roleIDs is a staff role of the category.
func (c *TicketCategory) IsStaff(roleIDs []string) bool {
	return anyRole(c.StaffRoleIDs, roleIDs)
}

// MeetsRequirements reports whether roleIDs satisfy the category's required roles.
func (c *TicketCategory) MeetsRequirements(roleIDs []string) bool {
	if len(c.RequiredRoleIDs) == 0 {
		return true
	}
	return anyRole(c.RequiredRoleIDs, roleIDs)
}

// RenderChannelName expands the channel name template for a new ticket.
func (c *TicketCategory) RenderChannelName(number string, username, userID string) string {
	template := c.ChannelName
	if strings.TrimSpace(template) == "" {
		template = "ticket-{number}"
	}
	name := strings.NewReplacer(
		"{number}", number,
		"{num}", number,
		"{username}", username,
		"{userid}", userID,
	).Replace(template)
	name = strings.ToLower(strings.Join(strings.Fields(name), "-"))
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}

func anyRole(allowed, held []string) bool {
	for _, want := range allowed {
		for _, have := range held {
			if want == have {
				return true
			}
		}
	}
	return false
}
