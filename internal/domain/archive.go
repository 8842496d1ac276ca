package domain

import "time"

// ArchiveStatus tracks progress of a ticket's history export.
type ArchiveStatus string

const (
	ArchiveStatusPending  ArchiveStatus = "pending"
	ArchiveStatusRunning  ArchiveStatus = "running"
	ArchiveStatusComplete ArchiveStatus = "complete"
	ArchiveStatusFailed   ArchiveStatus = "failed"
)

// ArchiveState holds the resumable cursor of the archival pipeline.
type ArchiveState struct {
	TicketID    string
	Status      ArchiveStatus
	Cursor      string
	Attempts    int
	LastError   *string
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// ArchivedMessage is an immutable snapshot of a channel message.
type ArchivedMessage struct {
	TicketID    string
	MessageID   string
	AuthorID    string
	Content     string
	Attachments []string
	CreatedAt   time.Time
	EditedAt    *time.Time
}

// ArchivedUser is the first-seen snapshot of a message author.
type ArchivedUser struct {
	TicketID    string
	UserID      string
	Username    string
	DisplayName string
	AvatarURL   string
	Bot         bool
}

// ArchivedRole snapshots a guild role at archive time.
type ArchivedRole struct {
	TicketID string
	RoleID   string
	Name     string
	Color    int
	Position int
}

// ArchivedChannel snapshots the ticket channel at archive time.
type ArchivedChannel struct {
	TicketID  string
	ChannelID string
	Name      string
	Topic     string
}

// ArchiveBundle is everything needed to render a transcript.
type ArchiveBundle struct {
	Ticket   Ticket
	Channel  *ArchivedChannel
	Messages []ArchivedMessage
	Users    map[string]ArchivedUser
	Roles    []ArchivedRole
}
