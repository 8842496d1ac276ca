// Package platform describes the chat platform operations the ticket
// workflows depend on. The discord package implements them over REST.
package platform

import (
	"context"
	"errors"
	"time"
)

// Permission is a bit set of channel permissions.
type Permission uint64

const (
	PermissionViewChannel        Permission = 1 << 10
	PermissionSendMessages       Permission = 1 << 11
	PermissionEmbedLinks         Permission = 1 << 14
	PermissionAttachFiles        Permission = 1 << 15
	PermissionReadMessageHistory Permission = 1 << 16
	PermissionAdministrator      Permission = 1 << 3
)

// TicketParticipant is what a ticket member needs to take part in the conversation.
const TicketParticipant = PermissionViewChannel | PermissionSendMessages | PermissionEmbedLinks |
	PermissionAttachFiles | PermissionReadMessageHistory

// OverwriteType tells whether an overwrite targets a role or a member.
type OverwriteType int

const (
	OverwriteRole   OverwriteType = 0
	OverwriteMember OverwriteType = 1
)

// PermissionOverwrite sets allow/deny bits for one role or member on a channel.
type PermissionOverwrite struct {
	SubjectID string
	Type      OverwriteType
	Allow     Permission
	Deny      Permission
}

// ChannelSpec describes a channel to provision.
type ChannelSpec struct {
	GuildID    string
	Name       string
	ParentID   string
	Topic      string
	Overwrites []PermissionOverwrite
}

// Channel is a provisioned text channel.
type Channel struct {
	ID       string
	GuildID  string
	Name     string
	Topic    string
	ParentID string
}

// User is a platform account.
type User struct {
	ID         string
	Username   string
	GlobalName string
	AvatarURL  string
	Bot        bool
}

// DisplayName prefers the global display name over the username.
func (u User) DisplayName() string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// Attachment is a file posted with a message.
type Attachment struct {
	ID       string
	Filename string
	URL      string
}

// Message is one entry of a channel's history.
type Message struct {
	ID          string
	ChannelID   string
	Author      User
	Content     string
	Attachments []Attachment
	Timestamp   time.Time
	EditedAt    *time.Time
}

// Role is a guild role.
type Role struct {
	ID          string
	Name        string
	Color       int
	Position    int
	Permissions Permission
}

// Member is a user's membership in a guild.
type Member struct {
	User          User
	Nick          string
	RoleIDs       []string
	Administrator bool
}

// PageOptions selects a page of history strictly after the After message id, oldest first.
type PageOptions struct {
	After string
	Limit int
}

// ChannelProvisioner creates and manages ticket channels.
type ChannelProvisioner interface {
	CreateChannel(ctx context.Context, spec ChannelSpec) (*Channel, error)
	SetPermission(ctx context.Context, channelID string, overwrite PermissionOverwrite) error
	RenameChannel(ctx context.Context, channelID, name string) error
	DeleteChannel(ctx context.Context, channelID string) error
}

// HistorySource reads channel history and guild metadata for archival.
type HistorySource interface {
	// FetchMessagePage returns up to opts.Limit messages after opts.After ordered oldest to newest.
	FetchMessagePage(ctx context.Context, channelID string, opts PageOptions) ([]Message, error)
	Channel(ctx context.Context, channelID string) (*Channel, error)
	GuildRoles(ctx context.Context, guildID string) ([]Role, error)
}

// MemberDirectory resolves guild membership.
type MemberDirectory interface {
	Member(ctx context.Context, guildID, userID string) (*Member, error)
}

// Messenger posts plain messages to a channel.
type Messenger interface {
	SendMessage(ctx context.Context, channelID, content string) error
}

// Client is the full chat platform surface.
type Client interface {
	ChannelProvisioner
	HistorySource
	MemberDirectory
	Messenger
}

// ErrNotFound is matched with errors.Is when the platform reports an unknown resource.
var ErrNotFound = errors.New("platform resource not found")
