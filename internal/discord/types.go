package discord

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spec-kit/guild-tickets/internal/platform"
)

const channelTypeGuildText = 0

type overwritePayload struct {
	ID    string `json:"id"`
	Type  int    `json:"type"`
	Allow string `json:"allow"`
	Deny  string `json:"deny"`
}

type createChannelPayload struct {
	Name                 string             `json:"name"`
	Type                 int                `json:"type"`
	Topic                string             `json:"topic,omitempty"`
	ParentID             string             `json:"parent_id,omitempty"`
	PermissionOverwrites []overwritePayload `json:"permission_overwrites,omitempty"`
}

type channelPayload struct {
	ID       string `json:"id"`
	GuildID  string `json:"guild_id"`
	Name     string `json:"name"`
	Topic    string `json:"topic"`
	ParentID string `json:"parent_id"`
}

type userPayload struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Avatar     string `json:"avatar"`
	Bot        bool   `json:"bot"`
}

type attachmentPayload struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

type messagePayload struct {
	ID              string              `json:"id"`
	ChannelID       string              `json:"channel_id"`
	Author          userPayload         `json:"author"`
	Content         string              `json:"content"`
	Timestamp       time.Time           `json:"timestamp"`
	EditedTimestamp *time.Time          `json:"edited_timestamp"`
	Attachments     []attachmentPayload `json:"attachments"`
}

type rolePayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       int    `json:"color"`
	Position    int    `json:"position"`
	Permissions string `json:"permissions"`
}

type memberPayload struct {
	User  userPayload `json:"user"`
	Nick  string      `json:"nick"`
	Roles []string    `json:"roles"`
}

type guildPayload struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
}

type messageCreatePayload struct {
	Content         string          `json:"content"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

type allowedMentions struct {
	Parse []string `json:"parse"`
}

func toOverwrite(o platform.PermissionOverwrite) overwritePayload {
	return overwritePayload{
		ID:    o.SubjectID,
		Type:  int(o.Type),
		Allow: strconv.FormatUint(uint64(o.Allow), 10),
		Deny:  strconv.FormatUint(uint64(o.Deny), 10),
	}
}

func (c channelPayload) toPlatform() *platform.Channel {
	return &platform.Channel{ID: c.ID, GuildID: c.GuildID, Name: c.Name, Topic: c.Topic, ParentID: c.ParentID}
}

func (u userPayload) toPlatform() platform.User {
	user := platform.User{ID: u.ID, Username: u.Username, GlobalName: u.GlobalName, Bot: u.Bot}
	if u.Avatar != "" {
		user.AvatarURL = fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", u.ID, u.Avatar)
	}
	return user
}

func (m messagePayload) toPlatform() platform.Message {
	msg := platform.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Author:    m.Author.toPlatform(),
		Content:   m.Content,
		Timestamp: m.Timestamp,
		EditedAt:  m.EditedTimestamp,
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, platform.Attachment{ID: a.ID, Filename: a.Filename, URL: a.URL})
	}
	return msg
}

func (r rolePayload) toPlatform() platform.Role {
	perms, _ := strconv.ParseUint(r.Permissions, 10, 64)
	return platform.Role{ID: r.ID, Name: r.Name, Color: r.Color, Position: r.Position, Permissions: platform.Permission(perms)}
}

// snowflakeLess orders Discord ids numerically without parsing them.
func snowflakeLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
