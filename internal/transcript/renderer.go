// Package transcript renders archived ticket history as a standalone HTML page.
//
// Message bodies are treated as untrusted. Markup characters are escaped before
// markdown rendering, the rendered fragment is sanitised, and every other value
// goes through the template's autoescaping.
package transcript

import (
	"bytes"
	_ "embed"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/flosch/pongo2/v6"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/spec-kit/guild-tickets/internal/domain"
)

//go:embed templates/transcript.html
var pageTemplate string

const timeLayout = "2006-01-02 15:04 MST"

var mentionPattern = regexp.MustCompile(`<(@!?|@&|#)(\d+)>`)

// Document is a rendered transcript.
type Document struct {
	ContentType string
	Filename    string
	Body        []byte
}

// Renderer turns archive bundles into documents. It is safe for concurrent use.
type Renderer struct {
	page     *pongo2.Template
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
}

type messageView struct {
	ID          string
	Author      string
	AvatarURL   string
	Bot         bool
	Timestamp   string
	Edited      bool
	HTML        string
	Attachments []string
}

// NewRenderer compiles the page template.
func NewRenderer() (*Renderer, error) {
	page, err := pongo2.FromString(pageTemplate)
	if err != nil {
		return nil, fmt.Errorf("compile transcript template: %w", err)
	}

	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)

	return &Renderer{
		page: page,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		policy: policy,
	}, nil
}

// Render produces the HTML transcript for bundle.
func (r *Renderer) Render(bundle *domain.ArchiveBundle) (*Document, error) {
	ticket := bundle.Ticket
	names := mentionNames(bundle)

	views := make([]messageView, 0, len(bundle.Messages))
	for _, m := range bundle.Messages {
		body, err := r.renderContent(m.Content, names)
		if err != nil {
			return nil, fmt.Errorf("render message %s: %w", m.MessageID, err)
		}
		author := bundle.Users[m.AuthorID]
		view := messageView{
			ID:          m.MessageID,
			Author:      displayName(author, m.AuthorID),
			AvatarURL:   safeURL(author.AvatarURL),
			Bot:         author.Bot,
			Timestamp:   m.CreatedAt.UTC().Format(timeLayout),
			Edited:      m.EditedAt != nil,
			HTML:        body,
			Attachments: safeURLs(m.Attachments),
		}
		views = append(views, view)
	}

	data := pongo2.Context{
		"ticket":   ticket,
		"messages": views,
		"creator":  userLabel(bundle, ticket.CreatedBy),
		"opened":   ticket.CreatedAt.UTC().Format(timeLayout),
	}
	if bundle.Channel != nil {
		data["channel"] = bundle.Channel
	}
	if ticket.ClosedAt != nil {
		data["closed"] = ticket.ClosedAt.UTC().Format(timeLayout)
		if ticket.ClosedBy != nil {
			data["closer"] = userLabel(bundle, *ticket.ClosedBy)
		}
		if ticket.CloseReason != nil {
			data["reason"] = *ticket.CloseReason
		}
	}

	out, err := r.page.ExecuteBytes(data)
	if err != nil {
		return nil, fmt.Errorf("execute transcript template: %w", err)
	}
	return &Document{
		ContentType: "text/html; charset=utf-8",
		Filename:    fmt.Sprintf("transcript-%s.html", ticket.ID),
		Body:        out,
	}, nil
}

// renderContent escapes markup, expands mentions, renders markdown and sanitises the result.
func (r *Renderer) renderContent(content string, names map[string]string) (string, error) {
	expanded := mentionPattern.ReplaceAllStringFunc(content, func(token string) string {
		if name, ok := names[token]; ok {
			return name
		}
		return token
	})
	escaped := strings.NewReplacer("&", "&amp;", "<", "&lt;").Replace(expanded)

	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(escaped), &buf); err != nil {
		return "", err
	}
	return r.policy.Sanitize(buf.String()), nil
}

func mentionNames(bundle *domain.ArchiveBundle) map[string]string {
	names := make(map[string]string, len(bundle.Users)*2+len(bundle.Roles))
	for id, u := range bundle.Users {
		label := "@" + displayName(u, id)
		names["<@"+id+">"] = label
		names["<@!"+id+">"] = label
	}
	for _, role := range bundle.Roles {
		names["<@&"+role.RoleID+">"] = "@" + role.Name
	}
	if bundle.Channel != nil {
		names["<#"+bundle.Channel.ChannelID+">"] = "#" + bundle.Channel.Name
	}
	return names
}

func displayName(u domain.ArchivedUser, fallback string) string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Username != "":
		return u.Username
	default:
		return fallback
	}
}

func userLabel(bundle *domain.ArchiveBundle, userID string) string {
	if u, ok := bundle.Users[userID]; ok {
		return displayName(u, userID)
	}
	return userID
}

// safeURL keeps only http(s) links.
func safeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		return ""
	}
	return u.String()
}

func safeURLs(raw []string) []string {
	var result []string
	for _, r := range raw {
		if u := safeURL(r); u != "" {
			result = append(result, u)
		}
	}
	return result
}
