package transcript

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/guild-tickets/internal/domain"
)

func bundleWith(content string) *domain.ArchiveBundle {
	closedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	closer := "200"
	return &domain.ArchiveBundle{
		Ticket: domain.Ticket{
			ID:        "1-7",
			Number:    7,
			GuildID:   "1",
			CreatedBy: "100",
			CreatedAt: closedAt.Add(-time.Hour),
			ClosedAt:  &closedAt,
			ClosedBy:  &closer,
		},
		Channel: &domain.ArchivedChannel{TicketID: "1-7", ChannelID: "55", Name: "ticket-0007"},
		Users: map[string]domain.ArchivedUser{
			"100": {UserID: "100", Username: "alice", DisplayName: "Alice <b>"},
			"200": {UserID: "200", Username: "mod"},
		},
		Roles: []domain.ArchivedRole{{RoleID: "9", Name: "Support"}},
		Messages: []domain.ArchivedMessage{{
			MessageID:   "m1",
			AuthorID:    "100",
			Content:     content,
			Attachments: []string{"https://cdn.example/file.png", "javascript:alert(1)"},
			CreatedAt:   closedAt.Add(-30 * time.Minute),
		}},
	}
}

func TestRenderEscapesScript(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	doc, err := r.Render(bundleWith("<script>alert(1)</script>"))
	require.NoError(t, err)
	body := string(doc.Body)

	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;alert(1)&lt;/script&gt;")
	assert.Equal(t, "text/html; charset=utf-8", doc.ContentType)
	assert.Equal(t, "transcript-1-7.html", doc.Filename)
}

func TestRenderEscapesNamesAndDropsUnsafeLinks(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	doc, err := r.Render(bundleWith("hi <@200> and <@&9> see [x](javascript:alert(1)) **bold**"))
	require.NoError(t, err)
	body := string(doc.Body)

	assert.Contains(t, body, "Alice &lt;b&gt;")
	assert.NotContains(t, body, "Alice <b>")
	assert.Contains(t, body, "@mod")
	assert.Contains(t, body, "@Support")
	assert.Contains(t, body, "<strong>bold</strong>")
	assert.NotContains(t, body, "javascript:")
	assert.Contains(t, body, "https://cdn.example/file.png")
	assert.Equal(t, 1, strings.Count(body, `class="message"`))
}
