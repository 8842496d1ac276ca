package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/guild-tickets/internal/domain"
	"github.com/spec-kit/guild-tickets/internal/platform"
	"github.com/spec-kit/guild-tickets/pkg/util/errorutil"
)

func history(n int) []platform.Message {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := make([]platform.Message, 0, n)
	for i := 0; i < n; i++ {
		author := platform.User{ID: "1", Username: "alice"}
		if i%2 == 1 {
			author = platform.User{ID: "50", Username: "mod", GlobalName: "Moderator"}
		}
		msgs = append(msgs, platform.Message{
			ID:        fmt.Sprintf("%d", 10000+i),
			Author:    author,
			Content:   fmt.Sprintf("message %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return msgs
}

func closedTicket(t *testing.T, h *harness, messages ...platform.Message) *domain.Ticket {
	t.Helper()
	ctx := context.Background()
	h.seedCategory(t, domain.TicketCategory{StaffRoleIDs: []string{"200"}})
	ticket, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1")})
	require.NoError(t, err)
	h.platform.AddMessages(ticket.ChannelID, messages...)
	_, err = h.tickets.Close(ctx, ticket.ID, member("1"), nil)
	require.NoError(t, err)
	return ticket
}

func TestArchiveRejectsOpenTicket(t *testing.T) {
	h := newHarness(t)
	h.seedCategory(t, domain.TicketCategory{})
	ticket, err := h.tickets.Create(context.Background(), CreateTicketInput{CategoryID: "cat-1", Actor: member("1")})
	require.NoError(t, err)

	err = h.archives.Run(context.Background(), ticket.ID)
	assert.True(t, errorutil.HasCode(err, errorutil.CodeConflict))
	assert.True(t, errorutil.HasCode(h.archives.Run(context.Background(), "100-99"), errorutil.CodeNotFound))
}

func TestArchiveCopiesHistoryAndDeletesChannel(t *testing.T) {
	h := newHarness(t)
	h.platform.SetRoles(testGuild, platform.Role{ID: "200", Name: "Support", Position: 2})
	ticket := closedTicket(t, h, history(250)...)
	ctx := context.Background()

	require.NoError(t, h.archives.Run(ctx, ticket.ID))

	state, err := h.archives.State(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ArchiveStatusComplete, state.Status)
	assert.Equal(t, "10249", state.Cursor)

	stored, err := h.repos.Tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 250, stored.MessageCount)

	bundle, err := h.repos.Archives.Load(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, bundle.Messages, 250)
	assert.Len(t, bundle.Users, 2)
	assert.Equal(t, "Moderator", bundle.Users["50"].DisplayName)
	require.Len(t, bundle.Roles, 1)
	require.NotNil(t, bundle.Channel)
	assert.Equal(t, "ticket-0001", bundle.Channel.Name)

	assert.Equal(t, []string{ticket.ChannelID}, h.platform.Deleted())

	// a completed archive is not fetched again
	calls := h.platform.FetchCalls()
	require.NoError(t, h.archives.Run(ctx, ticket.ID))
	assert.Equal(t, calls, h.platform.FetchCalls())
}

func TestArchiveResumesFromCursor(t *testing.T) {
	h := newHarness(t)
	ticket := closedTicket(t, h, history(250)...)
	ctx := context.Background()

	h.platform.FetchErr = func(call int, _ string) error {
		if call == 2 {
			return errors.New("gateway timeout")
		}
		return nil
	}

	err := h.archives.Run(ctx, ticket.ID)
	var partial *PartialError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "10099", partial.Cursor)
	assert.Equal(t, 100, partial.Archived)

	state, err := h.archives.State(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ArchiveStatusFailed, state.Status)
	assert.Equal(t, "10099", state.Cursor)
	require.NotNil(t, state.LastError)
	assert.Contains(t, *state.LastError, "gateway timeout")

	stale, err := h.archives.Stale(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, ticket.ID, stale[0].TicketID)

	_, err = h.archives.GenerateTranscript(ctx, ticket.ID)
	assert.True(t, errorutil.HasCode(err, errorutil.CodeNotReady))

	require.NoError(t, h.archives.Run(ctx, ticket.ID))
	state, err = h.archives.State(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ArchiveStatusComplete, state.Status)
	assert.Equal(t, 2, state.Attempts)

	bundle, err := h.repos.Archives.Load(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, bundle.Messages, 250)
	for i, m := range bundle.Messages {
		assert.Equal(t, fmt.Sprintf("%d", 10000+i), m.MessageID)
	}
}

func TestArchiveWithMissingChannel(t *testing.T) {
	h := newHarness(t)
	ticket := closedTicket(t, h)
	ctx := context.Background()
	require.NoError(t, h.platform.DeleteChannel(ctx, ticket.ChannelID))

	require.NoError(t, h.archives.Run(ctx, ticket.ID))
	state, err := h.archives.State(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ArchiveStatusComplete, state.Status)
}

func TestGenerateTranscript(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.archives.GenerateTranscript(ctx, "100-404")
	assert.True(t, errorutil.HasCode(err, errorutil.CodeNotFound))

	msgs := history(2)
	msgs[0].Content = "<script>alert(1)</script>"
	ticket := closedTicket(t, h, msgs...)

	_, err = h.archives.GenerateTranscript(ctx, ticket.ID)
	de := errorutil.ToDomainError(err)
	require.NotNil(t, de)
	assert.Equal(t, errorutil.CodeNotReady, de.Code)
	assert.Equal(t, "none", de.Details["status"])

	require.NoError(t, h.archives.Run(ctx, ticket.ID))
	calls := h.platform.FetchCalls()

	doc, err := h.archives.GenerateTranscript(ctx, ticket.ID)
	require.NoError(t, err)
	body := string(doc.Body)
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")
	assert.Equal(t, 2, strings.Count(body, `class="message"`))
	assert.Equal(t, calls, h.platform.FetchCalls(), "rendering never calls the platform")
}
