package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/guild-tickets/internal/domain"
	"github.com/spec-kit/guild-tickets/internal/platform/platformtest"
)

func TestNotificationsPostOpeningAndLogLines(t *testing.T) {
	h := newHarness(t)
	h.seedCategory(t, domain.TicketCategory{
		OpeningMessage: "Hi {user}, this is ticket {number}",
		LogChannelID:   strPtr("777"),
	})
	NewNotificationService(NotificationDependencies{
		Dispatcher: h.dispatcher,
		Categories: h.categories,
		Messenger:  h.platform,
	}).RegisterHandlers()
	ctx := context.Background()

	ticket, err := h.tickets.Create(ctx, CreateTicketInput{CategoryID: "cat-1", Actor: member("1")})
	require.NoError(t, err)
	_, err = h.tickets.Close(ctx, ticket.ID, member("1"), strPtr("done"))
	require.NoError(t, err)

	h.dispatcher.Wait()
	sent := h.platform.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, platformtest.SentMessage{ChannelID: ticket.ChannelID, Content: "Hi <@1>, this is ticket 0001"}, sent[0])
	assert.Equal(t, "777", sent[1].ChannelID)
	assert.Contains(t, sent[1].Content, "opened by <@1>")
	assert.Equal(t, "Ticket 100-1 closed by <@1>: done", sent[2].Content)
}
