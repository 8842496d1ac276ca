package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/guild-tickets/internal/domain"
)

func TestPublishContinuesAfterHandlerError(t *testing.T) {
	d := NewInMemoryDispatcher(zap.NewNop())
	var seen []string
	d.Subscribe(EventTicketClosed, func(_ context.Context, e Event) error {
		seen = append(seen, "first")
		return errors.New("boom")
	})
	d.Subscribe(EventTicketClosed, func(_ context.Context, e Event) error {
		seen = append(seen, "second:"+e.TicketID)
		return nil
	})
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		seen = append(seen, "wrong")
		return nil
	})

	ticket := &domain.Ticket{ID: "g-1", GuildID: "g", CategoryID: "c"}
	event := NewTicketEvent(EventTicketClosed, ticket, "u1", TicketClosedPayload{ChannelID: "ch"})
	require.NoError(t, d.Publish(context.Background(), event))

	assert.Equal(t, []string{"first", "second:g-1"}, seen)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "g", event.GuildID)
}

func TestAsyncHandlersRunDetachedInPublishOrder(t *testing.T) {
	d := NewInMemoryDispatcher(zap.NewNop())
	release := make(chan struct{})
	var (
		seen []string
		errs []error
	)
	d.SubscribeAsync(EventTicketClosed, func(ctx context.Context, e Event) error {
		<-release
		errs = append(errs, ctx.Err())
		seen = append(seen, e.TicketID)
		return nil
	})
	var syncRan bool
	d.Subscribe(EventTicketClosed, func(context.Context, Event) error {
		syncRan = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	for _, id := range []string{"g-1", "g-2", "g-3"} {
		ticket := &domain.Ticket{ID: id, GuildID: "g", CategoryID: "c"}
		require.NoError(t, d.Publish(ctx, NewTicketEvent(EventTicketClosed, ticket, "u1", nil)))
	}
	assert.True(t, syncRan)
	cancel()
	close(release)
	d.Wait()

	assert.Equal(t, []string{"g-1", "g-2", "g-3"}, seen)
	assert.Equal(t, []error{nil, nil, nil}, errs)
}
