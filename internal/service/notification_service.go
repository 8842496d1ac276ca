package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/guild-tickets/internal/events"
	"github.com/spec-kit/guild-tickets/internal/platform"
)

// NotificationService posts ticket activity to the category's log channel and
// the opening message to new ticket channels. Delivery failures are logged only.
type NotificationService struct {
	dispatcher events.Dispatcher
	categories *CategoryService
	messenger  platform.Messenger
	logger     *zap.Logger
}

// NotificationDependencies bundles collaborators for the notification service.
type NotificationDependencies struct {
	Dispatcher events.Dispatcher
	Categories *CategoryService
	Messenger  platform.Messenger
	Logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: deps.Dispatcher,
		categories: deps.Categories,
		messenger:  deps.Messenger,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events. Delivery is asynchronous, so ticket
// transitions never wait on the chat platform.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil || n.messenger == nil {
		return
	}
	n.dispatcher.SubscribeAsync(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.SubscribeAsync(events.EventTicketClaimed, n.handleLogged)
	n.dispatcher.SubscribeAsync(events.EventTicketUnclaimed, n.handleLogged)
	n.dispatcher.SubscribeAsync(events.EventTicketClosed, n.handleLogged)
	n.dispatcher.SubscribeAsync(events.EventTicketDeleted, n.handleLogged)
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.TicketCreatedPayload)
	category, err := n.categories.Get(ctx, event.CategoryID, false)
	if err != nil {
		return err
	}

	if opening := strings.TrimSpace(category.OpeningMessage); opening != "" && payload.ChannelID != "" {
		text := strings.NewReplacer(
			"{user}", "<@"+event.ActorID+">",
			"{number}", fmt.Sprintf(ticketNumberFormat, payload.Number),
		).Replace(opening)
		n.send(ctx, payload.ChannelID, text, event)
	}
	if category.LogChannelID != nil {
		n.send(ctx, *category.LogChannelID, describeEvent(event), event)
	}
	return nil
}

func (n *NotificationService) handleLogged(ctx context.Context, event events.Event) error {
	category, err := n.categories.Get(ctx, event.CategoryID, false)
	if err != nil {
		return err
	}
	if category.LogChannelID != nil {
		n.send(ctx, *category.LogChannelID, describeEvent(event), event)
	}
	return nil
}

func (n *NotificationService) send(ctx context.Context, channelID, text string, event events.Event) {
	if err := n.messenger.SendMessage(ctx, channelID, text); err != nil {
		n.logger.Warn("ticket notification failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.String("channel_id", channelID),
			zap.Error(err))
	}
}

func describeEvent(event events.Event) string {
	actor := "<@" + event.ActorID + ">"
	switch event.Type {
	case events.EventTicketCreated:
		if p, ok := event.Payload.(events.TicketCreatedPayload); ok {
			return fmt.Sprintf("Ticket %s opened by %s in <#%s>", event.TicketID, actor, p.ChannelID)
		}
		return fmt.Sprintf("Ticket %s opened by %s", event.TicketID, actor)
	case events.EventTicketClaimed:
		return fmt.Sprintf("Ticket %s claimed by %s", event.TicketID, actor)
	case events.EventTicketUnclaimed:
		return fmt.Sprintf("Ticket %s unclaimed by %s", event.TicketID, actor)
	case events.EventTicketClosed:
		if p, ok := event.Payload.(events.TicketClosedPayload); ok && p.Reason != nil {
			return fmt.Sprintf("Ticket %s closed by %s: %s", event.TicketID, actor, *p.Reason)
		}
		return fmt.Sprintf("Ticket %s closed by %s", event.TicketID, actor)
	case events.EventTicketDeleted:
		return fmt.Sprintf("Ticket %s deleted by %s", event.TicketID, actor)
	default:
		return fmt.Sprintf("Ticket %s: %s by %s", event.TicketID, event.Type, actor)
	}
}
