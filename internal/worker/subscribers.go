package worker

import (
	"github.com/spec-kit/guild-tickets/internal/events"
	"github.com/spec-kit/guild-tickets/internal/service"
)

// RegisterSubscribers attaches the archive worker and the notification handlers
// to the dispatcher. The archive handoff only enqueues, and notifications are
// delivered asynchronously, so publishing never blocks on the chat platform.
func RegisterSubscribers(dispatcher events.Dispatcher, notifications *service.NotificationService, archives *ArchiveWorker) {
	if archives != nil {
		archives.Subscribe(dispatcher)
	}
	if notifications != nil {
		notifications.RegisterHandlers()
	}
}
