package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// asyncHandlerTimeout bounds one asynchronous handler call.
const asyncHandlerTimeout = 30 * time.Second

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher interface allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe registers a handler that runs before Publish returns.
	Subscribe(eventType EventType, handler EventHandler)
	// SubscribeAsync registers a handler that runs after Publish returns, detached
	// from the publisher's context. Asynchronous deliveries keep publish order.
	SubscribeAsync(eventType EventType, handler EventHandler)
	// Wait blocks until every asynchronous delivery queued so far has finished.
	Wait()
}

type delivery struct {
	ctx     context.Context
	event   Event
	handler EventHandler
}

// inMemoryDispatcher invokes synchronous handlers in subscription order and
// hands asynchronous ones to a single drain goroutine.
type inMemoryDispatcher struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventHandler
	async     map[EventType][]EventHandler
	logger    *zap.Logger

	queueMu  sync.Mutex
	queue    []delivery
	draining bool
	pending  sync.WaitGroup
}

// NewInMemoryDispatcher creates a dispatcher instance.
func NewInMemoryDispatcher(logger *zap.Logger) Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &inMemoryDispatcher{
		listeners: make(map[EventType][]EventHandler),
		async:     make(map[EventType][]EventHandler),
		logger:    logger,
	}
}

// Publish runs every synchronous handler, then queues the asynchronous ones.
// A failing handler is logged and does not stop the others; the publisher never
// sees handler errors.
func (d *inMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	handlers := append([]EventHandler{}, d.listeners[event.Type]...)
	asyncHandlers := append([]EventHandler{}, d.async[event.Type]...)
	d.mu.RUnlock()

	for _, handler := range handlers {
		d.run(ctx, event, handler)
	}
	if len(asyncHandlers) > 0 {
		d.enqueue(context.WithoutCancel(ctx), event, asyncHandlers)
	}
	return nil
}

// Subscribe registers a handler for the given event type.
func (d *inMemoryDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[eventType] = append(d.listeners[eventType], handler)
}

// SubscribeAsync registers a handler delivered after Publish returns.
func (d *inMemoryDispatcher) SubscribeAsync(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.async[eventType] = append(d.async[eventType], handler)
}

// Wait blocks until queued asynchronous deliveries are done.
func (d *inMemoryDispatcher) Wait() {
	d.pending.Wait()
}

func (d *inMemoryDispatcher) enqueue(ctx context.Context, event Event, handlers []EventHandler) {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	for _, h := range handlers {
		d.pending.Add(1)
		d.queue = append(d.queue, delivery{ctx: ctx, event: event, handler: h})
	}
	if !d.draining {
		d.draining = true
		go d.drain()
	}
}

// drain delivers queued events one at a time and exits once the queue is empty.
func (d *inMemoryDispatcher) drain() {
	for {
		d.queueMu.Lock()
		if len(d.queue) == 0 {
			d.draining = false
			d.queueMu.Unlock()
			return
		}
		next := d.queue[0]
		d.queue[0] = delivery{}
		d.queue = d.queue[1:]
		d.queueMu.Unlock()

		ctx, cancel := context.WithTimeout(next.ctx, asyncHandlerTimeout)
		d.run(ctx, next.event, next.handler)
		cancel()
		d.pending.Done()
	}
}

func (d *inMemoryDispatcher) run(ctx context.Context, event Event, handler EventHandler) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked",
				zap.String("event_type", string(event.Type)),
				zap.String("ticket_id", event.TicketID),
				zap.Any("panic", r))
		}
	}()
	if err := handler(ctx, event); err != nil {
		d.logger.Warn("event handler failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}
