package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/guild-tickets/internal/cache"
	"github.com/spec-kit/guild-tickets/internal/domain"
	"github.com/spec-kit/guild-tickets/internal/events"
	"github.com/spec-kit/guild-tickets/internal/platform/platformtest"
	"github.com/spec-kit/guild-tickets/internal/repository"
	"github.com/spec-kit/guild-tickets/internal/repository/memory"
	"github.com/spec-kit/guild-tickets/internal/transcript"
)

const testGuild = "100"

type harness struct {
	repos      *repository.Store
	platform   *platformtest.Fake
	cache      *cache.MemoryCache
	dispatcher events.Dispatcher
	categories *CategoryService
	tickets    *TicketService
	archives   *ArchiveService

	mu       sync.Mutex
	received []events.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	renderer, err := transcript.NewRenderer()
	require.NoError(t, err)

	h := &harness{
		repos:      memory.New().Repositories(),
		platform:   platformtest.New(),
		cache:      cache.NewMemoryCache(),
		dispatcher: events.NewInMemoryDispatcher(nil),
	}
	h.categories = NewCategoryService(CategoryDependencies{CategoryRepo: h.repos.Categories, TicketRepo: h.repos.Tickets})
	h.tickets = NewTicketService(TicketDependencies{
		TicketRepo: h.repos.Tickets,
		Categories: h.categories,
		Counters:   NewCounterService(CounterDependencies{TicketRepo: h.repos.Tickets, Cache: h.cache, TTL: time.Minute}),
		Cooldowns:  NewCooldownGuard(h.cache, nil),
		Channels:   h.platform,
		Dispatcher: h.dispatcher,
	})
	h.archives = NewArchiveService(ArchiveDependencies{
		TicketRepo:    h.repos.Tickets,
		ArchiveRepo:   h.repos.Archives,
		History:       h.platform,
		Channels:      h.platform,
		Renderer:      renderer,
		PageSize:      100,
		DeleteChannel: true,
	})

	record := func(_ context.Context, e events.Event) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.received = append(h.received, e)
		return nil
	}
	for _, et := range []events.EventType{
		events.EventTicketCreated, events.EventTicketClaimed, events.EventTicketUnclaimed,
		events.EventTicketClosed, events.EventTicketDeleted,
	} {
		h.dispatcher.Subscribe(et, record)
	}
	return h
}

func (h *harness) seedCategory(t *testing.T, category domain.TicketCategory) *domain.TicketCategory {
	t.Helper()
	if category.ID == "" {
		category.ID = "cat-1"
	}
	category.GuildID = testGuild
	if category.Name == "" {
		category.Name = "Support"
	}
	if category.ChannelName == "" {
		category.ChannelName = "ticket-{number}"
	}
	require.NoError(t, h.repos.Categories.Create(context.Background(), &category))
	return &category
}

func (h *harness) eventsOf(et events.EventType) []events.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []events.Event
	for _, e := range h.received {
		if e.Type == et {
			out = append(out, e)
		}
	}
	return out
}

func member(id string, roles ...string) domain.Actor {
	return domain.Actor{ID: id, GuildID: testGuild, Username: "user" + id, RoleIDs: roles}
}

func admin(id string) domain.Actor {
	a := member(id)
	a.Administrator = true
	return a
}

func strPtr(s string) *string { return &s }
