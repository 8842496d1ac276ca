// Package memory is an in-process implementation of the repository interfaces.
// It keeps the locking behavior of the Postgres store: a creation holds the
// category lock for its whole unit of work and the guild number lock from
// reservation until commit or rollback.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/guild-tickets/internal/domain"
	"github.com/spec-kit/guild-tickets/internal/repository"
)

// Store holds all entities in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	categories map[string]domain.TicketCategory
	tickets    map[string]domain.Ticket
	channels   map[string]string
	answers    map[string][]domain.TicketQuestionAnswer
	counters   map[string]int64

	states   map[string]domain.ArchiveState
	aChannel map[string]domain.ArchivedChannel
	aRoles   map[string]map[string]domain.ArchivedRole
	aUsers   map[string]map[string]domain.ArchivedUser
	aMsgs    map[string]map[string]domain.ArchivedMessage

	categoryLocks keyedMutex
	guildLocks    keyedMutex

	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		categories: map[string]domain.TicketCategory{},
		tickets:    map[string]domain.Ticket{},
		channels:   map[string]string{},
		answers:    map[string][]domain.TicketQuestionAnswer{},
		counters:   map[string]int64{},
		states:     map[string]domain.ArchiveState{},
		aChannel:   map[string]domain.ArchivedChannel{},
		aRoles:     map[string]map[string]domain.ArchivedRole{},
		aUsers:     map[string]map[string]domain.ArchivedUser{},
		aMsgs:      map[string]map[string]domain.ArchivedMessage{},
		now:        time.Now,
	}
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() *repository.Store {
	return &repository.Store{
		Tickets:    (*ticketRepo)(s),
		Categories: (*categoryRepo)(s),
		Archives:   (*archiveRepo)(s),
	}
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = map[string]*sync.Mutex{}
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	return l
}

type ticketRepo Store

func (r *ticketRepo) store() *Store { return (*Store)(r) }

func (r *ticketRepo) WithinCategoryLock(ctx context.Context, categoryID string, fn func(ctx context.Context, tx repository.TicketTx) error) error {
	s := r.store()
	lock := s.categoryLocks.get(categoryID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	category, ok := s.categories[categoryID]
	s.mu.Unlock()
	if !ok {
		return pgx.ErrNoRows
	}

	tx := &ticketTx{
		store:    s,
		limits:   repository.CategoryLimits{TotalLimit: category.TotalLimit, MemberLimit: category.MemberLimit},
		counters: map[string]int64{},
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

func (r *ticketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &t, nil
}

func (r *ticketRepo) GetByChannel(ctx context.Context, channelID string) (*domain.Ticket, error) {
	s := r.store()
	s.mu.Lock()
	id, ok := s.channels[channelID]
	s.mu.Unlock()
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return r.GetByID(ctx, id)
}

func (r *ticketRepo) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	s := r.store()
	s.mu.Lock()
	var result []domain.Ticket
	for _, t := range s.tickets {
		if t.GuildID != filter.GuildID {
			continue
		}
		if filter.CategoryID != nil && t.CategoryID != *filter.CategoryID {
			continue
		}
		if filter.CreatedBy != nil && t.CreatedBy != *filter.CreatedBy {
			continue
		}
		if filter.Open != nil && t.Open != *filter.Open {
			continue
		}
		result = append(result, t)
	}
	s.mu.Unlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Number > result[j].Number })

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(result) {
		return nil, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], nil
}

func (r *ticketRepo) CountOpen(_ context.Context, categoryID string) (int, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countOpenLocked(categoryID, ""), nil
}

func (r *ticketRepo) CountOpenByMember(_ context.Context, categoryID, memberID string) (int, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countOpenLocked(categoryID, memberID), nil
}

func (r *ticketRepo) Claim(_ context.Context, id, claimant string) (*domain.Ticket, error) {
	return r.update(id, func(t *domain.Ticket) bool {
		if !t.Open || t.ClaimedBy != nil {
			return false
		}
		t.ClaimedBy = &claimant
		return true
	})
}

func (r *ticketRepo) Unclaim(_ context.Context, id, claimant string) (*domain.Ticket, error) {
	return r.update(id, func(t *domain.Ticket) bool {
		if !t.Open || t.ClaimedBy == nil || *t.ClaimedBy != claimant {
			return false
		}
		t.ClaimedBy = nil
		return true
	})
}

func (r *ticketRepo) Close(_ context.Context, id, closedBy string, reason *string, at time.Time) (*domain.Ticket, error) {
	s := r.store()
	return r.update(id, func(t *domain.Ticket) bool {
		if !t.Open {
			return false
		}
		t.Open = false
		t.Deleted = true
		t.ClosedAt = &at
		t.ClosedBy = &closedBy
		t.CloseReason = reason
		if _, ok := s.states[id]; !ok {
			s.states[id] = domain.ArchiveState{TicketID: id, Status: domain.ArchiveStatusPending, UpdatedAt: s.now().UTC()}
		}
		return true
	})
}

func (r *ticketRepo) SoftDelete(_ context.Context, id string) (bool, error) {
	_, err := r.update(id, func(t *domain.Ticket) bool {
		if t.Deleted {
			return false
		}
		t.Deleted = true
		t.Open = false
		return true
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r *ticketRepo) ListAnswers(_ context.Context, ticketID string) ([]domain.TicketQuestionAnswer, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TicketQuestionAnswer(nil), s.answers[ticketID]...), nil
}

func (r *ticketRepo) update(id string, apply func(t *domain.Ticket) bool) (*domain.Ticket, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || !apply(&t) {
		return nil, pgx.ErrNoRows
	}
	s.tickets[id] = t
	return &t, nil
}

func (s *Store) countOpenLocked(categoryID, memberID string) int {
	count := 0
	for _, t := range s.tickets {
		if t.CategoryID == categoryID && t.Open && (memberID == "" || t.CreatedBy == memberID) {
			count++
		}
	}
	return count
}

// ticketTx buffers writes until commit.
type ticketTx struct {
	store    *Store
	limits   repository.CategoryLimits
	counters map[string]int64
	held     []*sync.Mutex
	tickets  []domain.Ticket
	answers  []domain.TicketQuestionAnswer
}

func (t *ticketTx) Limits() repository.CategoryLimits {
	return t.limits
}

func (t *ticketTx) CountOpen(_ context.Context, categoryID string) (int, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.countOpenLocked(categoryID, "") + t.pending(categoryID, ""), nil
}

func (t *ticketTx) CountOpenByMember(_ context.Context, categoryID, memberID string) (int, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.countOpenLocked(categoryID, memberID) + t.pending(categoryID, memberID), nil
}

func (t *ticketTx) pending(categoryID, memberID string) int {
	count := 0
	for _, ticket := range t.tickets {
		if ticket.CategoryID == categoryID && (memberID == "" || ticket.CreatedBy == memberID) {
			count++
		}
	}
	return count
}

func (t *ticketTx) NextNumber(_ context.Context, guildID string) (int64, error) {
	if next, ok := t.counters[guildID]; ok {
		t.counters[guildID] = next + 1
		return next + 1, nil
	}
	lock := t.store.guildLocks.get(guildID)
	lock.Lock()
	t.held = append(t.held, lock)

	t.store.mu.Lock()
	next := t.store.counters[guildID] + 1
	t.store.mu.Unlock()
	t.counters[guildID] = next
	return next, nil
}

func (t *ticketTx) Insert(_ context.Context, ticket *domain.Ticket) error {
	ticket.Open = true
	ticket.Deleted = false
	t.tickets = append(t.tickets, *ticket)
	return nil
}

func (t *ticketTx) InsertAnswers(_ context.Context, answers []domain.TicketQuestionAnswer) error {
	t.answers = append(t.answers, answers...)
	return nil
}

func (t *ticketTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ticket := range t.tickets {
		if _, ok := s.tickets[ticket.ID]; ok {
			return fmt.Errorf("duplicate ticket id %s", ticket.ID)
		}
		if _, ok := s.channels[ticket.ChannelID]; ok {
			return fmt.Errorf("duplicate channel id %s", ticket.ChannelID)
		}
	}
	seen := map[string]bool{}
	for _, a := range t.answers {
		key := a.TicketID + "/" + a.QuestionID
		if seen[key] || len(s.answers[a.TicketID]) > 0 {
			return fmt.Errorf("duplicate answer for %s", key)
		}
		seen[key] = true
	}

	for guildID, counter := range t.counters {
		s.counters[guildID] = counter
	}
	for _, ticket := range t.tickets {
		s.tickets[ticket.ID] = ticket
		s.channels[ticket.ChannelID] = ticket.ID
	}
	for _, a := range t.answers {
		s.answers[a.TicketID] = append(s.answers[a.TicketID], a)
	}
	return nil
}

func (t *ticketTx) release() {
	for _, l := range t.held {
		l.Unlock()
	}
	t.held = nil
}
