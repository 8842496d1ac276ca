package memory

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/guild-tickets/internal/domain"
)

type archiveRepo Store

func (r *archiveRepo) store() *Store { return (*Store)(r) }

func (r *archiveRepo) EnsureState(ctx context.Context, ticketID string) (*domain.ArchiveState, error) {
	s := r.store()
	s.mu.Lock()
	if _, ok := s.tickets[ticketID]; !ok {
		s.mu.Unlock()
		return nil, pgx.ErrNoRows
	}
	if _, ok := s.states[ticketID]; !ok {
		s.states[ticketID] = domain.ArchiveState{
			TicketID:  ticketID,
			Status:    domain.ArchiveStatusPending,
			UpdatedAt: s.now().UTC(),
		}
	}
	s.mu.Unlock()
	return r.GetState(ctx, ticketID)
}

func (r *archiveRepo) GetState(_ context.Context, ticketID string) (*domain.ArchiveState, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[ticketID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &state, nil
}

func (r *archiveRepo) MarkRunning(_ context.Context, ticketID string) (*domain.ArchiveState, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[ticketID]
	if !ok || state.Status == domain.ArchiveStatusComplete {
		return nil, pgx.ErrNoRows
	}
	state.Status = domain.ArchiveStatusRunning
	state.Attempts++
	state.UpdatedAt = s.now().UTC()
	s.states[ticketID] = state
	return &state, nil
}

func (r *archiveRepo) MarkFailed(_ context.Context, ticketID, reason string) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[ticketID]
	if !ok || state.Status == domain.ArchiveStatusComplete {
		return nil
	}
	state.Status = domain.ArchiveStatusFailed
	state.LastError = &reason
	state.UpdatedAt = s.now().UTC()
	s.states[ticketID] = state
	return nil
}

func (r *archiveRepo) ListStale(_ context.Context, updatedBefore time.Time, limit int) ([]domain.ArchiveState, error) {
	s := r.store()
	s.mu.Lock()
	var result []domain.ArchiveState
	for _, state := range s.states {
		if state.Status != domain.ArchiveStatusComplete && state.UpdatedAt.Before(updatedBefore) {
			result = append(result, state)
		}
	}
	s.mu.Unlock()

	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.Before(result[j].UpdatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *archiveRepo) SaveChannel(_ context.Context, channel domain.ArchivedChannel) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.aChannel[channel.TicketID]; !ok {
		s.aChannel[channel.TicketID] = channel
	}
	return nil
}

func (r *archiveRepo) SaveRoles(_ context.Context, roles []domain.ArchivedRole) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, role := range roles {
		byID := s.aRoles[role.TicketID]
		if byID == nil {
			byID = map[string]domain.ArchivedRole{}
			s.aRoles[role.TicketID] = byID
		}
		if _, ok := byID[role.RoleID]; !ok {
			byID[role.RoleID] = role
		}
	}
	return nil
}

func (r *archiveRepo) SavePage(_ context.Context, ticketID string, users []domain.ArchivedUser, messages []domain.ArchivedMessage, cursor string) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[ticketID]
	if !ok {
		return pgx.ErrNoRows
	}

	byUser := s.aUsers[ticketID]
	if byUser == nil {
		byUser = map[string]domain.ArchivedUser{}
		s.aUsers[ticketID] = byUser
	}
	for _, u := range users {
		if _, exists := byUser[u.UserID]; !exists {
			u.TicketID = ticketID
			byUser[u.UserID] = u
		}
	}

	byMsg := s.aMsgs[ticketID]
	if byMsg == nil {
		byMsg = map[string]domain.ArchivedMessage{}
		s.aMsgs[ticketID] = byMsg
	}
	for _, m := range messages {
		if _, exists := byMsg[m.MessageID]; !exists {
			m.TicketID = ticketID
			byMsg[m.MessageID] = m
		}
	}

	state.Cursor = cursor
	state.UpdatedAt = s.now().UTC()
	s.states[ticketID] = state
	return nil
}

func (r *archiveRepo) Complete(_ context.Context, ticketID string) (int, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[ticketID]
	if !ok {
		return 0, pgx.ErrNoRows
	}
	count := len(s.aMsgs[ticketID])
	ticket.MessageCount = count
	s.tickets[ticketID] = ticket

	now := s.now().UTC()
	state := s.states[ticketID]
	state.TicketID = ticketID
	state.Status = domain.ArchiveStatusComplete
	state.LastError = nil
	state.UpdatedAt = now
	state.CompletedAt = &now
	s.states[ticketID] = state
	return count, nil
}

func (r *archiveRepo) Load(_ context.Context, ticketID string) (*domain.ArchiveBundle, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()

	bundle := &domain.ArchiveBundle{Users: map[string]domain.ArchivedUser{}}
	if channel, ok := s.aChannel[ticketID]; ok {
		bundle.Channel = &channel
	}
	for _, role := range s.aRoles[ticketID] {
		bundle.Roles = append(bundle.Roles, role)
	}
	sort.Slice(bundle.Roles, func(i, j int) bool { return bundle.Roles[i].Position > bundle.Roles[j].Position })
	for id, u := range s.aUsers[ticketID] {
		bundle.Users[id] = u
	}
	for _, m := range s.aMsgs[ticketID] {
		bundle.Messages = append(bundle.Messages, m)
	}
	sort.Slice(bundle.Messages, func(i, j int) bool {
		a, b := bundle.Messages[i], bundle.Messages[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.MessageID < b.MessageID
	})
	return bundle, nil
}
