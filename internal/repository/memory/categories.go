package memory

import (
	"context"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/guild-tickets/internal/domain"
)

type categoryRepo Store

func (r *categoryRepo) store() *Store { return (*Store)(r) }

func (r *categoryRepo) Create(_ context.Context, category *domain.TicketCategory) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	category.CreatedAt = now
	category.UpdatedAt = now
	s.categories[category.ID] = cloneCategory(*category)
	return nil
}

func (r *categoryRepo) Update(_ context.Context, category *domain.TicketCategory) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.categories[category.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	category.CreatedAt = existing.CreatedAt
	category.UpdatedAt = s.now().UTC()
	updated := cloneCategory(*category)
	updated.Questions = existing.Questions
	s.categories[category.ID] = updated
	return nil
}

func (r *categoryRepo) Delete(_ context.Context, id string) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(s.categories, id)
	return nil
}

func (r *categoryRepo) GetByID(_ context.Context, id string) (*domain.TicketCategory, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c = cloneCategory(c)
	return &c, nil
}

func (r *categoryRepo) ListByGuild(_ context.Context, guildID string) ([]domain.TicketCategory, error) {
	s := r.store()
	s.mu.Lock()
	var result []domain.TicketCategory
	for _, c := range s.categories {
		if c.GuildID == guildID {
			result = append(result, cloneCategory(c))
		}
	}
	s.mu.Unlock()
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (r *categoryRepo) ReplaceQuestions(_ context.Context, categoryID string, questions []domain.TicketQuestion) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[categoryID]
	if !ok {
		return pgx.ErrNoRows
	}
	c.Questions = append([]domain.TicketQuestion(nil), questions...)
	sort.Slice(c.Questions, func(i, j int) bool { return c.Questions[i].Order < c.Questions[j].Order })
	c.UpdatedAt = s.now().UTC()
	s.categories[categoryID] = c
	return nil
}

func cloneCategory(c domain.TicketCategory) domain.TicketCategory {
	c.RequiredRoleIDs = append([]string(nil), c.RequiredRoleIDs...)
	c.StaffRoleIDs = append([]string(nil), c.StaffRoleIDs...)
	c.Questions = append([]domain.TicketQuestion(nil), c.Questions...)
	return c
}
