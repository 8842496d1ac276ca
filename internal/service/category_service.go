package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/guild-tickets/internal/domain"
	"github.com/spec-kit/guild-tickets/internal/repository"
	"github.com/spec-kit/guild-tickets/pkg/util/errorutil"
	"github.com/spec-kit/guild-tickets/pkg/util/validation"
)

// MaxQuestionsPerCategory matches the number of inputs a platform modal can hold.
const MaxQuestionsPerCategory = 5

// CategoryService is the category registry: cached reads for the ticket
// workflows and the admin CRUD that invalidates them.
type CategoryService struct {
	categories repository.CategoryRepository
	tickets    repository.TicketRepository
	logger     *zap.Logger

	mu    sync.RWMutex
	cache map[string]*domain.TicketCategory

	// serialises question read-modify-write cycles
	editMu sync.Mutex
}

// CategoryDependencies bundles repositories for the category service.
type CategoryDependencies struct {
	CategoryRepo repository.CategoryRepository
	TicketRepo   repository.TicketRepository
	Logger       *zap.Logger
}

// CategoryInput describes a full category definition.
type CategoryInput struct {
	Name            string   `json:"name" validate:"required,max=100"`
	Description     string   `json:"description" validate:"max=1024"`
	Emoji           string   `json:"emoji" validate:"max=64"`
	ChannelName     string   `json:"channel_name" validate:"required,max=100"`
	ParentChannelID string   `json:"parent_channel_id" validate:"omitempty,numeric"`
	LogChannelID    *string  `json:"log_channel_id" validate:"omitempty,numeric"`
	OpeningMessage  string   `json:"opening_message" validate:"max=4000"`
	MemberLimit     int      `json:"member_limit" validate:"gte=0"`
	TotalLimit      int      `json:"total_limit" validate:"gte=0"`
	CooldownSeconds int      `json:"cooldown_seconds" validate:"gte=0"`
	RequiredRoleIDs []string `json:"required_role_ids" validate:"dive,numeric"`
	StaffRoleIDs    []string `json:"staff_role_ids" validate:"dive,numeric"`
	ClaimingEnabled bool     `json:"claiming_enabled"`
	RequireTopic    bool     `json:"require_topic"`
}

// CategoryPatch carries the fields to change; nil fields are kept.
type CategoryPatch struct {
	Name            *string
	Description     *string
	Emoji           *string
	ChannelName     *string
	ParentChannelID *string
	LogChannelID    *string
	ClearLogChannel bool
	OpeningMessage  *string
	MemberLimit     *int
	TotalLimit      *int
	CooldownSeconds *int
	RequiredRoleIDs *[]string
	StaffRoleIDs    *[]string
	ClaimingEnabled *bool
	RequireTopic    *bool
}

// QuestionInput describes a question to add.
type QuestionInput struct {
	Label       string `json:"label" validate:"required,max=45"`
	Placeholder string `json:"placeholder" validate:"max=100"`
	Required    bool   `json:"required"`
	Style       string `json:"style" validate:"omitempty,oneof=short paragraph"`
	MinLength   int    `json:"min_length" validate:"gte=0,lte=4000"`
	MaxLength   int    `json:"max_length" validate:"gte=0,lte=4000"`
}

// QuestionPatch carries the question fields to change.
type QuestionPatch struct {
	Label       *string
	Placeholder *string
	Required    *bool
	Style       *string
	MinLength   *int
	MaxLength   *int
}

// NewCategoryService constructs the service.
func NewCategoryService(deps CategoryDependencies) *CategoryService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CategoryService{
		categories: deps.CategoryRepo,
		tickets:    deps.TicketRepo,
		logger:     logger,
		cache:      make(map[string]*domain.TicketCategory),
	}
}

// Get returns a category with its questions, from the registry cache unless forceRefresh.
func (s *CategoryService) Get(ctx context.Context, categoryID string, forceRefresh bool) (*domain.TicketCategory, error) {
	if !forceRefresh {
		s.mu.RLock()
		cached, ok := s.cache[categoryID]
		s.mu.RUnlock()
		if ok {
			return cloneCategory(cached), nil
		}
	}

	category, err := s.categories.GetByID(ctx, categoryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorutil.NewNotFound("category", map[string]any{"category_id": categoryID})
		}
		return nil, err
	}

	s.mu.Lock()
	s.cache[categoryID] = cloneCategory(category)
	s.mu.Unlock()
	return category, nil
}

// Invalidate drops a category from the registry cache.
func (s *CategoryService) Invalidate(categoryID string) {
	s.mu.Lock()
	delete(s.cache, categoryID)
	s.mu.Unlock()
}

// ValidateCreation checks that actor may open tickets in category.
func (s *CategoryService) ValidateCreation(category *domain.TicketCategory, actor domain.Actor) error {
	if actor.GuildID != category.GuildID {
		return errorutil.NewForbidden("category belongs to another guild")
	}
	if !category.MeetsRequirements(actor.RoleIDs) {
		return errorutil.NewForbidden("a required role is missing for this category")
	}
	return nil
}

// ListByGuild lists a guild's categories.
func (s *CategoryService) ListByGuild(ctx context.Context, guildID string) ([]domain.TicketCategory, error) {
	return s.categories.ListByGuild(ctx, guildID)
}

// Create stores a new category for the actor's guild.
func (s *CategoryService) Create(ctx context.Context, actor domain.Actor, guildID string, input CategoryInput) (*domain.TicketCategory, error) {
	if err := authorizeManage(actor, guildID); err != nil {
		return nil, err
	}
	if err := validation.Struct(input); err != nil {
		return nil, err
	}

	category := &domain.TicketCategory{ID: uuid.NewString(), GuildID: guildID}
	applyInput(category, input)
	if err := s.categories.Create(ctx, category); err != nil {
		return nil, err
	}
	s.logger.Info("category created", zap.String("category_id", category.ID), zap.String("guild_id", guildID))
	return category, nil
}

// Update applies patch to a category and invalidates the registry entry.
func (s *CategoryService) Update(ctx context.Context, actor domain.Actor, categoryID string, patch CategoryPatch) (*domain.TicketCategory, error) {
	category, err := s.Get(ctx, categoryID, true)
	if err != nil {
		return nil, err
	}
	if err := authorizeManage(actor, category.GuildID); err != nil {
		return nil, err
	}

	input := toInput(category)
	patch.apply(&input)
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	applyInput(category, input)

	if err := s.categories.Update(ctx, category); err != nil {
		return nil, err
	}
	s.Invalidate(categoryID)
	return category, nil
}

// Delete removes a category that has no open tickets.
func (s *CategoryService) Delete(ctx context.Context, actor domain.Actor, categoryID string) error {
	category, err := s.Get(ctx, categoryID, true)
	if err != nil {
		return err
	}
	if err := authorizeManage(actor, category.GuildID); err != nil {
		return err
	}
	open, err := s.tickets.CountOpen(ctx, categoryID)
	if err != nil {
		return err
	}
	if open > 0 {
		return errorutil.NewConflict("category still has open tickets", map[string]any{"open_tickets": open})
	}
	if err := s.categories.Delete(ctx, categoryID); err != nil {
		return err
	}
	s.Invalidate(categoryID)
	return nil
}

// AddQuestion appends a question at the end of the category's order.
func (s *CategoryService) AddQuestion(ctx context.Context, actor domain.Actor, categoryID string, input QuestionInput) (*domain.TicketQuestion, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if err := checkLengths(input.MinLength, input.MaxLength); err != nil {
		return nil, err
	}

	var added domain.TicketQuestion
	err := s.editQuestions(ctx, actor, categoryID, func(questions []domain.TicketQuestion) ([]domain.TicketQuestion, error) {
		if len(questions) >= MaxQuestionsPerCategory {
			return nil, errorutil.NewValidationError("too many questions", map[string]any{"max": MaxQuestionsPerCategory})
		}
		added = domain.TicketQuestion{
			ID:          uuid.NewString(),
			CategoryID:  categoryID,
			Label:       strings.TrimSpace(input.Label),
			Placeholder: input.Placeholder,
			Required:    input.Required,
			Style:       questionStyle(input.Style),
			MinLength:   input.MinLength,
			MaxLength:   input.MaxLength,
			Order:       len(questions),
		}
		return append(questions, added), nil
	})
	if err != nil {
		return nil, err
	}
	return &added, nil
}

// UpdateQuestion changes a question in place.
func (s *CategoryService) UpdateQuestion(ctx context.Context, actor domain.Actor, categoryID, questionID string, patch QuestionPatch) (*domain.TicketQuestion, error) {
	var updated domain.TicketQuestion
	err := s.editQuestions(ctx, actor, categoryID, func(questions []domain.TicketQuestion) ([]domain.TicketQuestion, error) {
		idx := indexOfQuestion(questions, questionID)
		if idx < 0 {
			return nil, errorutil.NewNotFound("question", map[string]any{"question_id": questionID})
		}
		q := questions[idx]
		input := QuestionInput{
			Label:       q.Label,
			Placeholder: q.Placeholder,
			Required:    q.Required,
			Style:       string(q.Style),
			MinLength:   q.MinLength,
			MaxLength:   q.MaxLength,
		}
		patch.apply(&input)
		if err := validation.Struct(input); err != nil {
			return nil, err
		}
		if err := checkLengths(input.MinLength, input.MaxLength); err != nil {
			return nil, err
		}
		q.Label = strings.TrimSpace(input.Label)
		q.Placeholder = input.Placeholder
		q.Required = input.Required
		q.Style = questionStyle(input.Style)
		q.MinLength = input.MinLength
		q.MaxLength = input.MaxLength
		questions[idx] = q
		updated = q
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteQuestion removes a question and closes the gap in the order.
func (s *CategoryService) DeleteQuestion(ctx context.Context, actor domain.Actor, categoryID, questionID string) error {
	return s.editQuestions(ctx, actor, categoryID, func(questions []domain.TicketQuestion) ([]domain.TicketQuestion, error) {
		idx := indexOfQuestion(questions, questionID)
		if idx < 0 {
			return nil, errorutil.NewNotFound("question", map[string]any{"question_id": questionID})
		}
		return append(questions[:idx], questions[idx+1:]...), nil
	})
}

// ReorderQuestions sets the order to questionIDs, which must list every question exactly once.
func (s *CategoryService) ReorderQuestions(ctx context.Context, actor domain.Actor, categoryID string, questionIDs []string) ([]domain.TicketQuestion, error) {
	var result []domain.TicketQuestion
	err := s.editQuestions(ctx, actor, categoryID, func(questions []domain.TicketQuestion) ([]domain.TicketQuestion, error) {
		if len(questionIDs) != len(questions) {
			return nil, errorutil.NewValidationError("order must list every question once", nil)
		}
		reordered := make([]domain.TicketQuestion, 0, len(questions))
		seen := make(map[string]bool, len(questionIDs))
		for _, id := range questionIDs {
			idx := indexOfQuestion(questions, id)
			if idx < 0 || seen[id] {
				return nil, errorutil.NewValidationError("order must list every question once",
					map[string]any{"question_id": id})
			}
			seen[id] = true
			q := questions[idx]
			q.Order = len(reordered)
			reordered = append(reordered, q)
		}
		result = reordered
		return reordered, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *CategoryService) editQuestions(ctx context.Context, actor domain.Actor, categoryID string,
	edit func([]domain.TicketQuestion) ([]domain.TicketQuestion, error)) error {
	s.editMu.Lock()
	defer s.editMu.Unlock()

	category, err := s.Get(ctx, categoryID, true)
	if err != nil {
		return err
	}
	if err := authorizeManage(actor, category.GuildID); err != nil {
		return err
	}

	questions, err := edit(append([]domain.TicketQuestion(nil), category.Questions...))
	if err != nil {
		return err
	}
	normaliseOrder(questions)

	if err := s.categories.ReplaceQuestions(ctx, categoryID, questions); err != nil {
		return err
	}
	s.Invalidate(categoryID)
	return nil
}

func (p QuestionPatch) apply(in *QuestionInput) {
	if p.Label != nil {
		in.Label = *p.Label
	}
	if p.Placeholder != nil {
		in.Placeholder = *p.Placeholder
	}
	if p.Required != nil {
		in.Required = *p.Required
	}
	if p.Style != nil {
		in.Style = *p.Style
	}
	if p.MinLength != nil {
		in.MinLength = *p.MinLength
	}
	if p.MaxLength != nil {
		in.MaxLength = *p.MaxLength
	}
}

func (p CategoryPatch) apply(in *CategoryInput) {
	if p.Name != nil {
		in.Name = *p.Name
	}
	if p.Description != nil {
		in.Description = *p.Description
	}
	if p.Emoji != nil {
		in.Emoji = *p.Emoji
	}
	if p.ChannelName != nil {
		in.ChannelName = *p.ChannelName
	}
	if p.ParentChannelID != nil {
		in.ParentChannelID = *p.ParentChannelID
	}
	if p.LogChannelID != nil {
		in.LogChannelID = p.LogChannelID
	}
	if p.ClearLogChannel {
		in.LogChannelID = nil
	}
	if p.OpeningMessage != nil {
		in.OpeningMessage = *p.OpeningMessage
	}
	if p.MemberLimit != nil {
		in.MemberLimit = *p.MemberLimit
	}
	if p.TotalLimit != nil {
		in.TotalLimit = *p.TotalLimit
	}
	if p.CooldownSeconds != nil {
		in.CooldownSeconds = *p.CooldownSeconds
	}
	if p.RequiredRoleIDs != nil {
		in.RequiredRoleIDs = *p.RequiredRoleIDs
	}
	if p.StaffRoleIDs != nil {
		in.StaffRoleIDs = *p.StaffRoleIDs
	}
	if p.ClaimingEnabled != nil {
		in.ClaimingEnabled = *p.ClaimingEnabled
	}
	if p.RequireTopic != nil {
		in.RequireTopic = *p.RequireTopic
	}
}

func toInput(c *domain.TicketCategory) CategoryInput {
	return CategoryInput{
		Name:            c.Name,
		Description:     c.Description,
		Emoji:           c.Emoji,
		ChannelName:     c.ChannelName,
		ParentChannelID: c.ParentChannelID,
		LogChannelID:    c.LogChannelID,
		OpeningMessage:  c.OpeningMessage,
		MemberLimit:     c.MemberLimit,
		TotalLimit:      c.TotalLimit,
		CooldownSeconds: c.CooldownSeconds,
		RequiredRoleIDs: c.RequiredRoleIDs,
		StaffRoleIDs:    c.StaffRoleIDs,
		ClaimingEnabled: c.ClaimingEnabled,
		RequireTopic:    c.RequireTopic,
	}
}

func applyInput(c *domain.TicketCategory, in CategoryInput) {
	c.Name = strings.TrimSpace(in.Name)
	c.Description = in.Description
	c.Emoji = in.Emoji
	c.ChannelName = strings.TrimSpace(in.ChannelName)
	c.ParentChannelID = in.ParentChannelID
	c.LogChannelID = in.LogChannelID
	c.OpeningMessage = in.OpeningMessage
	c.MemberLimit = in.MemberLimit
	c.TotalLimit = in.TotalLimit
	c.CooldownSeconds = in.CooldownSeconds
	c.RequiredRoleIDs = in.RequiredRoleIDs
	c.StaffRoleIDs = in.StaffRoleIDs
	c.ClaimingEnabled = in.ClaimingEnabled
	c.RequireTopic = in.RequireTopic
}

func authorizeManage(actor domain.Actor, guildID string) error {
	if actor.GuildID != guildID || !actor.Administrator {
		return errorutil.NewForbidden("managing categories requires administrator")
	}
	return nil
}

func checkLengths(minLen, maxLen int) error {
	if maxLen > 0 && minLen > maxLen {
		return errorutil.NewValidationError("min_length exceeds max_length",
			map[string]any{"min_length": minLen, "max_length": maxLen})
	}
	return nil
}

func questionStyle(style string) domain.QuestionStyle {
	if style == string(domain.QuestionStyleParagraph) {
		return domain.QuestionStyleParagraph
	}
	return domain.QuestionStyleShort
}

func indexOfQuestion(questions []domain.TicketQuestion, id string) int {
	for i, q := range questions {
		if q.ID == id {
			return i
		}
	}
	return -1
}

// normaliseOrder keeps the slice order and rewrites Order as 0..n-1.
func normaliseOrder(questions []domain.TicketQuestion) {
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].Order < questions[j].Order })
	for i := range questions {
		questions[i].Order = i
	}
}

func cloneCategory(c *domain.TicketCategory) *domain.TicketCategory {
	clone := *c
	clone.RequiredRoleIDs = append([]string(nil), c.RequiredRoleIDs...)
	clone.StaffRoleIDs = append([]string(nil), c.StaffRoleIDs...)
	clone.Questions = append([]domain.TicketQuestion(nil), c.Questions...)
	return &clone
}
