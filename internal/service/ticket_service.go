package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/guild-tickets/internal/domain"
	"github.com/spec-kit/guild-tickets/internal/events"
	"github.com/spec-kit/guild-tickets/internal/observability"
	"github.com/spec-kit/guild-tickets/internal/platform"
	"github.com/spec-kit/guild-tickets/internal/repository"
	"github.com/spec-kit/guild-tickets/pkg/util/errorutil"
)

const (
	maxTopicLength     = 1024
	compensateTimeout  = 30 * time.Second
	ticketNumberFormat = "%04d"
)

// TicketService runs the ticket state machine: create, claim, unclaim, close and delete.
type TicketService struct {
	tickets    repository.TicketRepository
	categories *CategoryService
	counters   *CounterService
	cooldowns  *CooldownGuard
	channels   platform.ChannelProvisioner
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	Categories *CategoryService
	Counters   *CounterService
	Cooldowns  *CooldownGuard
	Channels   platform.ChannelProvisioner
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Clock      func() time.Time
}

// CreateTicketInput describes a ticket creation request.
// A nil Answers map means the caller has not collected answers yet.
type CreateTicketInput struct {
	CategoryID string
	Actor      domain.Actor
	Topic      *string
	Answers    map[string]string
}

// TicketListFilter narrows guild ticket listings.
type TicketListFilter struct {
	CategoryID *string
	Open       *bool
	Limit      int
	Offset     int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		categories: deps.Categories,
		counters:   deps.Counters,
		cooldowns:  deps.Cooldowns,
		channels:   deps.Channels,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        clock,
	}
}

// Create opens a ticket. The channel is provisioned inside the transaction that
// holds the category lock so that either both the channel and the record exist or neither does.
func (s *TicketService) Create(ctx context.Context, input CreateTicketInput) (ticket *domain.Ticket, err error) {
	defer func() { s.record("create", err) }()

	actor := input.Actor
	category, err := s.categories.Get(ctx, input.CategoryID, false)
	if err != nil {
		if errorutil.HasCode(err, errorutil.CodeNotFound) {
			return nil, errorutil.NewValidationError("unknown category", map[string]any{"category_id": input.CategoryID})
		}
		return nil, err
	}
	if err := s.categories.ValidateCreation(category, actor); err != nil {
		return nil, err
	}

	if category, err = s.precheckLimits(ctx, category, actor.ID); err != nil {
		return nil, err
	}
	if remaining := s.cooldowns.Remaining(ctx, category.ID, actor.ID); remaining > 0 {
		return nil, errorutil.NewCooldownActive(remainingSeconds(remaining))
	}

	topic, err := normaliseTopic(category, input.Topic)
	if err != nil {
		return nil, err
	}

	var answers []domain.TicketQuestionAnswer
	if len(category.Questions) > 0 {
		if input.Answers == nil {
			return nil, errorutil.NewAnswersRequired(describeQuestions(category.Questions))
		}
		if answers, err = collectAnswers(category.Questions, input.Answers, actor.ID); err != nil {
			return nil, err
		}
	}

	var provisioned *platform.Channel
	err = s.tickets.WithinCategoryLock(ctx, category.ID, func(ctx context.Context, tx repository.TicketTx) error {
		limits := tx.Limits()
		if limits.TotalLimit > 0 {
			open, err := tx.CountOpen(ctx, category.ID)
			if err != nil {
				return err
			}
			if open >= limits.TotalLimit {
				return errorutil.NewLimitExceeded("total", limits.TotalLimit)
			}
		}
		if limits.MemberLimit > 0 {
			open, err := tx.CountOpenByMember(ctx, category.ID, actor.ID)
			if err != nil {
				return err
			}
			if open >= limits.MemberLimit {
				return errorutil.NewLimitExceeded("member", limits.MemberLimit)
			}
		}

		number, err := s.counters.ReserveNextNumber(ctx, tx, category.GuildID)
		if err != nil {
			return err
		}

		channel, err := s.channels.CreateChannel(ctx, channelSpec(category, actor, number, topic))
		if err != nil {
			return err
		}
		provisioned = channel

		ticket = &domain.Ticket{
			ID:         domain.TicketID(category.GuildID, number),
			Number:     number,
			GuildID:    category.GuildID,
			CategoryID: category.ID,
			CreatedBy:  actor.ID,
			Topic:      topic,
			Open:       true,
			CreatedAt:  s.now().UTC(),
			ChannelID:  channel.ID,
		}
		if err := tx.Insert(ctx, ticket); err != nil {
			return err
		}
		for i := range answers {
			answers[i].TicketID = ticket.ID
		}
		return tx.InsertAnswers(ctx, answers)
	})
	if err != nil {
		if provisioned != nil {
			s.compensate(ctx, provisioned.ID, err)
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorutil.NewValidationError("unknown category", map[string]any{"category_id": category.ID})
		}
		return nil, err
	}

	s.cooldowns.Start(ctx, category.ID, actor.ID, category.CooldownSeconds)
	s.counters.Invalidate(ctx, category.ID, actor.ID)

	s.logger.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("guild_id", ticket.GuildID),
		zap.String("channel_id", ticket.ChannelID),
		zap.Int64("number", ticket.Number))
	s.publish(ctx, events.NewTicketEvent(events.EventTicketCreated, ticket, actor.ID, events.TicketCreatedPayload{
		Number:    ticket.Number,
		ChannelID: ticket.ChannelID,
		Topic:     ticket.Topic,
	}))
	return ticket, nil
}

// precheckLimits rejects creations that are over a limit without taking the
// category lock. Cached counts and the cached category are hints only: a
// creation is refused here only after the category and the count have been
// reread from the store. The locked recheck stays authoritative.
func (s *TicketService) precheckLimits(ctx context.Context, category *domain.TicketCategory, memberID string) (*domain.TicketCategory, error) {
	overTotal := func(c *domain.TicketCategory, open int) bool { return c.TotalLimit > 0 && open >= c.TotalLimit }
	overMember := func(c *domain.TicketCategory, open int) bool { return c.MemberLimit > 0 && open >= c.MemberLimit }

	if category.TotalLimit > 0 {
		open, err := s.counters.OpenCountForCategory(ctx, category.ID)
		if err != nil {
			return nil, err
		}
		if overTotal(category, open) {
			if category, err = s.categories.Get(ctx, category.ID, true); err != nil {
				return nil, err
			}
			if open, err = s.counters.RefreshCategoryCount(ctx, category.ID); err != nil {
				return nil, err
			}
			if overTotal(category, open) {
				return nil, errorutil.NewLimitExceeded("total", category.TotalLimit)
			}
		}
	}
	if category.MemberLimit > 0 {
		open, err := s.counters.OpenCountForMember(ctx, category.ID, memberID)
		if err != nil {
			return nil, err
		}
		if overMember(category, open) {
			if category, err = s.categories.Get(ctx, category.ID, true); err != nil {
				return nil, err
			}
			if open, err = s.counters.RefreshMemberCount(ctx, category.ID, memberID); err != nil {
				return nil, err
			}
			if overMember(category, open) {
				return nil, errorutil.NewLimitExceeded("member", category.MemberLimit)
			}
		}
	}
	return category, nil
}

// Claim assigns an open ticket to a staff member.
func (s *TicketService) Claim(ctx context.Context, ticketID string, actor domain.Actor) (ticket *domain.Ticket, err error) {
	defer func() { s.record("claim", err) }()

	current, err := s.loadForActor(ctx, ticketID, actor)
	if err != nil {
		return nil, err
	}
	if !current.Open {
		return nil, errorutil.NewConflict("ticket is closed", map[string]any{"ticket_id": ticketID})
	}
	if current.Claimed() {
		return nil, errorutil.NewConflict("ticket already claimed", map[string]any{"claimed_by": *current.ClaimedBy})
	}
	category, err := s.categories.Get(ctx, current.CategoryID, false)
	if err != nil {
		return nil, err
	}
	if !category.IsStaff(actor.RoleIDs) {
		return nil, errorutil.NewForbidden("claiming requires a staff role of this category")
	}

	ticket, err = s.tickets.Claim(ctx, ticketID, actor.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.transitionFailed(ctx, ticketID, "ticket already claimed")
		}
		return nil, err
	}

	if category.ClaimingEnabled {
		s.syncClaimPermissions(ctx, category, ticket, actor.ID, true)
	}
	s.publish(ctx, events.NewTicketEvent(events.EventTicketClaimed, ticket, actor.ID, events.TicketClaimedPayload{ClaimedBy: actor.ID}))
	return ticket, nil
}

// Unclaim clears the claim. Only the claimant or an administrator may do so.
func (s *TicketService) Unclaim(ctx context.Context, ticketID string, actor domain.Actor) (ticket *domain.Ticket, err error) {
	defer func() { s.record("unclaim", err) }()

	current, err := s.loadForActor(ctx, ticketID, actor)
	if err != nil {
		return nil, err
	}
	if !current.Open {
		return nil, errorutil.NewConflict("ticket is closed", map[string]any{"ticket_id": ticketID})
	}
	if !current.Claimed() {
		return nil, errorutil.NewConflict("ticket is not claimed", map[string]any{"ticket_id": ticketID})
	}
	claimant := *current.ClaimedBy
	if claimant != actor.ID && !actor.Administrator {
		return nil, errorutil.NewForbidden("only the claimant or an administrator can unclaim")
	}

	ticket, err = s.tickets.Unclaim(ctx, ticketID, claimant)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.transitionFailed(ctx, ticketID, "claim changed concurrently")
		}
		return nil, err
	}

	if category, err := s.categories.Get(ctx, ticket.CategoryID, false); err == nil && category.ClaimingEnabled {
		s.syncClaimPermissions(ctx, category, ticket, claimant, false)
	}
	s.publish(ctx, events.NewTicketEvent(events.EventTicketUnclaimed, ticket, actor.ID, nil))
	return ticket, nil
}

// Close marks the ticket closed and soft deleted, then hands archival to the
// ticket_closed subscribers. It does not wait for archival.
func (s *TicketService) Close(ctx context.Context, ticketID string, actor domain.Actor, reason *string) (ticket *domain.Ticket, err error) {
	defer func() { s.record("close", err) }()

	current, err := s.loadForActor(ctx, ticketID, actor)
	if err != nil {
		return nil, err
	}
	if !current.Open {
		return nil, errorutil.NewConflict("ticket already closed", map[string]any{"ticket_id": ticketID})
	}
	if current.CreatedBy != actor.ID && !actor.Administrator && !s.isStaff(ctx, current, actor) {
		return nil, errorutil.NewForbidden("only the creator or staff can close this ticket")
	}
	return s.closeTransition(ctx, current, actor, reason)
}

// Delete soft deletes a ticket. Deleting an open ticket closes it first. Repeated calls succeed.
func (s *TicketService) Delete(ctx context.Context, ticketID string, actor domain.Actor) (err error) {
	defer func() { s.record("delete", err) }()

	current, err := s.loadForActor(ctx, ticketID, actor)
	if err != nil {
		return err
	}
	if !actor.Administrator && !s.isStaff(ctx, current, actor) {
		return errorutil.NewForbidden("deleting tickets requires staff or administrator")
	}

	changed := false
	if current.Open {
		closed, err := s.closeTransition(ctx, current, actor, nil)
		switch {
		case err == nil:
			current = closed
			changed = true
		case !errorutil.HasCode(err, errorutil.CodeConflict):
			return err
		}
	}

	deleted, err := s.tickets.SoftDelete(ctx, ticketID)
	if err != nil {
		return err
	}
	if changed || deleted {
		s.logger.Info("ticket deleted", zap.String("ticket_id", ticketID), zap.String("actor_id", actor.ID))
		s.publish(ctx, events.NewTicketEvent(events.EventTicketDeleted, current, actor.ID, nil))
	}
	return nil
}

// Get returns a ticket visible to actor.
func (s *TicketService) Get(ctx context.Context, ticketID string, actor domain.Actor) (*domain.Ticket, error) {
	ticket, err := s.loadForActor(ctx, ticketID, actor)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeView(ctx, ticket, actor); err != nil {
		return nil, err
	}
	return ticket, nil
}

// GetByChannel resolves the ticket bound to exactly channelID.
func (s *TicketService) GetByChannel(ctx context.Context, channelID string, actor domain.Actor) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorutil.NewNotFound("ticket", map[string]any{"channel_id": channelID})
		}
		return nil, err
	}
	if ticket.GuildID != actor.GuildID {
		return nil, errorutil.NewNotFound("ticket", map[string]any{"channel_id": channelID})
	}
	if err := s.authorizeView(ctx, ticket, actor); err != nil {
		return nil, err
	}
	return ticket, nil
}

// List returns the actor's guild tickets. Members without staff or
// administrator rights only see their own.
func (s *TicketService) List(ctx context.Context, actor domain.Actor, filter TicketListFilter) ([]domain.Ticket, error) {
	repoFilter := repository.TicketFilter{
		GuildID:    actor.GuildID,
		CategoryID: filter.CategoryID,
		Open:       filter.Open,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}

	seeAll := actor.Administrator
	if !seeAll && filter.CategoryID != nil {
		if category, err := s.categories.Get(ctx, *filter.CategoryID, false); err == nil {
			seeAll = category.GuildID == actor.GuildID && category.IsStaff(actor.RoleIDs)
		}
	}
	if !seeAll {
		repoFilter.CreatedBy = &actor.ID
	}
	return s.tickets.List(ctx, repoFilter)
}

// Answers returns the question answers recorded with a ticket.
func (s *TicketService) Answers(ctx context.Context, ticketID string, actor domain.Actor) ([]domain.TicketQuestionAnswer, error) {
	if _, err := s.Get(ctx, ticketID, actor); err != nil {
		return nil, err
	}
	return s.tickets.ListAnswers(ctx, ticketID)
}

func (s *TicketService) closeTransition(ctx context.Context, current *domain.Ticket, actor domain.Actor, reason *string) (*domain.Ticket, error) {
	if reason != nil {
		trimmed := strings.TrimSpace(*reason)
		if trimmed == "" {
			reason = nil
		} else {
			reason = &trimmed
		}
	}

	ticket, err := s.tickets.Close(ctx, current.ID, actor.ID, reason, s.now().UTC())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.transitionFailed(ctx, current.ID, "ticket already closed")
		}
		return nil, err
	}

	s.counters.Invalidate(ctx, ticket.CategoryID, ticket.CreatedBy)
	s.logger.Info("ticket closed", zap.String("ticket_id", ticket.ID), zap.String("actor_id", actor.ID))
	s.publish(ctx, events.NewTicketEvent(events.EventTicketClosed, ticket, actor.ID, events.TicketClosedPayload{
		ChannelID: ticket.ChannelID,
		Reason:    ticket.CloseReason,
	}))
	return ticket, nil
}

func (s *TicketService) loadForActor(ctx context.Context, ticketID string, actor domain.Actor) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorutil.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, err
	}
	if ticket.GuildID != actor.GuildID {
		return nil, errorutil.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}

func (s *TicketService) authorizeView(ctx context.Context, ticket *domain.Ticket, actor domain.Actor) error {
	if ticket.CreatedBy == actor.ID || actor.Administrator || s.isStaff(ctx, ticket, actor) {
		return nil
	}
	return errorutil.NewForbidden("ticket is not visible to this member")
}

func (s *TicketService) isStaff(ctx context.Context, ticket *domain.Ticket, actor domain.Actor) bool {
	category, err := s.categories.Get(ctx, ticket.CategoryID, false)
	if err != nil {
		return false
	}
	return category.IsStaff(actor.RoleIDs)
}

// transitionFailed explains a compare-and-swap update that matched no row.
func (s *TicketService) transitionFailed(ctx context.Context, ticketID, message string) error {
	current, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errorutil.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return err
	}
	details := map[string]any{"ticket_id": ticketID, "open": current.Open}
	if current.ClaimedBy != nil {
		details["claimed_by"] = *current.ClaimedBy
	}
	return errorutil.NewConflict(message, details)
}

// syncClaimPermissions limits sending to the claimant while claimed and restores staff access afterwards.
// The state transition has already committed, so failures are logged only.
func (s *TicketService) syncClaimPermissions(ctx context.Context, category *domain.TicketCategory, ticket *domain.Ticket, claimant string, claimed bool) {
	staffAccess := platform.PermissionOverwrite{Type: platform.OverwriteRole, Allow: platform.TicketParticipant}
	if claimed {
		staffAccess.Allow = platform.TicketParticipant &^ platform.PermissionSendMessages
		staffAccess.Deny = platform.PermissionSendMessages
	}
	for _, roleID := range category.StaffRoleIDs {
		overwrite := staffAccess
		overwrite.SubjectID = roleID
		if err := s.channels.SetPermission(ctx, ticket.ChannelID, overwrite); err != nil {
			s.logger.Warn("staff permission update failed",
				zap.String("ticket_id", ticket.ID), zap.String("role_id", roleID), zap.Error(err))
		}
	}

	member := platform.PermissionOverwrite{SubjectID: claimant, Type: platform.OverwriteMember}
	if claimed || claimant == ticket.CreatedBy {
		member.Allow = platform.TicketParticipant
	}
	if err := s.channels.SetPermission(ctx, ticket.ChannelID, member); err != nil {
		s.logger.Warn("claimant permission update failed",
			zap.String("ticket_id", ticket.ID), zap.String("user_id", claimant), zap.Error(err))
	}
}

// compensate deletes a channel whose ticket record was never committed.
func (s *TicketService) compensate(ctx context.Context, channelID string, cause error) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	if err := s.channels.DeleteChannel(cleanupCtx, channelID); err != nil {
		s.logger.Error("orphaned ticket channel could not be removed",
			zap.String("channel_id", channelID), zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	s.logger.Warn("removed ticket channel after failed creation",
		zap.String("channel_id", channelID), zap.Error(cause))
}

func (s *TicketService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func (s *TicketService) record(operation string, err error) {
	result := "ok"
	if err != nil {
		result = errorutil.ToDomainError(err).Code
	}
	s.metrics.RecordTicketOperation(operation, result)
}

func channelSpec(category *domain.TicketCategory, actor domain.Actor, number int64, topic *string) platform.ChannelSpec {
	spec := platform.ChannelSpec{
		GuildID:  category.GuildID,
		Name:     category.RenderChannelName(fmt.Sprintf(ticketNumberFormat, number), actor.Username, actor.ID),
		ParentID: category.ParentChannelID,
		Topic:    fmt.Sprintf("Ticket #%d opened by <@%s>", number, actor.ID),
		Overwrites: []platform.PermissionOverwrite{
			{SubjectID: category.GuildID, Type: platform.OverwriteRole, Deny: platform.PermissionViewChannel},
			{SubjectID: actor.ID, Type: platform.OverwriteMember, Allow: platform.TicketParticipant},
		},
	}
	if topic != nil {
		spec.Topic = *topic
	}
	for _, roleID := range category.StaffRoleIDs {
		spec.Overwrites = append(spec.Overwrites, platform.PermissionOverwrite{
			SubjectID: roleID, Type: platform.OverwriteRole, Allow: platform.TicketParticipant,
		})
	}
	return spec
}

func normaliseTopic(category *domain.TicketCategory, topic *string) (*string, error) {
	if topic != nil {
		trimmed := strings.TrimSpace(*topic)
		if trimmed == "" {
			topic = nil
		} else {
			topic = &trimmed
		}
	}
	if topic == nil && category.RequireTopic {
		return nil, errorutil.NewValidationError("a topic is required for this category", map[string]any{"field": "topic"})
	}
	if topic != nil && utf8.RuneCountInString(*topic) > maxTopicLength {
		return nil, errorutil.NewValidationError("topic is too long", map[string]any{"max": maxTopicLength})
	}
	return topic, nil
}

func describeQuestions(questions []domain.TicketQuestion) []map[string]any {
	result := make([]map[string]any, 0, len(questions))
	for _, q := range questions {
		result = append(result, map[string]any{
			"id":          q.ID,
			"label":       q.Label,
			"placeholder": q.Placeholder,
			"required":    q.Required,
			"style":       string(q.Style),
			"min_length":  q.MinLength,
			"max_length":  q.MaxLength,
			"order":       q.Order,
		})
	}
	return result
}

func collectAnswers(questions []domain.TicketQuestion, values map[string]string, userID string) ([]domain.TicketQuestionAnswer, error) {
	known := make(map[string]domain.TicketQuestion, len(questions))
	for _, q := range questions {
		known[q.ID] = q
	}
	for id := range values {
		if _, ok := known[id]; !ok {
			return nil, errorutil.NewValidationError("answer for unknown question", map[string]any{"question_id": id})
		}
	}

	var answers []domain.TicketQuestionAnswer
	for _, q := range questions {
		value := strings.TrimSpace(values[q.ID])
		if value == "" {
			if q.Required {
				return nil, errorutil.NewValidationError("required question unanswered",
					map[string]any{"question_id": q.ID, "label": q.Label})
			}
			continue
		}
		length := utf8.RuneCountInString(value)
		if length < q.MinLength || (q.MaxLength > 0 && length > q.MaxLength) {
			return nil, errorutil.NewValidationError("answer length out of bounds",
				map[string]any{"question_id": q.ID, "min_length": q.MinLength, "max_length": q.MaxLength})
		}
		answers = append(answers, domain.TicketQuestionAnswer{QuestionID: q.ID, UserID: userID, Value: value})
	}
	return answers, nil
}
