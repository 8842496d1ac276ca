package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/guild-tickets/internal/domain"
	"github.com/spec-kit/guild-tickets/internal/observability"
	"github.com/spec-kit/guild-tickets/internal/platform"
	"github.com/spec-kit/guild-tickets/internal/repository"
	"github.com/spec-kit/guild-tickets/internal/transcript"
	"github.com/spec-kit/guild-tickets/pkg/util/errorutil"
)

const defaultArchivePageSize = 100

// PartialError reports an archival run that stopped early. The stored cursor
// is kept, so the next run continues after the last saved page.
type PartialError struct {
	TicketID string
	Cursor   string
	Archived int
	Err      error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("archive %s stopped after %d messages at cursor %q: %v", e.TicketID, e.Archived, e.Cursor, e.Err)
}

func (e *PartialError) Unwrap() error {
	return e.Err
}

// ArchiveService copies a closed ticket's channel history into the archive
// tables and renders transcripts from them.
type ArchiveService struct {
	tickets       repository.TicketRepository
	archives      repository.ArchiveRepository
	history       platform.HistorySource
	channels      platform.ChannelProvisioner
	renderer      *transcript.Renderer
	metrics       *observability.Metrics
	logger        *zap.Logger
	pageSize      int
	deleteChannel bool
}

// ArchiveDependencies bundles collaborators for the archive service.
type ArchiveDependencies struct {
	TicketRepo    repository.TicketRepository
	ArchiveRepo   repository.ArchiveRepository
	History       platform.HistorySource
	Channels      platform.ChannelProvisioner
	Renderer      *transcript.Renderer
	Metrics       *observability.Metrics
	Logger        *zap.Logger
	PageSize      int
	DeleteChannel bool
}

// NewArchiveService constructs the service.
func NewArchiveService(deps ArchiveDependencies) *ArchiveService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := deps.PageSize
	if pageSize <= 0 || pageSize > defaultArchivePageSize {
		pageSize = defaultArchivePageSize
	}
	return &ArchiveService{
		tickets:       deps.TicketRepo,
		archives:      deps.ArchiveRepo,
		history:       deps.History,
		channels:      deps.Channels,
		renderer:      deps.Renderer,
		metrics:       deps.Metrics,
		logger:        logger,
		pageSize:      pageSize,
		deleteChannel: deps.DeleteChannel,
	}
}

// Run archives the ticket's channel. Completed archives are left untouched, so
// repeated runs are cheap. Failures after the state row exists return *PartialError.
func (s *ArchiveService) Run(ctx context.Context, ticketID string) error {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errorutil.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return err
	}
	if ticket.Open {
		return errorutil.NewConflict("ticket is still open", map[string]any{"ticket_id": ticketID})
	}

	state, err := s.archives.EnsureState(ctx, ticketID)
	if err != nil {
		return err
	}
	if state.Status == domain.ArchiveStatusComplete {
		return nil
	}
	state, err = s.archives.MarkRunning(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}

	done := s.metrics.RecordArchiveRun()
	logger := s.logger.With(zap.String("ticket_id", ticketID), zap.Int("attempt", state.Attempts))
	logger.Info("archive run started", zap.String("cursor", state.Cursor))

	count, cursor, err := s.archive(ctx, ticket, state.Cursor)
	if err != nil {
		done(count, err)
		failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if markErr := s.archives.MarkFailed(failCtx, ticketID, err.Error()); markErr != nil {
			logger.Error("could not record archive failure", zap.Error(markErr))
		}
		logger.Warn("archive run interrupted", zap.String("cursor", cursor), zap.Error(err))
		return &PartialError{TicketID: ticketID, Cursor: cursor, Archived: count, Err: err}
	}
	done(count, nil)
	logger.Info("archive complete", zap.Int("message_count", count))
	return nil
}

// archive pages through the channel from cursor. It returns the archived message
// count on success, or the messages saved by this run and the last saved cursor on failure.
func (s *ArchiveService) archive(ctx context.Context, ticket *domain.Ticket, cursor string) (int, string, error) {
	channelGone := false
	channel, err := s.history.Channel(ctx, ticket.ChannelID)
	switch {
	case errors.Is(err, platform.ErrNotFound):
		channelGone = true
		s.logger.Warn("ticket channel no longer exists; archiving what is stored",
			zap.String("ticket_id", ticket.ID), zap.String("channel_id", ticket.ChannelID))
	case err != nil:
		return 0, cursor, err
	default:
		if err := s.archives.SaveChannel(ctx, domain.ArchivedChannel{
			TicketID:  ticket.ID,
			ChannelID: channel.ID,
			Name:      channel.Name,
			Topic:     channel.Topic,
		}); err != nil {
			return 0, cursor, err
		}
	}

	if err := s.snapshotRoles(ctx, ticket); err != nil {
		return 0, cursor, err
	}

	saved := 0
	seen := map[string]bool{}
	for !channelGone {
		page, err := s.history.FetchMessagePage(ctx, ticket.ChannelID, platform.PageOptions{After: cursor, Limit: s.pageSize})
		if errors.Is(err, platform.ErrNotFound) {
			channelGone = true
			break
		}
		if err != nil {
			return saved, cursor, err
		}
		if len(page) == 0 {
			break
		}

		users, messages := snapshotPage(ticket.ID, page, seen)
		next := page[len(page)-1].ID
		if err := s.archives.SavePage(ctx, ticket.ID, users, messages, next); err != nil {
			return saved, cursor, err
		}
		saved += len(messages)
		cursor = next

		if len(page) < s.pageSize {
			break
		}
	}

	count, err := s.archives.Complete(ctx, ticket.ID)
	if err != nil {
		return saved, cursor, err
	}

	if s.deleteChannel && !channelGone && s.channels != nil {
		if err := s.channels.DeleteChannel(ctx, ticket.ChannelID); err != nil && !errors.Is(err, platform.ErrNotFound) {
			s.logger.Warn("archived channel could not be deleted",
				zap.String("ticket_id", ticket.ID), zap.String("channel_id", ticket.ChannelID), zap.Error(err))
		}
	}
	return count, cursor, nil
}

func (s *ArchiveService) snapshotRoles(ctx context.Context, ticket *domain.Ticket) error {
	roles, err := s.history.GuildRoles(ctx, ticket.GuildID)
	if err != nil {
		return err
	}
	archived := make([]domain.ArchivedRole, 0, len(roles))
	for _, r := range roles {
		archived = append(archived, domain.ArchivedRole{
			TicketID: ticket.ID,
			RoleID:   r.ID,
			Name:     r.Name,
			Color:    r.Color,
			Position: r.Position,
		})
	}
	return s.archives.SaveRoles(ctx, archived)
}

// GenerateTranscript renders the archived history. It never touches the platform.
func (s *ArchiveService) GenerateTranscript(ctx context.Context, ticketID string) (*transcript.Document, error) {
	var (
		ticket *domain.Ticket
		state  *domain.ArchiveState
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ticket, err = s.tickets.GetByID(gctx, ticketID)
		if errors.Is(err, pgx.ErrNoRows) {
			return errorutil.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return err
	})
	g.Go(func() error {
		var err error
		state, err = s.archives.GetState(gctx, ticketID)
		if errors.Is(err, pgx.ErrNoRows) {
			state, err = nil, nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if state == nil || state.Status != domain.ArchiveStatusComplete {
		details := map[string]any{"ticket_id": ticketID, "status": "none"}
		if state != nil {
			details["status"] = string(state.Status)
		}
		return nil, errorutil.NewNotReady("transcript is not available yet", details)
	}

	bundle, err := s.archives.Load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	bundle.Ticket = *ticket
	return s.renderer.Render(bundle)
}

// State returns the archive progress of a ticket.
func (s *ArchiveService) State(ctx context.Context, ticketID string) (*domain.ArchiveState, error) {
	state, err := s.archives.GetState(ctx, ticketID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errorutil.NewNotFound("archive", map[string]any{"ticket_id": ticketID})
	}
	return state, err
}

// Stale lists unfinished archives untouched since before cutoff.
func (s *ArchiveService) Stale(ctx context.Context, cutoff time.Time, limit int) ([]domain.ArchiveState, error) {
	return s.archives.ListStale(ctx, cutoff, limit)
}

// snapshotPage converts a page, keeping the first occurrence of each author.
func snapshotPage(ticketID string, page []platform.Message, seen map[string]bool) ([]domain.ArchivedUser, []domain.ArchivedMessage) {
	var users []domain.ArchivedUser
	messages := make([]domain.ArchivedMessage, 0, len(page))
	for _, m := range page {
		if !seen[m.Author.ID] {
			seen[m.Author.ID] = true
			users = append(users, domain.ArchivedUser{
				TicketID:    ticketID,
				UserID:      m.Author.ID,
				Username:    m.Author.Username,
				DisplayName: m.Author.DisplayName(),
				AvatarURL:   m.Author.AvatarURL,
				Bot:         m.Author.Bot,
			})
		}
		attachments := make([]string, 0, len(m.Attachments))
		for _, a := range m.Attachments {
			attachments = append(attachments, a.URL)
		}
		messages = append(messages, domain.ArchivedMessage{
			TicketID:    ticketID,
			MessageID:   m.ID,
			AuthorID:    m.Author.ID,
			Content:     m.Content,
			Attachments: attachments,
			CreatedAt:   m.Timestamp,
			EditedAt:    m.EditedAt,
		})
	}
	return users, messages
}
