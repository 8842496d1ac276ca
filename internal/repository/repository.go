// Package repository defines ticket persistence and its Postgres implementation.
// Lookups that find nothing return pgx.ErrNoRows; compare-and-swap updates whose
// precondition no longer holds also return pgx.ErrNoRows.
package repository

import (
	"context"
	"time"

	"github.com/spec-kit/guild-tickets/internal/domain"
)

// TicketFilter narrows ticket listings to a guild.
type TicketFilter struct {
	GuildID    string
	CategoryID *string
	CreatedBy  *string
	Open       *bool
	Limit      int
	Offset     int
}

// CategoryLimits are the creation limits read from the locked category row.
type CategoryLimits struct {
	TotalLimit  int
	MemberLimit int
}

// TicketTx is the unit of work run while a category row is locked.
type TicketTx interface {
	// Limits returns the category's limits as stored when the lock was taken.
	Limits() CategoryLimits
	CountOpen(ctx context.Context, categoryID string) (int, error)
	CountOpenByMember(ctx context.Context, categoryID, memberID string) (int, error)
	// NextNumber reserves the next guild ticket number. The reservation is released on rollback.
	NextNumber(ctx context.Context, guildID string) (int64, error)
	Insert(ctx context.Context, ticket *domain.Ticket) error
	InsertAnswers(ctx context.Context, answers []domain.TicketQuestionAnswer) error
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	// WithinCategoryLock runs fn in a transaction holding the category row lock and
	// commits when fn returns nil.
	WithinCategoryLock(ctx context.Context, categoryID string, fn func(ctx context.Context, tx TicketTx) error) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByChannel(ctx context.Context, channelID string) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	CountOpen(ctx context.Context, categoryID string) (int, error)
	CountOpenByMember(ctx context.Context, categoryID, memberID string) (int, error)
	Claim(ctx context.Context, id, claimant string) (*domain.Ticket, error)
	Unclaim(ctx context.Context, id, claimant string) (*domain.Ticket, error)
	Close(ctx context.Context, id, closedBy string, reason *string, at time.Time) (*domain.Ticket, error)
	// SoftDelete marks the ticket deleted and reports whether anything changed.
	SoftDelete(ctx context.Context, id string) (bool, error)
	ListAnswers(ctx context.Context, ticketID string) ([]domain.TicketQuestionAnswer, error)
}

// CategoryRepository stores categories together with their ordered questions.
type CategoryRepository interface {
	Create(ctx context.Context, category *domain.TicketCategory) error
	Update(ctx context.Context, category *domain.TicketCategory) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*domain.TicketCategory, error)
	ListByGuild(ctx context.Context, guildID string) ([]domain.TicketCategory, error)
	ReplaceQuestions(ctx context.Context, categoryID string, questions []domain.TicketQuestion) error
}

// ArchiveRepository persists archive snapshots and the resumable pipeline state.
// Snapshot rows are insert-only; writing an existing key is a no-op.
type ArchiveRepository interface {
	EnsureState(ctx context.Context, ticketID string) (*domain.ArchiveState, error)
	GetState(ctx context.Context, ticketID string) (*domain.ArchiveState, error)
	MarkRunning(ctx context.Context, ticketID string) (*domain.ArchiveState, error)
	MarkFailed(ctx context.Context, ticketID, reason string) error
	ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.ArchiveState, error)
	SaveChannel(ctx context.Context, channel domain.ArchivedChannel) error
	SaveRoles(ctx context.Context, roles []domain.ArchivedRole) error
	// SavePage stores a page of users and messages and advances the cursor atomically.
	SavePage(ctx context.Context, ticketID string, users []domain.ArchivedUser, messages []domain.ArchivedMessage, cursor string) error
	// Complete writes the archived message count onto the ticket and marks the state complete.
	Complete(ctx context.Context, ticketID string) (int, error)
	Load(ctx context.Context, ticketID string) (*domain.ArchiveBundle, error)
}

// Store bundles the repositories of one backend.
type Store struct {
	Tickets    TicketRepository
	Categories CategoryRepository
	Archives   ArchiveRepository
}
