package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/guild-tickets/internal/domain"
)

const archiveStateColumns = `ticket_id, status, cursor, attempts, last_error, updated_at, completed_at`

type archiveRepository struct {
	pool *pgxpool.Pool
}

// NewArchiveRepository builds repository.
func NewArchiveRepository(pool *pgxpool.Pool) ArchiveRepository {
	return &archiveRepository{pool: pool}
}

func (r *archiveRepository) EnsureState(ctx context.Context, ticketID string) (*domain.ArchiveState, error) {
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO ticket_archive_state (ticket_id) VALUES ($1) ON CONFLICT (ticket_id) DO NOTHING`, ticketID); err != nil {
		return nil, err
	}
	return r.GetState(ctx, ticketID)
}

func (r *archiveRepository) GetState(ctx context.Context, ticketID string) (*domain.ArchiveState, error) {
	return scanArchiveState(r.pool.QueryRow(ctx,
		`SELECT `+archiveStateColumns+` FROM ticket_archive_state WHERE ticket_id=$1`, ticketID))
}

func (r *archiveRepository) MarkRunning(ctx context.Context, ticketID string) (*domain.ArchiveState, error) {
	const query = `
        UPDATE ticket_archive_state SET status='running', attempts=attempts+1, updated_at=NOW()
        WHERE ticket_id=$1 AND status <> 'complete'
        RETURNING ` + archiveStateColumns
	return scanArchiveState(r.pool.QueryRow(ctx, query, ticketID))
}

func (r *archiveRepository) MarkFailed(ctx context.Context, ticketID, reason string) error {
	_, err := r.pool.Exec(ctx, `
        UPDATE ticket_archive_state SET status='failed', last_error=$2, updated_at=NOW()
        WHERE ticket_id=$1 AND status <> 'complete'`, ticketID, reason)
	return err
}

func (r *archiveRepository) ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.ArchiveState, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
        SELECT `+archiveStateColumns+` FROM ticket_archive_state
        WHERE status IN ('pending','running','failed') AND updated_at < $1
        ORDER BY updated_at ASC LIMIT $2`, updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ArchiveState
	for rows.Next() {
		state, err := scanArchiveState(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *state)
	}
	return result, rows.Err()
}

func (r *archiveRepository) SaveChannel(ctx context.Context, channel domain.ArchivedChannel) error {
	_, err := r.pool.Exec(ctx, `
        INSERT INTO archived_channels (ticket_id, channel_id, name, topic) VALUES ($1,$2,$3,$4)
        ON CONFLICT (ticket_id) DO NOTHING`,
		channel.TicketID, channel.ChannelID, channel.Name, channel.Topic)
	return err
}

func (r *archiveRepository) SaveRoles(ctx context.Context, roles []domain.ArchivedRole) error {
	if len(roles) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, role := range roles {
		batch.Queue(`
            INSERT INTO archived_roles (ticket_id, role_id, name, color, position) VALUES ($1,$2,$3,$4,$5)
            ON CONFLICT (ticket_id, role_id) DO NOTHING`,
			role.TicketID, role.RoleID, role.Name, role.Color, role.Position)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

func (r *archiveRepository) SavePage(ctx context.Context, ticketID string, users []domain.ArchivedUser, messages []domain.ArchivedMessage, cursor string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, u := range users {
		batch.Queue(`
            INSERT INTO archived_users (ticket_id, user_id, username, display_name, avatar_url, bot)
            VALUES ($1,$2,$3,$4,$5,$6)
            ON CONFLICT (ticket_id, user_id) DO NOTHING`,
			ticketID, u.UserID, u.Username, u.DisplayName, u.AvatarURL, u.Bot)
	}
	for _, m := range messages {
		batch.Queue(`
            INSERT INTO archived_messages (ticket_id, message_id, author_id, content, attachments, created_at, edited_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7)
            ON CONFLICT (ticket_id, message_id) DO NOTHING`,
			ticketID, m.MessageID, m.AuthorID, m.Content, nonNil(m.Attachments), m.CreatedAt, m.EditedAt)
	}
	batch.Queue(`UPDATE ticket_archive_state SET cursor=$2, updated_at=NOW() WHERE ticket_id=$1`, ticketID, cursor)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *archiveRepository) Complete(ctx context.Context, ticketID string) (int, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM archived_messages WHERE ticket_id=$1`, ticketID).Scan(&count); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `UPDATE tickets SET message_count=$2 WHERE id=$1`, ticketID, count); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `
        UPDATE ticket_archive_state SET status='complete', last_error=NULL, updated_at=NOW(), completed_at=NOW()
        WHERE ticket_id=$1`, ticketID); err != nil {
		return 0, err
	}
	return count, tx.Commit(ctx)
}

func (r *archiveRepository) Load(ctx context.Context, ticketID string) (*domain.ArchiveBundle, error) {
	bundle := &domain.ArchiveBundle{Users: map[string]domain.ArchivedUser{}}

	var channel domain.ArchivedChannel
	err := r.pool.QueryRow(ctx, `SELECT ticket_id, channel_id, name, topic FROM archived_channels WHERE ticket_id=$1`, ticketID).
		Scan(&channel.TicketID, &channel.ChannelID, &channel.Name, &channel.Topic)
	switch {
	case err == nil:
		bundle.Channel = &channel
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, err
	}

	roleRows, err := r.pool.Query(ctx, `
        SELECT ticket_id, role_id, name, color, position FROM archived_roles
        WHERE ticket_id=$1 ORDER BY position DESC`, ticketID)
	if err != nil {
		return nil, err
	}
	defer roleRows.Close()
	for roleRows.Next() {
		var role domain.ArchivedRole
		if err := roleRows.Scan(&role.TicketID, &role.RoleID, &role.Name, &role.Color, &role.Position); err != nil {
			return nil, err
		}
		bundle.Roles = append(bundle.Roles, role)
	}
	if err := roleRows.Err(); err != nil {
		return nil, err
	}

	userRows, err := r.pool.Query(ctx, `
        SELECT ticket_id, user_id, username, display_name, avatar_url, bot FROM archived_users WHERE ticket_id=$1`, ticketID)
	if err != nil {
		return nil, err
	}
	defer userRows.Close()
	for userRows.Next() {
		var u domain.ArchivedUser
		if err := userRows.Scan(&u.TicketID, &u.UserID, &u.Username, &u.DisplayName, &u.AvatarURL, &u.Bot); err != nil {
			return nil, err
		}
		bundle.Users[u.UserID] = u
	}
	if err := userRows.Err(); err != nil {
		return nil, err
	}

	msgRows, err := r.pool.Query(ctx, `
        SELECT ticket_id, message_id, author_id, content, attachments, created_at, edited_at
        FROM archived_messages WHERE ticket_id=$1 ORDER BY created_at, message_id`, ticketID)
	if err != nil {
		return nil, err
	}
	defer msgRows.Close()
	for msgRows.Next() {
		var m domain.ArchivedMessage
		if err := msgRows.Scan(&m.TicketID, &m.MessageID, &m.AuthorID, &m.Content, &m.Attachments, &m.CreatedAt, &m.EditedAt); err != nil {
			return nil, err
		}
		bundle.Messages = append(bundle.Messages, m)
	}
	return bundle, msgRows.Err()
}

func scanArchiveState(row pgx.Row) (*domain.ArchiveState, error) {
	var s domain.ArchiveState
	if err := row.Scan(&s.TicketID, &s.Status, &s.Cursor, &s.Attempts, &s.LastError, &s.UpdatedAt, &s.CompletedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// NewPostgresStore wires the pgx repositories over one pool.
func NewPostgresStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Tickets:    NewTicketRepository(pool),
		Categories: NewCategoryRepository(pool),
		Archives:   NewArchiveRepository(pool),
	}
}
