package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/guild-tickets/internal/domain"
)

const ticketColumns = `id, number, guild_id, category_id, created_by, claimed_by, topic, open, deleted,
       created_at, closed_at, closed_by, close_reason, channel_id, message_count`

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) WithinCategoryLock(ctx context.Context, categoryID string, fn func(ctx context.Context, tx TicketTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var limits CategoryLimits
	if err := tx.QueryRow(ctx, `SELECT total_limit, member_limit FROM ticket_categories WHERE id=$1 FOR UPDATE`, categoryID).
		Scan(&limits.TotalLimit, &limits.MemberLimit); err != nil {
		return err
	}
	if err := fn(ctx, &ticketTx{tx: tx, limits: limits}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	return scanTicket(r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1`, id))
}

func (r *ticketRepository) GetByChannel(ctx context.Context, channelID string) (*domain.Ticket, error) {
	return scanTicket(r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE channel_id=$1`, channelID))
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"guild_id=$1"}
	args := []any{filter.GuildID}

	if filter.CategoryID != nil {
		args = append(args, *filter.CategoryID)
		clauses = append(clauses, fmt.Sprintf("category_id=$%d", len(args)))
	}
	if filter.CreatedBy != nil {
		args = append(args, *filter.CreatedBy)
		clauses = append(clauses, fmt.Sprintf("created_by=$%d", len(args)))
	}
	if filter.Open != nil {
		args = append(args, *filter.Open)
		clauses = append(clauses, fmt.Sprintf("open=$%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY number DESC LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func (r *ticketRepository) CountOpen(ctx context.Context, categoryID string) (int, error) {
	return countOpen(ctx, r.pool, categoryID)
}

func (r *ticketRepository) CountOpenByMember(ctx context.Context, categoryID, memberID string) (int, error) {
	return countOpenByMember(ctx, r.pool, categoryID, memberID)
}

func (r *ticketRepository) Claim(ctx context.Context, id, claimant string) (*domain.Ticket, error) {
	const query = `UPDATE tickets SET claimed_by=$2 WHERE id=$1 AND open AND claimed_by IS NULL RETURNING ` + ticketColumns
	return scanTicket(r.pool.QueryRow(ctx, query, id, claimant))
}

func (r *ticketRepository) Unclaim(ctx context.Context, id, claimant string) (*domain.Ticket, error) {
	const query = `UPDATE tickets SET claimed_by=NULL WHERE id=$1 AND open AND claimed_by=$2 RETURNING ` + ticketColumns
	return scanTicket(r.pool.QueryRow(ctx, query, id, claimant))
}

// Close inserts the pending archive state in the same statement, so a committed
// close always leaves a row for the archive sweeper.
func (r *ticketRepository) Close(ctx context.Context, id, closedBy string, reason *string, at time.Time) (*domain.Ticket, error) {
	const query = `
        WITH closed AS (
            UPDATE tickets SET open=FALSE, deleted=TRUE, closed_at=$2, closed_by=$3, close_reason=$4
            WHERE id=$1 AND open
            RETURNING *
        ), archive AS (
            INSERT INTO ticket_archive_state (ticket_id)
            SELECT id FROM closed
            ON CONFLICT (ticket_id) DO NOTHING
        )
        SELECT ` + ticketColumns + ` FROM closed`
	return scanTicket(r.pool.QueryRow(ctx, query, id, at, closedBy, reason))
}

func (r *ticketRepository) SoftDelete(ctx context.Context, id string) (bool, error) {
	cmd, err := r.pool.Exec(ctx, `UPDATE tickets SET deleted=TRUE, open=FALSE WHERE id=$1 AND NOT deleted`, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *ticketRepository) ListAnswers(ctx context.Context, ticketID string) ([]domain.TicketQuestionAnswer, error) {
	const query = `
        SELECT a.ticket_id, a.question_id, a.user_id, a.value
        FROM ticket_answers a
        LEFT JOIN ticket_questions q ON q.id = a.question_id
        WHERE a.ticket_id=$1
        ORDER BY q.sort_order NULLS LAST, a.question_id`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketQuestionAnswer
	for rows.Next() {
		var answer domain.TicketQuestionAnswer
		if err := rows.Scan(&answer.TicketID, &answer.QuestionID, &answer.UserID, &answer.Value); err != nil {
			return nil, err
		}
		result = append(result, answer)
	}
	return result, rows.Err()
}

type ticketTx struct {
	tx     pgx.Tx
	limits CategoryLimits
}

func (t *ticketTx) Limits() CategoryLimits {
	return t.limits
}

func (t *ticketTx) CountOpen(ctx context.Context, categoryID string) (int, error) {
	return countOpen(ctx, t.tx, categoryID)
}

func (t *ticketTx) CountOpenByMember(ctx context.Context, categoryID, memberID string) (int, error) {
	return countOpenByMember(ctx, t.tx, categoryID, memberID)
}

func (t *ticketTx) NextNumber(ctx context.Context, guildID string) (int64, error) {
	const query = `
        INSERT INTO ticket_counters (guild_id, counter) VALUES ($1, 1)
        ON CONFLICT (guild_id) DO UPDATE SET counter = ticket_counters.counter + 1
        RETURNING counter`
	var number int64
	err := t.tx.QueryRow(ctx, query, guildID).Scan(&number)
	return number, err
}

func (t *ticketTx) Insert(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, number, guild_id, category_id, created_by, topic, open, deleted, created_at, channel_id)
        VALUES ($1,$2,$3,$4,$5,$6,TRUE,FALSE,$7,$8)`
	_, err := t.tx.Exec(ctx, query,
		ticket.ID,
		ticket.Number,
		ticket.GuildID,
		ticket.CategoryID,
		ticket.CreatedBy,
		ticket.Topic,
		ticket.CreatedAt,
		ticket.ChannelID,
	)
	return err
}

func (t *ticketTx) InsertAnswers(ctx context.Context, answers []domain.TicketQuestionAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, answer := range answers {
		batch.Queue(`INSERT INTO ticket_answers (ticket_id, question_id, user_id, value) VALUES ($1,$2,$3,$4)`,
			answer.TicketID, answer.QuestionID, answer.UserID, answer.Value)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func countOpen(ctx context.Context, q queryRower, categoryID string) (int, error) {
	var count int
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE category_id=$1 AND open`, categoryID).Scan(&count)
	return count, err
}

func countOpenByMember(ctx context.Context, q queryRower, categoryID, memberID string) (int, error) {
	var count int
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE category_id=$1 AND created_by=$2 AND open`,
		categoryID, memberID).Scan(&count)
	return count, err
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.Number,
		&ticket.GuildID,
		&ticket.CategoryID,
		&ticket.CreatedBy,
		&ticket.ClaimedBy,
		&ticket.Topic,
		&ticket.Open,
		&ticket.Deleted,
		&ticket.CreatedAt,
		&ticket.ClosedAt,
		&ticket.ClosedBy,
		&ticket.CloseReason,
		&ticket.ChannelID,
		&ticket.MessageCount,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}
