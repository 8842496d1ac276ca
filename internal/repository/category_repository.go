package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/guild-tickets/internal/domain"
)

const categoryColumns = `id, guild_id, name, description, emoji, channel_name, parent_channel_id, log_channel_id,
       opening_message, member_limit, total_limit, cooldown_seconds, required_role_ids, staff_role_ids,
       claiming_enabled, require_topic, created_at, updated_at`

const questionColumns = `id, category_id, label, placeholder, required, style, min_length, max_length, sort_order`

type categoryRepository struct {
	pool *pgxpool.Pool
}

// NewCategoryRepository builds repository.
func NewCategoryRepository(pool *pgxpool.Pool) CategoryRepository {
	return &categoryRepository{pool: pool}
}

func (r *categoryRepository) Create(ctx context.Context, category *domain.TicketCategory) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
        INSERT INTO ticket_categories (id, guild_id, name, description, emoji, channel_name, parent_channel_id,
            log_channel_id, opening_message, member_limit, total_limit, cooldown_seconds, required_role_ids,
            staff_role_ids, claiming_enabled, require_topic)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
        RETURNING created_at, updated_at`
	if err := tx.QueryRow(ctx, query,
		category.ID,
		category.GuildID,
		category.Name,
		category.Description,
		category.Emoji,
		category.ChannelName,
		category.ParentChannelID,
		category.LogChannelID,
		category.OpeningMessage,
		category.MemberLimit,
		category.TotalLimit,
		category.CooldownSeconds,
		nonNil(category.RequiredRoleIDs),
		nonNil(category.StaffRoleIDs),
		category.ClaimingEnabled,
		category.RequireTopic,
	).Scan(&category.CreatedAt, &category.UpdatedAt); err != nil {
		return err
	}

	if err := insertQuestions(ctx, tx, category.Questions); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *categoryRepository) Update(ctx context.Context, category *domain.TicketCategory) error {
	const query = `
        UPDATE ticket_categories SET name=$2, description=$3, emoji=$4, channel_name=$5, parent_channel_id=$6,
            log_channel_id=$7, opening_message=$8, member_limit=$9, total_limit=$10, cooldown_seconds=$11,
            required_role_ids=$12, staff_role_ids=$13, claiming_enabled=$14, require_topic=$15, updated_at=NOW()
        WHERE id=$1
        RETURNING updated_at`
	return r.pool.QueryRow(ctx, query,
		category.ID,
		category.Name,
		category.Description,
		category.Emoji,
		category.ChannelName,
		category.ParentChannelID,
		category.LogChannelID,
		category.OpeningMessage,
		category.MemberLimit,
		category.TotalLimit,
		category.CooldownSeconds,
		nonNil(category.RequiredRoleIDs),
		nonNil(category.StaffRoleIDs),
		category.ClaimingEnabled,
		category.RequireTopic,
	).Scan(&category.UpdatedAt)
}

func (r *categoryRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM ticket_categories WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *categoryRepository) GetByID(ctx context.Context, id string) (*domain.TicketCategory, error) {
	category, err := scanCategory(r.pool.QueryRow(ctx, `SELECT `+categoryColumns+` FROM ticket_categories WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	questions, err := r.loadQuestions(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	category.Questions = questions[id]
	return category, nil
}

func (r *categoryRepository) ListByGuild(ctx context.Context, guildID string) ([]domain.TicketCategory, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+categoryColumns+` FROM ticket_categories WHERE guild_id=$1 ORDER BY name`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		result []domain.TicketCategory
		ids    []string
	)
	for rows.Next() {
		category, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *category)
		ids = append(ids, category.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return result, nil
	}

	questions, err := r.loadQuestions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range result {
		result[i].Questions = questions[result[i].ID]
	}
	return result, nil
}

func (r *categoryRepository) ReplaceQuestions(ctx context.Context, categoryID string, questions []domain.TicketQuestion) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cmd, err := tx.Exec(ctx, `UPDATE ticket_categories SET updated_at=NOW() WHERE id=$1`, categoryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	if _, err := tx.Exec(ctx, `DELETE FROM ticket_questions WHERE category_id=$1`, categoryID); err != nil {
		return err
	}
	if err := insertQuestions(ctx, tx, questions); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *categoryRepository) loadQuestions(ctx context.Context, categoryIDs []string) (map[string][]domain.TicketQuestion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM ticket_questions WHERE category_id = ANY($1) ORDER BY category_id, sort_order`,
		categoryIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]domain.TicketQuestion, len(categoryIDs))
	for rows.Next() {
		var q domain.TicketQuestion
		if err := rows.Scan(
			&q.ID,
			&q.CategoryID,
			&q.Label,
			&q.Placeholder,
			&q.Required,
			&q.Style,
			&q.MinLength,
			&q.MaxLength,
			&q.Order,
		); err != nil {
			return nil, err
		}
		result[q.CategoryID] = append(result[q.CategoryID], q)
	}
	return result, rows.Err()
}

func insertQuestions(ctx context.Context, tx pgx.Tx, questions []domain.TicketQuestion) error {
	if len(questions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, q := range questions {
		batch.Queue(`
            INSERT INTO ticket_questions (`+questionColumns+`)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			q.ID, q.CategoryID, q.Label, q.Placeholder, q.Required, q.Style, q.MinLength, q.MaxLength, q.Order)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func scanCategory(row pgx.Row) (*domain.TicketCategory, error) {
	var c domain.TicketCategory
	if err := row.Scan(
		&c.ID,
		&c.GuildID,
		&c.Name,
		&c.Description,
		&c.Emoji,
		&c.ChannelName,
		&c.ParentChannelID,
		&c.LogChannelID,
		&c.OpeningMessage,
		&c.MemberLimit,
		&c.TotalLimit,
		&c.CooldownSeconds,
		&c.RequiredRoleIDs,
		&c.StaffRoleIDs,
		&c.ClaimingEnabled,
		&c.RequireTopic,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
