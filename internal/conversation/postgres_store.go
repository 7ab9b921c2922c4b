package conversation

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/threadline/internal/storage"
)

// PostgresStore persists conversations in the conversations table. Slug
// uniqueness per tenant is enforced by a unique index; the service
// disambiguates before insert so conflicts only occur under concurrent
// creation, where the transaction retries.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

type execQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) querier(tx storage.Tx) (execQuerier, error) {
	if tx == nil {
		return s.db, nil
	}
	return storage.Unwrap(tx)
}

const conversationColumns = `id, tenant_id, title, slug, published, created_at, updated_at`

func (s *PostgresStore) FindByID(ctx context.Context, tx storage.Tx, tenantID, id string) (*Conversation, error) {
	q, err := s.querier(tx)
	if err != nil {
		return nil, err
	}
	return scanConversation(q.QueryRowContext(ctx, `
        SELECT `+conversationColumns+`
        FROM conversations WHERE tenant_id = $1 AND id = $2
        FOR UPDATE
    `, tenantID, id))
}

func (s *PostgresStore) FindBySlug(ctx context.Context, tx storage.Tx, tenantID, slug string) (*Conversation, error) {
	q, err := s.querier(tx)
	if err != nil {
		return nil, err
	}
	return scanConversation(q.QueryRowContext(ctx, `
        SELECT `+conversationColumns+`
        FROM conversations WHERE tenant_id = $1 AND slug = $2
    `, tenantID, slug))
}

func (s *PostgresStore) FindAndCount(ctx context.Context, tx storage.Tx, tenantID string, f Filter) ([]*Conversation, int, error) {
	q, err := s.querier(tx)
	if err != nil {
		return nil, 0, err
	}

	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if f.Slug != "" {
		args = append(args, f.Slug)
		where = append(where, "slug = $2")
	}
	if f.Published != nil {
		args = append(args, *f.Published)
		where = append(where, "published = $"+strconv.Itoa(len(args)))
	}

	rows, err := q.QueryContext(ctx, `
        SELECT `+conversationColumns+`
        FROM conversations WHERE `+strings.Join(where, " AND ")+`
        ORDER BY created_at ASC
    `, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]*Conversation, 0)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Title, &c.Slug, &c.Published, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &c)
	}
	return out, len(out), rows.Err()
}

func (s *PostgresStore) Create(ctx context.Context, tx storage.Tx, c *Conversation) error {
	q, err := s.querier(tx)
	if err != nil {
		return err
	}
	return q.QueryRowContext(ctx, `
        INSERT INTO conversations (tenant_id, title, slug, published)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at, updated_at
    `, c.TenantID, c.Title, c.Slug, c.Published).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (s *PostgresStore) Update(ctx context.Context, tx storage.Tx, c *Conversation) error {
	q, err := s.querier(tx)
	if err != nil {
		return err
	}
	err = q.QueryRowContext(ctx, `
        UPDATE conversations
        SET title = $1, slug = $2, published = $3, updated_at = now()
        WHERE tenant_id = $4 AND id = $5
        RETURNING updated_at
    `, c.Title, c.Slug, c.Published, c.TenantID, c.ID).Scan(&c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, tx storage.Tx, tenantID, id string) error {
	q, err := s.querier(tx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `DELETE FROM conversations WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConversation(row *sql.Row) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.TenantID, &c.Title, &c.Slug, &c.Published, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
