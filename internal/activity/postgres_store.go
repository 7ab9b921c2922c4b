package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/threadline/internal/merge"
	"github.com/threadline/internal/storage"
)

// PostgresStore persists activities in the activities table. The
// idempotency key (tenant_id, platform, source_id) is backed by a
// unique index; concurrent first-writes of the same key surface as a
// constraint violation and the enclosing transaction retries.
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

const activityColumns = `id, tenant_id, platform, source_id, type, timestamp, payload,
    is_key_action, score, member_id,
    coalesce(parent_id::text, ''), coalesce(source_parent_id, ''), coalesce(conversation_id::text, ''),
    created_at, updated_at`

func (s *PostgresStore) FindByID(ctx context.Context, tx storage.Tx, tenantID, id string) (*Activity, error) {
	q, err := s.querier(tx)
	if err != nil {
		return nil, err
	}
	return scanActivity(q.QueryRowContext(ctx, `
        SELECT `+activityColumns+`
        FROM activities WHERE tenant_id = $1 AND id = $2
        FOR UPDATE
    `, tenantID, id))
}

func (s *PostgresStore) FindBySourceID(ctx context.Context, tx storage.Tx, tenantID, platform, sourceID string) (*Activity, error) {
	q, err := s.querier(tx)
	if err != nil {
		return nil, err
	}
	return scanActivity(q.QueryRowContext(ctx, `
        SELECT `+activityColumns+`
        FROM activities WHERE tenant_id = $1 AND platform = $2 AND source_id = $3
        FOR UPDATE
    `, tenantID, platform, sourceID))
}

func (s *PostgresStore) FindUnresolvedChildren(ctx context.Context, tx storage.Tx, tenantID, platform, sourceID string) ([]*Activity, error) {
	q, err := s.querier(tx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `
        SELECT `+activityColumns+`
        FROM activities
        WHERE tenant_id = $1 AND platform = $2 AND source_parent_id = $3 AND parent_id IS NULL
        ORDER BY created_at ASC, id ASC
        FOR UPDATE
    `, tenantID, platform, sourceID)
	if err != nil {
		return nil, err
	}
	return collectActivities(rows)
}

func (s *PostgresStore) ListByConversation(ctx context.Context, tx storage.Tx, tenantID, conversationID string) ([]*Activity, error) {
	q, err := s.querier(tx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `
        SELECT `+activityColumns+`
        FROM activities
        WHERE tenant_id = $1 AND conversation_id = $2
        ORDER BY created_at ASC, id ASC
    `, tenantID, conversationID)
	if err != nil {
		return nil, err
	}
	return collectActivities(rows)
}

func (s *PostgresStore) Create(ctx context.Context, tx storage.Tx, a *Activity) (*Activity, error) {
	q, err := s.querier(tx)
	if err != nil {
		return nil, err
	}
	payload, err := encodePayload(a.Payload)
	if err != nil {
		return nil, err
	}
	out := cloneActivity(a)
	err = q.QueryRowContext(ctx, `
        INSERT INTO activities
            (tenant_id, platform, source_id, type, timestamp, payload,
             is_key_action, score, member_id, parent_id, source_parent_id, conversation_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        RETURNING id, created_at, updated_at
    `, a.TenantID, a.Platform, a.SourceID, a.Type, a.Timestamp, payload,
		a.IsKeyAction, a.Score, a.MemberID,
		nullIfEmpty(a.ParentID), nullIfEmpty(a.SourceParentID), nullIfEmpty(a.ConversationID),
	).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting activity: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, tx storage.Tx, a *Activity) (*Activity, error) {
	q, err := s.querier(tx)
	if err != nil {
		return nil, err
	}
	payload, err := encodePayload(a.Payload)
	if err != nil {
		return nil, err
	}
	out := cloneActivity(a)
	err = q.QueryRowContext(ctx, `
        UPDATE activities
        SET type = $1, timestamp = $2, payload = $3, is_key_action = $4, score = $5,
            member_id = $6, parent_id = $7, source_parent_id = $8, conversation_id = $9,
            updated_at = now()
        WHERE tenant_id = $10 AND id = $11
        RETURNING created_at, updated_at
    `, a.Type, a.Timestamp, payload, a.IsKeyAction, a.Score,
		a.MemberID, nullIfEmpty(a.ParentID), nullIfEmpty(a.SourceParentID), nullIfEmpty(a.ConversationID),
		a.TenantID, a.ID,
	).Scan(&out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating activity: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Count(ctx context.Context, tx storage.Tx, tenantID string) (int, error) {
	q, err := s.querier(tx)
	if err != nil {
		return 0, err
	}
	var n int
	err = q.QueryRowContext(ctx, `SELECT count(*) FROM activities WHERE tenant_id = $1`, tenantID).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row *sql.Row) (*Activity, error) {
	a, err := scanActivityRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func scanActivityRow(row rowScanner) (*Activity, error) {
	var a Activity
	var payload []byte
	if err := row.Scan(
		&a.ID, &a.TenantID, &a.Platform, &a.SourceID, &a.Type, &a.Timestamp, &payload,
		&a.IsKeyAction, &a.Score, &a.MemberID,
		&a.ParentID, &a.SourceParentID, &a.ConversationID,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Payload = merge.Document{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &a.Payload); err != nil {
			return nil, fmt.Errorf("decoding activity payload: %w", err)
		}
	}
	return &a, nil
}

func collectActivities(rows *sql.Rows) ([]*Activity, error) {
	defer rows.Close()
	var out []*Activity
	for rows.Next() {
		a, err := scanActivityRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func encodePayload(doc merge.Document) ([]byte, error) {
	if doc == nil {
		doc = merge.Document{}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding activity payload: %w", err)
	}
	return b, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
