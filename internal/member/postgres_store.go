package member

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/threadline/internal/merge"
	"github.com/threadline/internal/storage"
)

// PostgresStore persists members in the members table. Usernames and
// profile are jsonb columns so handle lookups can use a jsonb expression
// index per platform.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) querier(tx storage.Tx) (rowQuerier, error) {
	if tx == nil {
		return s.db, nil
	}
	return storage.Unwrap(tx)
}

const memberColumns = `id, tenant_id, usernames, coalesce(display_name,''), coalesce(email,''), score, profile, joined_at, created_at, updated_at`

func (s *PostgresStore) FindByID(ctx context.Context, tx storage.Tx, tenantID, id string) (*Member, error) {
	q, err := s.querier(tx)
	if err != nil {
		return nil, err
	}
	return scanMember(q.QueryRowContext(ctx, `
        SELECT `+memberColumns+`
        FROM members WHERE tenant_id = $1 AND id = $2
    `, tenantID, id))
}

func (s *PostgresStore) FindByUsername(ctx context.Context, tx storage.Tx, tenantID, platform, handle string) (*Member, error) {
	q, err := s.querier(tx)
	if err != nil {
		return nil, err
	}
	// FOR UPDATE serializes concurrent upserts of the same identity.
	return scanMember(q.QueryRowContext(ctx, `
        SELECT `+memberColumns+`
        FROM members WHERE tenant_id = $1 AND usernames->>$2 = $3
        FOR UPDATE
    `, tenantID, platform, handle))
}

func (s *PostgresStore) Create(ctx context.Context, tx storage.Tx, m *Member) error {
	q, err := s.querier(tx)
	if err != nil {
		return err
	}
	usernamesJSON, profileJSON, err := encodeMemberJSON(m)
	if err != nil {
		return err
	}
	return q.QueryRowContext(ctx, `
        INSERT INTO members (tenant_id, usernames, display_name, email, score, profile, joined_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, created_at, updated_at
    `, m.TenantID, usernamesJSON, nullIfEmpty(m.DisplayName), nullIfEmpty(m.Email), m.Score, profileJSON, m.JoinedAt).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

func (s *PostgresStore) Update(ctx context.Context, tx storage.Tx, m *Member) error {
	q, err := s.querier(tx)
	if err != nil {
		return err
	}
	usernamesJSON, profileJSON, err := encodeMemberJSON(m)
	if err != nil {
		return err
	}
	err = q.QueryRowContext(ctx, `
        UPDATE members
        SET usernames = $1, display_name = $2, email = $3, score = $4, profile = $5, joined_at = $6, updated_at = now()
        WHERE tenant_id = $7 AND id = $8
        RETURNING updated_at
    `, usernamesJSON, nullIfEmpty(m.DisplayName), nullIfEmpty(m.Email), m.Score, profileJSON, m.JoinedAt, m.TenantID, m.ID).
		Scan(&m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) Count(ctx context.Context, tx storage.Tx, tenantID string) (int, error) {
	q, err := s.querier(tx)
	if err != nil {
		return 0, err
	}
	var n int
	err = q.QueryRowContext(ctx, `SELECT count(*) FROM members WHERE tenant_id = $1`, tenantID).Scan(&n)
	return n, err
}

func encodeMemberJSON(m *Member) (usernames, profile []byte, err error) {
	usernames, err = json.Marshal(m.Usernames)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal usernames: %w", err)
	}
	if m.Profile != nil {
		profile, err = json.Marshal(m.Profile)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal profile: %w", err)
		}
	}
	return usernames, profile, nil
}

func scanMember(row *sql.Row) (*Member, error) {
	var m Member
	var usernamesJSON []byte
	var profileJSON sql.NullString
	if err := row.Scan(&m.ID, &m.TenantID, &usernamesJSON, &m.DisplayName, &m.Email, &m.Score, &profileJSON, &m.JoinedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(usernamesJSON, &m.Usernames); err != nil {
		return nil, fmt.Errorf("decode usernames: %w", err)
	}
	if profileJSON.Valid && profileJSON.String != "" {
		var p merge.Document
		if err := json.Unmarshal([]byte(profileJSON.String), &p); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		m.Profile = p
	}
	return &m, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
