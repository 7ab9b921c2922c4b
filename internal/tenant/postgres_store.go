package tenant

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/threadline/internal/storage"
)

// PostgresSettingsStore persists conversation settings in the
// conversation_settings table, one row per tenant.
type PostgresSettingsStore struct {
	db *sql.DB
}

func NewPostgresSettingsStore(db *sql.DB) *PostgresSettingsStore {
	return &PostgresSettingsStore{db: db}
}

func (s *PostgresSettingsStore) querier(tx storage.Tx) (querier, error) {
	if tx == nil {
		return s.db, nil
	}
	return storage.Unwrap(tx)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresSettingsStore) FindOrCreateDefault(ctx context.Context, tx storage.Tx, tenantID string) (*ConversationSettings, error) {
	q, err := s.querier(tx)
	if err != nil {
		return nil, err
	}

	cs, err := scanSettings(q.QueryRowContext(ctx, `
        SELECT id, tenant_id, auto_publish, created_at, updated_at
        FROM conversation_settings WHERE tenant_id = $1
    `, tenantID))
	if err == nil {
		return cs, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	def := DefaultSettings(tenantID)
	apJSON, err := json.Marshal(def.AutoPublish)
	if err != nil {
		return nil, fmt.Errorf("marshal auto-publish settings: %w", err)
	}
	// Concurrent first access races on the tenant_id unique constraint;
	// the loser reads the winner's row.
	return scanSettings(q.QueryRowContext(ctx, `
        INSERT INTO conversation_settings (tenant_id, auto_publish)
        VALUES ($1, $2)
        ON CONFLICT (tenant_id) DO UPDATE SET updated_at = conversation_settings.updated_at
        RETURNING id, tenant_id, auto_publish, created_at, updated_at
    `, tenantID, apJSON))
}

func (s *PostgresSettingsStore) Save(ctx context.Context, tx storage.Tx, tenantID string, ap AutoPublishSettings) (*ConversationSettings, error) {
	q, err := s.querier(tx)
	if err != nil {
		return nil, err
	}
	apJSON, err := json.Marshal(ap)
	if err != nil {
		return nil, fmt.Errorf("marshal auto-publish settings: %w", err)
	}
	return scanSettings(q.QueryRowContext(ctx, `
        INSERT INTO conversation_settings (tenant_id, auto_publish)
        VALUES ($1, $2)
        ON CONFLICT (tenant_id) DO UPDATE SET auto_publish = EXCLUDED.auto_publish, updated_at = now()
        RETURNING id, tenant_id, auto_publish, created_at, updated_at
    `, tenantID, apJSON))
}

func scanSettings(row *sql.Row) (*ConversationSettings, error) {
	var cs ConversationSettings
	var apJSON []byte
	var createdAt, updatedAt time.Time
	if err := row.Scan(&cs.ID, &cs.TenantID, &apJSON, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(apJSON) > 0 {
		if err := json.Unmarshal(apJSON, &cs.AutoPublish); err != nil {
			return nil, fmt.Errorf("decode auto-publish settings: %w", err)
		}
	}
	cs.CreatedAt = createdAt
	cs.UpdatedAt = updatedAt
	return &cs, nil
}
