package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Statements are idempotent so Migrate can run on every boot. River's
// own tables are managed by its migration CLI and are not listed here.
var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`,

	`CREATE TABLE IF NOT EXISTS members (
        id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
        tenant_id text NOT NULL,
        usernames jsonb NOT NULL DEFAULT '{}'::jsonb,
        display_name text,
        email text,
        score integer NOT NULL DEFAULT 0,
        profile jsonb NOT NULL DEFAULT '{}'::jsonb,
        joined_at timestamptz,
        created_at timestamptz NOT NULL DEFAULT now(),
        updated_at timestamptz NOT NULL DEFAULT now()
    )`,
	`CREATE INDEX IF NOT EXISTS members_tenant_idx ON members (tenant_id)`,
	`CREATE INDEX IF NOT EXISTS members_usernames_idx ON members USING gin (usernames)`,

	`CREATE TABLE IF NOT EXISTS conversations (
        id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
        tenant_id text NOT NULL,
        title text NOT NULL DEFAULT '',
        slug text NOT NULL,
        published boolean NOT NULL DEFAULT false,
        created_at timestamptz NOT NULL DEFAULT now(),
        updated_at timestamptz NOT NULL DEFAULT now()
    )`,
	`CREATE UNIQUE INDEX IF NOT EXISTS conversations_tenant_slug_idx
        ON conversations (tenant_id, slug)`,

	`CREATE TABLE IF NOT EXISTS activities (
        id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
        tenant_id text NOT NULL,
        platform text NOT NULL,
        source_id text NOT NULL,
        type text NOT NULL DEFAULT '',
        timestamp timestamptz NOT NULL,
        payload jsonb NOT NULL DEFAULT '{}'::jsonb,
        is_key_action boolean NOT NULL DEFAULT false,
        score double precision NOT NULL DEFAULT 0,
        member_id uuid NOT NULL REFERENCES members (id),
        parent_id uuid REFERENCES activities (id),
        source_parent_id text,
        conversation_id uuid,
        created_at timestamptz NOT NULL DEFAULT now(),
        updated_at timestamptz NOT NULL DEFAULT now()
    )`,
	`CREATE UNIQUE INDEX IF NOT EXISTS activities_source_idx
        ON activities (tenant_id, platform, source_id)`,
	`CREATE INDEX IF NOT EXISTS activities_unresolved_parent_idx
        ON activities (tenant_id, platform, source_parent_id)
        WHERE parent_id IS NULL`,
	`CREATE INDEX IF NOT EXISTS activities_conversation_idx
        ON activities (tenant_id, conversation_id)`,

	`CREATE TABLE IF NOT EXISTS conversation_settings (
        id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
        tenant_id text NOT NULL UNIQUE,
        auto_publish jsonb NOT NULL DEFAULT '{"status":"disabled"}'::jsonb,
        created_at timestamptz NOT NULL DEFAULT now(),
        updated_at timestamptz NOT NULL DEFAULT now()
    )`,
}

// Migrate applies the schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema statement: %w", err)
		}
	}
	return nil
}
