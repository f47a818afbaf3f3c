package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the schema if it does not exist yet. Statements are
// idempotent so this is safe to run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS folders (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			role TEXT,
			parent_id UUID REFERENCES folders(id),
			origin TEXT NOT NULL DEFAULT 'server',
			subscribed BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, path)
		)`,
		// At most one folder per user may carry a given special-use role.
		`CREATE UNIQUE INDEX IF NOT EXISTS folders_user_role_unique
			ON folders (user_id, role) WHERE role IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS labels (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			color TEXT NOT NULL DEFAULT '#888888',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS rules (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id TEXT NOT NULL,
			field TEXT NOT NULL,
			value TEXT NOT NULL,
			action TEXT NOT NULL,
			action_arg TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_sends (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id TEXT NOT NULL,
			encrypted_credentials TEXT NOT NULL,
			raw_message BYTEA NOT NULL,
			envelope_from TEXT NOT NULL,
			recipients TEXT[] NOT NULL,
			message_id TEXT NOT NULL,
			due_at TIMESTAMPTZ NOT NULL,
			dest_folder_id UUID,
			dispatched BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS scheduled_sends_due_at_idx ON scheduled_sends (due_at)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}

	return nil
}
