package cockroach

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id UUID PRIMARY KEY,
		username STRING NOT NULL UNIQUE,
		password_hash STRING NOT NULL,
		display_name STRING NOT NULL,
		status STRING NOT NULL DEFAULT 'offline',
		last_seen_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS rooms (
		room_id UUID PRIMARY KEY,
		name STRING NOT NULL,
		created_by UUID NOT NULL REFERENCES users (user_id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS room_members (
		room_id UUID NOT NULL REFERENCES rooms (room_id) ON DELETE CASCADE,
		user_id UUID NOT NULL REFERENCES users (user_id) ON DELETE CASCADE,
		joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (room_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS calls (
		call_id UUID PRIMARY KEY,
		caller_id UUID NOT NULL REFERENCES users (user_id),
		receiver_id UUID REFERENCES users (user_id),
		room_id UUID REFERENCES rooms (room_id),
		kind STRING NOT NULL,
		status STRING NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		duration INT,
		CHECK ((receiver_id IS NULL) != (room_id IS NULL))
	)`,
}

// EnsureSchema creates the relay tables if they do not exist
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
