package sqlstore

import (
	"context"

	"github.com/davicafu/bookflow/internal/shared/infra/platform/db/sqldb"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS saga_instances (
		correlation_id TEXT PRIMARY KEY,
		basket_id TEXT NOT NULL,
		buyer_name TEXT NOT NULL,
		buyer_email TEXT NOT NULL,
		total TEXT NOT NULL,
		state TEXT NOT NULL,
		step TEXT NOT NULL,
		failures INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		last_attempt_at DATETIME NOT NULL,
		started_at DATETIME NOT NULL,
		last_command_type TEXT,
		last_command_payload BLOB,
		conversation_id TEXT NOT NULL,
		version INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS saga_archive (
		correlation_id TEXT PRIMARY KEY,
		final_state TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS saga_instances (
		correlation_id UUID PRIMARY KEY,
		basket_id UUID NOT NULL,
		buyer_name TEXT NOT NULL,
		buyer_email TEXT NOT NULL,
		total NUMERIC(18, 2) NOT NULL,
		state TEXT NOT NULL,
		step TEXT NOT NULL,
		failures INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		last_attempt_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		last_command_type TEXT,
		last_command_payload BYTEA,
		conversation_id TEXT NOT NULL,
		version BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS saga_archive (
		correlation_id UUID PRIMARY KEY,
		final_state TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL
	)`,
}

// InitSchema crea las tablas de la saga si no existen.
func InitSchema(ctx context.Context, db *sqldb.DB) error {
	if db.Dialect == sqldb.Postgres {
		return db.ExecAll(ctx, postgresSchema...)
	}
	return db.ExecAll(ctx, sqliteSchema...)
}
