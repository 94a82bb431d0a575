package sqlstore

import (
	"context"

	"github.com/davicafu/bookflow/internal/shared/infra/platform/db/sqldb"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS order_events (
		global_seq INTEGER PRIMARY KEY AUTOINCREMENT,
		stream_id TEXT NOT NULL,
		stream_seq INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		payload BLOB NOT NULL,
		recorded_at DATETIME NOT NULL,
		UNIQUE (stream_id, stream_seq)
	)`,
	`CREATE TABLE IF NOT EXISTS projection_checkpoints (
		projection TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS projection_dead_letters (
		projection TEXT PRIMARY KEY,
		global_seq INTEGER NOT NULL,
		reason TEXT NOT NULL,
		failed_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_views (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL,
		basket_id TEXT NOT NULL,
		buyer_name TEXT NOT NULL,
		buyer_email TEXT NOT NULL,
		items BLOB NOT NULL,
		total TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS order_events (
		global_seq BIGSERIAL PRIMARY KEY,
		stream_id TEXT NOT NULL,
		stream_seq BIGINT NOT NULL,
		event_type TEXT NOT NULL,
		payload BYTEA NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		UNIQUE (stream_id, stream_seq)
	)`,
	`CREATE TABLE IF NOT EXISTS projection_checkpoints (
		projection TEXT PRIMARY KEY,
		position BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS projection_dead_letters (
		projection TEXT PRIMARY KEY,
		global_seq BIGINT NOT NULL,
		reason TEXT NOT NULL,
		failed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_views (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL,
		basket_id TEXT NOT NULL,
		buyer_name TEXT NOT NULL,
		buyer_email TEXT NOT NULL,
		items BYTEA NOT NULL,
		total TEXT NOT NULL,
		status TEXT NOT NULL,
		version BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		deleted_at TIMESTAMPTZ
	)`,
}

// InitSchema crea las tablas de ordering si no existen.
func InitSchema(ctx context.Context, db *sqldb.DB) error {
	if db.Dialect == sqldb.Postgres {
		return db.ExecAll(ctx, postgresSchema...)
	}
	return db.ExecAll(ctx, sqliteSchema...)
}
