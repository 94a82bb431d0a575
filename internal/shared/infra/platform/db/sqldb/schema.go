package sqldb

import "context"

var sqliteSharedSchema = []string{
	`CREATE TABLE IF NOT EXISTS outbox (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		destination TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME NOT NULL,
		sent_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS processed_messages (
		consumer TEXT NOT NULL,
		message_id TEXT NOT NULL,
		processed_at DATETIME NOT NULL,
		PRIMARY KEY (consumer, message_id)
	)`,
	`CREATE TABLE IF NOT EXISTS bus_dead_letters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT NOT NULL,
		consumer_group TEXT NOT NULL,
		message_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		reason TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		failed_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (sent_at, seq)`,
}

var postgresSharedSchema = []string{
	`CREATE TABLE IF NOT EXISTS outbox (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		destination TEXT NOT NULL,
		payload BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		sent_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS processed_messages (
		consumer TEXT NOT NULL,
		message_id TEXT NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (consumer, message_id)
	)`,
	`CREATE TABLE IF NOT EXISTS bus_dead_letters (
		id BIGSERIAL PRIMARY KEY,
		topic TEXT NOT NULL,
		consumer_group TEXT NOT NULL,
		message_id TEXT NOT NULL,
		payload BYTEA NOT NULL,
		reason TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		failed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (sent_at, seq)`,
}

// InitSharedSchema crea las tablas de outbox, inbox y dead-letters si no existen.
func InitSharedSchema(ctx context.Context, db *DB) error {
	if db.Dialect == Postgres {
		return db.ExecAll(ctx, postgresSharedSchema...)
	}
	return db.ExecAll(ctx, sqliteSharedSchema...)
}
