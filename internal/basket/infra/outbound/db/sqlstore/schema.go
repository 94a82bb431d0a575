package sqlstore

import (
	"context"

	"github.com/davicafu/bookflow/internal/shared/infra/platform/db/sqldb"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS baskets (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL,
		items TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS basket_clearances (
		order_id TEXT PRIMARY KEY,
		basket_id TEXT NOT NULL,
		total TEXT NOT NULL,
		cleared_at DATETIME NOT NULL
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS baskets (
		id UUID PRIMARY KEY,
		buyer_id UUID NOT NULL,
		items JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS basket_clearances (
		order_id UUID PRIMARY KEY,
		basket_id UUID NOT NULL,
		total NUMERIC(18, 2) NOT NULL,
		cleared_at TIMESTAMPTZ NOT NULL
	)`,
}

// InitSchema crea las tablas de cestas si no existen.
func InitSchema(ctx context.Context, db *sqldb.DB) error {
	if db.Dialect == sqldb.Postgres {
		return db.ExecAll(ctx, postgresSchema...)
	}
	return db.ExecAll(ctx, sqliteSchema...)
}
