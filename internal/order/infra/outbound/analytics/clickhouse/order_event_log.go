package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/shopspring/decimal"

	"github.com/davicafu/bookflow/internal/order/domain"
)

const projectionName = "order_event_log"

// OrderEventLog es una proyección analítica: copia cada evento de pedido a
// ClickHouse. ReplacingMergeTree por global_seq hace que repetir un evento
// sea inocuo, así que no necesita transacción.
type OrderEventLog struct {
	db *sql.DB
}

// Open conecta con ClickHouse.
func Open(addr, dbName string) (*sql.DB, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}
	return conn, nil
}

func NewOrderEventLog(ctx context.Context, db *sql.DB) (*OrderEventLog, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS order_event_log (
			global_seq Int64,
			order_id String,
			stream_seq Int64,
			event_type LowCardinality(String),
			total Decimal(18, 2),
			recorded_at DateTime64(3)
		) ENGINE = ReplacingMergeTree ORDER BY global_seq`,
		`CREATE TABLE IF NOT EXISTS projection_checkpoints (
			projection String,
			position Int64,
			updated_at DateTime64(3)
		) ENGINE = ReplacingMergeTree(updated_at) ORDER BY projection`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return &OrderEventLog{db: db}, nil
}

func (l *OrderEventLog) Name() string { return projectionName }

func (l *OrderEventLog) Checkpoint(ctx context.Context) (int64, error) {
	var pos int64
	err := l.db.QueryRowContext(ctx,
		`SELECT position FROM projection_checkpoints FINAL WHERE projection = ?`, projectionName,
	).Scan(&pos)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return pos, err
}

func (l *OrderEventLog) Project(ctx context.Context, e domain.RecordedEvent) error {
	evt, err := e.Decode()
	if err != nil {
		return err
	}

	total := decimal.Zero
	if created, ok := evt.(domain.OrderCreated); ok {
		total = created.Total
	}

	if _, err := l.db.ExecContext(ctx,
		`INSERT INTO order_event_log (global_seq, order_id, stream_seq, event_type, total, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.GlobalSeq, evt.AggregateID().String(), e.StreamSeq, e.Type, total, e.RecordedAt,
	); err != nil {
		return fmt.Errorf("failed to log event %d: %w", e.GlobalSeq, err)
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO projection_checkpoints (projection, position, updated_at) VALUES (?, ?, ?)`,
		projectionName, e.GlobalSeq, time.Now().UTC(),
	)
	return err
}

func (l *OrderEventLog) Reset(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `TRUNCATE TABLE order_event_log`); err != nil {
		return err
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO projection_checkpoints (projection, position, updated_at) VALUES (?, ?, ?)`,
		projectionName, int64(0), time.Now().UTC(),
	)
	return err
}

// DailyVolume devuelve pedidos creados y completados por día.
type DailyVolume struct {
	Day       time.Time
	Created   uint64
	Completed uint64
	Cancelled uint64
}

func (l *OrderEventLog) DailyVolume(ctx context.Context, start, end time.Time) ([]DailyVolume, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT
			toStartOfDay(recorded_at) AS day,
			countIf(event_type = 'OrderCreated') AS created,
			countIf(event_type = 'OrderCompleted') AS completed,
			countIf(event_type = 'OrderCancelled') AS cancelled
		FROM order_event_log FINAL
		WHERE recorded_at BETWEEN ? AND ?
		GROUP BY day
		ORDER BY day`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyVolume
	for rows.Next() {
		var d DailyVolume
		if err := rows.Scan(&d.Day, &d.Created, &d.Completed, &d.Cancelled); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

var _ domain.Projection = (*OrderEventLog)(nil)
