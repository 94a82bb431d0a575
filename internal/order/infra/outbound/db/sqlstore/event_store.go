package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/davicafu/bookflow/internal/order/domain"
	sharedDomain "github.com/davicafu/bookflow/internal/shared/domain"
	"github.com/davicafu/bookflow/internal/shared/infra/platform/db/sqldb"
)

// appendLockKey serializa en Postgres la asignación de global_seq: sin él,
// una transacción lenta podría confirmar una secuencia menor que otra ya
// leída por una proyección.
const appendLockKey = 7261001

// EventStore implementa domain.EventStore sobre la tabla order_events.
type EventStore struct {
	db     *sqldb.DB
	outbox *sqldb.OutboxRepo
}

func NewEventStore(db *sqldb.DB, outbox *sqldb.OutboxRepo) *EventStore {
	return &EventStore{db: db, outbox: outbox}
}

func (s *EventStore) Append(ctx context.Context, streamID string, expectedVersion int64, events []domain.NewEvent, outbox ...sharedDomain.OutboxEvent) (int64, error) {
	version := expectedVersion
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if s.db.Dialect == sqldb.Postgres {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
				return err
			}
		}

		var current int64
		if err := tx.QueryRowContext(ctx, s.db.Rebind(
			`SELECT COALESCE(MAX(stream_seq), 0) FROM order_events WHERE stream_id = ?`), streamID,
		).Scan(&current); err != nil {
			return err
		}
		if current != expectedVersion {
			return fmt.Errorf("%w: stream %s at %d, expected %d", domain.ErrConcurrencyConflict, streamID, current, expectedVersion)
		}

		q := s.db.Rebind(`INSERT INTO order_events (stream_id, stream_seq, event_type, payload, recorded_at)
			VALUES (?, ?, ?, ?, ?)`)
		now := time.Now().UTC()
		for _, e := range events {
			version++
			if _, err := tx.ExecContext(ctx, q, streamID, version, e.Type, e.Payload, now); err != nil {
				if sqldb.IsUniqueViolation(err) {
					return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
				}
				return err
			}
		}

		return s.outbox.Insert(ctx, tx, outbox...)
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *EventStore) Load(ctx context.Context, streamID string) ([]domain.RecordedEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT global_seq, stream_id, stream_seq, event_type, payload, recorded_at
		 FROM order_events WHERE stream_id = ? ORDER BY stream_seq`), streamID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (s *EventStore) ReadAll(ctx context.Context, after int64, limit int) ([]domain.RecordedEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT global_seq, stream_id, stream_seq, event_type, payload, recorded_at
		 FROM order_events WHERE global_seq > ? ORDER BY global_seq LIMIT ?`), after, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]domain.RecordedEvent, error) {
	defer rows.Close()
	var out []domain.RecordedEvent
	for rows.Next() {
		var e domain.RecordedEvent
		if err := rows.Scan(&e.GlobalSeq, &e.StreamID, &e.StreamSeq, &e.Type, &e.Payload, &e.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Verificación en tiempo de compilación.
var _ domain.EventStore = (*EventStore)(nil)
