package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/davicafu/bookflow/internal/shared/domain"
)

// ErrOutboxEventNotFound se devuelve al marcar un id que no existe.
var ErrOutboxEventNotFound = errors.New("outbox event not found")

// OutboxRepo implementa sharedDomain.OutboxRepository sobre SQLite o Postgres.
// Las filas se leen en orden de inserción (seq), no por created_at.
type OutboxRepo struct {
	db *DB
}

func NewOutboxRepo(db *DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

// Insert guarda los eventos dentro de la transacción del llamante.
func (r *OutboxRepo) Insert(ctx context.Context, tx Execer, evts ...domain.OutboxEvent) error {
	q := r.db.Rebind(`INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, destination, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	for _, evt := range evts {
		if _, err := tx.ExecContext(ctx, q,
			evt.ID, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Destination, evt.Payload, evt.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
	}
	return nil
}

// FetchPendingOutbox obtiene los eventos aún no enviados, los más antiguos primero.
func (r *OutboxRepo) FetchPendingOutbox(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(
		`SELECT id, aggregate_type, aggregate_id, event_type, destination, payload, created_at
		 FROM outbox
		 WHERE sent_at IS NULL
		 ORDER BY seq
		 LIMIT ?`), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		var evt domain.OutboxEvent
		if err := rows.Scan(&evt.ID, &evt.AggregateType, &evt.AggregateID, &evt.EventType, &evt.Destination, &evt.Payload, &evt.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// MarkOutboxProcessed registra sent_at una vez que el bus confirmó el envío.
func (r *OutboxRepo) MarkOutboxProcessed(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE outbox SET sent_at = ? WHERE id = ?`), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrOutboxEventNotFound, id)
	}
	return nil
}

// PurgeProcessed borra los eventos enviados antes de before.
func (r *OutboxRepo) PurgeProcessed(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`DELETE FROM outbox WHERE sent_at IS NOT NULL AND sent_at < ?`), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

// Get devuelve una fila concreta, enviada o no.
func (r *OutboxRepo) Get(ctx context.Context, id string) (domain.OutboxEvent, error) {
	var evt domain.OutboxEvent
	var sentAt sql.NullTime
	err := r.db.QueryRowContext(ctx, r.db.Rebind(
		`SELECT id, aggregate_type, aggregate_id, event_type, destination, payload, created_at, sent_at
		 FROM outbox WHERE id = ?`), id,
	).Scan(&evt.ID, &evt.AggregateType, &evt.AggregateID, &evt.EventType, &evt.Destination, &evt.Payload, &evt.CreatedAt, &sentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return evt, fmt.Errorf("%w: %s", ErrOutboxEventNotFound, id)
	}
	if err != nil {
		return evt, err
	}
	if sentAt.Valid {
		t := sentAt.Time
		evt.SentAt = &t
	}
	return evt, nil
}

// Verificación en tiempo de compilación.
var _ domain.OutboxRepository = (*OutboxRepo)(nil)
