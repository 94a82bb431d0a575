package sqldb

import (
	"context"

	sharedBus "github.com/davicafu/bookflow/internal/shared/infra/platform/bus"
)

// DeadLetterStore guarda en bus_dead_letters los mensajes que el bus en
// memoria no pudo entregar.
type DeadLetterStore struct {
	db *DB
}

func NewDeadLetterStore(db *DB) *DeadLetterStore {
	return &DeadLetterStore{db: db}
}

func (s *DeadLetterStore) DeadLetter(ctx context.Context, dl sharedBus.DeadLetter) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO bus_dead_letters (topic, consumer_group, message_id, payload, reason, attempts, failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		dl.Topic, dl.Group, dl.MessageID, dl.Payload, dl.Reason, dl.Attempts, dl.FailedAt.UTC(),
	)
	return err
}

// List devuelve los últimos dead-letters de un topic, los más recientes primero.
func (s *DeadLetterStore) List(ctx context.Context, topic string, limit int) ([]sharedBus.DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT topic, consumer_group, message_id, payload, reason, attempts, failed_at
		 FROM bus_dead_letters WHERE topic = ? ORDER BY id DESC LIMIT ?`), topic, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sharedBus.DeadLetter
	for rows.Next() {
		var dl sharedBus.DeadLetter
		if err := rows.Scan(&dl.Topic, &dl.Group, &dl.MessageID, &dl.Payload, &dl.Reason, &dl.Attempts, &dl.FailedAt); err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

var _ sharedBus.DeadLetterSink = (*DeadLetterStore)(nil)
