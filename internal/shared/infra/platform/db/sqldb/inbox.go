package sqldb

import (
	"context"
	"fmt"
	"time"
)

// Inbox recuerda qué mensajes procesó ya cada consumidor. Claim se ejecuta en
// la misma transacción que el cambio de estado del consumidor.
type Inbox struct {
	db *DB
}

func NewInbox(db *DB) *Inbox {
	return &Inbox{db: db}
}

// Claim registra messageID para consumer. Devuelve false si ya estaba
// registrado, es decir, si el mensaje es un duplicado.
func (i *Inbox) Claim(ctx context.Context, tx Execer, consumer, messageID string) (bool, error) {
	res, err := tx.ExecContext(ctx, i.db.Rebind(
		`INSERT INTO processed_messages (consumer, message_id, processed_at) VALUES (?, ?, ?)
		 ON CONFLICT (consumer, message_id) DO NOTHING`),
		consumer, messageID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("inbox claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Seen indica si el mensaje ya fue procesado por consumer.
func (i *Inbox) Seen(ctx context.Context, tx Execer, consumer, messageID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, i.db.Rebind(
		`SELECT COUNT(*) FROM processed_messages WHERE consumer = ? AND message_id = ?`),
		consumer, messageID,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
