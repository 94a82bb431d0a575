package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davicafu/bookflow/internal/order/domain"
	"github.com/davicafu/bookflow/internal/shared/infra/platform/db/sqldb"
)

// ViewStore implementa domain.OrderViewStore sobre order_views.
type ViewStore struct {
	db *sqldb.DB
}

func NewViewStore(db *sqldb.DB) *ViewStore {
	return &ViewStore{db: db}
}

func (s *ViewStore) Get(ctx context.Context, id uuid.UUID) (*domain.OrderView, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT id, buyer_id, basket_id, buyer_name, buyer_email, items, total, status, version, created_at, updated_at, deleted_at
		 FROM order_views WHERE id = ?`), id.String())

	var v domain.OrderView
	var idStr, buyerStr, basketStr, total, status string
	var items []byte
	var deletedAt sql.NullTime
	err := row.Scan(&idStr, &buyerStr, &basketStr, &v.BuyerName, &v.BuyerEmail, &items, &total, &status, &v.Version, &v.CreatedAt, &v.UpdatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	if v.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("invalid UUID in order_views: %w", err)
	}
	if v.BuyerID, err = uuid.Parse(buyerStr); err != nil {
		return nil, fmt.Errorf("invalid buyer UUID in order_views: %w", err)
	}
	if v.BasketID, err = uuid.Parse(basketStr); err != nil {
		return nil, fmt.Errorf("invalid basket UUID in order_views: %w", err)
	}
	if v.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("invalid total in order_views: %w", err)
	}
	if err := gojson.Unmarshal(items, &v.Items); err != nil {
		return nil, fmt.Errorf("invalid items in order_views: %w", err)
	}
	v.Status = domain.Status(status)
	if deletedAt.Valid {
		t := deletedAt.Time
		v.DeletedAt = &t
	}
	return &v, nil
}

func (s *ViewStore) Checkpoint(ctx context.Context, projection string) (int64, error) {
	return readCheckpoint(ctx, s.db, s.db, projection)
}

func (s *ViewStore) Save(ctx context.Context, projection string, globalSeq int64, v *domain.OrderView) error {
	items, err := gojson.Marshal(v.Items)
	if err != nil {
		return err
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		pos, err := readCheckpoint(ctx, s.db, tx, projection)
		if err != nil {
			return err
		}
		if globalSeq <= pos {
			return nil
		}

		var deletedAt interface{}
		if v.DeletedAt != nil {
			deletedAt = v.DeletedAt.UTC()
		}
		if _, err := tx.ExecContext(ctx, s.db.Rebind(
			`INSERT INTO order_views (id, buyer_id, basket_id, buyer_name, buyer_email, items, total, status, version, created_at, updated_at, deleted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			   status = excluded.status,
			   version = excluded.version,
			   updated_at = excluded.updated_at,
			   deleted_at = excluded.deleted_at`),
			v.ID.String(), v.BuyerID.String(), v.BasketID.String(), v.BuyerName, v.BuyerEmail, items, v.Total.String(),
			string(v.Status), v.Version, v.CreatedAt.UTC(), v.UpdatedAt.UTC(), deletedAt,
		); err != nil {
			return fmt.Errorf("upsert order view: %w", err)
		}

		return writeCheckpoint(ctx, s.db, tx, projection, globalSeq)
	})
}

func (s *ViewStore) Reset(ctx context.Context, projection string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM order_views`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM projection_checkpoints WHERE projection = ?`), projection)
		return err
	})
}

func readCheckpoint(ctx context.Context, db *sqldb.DB, q sqldb.Execer, projection string) (int64, error) {
	var pos int64
	err := q.QueryRowContext(ctx, db.Rebind(
		`SELECT position FROM projection_checkpoints WHERE projection = ?`), projection).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return pos, err
}

func writeCheckpoint(ctx context.Context, db *sqldb.DB, q sqldb.Execer, projection string, pos int64) error {
	_, err := q.ExecContext(ctx, db.Rebind(
		`INSERT INTO projection_checkpoints (projection, position, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (projection) DO UPDATE SET position = excluded.position, updated_at = excluded.updated_at`),
		projection, pos, time.Now().UTC())
	return err
}

var _ domain.OrderViewStore = (*ViewStore)(nil)
