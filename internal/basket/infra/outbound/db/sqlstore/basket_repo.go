package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davicafu/bookflow/internal/basket/domain"
	"github.com/davicafu/bookflow/internal/shared/infra/platform/db/sqldb"
)

// BasketRepo implementa domain.BasketRepository sobre SQLite o Postgres.
type BasketRepo struct {
	db     *sqldb.DB
	outbox *sqldb.OutboxRepo
}

func NewBasketRepo(db *sqldb.DB, outbox *sqldb.OutboxRepo) *BasketRepo {
	return &BasketRepo{db: db, outbox: outbox}
}

func (r *BasketRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Basket, error) {
	return r.get(ctx, r.db, id)
}

func (r *BasketRepo) get(ctx context.Context, q sqldb.Execer, id uuid.UUID) (*domain.Basket, error) {
	var (
		b       domain.Basket
		buyerID string
		items   string
	)
	err := q.QueryRowContext(ctx, r.db.Rebind(
		`SELECT buyer_id, items, updated_at FROM baskets WHERE id = ?`), id.String(),
	).Scan(&buyerID, &items, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBasketNotFound
	}
	if err != nil {
		return nil, err
	}

	b.ID = id
	if b.BuyerID, err = uuid.Parse(buyerID); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(items), &b.Items); err != nil {
		return nil, fmt.Errorf("decode basket items: %w", err)
	}
	return &b, nil
}

func (r *BasketRepo) Save(ctx context.Context, b *domain.Basket) error {
	items, err := json.Marshal(b.Items)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO baskets (id, buyer_id, items, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET buyer_id = excluded.buyer_id, items = excluded.items, updated_at = excluded.updated_at`),
		b.ID.String(), b.BuyerID.String(), string(items), b.UpdatedAt.UTC(),
	)
	return err
}

func (r *BasketRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM baskets WHERE id = ?`), id.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrBasketNotFound
	}
	return nil
}

func (r *BasketRepo) clearance(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*domain.Clearance, error) {
	var (
		c        domain.Clearance
		basketID string
		total    string
	)
	err := tx.QueryRowContext(ctx, r.db.Rebind(
		`SELECT basket_id, total, cleared_at FROM basket_clearances WHERE order_id = ?`), orderID.String(),
	).Scan(&basketID, &total, &c.ClearedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.OrderID = orderID
	if c.BasketID, err = uuid.Parse(basketID); err != nil {
		return nil, err
	}
	if c.Total, err = decimal.NewFromString(total); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *BasketRepo) Clear(ctx context.Context, orderID, basketID uuid.UUID, decide domain.ClearFunc) (domain.ClearDecision, error) {
	var decision domain.ClearDecision
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		prev, err := r.clearance(ctx, tx, orderID)
		if err != nil {
			return err
		}
		basket, err := r.get(ctx, tx, basketID)
		if err != nil && !errors.Is(err, domain.ErrBasketNotFound) {
			return err
		}

		d, rows, err := decide(prev, basket)
		if err != nil {
			return err
		}
		decision = d

		if d.DeleteBasket {
			if _, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM baskets WHERE id = ?`), basketID.String()); err != nil {
				return err
			}
		}
		if c := d.Clearance; c != nil {
			if _, err := tx.ExecContext(ctx, r.db.Rebind(
				`INSERT INTO basket_clearances (order_id, basket_id, total, cleared_at) VALUES (?, ?, ?, ?)`),
				c.OrderID.String(), c.BasketID.String(), c.Total.String(), c.ClearedAt.UTC(),
			); err != nil {
				return err
			}
		}
		return r.outbox.Insert(ctx, tx, rows...)
	})
	return decision, err
}

var _ domain.BasketRepository = (*BasketRepo)(nil)
