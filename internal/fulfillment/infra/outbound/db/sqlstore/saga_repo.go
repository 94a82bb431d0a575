package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davicafu/bookflow/internal/fulfillment/domain"
	"github.com/davicafu/bookflow/internal/shared/infra/platform/db/sqldb"
)

// SagaRepo implementa domain.Repository. Estado, outbox e inbox se escriben
// en la misma transacción.
type SagaRepo struct {
	db     *sqldb.DB
	outbox *sqldb.OutboxRepo
	inbox  *sqldb.Inbox
}

func NewSagaRepo(db *sqldb.DB, outbox *sqldb.OutboxRepo, inbox *sqldb.Inbox) *SagaRepo {
	return &SagaRepo{db: db, outbox: outbox, inbox: inbox}
}

const instanceColumns = `correlation_id, basket_id, buyer_name, buyer_email, total, state, step,
	failures, attempts, last_attempt_at, started_at, last_command_type, last_command_payload,
	conversation_id, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*domain.Instance, error) {
	var (
		inst                domain.Instance
		id, basketID, total string
		state, step         string
		cmdType             sql.NullString
		cmdPayload          []byte
	)
	if err := row.Scan(&id, &basketID, &inst.BuyerName, &inst.BuyerEmail, &total, &state, &step,
		&inst.Failures, &inst.Attempts, &inst.LastAttemptAt, &inst.StartedAt, &cmdType, &cmdPayload,
		&inst.ConversationID, &inst.Version); err != nil {
		return nil, err
	}

	var err error
	if inst.CorrelationID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if inst.BasketID, err = uuid.Parse(basketID); err != nil {
		return nil, err
	}
	if inst.Total, err = decimal.NewFromString(total); err != nil {
		return nil, err
	}
	inst.State = domain.State(state)
	inst.Step = domain.Step(step)
	if cmdType.Valid {
		inst.LastCommand = &domain.Command{Type: cmdType.String, Payload: cmdPayload}
	}
	return &inst, nil
}

func (r *SagaRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Instance, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(
		`SELECT `+instanceColumns+` FROM saga_instances WHERE correlation_id = ?`), id.String())
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSagaNotFound
	}
	return inst, err
}

func (r *SagaRepo) GetArchived(ctx context.Context, id uuid.UUID) (*domain.ArchiveRecord, error) {
	var (
		rec   domain.ArchiveRecord
		state string
	)
	err := r.db.QueryRowContext(ctx, r.db.Rebind(
		`SELECT final_state, started_at, finished_at FROM saga_archive WHERE correlation_id = ?`), id.String(),
	).Scan(&state, &rec.StartedAt, &rec.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSagaNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.CorrelationID = id
	rec.FinalState = domain.State(state)
	return &rec, nil
}

func (r *SagaRepo) ListActive(ctx context.Context, after domain.ActiveCursor, limit int) ([]domain.Instance, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after.IsZero() {
		rows, err = r.db.QueryContext(ctx, r.db.Rebind(
			`SELECT `+instanceColumns+` FROM saga_instances
			ORDER BY started_at, correlation_id LIMIT ?`), limit)
	} else {
		startedAt := after.StartedAt.UTC()
		rows, err = r.db.QueryContext(ctx, r.db.Rebind(
			`SELECT `+instanceColumns+` FROM saga_instances
			WHERE started_at > ? OR (started_at = ? AND correlation_id > ?)
			ORDER BY started_at, correlation_id LIMIT ?`),
			startedAt, startedAt, after.CorrelationID.String(), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

func (r *SagaRepo) Seen(ctx context.Context, consumer, messageID string) (bool, error) {
	return r.inbox.Seen(ctx, r.db, consumer, messageID)
}

func (r *SagaRepo) Commit(ctx context.Context, c domain.Commit) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if c.MessageID != "" {
			claimed, err := r.inbox.Claim(ctx, tx, c.Consumer, c.MessageID)
			if err != nil {
				return err
			}
			if !claimed {
				return domain.ErrDuplicateMessage
			}
		}

		var err error
		if c.Instance.State.Terminal() {
			err = r.archive(ctx, tx, c)
		} else if c.ExpectedVersion == 0 {
			err = r.insert(ctx, tx, c.Instance)
		} else {
			err = r.update(ctx, tx, c)
		}
		if err != nil {
			return err
		}

		return r.outbox.Insert(ctx, tx, c.Outbox...)
	})
}

func commandColumns(inst domain.Instance) (sql.NullString, []byte) {
	if inst.LastCommand == nil {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: inst.LastCommand.Type, Valid: true}, inst.LastCommand.Payload
}

func (r *SagaRepo) insert(ctx context.Context, tx *sql.Tx, inst domain.Instance) error {
	cmdType, cmdPayload := commandColumns(inst)
	_, err := tx.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO saga_instances (`+instanceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		inst.CorrelationID.String(), inst.BasketID.String(), inst.BuyerName, inst.BuyerEmail, inst.Total.String(),
		string(inst.State), string(inst.Step), inst.Failures, inst.Attempts,
		inst.LastAttemptAt.UTC(), inst.StartedAt.UTC(), cmdType, cmdPayload, inst.ConversationID, 1,
	)
	if sqldb.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s already exists", domain.ErrSagaVersionConflict, inst.CorrelationID)
	}
	return err
}

func (r *SagaRepo) update(ctx context.Context, tx *sql.Tx, c domain.Commit) error {
	inst := c.Instance
	cmdType, cmdPayload := commandColumns(inst)
	res, err := tx.ExecContext(ctx, r.db.Rebind(
		`UPDATE saga_instances SET
			total = ?, state = ?, step = ?, failures = ?, attempts = ?, last_attempt_at = ?,
			last_command_type = ?, last_command_payload = ?, conversation_id = ?, version = version + 1
		 WHERE correlation_id = ? AND version = ?`),
		inst.Total.String(), string(inst.State), string(inst.Step), inst.Failures, inst.Attempts,
		inst.LastAttemptAt.UTC(), cmdType, cmdPayload, inst.ConversationID,
		inst.CorrelationID.String(), c.ExpectedVersion,
	)
	if err != nil {
		return err
	}
	return expectOne(res, inst.CorrelationID, c.ExpectedVersion)
}

func (r *SagaRepo) archive(ctx context.Context, tx *sql.Tx, c domain.Commit) error {
	inst := c.Instance
	if c.ExpectedVersion > 0 {
		res, err := tx.ExecContext(ctx, r.db.Rebind(
			`DELETE FROM saga_instances WHERE correlation_id = ? AND version = ?`),
			inst.CorrelationID.String(), c.ExpectedVersion,
		)
		if err != nil {
			return err
		}
		if err := expectOne(res, inst.CorrelationID, c.ExpectedVersion); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO saga_archive (correlation_id, final_state, started_at, finished_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (correlation_id) DO NOTHING`),
		inst.CorrelationID.String(), string(inst.State), inst.StartedAt.UTC(), time.Now().UTC(),
	)
	return err
}

func expectOne(res sql.Result, id uuid.UUID, version int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: %s at version %d", domain.ErrSagaVersionConflict, id, version)
	}
	return nil
}

var _ domain.Repository = (*SagaRepo)(nil)
