package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/davicafu/bookflow/internal/order/domain"
	"github.com/davicafu/bookflow/internal/shared/infra/platform/db/sqldb"
)

// ProjectionFaults guarda en projection_dead_letters la marca que detiene una proyección.
type ProjectionFaults struct {
	db *sqldb.DB
}

func NewProjectionFaults(db *sqldb.DB) *ProjectionFaults {
	return &ProjectionFaults{db: db}
}

func (f *ProjectionFaults) Mark(ctx context.Context, fault domain.ProjectionFault) error {
	_, err := f.db.ExecContext(ctx, f.db.Rebind(
		`INSERT INTO projection_dead_letters (projection, global_seq, reason, failed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (projection) DO UPDATE SET global_seq = excluded.global_seq, reason = excluded.reason, failed_at = excluded.failed_at`),
		fault.Projection, fault.GlobalSeq, fault.Reason, time.Now().UTC())
	return err
}

func (f *ProjectionFaults) Get(ctx context.Context, projection string) (*domain.ProjectionFault, error) {
	fault := domain.ProjectionFault{Projection: projection}
	err := f.db.QueryRowContext(ctx, f.db.Rebind(
		`SELECT global_seq, reason FROM projection_dead_letters WHERE projection = ?`), projection,
	).Scan(&fault.GlobalSeq, &fault.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fault, nil
}

func (f *ProjectionFaults) Clear(ctx context.Context, projection string) error {
	_, err := f.db.ExecContext(ctx, f.db.Rebind(`DELETE FROM projection_dead_letters WHERE projection = ?`), projection)
	return err
}

var _ domain.ProjectionFaults = (*ProjectionFaults)(nil)
