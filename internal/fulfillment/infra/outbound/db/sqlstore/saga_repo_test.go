package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davicafu/bookflow/internal/fulfillment/domain"
	sharedDomain "github.com/davicafu/bookflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/bookflow/internal/shared/domain/events"
	"github.com/davicafu/bookflow/internal/shared/infra/platform/db/sqldb"
)

type testRepo struct {
	*SagaRepo
	outbox *sqldb.OutboxRepo
}

func newTestRepo(t *testing.T) testRepo {
	t.Helper()
	ctx := context.Background()
	db, err := sqldb.Open(ctx, sqldb.SQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, sqldb.InitSharedSchema(ctx, db))
	require.NoError(t, InitSchema(ctx, db))
	t.Cleanup(func() { db.Close() })

	outbox := sqldb.NewOutboxRepo(db)
	return testRepo{SagaRepo: NewSagaRepo(db, outbox, sqldb.NewInbox(db)), outbox: outbox}
}

func placed(id uuid.UUID) domain.Instance {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.Instance{
		CorrelationID:  id,
		BasketID:       uuid.New(),
		BuyerName:      "Ana García",
		BuyerEmail:     "ana@example.com",
		Total:          decimal.RequireFromString("99.99"),
		State:          domain.StatePlaced,
		Step:           domain.StepClearingBasket,
		StartedAt:      now,
		LastAttemptAt:  now,
		LastCommand:    &domain.Command{Type: sharedEvents.ClearBasketCommandType, Payload: []byte(`{"orderId":"x"}`)},
		ConversationID: "conv-1",
	}
}

func outboxRow(t *testing.T, id uuid.UUID) sharedDomain.OutboxEvent {
	t.Helper()
	env, err := sharedEvents.NewIntegrationEvent(sharedEvents.ClearBasketCommandType, id.String(),
		sharedEvents.ClearBasketCommand{OrderID: id})
	require.NoError(t, err)
	row, err := sharedDomain.NewOutboxEvent("saga", id.String(), env, sharedEvents.NewFulfillmentRegistry())
	require.NoError(t, err)
	return row
}

func TestSagaRepo_InsertAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	id := uuid.New()
	inst := placed(id)

	require.NoError(t, repo.Commit(ctx, domain.Commit{
		Instance: inst, Outbox: []sharedDomain.OutboxEvent{outboxRow(t, id)},
		Consumer: "finance", MessageID: "m1",
	}))

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, domain.StatePlaced, got.State)
	assert.Equal(t, domain.StepClearingBasket, got.Step)
	assert.True(t, inst.Total.Equal(got.Total))
	assert.Equal(t, inst.BasketID, got.BasketID)
	require.NotNil(t, got.LastCommand)
	assert.Equal(t, sharedEvents.ClearBasketCommandType, got.LastCommand.Type)
	assert.JSONEq(t, `{"orderId":"x"}`, string(got.LastCommand.Payload))

	pending, err := repo.outbox.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, sharedEvents.BasketCommandsTopic, pending[0].Destination)

	seen, err := repo.Seen(ctx, "finance", "m1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestSagaRepo_DuplicateMessageWritesNothing(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	id := uuid.New()
	inst := placed(id)

	require.NoError(t, repo.Commit(ctx, domain.Commit{Instance: inst, Consumer: "finance", MessageID: "m1"}))

	inst.Step = domain.StepSettling
	err := repo.Commit(ctx, domain.Commit{
		Instance: inst, ExpectedVersion: 1, Outbox: []sharedDomain.OutboxEvent{outboxRow(t, id)},
		Consumer: "finance", MessageID: "m1",
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateMessage)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StepClearingBasket, got.Step)
	pending, err := repo.outbox.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSagaRepo_VersionConflict(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	id := uuid.New()
	inst := placed(id)

	require.NoError(t, repo.Commit(ctx, domain.Commit{Instance: inst}))
	assert.ErrorIs(t, repo.Commit(ctx, domain.Commit{Instance: inst}), domain.ErrSagaVersionConflict)

	inst.Attempts = 1
	require.NoError(t, repo.Commit(ctx, domain.Commit{Instance: inst, ExpectedVersion: 1}))

	// versión obsoleta: el inbox tampoco queda registrado
	err := repo.Commit(ctx, domain.Commit{Instance: inst, ExpectedVersion: 1, Consumer: "finance", MessageID: "m2"})
	assert.ErrorIs(t, err, domain.ErrSagaVersionConflict)
	seen, err := repo.Seen(ctx, "finance", "m2")
	require.NoError(t, err)
	assert.False(t, seen)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 1, got.Attempts)
}

func TestSagaRepo_TerminalStateIsArchived(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	id := uuid.New()
	inst := placed(id)
	require.NoError(t, repo.Commit(ctx, domain.Commit{Instance: inst}))

	inst.State = domain.StateCompleted
	require.NoError(t, repo.Commit(ctx, domain.Commit{Instance: inst, ExpectedVersion: 1}))

	_, err := repo.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrSagaNotFound)

	rec, err := repo.GetArchived(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, rec.FinalState)
	assert.Equal(t, id, rec.CorrelationID)
	assert.False(t, rec.FinishedAt.Before(rec.StartedAt))

	active, err := repo.ListActive(ctx, domain.ActiveCursor{}, 10)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSagaRepo_ListActive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Commit(ctx, domain.Commit{Instance: placed(uuid.New())}))
	}

	active, err := repo.ListActive(ctx, domain.ActiveCursor{}, 2)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	_, err = repo.GetArchived(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrSagaNotFound)
}

func TestSagaRepo_ListActivePagesByCursor(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	// dos instancias comparten started_at: el desempate es correlation_id
	starts := []time.Time{base, base.Add(time.Minute), base.Add(time.Minute), base.Add(2 * time.Minute), base.Add(3 * time.Minute)}
	for _, at := range starts {
		inst := placed(uuid.New())
		inst.StartedAt = at
		require.NoError(t, repo.Commit(ctx, domain.Commit{Instance: inst}))
	}

	var (
		cursor domain.ActiveCursor
		seen   []domain.Instance
	)
	for page := 0; page < 5; page++ {
		active, err := repo.ListActive(ctx, cursor, 2)
		require.NoError(t, err)
		if len(active) == 0 {
			break
		}
		seen = append(seen, active...)
		last := active[len(active)-1]
		cursor = domain.ActiveCursor{StartedAt: last.StartedAt, CorrelationID: last.CorrelationID}
	}

	require.Len(t, seen, len(starts))
	ids := map[uuid.UUID]bool{}
	for i, inst := range seen {
		ids[inst.CorrelationID] = true
		assert.True(t, starts[i].Equal(inst.StartedAt), "position %d", i)
	}
	assert.Len(t, ids, len(starts))
	assert.Less(t, seen[1].CorrelationID.String(), seen[2].CorrelationID.String())
}
