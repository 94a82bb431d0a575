package relayer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	sharedDomain "github.com/davicafu/bookflow/internal/shared/domain"
	sharedDomainEvents "github.com/davicafu/bookflow/internal/shared/domain/events"
	sharedBus "github.com/davicafu/bookflow/internal/shared/infra/platform/bus"
	"github.com/davicafu/bookflow/tests/mocks"
)

const testTopic = "ordering.events"

func testRegistry() sharedDomainEvents.Registry {
	return sharedDomainEvents.Registry{
		sharedDomainEvents.CheckedOutType: {Topic: testTopic, Version: 1},
	}
}

func outboxRow(t *testing.T, aggregateID string) sharedDomain.OutboxEvent {
	t.Helper()
	env, err := sharedDomainEvents.NewIntegrationEvent(sharedDomainEvents.CheckedOutType, aggregateID, map[string]string{"orderId": aggregateID})
	require.NoError(t, err)
	evt, err := sharedDomain.NewOutboxEvent("order", aggregateID, env, testRegistry())
	require.NoError(t, err)
	return evt
}

func matchID(id string) interface{} {
	return mock.MatchedBy(func(e sharedDomainEvents.IntegrationEvent) bool { return e.ID == id })
}

func TestOutboxWorker_ProcessBatch_Success(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	publisher := new(mocks.MockPublisher)
	evt := outboxRow(t, "order-1")

	repo.On("FetchPendingOutbox", mock.Anything, 10).Return([]sharedDomain.OutboxEvent{evt}, nil).Once()
	publisher.On("Publish", mock.Anything, testTopic, matchID(evt.ID)).Return(nil).Once()
	repo.On("MarkOutboxProcessed", mock.Anything, evt.ID).Return(nil).Once()

	worker := NewOutboxWorker(repo, publisher, testRegistry(), Options{BatchSize: 10}, zap.NewNop())

	// ACT
	sent := worker.ProcessBatch(context.Background())

	// ASSERT
	assert.Equal(t, 1, sent)
	repo.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestOutboxWorker_ProcessBatch_PublisherFails(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	publisher := new(mocks.MockPublisher)
	evt := outboxRow(t, "order-1")

	repo.On("FetchPendingOutbox", mock.Anything, 10).Return([]sharedDomain.OutboxEvent{evt}, nil).Once()
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("kafka is down")).Once()

	worker := NewOutboxWorker(repo, publisher, testRegistry(), Options{BatchSize: 10}, zap.NewNop())

	// ACT
	sent := worker.ProcessBatch(context.Background())

	// ASSERT
	assert.Zero(t, sent)
	publisher.AssertCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "MarkOutboxProcessed", mock.Anything, mock.Anything)
}

func TestOutboxWorker_ProcessBatch_HoldsBackSameAggregate(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	publisher := new(mocks.MockPublisher)
	first := outboxRow(t, "order-1")
	second := outboxRow(t, "order-1")
	other := outboxRow(t, "order-2")

	repo.On("FetchPendingOutbox", mock.Anything, 10).
		Return([]sharedDomain.OutboxEvent{first, second, other}, nil).Once()
	publisher.On("Publish", mock.Anything, testTopic, matchID(first.ID)).Return(errors.New("timeout")).Once()
	publisher.On("Publish", mock.Anything, testTopic, matchID(other.ID)).Return(nil).Once()
	repo.On("MarkOutboxProcessed", mock.Anything, other.ID).Return(nil).Once()

	worker := NewOutboxWorker(repo, publisher, testRegistry(), Options{BatchSize: 10}, zap.NewNop())

	// ACT
	sent := worker.ProcessBatch(context.Background())

	// ASSERT
	assert.Equal(t, 1, sent)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, matchID(second.ID))
	repo.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestOutboxWorker_ProcessBatch_UnknownEventType(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	publisher := new(mocks.MockPublisher)
	evt := outboxRow(t, "order-1")
	evt.EventType = "unregistered.event"

	repo.On("FetchPendingOutbox", mock.Anything, 10).Return([]sharedDomain.OutboxEvent{evt}, nil).Once()

	worker := NewOutboxWorker(repo, publisher, testRegistry(), Options{BatchSize: 10}, zap.NewNop())

	// ACT
	worker.ProcessBatch(context.Background())

	// ASSERT
	repo.AssertExpectations(t)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "MarkOutboxProcessed", mock.Anything, mock.Anything)
}

func TestOutboxWorker_Run_DrainsOnShutdown(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	publisher := new(mocks.MockPublisher)
	evt := outboxRow(t, "order-1")

	repo.On("FetchPendingOutbox", mock.Anything, 10).Return([]sharedDomain.OutboxEvent{evt}, nil).Once()
	publisher.On("Publish", mock.Anything, testTopic, matchID(evt.ID)).Return(nil).Once()
	repo.On("MarkOutboxProcessed", mock.Anything, evt.ID).Return(nil).Once()

	worker := NewOutboxWorker(repo, publisher, testRegistry(), Options{Interval: time.Hour, BatchSize: 10}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// ACT
	err := worker.Run(ctx)

	// ASSERT
	require.NoError(t, err)
	repo.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestOutboxWorker_Purge(t *testing.T) {
	repo := new(mocks.MockOutboxRepository)
	repo.On("PurgeProcessed", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(3), nil).Once()

	worker := NewOutboxWorker(repo, new(mocks.MockPublisher), testRegistry(), Options{Retention: time.Hour}, zap.NewNop())
	worker.purge(context.Background())

	repo.AssertExpectations(t)
}

// Verificación estática de que los mocks cumplen las interfaces.
var _ sharedDomain.OutboxRepository = (*mocks.MockOutboxRepository)(nil)
var _ sharedBus.EventBus = (*mocks.MockPublisher)(nil)
