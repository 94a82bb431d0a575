package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	sharedDomain "github.com/davicafu/bookflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/bookflow/internal/shared/domain/events"
)

// MockOutboxRepository simula la tabla outbox para el relayer
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) FetchPendingOutbox(ctx context.Context, limit int) ([]sharedDomain.OutboxEvent, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]sharedDomain.OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkOutboxProcessed(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) PurgeProcessed(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

// MockPublisher simula un publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, event sharedEvents.IntegrationEvent) error {
	args := m.Called(ctx, topic, event)
	return args.Error(0)
}
