package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	sagaDomain "github.com/davicafu/bookflow/internal/fulfillment/domain"
	sharedDomain "github.com/davicafu/bookflow/internal/shared/domain"
)

// InMemorySagaRepo simula el repositorio de sagas con inbox y outbox.
type InMemorySagaRepo struct {
	mu        sync.Mutex
	instances map[uuid.UUID]sagaDomain.Instance
	archive   map[uuid.UUID]sagaDomain.ArchiveRecord
	inbox     map[string]bool
	Outbox    []sharedDomain.OutboxEvent
	Commits   int
	// FailCommit, si no es nil, se devuelve en el próximo Commit.
	FailCommit error
}

var _ sagaDomain.Repository = (*InMemorySagaRepo)(nil)

func NewInMemorySagaRepo() *InMemorySagaRepo {
	return &InMemorySagaRepo{
		instances: make(map[uuid.UUID]sagaDomain.Instance),
		archive:   make(map[uuid.UUID]sagaDomain.ArchiveRecord),
		inbox:     make(map[string]bool),
	}
}

func (r *InMemorySagaRepo) Get(ctx context.Context, id uuid.UUID) (*sagaDomain.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, sagaDomain.ErrSagaNotFound
	}
	return &inst, nil
}

func (r *InMemorySagaRepo) GetArchived(ctx context.Context, id uuid.UUID) (*sagaDomain.ArchiveRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.archive[id]
	if !ok {
		return nil, sagaDomain.ErrSagaNotFound
	}
	return &rec, nil
}

func (r *InMemorySagaRepo) ListActive(ctx context.Context, after sagaDomain.ActiveCursor, limit int) ([]sagaDomain.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sagaDomain.Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		if after.After(inst) {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].CorrelationID.String() < out[j].CorrelationID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *InMemorySagaRepo) Seen(ctx context.Context, consumer, messageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inbox[consumer+"/"+messageID], nil
}

func (r *InMemorySagaRepo) Commit(ctx context.Context, c sagaDomain.Commit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.FailCommit; err != nil {
		r.FailCommit = nil
		return err
	}

	key := c.Consumer + "/" + c.MessageID
	if c.MessageID != "" && r.inbox[key] {
		return sagaDomain.ErrDuplicateMessage
	}

	id := c.Instance.CorrelationID
	cur, exists := r.instances[id]
	switch {
	case c.ExpectedVersion == 0 && exists:
		return fmt.Errorf("%w: %s already exists", sagaDomain.ErrSagaVersionConflict, id)
	case c.ExpectedVersion > 0 && (!exists || cur.Version != c.ExpectedVersion):
		return fmt.Errorf("%w: %s at version %d", sagaDomain.ErrSagaVersionConflict, id, c.ExpectedVersion)
	}

	if c.Instance.State.Terminal() {
		delete(r.instances, id)
		r.archive[id] = sagaDomain.ArchiveRecord{
			CorrelationID: id,
			FinalState:    c.Instance.State,
			StartedAt:     c.Instance.StartedAt,
			FinishedAt:    time.Now().UTC(),
		}
	} else {
		next := c.Instance
		next.Version = c.ExpectedVersion + 1
		r.instances[id] = next
	}

	if c.MessageID != "" {
		r.inbox[key] = true
	}
	r.Outbox = append(r.Outbox, c.Outbox...)
	r.Commits++
	return nil
}

// OutboxTypes devuelve los tipos de evento del outbox en orden.
func (r *InMemorySagaRepo) OutboxTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Outbox))
	for _, e := range r.Outbox {
		out = append(out, e.EventType)
	}
	return out
}

// Put fija una instancia activa tal cual, para preparar escenarios.
func (r *InMemorySagaRepo) Put(inst sagaDomain.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst.Version == 0 {
		inst.Version = 1
	}
	r.instances[inst.CorrelationID] = inst
}
