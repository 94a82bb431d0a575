package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker es un Locker de un solo proceso para tests y modo local.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
}

type memoryLease struct {
	token   string
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]memoryLease), now: time.Now}
}

func (l *MemoryLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.leases[key]; ok && now.Before(cur.expires) {
		return nil, ErrNotAcquired
	}
	lease := memoryLease{token: uuid.NewString(), expires: now.Add(ttl)}
	l.leases[key] = lease
	return &memoryHandle{locker: l, key: key, token: lease.token, expires: lease.expires}, nil
}

type memoryHandle struct {
	locker  *MemoryLocker
	key     string
	token   string
	expires time.Time
}

func (h *memoryHandle) Key() string          { return h.key }
func (h *memoryHandle) Token() string        { return h.token }
func (h *memoryHandle) ExpiresAt() time.Time { return h.expires }

func (h *memoryHandle) Release(context.Context) error {
	l := h.locker
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.leases[h.key]
	if !ok || cur.token != h.token || !l.now().Before(cur.expires) {
		return ErrLockLost
	}
	delete(l.leases, h.key)
	return nil
}

func (h *memoryHandle) Extend(_ context.Context, ttl time.Duration) error {
	l := h.locker
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.leases[h.key]
	if !ok || cur.token != h.token || !l.now().Before(cur.expires) {
		return ErrLockLost
	}
	cur.expires = l.now().Add(ttl)
	l.leases[h.key] = cur
	h.expires = cur.expires
	return nil
}

var _ Locker = (*MemoryLocker)(nil)
