package workers

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
)

// ErrExecutorClosed se devuelve al enviar trabajo a un executor cerrado.
var ErrExecutorClosed = errors.New("keyed executor closed")

type task struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// KeyedExecutor ejecuta en serie todo el trabajo de una misma clave y en
// paralelo el de claves distintas. Cada clave va siempre al mismo shard.
type KeyedExecutor struct {
	shards []chan task
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewKeyedExecutor(shards, queueSize int) *KeyedExecutor {
	if shards <= 0 {
		shards = 1
	}
	e := &KeyedExecutor{shards: make([]chan task, shards)}
	for i := range e.shards {
		e.shards[i] = make(chan task, queueSize)
		e.wg.Add(1)
		go e.loop(e.shards[i])
	}
	return e
}

func (e *KeyedExecutor) loop(queue chan task) {
	defer e.wg.Done()
	for t := range queue {
		if err := t.ctx.Err(); err != nil {
			t.done <- err
			continue
		}
		t.done <- run(t.ctx, t.fn)
	}
}

func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("keyed task panicked: %v", p)
		}
	}()
	return fn(ctx)
}

// Submit encola fn en el shard de key y espera su resultado.
func (e *KeyedExecutor) Submit(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	t := task{ctx: ctx, fn: fn, done: make(chan error, 1)}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return ErrExecutorClosed
	}
	select {
	case e.shards[e.shardOf(key)] <- t:
		e.mu.RUnlock()
	case <-ctx.Done():
		e.mu.RUnlock()
		return ctx.Err()
	}

	return <-t.done
}

func (e *KeyedExecutor) shardOf(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(e.shards)))
}

// Close deja de aceptar trabajo y espera a que terminen las tareas encoladas.
func (e *KeyedExecutor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, q := range e.shards {
		close(q)
	}
	e.mu.Unlock()
	e.wg.Wait()
}
