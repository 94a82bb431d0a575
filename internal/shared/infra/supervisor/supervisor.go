package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/bookflow/internal/shared/infra/utils"
)

var (
	ErrAlreadyStarted = errors.New("supervisor already started")
	ErrStopTimeout    = errors.New("supervisor stop timed out")
)

// RunFunc es el cuerpo de una tarea supervisada. Debe bloquear hasta que se
// cancele ctx. Devolver nil con ctx vivo da la tarea por terminada; un error
// o un pánico provocan su reinicio tras el backoff.
type RunFunc func(ctx context.Context) error

type task struct {
	name string
	run  RunFunc
}

// Supervisor arranca, reinicia y detiene las tareas de un servicio.
type Supervisor struct {
	log     *zap.Logger
	backoff utils.Backoff

	mu      sync.Mutex
	tasks   []task
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func New(backoff utils.Backoff, log *zap.Logger) *Supervisor {
	return &Supervisor{log: log, backoff: backoff}
}

// Add registra una tarea. Si el supervisor ya arrancó, la lanza en el acto.
func (s *Supervisor) Add(name string, run RunFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := task{name: name, run: run}
	s.tasks = append(s.tasks, t)
	if s.started {
		s.launch(s.runCtx, t)
	}
}

// Start lanza todas las tareas registradas bajo un contexto hijo de ctx.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.started = true
	for _, t := range s.tasks {
		s.launch(s.runCtx, t)
	}
	return nil
}

// Stop cancela las tareas y espera a que terminen, como mucho timeout.
func (s *Supervisor) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("🛑 Todas las tareas detenidas")
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// launch requiere s.mu.
func (s *Supervisor) launch(ctx context.Context, t task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.supervise(ctx, t)
	}()
}

func (s *Supervisor) supervise(ctx context.Context, t task) {
	attempt := 0
	for {
		started := time.Now()
		err := runSafely(ctx, t.run)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			s.log.Info("Tarea finalizada", zap.String("task", t.name))
			return
		}

		// una ejecución larga reinicia la escalada del backoff
		if s.backoff.Max > 0 && time.Since(started) > s.backoff.Max {
			attempt = 0
		}
		delay := s.backoff.Delay(attempt)
		attempt++
		s.log.Error("💥 Tarea caída, reiniciando",
			zap.String("task", t.name),
			zap.Int("restart", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if utils.Sleep(ctx, delay) != nil {
			return
		}
	}
}

func runSafely(ctx context.Context, run RunFunc) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return run(ctx)
}

// Periodic convierte fn en una tarea que se ejecuta cada interval.
func Periodic(interval time.Duration, fn func(ctx context.Context) error) RunFunc {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := fn(ctx); err != nil {
					return err
				}
			}
		}
	}
}
