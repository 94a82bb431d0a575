package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/bookflow/internal/order/domain"
)

// DaemonOptions agrupa los parámetros del bucle de proyección.
type DaemonOptions struct {
	Interval  time.Duration
	BatchSize int
}

// ProjectionDaemon sigue el log global y alimenta cada proyección desde su
// checkpoint. Un error en Project detiene solo esa proyección hasta Resume.
type ProjectionDaemon struct {
	store       domain.EventStore
	faults      domain.ProjectionFaults
	projections map[string]domain.Projection
	order       []string
	opts        DaemonOptions
	log         *zap.Logger
}

func NewProjectionDaemon(store domain.EventStore, faults domain.ProjectionFaults, opts DaemonOptions, log *zap.Logger, projections ...domain.Projection) *ProjectionDaemon {
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	d := &ProjectionDaemon{
		store:       store,
		faults:      faults,
		projections: make(map[string]domain.Projection, len(projections)),
		opts:        opts,
		log:         log,
	}
	for _, p := range projections {
		d.projections[p.Name()] = p
		d.order = append(d.order, p.Name())
	}
	return d
}

// Projections devuelve los nombres registrados, en orden de alta.
func (d *ProjectionDaemon) Projections() []string {
	return append([]string(nil), d.order...)
}

func (d *ProjectionDaemon) projection(name string) (domain.Projection, error) {
	p, ok := d.projections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProjection, name)
	}
	return p, nil
}

// CatchUp procesa un lote de la proyección y devuelve cuántos eventos aplicó.
// Devuelve ErrProjectionHalted si la proyección tiene una marca de dead-letter.
func (d *ProjectionDaemon) CatchUp(ctx context.Context, name string) (int, error) {
	p, err := d.projection(name)
	if err != nil {
		return 0, err
	}

	fault, err := d.faults.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	if fault != nil {
		return 0, domain.ErrProjectionHalted
	}

	pos, err := p.Checkpoint(ctx)
	if err != nil {
		return 0, err
	}
	events, err := d.store.ReadAll(ctx, pos, d.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, e := range events {
		if err := p.Project(ctx, e); err != nil {
			if ctx.Err() != nil {
				return applied, ctx.Err()
			}
			d.log.Error("🚨 Proyección detenida: el evento no se pudo aplicar",
				zap.String("projection", name),
				zap.Int64("global_seq", e.GlobalSeq),
				zap.String("stream_id", e.StreamID),
				zap.String("type", e.Type),
				zap.Error(err),
			)
			if markErr := d.faults.Mark(ctx, domain.ProjectionFault{Projection: name, GlobalSeq: e.GlobalSeq, Reason: err.Error()}); markErr != nil {
				return applied, errors.Join(err, markErr)
			}
			return applied, domain.ErrProjectionHalted
		}
		applied++
	}
	return applied, nil
}

// RunProjection sigue el log para una proyección hasta que se cancela ctx.
func (d *ProjectionDaemon) RunProjection(ctx context.Context, name string) error {
	if _, err := d.projection(name); err != nil {
		return err
	}
	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	d.log.Info("🚀 Proyección iniciada", zap.String("projection", name))
	halted := false
	for {
		n, err := d.CatchUp(ctx, name)
		switch {
		case errors.Is(err, domain.ErrProjectionHalted):
			if !halted {
				d.log.Warn("⏸️ Proyección en espera de resume", zap.String("projection", name))
			}
			halted = true
		case err != nil && ctx.Err() == nil:
			halted = false
			d.log.Warn("⚠️ Error al leer el log de eventos", zap.String("projection", name), zap.Error(err))
		default:
			halted = false
		}
		// lote completo: seguimos sin esperar al ticker
		if err == nil && n == d.opts.BatchSize {
			continue
		}

		select {
		case <-ctx.Done():
			d.log.Info("🛑 Proyección detenida", zap.String("projection", name))
			return nil
		case <-ticker.C:
		}
	}
}

// Run ejecuta todas las proyecciones hasta que se cancela ctx.
func (d *ProjectionDaemon) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, name := range d.order {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_ = d.RunProjection(ctx, name)
		}(name)
	}
	wg.Wait()
	return nil
}

// Resume borra la marca de dead-letter; la proyección reintenta el mismo evento.
func (d *ProjectionDaemon) Resume(ctx context.Context, name string) error {
	if _, err := d.projection(name); err != nil {
		return err
	}
	if err := d.faults.Clear(ctx, name); err != nil {
		return err
	}
	d.log.Info("▶️ Proyección reanudada", zap.String("projection", name))
	return nil
}

// Rebuild deja la proyección a cero para que se reconstruya desde el principio.
func (d *ProjectionDaemon) Rebuild(ctx context.Context, name string) error {
	p, err := d.projection(name)
	if err != nil {
		return err
	}
	if err := p.Reset(ctx); err != nil {
		return err
	}
	if err := d.faults.Clear(ctx, name); err != nil {
		return err
	}
	d.log.Info("🔄 Proyección reiniciada para reconstrucción", zap.String("projection", name))
	return nil
}

// Status describe el progreso de una proyección.
type Status struct {
	Name       string
	Checkpoint int64
	Fault      *domain.ProjectionFault
}

func (d *ProjectionDaemon) Status(ctx context.Context) ([]Status, error) {
	out := make([]Status, 0, len(d.order))
	for _, name := range d.order {
		pos, err := d.projections[name].Checkpoint(ctx)
		if err != nil {
			return nil, err
		}
		fault, err := d.faults.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, Status{Name: name, Checkpoint: pos, Fault: fault})
	}
	return out, nil
}
