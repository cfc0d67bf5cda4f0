// Package daemon implements the daemon registry from spec §4.J: long-lived,
// world-scoped background services (a mail delivery daemon, a weather
// daemon) that initialize in dependency order, detecting cycles before any
// of them run, and that can serialize/restore their state through the
// persistence adapter's namespaced blob store.
package daemon

import (
	"context"
	"fmt"

	"github.com/mudforge/driver/internal/errs"
	"github.com/mudforge/driver/internal/store"
)

// Daemon is one registrable background service.
type Daemon interface {
	Name() string
	// DependsOn lists daemon names that must be initialized first.
	DependsOn() []string
	Init(ctx context.Context) error
	Shutdown(ctx context.Context) error
	// Serialize returns this daemon's persisted state, or nil if it has none.
	Serialize() ([]byte, error)
	// Restore loads previously serialized state. Called before Init when a
	// prior snapshot exists.
	Restore(data []byte) error
}

// Registry owns every registered daemon and the order they must start in.
type Registry struct {
	daemons map[string]Daemon
	order   []string // resolved init order, set by Resolve
	store   store.Store
}

func New(s store.Store) *Registry {
	return &Registry{daemons: make(map[string]Daemon), store: s}
}

func (r *Registry) Register(d Daemon) {
	r.daemons[d.Name()] = d
}

// ErrCycle is returned by Resolve when the dependency graph is not a DAG.
type ErrCycle struct {
	Chain []string
}

func (e ErrCycle) Error() string {
	return fmt.Sprintf("daemon dependency cycle: %v", e.Chain)
}

// Resolve topologically sorts registered daemons by DependsOn, detecting
// cycles and unknown dependencies before any daemon's Init runs.
func (r *Registry) Resolve() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(r.daemons))
	var order []string
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return ErrCycle{Chain: append(append([]string{}, stack...), name)}
		}
		d, ok := r.daemons[name]
		if !ok {
			return errs.New(errs.KindNotFound, "unknown daemon dependency: "+name, nil)
		}
		color[name] = gray
		stack = append(stack, name)
		for _, dep := range d.DependsOn() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		order = append(order, name)
		return nil
	}

	names := make([]string, 0, len(r.daemons))
	for name := range r.daemons {
		names = append(names, name)
	}
	for _, name := range names {
		if err := visit(name); err != nil {
			return err
		}
	}

	r.order = order
	return nil
}

// InitAll restores each daemon's last snapshot (if any), then calls Init, in
// resolved dependency order. If Resolve has not run yet, InitAll runs it
// first and returns its error.
func (r *Registry) InitAll(ctx context.Context) error {
	if r.order == nil {
		if err := r.Resolve(); err != nil {
			return err
		}
	}
	for _, name := range r.order {
		d := r.daemons[name]
		if r.store != nil {
			data, ok, err := r.store.LoadData(ctx, "daemons", name)
			if err != nil {
				return errs.New(errs.KindStorageUnavailable, "load daemon snapshot for "+name, err)
			}
			if ok {
				if err := d.Restore(data); err != nil {
					return errs.New(errs.KindRuntime, "restore daemon "+name, err)
				}
			}
		}
		if err := d.Init(ctx); err != nil {
			return errs.New(errs.KindRuntime, "init daemon "+name, err)
		}
	}
	return nil
}

// SnapshotAll serializes every daemon's state to the namespaced blob store,
// in init order, so a later InitAll can restore it.
func (r *Registry) SnapshotAll(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	for _, name := range r.order {
		data, err := r.daemons[name].Serialize()
		if err != nil {
			return errs.New(errs.KindRuntime, "serialize daemon "+name, err)
		}
		if data == nil {
			continue
		}
		if err := r.store.SaveData(ctx, "daemons", name, data); err != nil {
			return err
		}
	}
	return nil
}

// ShutdownAll shuts down daemons in reverse init order, collecting every
// error rather than stopping at the first one, so one misbehaving daemon
// doesn't prevent the others from getting a shutdown call.
func (r *Registry) ShutdownAll(ctx context.Context) []error {
	var failures []error
	for i := len(r.order) - 1; i >= 0; i-- {
		d := r.daemons[r.order[i]]
		if err := d.Shutdown(ctx); err != nil {
			failures = append(failures, fmt.Errorf("shutdown daemon %s: %w", d.Name(), err))
		}
	}
	return failures
}
