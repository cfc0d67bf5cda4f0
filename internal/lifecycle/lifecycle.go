// Package lifecycle implements the lifecycle controller from spec §4.L: the
// boot sequence that brings up every subsystem in order, the autosave tick
// that periodically flushes world state to the persistence adapter, and a
// graceful shutdown that gives every subsystem a bounded deadline to finish
// before the process exits. Stoppers run one at a time in reverse
// registration order inside the shared deadline; their errors aggregate via
// go.uber.org/multierr, so every stopper's failure is reported, not just the
// first.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Stage is one named step of the boot sequence.
type Stage struct {
	Name string
	Run  func(ctx context.Context) error
}

// Stopper is one subsystem with a bounded shutdown, run during Controller
// shutdown in reverse boot order.
type Stopper struct {
	Name string
	Stop func(ctx context.Context) error
}

// AutosaveFunc flushes current state to the persistence adapter.
type AutosaveFunc func(ctx context.Context) error

// Controller sequences boot, runs the autosave ticker, and drives shutdown.
type Controller struct {
	log              *zap.Logger
	stoppers         []Stopper
	autosave         AutosaveFunc
	autosaveInterval time.Duration
	shutdownDeadline time.Duration

	autosaveStop chan struct{}
	autosaveDone chan struct{}
}

func New(log *zap.Logger, autosaveInterval, shutdownDeadline time.Duration) *Controller {
	return &Controller{
		log:              log,
		autosaveInterval: autosaveInterval,
		shutdownDeadline: shutdownDeadline,
	}
}

// Boot runs each stage in order, stopping at the first failure. Stages
// already registered as Stoppers by the time a later stage fails are left
// registered, so callers typically call RegisterStopper right after a
// stage's Run succeeds brings a subsystem up.
func (c *Controller) Boot(ctx context.Context, stages []Stage) error {
	for _, s := range stages {
		if c.log != nil {
			c.log.Info("boot stage starting", zap.String("stage", s.Name))
		}
		if err := s.Run(ctx); err != nil {
			if c.log != nil {
				c.log.Error("boot stage failed", zap.String("stage", s.Name), zap.Error(err))
			}
			return err
		}
	}
	return nil
}

// RegisterStopper adds a subsystem to be stopped (in reverse registration
// order) during Shutdown.
func (c *Controller) RegisterStopper(s Stopper) {
	c.stoppers = append(c.stoppers, s)
}

// StartAutosave begins the periodic autosave ticker, calling save every
// autosaveInterval until StopAutosave is called. Run it before Shutdown is
// invoked.
func (c *Controller) StartAutosave(save AutosaveFunc) {
	c.autosave = save
	c.autosaveStop = make(chan struct{})
	c.autosaveDone = make(chan struct{})

	go func() {
		defer close(c.autosaveDone)
		ticker := time.NewTicker(c.autosaveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := save(context.Background()); err != nil && c.log != nil {
					c.log.Error("autosave failed", zap.Error(err))
				}
			case <-c.autosaveStop:
				return
			}
		}
	}()
}

func (c *Controller) stopAutosave() {
	if c.autosaveStop == nil {
		return
	}
	close(c.autosaveStop)
	<-c.autosaveDone
}

// Shutdown stops autosave, runs a final save, then stops every registered
// subsystem one at a time in reverse registration order, bounding the whole
// sequence by shutdownDeadline. Every stopper runs even if an earlier one
// errors or the deadline is already exceeded for it; each error is recorded
// into a shared multierr accumulator.
func (c *Controller) Shutdown(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, c.shutdownDeadline)
	defer cancel()

	c.stopAutosave()

	var mu sync.Mutex
	var err error
	record := func(stopErr error) {
		mu.Lock()
		err = multierr.Append(err, stopErr)
		mu.Unlock()
	}

	if c.autosave != nil {
		if saveErr := c.autosave(ctx); saveErr != nil {
			record(saveErr)
		}
	}

	for i := len(c.stoppers) - 1; i >= 0; i-- {
		s := c.stoppers[i]
		if c.log != nil {
			c.log.Info("stopping subsystem", zap.String("subsystem", s.Name))
		}
		if stopErr := s.Stop(ctx); stopErr != nil {
			record(stopErr)
			if c.log != nil {
				c.log.Error("subsystem stop failed", zap.String("subsystem", s.Name), zap.Error(stopErr))
			}
		}
	}
	return err
}
