// Package heartbeat implements the heartbeat scheduler from spec §4.F: a
// single tick-driven loop that calls back into every object that opted in,
// at its own requested period, and expires timed effects. Grounded on
// internal/core/system's Phase-ordered Runner, reused here as the engine
// a heartbeat tick drives rather than replaced.
package heartbeat

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mudforge/driver/internal/core/ecs"
	"github.com/mudforge/driver/internal/core/event"
	coresystem "github.com/mudforge/driver/internal/core/system"
)

// Subscriber is one opted-in object: Fire is called every Period. Period
// may be reassigned (e.g. a regen tick that speeds up under an effect); the
// next due time is computed just before each Fire, so a change made inside
// Fire takes effect from the fire after the next one.
type Subscriber struct {
	EntityID ecs.EntityID
	Period   time.Duration
	Fire     func(now time.Time)

	nextDue time.Time
}

// Effect is a timed, per-entity expiry the scheduler clears automatically
// once its Until has passed.
type Effect struct {
	EntityID ecs.EntityID
	Name     string
	Until    time.Time
	OnExpire func()
}

// Scheduler drives one global tick: every registered subscriber due this
// tick fires in registration order (spec §8 invariant 9: heartbeat
// fairness — no subscriber is skipped while others starve it of CPU), then
// expired effects are cleared.
type Scheduler struct {
	mu          sync.Mutex
	subscribers []*Subscriber
	effects     []*Effect
	period      time.Duration
	bus         *event.Bus
	log         *zap.Logger

	runner *coresystem.Runner
	stop   chan struct{}
	done   chan struct{}
}

func New(period time.Duration, bus *event.Bus, log *zap.Logger) *Scheduler {
	return &Scheduler{
		period: period,
		bus:    bus,
		log:    log,
		runner: coresystem.NewRunner(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// RegisterSystem adds an ECS system to be ticked every heartbeat, ordered by
// its declared Phase.
func (s *Scheduler) RegisterSystem(sys coresystem.System) {
	s.runner.Register(sys)
}

// Subscribe opts an object into the heartbeat. The first Fire happens after
// one period has elapsed.
func (s *Scheduler) Subscribe(sub *Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.nextDue = time.Now().Add(sub.Period)
	s.subscribers = append(s.subscribers, sub)
}

// Unsubscribe removes a subscriber by entity id.
func (s *Scheduler) Unsubscribe(id ecs.EntityID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subscribers {
		if sub.EntityID == id {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			return
		}
	}
}

// AddEffect schedules a timed expiry.
func (s *Scheduler) AddEffect(e *Effect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.effects = append(s.effects, e)
}

// Run drives ticks at the scheduler's period until Stop is called. Intended
// to run in its own goroutine, started by the lifecycle controller.
func (s *Scheduler) Run() {
	defer close(s.done)
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			s.tick(now)
		case <-s.stop:
			return
		}
	}
}

// Stop signals Run to exit and blocks until it has.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) tick(now time.Time) {
	start := time.Now()

	s.mu.Lock()
	due := make([]*Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		if !now.Before(sub.nextDue) {
			due = append(due, sub)
			sub.nextDue = now.Add(sub.Period)
		}
	}
	s.mu.Unlock()

	for _, sub := range due {
		sub.Fire(now)
	}

	s.expireEffects(now)
	s.runner.Tick(s.period)

	elapsed := time.Since(start)
	if elapsed > s.period {
		if s.log != nil {
			s.log.Warn("heartbeat tick overran its period",
				zap.Duration("elapsed", elapsed),
				zap.Duration("period", s.period),
			)
		}
		if s.bus != nil {
			event.Emit(s.bus, event.HeartbeatMissed{
				TickDuration: elapsed.Nanoseconds(),
				TickPeriod:   s.period.Nanoseconds(),
			})
		}
	}
}

func (s *Scheduler) expireEffects(now time.Time) {
	s.mu.Lock()
	var expired []*Effect
	remaining := s.effects[:0]
	for _, e := range s.effects {
		if now.Before(e.Until) {
			remaining = append(remaining, e)
		} else {
			expired = append(expired, e)
		}
	}
	s.effects = remaining
	s.mu.Unlock()

	for _, e := range expired {
		if e.OnExpire != nil {
			e.OnExpire()
		}
	}
}
